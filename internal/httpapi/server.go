package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/callconnect/backend/internal/calendar"
	"github.com/callconnect/backend/internal/callsession"
	"github.com/callconnect/backend/internal/config"
	"github.com/callconnect/backend/internal/observability"
	"github.com/callconnect/backend/internal/transcript"
	"github.com/callconnect/backend/internal/twiliocall"
)

// StreamController runs one media-stream connection to completion.
type StreamController interface {
	RunConnection(ctx context.Context, inbound <-chan []byte, outbound chan<- []byte)
}

// CallService places and verifies outbound calls.
type CallService interface {
	StartVerification(phoneNumber string) (twiliocall.VerificationResult, error)
	CheckVerification(phoneNumber string) (bool, string, error)
	ListVerified() ([]twiliocall.CallerID, error)
	StartStreamCall(toNumber string, p callsession.Params) (twiliocall.CallResult, error)
	StartAnnouncementCall(toNumber, fromNumber string, p callsession.Params) (twiliocall.CallResult, error)
}

// CalendarService answers availability questions and books slots.
type CalendarService interface {
	CheckAvailability(ctx context.Context, date, timeMin, timeMax string) (calendar.Availability, error)
	BookSlot(ctx context.Context, startTime, endTime, title, description string) (calendar.Booking, error)
}

type Server struct {
	cfg        config.Config
	controller StreamController
	calls      CallService
	cal        CalendarService
	store      transcript.Store
	metrics    *observability.Metrics
	upgrader   websocket.Upgrader
}

func New(
	cfg config.Config,
	controller StreamController,
	calls CallService,
	cal CalendarService,
	store transcript.Store,
	metrics *observability.Metrics,
) *Server {
	return &Server{
		cfg:        cfg,
		controller: controller,
		calls:      calls,
		cal:        cal,
		store:      store,
		metrics:    metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Twilio's media-stream client sends no Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	// Twilio calls these; they carry no user token.
	r.Post("/api/twilio/call-handler", s.handleCallWebhook)
	r.Get("/api/twilio/media-stream", s.handleMediaStream)

	r.Group(func(r chi.Router) {
		r.Use(requireAuth(s.cfg.JWTSecret))

		r.Post("/api/twilio/verify-phone", s.handleVerifyPhone)
		r.Post("/api/twilio/test-call", s.handleTestCall)
		r.Post("/api/twilio/make-call", s.handleMakeCall)

		r.Post("/api/calendar/check-availability", s.handleCheckAvailability)
		r.Post("/api/calendar/book-slot", s.handleBookSlot)

		r.Get("/api/calls/{callSid}/transcript", s.handleGetTranscript)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":              "ready",
		"twilio_configured":   s.calls != nil,
		"calendar_configured": s.cal != nil,
	})
}

// handleMediaStream upgrades to the Twilio duplex audio websocket and
// hands the connection to the stream controller.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan []byte, 256)
	outbound := make(chan []byte, 256)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		s.controller.RunConnection(ctx, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		write := func(msg []byte) bool {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				cancel()
				return false
			}
			return true
		}
		for {
			select {
			case <-runDone:
				// Flush anything buffered before the controller exited.
				for {
					select {
					case msg := <-outbound:
						if !write(msg) {
							return
						}
					default:
						return
					}
				}
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				if !write(msg) {
					return
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		select {
		case <-ctx.Done():
		case inbound <- data:
		}
		if ctx.Err() != nil {
			break
		}
	}

	close(inbound)
	<-runDone
	cancel()
	<-writerDone
}

type verifyPhoneRequest struct {
	Action      string `json:"action"`
	PhoneNumber string `json:"phoneNumber"`
}

func (s *Server) handleVerifyPhone(w http.ResponseWriter, r *http.Request) {
	if s.calls == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "Twilio is not configured")
		return
	}
	var req verifyPhoneRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	switch req.Action {
	case "start_verification":
		res, err := s.calls.StartVerification(req.PhoneNumber)
		if err != nil {
			respondError(w, http.StatusBadGateway, "twilio_error", err.Error())
			return
		}
		if res.AlreadyVerified {
			respondJSON(w, http.StatusOK, map[string]any{
				"success":         true,
				"alreadyVerified": true,
				"message":         "This number is already verified as a caller ID",
			})
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"success":        true,
			"validationCode": res.ValidationCode,
			"callSid":        res.CallSID,
			"message":        "Twilio is calling your phone. Enter the code shown when prompted.",
		})

	case "check_verification":
		verified, sid, err := s.calls.CheckVerification(req.PhoneNumber)
		if err != nil {
			respondError(w, http.StatusBadGateway, "twilio_error", err.Error())
			return
		}
		resp := map[string]any{"success": true, "verified": verified}
		if verified {
			resp["callerIdSid"] = sid
		}
		respondJSON(w, http.StatusOK, resp)

	case "list_verified":
		ids, err := s.calls.ListVerified()
		if err != nil {
			respondError(w, http.StatusBadGateway, "twilio_error", err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"success": true, "callerIds": ids})

	default:
		respondError(w, http.StatusBadRequest, "invalid_action", "invalid action")
	}
}

type callRequest struct {
	ToNumber       string `json:"toNumber"`
	FromNumber     string `json:"fromNumber"`
	ProviderName   string `json:"providerName"`
	Service        string `json:"service"`
	UserName       string `json:"userName"`
	Purpose        string `json:"purpose"`
	Details        string `json:"details"`
	TimePreference string `json:"timePreference"`
}

func (r callRequest) params() callsession.Params {
	return callsession.Params{
		ProviderName:   r.ProviderName,
		Service:        r.Service,
		UserName:       r.UserName,
		Purpose:        r.Purpose,
		Details:        r.Details,
		TimePreference: r.TimePreference,
	}
}

// handleTestCall places a live conversational call bridged to the
// media-stream pipeline, using one of the account's own numbers.
func (s *Server) handleTestCall(w http.ResponseWriter, r *http.Request) {
	if s.calls == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "Twilio is not configured")
		return
	}
	var req callRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.ToNumber) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "toNumber is required")
		return
	}

	res, err := s.calls.StartStreamCall(req.ToNumber, req.params())
	if err != nil {
		respondError(w, http.StatusBadGateway, "twilio_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"callSid": res.CallSID,
		"status":  res.Status,
		"from":    res.From,
		"to":      req.ToNumber,
		"message": "Test call initiated! You should receive a call at " + req.ToNumber,
	})
}

// handleMakeCall places the scripted announcement call from the
// user's verified number.
func (s *Server) handleMakeCall(w http.ResponseWriter, r *http.Request) {
	if s.calls == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "Twilio is not configured")
		return
	}
	var req callRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.ToNumber) == "" || strings.TrimSpace(req.FromNumber) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "toNumber and fromNumber are required")
		return
	}

	if c, ok := claimsFromContext(r.Context()); ok && c.Subject != "" {
		log.Printf("make-call: user %s calling %s", c.Subject, req.ToNumber)
	}

	res, err := s.calls.StartAnnouncementCall(req.ToNumber, req.FromNumber, req.params())
	if err != nil {
		if errors.Is(err, twiliocall.ErrCallerNotVerified) {
			respondError(w, http.StatusBadRequest, "caller_not_verified", "Caller ID not verified. Verify your phone number first.")
			return
		}
		respondError(w, http.StatusBadGateway, "twilio_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"callSid": res.CallSID,
		"status":  res.Status,
		"message": "Call initiated to " + req.ProviderName,
	})
}

// handleCallWebhook receives Twilio status callbacks and recorded-call
// transcriptions, and answers with an empty TwiML document.
func (s *Server) handleCallWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_form", err.Error())
		return
	}
	callSID := r.FormValue("CallSid")
	if status := r.FormValue("CallStatus"); status != "" {
		log.Printf("webhook: call %s status %s", callSID, status)
	}
	if text := r.FormValue("TranscriptionText"); text != "" {
		log.Printf("webhook: call %s transcription %q", callSID, text)
		if s.store != nil && callSID != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.store.SaveUtterance(ctx, transcript.Utterance{
				CallSID: callSID,
				Role:    string(callsession.RoleUser),
				Text:    text,
			}); err != nil {
				log.Printf("webhook: save transcription: %v", err)
			}
		}
	}

	doc, err := twiliocall.EmptyTwiML()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "twiml_error", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write([]byte(doc))
}

type availabilityRequest struct {
	Date    string `json:"date"`
	TimeMin string `json:"time_min"`
	TimeMax string `json:"time_max"`
}

func (s *Server) handleCheckAvailability(w http.ResponseWriter, r *http.Request) {
	if s.cal == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "Google Calendar is not configured")
		return
	}
	var req availabilityRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	got, err := s.cal.CheckAvailability(r.Context(), req.Date, req.TimeMin, req.TimeMax)
	if err != nil {
		respondError(w, http.StatusBadGateway, "calendar_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"date":       got.Date,
		"busy_slots": got.BusySlots,
		"message":    got.Message,
	})
}

type bookingRequest struct {
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (s *Server) handleBookSlot(w http.ResponseWriter, r *http.Request) {
	if s.cal == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "Google Calendar is not configured")
		return
	}
	var req bookingRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.StartTime) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "start_time is required")
		return
	}

	booked, err := s.cal.BookSlot(r.Context(), req.StartTime, req.EndTime, req.Title, req.Description)
	if err != nil {
		if errors.Is(err, calendar.ErrSlotConflict) {
			respondJSON(w, http.StatusOK, map[string]any{
				"success": false,
				"error":   "Time slot conflicts with an existing calendar event.",
				"message": err.Error(),
			})
			return
		}
		respondError(w, http.StatusBadGateway, "calendar_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"event_id": booked.EventID,
		"start":    booked.Start,
		"end":      booked.End,
		"message":  booked.Message,
	})
}

func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	callSID := chi.URLParam(r, "callSid")
	if strings.TrimSpace(callSID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing call sid")
		return
	}

	items, err := s.store.CallTranscript(r.Context(), callSID, 0)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if items == nil {
		items = []transcript.Utterance{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"callSid":    callSID,
		"utterances": items,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
