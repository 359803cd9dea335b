package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/callconnect/backend/internal/agent"
	"github.com/callconnect/backend/internal/broadcast"
	"github.com/callconnect/backend/internal/calendar"
	"github.com/callconnect/backend/internal/callsession"
	"github.com/callconnect/backend/internal/config"
	"github.com/callconnect/backend/internal/httpapi"
	"github.com/callconnect/backend/internal/observability"
	"github.com/callconnect/backend/internal/stream"
	"github.com/callconnect/backend/internal/transcript"
	"github.com/callconnect/backend/internal/twiliocall"
	"github.com/callconnect/backend/internal/voice"
)

func main() {
	// Local development reads .env; in production the variables come
	// from the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := transcript.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("transcript store: %v", err)
	}
	defer store.Close()

	var transcriber voice.Transcriber
	var synthesizer voice.Synthesizer
	if cfg.ElevenLabsAPIKey != "" {
		provider := voice.NewElevenLabsProvider(voice.ElevenLabsConfig{
			APIKey:     cfg.ElevenLabsAPIKey,
			BaseURL:    cfg.ElevenLabsBaseURL,
			VoiceID:    cfg.ElevenLabsVoiceID,
			STTModelID: cfg.ElevenLabsSTTModel,
			TTSModelID: cfg.ElevenLabsTTSModel,
		})
		transcriber, synthesizer = provider, provider
	} else {
		log.Printf("ELEVENLABS_API_KEY not set, using mock voice provider")
		mock := voice.NewMockProvider()
		transcriber, synthesizer = mock, mock
	}

	var responder agent.Responder
	if cfg.OpenAIAPIKey != "" {
		responder = agent.NewOpenAIResponder(agent.OpenAIConfig{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAIModel,
		})
	} else {
		log.Printf("OPENAI_API_KEY not set, using mock responder")
		responder = agent.NewMockResponder()
	}

	var sink broadcast.Sink
	if cfg.SupabaseURL != "" && cfg.SupabaseServiceKey != "" {
		sink = broadcast.NewSupabaseSink(broadcast.SupabaseConfig{
			URL:        cfg.SupabaseURL,
			ServiceKey: cfg.SupabaseServiceKey,
		})
	} else {
		log.Printf("Supabase not configured, transcript events go to the log")
		sink = broadcast.NewLogSink()
	}

	var callService httpapi.CallService
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" && cfg.PublicURL != "" {
		callService = twiliocall.NewService(twiliocall.Config{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			PublicURL:  cfg.PublicURL,
		})
	} else {
		log.Printf("Twilio not configured, call endpoints disabled")
	}

	var calService httpapi.CalendarService
	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" && cfg.GoogleRefreshToken != "" {
		svc, err := calendar.NewService(ctx, calendar.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RefreshToken: cfg.GoogleRefreshToken,
			CalendarID:   cfg.CalendarID,
		})
		if err != nil {
			log.Fatalf("calendar: %v", err)
		}
		calService = svc
	} else {
		log.Printf("Google Calendar not configured, calendar endpoints disabled")
	}

	calls := callsession.NewManager(cfg.CallInactivityTimeout)
	calls.SetExpireHook(func(c *callsession.Call) {
		log.Printf("call %s expired after inactivity", c.CallSID)
	})
	calls.StartJanitor(ctx, time.Minute)

	controller := stream.NewController(calls, transcriber, synthesizer, responder, sink, store, metrics, stream.Config{
		AccumulateBytes:  cfg.AccumulateBytes,
		InitialTurnDelay: cfg.InitialTurnDelay,
		TurnTimeout:      cfg.TurnTimeout,
	})

	api := httpapi.New(cfg, controller, callService, calService, store, metrics)

	srv := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", cfg.BindAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Printf("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
