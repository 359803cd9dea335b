package twiliocall

import (
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/callconnect/backend/internal/callsession"
)

// Twilio rejects re-verifying a number that is already an approved
// caller ID with this error code.
const codeAlreadyVerified = 21450

type Config struct {
	AccountSID string
	AuthToken  string
	// PublicURL is this backend's externally reachable base URL,
	// used for the stream websocket and status callbacks.
	PublicURL string
}

// restAPI is the slice of the Twilio REST surface the service uses.
// *openapi.ApiService satisfies it.
type restAPI interface {
	CreateValidationRequest(params *openapi.CreateValidationRequestParams) (*openapi.ApiV2010ValidationRequest, error)
	ListOutgoingCallerId(params *openapi.ListOutgoingCallerIdParams) ([]openapi.ApiV2010OutgoingCallerId, error)
	ListIncomingPhoneNumber(params *openapi.ListIncomingPhoneNumberParams) ([]openapi.ApiV2010IncomingPhoneNumber, error)
	CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error)
}

// Service wraps outbound calling and caller-ID verification.
type Service struct {
	api       restAPI
	publicURL string
}

func NewService(cfg Config) *Service {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Service{
		api:       client.Api,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}
}

// MediaStreamURL derives the websocket endpoint Twilio should stream
// call audio to.
func (s *Service) MediaStreamURL() string {
	u := s.publicURL
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/api/twilio/media-stream"
}

func (s *Service) callbackURL() string {
	return s.publicURL + "/api/twilio/call-handler"
}

type VerificationResult struct {
	AlreadyVerified bool   `json:"alreadyVerified,omitempty"`
	ValidationCode  string `json:"validationCode,omitempty"`
	CallSID         string `json:"callSid,omitempty"`
}

// StartVerification asks Twilio to call the number and read out a
// validation code. A number that is already a verified caller ID is
// reported as such rather than as an error.
func (s *Service) StartVerification(phoneNumber string) (VerificationResult, error) {
	params := &openapi.CreateValidationRequestParams{}
	params.SetPhoneNumber(phoneNumber)
	params.SetFriendlyName("User Verified: " + phoneNumber)

	out, err := s.api.CreateValidationRequest(params)
	if err != nil {
		var restErr *twclient.TwilioRestError
		if errors.As(err, &restErr) && restErr.Code == codeAlreadyVerified {
			return VerificationResult{AlreadyVerified: true}, nil
		}
		return VerificationResult{}, fmt.Errorf("start verification: %w", err)
	}

	res := VerificationResult{}
	if out.ValidationCode != nil {
		res.ValidationCode = *out.ValidationCode
	}
	if out.CallSid != nil {
		res.CallSID = *out.CallSid
	}
	return res, nil
}

// CheckVerification reports whether the number is an approved
// outgoing caller ID.
func (s *Service) CheckVerification(phoneNumber string) (bool, string, error) {
	params := &openapi.ListOutgoingCallerIdParams{}
	params.SetPhoneNumber(phoneNumber)

	ids, err := s.api.ListOutgoingCallerId(params)
	if err != nil {
		return false, "", fmt.Errorf("check verification: %w", err)
	}
	if len(ids) == 0 {
		return false, "", nil
	}
	sid := ""
	if ids[0].Sid != nil {
		sid = *ids[0].Sid
	}
	return true, sid, nil
}

type CallerID struct {
	SID         string `json:"sid"`
	PhoneNumber string `json:"phoneNumber"`
}

func (s *Service) ListVerified() ([]CallerID, error) {
	ids, err := s.api.ListOutgoingCallerId(&openapi.ListOutgoingCallerIdParams{})
	if err != nil {
		return nil, fmt.Errorf("list verified: %w", err)
	}
	out := make([]CallerID, 0, len(ids))
	for _, id := range ids {
		c := CallerID{}
		if id.Sid != nil {
			c.SID = *id.Sid
		}
		if id.PhoneNumber != nil {
			c.PhoneNumber = *id.PhoneNumber
		}
		out = append(out, c)
	}
	return out, nil
}

type CallResult struct {
	CallSID string `json:"callSid"`
	Status  string `json:"status"`
	From    string `json:"from,omitempty"`
}

// StartStreamCall places a call from one of the account's own numbers
// and bridges it to the media-stream websocket.
func (s *Service) StartStreamCall(toNumber string, p callsession.Params) (CallResult, error) {
	numParams := &openapi.ListIncomingPhoneNumberParams{}
	numParams.SetPageSize(1)
	nums, err := s.api.ListIncomingPhoneNumber(numParams)
	if err != nil {
		return CallResult{}, fmt.Errorf("list phone numbers: %w", err)
	}
	if len(nums) == 0 || nums[0].PhoneNumber == nil {
		return CallResult{}, errors.New("no phone number found in account")
	}
	from := *nums[0].PhoneNumber

	doc, err := StreamTwiML(s.MediaStreamURL(), p)
	if err != nil {
		return CallResult{}, fmt.Errorf("build twiml: %w", err)
	}

	callParams := &openapi.CreateCallParams{}
	callParams.SetTo(toNumber)
	callParams.SetFrom(from)
	callParams.SetTwiml(doc)

	call, err := s.api.CreateCall(callParams)
	if err != nil {
		return CallResult{}, fmt.Errorf("create call: %w", err)
	}
	return newCallResult(call, from), nil
}

// StartAnnouncementCall places a scripted call from the user's own
// verified number. The callee's answer is recorded and transcribed to
// the status webhook.
func (s *Service) StartAnnouncementCall(toNumber, fromNumber string, p callsession.Params) (CallResult, error) {
	verified, _, err := s.CheckVerification(fromNumber)
	if err != nil {
		return CallResult{}, err
	}
	if !verified {
		return CallResult{}, ErrCallerNotVerified
	}

	doc, err := AnnouncementTwiML(p, s.callbackURL())
	if err != nil {
		return CallResult{}, fmt.Errorf("build twiml: %w", err)
	}

	callParams := &openapi.CreateCallParams{}
	callParams.SetTo(toNumber)
	callParams.SetFrom(fromNumber)
	callParams.SetTwiml(doc)
	callParams.SetStatusCallback(s.callbackURL())
	callParams.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	callParams.SetStatusCallbackMethod("POST")

	call, err := s.api.CreateCall(callParams)
	if err != nil {
		return CallResult{}, fmt.Errorf("create call: %w", err)
	}
	return newCallResult(call, fromNumber), nil
}

var ErrCallerNotVerified = errors.New("caller ID not verified")

func newCallResult(call *openapi.ApiV2010Call, from string) CallResult {
	res := CallResult{From: from}
	if call.Sid != nil {
		res.CallSID = *call.Sid
	}
	if call.Status != nil {
		res.Status = *call.Status
	}
	return res
}
