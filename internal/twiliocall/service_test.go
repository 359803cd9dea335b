package twiliocall

import (
	"errors"
	"strings"
	"testing"

	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/callconnect/backend/internal/callsession"
)

type fakeAPI struct {
	validationErr  error
	validation     *openapi.ApiV2010ValidationRequest
	callerIDs      []openapi.ApiV2010OutgoingCallerId
	numbers        []openapi.ApiV2010IncomingPhoneNumber
	createdCall    *openapi.CreateCallParams
	callResult     *openapi.ApiV2010Call
	callResultErr  error
	listCallerErr  error
	listNumbersErr error
}

func (f *fakeAPI) CreateValidationRequest(params *openapi.CreateValidationRequestParams) (*openapi.ApiV2010ValidationRequest, error) {
	if f.validationErr != nil {
		return nil, f.validationErr
	}
	return f.validation, nil
}

func (f *fakeAPI) ListOutgoingCallerId(params *openapi.ListOutgoingCallerIdParams) ([]openapi.ApiV2010OutgoingCallerId, error) {
	return f.callerIDs, f.listCallerErr
}

func (f *fakeAPI) ListIncomingPhoneNumber(params *openapi.ListIncomingPhoneNumberParams) ([]openapi.ApiV2010IncomingPhoneNumber, error) {
	return f.numbers, f.listNumbersErr
}

func (f *fakeAPI) CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error) {
	f.createdCall = params
	return f.callResult, f.callResultErr
}

func str(s string) *string { return &s }

func newTestService(api *fakeAPI) *Service {
	return &Service{api: api, publicURL: "https://calls.example.com"}
}

func TestStartVerification(t *testing.T) {
	api := &fakeAPI{validation: &openapi.ApiV2010ValidationRequest{
		ValidationCode: str("123456"),
		CallSid:        str("CAverify"),
	}}
	s := newTestService(api)

	res, err := s.StartVerification("+15551234567")
	if err != nil {
		t.Fatalf("StartVerification: %v", err)
	}
	if res.ValidationCode != "123456" || res.CallSID != "CAverify" || res.AlreadyVerified {
		t.Fatalf("result = %+v", res)
	}
}

func TestStartVerificationAlreadyVerified(t *testing.T) {
	api := &fakeAPI{validationErr: &twclient.TwilioRestError{Code: 21450, Status: 400, Message: "already verified"}}
	s := newTestService(api)

	res, err := s.StartVerification("+15551234567")
	if err != nil {
		t.Fatalf("StartVerification: %v", err)
	}
	if !res.AlreadyVerified {
		t.Fatalf("result = %+v, want AlreadyVerified", res)
	}
}

func TestStartVerificationOtherError(t *testing.T) {
	api := &fakeAPI{validationErr: errors.New("boom")}
	s := newTestService(api)
	if _, err := s.StartVerification("+15551234567"); err == nil {
		t.Fatal("expected error")
	}
}

func TestCheckVerification(t *testing.T) {
	api := &fakeAPI{callerIDs: []openapi.ApiV2010OutgoingCallerId{{Sid: str("PN1")}}}
	s := newTestService(api)

	ok, sid, err := s.CheckVerification("+15551234567")
	if err != nil || !ok || sid != "PN1" {
		t.Fatalf("got %v %q %v", ok, sid, err)
	}

	api.callerIDs = nil
	ok, sid, err = s.CheckVerification("+15551234567")
	if err != nil || ok || sid != "" {
		t.Fatalf("unverified: got %v %q %v", ok, sid, err)
	}
}

func TestStartStreamCall(t *testing.T) {
	api := &fakeAPI{
		numbers:    []openapi.ApiV2010IncomingPhoneNumber{{PhoneNumber: str("+15550001111")}},
		callResult: &openapi.ApiV2010Call{Sid: str("CA1"), Status: str("queued")},
	}
	s := newTestService(api)

	res, err := s.StartStreamCall("+15552223333", callsession.Params{ProviderName: "Luna Dental", Service: "cleaning"})
	if err != nil {
		t.Fatalf("StartStreamCall: %v", err)
	}
	if res.CallSID != "CA1" || res.Status != "queued" || res.From != "+15550001111" {
		t.Fatalf("result = %+v", res)
	}

	if api.createdCall == nil || api.createdCall.Twiml == nil {
		t.Fatal("call not created with twiml")
	}
	doc := *api.createdCall.Twiml
	for _, want := range []string{
		"<Connect>",
		`<Stream url="wss://calls.example.com/api/twilio/media-stream">`,
		`name="providerName"`,
		`value="Luna Dental"`,
	} {
		if !strings.Contains(doc, want) {
			t.Fatalf("twiml missing %q:\n%s", want, doc)
		}
	}
}

func TestStartStreamCallNoNumbers(t *testing.T) {
	s := newTestService(&fakeAPI{})
	if _, err := s.StartStreamCall("+15552223333", callsession.Params{}); err == nil {
		t.Fatal("expected error without account numbers")
	}
}

func TestStartAnnouncementCall(t *testing.T) {
	api := &fakeAPI{
		callerIDs:  []openapi.ApiV2010OutgoingCallerId{{Sid: str("PN1")}},
		callResult: &openapi.ApiV2010Call{Sid: str("CA2"), Status: str("queued")},
	}
	s := newTestService(api)

	p := callsession.Params{
		UserName:       "Jordan",
		Service:        "a dental cleaning",
		Purpose:        "new_appointment",
		TimePreference: "Friday morning",
	}
	res, err := s.StartAnnouncementCall("+15552223333", "+15559998888", p)
	if err != nil {
		t.Fatalf("StartAnnouncementCall: %v", err)
	}
	if res.CallSID != "CA2" {
		t.Fatalf("result = %+v", res)
	}

	doc := *api.createdCall.Twiml
	for _, want := range []string{
		"Polly.Joanna",
		"calling on behalf of Jordan",
		"We would like to book an appointment.",
		"Our preferred time is Friday morning.",
		`transcribeCallback="https://calls.example.com/api/twilio/call-handler"`,
	} {
		if !strings.Contains(doc, want) {
			t.Fatalf("twiml missing %q:\n%s", want, doc)
		}
	}
	if api.createdCall.StatusCallback == nil || *api.createdCall.StatusCallback != "https://calls.example.com/api/twilio/call-handler" {
		t.Fatalf("status callback = %v", api.createdCall.StatusCallback)
	}
}

func TestStartAnnouncementCallUnverified(t *testing.T) {
	s := newTestService(&fakeAPI{})
	_, err := s.StartAnnouncementCall("+15552223333", "+15559998888", callsession.Params{})
	if !errors.Is(err, ErrCallerNotVerified) {
		t.Fatalf("err = %v, want ErrCallerNotVerified", err)
	}
}

func TestMediaStreamURL(t *testing.T) {
	s := newTestService(&fakeAPI{})
	if got := s.MediaStreamURL(); got != "wss://calls.example.com/api/twilio/media-stream" {
		t.Fatalf("MediaStreamURL = %q", got)
	}
}
