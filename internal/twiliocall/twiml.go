package twiliocall

import (
	"fmt"
	"strings"

	"github.com/twilio/twilio-go/twiml"

	"github.com/callconnect/backend/internal/callsession"
)

// StreamTwiML builds the response that bridges an answered call into
// the media-stream websocket, carrying the call parameters as
// <Parameter> elements.
func StreamTwiML(wsURL string, p callsession.Params) (string, error) {
	stream := twiml.VoiceStream{
		Url: wsURL,
		InnerElements: []twiml.Element{
			twiml.VoiceParameter{Name: "providerName", Value: p.ProviderName},
			twiml.VoiceParameter{Name: "service", Value: p.Service},
			twiml.VoiceParameter{Name: "userName", Value: p.UserName},
			twiml.VoiceParameter{Name: "purpose", Value: p.Purpose},
			twiml.VoiceParameter{Name: "details", Value: p.Details},
			twiml.VoiceParameter{Name: "timePreference", Value: p.TimePreference},
		},
	}
	connect := twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}
	return twiml.Voice([]twiml.Element{connect})
}

// AnnouncementTwiML builds the scripted fallback call: a spoken
// request followed by a recorded, transcribed answer.
func AnnouncementTwiML(p callsession.Params, callbackURL string) (string, error) {
	var intro strings.Builder
	fmt.Fprintf(&intro, "Hello, this is an AI assistant calling on behalf of %s. I'm calling to inquire about %s.", p.UserName, p.Service)
	if p.Purpose == "new_appointment" {
		intro.WriteString(" We would like to book an appointment.")
	}
	if p.TimePreference != "" {
		fmt.Fprintf(&intro, " Our preferred time is %s.", p.TimePreference)
	}
	if p.Details != "" {
		intro.WriteString(" " + p.Details)
	}

	elements := []twiml.Element{
		twiml.VoiceSay{Voice: "Polly.Joanna", Message: intro.String()},
		twiml.VoicePause{Length: "2"},
		twiml.VoiceSay{Voice: "Polly.Joanna", Message: "Could you please let me know your available times?"},
		twiml.VoiceRecord{
			MaxLength:          "60",
			Transcribe:         "true",
			TranscribeCallback: callbackURL,
		},
	}
	return twiml.Voice(elements)
}

// EmptyTwiML acknowledges a status webhook without further
// instructions.
func EmptyTwiML() (string, error) {
	return twiml.Voice(nil)
}
