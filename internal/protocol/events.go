package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType identifies Twilio media-stream websocket event variants.
type EventType string

const (
	EventConnected EventType = "connected"
	EventStart     EventType = "start"
	EventMedia     EventType = "media"
	EventStop      EventType = "stop"
	EventMark      EventType = "mark"
)

var ErrUnsupportedEvent = errors.New("unsupported event type")

type Envelope struct {
	Event EventType `json:"event"`
}

// CustomParameters carries the caller-supplied call parameters set on the
// <Stream> TwiML verb.
type CustomParameters struct {
	ProviderName   string `json:"providerName"`
	Service        string `json:"service"`
	UserName       string `json:"userName"`
	Purpose        string `json:"purpose"`
	Details        string `json:"details"`
	TimePreference string `json:"timePreference"`
}

type ConnectedEvent struct {
	Event    EventType `json:"event"`
	Protocol string    `json:"protocol,omitempty"`
	Version  string    `json:"version,omitempty"`
}

type StartEvent struct {
	Event     EventType    `json:"event"`
	StreamSID string       `json:"streamSid"`
	Start     StartPayload `json:"start"`
}

type StartPayload struct {
	CallSID          string           `json:"callSid"`
	CustomParameters CustomParameters `json:"customParameters"`
}

type MediaEvent struct {
	Event     EventType    `json:"event"`
	StreamSID string       `json:"streamSid,omitempty"`
	Media     MediaPayload `json:"media"`
}

type MediaPayload struct {
	// Payload is base64-encoded mu-law audio at 8kHz.
	Payload string `json:"payload"`
}

type StopEvent struct {
	Event     EventType `json:"event"`
	StreamSID string    `json:"streamSid,omitempty"`
}

type MarkEvent struct {
	Event     EventType   `json:"event"`
	StreamSID string      `json:"streamSid,omitempty"`
	Mark      MarkPayload `json:"mark"`
}

type MarkPayload struct {
	Name string `json:"name"`
}

// MarkAudioComplete is the mark name emitted after the final chunk of a
// synthesized reply.
const MarkAudioComplete = "audio_complete"

// NewMediaEvent builds an outbound media event for one audio chunk.
func NewMediaEvent(streamSID, payloadBase64 string) MediaEvent {
	return MediaEvent{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     MediaPayload{Payload: payloadBase64},
	}
}

// NewMarkEvent builds the playback-complete acknowledgement event.
func NewMarkEvent(streamSID string) MarkEvent {
	return MarkEvent{
		Event:     EventMark,
		StreamSID: streamSID,
		Mark:      MarkPayload{Name: MarkAudioComplete},
	}
}

// ParseInboundEvent decodes one inbound media-stream message into its typed
// event. Malformed payload fields inside a known event are tolerated (zero
// values substituted); an unknown event tag is rejected.
func ParseInboundEvent(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Event {
	case EventConnected:
		var msg ConnectedEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventStart:
		var msg StartEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventMedia:
		var msg MediaEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventStop:
		var msg StopEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventMark:
		var msg MarkEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedEvent
	}
}
