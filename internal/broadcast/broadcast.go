package broadcast

import (
	"context"
	"log"
)

// TranscriptEvent is one live transcript line pushed to dashboards
// while a call is in progress.
type TranscriptEvent struct {
	CallSID   string
	Speaker   string
	Text      string
	Timestamp int64
}

const (
	SpeakerUser = "user"
	SpeakerAI   = "ai"
)

// Sink delivers transcript events to watchers. Delivery is best
// effort; a failed publish never blocks the call pipeline.
type Sink interface {
	Publish(ctx context.Context, event TranscriptEvent) error
}

// LogSink writes events to the process log. Used when Supabase is not
// configured.
type LogSink struct{}

func NewLogSink() *LogSink { return &LogSink{} }

func (s *LogSink) Publish(_ context.Context, event TranscriptEvent) error {
	log.Printf("transcript call=%s speaker=%s text=%q", event.CallSID, event.Speaker, event.Text)
	return nil
}
