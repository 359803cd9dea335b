package transcript

import (
	"context"
	"time"
)

// Utterance stores a single caller or assistant line from a call.
type Utterance struct {
	ID          string    `json:"id"`
	CallSID     string    `json:"call_sid"`
	Role        string    `json:"role"`
	Text        string    `json:"text"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists and retrieves call transcripts.
type Store interface {
	SaveUtterance(ctx context.Context, u Utterance) error
	CallTranscript(ctx context.Context, callSID string, limit int) ([]Utterance, error)
	Close() error
}
