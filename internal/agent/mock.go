package agent

import (
	"context"
	"strings"
	"sync"
)

// MockResponder is a local fallback used when OpenAI is not
// configured. Replies are canned but keyed off the prompt shape so
// conversations stay plausible in demos.
type MockResponder struct {
	mu    sync.Mutex
	turns int
}

func NewMockResponder() *MockResponder { return &MockResponder{} }

func (r *MockResponder) Respond(_ context.Context, messages []Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns++

	if len(messages) > 0 && strings.Contains(messages[0].Content, "opening message") {
		return "Hello, this is an automated assistant calling to book an appointment. Do you have availability this week?", nil
	}
	switch r.turns % 3 {
	case 1:
		return "That works, could you put us down for that slot?", nil
	case 2:
		return "Perfect, thank you for confirming.", nil
	default:
		return "Thanks so much for your help, have a great day.", nil
	}
}
