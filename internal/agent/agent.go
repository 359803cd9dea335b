package agent

import "context"

type Message struct {
	Role    string
	Content string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Responder produces the assistant's next utterance from a prompt
// exchange.
type Responder interface {
	Respond(ctx context.Context, messages []Message) (string, error)
}
