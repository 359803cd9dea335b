package callsession

import (
	"sync"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one utterance in a call transcript, in arrival order.
type Entry struct {
	Role Role
	Text string
}

// Params describe who the assistant is calling on behalf of and why.
// Zero values are filled with generic defaults so prompt construction
// never renders an empty slot.
type Params struct {
	ProviderName   string
	Service        string
	UserName       string
	Purpose        string
	Details        string
	TimePreference string
}

// WithDefaults returns a copy of p with empty fields replaced by
// placeholder values.
func (p Params) WithDefaults() Params {
	if p.ProviderName == "" {
		p.ProviderName = "the business"
	}
	if p.Service == "" {
		p.Service = "appointment"
	}
	if p.UserName == "" {
		p.UserName = "a customer"
	}
	if p.Purpose == "" {
		p.Purpose = "new_appointment"
	}
	if p.TimePreference == "" {
		p.TimePreference = "flexible"
	}
	return p
}

// Call is the mutable per-call context for one live media stream. All
// methods are safe for concurrent use.
type Call struct {
	StreamSID string
	CallSID   string
	Params    Params
	StartedAt time.Time

	mu             sync.Mutex
	lastActivityAt time.Time
	transcript     []Entry
	audio          []byte
	busy           bool
	greeted        bool
}

func New(streamSID, callSID string, params Params) *Call {
	now := time.Now().UTC()
	return &Call{
		StreamSID:      streamSID,
		CallSID:        callSID,
		Params:         params.WithDefaults(),
		StartedAt:      now,
		lastActivityAt: now,
	}
}

// AppendAudio adds decoded caller audio to the accumulator and returns
// the accumulated byte count.
func (c *Call) AppendAudio(pcm []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio = append(c.audio, pcm...)
	c.lastActivityAt = time.Now().UTC()
	return len(c.audio)
}

// DrainAudio atomically takes the accumulated audio and resets the
// accumulator. Concurrent appends land in the next window.
func (c *Call) DrainAudio() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := c.audio
	c.audio = nil
	return buf
}

// TryBeginTurn attempts to claim the single in-flight turn slot. It
// returns false while a previous turn is still running.
func (c *Call) TryBeginTurn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return false
	}
	c.busy = true
	c.lastActivityAt = time.Now().UTC()
	return true
}

func (c *Call) EndTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	c.lastActivityAt = time.Now().UTC()
}

// MarkGreeted records that the opening turn has been claimed; it
// returns false if the greeting already happened.
func (c *Call) MarkGreeted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.greeted {
		return false
	}
	c.greeted = true
	return true
}

func (c *Call) AppendTranscript(role Role, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcript = append(c.transcript, Entry{Role: role, Text: text})
	c.lastActivityAt = time.Now().UTC()
}

// TranscriptTail returns up to the last n transcript entries, oldest
// first. The returned slice is a copy.
func (c *Call) TranscriptTail(n int) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 || len(c.transcript) == 0 {
		return nil
	}
	start := len(c.transcript) - n
	if start < 0 {
		start = 0
	}
	out := make([]Entry, len(c.transcript)-start)
	copy(out, c.transcript[start:])
	return out
}

func (c *Call) TranscriptLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.transcript)
}

func (c *Call) LastActivityAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivityAt
}

func (c *Call) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivityAt = time.Now().UTC()
}
