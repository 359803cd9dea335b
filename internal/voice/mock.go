package voice

import (
	"context"
	"sync"
)

// MockProvider is a local fallback provider used when ElevenLabs is
// not configured. Transcriptions cycle through canned receptionist
// lines; synthesis returns a short stretch of silence.
type MockProvider struct {
	mu    sync.Mutex
	calls int
	lines []string
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		lines: []string{
			"Hello, thanks for calling, how can I help you?",
			"Let me check the schedule for you.",
			"We have an opening tomorrow at two pm, does that work?",
			"Great, you're all booked. Anything else?",
		},
	}
}

func (p *MockProvider) Transcribe(_ context.Context, wav []byte) (string, error) {
	if len(wav) == 0 {
		return "", nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	line := p.lines[p.calls%len(p.lines)]
	p.calls++
	return line, nil
}

func (p *MockProvider) Synthesize(_ context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, nil
	}
	// Half a second of silence at the native rate.
	return make([]byte, ttsSampleRate), nil
}

func (p *MockProvider) NativeSampleRate() int { return ttsSampleRate }
