package voice

import "context"

// Transcriber converts a complete WAV recording of caller speech into
// text. An empty string with a nil error means nothing intelligible
// was heard.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// Synthesizer renders text into 16-bit little-endian mono PCM at its
// native sample rate.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
	NativeSampleRate() int
}
