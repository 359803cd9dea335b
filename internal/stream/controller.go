package stream

import (
	"context"
	"encoding/base64"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/callconnect/backend/internal/agent"
	"github.com/callconnect/backend/internal/broadcast"
	"github.com/callconnect/backend/internal/callsession"
	"github.com/callconnect/backend/internal/observability"
	"github.com/callconnect/backend/internal/protocol"
	"github.com/callconnect/backend/internal/transcript"
	"github.com/callconnect/backend/internal/voice"
)

const (
	telephonyRate = 8000
	sttRate       = 16000
)

type Config struct {
	// AccumulateBytes is the caller-audio threshold that triggers a
	// turn, in mu-law bytes at 8 kHz. 16000 is roughly two seconds.
	AccumulateBytes int
	// ChunkBytes is the outbound frame size, 640 bytes is 80 ms.
	ChunkBytes         int
	ChunkInterval      time.Duration
	InitialTurnDelay   time.Duration
	MinTranscriptChars int
	HistoryLimit       int
	TurnTimeout        time.Duration
	SaveTimeout        time.Duration
}

func (c Config) withDefaults() Config {
	if c.AccumulateBytes <= 0 {
		c.AccumulateBytes = 16000
	}
	if c.ChunkBytes <= 0 {
		c.ChunkBytes = 640
	}
	if c.ChunkInterval <= 0 {
		c.ChunkInterval = 10 * time.Millisecond
	}
	if c.InitialTurnDelay <= 0 {
		c.InitialTurnDelay = time.Second
	}
	if c.MinTranscriptChars <= 0 {
		c.MinTranscriptChars = 2
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 6
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = 45 * time.Second
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = 2 * time.Second
	}
	return c
}

// Controller drives one media-stream connection: it consumes inbound
// Twilio frames, accumulates caller audio, and runs conversation
// turns that write paced audio frames back to the outbound channel.
type Controller struct {
	calls       *callsession.Manager
	transcriber voice.Transcriber
	synthesizer voice.Synthesizer
	responder   agent.Responder
	sink        broadcast.Sink
	store       transcript.Store
	metrics     *observability.Metrics
	cfg         Config
}

func NewController(
	calls *callsession.Manager,
	transcriber voice.Transcriber,
	synthesizer voice.Synthesizer,
	responder agent.Responder,
	sink broadcast.Sink,
	store transcript.Store,
	metrics *observability.Metrics,
	cfg Config,
) *Controller {
	return &Controller{
		calls:       calls,
		transcriber: transcriber,
		synthesizer: synthesizer,
		responder:   responder,
		sink:        sink,
		store:       store,
		metrics:     metrics,
		cfg:         cfg.withDefaults(),
	}
}

// connState is the per-connection mutable state shared between the
// read loop and turn goroutines.
type connState struct {
	call         *callsession.Call
	outbound     chan<- []byte
	closed       atomic.Bool
	turns        sync.WaitGroup
	initialTimer *time.Timer
}

// RunConnection processes frames until inbound closes. Turns already
// in flight when the stream ends run to completion; their frames are
// dropped. The outbound channel stays valid until RunConnection
// returns.
func (c *Controller) RunConnection(ctx context.Context, inbound <-chan []byte, outbound chan<- []byte) {
	st := &connState{outbound: outbound}
	defer func() {
		st.closed.Store(true)
		if st.initialTimer != nil && st.initialTimer.Stop() {
			st.turns.Done()
		}
		st.turns.Wait()
		if st.call != nil {
			if _, err := c.calls.Release(st.call.StreamSID); err == nil {
				c.metrics.ActiveCalls.Dec()
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-inbound:
			if !ok {
				return
			}
			c.handleFrame(st, raw)
		}
	}
}

func (c *Controller) handleFrame(st *connState, raw []byte) {
	event, err := protocol.ParseInboundEvent(raw)
	if err != nil {
		log.Printf("media-stream: drop unparseable frame: %v", err)
		return
	}

	switch ev := event.(type) {
	case protocol.ConnectedEvent:
		c.metrics.StreamEvents.WithLabelValues("connected").Inc()
		log.Printf("media-stream: connected")

	case protocol.StartEvent:
		c.metrics.StreamEvents.WithLabelValues("start").Inc()
		c.handleStart(st, ev)

	case protocol.MediaEvent:
		c.metrics.StreamEvents.WithLabelValues("media").Inc()
		c.handleMedia(st, ev)

	case protocol.StopEvent:
		c.metrics.StreamEvents.WithLabelValues("stop").Inc()
		log.Printf("media-stream: stopped stream=%s", ev.StreamSID)

	case protocol.MarkEvent:
		// playback acknowledgement
		c.metrics.StreamEvents.WithLabelValues("mark").Inc()
	}
}

func (c *Controller) handleStart(st *connState, ev protocol.StartEvent) {
	if st.call != nil && st.call.StreamSID == ev.StreamSID {
		// Duplicate start for a stream already running.
		return
	}
	cp := ev.Start.CustomParameters
	call := c.calls.Register(ev.StreamSID, ev.Start.CallSID, callsession.Params{
		ProviderName:   cp.ProviderName,
		Service:        cp.Service,
		UserName:       cp.UserName,
		Purpose:        cp.Purpose,
		Details:        cp.Details,
		TimePreference: cp.TimePreference,
	})
	if st.call == nil {
		c.metrics.ActiveCalls.Inc()
	}
	st.call = call
	log.Printf("media-stream: start stream=%s call=%s provider=%q", call.StreamSID, call.CallSID, call.Params.ProviderName)

	if !call.MarkGreeted() {
		return
	}
	st.turns.Add(1)
	st.initialTimer = time.AfterFunc(c.cfg.InitialTurnDelay, func() {
		defer st.turns.Done()
		c.runInitialTurn(call, st)
	})
}

func (c *Controller) handleMedia(st *connState, ev protocol.MediaEvent) {
	if st.call == nil {
		return
	}
	payload, err := base64.StdEncoding.DecodeString(ev.Media.Payload)
	if err != nil {
		log.Printf("media-stream: bad media payload: %v", err)
		return
	}

	accumulated := st.call.AppendAudio(payload)
	if accumulated < c.cfg.AccumulateBytes {
		return
	}
	if !st.call.TryBeginTurn() {
		return
	}
	st.turns.Add(1)
	go func() {
		defer st.turns.Done()
		c.runReactiveTurn(st.call, st)
	}()
}

// send enqueues an outbound frame without blocking the pipeline. A
// full queue or a finished connection drops the frame.
func (c *Controller) send(st *connState, frame []byte) bool {
	if st.closed.Load() {
		c.metrics.DroppedFrames.Inc()
		return false
	}
	select {
	case st.outbound <- frame:
		return true
	default:
		c.metrics.DroppedFrames.Inc()
		return false
	}
}

func (c *Controller) turnContext() (context.Context, context.CancelFunc) {
	// Deliberately detached from the connection context so a turn
	// already talking to providers finishes after a disconnect.
	return context.WithTimeout(context.Background(), c.cfg.TurnTimeout)
}
