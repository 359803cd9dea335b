package stream

import (
	"context"
	"encoding/base64"
	"log"
	"strings"
	"time"

	"github.com/callconnect/backend/internal/agent"
	"github.com/callconnect/backend/internal/audio"
	"github.com/callconnect/backend/internal/broadcast"
	"github.com/callconnect/backend/internal/callsession"
	"github.com/callconnect/backend/internal/policy"
	"github.com/callconnect/backend/internal/protocol"
	"github.com/callconnect/backend/internal/transcript"
)

// runInitialTurn speaks the opening line once the callee has had a
// moment to answer.
func (c *Controller) runInitialTurn(call *callsession.Call, st *connState) {
	if !call.TryBeginTurn() {
		return
	}
	defer call.EndTurn()

	ctx, cancel := c.turnContext()
	defer cancel()

	c.respondAndSpeak(ctx, call, st, buildOpeningMessages(call.Params))
}

// runReactiveTurn drains accumulated caller audio, transcribes it and
// speaks a reply. The caller holds the turn latch.
func (c *Controller) runReactiveTurn(call *callsession.Call, st *connState) {
	defer call.EndTurn()

	buf := call.DrainAudio()
	if len(buf) == 0 {
		return
	}

	ctx, cancel := c.turnContext()
	defer cancel()
	started := time.Now()

	pcm8k := audio.DecodeULaw(buf)
	pcm16k, err := audio.Resample(pcm8k, telephonyRate, sttRate)
	if err != nil {
		log.Printf("pipeline: resample caller audio: %v", err)
		c.metrics.PipelineTurns.WithLabelValues("audio_error").Inc()
		return
	}
	wav, err := audio.EncodeWAVPCM16LE(pcm16k, sttRate)
	if err != nil {
		log.Printf("pipeline: encode wav: %v", err)
		c.metrics.PipelineTurns.WithLabelValues("audio_error").Inc()
		return
	}

	text, err := c.transcriber.Transcribe(ctx, wav)
	if err != nil {
		log.Printf("pipeline: transcribe: %v", err)
		c.metrics.ProviderErrors.WithLabelValues("elevenlabs", "stt").Inc()
		c.metrics.PipelineTurns.WithLabelValues("stt_error").Inc()
		return
	}
	text = strings.TrimSpace(text)
	if len(text) < c.cfg.MinTranscriptChars {
		c.metrics.PipelineTurns.WithLabelValues("no_speech").Inc()
		return
	}

	log.Printf("pipeline: caller said %q call=%s", text, call.CallSID)
	c.publishAndPersist(call, callsession.RoleUser, text)
	call.AppendTranscript(callsession.RoleUser, text)

	if c.respondAndSpeak(ctx, call, st, buildReplyMessages(call.Params, call.TranscriptTail(c.cfg.HistoryLimit), text)) {
		c.metrics.ObserveTurnLatency(time.Since(started))
	}
}

// respondAndSpeak generates the assistant line, records it, and plays
// it out as paced mu-law frames followed by a completion mark.
func (c *Controller) respondAndSpeak(ctx context.Context, call *callsession.Call, st *connState, messages []agent.Message) bool {
	reply, err := c.responder.Respond(ctx, messages)
	if err != nil {
		log.Printf("pipeline: generate reply: %v", err)
		c.metrics.ProviderErrors.WithLabelValues("openai", "chat").Inc()
		c.metrics.PipelineTurns.WithLabelValues("llm_error").Inc()
		return false
	}

	log.Printf("pipeline: assistant says %q call=%s", reply, call.CallSID)
	c.publishAndPersist(call, callsession.RoleAssistant, reply)
	call.AppendTranscript(callsession.RoleAssistant, reply)

	pcmNative, err := c.synthesizer.Synthesize(ctx, reply)
	if err != nil {
		log.Printf("pipeline: synthesize: %v", err)
		c.metrics.ProviderErrors.WithLabelValues("elevenlabs", "tts").Inc()
		c.metrics.PipelineTurns.WithLabelValues("tts_error").Inc()
		return false
	}

	pcm8k, err := audio.Resample(pcmNative, c.synthesizer.NativeSampleRate(), telephonyRate)
	if err != nil {
		log.Printf("pipeline: resample reply: %v", err)
		c.metrics.PipelineTurns.WithLabelValues("audio_error").Inc()
		return false
	}
	ulaw, err := audio.EncodeULaw(pcm8k)
	if err != nil {
		log.Printf("pipeline: encode reply: %v", err)
		c.metrics.PipelineTurns.WithLabelValues("audio_error").Inc()
		return false
	}

	c.playOut(call.StreamSID, st, ulaw)
	c.metrics.PipelineTurns.WithLabelValues("completed").Inc()
	return true
}

// playOut paces the reply onto the wire in small frames so Twilio can
// play it in real time, then marks the end of playback.
func (c *Controller) playOut(streamSID string, st *connState, ulaw []byte) {
	for off := 0; off < len(ulaw); off += c.cfg.ChunkBytes {
		end := off + c.cfg.ChunkBytes
		if end > len(ulaw) {
			end = len(ulaw)
		}
		frame := protocol.NewMediaEvent(streamSID, base64.StdEncoding.EncodeToString(ulaw[off:end]))
		c.send(st, mustJSON(frame))
		time.Sleep(c.cfg.ChunkInterval)
	}
	c.send(st, mustJSON(protocol.NewMarkEvent(streamSID)))
}

// publishAndPersist pushes one transcript line to live watchers and
// durable storage. Both are best effort off the hot path.
func (c *Controller) publishAndPersist(call *callsession.Call, role callsession.Role, text string) {
	speaker := broadcast.SpeakerUser
	if role == callsession.RoleAssistant {
		speaker = broadcast.SpeakerAI
	}
	redacted, changed := policy.RedactPII(text)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SaveTimeout)
		defer cancel()

		if err := c.sink.Publish(ctx, broadcast.TranscriptEvent{
			CallSID:   call.CallSID,
			Speaker:   speaker,
			Text:      redacted,
			Timestamp: time.Now().UnixMilli(),
		}); err != nil {
			log.Printf("pipeline: broadcast transcript: %v", err)
		}

		if err := c.store.SaveUtterance(ctx, transcript.Utterance{
			CallSID:     call.CallSID,
			Role:        string(role),
			Text:        redacted,
			PIIRedacted: changed,
		}); err != nil {
			log.Printf("pipeline: save utterance: %v", err)
		}
	}()
}
