package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/callconnect/backend/internal/reliability"
)

const ttsSampleRate = 22050

type ElevenLabsConfig struct {
	APIKey       string
	BaseURL      string
	VoiceID      string
	STTModelID   string
	TTSModelID   string
	LanguageCode string
	HTTPClient   *http.Client
}

// ElevenLabsProvider is a batch speech provider. STT uploads a WAV
// file, TTS returns raw PCM at 22050 Hz.
type ElevenLabsProvider struct {
	cfg    ElevenLabsConfig
	client *http.Client
}

func NewElevenLabsProvider(cfg ElevenLabsConfig) *ElevenLabsProvider {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		cfg.VoiceID = "EXAVITQu4vr4xnSDxMaL"
	}
	if strings.TrimSpace(cfg.STTModelID) == "" {
		cfg.STTModelID = "scribe_v2"
	}
	if strings.TrimSpace(cfg.TTSModelID) == "" {
		cfg.TTSModelID = "eleven_turbo_v2_5"
	}
	if strings.TrimSpace(cfg.LanguageCode) == "" {
		cfg.LanguageCode = "eng"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ElevenLabsProvider{cfg: cfg, client: client}
}

func (p *ElevenLabsProvider) Transcribe(ctx context.Context, wav []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(wav); err != nil {
		return "", err
	}
	if err := mw.WriteField("model_id", p.cfg.STTModelID); err != nil {
		return "", err
	}
	if err := mw.WriteField("language_code", p.cfg.LanguageCode); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/speech-to-text"
	contentType := mw.FormDataContentType()

	resp, err := p.post(ctx, endpoint, contentType, body.Bytes())
	if err != nil {
		return "", fmt.Errorf("stt request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("stt status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode stt response: %w", err)
	}
	return out.Text, nil
}

func (p *ElevenLabsProvider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": p.cfg.TTSModelID,
		"voice_settings": map[string]any{
			"stability":         0.5,
			"similarity_boost":  0.75,
			"style":             0.3,
			"use_speaker_boost": true,
		},
	})
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(p.cfg.VoiceID) + "?output_format=pcm_22050"
	resp, err := p.post(ctx, endpoint, "application/json", payload)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("tts status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return io.ReadAll(resp.Body)
}

func (p *ElevenLabsProvider) NativeSampleRate() int { return ttsSampleRate }

// post issues the request and retries once on transient provider
// errors, honoring Retry-After when present.
func (p *ElevenLabsProvider) post(ctx context.Context, endpoint, contentType string, body []byte) (*http.Response, error) {
	send := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("xi-api-key", p.cfg.APIKey)
		req.Header.Set("Content-Type", contentType)
		return p.client.Do(req)
	}

	resp, err := send()
	if err != nil {
		return nil, err
	}
	if !reliability.IsRetryableHTTPStatus(resp.StatusCode) {
		return resp, nil
	}

	wait := reliability.RetryAfter(resp.Header.Get("Retry-After"), time.Second)
	resp.Body.Close()
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
	}
	return send()
}
