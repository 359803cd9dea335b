package voice

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestElevenLabsTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/speech-to-text" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("xi-api-key"); got != "test-key" {
			t.Errorf("api key header = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("model_id"); got != "scribe_v2" {
			t.Errorf("model_id = %q", got)
		}
		if got := r.FormValue("language_code"); got != "eng" {
			t.Errorf("language_code = %q", got)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if string(data) != "RIFFfake" {
			t.Errorf("file body = %q", data)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"hello there"}`)
	}))
	defer srv.Close()

	p := NewElevenLabsProvider(ElevenLabsConfig{APIKey: "test-key", BaseURL: srv.URL})
	text, err := p.Transcribe(context.Background(), []byte("RIFFfake"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello there" {
		t.Fatalf("text = %q", text)
	}
}

func TestElevenLabsTranscribeErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad audio", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewElevenLabsProvider(ElevenLabsConfig{APIKey: "k", BaseURL: srv.URL})
	if _, err := p.Transcribe(context.Background(), []byte("x")); err == nil {
		t.Fatal("expected error on 400")
	} else if !strings.Contains(err.Error(), "400") {
		t.Fatalf("error missing status: %v", err)
	}
}

func TestElevenLabsRetriesOnRateLimit(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.Header().Set("Retry-After", "0")
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"second try"}`)
	}))
	defer srv.Close()

	p := NewElevenLabsProvider(ElevenLabsConfig{APIKey: "k", BaseURL: srv.URL})
	text, err := p.Transcribe(context.Background(), []byte("x"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "second try" {
		t.Fatalf("text = %q", text)
	}
	if hits != 2 {
		t.Fatalf("hits = %d, want 2", hits)
	}
}

func TestElevenLabsSynthesize(t *testing.T) {
	pcm := []byte{0, 1, 2, 3, 4, 5}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/text-to-speech/voice-123" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("output_format"); got != "pcm_22050" {
			t.Errorf("output_format = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		for _, want := range []string{`"text":"good morning"`, `"model_id":"eleven_turbo_v2_5"`, `"similarity_boost":0.75`} {
			if !strings.Contains(string(body), want) {
				t.Errorf("body missing %s: %s", want, body)
			}
		}
		w.Write(pcm)
	}))
	defer srv.Close()

	p := NewElevenLabsProvider(ElevenLabsConfig{APIKey: "k", BaseURL: srv.URL, VoiceID: "voice-123"})
	got, err := p.Synthesize(context.Background(), "good morning")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(got) != string(pcm) {
		t.Fatalf("pcm = %v", got)
	}
	if p.NativeSampleRate() != 22050 {
		t.Fatalf("native rate = %d", p.NativeSampleRate())
	}
}

func TestElevenLabsDefaults(t *testing.T) {
	p := NewElevenLabsProvider(ElevenLabsConfig{APIKey: "k"})
	if p.cfg.BaseURL != "https://api.elevenlabs.io" {
		t.Fatalf("base url default = %q", p.cfg.BaseURL)
	}
	if p.cfg.STTModelID != "scribe_v2" || p.cfg.TTSModelID != "eleven_turbo_v2_5" {
		t.Fatalf("model defaults = %q %q", p.cfg.STTModelID, p.cfg.TTSModelID)
	}
	if p.cfg.VoiceID == "" {
		t.Fatal("voice default empty")
	}
}

func TestMockProvider(t *testing.T) {
	p := NewMockProvider()
	if text, err := p.Transcribe(context.Background(), nil); err != nil || text != "" {
		t.Fatalf("empty input: %q %v", text, err)
	}
	first, _ := p.Transcribe(context.Background(), []byte("x"))
	second, _ := p.Transcribe(context.Background(), []byte("x"))
	if first == "" || second == "" || first == second {
		t.Fatalf("mock lines should cycle: %q %q", first, second)
	}
	pcm, err := p.Synthesize(context.Background(), "hi")
	if err != nil || len(pcm) == 0 {
		t.Fatalf("mock synth: %d %v", len(pcm), err)
	}
}
