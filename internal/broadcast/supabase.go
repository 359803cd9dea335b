package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type SupabaseConfig struct {
	URL        string
	ServiceKey string
	HTTPClient *http.Client
}

// SupabaseSink publishes transcript lines over Supabase Realtime
// broadcast so the dashboard can follow a call live. Each call gets
// its own topic.
type SupabaseSink struct {
	cfg    SupabaseConfig
	client *http.Client
}

func NewSupabaseSink(cfg SupabaseConfig) *SupabaseSink {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &SupabaseSink{cfg: cfg, client: client}
}

func (s *SupabaseSink) Publish(ctx context.Context, event TranscriptEvent) error {
	if event.CallSID == "" {
		return nil
	}
	ts := event.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}

	body, err := json.Marshal(map[string]any{
		"messages": []map[string]any{{
			"topic": "call:" + event.CallSID,
			"event": "transcript",
			"payload": map[string]any{
				"speaker":   event.Speaker,
				"text":      event.Text,
				"timestamp": ts,
			},
		}},
	})
	if err != nil {
		return err
	}

	endpoint := strings.TrimRight(s.cfg.URL, "/") + "/realtime/v1/api/broadcast"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.cfg.ServiceKey)
	req.Header.Set("Authorization", "Bearer "+s.cfg.ServiceKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("broadcast request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("broadcast status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
