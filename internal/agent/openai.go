package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/callconnect/backend/internal/reliability"
)

const fallbackReply = "Could you please repeat that?"

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	MaxRetries  int
	BackoffBase time.Duration
}

// OpenAIResponder generates replies with chat completions, retrying
// rate-limited requests with capped exponential backoff.
type OpenAIResponder struct {
	cfg    OpenAIConfig
	client *openai.Client
	sleep  func(context.Context, time.Duration) error
}

func NewOpenAIResponder(cfg OpenAIConfig) *OpenAIResponder {
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 150
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 4
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIResponder{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientCfg),
		sleep:  sleepCtx,
	}
}

func (r *OpenAIResponder) Respond(ctx context.Context, messages []Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       r.cfg.Model,
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.Temperature,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	var lastErr error
	for attempt := 0; attempt < r.cfg.MaxRetries; attempt++ {
		resp, err := r.client.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
				return fallbackReply, nil
			}
			return strings.TrimSpace(resp.Choices[0].Message.Content), nil
		}
		lastErr = err

		var apiErr *openai.APIError
		if !errors.As(err, &apiErr) || !reliability.IsRetryableHTTPStatus(apiErr.HTTPStatusCode) {
			return "", fmt.Errorf("chat completion: %w", err)
		}
		if attempt == r.cfg.MaxRetries-1 {
			break
		}

		wait := reliability.ExponentialBackoff(attempt, r.cfg.BackoffBase, 30*time.Second)
		if err := r.sleep(ctx, wait); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("chat completion after %d attempts: %w", r.cfg.MaxRetries, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
