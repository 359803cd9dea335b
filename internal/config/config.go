package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the calling assistant backend.
type Config struct {
	BindAddr              string
	PublicURL             string
	ShutdownTimeout       time.Duration
	CallInactivityTimeout time.Duration
	MetricsNamespace      string

	AllowAnyOrigin bool

	// JWTSecret enables bearer-token auth on the REST surface when set.
	JWTSecret string

	TwilioAccountSID string
	TwilioAuthToken  string

	ElevenLabsAPIKey   string
	ElevenLabsBaseURL  string
	ElevenLabsVoiceID  string
	ElevenLabsSTTModel string
	ElevenLabsTTSModel string

	OpenAIAPIKey string
	OpenAIModel  string

	SupabaseURL        string
	SupabaseServiceKey string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRefreshToken string
	CalendarID         string

	DatabaseURL string

	InitialTurnDelay time.Duration
	TurnTimeout      time.Duration
	// AccumulateBytes is the caller-audio buffer size that triggers a
	// conversation turn, in mu-law bytes at 8 kHz.
	AccumulateBytes int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8080"),
		PublicURL:          firstEnv("PUBLIC_URL", "NGROK_PUBLIC_URL"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "callconnect"),
		AllowAnyOrigin:     false,
		JWTSecret:          stringsTrimSpace("SUPABASE_JWT_SECRET"),
		TwilioAccountSID:   firstEnv("TWILIO_SID", "TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:    firstEnv("TWILIO_AUTH_TOKEN", "TWILIO_API_KEY"),
		ElevenLabsAPIKey:   stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsBaseURL:  envOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsVoiceID:  envOrDefault("ELEVENLABS_TTS_VOICE_ID", "EXAVITQu4vr4xnSDxMaL"),
		ElevenLabsSTTModel: envOrDefault("ELEVENLABS_STT_MODEL_ID", "scribe_v2"),
		ElevenLabsTTSModel: envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_turbo_v2_5"),
		OpenAIAPIKey:       stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIModel:        envOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		SupabaseURL:        stringsTrimSpace("SUPABASE_URL"),
		SupabaseServiceKey: firstEnv("SUPABASE_SERVICE_ROLE_KEY", "SUPABASE_ANON_KEY"),
		GoogleClientID:     stringsTrimSpace("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: stringsTrimSpace("GOOGLE_CLIENT_SECRET"),
		GoogleRefreshToken: stringsTrimSpace("GOOGLE_REFRESH_TOKEN"),
		CalendarID:         envOrDefault("CALENDAR_ID", "primary"),
		DatabaseURL:        stringsTrimSpace("DATABASE_URL"),

		ShutdownTimeout:       15 * time.Second,
		CallInactivityTimeout: 2 * time.Minute,
		InitialTurnDelay:      time.Second,
		TurnTimeout:           45 * time.Second,
		AccumulateBytes:       16000,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CallInactivityTimeout, err = durationFromEnv("APP_CALL_INACTIVITY_TIMEOUT", cfg.CallInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.InitialTurnDelay, err = durationFromEnv("APP_INITIAL_TURN_DELAY", cfg.InitialTurnDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.TurnTimeout, err = durationFromEnv("APP_TURN_TIMEOUT", cfg.TurnTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.AccumulateBytes, err = intFromEnv("APP_ACCUMULATE_BYTES", cfg.AccumulateBytes)
	if err != nil {
		return Config{}, err
	}

	if cfg.CallInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_CALL_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.AccumulateBytes <= 0 {
		return Config{}, fmt.Errorf("APP_ACCUMULATE_BYTES must be positive")
	}
	if cfg.TwilioAccountSID != "" && !strings.HasPrefix(cfg.TwilioAccountSID, "AC") {
		return Config{}, fmt.Errorf("TWILIO_SID must start with AC")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := stringsTrimSpace(key); v != "" {
			return v
		}
	}
	return ""
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
