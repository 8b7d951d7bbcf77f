package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the farmer voice service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	VoiceProvider string

	SessionInactivityTimeout time.Duration
	JanitorInterval          time.Duration

	TranscribeTimeout  time.Duration
	RespondTimeout     time.Duration
	SynthesizeTimeout  time.Duration
	MaxConcurrentCalls int

	SarvamAPIKey     string
	SarvamBaseURL    string
	SarvamSTTModel   string
	SarvamTTSModel   string
	SarvamTTSSpeaker string

	GroqAPIKey  string
	GroqBaseURL string
	GroqModel   string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "kisaanai"),
		AllowAnyOrigin:   false,
		VoiceProvider:    envOrDefault("VOICE_PROVIDER", "auto"),
		SarvamAPIKey:     stringsTrimSpace("SARVAM_API_KEY"),
		SarvamBaseURL:    envOrDefault("SARVAM_BASE_URL", "https://api.sarvam.ai"),
		SarvamSTTModel:   envOrDefault("SARVAM_STT_MODEL", "saarika:v2.5"),
		SarvamTTSModel:   envOrDefault("SARVAM_TTS_MODEL", "bulbul:v1"),
		SarvamTTSSpeaker: envOrDefault("SARVAM_TTS_SPEAKER", "meera"),
		GroqAPIKey:       stringsTrimSpace("GROQ_API_KEY"),
		GroqBaseURL:      envOrDefault("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		GroqModel:        envOrDefault("GROQ_MODEL", "llama-3.3-70b-versatile"),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 5 * time.Minute,
		JanitorInterval:          5 * time.Second,
		TranscribeTimeout:        5 * time.Second,
		RespondTimeout:           10 * time.Second,
		SynthesizeTimeout:        5 * time.Second,
		MaxConcurrentCalls:       50,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("VOICE_SESSION_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.JanitorInterval, err = durationFromEnv("VOICE_JANITOR_INTERVAL", cfg.JanitorInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.TranscribeTimeout, err = durationFromEnv("VOICE_STT_TIMEOUT", cfg.TranscribeTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RespondTimeout, err = durationFromEnv("VOICE_LLM_TIMEOUT", cfg.RespondTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SynthesizeTimeout, err = durationFromEnv("VOICE_TTS_TIMEOUT", cfg.SynthesizeTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxConcurrentCalls, err = intFromEnv("VOICE_MAX_CONCURRENT", cfg.MaxConcurrentCalls)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("VOICE_SESSION_TIMEOUT must be at least 5s")
	}
	if cfg.JanitorInterval <= 0 {
		return Config{}, fmt.Errorf("VOICE_JANITOR_INTERVAL must be positive")
	}
	if cfg.TranscribeTimeout <= 0 || cfg.RespondTimeout <= 0 || cfg.SynthesizeTimeout <= 0 {
		return Config{}, fmt.Errorf("voice stage timeouts must be positive")
	}
	if cfg.MaxConcurrentCalls <= 0 {
		return Config{}, fmt.Errorf("VOICE_MAX_CONCURRENT must be positive")
	}
	switch cfg.VoiceProvider {
	case "auto", "sarvam", "mock":
	default:
		return Config{}, fmt.Errorf("VOICE_PROVIDER must be auto, sarvam, or mock")
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
