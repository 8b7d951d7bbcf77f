package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.MetricsNamespace != "kisaanai" {
		t.Fatalf("MetricsNamespace = %q, want %q", cfg.MetricsNamespace, "kisaanai")
	}
	if cfg.VoiceProvider != "auto" {
		t.Fatalf("VoiceProvider = %q, want %q", cfg.VoiceProvider, "auto")
	}
	if cfg.SessionInactivityTimeout != 5*time.Minute {
		t.Fatalf("SessionInactivityTimeout = %v, want 5m", cfg.SessionInactivityTimeout)
	}
	if cfg.TranscribeTimeout != 5*time.Second || cfg.RespondTimeout != 10*time.Second || cfg.SynthesizeTimeout != 5*time.Second {
		t.Fatalf("stage timeouts = %v/%v/%v, want 5s/10s/5s",
			cfg.TranscribeTimeout, cfg.RespondTimeout, cfg.SynthesizeTimeout)
	}
	if cfg.MaxConcurrentCalls != 50 {
		t.Fatalf("MaxConcurrentCalls = %d, want 50", cfg.MaxConcurrentCalls)
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")
	t.Setenv("VOICE_SESSION_TIMEOUT", "90s")
	t.Setenv("VOICE_LLM_TIMEOUT", "4s")
	t.Setenv("VOICE_MAX_CONCURRENT", "8")
	t.Setenv("VOICE_PROVIDER", "mock")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.SessionInactivityTimeout != 90*time.Second {
		t.Fatalf("SessionInactivityTimeout = %v, want 90s", cfg.SessionInactivityTimeout)
	}
	if cfg.RespondTimeout != 4*time.Second {
		t.Fatalf("RespondTimeout = %v, want 4s", cfg.RespondTimeout)
	}
	if cfg.MaxConcurrentCalls != 8 {
		t.Fatalf("MaxConcurrentCalls = %d, want 8", cfg.MaxConcurrentCalls)
	}
	if cfg.VoiceProvider != "mock" {
		t.Fatalf("VoiceProvider = %q, want %q", cfg.VoiceProvider, "mock")
	}
}

func TestLoadRejectsTinySessionTimeout(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("VOICE_SESSION_TIMEOUT", "2s")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want rejection of sub-5s session timeout")
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("VOICE_PROVIDER", "polly")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want rejection of unknown provider")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("VOICE_STT_TIMEOUT", "soon")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want parse failure")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"VOICE_PROVIDER",
		"VOICE_SESSION_TIMEOUT",
		"VOICE_JANITOR_INTERVAL",
		"VOICE_STT_TIMEOUT",
		"VOICE_LLM_TIMEOUT",
		"VOICE_TTS_TIMEOUT",
		"VOICE_MAX_CONCURRENT",
		"SARVAM_API_KEY",
		"SARVAM_BASE_URL",
		"SARVAM_STT_MODEL",
		"SARVAM_TTS_MODEL",
		"SARVAM_TTS_SPEAKER",
		"GROQ_API_KEY",
		"GROQ_BASE_URL",
		"GROQ_MODEL",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
