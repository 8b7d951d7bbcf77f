package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/code-murf/kisaanai/internal/config"
	"github.com/code-murf/kisaanai/internal/httpapi"
	"github.com/code-murf/kisaanai/internal/memory"
	"github.com/code-murf/kisaanai/internal/observability"
	"github.com/code-murf/kisaanai/internal/session"
	"github.com/code-murf/kisaanai/internal/voice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	window := observability.NewStageWindow(512)

	ctx := context.Background()
	memoryStore, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("memory store init failed: %v", err)
	}
	defer memoryStore.Close()

	var (
		transcriber      voice.Transcriber
		responder        voice.Responder
		synthesizer      voice.Synthesizer
		resolvedProvider string
	)

	voiceMode := strings.ToLower(strings.TrimSpace(cfg.VoiceProvider))
	if voiceMode == "" {
		voiceMode = "auto"
	}

	trySarvam := func() bool {
		if cfg.SarvamAPIKey == "" || cfg.GroqAPIKey == "" {
			return false
		}
		sarvam := voice.NewSarvamClient(voice.SarvamConfig{
			APIKey:     cfg.SarvamAPIKey,
			BaseURL:    cfg.SarvamBaseURL,
			STTModel:   cfg.SarvamSTTModel,
			TTSModel:   cfg.SarvamTTSModel,
			TTSSpeaker: cfg.SarvamTTSSpeaker,
		})
		groq := voice.NewGroqClient(voice.GroqConfig{
			APIKey:  cfg.GroqAPIKey,
			BaseURL: cfg.GroqBaseURL,
			Model:   cfg.GroqModel,
		})
		// Groq Whisper backs up Sarvam STT when it is down.
		transcriber = voice.NewFailoverTranscriber(sarvam, groq)
		responder = groq
		synthesizer = sarvam
		resolvedProvider = "sarvam"
		log.Printf("voice provider: sarvam + groq (whisper fallback)")
		return true
	}

	useMock := func() {
		p := voice.NewMockProvider()
		transcriber = p
		responder = p
		synthesizer = p
		resolvedProvider = "mock"
	}

	switch voiceMode {
	case "sarvam":
		if !trySarvam() {
			log.Fatalf("VOICE_PROVIDER=sarvam but SARVAM_API_KEY or GROQ_API_KEY is not set")
		}
	case "mock":
		useMock()
		log.Printf("voice provider: mock")
	case "auto":
		if !trySarvam() {
			useMock()
			log.Printf("voice provider: mock (sarvam or groq key not set)")
		}
	default:
		log.Fatalf("invalid VOICE_PROVIDER: %q (expected auto|sarvam|mock)", cfg.VoiceProvider)
	}
	cfg.VoiceProvider = resolvedProvider

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveSessionCount()))
		metrics.ActiveRequests.Set(float64(sessions.ActiveRequestCount()))
	})
	sessions.SetBargeInHook(func(sessionID, cancelledRequestID string) {
		metrics.BargeIns.Inc()
		log.Printf("barge-in: session %s cancelled request %s", sessionID, cancelledRequestID)
	})

	pipeline := voice.NewPipeline(
		transcriber,
		responder,
		synthesizer,
		memoryStore,
		metrics,
		window,
		voice.Timeouts{
			Transcribe: cfg.TranscribeTimeout,
			Respond:    cfg.RespondTimeout,
			Synthesize: cfg.SynthesizeTimeout,
		},
	)

	api := httpapi.New(cfg, sessions, pipeline, metrics, window)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, cfg.JanitorInterval)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
