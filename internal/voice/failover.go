package voice

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
)

// NewFailoverTranscriber builds a transcriber that prefers the primary
// backend and switches to the fallback when primary fails. Once the
// fallback succeeds it stays active until it fails; then primary is
// retried. Cancellation and deadline errors never trigger failover.
func NewFailoverTranscriber(primary, fallback Transcriber) Transcriber {
	return &failoverTranscriber{
		primary:  primary,
		fallback: fallback,
	}
}

type failoverTranscriber struct {
	fallbackActive atomic.Bool
	primary        Transcriber
	fallback       Transcriber
}

func (t *failoverTranscriber) Transcribe(ctx context.Context, audioContent []byte, languageCode, filename, contentType string) (string, error) {
	if t.fallbackActive.Load() {
		text, fbErr := t.fallback.Transcribe(ctx, audioContent, languageCode, filename, contentType)
		if fbErr == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", fbErr
		}
		// Fallback failed after being active; try primary again.
		text, prErr := t.primary.Transcribe(ctx, audioContent, languageCode, filename, contentType)
		if prErr == nil {
			t.fallbackActive.Store(false)
			log.Printf("voice: stt primary recovered, fallback deactivated")
			return text, nil
		}
		return "", fmt.Errorf("stt fallback failed: %v; stt primary failed: %w", fbErr, prErr)
	}

	text, prErr := t.primary.Transcribe(ctx, audioContent, languageCode, filename, contentType)
	if prErr == nil {
		return text, nil
	}
	if ctx.Err() != nil {
		return "", prErr
	}

	text, fbErr := t.fallback.Transcribe(ctx, audioContent, languageCode, filename, contentType)
	if fbErr != nil {
		return "", fmt.Errorf("stt primary failed: %v; stt fallback failed: %w", prErr, fbErr)
	}
	t.fallbackActive.Store(true)
	log.Printf("voice: stt primary failed, fallback activated: %v", prErr)
	return text, nil
}
