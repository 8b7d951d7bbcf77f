package voice

import (
	"context"

	"github.com/code-murf/kisaanai/internal/memory"
)

// Transcriber converts an uploaded audio clip into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioContent []byte, languageCode, filename, contentType string) (string, error)
}

// Responder produces the assistant answer for a transcribed query.
// history carries recent conversation turns for context; it may be nil.
type Responder interface {
	Respond(ctx context.Context, text, languageCode string, history []memory.TurnRecord) (string, error)
}

// Synthesizer converts the answer text into base64-encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, languageCode string) (string, error)
}
