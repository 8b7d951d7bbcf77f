package voice

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/code-murf/kisaanai/internal/audio"
	"github.com/code-murf/kisaanai/internal/memory"
)

// MockProvider is a keyless local provider used for development and
// tests. It implements all three stage ports with canned behavior.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Transcribe(_ context.Context, audioContent []byte, _, _, _ string) (string, error) {
	if len(audioContent) == 0 {
		return "", nil
	}
	return "simulated farmer query", nil
}

func (p *MockProvider) Respond(_ context.Context, text, _ string, _ []memory.TurnRecord) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	return "This is a simulated answer. Please check your local mandi rates for current prices.", nil
}

func (p *MockProvider) Synthesize(_ context.Context, text, _ string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	// A short burst of silence wrapped as WAV, so clients can play it.
	wav, err := audio.EncodeWAVPCM16LE(make([]byte, 3200), 16000)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(wav), nil
}
