package voice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSarvamTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/speech-to-text" {
			t.Errorf("path = %q, want /speech-to-text", r.URL.Path)
		}
		if got := r.Header.Get("api-subscription-key"); got != "test-key" {
			t.Errorf("api-subscription-key = %q, want %q", got, "test-key")
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		if got := r.FormValue("model"); got != "saarika:v2.5" {
			t.Errorf("model = %q, want default saarika:v2.5", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("FormFile: %v", err)
		}
		defer file.Close()
		// WebM uploads are renamed to the OGG container.
		if header.Filename != "clip.ogg" {
			t.Errorf("filename = %q, want clip.ogg", header.Filename)
		}
		if ct := header.Header.Get("Content-Type"); ct != "audio/ogg" {
			t.Errorf("part content type = %q, want audio/ogg", ct)
		}
		json.NewEncoder(w).Encode(map[string]string{"transcript": "onion price in nashik"})
	}))
	defer srv.Close()

	c := NewSarvamClient(SarvamConfig{APIKey: "test-key", BaseURL: srv.URL})
	got, err := c.Transcribe(context.Background(), []byte("webm-bytes"), "hi-IN", "clip.webm", "audio/webm")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if got != "onion price in nashik" {
		t.Fatalf("Transcribe() = %q, want %q", got, "onion price in nashik")
	}
}

func TestSarvamTranscribeErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid audio", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewSarvamClient(SarvamConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := c.Transcribe(context.Background(), []byte("x"), "hi-IN", "a.wav", "audio/wav")
	if err == nil {
		t.Fatalf("Transcribe() error = nil, want status failure")
	}
	if !strings.Contains(err.Error(), "422") {
		t.Fatalf("error %q does not carry the status code", err)
	}
}

func TestSarvamSynthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/text-to-speech" {
			t.Errorf("path = %q, want /text-to-speech", r.URL.Path)
		}
		var payload struct {
			Inputs             []string `json:"inputs"`
			TargetLanguageCode string   `json:"target_language_code"`
			Speaker            string   `json:"speaker"`
			Model              string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if len(payload.Inputs) != 1 || payload.Inputs[0] != "namaste" {
			t.Errorf("inputs = %v, want [namaste]", payload.Inputs)
		}
		if payload.TargetLanguageCode != "hi-IN" {
			t.Errorf("target_language_code = %q, want hi-IN", payload.TargetLanguageCode)
		}
		if payload.Speaker != "meera" {
			t.Errorf("speaker = %q, want default meera", payload.Speaker)
		}
		if payload.Model != "bulbul:v1" {
			t.Errorf("model = %q, want default bulbul:v1", payload.Model)
		}
		json.NewEncoder(w).Encode(map[string][]string{"audios": {"YXVkaW8="}})
	}))
	defer srv.Close()

	c := NewSarvamClient(SarvamConfig{APIKey: "k", BaseURL: srv.URL})
	got, err := c.Synthesize(context.Background(), "namaste", "hi-IN")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if got != "YXVkaW8=" {
		t.Fatalf("Synthesize() = %q, want %q", got, "YXVkaW8=")
	}
}

func TestSarvamSynthesizeEmptyAudios(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string][]string{"audios": {}})
	}))
	defer srv.Close()

	c := NewSarvamClient(SarvamConfig{APIKey: "k", BaseURL: srv.URL})
	got, err := c.Synthesize(context.Background(), "namaste", "hi-IN")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if got != "" {
		t.Fatalf("Synthesize() = %q, want empty output for empty audios", got)
	}
}
