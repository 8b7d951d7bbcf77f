package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/code-murf/kisaanai/internal/audio"
)

const sarvamDefaultBaseURL = "https://api.sarvam.ai"

// SarvamConfig configures the Sarvam AI speech clients.
type SarvamConfig struct {
	APIKey     string
	BaseURL    string
	STTModel   string
	TTSModel   string
	TTSSpeaker string
}

// SarvamClient talks to Sarvam AI for speech-to-text and text-to-speech.
type SarvamClient struct {
	cfg    SarvamConfig
	client *http.Client
}

func NewSarvamClient(cfg SarvamConfig) *SarvamClient {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = sarvamDefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if strings.TrimSpace(cfg.STTModel) == "" {
		cfg.STTModel = "saarika:v2.5"
	}
	if strings.TrimSpace(cfg.TTSModel) == "" {
		cfg.TTSModel = "bulbul:v1"
	}
	if strings.TrimSpace(cfg.TTSSpeaker) == "" {
		cfg.TTSSpeaker = "meera"
	}
	return &SarvamClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *SarvamClient) Transcribe(ctx context.Context, audioContent []byte, _ string, filename, contentType string) (string, error) {
	// Browsers record WebM; Sarvam accepts the OGG container.
	filename, contentType = audio.NormalizeUpload(filename, contentType)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := makeFilePart(mw, "file", filename, contentType)
	if err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}
	if _, err := part.Write(audioContent); err != nil {
		return "", fmt.Errorf("write audio part: %w", err)
	}
	if err := mw.WriteField("model", c.cfg.STTModel); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/speech-to-text", &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("api-subscription-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("sarvam stt status %d: %s", res.StatusCode, string(detail))
	}

	var parsed struct {
		Transcript string `json:"transcript"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode stt response: %w", err)
	}
	return parsed.Transcript, nil
}

func (c *SarvamClient) Synthesize(ctx context.Context, text, languageCode string) (string, error) {
	payload := map[string]any{
		"inputs":               []string{text},
		"target_language_code": languageCode,
		"speaker":              c.cfg.TTSSpeaker,
		"pitch":                0,
		"pace":                 1.0,
		"loudness":             1.5,
		"speech_sample_rate":   16000,
		"enable_preprocessing": true,
		"model":                c.cfg.TTSModel,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal tts payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/text-to-speech", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("api-subscription-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("sarvam tts status %d: %s", res.StatusCode, string(detail))
	}

	var parsed struct {
		Audios []string `json:"audios"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode tts response: %w", err)
	}
	if len(parsed.Audios) == 0 {
		return "", nil
	}
	return parsed.Audios[0], nil
}

// makeFilePart creates a form file part carrying an explicit content type;
// multipart.CreateFormFile always stamps application/octet-stream.
func makeFilePart(mw *multipart.Writer, fieldName, filename, contentType string) (io.Writer, error) {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fieldName, filename))
	header.Set("Content-Type", contentType)
	return mw.CreatePart(header)
}
