package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/code-murf/kisaanai/internal/memory"
	"github.com/code-murf/kisaanai/internal/reliability"
)

const (
	groqDefaultBaseURL = "https://api.groq.com/openai/v1"
	groqWhisperModel   = "whisper-large-v3"

	groqRetryMax    = 1
	groqRetryBase   = 300 * time.Millisecond
	groqRetryCap    = 2 * time.Second
	groqMaxTokens   = 500
	groqTemperature = 0.7
)

const farmerSystemPrompt = `You are a helpful agricultural assistant for Indian farmers.
Respond in a conversational, easy-to-understand manner.
Keep responses concise but informative.
If the question is about:
- Prices: Mention checking local mandi rates
- Weather: Suggest checking weather forecasts
- Diseases: Provide initial guidance but recommend expert consultation for serious issues
- Government schemes: Provide general information but suggest visiting official sources

Always be respectful and helpful. Use simple language that farmers can understand.`

// GroqConfig configures the Groq chat-completion and Whisper clients.
type GroqConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// GroqClient answers transcribed queries via chat completions and serves
// as the Whisper transcription fallback.
type GroqClient struct {
	cfg    GroqConfig
	client *http.Client
}

func NewGroqClient(cfg GroqConfig) *GroqClient {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = groqDefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "llama-3.3-70b-versatile"
	}
	return &GroqClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *GroqClient) Respond(ctx context.Context, text, languageCode string, history []memory.TurnRecord) (string, error) {
	messages := make([]chatMessage, 0, len(history)+2)
	messages = append(messages, chatMessage{Role: "system", Content: farmerSystemPrompt})
	for _, turn := range history {
		role := turn.Role
		if role != "user" && role != "assistant" {
			continue
		}
		messages = append(messages, chatMessage{Role: role, Content: turn.Content})
	}
	if languageCode != "" {
		text = fmt.Sprintf("%s\n\nAnswer in the language of code %s.", text, languageCode)
	}
	messages = append(messages, chatMessage{Role: "user", Content: text})

	payload, err := json.Marshal(map[string]any{
		"model":       c.cfg.Model,
		"messages":    messages,
		"temperature": groqTemperature,
		"max_tokens":  groqMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= groqRetryMax; attempt++ {
		if attempt > 0 {
			backoff := reliability.ExponentialBackoff(attempt, groqRetryBase, groqRetryCap)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		out, status, err := c.chatCompletion(ctx, payload)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil || !reliability.IsRetryableHTTPStatus(status) {
			break
		}
	}
	return "", lastErr
}

func (c *GroqClient) chatCompletion(ctx context.Context, payload []byte) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", res.StatusCode, fmt.Errorf("groq chat status %d: %s", res.StatusCode, string(detail))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", res.StatusCode, fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", res.StatusCode, fmt.Errorf("groq chat returned no choices")
	}
	return parsed.Choices[0].Message.Content, res.StatusCode, nil
}

// Transcribe sends the clip to Groq Whisper. Groq accepts WebM directly,
// so no container normalization is needed here.
func (c *GroqClient) Transcribe(ctx context.Context, audioContent []byte, _ string, filename, contentType string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := makeFilePart(mw, "file", filename, contentType)
	if err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}
	if _, err := part.Write(audioContent); err != nil {
		return "", fmt.Errorf("write audio part: %w", err)
	}
	if err := mw.WriteField("model", groqWhisperModel); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("write response_format field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("groq stt status %d: %s", res.StatusCode, string(detail))
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode stt response: %w", err)
	}
	return parsed.Text, nil
}
