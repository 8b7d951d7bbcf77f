package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/code-murf/kisaanai/internal/audio"
)

type options struct {
	baseURL        string
	userID         string
	language       string
	turns          int
	clipMS         int
	interTurnDelay time.Duration
	requestTimeout time.Duration
	bargeIn        bool
	bargeInDelay   time.Duration
	verbose        bool
}

type createSessionRequest struct {
	UserID string `json:"user_id,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type queryResponse struct {
	Query     string `json:"query"`
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voiceperf: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "voiceperf: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var interTurnMS int
	var requestTimeoutMS int
	var bargeInDelayMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "kisaanai base URL")
	flag.StringVar(&cfg.userID, "user-id", "perf-replay", "user_id used for the synthetic session")
	flag.StringVar(&cfg.language, "language", "hi-IN", "language code sent with each query")
	flag.IntVar(&cfg.turns, "turns", 10, "number of voice queries to send")
	flag.IntVar(&cfg.clipMS, "clip-ms", 800, "synthetic clip length in milliseconds")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 180, "delay between queries in milliseconds")
	flag.IntVar(&requestTimeoutMS, "request-timeout-ms", 30000, "per-query timeout in milliseconds")
	flag.BoolVar(&cfg.bargeIn, "barge-in", false, "interrupt each query with a second one and expect HTTP 499")
	flag.IntVar(&bargeInDelayMS, "barge-in-delay-ms", 150, "delay before the interrupting query in milliseconds")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.clipMS < 100 || cfg.clipMS > 10000 {
		return options{}, fmt.Errorf("clip-ms must be in [100,10000]")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if requestTimeoutMS < 1000 {
		requestTimeoutMS = 1000
	}
	if bargeInDelayMS < 0 {
		bargeInDelayMS = 0
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.requestTimeout = time.Duration(requestTimeoutMS) * time.Millisecond
	cfg.bargeInDelay = time.Duration(bargeInDelayMS) * time.Millisecond
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: cfg.requestTimeout}
	sessionID, err := createSession(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, cfg.baseURL, sessionID)
	}()

	clip, err := toneClip(cfg.clipMS)
	if err != nil {
		return fmt.Errorf("build synthetic clip: %w", err)
	}

	if cfg.verbose {
		fmt.Printf("voiceperf: session=%s turns=%d clip_bytes=%d barge_in=%v\n",
			sessionID, cfg.turns, len(clip), cfg.bargeIn)
	}

	var latencies []time.Duration
	var bargedIn int
	for i := 0; i < cfg.turns; i++ {
		if cfg.bargeIn {
			interrupted, d, err := runBargeInTurn(ctx, httpClient, cfg, sessionID, clip)
			if err != nil {
				return fmt.Errorf("turn %d: %w", i+1, err)
			}
			if interrupted {
				bargedIn++
			}
			latencies = append(latencies, d)
		} else {
			start := time.Now()
			res, status, err := postQuery(ctx, httpClient, cfg, sessionID, clip)
			if err != nil {
				return fmt.Errorf("turn %d: %w", i+1, err)
			}
			if status != http.StatusOK {
				return fmt.Errorf("turn %d: HTTP %d", i+1, status)
			}
			d := time.Since(start)
			latencies = append(latencies, d)
			if cfg.verbose {
				fmt.Printf("voiceperf: turn %d/%d %.0fms query=%q\n", i+1, cfg.turns, d.Seconds()*1000, res.Query)
			}
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	printSummary(latencies, bargedIn, cfg.bargeIn)
	return nil
}

// runBargeInTurn fires a query, waits briefly, then fires a second one on
// the same session. The first must come back 499 and the second 200.
func runBargeInTurn(ctx context.Context, client *http.Client, cfg options, sessionID string, clip []byte) (bool, time.Duration, error) {
	type outcome struct {
		status int
		err    error
	}
	firstCh := make(chan outcome, 1)
	go func() {
		_, status, err := postQuery(ctx, client, cfg, sessionID, clip)
		firstCh <- outcome{status: status, err: err}
	}()

	time.Sleep(cfg.bargeInDelay)

	start := time.Now()
	_, status, err := postQuery(ctx, client, cfg, sessionID, clip)
	if err != nil {
		return false, 0, fmt.Errorf("interrupting query: %w", err)
	}
	if status != http.StatusOK {
		return false, 0, fmt.Errorf("interrupting query: HTTP %d", status)
	}
	d := time.Since(start)

	first := <-firstCh
	if first.err != nil {
		return false, 0, fmt.Errorf("interrupted query: %w", first.err)
	}
	// 499 means the barge-in landed mid-pipeline; 200 means the first
	// query finished before the interrupt arrived. Both are valid runs.
	switch first.status {
	case 499:
		return true, d, nil
	case http.StatusOK:
		return false, d, nil
	default:
		return false, 0, fmt.Errorf("interrupted query: HTTP %d", first.status)
	}
}

func postQuery(ctx context.Context, client *http.Client, cfg options, sessionID string, clip []byte) (*queryResponse, int, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "clip.wav")
	if err != nil {
		return nil, 0, err
	}
	if _, err := part.Write(clip); err != nil {
		return nil, 0, err
	}
	if err := mw.WriteField("session_id", sessionID); err != nil {
		return nil, 0, err
	}
	if err := mw.WriteField("language", cfg.language); err != nil {
		return nil, 0, err
	}
	if err := mw.Close(); err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/voice/query", &body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return nil, res.StatusCode, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, res.StatusCode, nil
	}

	var out queryResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, res.StatusCode, err
	}
	return &out, res.StatusCode, nil
}

func createSession(ctx context.Context, client *http.Client, cfg options) (string, error) {
	payload, err := json.Marshal(createSessionRequest{UserID: cfg.userID})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/voice/session", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out createSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, baseURL+"/v1/voice/session/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

// toneClip builds a 440Hz mono WAV clip so transcription backends get
// non-silent audio of realistic size.
func toneClip(clipMS int) ([]byte, error) {
	const sampleRate = 16000
	samples := sampleRate * clipMS / 1000
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/sampleRate))
		pcm[2*i] = byte(v)
		pcm[2*i+1] = byte(v >> 8)
	}
	return audio.EncodeWAVPCM16LE(pcm, sampleRate)
}

func printSummary(latencies []time.Duration, bargedIn int, bargeIn bool) {
	if len(latencies) == 0 {
		fmt.Println("voiceperf: no completed turns")
		return
	}
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	pct := func(q float64) time.Duration {
		idx := int(math.Ceil(q*float64(len(sorted)))) - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	}

	fmt.Printf("voiceperf: turns=%d avg=%.0fms p50=%.0fms p95=%.0fms max=%.0fms\n",
		len(sorted),
		(sum / time.Duration(len(sorted))).Seconds()*1000,
		pct(0.50).Seconds()*1000,
		pct(0.95).Seconds()*1000,
		sorted[len(sorted)-1].Seconds()*1000,
	)
	if bargeIn {
		fmt.Printf("voiceperf: barge-ins landed %d/%d\n", bargedIn, len(sorted))
	}
}
