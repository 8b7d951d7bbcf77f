package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/code-murf/kisaanai/internal/config"
	"github.com/code-murf/kisaanai/internal/observability"
	"github.com/code-murf/kisaanai/internal/session"
	"github.com/code-murf/kisaanai/internal/voice"
)

type runnerFunc func(ctx context.Context, req voice.Request) (*voice.Result, error)

func (f runnerFunc) Run(ctx context.Context, req voice.Request) (*voice.Result, error) {
	return f(ctx, req)
}

func okRunner(ctx context.Context, req voice.Request) (*voice.Result, error) {
	return &voice.Result{
		Query:       "onion price",
		Response:    "Check your local mandi rates.",
		AudioBase64: "YXVkaW8=",
		Language:    req.Language,
		SessionID:   req.SessionID,
	}, nil
}

func newTestServer(t *testing.T, runner Runner, mutate ...func(*config.Config)) *httptest.Server {
	t.Helper()
	cfg := config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
		MaxConcurrentCalls:       50,
		VoiceProvider:            "mock",
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	metrics := observability.NewMetricsWith("test_httpapi", prometheus.NewRegistry())
	window := observability.NewStageWindow(128)
	srv := New(cfg, sessions, runner, metrics, window)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postVoiceQuery(t *testing.T, baseURL, sessionID, language string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "clip.wav")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write([]byte("RIFFxxxxWAVE")); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	if sessionID != "" {
		_ = mw.WriteField("session_id", sessionID)
	}
	if language != "" {
		_ = mw.WriteField("language", language)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	res, err := http.Post(baseURL+"/v1/voice/query", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST /v1/voice/query error = %v", err)
	}
	return res
}

func TestVoiceQueryAutoCreatesSession(t *testing.T) {
	ts := newTestServer(t, runnerFunc(okRunner))

	res := postVoiceQuery(t, ts.URL, "", "hi-IN")
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var result voice.Result
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.SessionID == "" {
		t.Fatalf("missing session_id in response: %+v", result)
	}
	if result.Query != "onion price" {
		t.Fatalf("query = %q, want %q", result.Query, "onion price")
	}
}

func TestVoiceQueryUnknownSessionFallsThroughToFresh(t *testing.T) {
	ts := newTestServer(t, runnerFunc(okRunner))

	res := postVoiceQuery(t, ts.URL, "no-such-session", "hi-IN")
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var result voice.Result
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.SessionID == "" || result.SessionID == "no-such-session" {
		t.Fatalf("session_id = %q, want a freshly created id", result.SessionID)
	}
}

func TestVoiceQueryBargeIn(t *testing.T) {
	var calls atomic.Int64
	firstStarted := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context, req voice.Request) (*voice.Result, error) {
		if calls.Add(1) == 1 {
			close(firstStarted)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return okRunner(ctx, req)
	})
	ts := newTestServer(t, runner)

	sessionID := createSession(t, ts.URL, "farmer-1")

	firstDone := make(chan int, 1)
	go func() {
		res := postVoiceQuery(t, ts.URL, sessionID, "hi-IN")
		defer res.Body.Close()
		firstDone <- res.StatusCode
	}()

	select {
	case <-firstStarted:
	case <-time.After(5 * time.Second):
		t.Fatalf("first request never reached the runner")
	}

	second := postVoiceQuery(t, ts.URL, sessionID, "hi-IN")
	defer second.Body.Close()
	if second.StatusCode != http.StatusOK {
		t.Fatalf("second request status = %d, want %d", second.StatusCode, http.StatusOK)
	}

	select {
	case status := <-firstDone:
		if status != statusClientClosedRequest {
			t.Fatalf("first request status = %d, want %d", status, statusClientClosedRequest)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("first request never unwound after barge-in")
	}
}

func TestVoiceQueryStageTimeoutMapsTo504(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context, req voice.Request) (*voice.Result, error) {
		return nil, &voice.StageError{Stage: voice.StageRespond, Timeout: true, Err: context.DeadlineExceeded}
	})
	ts := newTestServer(t, runner)

	res := postVoiceQuery(t, ts.URL, "", "hi-IN")
	defer res.Body.Close()
	if res.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusGatewayTimeout)
	}
}

func TestVoiceQueryStageFailureMapsTo502(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context, req voice.Request) (*voice.Result, error) {
		return nil, &voice.StageError{Stage: voice.StageTranscribe, Err: voice.ErrEmptyStageOutput}
	})
	ts := newTestServer(t, runner)

	res := postVoiceQuery(t, ts.URL, "", "hi-IN")
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadGateway)
	}
}

func TestVoiceQueryCapacityMapsTo503(t *testing.T) {
	blocked := make(chan struct{})
	started := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context, req voice.Request) (*voice.Result, error) {
		close(started)
		<-blocked
		return okRunner(ctx, req)
	})
	ts := newTestServer(t, runner, func(cfg *config.Config) {
		cfg.MaxConcurrentCalls = 1
	})

	go func() {
		res := postVoiceQuery(t, ts.URL, "", "hi-IN")
		res.Body.Close()
	}()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatalf("first request never reached the runner")
	}

	res := postVoiceQuery(t, ts.URL, "", "hi-IN")
	defer res.Body.Close()
	close(blocked)
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestVoiceQueryOversizedUploadRejected(t *testing.T) {
	var runnerCalls atomic.Int64
	runner := runnerFunc(func(ctx context.Context, req voice.Request) (*voice.Result, error) {
		runnerCalls.Add(1)
		return okRunner(ctx, req)
	})
	cfg := config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
		MaxConcurrentCalls:       50,
	}
	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	metrics := observability.NewMetricsWith("test_httpapi", prometheus.NewRegistry())
	srv := New(cfg, sessions, runner, metrics, observability.NewStageWindow(128))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "clip.wav")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(bytes.Repeat([]byte("a"), 12<<20)); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/voice/query", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
	if got := runnerCalls.Load(); got != 0 {
		t.Fatalf("runner called %d times for an oversized upload, want 0", got)
	}
	if got := sessions.ActiveSessionCount(); got != 0 {
		t.Fatalf("oversized upload created %d sessions, want 0", got)
	}
}

func TestVoiceQueryFallbackSessionStillCancellable(t *testing.T) {
	// When the provided session id is unusable the handler falls back to
	// a fresh session; the request must be registered under it so a
	// cancel still reaches the running pipeline.
	sessionSeen := make(chan string, 1)
	runner := runnerFunc(func(ctx context.Context, req voice.Request) (*voice.Result, error) {
		sessionSeen <- req.SessionID
		<-ctx.Done()
		return nil, ctx.Err()
	})
	ts := newTestServer(t, runner)

	reqDone := make(chan int, 1)
	go func() {
		res := postVoiceQuery(t, ts.URL, "expired-session", "hi-IN")
		defer res.Body.Close()
		reqDone <- res.StatusCode
	}()

	var freshID string
	select {
	case freshID = <-sessionSeen:
	case <-time.After(5 * time.Second):
		t.Fatalf("request never reached the runner")
	}
	if freshID == "" || freshID == "expired-session" {
		t.Fatalf("runner session id = %q, want a freshly created id", freshID)
	}

	got := postCancel(t, ts.URL, freshID)
	if !got.Cancelled {
		t.Fatalf("cancel on fallback session = %+v, want cancelled", got)
	}
	select {
	case status := <-reqDone:
		if status != statusClientClosedRequest {
			t.Fatalf("cancelled request status = %d, want %d", status, statusClientClosedRequest)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("cancelled request never unwound")
	}
}

func TestVoiceQueryRejectsMissingFile(t *testing.T) {
	ts := newTestServer(t, runnerFunc(okRunner))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("language", "hi-IN")
	_ = mw.Close()

	res, err := http.Post(ts.URL+"/v1/voice/query", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestCancelOutcomes(t *testing.T) {
	started := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context, req voice.Request) (*voice.Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	ts := newTestServer(t, runner)

	// Unknown session.
	got := postCancel(t, ts.URL, "missing")
	if got.Cancelled || got.Message != "Session not found or expired" {
		t.Fatalf("cancel unknown = %+v", got)
	}

	// Known session, nothing running.
	sessionID := createSession(t, ts.URL, "farmer-1")
	got = postCancel(t, ts.URL, sessionID)
	if got.Cancelled || got.Message != "No active request to cancel" {
		t.Fatalf("cancel idle = %+v", got)
	}

	// Known session with an in-flight request.
	reqDone := make(chan int, 1)
	go func() {
		res := postVoiceQuery(t, ts.URL, sessionID, "hi-IN")
		defer res.Body.Close()
		reqDone <- res.StatusCode
	}()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatalf("request never reached the runner")
	}

	got = postCancel(t, ts.URL, sessionID)
	if !got.Cancelled || got.Message != "Request cancelled successfully" {
		t.Fatalf("cancel active = %+v", got)
	}
	select {
	case status := <-reqDone:
		if status != statusClientClosedRequest {
			t.Fatalf("cancelled request status = %d, want %d", status, statusClientClosedRequest)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("cancelled request never unwound")
	}
}

func postCancel(t *testing.T, baseURL, sessionID string) cancelResponse {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"session_id": sessionID})
	res, err := http.Post(baseURL+"/v1/voice/cancel", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/voice/cancel error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var parsed cancelResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode cancel response: %v", err)
	}
	return parsed
}

func createSession(t *testing.T, baseURL, userID string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"user_id": userID})
	res, err := http.Post(baseURL+"/v1/voice/session", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create session request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	var created session.CreateResponse
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.SessionID == "" {
		t.Fatalf("missing session_id in create response: %+v", created)
	}
	return created.SessionID
}
