package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/code-murf/kisaanai/internal/config"
	"github.com/code-murf/kisaanai/internal/observability"
	"github.com/code-murf/kisaanai/internal/session"
	"github.com/code-murf/kisaanai/internal/voice"
)

// Runner executes one voice query end to end. The pipeline satisfies it;
// tests substitute stubs.
type Runner interface {
	Run(ctx context.Context, req voice.Request) (*voice.Result, error)
}

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	runner   Runner
	metrics  *observability.Metrics
	window   *observability.StageWindow
	upgrader websocket.Upgrader
	sem      chan struct{}
	started  time.Time
}

func New(cfg config.Config, sessions *session.Manager, runner Runner, metrics *observability.Metrics, window *observability.StageWindow) *Server {
	maxConcurrent := cfg.MaxConcurrentCalls
	if maxConcurrent <= 0 {
		maxConcurrent = 50
	}
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		runner:   runner,
		metrics:  metrics,
		window:   window,
		sem:      make(chan struct{}, maxConcurrent),
		started:  time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up. Non-browser clients
				// often omit Origin; allow them.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/voice/query", s.handleVoiceQuery)
	r.Post("/v1/voice/cancel", s.handleCancel)
	r.Post("/v1/voice/session", s.handleCreateSession)
	r.Get("/v1/voice/session/{id}", s.handleGetSession)
	r.Delete("/v1/voice/session/{id}", s.handleEndSession)
	r.Get("/v1/voice/stats", s.handleStats)
	r.Get("/v1/voice/stats/ws", s.handleStatsWS)
	r.Get("/v1/voice/perf", s.handlePerf)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime_ms": time.Since(s.started).Milliseconds(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"provider": s.cfg.VoiceProvider,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
