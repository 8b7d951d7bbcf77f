package voice

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/code-murf/kisaanai/internal/memory"
	"github.com/code-murf/kisaanai/internal/observability"
	"github.com/code-murf/kisaanai/internal/policy"
)

const (
	defaultLanguage    = "hi-IN"
	defaultFilename    = "audio.wav"
	defaultContentType = "audio/wav"

	historyLimit       = 8
	historyReadTimeout = 350 * time.Millisecond
	historySaveTimeout = 2 * time.Second
)

// Request carries one uploaded utterance through the pipeline.
type Request struct {
	SessionID   string
	RequestID   string
	OwnerID     string
	Audio       []byte
	Language    string
	Filename    string
	ContentType string
}

// Result is the full pipeline output returned to the HTTP layer.
type Result struct {
	Query       string `json:"query"`
	Response    string `json:"response"`
	AudioBase64 string `json:"audio"`
	Language    string `json:"language"`
	SessionID   string `json:"session_id"`
}

// Timeouts holds the per-stage deadline budgets.
type Timeouts struct {
	Transcribe time.Duration
	Respond    time.Duration
	Synthesize time.Duration
}

// Pipeline chains transcribe -> respond -> synthesize into one
// cancellable unit of work. The three stage calls are the only points
// where the pipeline blocks on the context, so a barge-in cancellation
// takes effect at the next stage boundary rather than instantly.
type Pipeline struct {
	transcriber Transcriber
	responder   Responder
	synthesizer Synthesizer
	memoryStore memory.Store
	metrics     *observability.Metrics
	window      *observability.StageWindow
	timeouts    Timeouts
}

func NewPipeline(
	transcriber Transcriber,
	responder Responder,
	synthesizer Synthesizer,
	memoryStore memory.Store,
	metrics *observability.Metrics,
	window *observability.StageWindow,
	timeouts Timeouts,
) *Pipeline {
	if timeouts.Transcribe <= 0 {
		timeouts.Transcribe = 5 * time.Second
	}
	if timeouts.Respond <= 0 {
		timeouts.Respond = 10 * time.Second
	}
	if timeouts.Synthesize <= 0 {
		timeouts.Synthesize = 5 * time.Second
	}
	return &Pipeline{
		transcriber: transcriber,
		responder:   responder,
		synthesizer: synthesizer,
		memoryStore: memoryStore,
		metrics:     metrics,
		window:      window,
		timeouts:    timeouts,
	}
}

// Run executes the three stages in order. An empty stage result aborts
// the pipeline with a StageError; a stage deadline surfaces as a
// StageError with Timeout set; cancellation of ctx propagates unchanged.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Language) == "" {
		req.Language = defaultLanguage
	}
	if strings.TrimSpace(req.Filename) == "" {
		req.Filename = defaultFilename
	}
	if strings.TrimSpace(req.ContentType) == "" {
		req.ContentType = defaultContentType
	}

	start := time.Now()

	transcript, err := p.runStage(ctx, StageTranscribe, p.timeouts.Transcribe, func(stageCtx context.Context) (string, error) {
		return p.transcriber.Transcribe(stageCtx, req.Audio, req.Language, req.Filename, req.ContentType)
	})
	if err != nil {
		return nil, err
	}

	history := p.recentHistory(ctx, req.SessionID)

	answer, err := p.runStage(ctx, StageRespond, p.timeouts.Respond, func(stageCtx context.Context) (string, error) {
		return p.responder.Respond(stageCtx, transcript, req.Language, history)
	})
	if err != nil {
		return nil, err
	}

	audio, err := p.runStage(ctx, StageSynthesize, p.timeouts.Synthesize, func(stageCtx context.Context) (string, error) {
		return p.synthesizer.Synthesize(stageCtx, answer, req.Language)
	})
	if err != nil {
		return nil, err
	}

	p.observe("pipeline_total", time.Since(start))
	p.saveTurnsBestEffort(req, transcript, answer)

	return &Result{
		Query:       transcript,
		Response:    answer,
		AudioBase64: audio,
		Language:    req.Language,
		SessionID:   req.SessionID,
	}, nil
}

// runStage wraps one stage call with its deadline, latency observation,
// and failure classification. An error from fn never escapes raw.
func (p *Pipeline) runStage(ctx context.Context, stage Stage, timeout time.Duration, fn func(context.Context) (string, error)) (string, error) {
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, err := fn(stageCtx)
	p.observe(string(stage), time.Since(start))

	if err != nil {
		classified := stageOutcome(ctx, stage, err)
		p.countStageError(stage, classified)
		return "", classified
	}
	if strings.TrimSpace(out) == "" {
		classified := &StageError{Stage: stage, Err: ErrEmptyStageOutput}
		p.countStageError(stage, classified)
		return "", classified
	}
	return out, nil
}

// recentHistory fetches conversation context with a short budget. The
// lookup is best-effort: a slow or failing store must not stall the
// pipeline.
func (p *Pipeline) recentHistory(ctx context.Context, sessionID string) []memory.TurnRecord {
	if p.memoryStore == nil || sessionID == "" {
		return nil
	}
	histCtx, cancel := context.WithTimeout(ctx, historyReadTimeout)
	defer cancel()

	history, err := p.memoryStore.RecentTurns(histCtx, sessionID, historyLimit)
	if err != nil {
		log.Printf("voice: recent turns lookup failed for %s: %v", sessionID, err)
		return nil
	}
	return history
}

// saveTurnsBestEffort persists the redacted query and answer without
// blocking the response path, detached from the request context so a
// barge-in arriving after completion cannot drop the turns.
func (p *Pipeline) saveTurnsBestEffort(req Request, transcript, answer string) {
	if p.memoryStore == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), historySaveTimeout)
		defer cancel()

		for _, turn := range []struct {
			role, content string
		}{
			{"user", transcript},
			{"assistant", answer},
		} {
			content, changed := policy.RedactPII(turn.content)
			record := memory.TurnRecord{
				SessionID: req.SessionID,
				OwnerID:   req.OwnerID,
				Role:      turn.role,
				Language:  req.Language,
				Content:   content,
				Redacted:  changed,
			}
			if err := p.memoryStore.SaveTurn(ctx, record); err != nil {
				log.Printf("voice: save %s turn failed for %s: %v", turn.role, req.SessionID, err)
			}
		}
	}()
}

func (p *Pipeline) observe(stage string, d time.Duration) {
	if p.metrics != nil {
		p.metrics.ObserveStageLatency(stage, d)
	}
	p.window.Observe(stage, d)
}

func (p *Pipeline) countStageError(stage Stage, err error) {
	if p.metrics == nil {
		return
	}
	kind := "failure"
	switch {
	case IsCancelled(err):
		kind = "cancelled"
	case isStageTimeout(err):
		kind = "timeout"
	}
	p.metrics.StageErrors.WithLabelValues(string(stage), kind).Inc()
}

func isStageTimeout(err error) bool {
	var se *StageError
	return errors.As(err, &se) && se.Timeout
}
