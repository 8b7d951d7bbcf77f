package session

import (
	"context"
	"sync"
)

// State tracks the lifecycle of one in-flight voice request.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Handle is the cancellable unit of work for one transcribe->answer->speak
// pipeline execution. Cancel only requests interruption; the pipeline
// observes it at its next stage call. done is closed once the task has
// fully unwound, so the janitor and tests can wait for resource release.
type Handle struct {
	id     string
	cancel context.CancelFunc

	mu    sync.Mutex
	state State
	done  chan struct{}
}

func NewHandle(requestID string, cancel context.CancelFunc) *Handle {
	return &Handle{
		id:     requestID,
		cancel: cancel,
		state:  StateRunning,
		done:   make(chan struct{}),
	}
}

func (h *Handle) ID() string { return h.id }

// Cancel requests cooperative cancellation without blocking. The handle
// stays non-terminal until the owning task finishes unwinding.
func (h *Handle) Cancel() {
	if h.cancel != nil {
		h.cancel()
	}
}

// Finish records the terminal state once the task has unwound. Later
// calls keep the first terminal state.
func (h *Handle) Finish(state State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateRunning {
		return
	}
	switch state {
	case StateCompleted, StateFailed, StateCancelled:
		h.state = state
	default:
		h.state = StateFailed
	}
	close(h.done)
}

// Finished reports whether the task has unwound. A finished handle is
// equivalent to "no active request" for barge-in purposes.
func (h *Handle) Finished() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state != StateRunning
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Done is closed when the task's unwind completes.
func (h *Handle) Done() <-chan struct{} { return h.done }
