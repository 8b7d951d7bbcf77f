package voice

import (
	"context"
	"errors"
	"fmt"
)

// Stage identifies one of the three remote pipeline operations.
type Stage string

const (
	StageTranscribe Stage = "transcribe"
	StageRespond    Stage = "respond"
	StageSynthesize Stage = "synthesize"
)

// ErrEmptyStageOutput marks a stage that returned no usable result.
var ErrEmptyStageOutput = errors.New("stage produced no output")

// StageError is the terminal failure of one pipeline stage. Timeout is
// set when the stage exceeded its own deadline. Cancellation of the
// whole request is never wrapped in a StageError; it propagates as
// context.Canceled so the HTTP layer can map it to a distinct status.
type StageError struct {
	Stage   Stage
	Timeout bool
	Err     error
}

func (e *StageError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("stage %s timed out: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// IsCancelled reports whether err is a barge-in or explicit cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// stageOutcome classifies a stage call error. A cancelled parent context
// always wins: the request was superseded or the client went away, and
// that outcome must not be reclassified as a stage failure. A dead
// stage context with a live parent means the stage's own deadline fired.
func stageOutcome(parent context.Context, stage Stage, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &StageError{Stage: stage, Timeout: true, Err: context.DeadlineExceeded}
	}
	return &StageError{Stage: stage, Err: err}
}
