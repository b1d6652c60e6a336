package pipeline

import (
	"errors"
	"fmt"

	"github.com/mtzanidakis/aiteam/internal/dispatch"
)

// Stage is a state of the pipeline state machine.
type Stage string

const (
	StageReceived    Stage = "received"
	StagePlanning    Stage = "planning"
	StageFeedback    Stage = "feedback"
	StageSelecting   Stage = "selecting"
	StageDispatching Stage = "dispatching"
	StageCompleted   Stage = "completed"
	StageFailed      Stage = "failed"
)

// ErrPipelineTimeout reports a run that exceeded its overall deadline.
var ErrPipelineTimeout = errors.New("pipeline timeout")

// StageError is a fatal failure of one stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func isTimeout(err error) bool {
	return errors.Is(err, dispatch.ErrTimeout)
}
