package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoEligibleWork marks a stage that found nothing to do. It is
	// reported as a no-op outcome, never as a failure.
	ErrNoEligibleWork = errors.New("no eligible work")

	// ErrStepLimitExceeded ends a decision-driven run that did not finish
	// within its step bound.
	ErrStepLimitExceeded = errors.New("step limit exceeded")

	// ErrRunInProgress rejects a run trigger while another run holds the lock.
	ErrRunInProgress = errors.New("pipeline run already in progress")

	// ErrMalformedOutput is returned by story generators whose model output
	// does not match the expected shape.
	ErrMalformedOutput = errors.New("malformed model output")
)

// UnitError is the failure of one task inside a stage.
type UnitError struct {
	TaskID int
	Err    error
}

func (e UnitError) Error() string {
	return fmt.Sprintf("task %d: %v", e.TaskID, e.Err)
}

// StageError is a stage execution failure. Units holds per-task failures;
// Err holds a failure of the stage as a whole.
type StageError struct {
	Stage Stage
	Units []UnitError
	Err   error
}

func (e *StageError) Error() string {
	var parts []string
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	for _, u := range e.Units {
		parts = append(parts, u.Error())
	}
	if len(parts) == 0 {
		return fmt.Sprintf("stage %s failed", e.Stage)
	}
	return fmt.Sprintf("stage %s failed: %s", e.Stage, strings.Join(parts, "; "))
}

func (e *StageError) Unwrap() []error {
	var errs []error
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	for _, u := range e.Units {
		errs = append(errs, u.Err)
	}
	return errs
}

// CommitError is a database commit failure carrying the collaborator's
// diagnostic output for operators.
type CommitError struct {
	Diagnostic string
	Err        error
}

func (e *CommitError) Error() string {
	msg := "commit failed"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Diagnostic != "" {
		msg += " (" + e.Diagnostic + ")"
	}
	return msg
}

func (e *CommitError) Unwrap() error { return e.Err }
