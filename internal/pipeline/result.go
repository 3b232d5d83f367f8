package pipeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// Outcome is the tri-state result of one stage execution.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeNoOp
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNoOp:
		return "no-op"
	case OutcomeFailure:
		return "failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// OK reports whether routing may continue past this outcome.
func (o Outcome) OK() bool { return o != OutcomeFailure }

func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// StageResult describes one stage execution.
type StageResult struct {
	Stage     Stage         `json:"stage"`
	Outcome   Outcome       `json:"outcome"`
	Processed []int         `json:"processed,omitempty"` // task ids committed to the ledger
	Failed    []int         `json:"failed,omitempty"`    // task ids attempted without success
	Message   string        `json:"message"`
	Duration  time.Duration `json:"duration"`
	Err       error         `json:"-"`
}

// Feedback renders the result as the OK/NG line fed back to a decision-maker.
func (r StageResult) Feedback() string {
	if r.Outcome.OK() {
		return "OK: " + r.Message
	}
	return "NG: " + r.Message
}

// Status is a run's terminal state.
type Status string

const (
	StatusDone   Status = "done"
	StatusFailed Status = "failed"
)

// Failure reasons reported on RunResult.
const (
	ReasonStageFailed        = "stage_failed"
	ReasonUnknownStage       = "unknown_stage"
	ReasonStepLimitExceeded  = "step_limit_exceeded"
	ReasonDecisionError      = "decision_error"
	ReasonStorageUnavailable = "storage_unavailable"
	ReasonCanceled           = "canceled"
)

// RunResult is the terminal summary of a pipeline run.
type RunResult struct {
	RunID   string        `json:"run_id"`
	Mode    Mode          `json:"mode"`
	Status  Status        `json:"status"`
	Reason  string        `json:"reason,omitempty"`
	Message string        `json:"message"`
	Steps   []StageResult `json:"steps"`
	Err     error         `json:"-"`
}

// HistoryEntry is one executed step as seen by a decision-maker.
type HistoryEntry struct {
	Step     int     `json:"step"`
	Stage    Stage   `json:"stage"`
	Outcome  Outcome `json:"outcome"`
	Feedback string  `json:"feedback"`
}
