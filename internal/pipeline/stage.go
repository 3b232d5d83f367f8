// Package pipeline runs storybook tasks through the four pipeline stages.
//
// Stages re-derive their eligible tasks from the ledger every time they run,
// so any stage can be repeated safely. The Orchestrator sequences stages
// either in the fixed order or by asking a DecisionMaker for the next one.
package pipeline

import (
	"fmt"
	"strings"
)

// Stage is one pipeline step.
type Stage string

const (
	StageStory    Stage = "story"
	StageImages   Stage = "images"
	StageUpload   Stage = "upload"
	StageDatabase Stage = "database"
)

// FinishSentinel is the decision that ends a decision-driven run.
const FinishSentinel = "FINISH"

// Stages lists every stage in fixed-mode order.
var Stages = []Stage{StageStory, StageImages, StageUpload, StageDatabase}

// legacyNames maps the tool names used by earlier agent prompts.
var legacyNames = map[string]Stage{
	"generate_stories_tool":            StageStory,
	"generate_images_tool":             StageImages,
	"upload_images_to_cloudinary_tool": StageUpload,
	"update_d1_database_tool":          StageDatabase,
	"generate_story":                   StageStory,
	"generate_images":                  StageImages,
	"upload_images":                    StageUpload,
	"update_database":                  StageDatabase,
}

// UnknownStageError reports a stage name outside the known set.
type UnknownStageError struct {
	Name string
}

func (e *UnknownStageError) Error() string {
	return fmt.Sprintf("unknown stage %q", e.Name)
}

// ParseStage resolves a stage name, ignoring case and surrounding space.
func ParseStage(name string) (Stage, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for _, s := range Stages {
		if key == string(s) {
			return s, nil
		}
	}
	if s, ok := legacyNames[key]; ok {
		return s, nil
	}
	return "", &UnknownStageError{Name: name}
}

// IsFinish reports whether name is the finished sentinel.
func IsFinish(name string) bool {
	return strings.EqualFold(strings.TrimSpace(name), FinishSentinel)
}

// Decision is a validated decision-maker answer.
type Decision struct {
	Finish bool
	Stage  Stage
}

func (d Decision) String() string {
	if d.Finish {
		return FinishSentinel
	}
	return string(d.Stage)
}

// ParseDecision validates a raw decision: the finished sentinel or a stage.
func ParseDecision(raw string) (Decision, error) {
	if IsFinish(raw) {
		return Decision{Finish: true}, nil
	}
	s, err := ParseStage(raw)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Stage: s}, nil
}

// Mode selects how a run sequences stages.
type Mode string

const (
	ModeFixed Mode = "fixed"
	ModeAgent Mode = "agent"
)

// ParseMode resolves a mode name; "decision" is accepted for agent mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fixed":
		return ModeFixed, nil
	case "agent", "decision":
		return ModeAgent, nil
	default:
		return "", fmt.Errorf("unknown pipeline mode %q", s)
	}
}

// Policy decides how a stage with mixed per-task results is reported.
type Policy string

const (
	// PolicyStrict fails the stage when any unit failed.
	PolicyStrict Policy = "strict"
	// PolicyLenient fails the stage only when no unit succeeded.
	PolicyLenient Policy = "lenient"
)

// ParsePolicy resolves a partial-success policy name.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return PolicyStrict, nil
	case "lenient":
		return PolicyLenient, nil
	default:
		return "", fmt.Errorf("unknown partial policy %q", s)
	}
}

func (p Policy) aggregate(succeeded, failed int) Outcome {
	switch {
	case failed == 0:
		return OutcomeSuccess
	case p == PolicyLenient && succeeded > 0:
		return OutcomeSuccess
	default:
		return OutcomeFailure
	}
}
