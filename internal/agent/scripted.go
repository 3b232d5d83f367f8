package agent

import (
	"context"
	"sync"

	"github.com/dohr-michael/storybook/internal/pipeline"
)

// Scripted replays a fixed list of answers, then finishes. It stands in for
// a model during dry runs.
type Scripted struct {
	mu      sync.Mutex
	answers []string
}

// NewScripted returns a decider answering with answers in order.
func NewScripted(answers ...string) *Scripted {
	return &Scripted{answers: append([]string(nil), answers...)}
}

func (s *Scripted) Decide(context.Context, pipeline.DecisionInput) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.answers) == 0 {
		return pipeline.FinishSentinel, nil
	}
	next := s.answers[0]
	s.answers = s.answers[1:]
	return next, nil
}

// Sequential walks the fixed stage order, picking the stage after the last
// one executed and finishing after the database stage.
type Sequential struct{}

func (Sequential) Decide(_ context.Context, in pipeline.DecisionInput) (string, error) {
	if len(in.History) == 0 {
		return string(pipeline.Stages[0]), nil
	}
	last := in.History[len(in.History)-1].Stage
	for i, s := range pipeline.Stages {
		if s == last && i+1 < len(pipeline.Stages) {
			return string(pipeline.Stages[i+1]), nil
		}
	}
	return pipeline.FinishSentinel, nil
}
