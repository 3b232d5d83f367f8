package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/model"

	"github.com/dohr-michael/storybook/internal/pipeline"
)

// ModelSource resolves chat models by provider name.
type ModelSource interface {
	Get(ctx context.Context, name string) (model.ToolCallingChatModel, error)
}

// Lazy builds an LLMDecider from a model source on the first decision, so
// fixed-mode runs never initialize the decision model.
type Lazy struct {
	models ModelSource
	name   string
	opts   []LLMOption

	mu      sync.Mutex
	decider *LLMDecider
}

// NewLazy returns a decider bound to the provider name (empty = default).
func NewLazy(models ModelSource, name string, opts ...LLMOption) *Lazy {
	return &Lazy{models: models, name: name, opts: opts}
}

func (l *Lazy) Decide(ctx context.Context, in pipeline.DecisionInput) (string, error) {
	d, err := l.get(ctx)
	if err != nil {
		return "", err
	}
	return d.Decide(ctx, in)
}

func (l *Lazy) get(ctx context.Context) (*LLMDecider, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.decider != nil {
		return l.decider, nil
	}
	chat, err := l.models.Get(ctx, l.name)
	if err != nil {
		return nil, fmt.Errorf("decision model: %w", err)
	}
	l.decider = NewLLMDecider(chat, l.opts...)
	return l.decider, nil
}
