// Package story writes new stories with a chat model and picks topics for
// runs that do not name one.
package story

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/storybook/internal/events"
	"github.com/dohr-michael/storybook/internal/pipeline"
)

// DefaultWordCount is the approximate story length in characters.
const DefaultWordCount = 30

// ModelSource resolves chat models by name; "" selects the default.
// *models.Registry satisfies it.
type ModelSource interface {
	Get(ctx context.Context, name string) (model.ToolCallingChatModel, error)
}

// Generator implements pipeline.StoryGenerator.
type Generator struct {
	models    ModelSource
	modelName string
	wordCount int
	bus       *events.Bus
}

// Option configures a Generator.
type Option func(*Generator)

// WithModel selects a named provider instead of the default.
func WithModel(name string) Option {
	return func(g *Generator) { g.modelName = name }
}

// WithWordCount sets the approximate length of each story.
func WithWordCount(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.wordCount = n
		}
	}
}

// WithEventBus publishes one LLM call event per generation.
func WithEventBus(bus *events.Bus) Option {
	return func(g *Generator) { g.bus = bus }
}

// NewGenerator creates a story generator backed by models.
func NewGenerator(models ModelSource, opts ...Option) *Generator {
	g := &Generator{models: models, wordCount: DefaultWordCount}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate asks the model for count stories about topic. An unparseable
// answer fails with pipeline.ErrMalformedOutput.
func (g *Generator) Generate(ctx context.Context, topic string, count int) ([]string, error) {
	if count <= 0 {
		count = 1
	}
	chat, err := g.models.Get(ctx, g.modelName)
	if err != nil {
		return nil, fmt.Errorf("story model: %w", err)
	}

	start := time.Now()
	msg, err := chat.Generate(ctx, []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(Prompt(topic, count, g.wordCount)),
	})
	g.bus.Publish(events.NewRunEvent(ctx, events.SourcePipeline, events.LLMCallPayload{
		Purpose:  "story",
		Model:    g.modelName,
		Duration: time.Since(start),
		Error:    errString(err),
	}))
	if err != nil {
		return nil, fmt.Errorf("story model: %w", err)
	}

	stories, err := ParseStories(msg.Content)
	if err != nil {
		slog.WarnContext(ctx, "unusable story answer", "topic", topic, "error", err)
		return nil, err
	}
	slog.InfoContext(ctx, "stories generated", "topic", topic, "count", len(stories))
	return stories, nil
}

const systemPrompt = "You write very short stories for children's picture books. You answer with strict JSON only."

// Prompt builds the user prompt for count stories of about wordCount
// characters each.
func Prompt(topic string, count, wordCount int) string {
	return fmt.Sprintf(`Generate a JSON object for the topic %q.
The object has one key "stories" whose value is an array of %d strings.
Each string is a self-contained short story about the topic, about %d characters long.
Answer with strict JSON only, without explanations or comments.`, topic, count, wordCount)
}

type storiesPayload struct {
	Stories []string `json:"stories"`
}

// ParseStories decodes {"stories": [...]} from a model answer. Code fences
// and text around the object are ignored. Blank stories are dropped; an
// answer with none left is malformed.
func ParseStories(content string) ([]string, error) {
	raw := extractJSONObject(stripCodeFence(content))
	if raw == "" {
		return nil, fmt.Errorf("%w: no JSON object in answer", pipeline.ErrMalformedOutput)
	}
	var p storiesPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrMalformedOutput, err)
	}
	out := make([]string, 0, len(p.Stories))
	for _, s := range p.Stories {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no stories in answer", pipeline.ErrMalformedOutput)
	}
	return out, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:] // drop the language tag line
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
