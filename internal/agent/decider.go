// Package agent implements the decision-makers that drive agent-mode
// pipeline runs.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/storybook/internal/events"
	"github.com/dohr-michael/storybook/internal/pipeline"
)

// LLMDecider asks a chat model for the next stage. Models that support
// tool calling pick a stage tool; otherwise the text answer is parsed.
type LLMDecider struct {
	chat      model.BaseChatModel
	useTools  bool
	prompt    string
	modelName string
	bus       *events.Bus
}

// LLMOption configures an LLMDecider.
type LLMOption func(*llmOptions)

type llmOptions struct {
	prompt    string
	tier      ModelTier
	modelName string
	bus       *events.Bus
}

// WithSystemPrompt overrides the tier's default system prompt.
func WithSystemPrompt(p string) LLMOption {
	return func(o *llmOptions) { o.prompt = p }
}

// WithTier selects the prompt variant and answer style.
func WithTier(t ModelTier) LLMOption {
	return func(o *llmOptions) { o.tier = t }
}

// WithModelName labels LLM call events.
func WithModelName(name string) LLMOption {
	return func(o *llmOptions) { o.modelName = name }
}

// WithEventBus publishes one LLM call event per decision.
func WithEventBus(bus *events.Bus) LLMOption {
	return func(o *llmOptions) { o.bus = bus }
}

// NewLLMDecider binds the stage tools to chat. When binding fails, or for
// small models, the decider falls back to plain-text answers.
func NewLLMDecider(chat model.ToolCallingChatModel, opts ...LLMOption) *LLMDecider {
	o := llmOptions{tier: TierLarge}
	for _, opt := range opts {
		opt(&o)
	}

	d := &LLMDecider{chat: chat, modelName: o.modelName, bus: o.bus}
	if o.tier != TierSmall {
		tooled, err := chat.WithTools(StageTools())
		if err != nil {
			slog.Warn("decision model rejected tools, using text answers", "model", o.modelName, "error", err)
		} else {
			d.chat = tooled
			d.useTools = true
		}
	}

	d.prompt = o.prompt
	if d.prompt == "" {
		if d.useTools {
			d.prompt = DefaultSystemPrompt
		} else {
			d.prompt = CompactSystemPrompt
		}
	}
	return d
}

// StageTools returns one tool per stage plus the finish tool.
func StageTools() []*schema.ToolInfo {
	tools := make([]*schema.ToolInfo, 0, len(stageDescriptions))
	for _, s := range stageDescriptions {
		tools = append(tools, &schema.ToolInfo{
			Name: s.name,
			Desc: s.desc,
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"reason": {Type: schema.String, Desc: "One short sentence explaining the choice."},
			}),
		})
	}
	return tools
}

// Decide implements pipeline.DecisionMaker.
func (d *LLMDecider) Decide(ctx context.Context, in pipeline.DecisionInput) (string, error) {
	messages := []*schema.Message{
		schema.SystemMessage(d.prompt),
		schema.UserMessage(FormatState(in)),
	}

	start := time.Now()
	msg, err := d.chat.Generate(ctx, messages)
	d.bus.Publish(events.NewRunEvent(ctx, events.SourceAgent, events.LLMCallPayload{
		Purpose:  "decision",
		Model:    d.modelName,
		Duration: time.Since(start),
		Error:    errString(err),
	}))
	if err != nil {
		return "", fmt.Errorf("decision model: %w", err)
	}

	answer := decisionFromMessage(msg)
	slog.DebugContext(ctx, "decision", "step", in.Step, "answer", answer, "tools", d.useTools)
	return answer, nil
}

// decisionFromMessage prefers the first tool call; without one it parses
// the text content.
func decisionFromMessage(msg *schema.Message) string {
	if msg == nil {
		return ""
	}
	for _, tc := range msg.ToolCalls {
		name := strings.TrimSpace(tc.Function.Name)
		if strings.EqualFold(name, finishTool) {
			return pipeline.FinishSentinel
		}
		if name != "" {
			return name
		}
	}
	return ParseTextDecision(msg.Content)
}

var wordRe = regexp.MustCompile(`[A-Za-z][A-Za-z0-9_]*`)

// ParseTextDecision extracts a decision from free text. The last word that
// names a stage, a legacy tool, or FINISH wins. When nothing matches the
// trimmed text is returned so the caller reports it as an unknown stage.
func ParseTextDecision(content string) string {
	words := wordRe.FindAllString(content, -1)
	for i := len(words) - 1; i >= 0; i-- {
		w := words[i]
		if pipeline.IsFinish(w) || strings.EqualFold(w, finishTool) {
			return pipeline.FinishSentinel
		}
		if _, err := pipeline.ParseStage(w); err == nil {
			return w
		}
	}
	return strings.TrimSpace(content)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
