package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/storybook/internal/events"
	"github.com/dohr-michael/storybook/internal/ledger"
	"github.com/dohr-michael/storybook/internal/pipeline"
)

type fakeChat struct {
	reply    *schema.Message
	err      error
	toolsErr error
	tools    []*schema.ToolInfo
	seen     [][]*schema.Message
}

func (f *fakeChat) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.seen = append(f.seen, in)
	return f.reply, f.err
}

func (f *fakeChat) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return schema.StreamReaderFromArray([]*schema.Message{f.reply}), f.err
}

func (f *fakeChat) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	if f.toolsErr != nil {
		return nil, f.toolsErr
	}
	f.tools = tools
	return f, nil
}

func toolCall(name string) *schema.Message {
	return &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			ID:       "call_1",
			Function: schema.FunctionCall{Name: name, Arguments: `{"reason":"next"}`},
		}},
	}
}

func TestLLMDecider_ToolCall(t *testing.T) {
	chat := &fakeChat{reply: toolCall("images")}
	d := NewLLMDecider(chat)

	if len(chat.tools) != 5 {
		t.Fatalf("bound %d tools, want 5", len(chat.tools))
	}
	got, err := d.Decide(context.Background(), pipeline.DecisionInput{Step: 2, MaxSteps: 10})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if got != "images" {
		t.Errorf("decision = %q, want images", got)
	}
	if sys := chat.seen[0][0].Content; sys != DefaultSystemPrompt {
		t.Errorf("system prompt = %q", sys)
	}
}

func TestLLMDecider_FinishTool(t *testing.T) {
	d := NewLLMDecider(&fakeChat{reply: toolCall("finish")})
	got, err := d.Decide(context.Background(), pipeline.DecisionInput{})
	if err != nil {
		t.Fatal(err)
	}
	if got != pipeline.FinishSentinel {
		t.Errorf("decision = %q, want FINISH", got)
	}
}

func TestLLMDecider_SmallTierUsesText(t *testing.T) {
	chat := &fakeChat{reply: schema.AssistantMessage(" upload\n", nil)}
	d := NewLLMDecider(chat, WithTier(TierSmall))

	if chat.tools != nil {
		t.Error("small tier should not bind tools")
	}
	got, err := d.Decide(context.Background(), pipeline.DecisionInput{})
	if err != nil {
		t.Fatal(err)
	}
	if got != "upload" {
		t.Errorf("decision = %q, want upload", got)
	}
	if sys := chat.seen[0][0].Content; sys != CompactSystemPrompt {
		t.Errorf("system prompt = %q", sys)
	}
}

func TestLLMDecider_ToolBindingFallsBack(t *testing.T) {
	chat := &fakeChat{toolsErr: errors.New("no tools"), reply: schema.AssistantMessage("FINISH", nil)}
	d := NewLLMDecider(chat)
	if d.useTools {
		t.Fatal("useTools should be false after binding failure")
	}
	got, _ := d.Decide(context.Background(), pipeline.DecisionInput{})
	if got != pipeline.FinishSentinel {
		t.Errorf("decision = %q", got)
	}
}

func TestLLMDecider_ModelError(t *testing.T) {
	bus := events.NewBus(16)
	defer bus.Close()
	ch, unsub := bus.SubscribeChan(4, events.EventLLMCall)
	defer unsub()

	d := NewLLMDecider(&fakeChat{err: errors.New("boom")}, WithEventBus(bus), WithModelName("local"))
	if _, err := d.Decide(context.Background(), pipeline.DecisionInput{}); err == nil {
		t.Fatal("expected error")
	}

	select {
	case e := <-ch:
		p, ok := events.ExtractPayload[events.LLMCallPayload](e)
		if !ok {
			t.Fatal("payload not extracted")
		}
		if p.Model != "local" || p.Error != "boom" {
			t.Errorf("payload = %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no llm call event")
	}
}

func TestParseTextDecision(t *testing.T) {
	cases := map[string]string{
		"story":                              "story",
		"  Images.  ":                        "Images",
		"`upload_images_to_cloudinary_tool`": "upload_images_to_cloudinary_tool",
		"I pick database now":                "database",
		"finish":                             pipeline.FinishSentinel,
		"FINISH":                             pipeline.FinishSentinel,
		"paint the fence":                    "paint the fence",
		"the story is done, run images":      "images",
		"images are uploaded, so: FINISH":    pipeline.FinishSentinel,
	}
	for in, want := range cases {
		if got := ParseTextDecision(in); got != want {
			t.Errorf("ParseTextDecision(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatState(t *testing.T) {
	in := pipeline.DecisionInput{
		Step:     3,
		MaxSteps: 10,
		Summary:  ledger.Summary{Total: 4, NeedsImages: 1, NeedsUpload: 2, Done: 1},
		History: []pipeline.HistoryEntry{
			{Step: 1, Stage: pipeline.StageStory, Outcome: pipeline.OutcomeSuccess, Feedback: "OK: 1 story added"},
		},
	}
	out := FormatState(in)
	for _, want := range []string{"Step 3 of at most 10", "4 tasks", "1 need images", "1. story -> OK: 1 story added"} {
		if !strings.Contains(out, want) {
			t.Errorf("state missing %q:\n%s", want, out)
		}
	}
}

func TestSequential(t *testing.T) {
	var s Sequential
	ctx := context.Background()
	var hist []pipeline.HistoryEntry
	var got []string
	for i := 0; i < 6; i++ {
		ans, _ := s.Decide(ctx, pipeline.DecisionInput{History: hist})
		got = append(got, ans)
		if ans == pipeline.FinishSentinel {
			break
		}
		hist = append(hist, pipeline.HistoryEntry{Step: i + 1, Stage: pipeline.Stage(ans)})
	}
	want := "story,images,upload,database,FINISH"
	if strings.Join(got, ",") != want {
		t.Errorf("sequence = %v, want %s", got, want)
	}
}

func TestScripted(t *testing.T) {
	s := NewScripted("upload", "bogus")
	ctx := context.Background()
	for _, want := range []string{"upload", "bogus", pipeline.FinishSentinel, pipeline.FinishSentinel} {
		got, err := s.Decide(ctx, pipeline.DecisionInput{})
		if err != nil || got != want {
			t.Errorf("Decide = %q, %v; want %q", got, err, want)
		}
	}
}

func TestResolveTier(t *testing.T) {
	if ResolveTier(nil) != TierLarge {
		t.Error("nil options should be large")
	}
	if ResolveTier(map[string]any{"tier": "Small"}) != TierSmall {
		t.Error("tier=Small should be small")
	}
}

type fakeSource struct {
	chat  *fakeChat
	err   error
	calls int
}

func (s *fakeSource) Get(_ context.Context, _ string) (model.ToolCallingChatModel, error) {
	s.calls++
	return s.chat, s.err
}

func TestLazy_ResolvesOnce(t *testing.T) {
	src := &fakeSource{chat: &fakeChat{reply: toolCall("story")}}
	d := NewLazy(src, "main")
	if src.calls != 0 {
		t.Fatal("model resolved before the first decision")
	}
	for i := 0; i < 2; i++ {
		got, err := d.Decide(context.Background(), pipeline.DecisionInput{Step: i + 1, MaxSteps: 10})
		if err != nil || got != "story" {
			t.Fatalf("Decide = %q, %v", got, err)
		}
	}
	if src.calls != 1 {
		t.Errorf("model resolved %d times, want 1", src.calls)
	}
}

func TestLazy_ModelUnavailable(t *testing.T) {
	src := &fakeSource{err: errors.New("no key")}
	_, err := NewLazy(src, "").Decide(context.Background(), pipeline.DecisionInput{})
	if err == nil || !strings.Contains(err.Error(), "no key") {
		t.Fatalf("err = %v", err)
	}
}
