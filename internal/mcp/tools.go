package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dohr-michael/storybook/internal/ledger"
	"github.com/dohr-michael/storybook/internal/pipeline"
)

// Pipeline is the run surface the tools drive. *pipeline.Orchestrator
// satisfies it.
type Pipeline interface {
	Run(ctx context.Context, opts pipeline.RunOptions) (pipeline.RunResult, error)
	RunStage(ctx context.Context, stage pipeline.Stage, opts pipeline.RunOptions) (pipeline.StageResult, error)
}

// TaskSource reads the ledger.
type TaskSource interface {
	Load(ctx context.Context) ([]ledger.Task, error)
}

// Handler runs a tool with its raw JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Tool pairs a spec with its handler.
type Tool struct {
	Spec    ToolSpec
	Handler Handler
}

var taskFilters = map[string]ledger.Predicate{
	"needs_images": ledger.NeedsImages,
	"needs_upload": ledger.NeedsUpload,
	"done":         ledger.Done,
}

// Tools returns the pipeline tools.
func Tools(p Pipeline, tasks TaskSource) []Tool {
	stageNames := make([]string, len(pipeline.Stages))
	for i, s := range pipeline.Stages {
		stageNames[i] = string(s)
	}
	runParams := map[string]ParamSpec{
		"topic":     {Type: "string", Description: "Story topic; empty uses the topic catalog"},
		"style_ref": {Type: "string", Description: "Style reference image for new pages"},
	}

	return []Tool{
		{
			Spec: ToolSpec{
				Name:        "list_tasks",
				Description: "List storybook tasks and ledger counts",
				Parameters: map[string]ParamSpec{
					"filter": {Type: "string", Description: "Restrict to one state", Enum: []string{"all", "needs_images", "needs_upload", "done"}},
				},
			},
			Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
				var args struct {
					Filter string `json:"filter"`
				}
				if err := decodeArgs(raw, &args); err != nil {
					return nil, err
				}
				all, err := tasks.Load(ctx)
				if err != nil {
					return nil, err
				}
				list := all
				if pred, ok := taskFilters[args.Filter]; ok {
					list = ledger.Select(all, pred)
				} else if args.Filter != "" && args.Filter != "all" {
					return nil, fmt.Errorf("unknown filter %q", args.Filter)
				}
				if list == nil {
					list = []ledger.Task{}
				}
				return map[string]any{"summary": ledger.Summarize(all), "tasks": list}, nil
			},
		},
		{
			Spec: ToolSpec{
				Name:        "run_stage",
				Description: "Run one pipeline stage against the ledger",
				Parameters: withParams(runParams, map[string]ParamSpec{
					"stage": {Type: "string", Description: "Stage to run", Required: true, Enum: stageNames},
				}),
			},
			Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
				var args struct {
					Stage    string `json:"stage"`
					Topic    string `json:"topic"`
					StyleRef string `json:"style_ref"`
				}
				if err := decodeArgs(raw, &args); err != nil {
					return nil, err
				}
				stage, err := pipeline.ParseStage(args.Stage)
				if err != nil {
					return nil, err
				}
				return p.RunStage(ctx, stage, pipeline.RunOptions{Topic: args.Topic, StyleRef: args.StyleRef, Trigger: "mcp"})
			},
		},
		{
			Spec: ToolSpec{
				Name:        "run_pipeline",
				Description: "Run the whole pipeline and wait for the result",
				Parameters: withParams(runParams, map[string]ParamSpec{
					"mode":       {Type: "string", Description: "Run mode", Enum: []string{string(pipeline.ModeFixed), string(pipeline.ModeAgent)}},
					"skip_story": {Type: "boolean", Description: "Fixed mode starts at the images stage"},
				}),
			},
			Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
				var args struct {
					Mode      string `json:"mode"`
					Topic     string `json:"topic"`
					StyleRef  string `json:"style_ref"`
					SkipStory bool   `json:"skip_story"`
				}
				if err := decodeArgs(raw, &args); err != nil {
					return nil, err
				}
				opts := pipeline.RunOptions{Topic: args.Topic, StyleRef: args.StyleRef, SkipStory: args.SkipStory, Trigger: "mcp"}
				if args.Mode != "" {
					m, err := pipeline.ParseMode(args.Mode)
					if err != nil {
						return nil, err
					}
					opts.Mode = m
				}
				return p.Run(ctx, opts)
			},
		},
	}
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func withParams(base, extra map[string]ParamSpec) map[string]ParamSpec {
	out := make(map[string]ParamSpec, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
