package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/urfave/cli/v3"

	wsclient "github.com/dohr-michael/storybook/clients/ws"
	"github.com/dohr-michael/storybook/internal/config"
	"github.com/dohr-michael/storybook/internal/events"
	wsprotocol "github.com/dohr-michael/storybook/internal/gateway/ws"
)

// NewWatchCommand returns the watch subcommand.
func NewWatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Stream pipeline events from a running gateway",
		Flags: append(runFlags(),
			&cli.StringFlag{
				Name:  "url",
				Usage: "Gateway WebSocket URL (default: from gateway config)",
			},
			&cli.BoolFlag{
				Name:  "run",
				Usage: "Start a run on the gateway and follow it until it finishes",
			},
			&cli.StringFlag{
				Name:  "mode",
				Usage: "Mode of the started run",
			},
			&cli.StringFlag{
				Name:  "follow",
				Usage: "Only stream events of this run id and stop when it finishes",
			},
		),
		Action: runWatch,
	}
}

func runWatch(ctx context.Context, cmd *cli.Command) error {
	url := cmd.String("url")
	if url == "" {
		cfg, err := config.LoadOrDefault(cmd.String("config"))
		if err != nil {
			return err
		}
		url = fmt.Sprintf("ws://%s:%d/api/ws", cfg.Gateway.Host, cfg.Gateway.Port)
	}

	client, err := wsclient.Dial(ctx, url)
	if err != nil {
		return err
	}
	defer client.Close()

	p := newPrinter()
	follow := cmd.String("follow")
	// a finish can arrive before the response that names its run
	var finished *events.Event
	show := func(e events.Event) {
		if follow != "" && e.RunID != "" && e.RunID != follow {
			return
		}
		p.event(e)
		if e.Type == events.EventRunFinished {
			finished = &e
		}
	}

	if cmd.Bool("run") {
		payload, err := client.Call(wsprotocol.MethodRunPipeline, map[string]string{
			"mode":      cmd.String("mode"),
			"topic":     cmd.String("topic"),
			"style_ref": cmd.String("style-ref"),
		}, show)
		if err != nil {
			return fmt.Errorf("start run: %w", err)
		}
		var started struct {
			RunID string `json:"run_id"`
		}
		if err := json.Unmarshal(payload, &started); err != nil {
			return fmt.Errorf("decode run id: %w", err)
		}
		follow = started.RunID
		p.field("Run", follow)
	}
	if follow != "" {
		if finished != nil && finished.RunID == follow {
			return finishStatus(*finished)
		}
		if _, err := client.Call(wsprotocol.MethodFollow, map[string]string{"run_id": follow}, show); err != nil {
			return fmt.Errorf("follow run: %w", err)
		}
	}

	for {
		if follow != "" && finished != nil && finished.RunID == follow {
			return finishStatus(*finished)
		}
		f, err := client.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		e, err := wsclient.DecodeEvent(f)
		if err != nil {
			continue
		}
		show(e)
	}
}

func finishStatus(e events.Event) error {
	if status, _ := e.Payload["status"].(string); status != "done" {
		return ErrRunFailed
	}
	return nil
}

// event prints one bus event as a single line.
func (p *printer) event(e events.Event) {
	run := e.RunID
	if len(run) > 8 {
		run = run[:8]
	}
	line := fmt.Sprintf("%s %-8s %-16s %s",
		p.render(mutedStyle, e.Timestamp.Format("15:04:05")),
		run, string(e.Type), payloadSummary(e.Payload))
	switch {
	case e.Type == events.EventRunFinished && e.Payload["status"] == "done":
		line = p.render(okStyle, line)
	case e.Type == events.EventRunFinished, e.Payload["outcome"] == "failure":
		line = p.render(errorStyle, line)
	}
	p.println(line)
}

func payloadSummary(payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, payload[k]))
	}
	return strings.Join(parts, " ")
}
