package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/storybook/internal/heartbeat"
	"github.com/dohr-michael/storybook/internal/ledger"
	"github.com/dohr-michael/storybook/internal/storage"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show ledger counts, the last upload batch and gateway health",
		Action: runStatus,
	}
}

func runStatus(ctx context.Context, cmd *cli.Command) error {
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	p := newPrinter()
	cfg := a.Config

	tasks, err := a.Ledger.Load(ctx)
	if err != nil {
		p.field("Ledger", p.render(errorStyle, err.Error()))
	} else {
		s := ledger.Summarize(tasks)
		p.field("Ledger", cfg.Ledger.Path)
		p.field("Tasks", fmt.Sprintf("%d total, %d need images, %d need upload, %d done, %d excluded",
			s.Total, s.NeedsImages, s.NeedsUpload, s.Done, s.Excluded))
	}

	if batch, ok, err := a.UploadLog.LastBatch(); err != nil {
		p.field("Last upload", p.render(errorStyle, err.Error()))
	} else if ok {
		p.field("Last upload", fmt.Sprintf("%s (%d ids)", batch.Time, len(batch.IDs)))
	}

	if runs, err := storage.ListRuns(a.HistoryDir); err == nil && len(runs) > 0 {
		p.field("Last run", runs[0])
	}

	p.field("Mode", cfg.Pipeline.Mode)
	if cfg.Schedule.Cron != "" {
		p.field("Schedule", cfg.Schedule.Cron)
	}

	status, hb, err := heartbeat.Check(heartbeat.Path(), 2*heartbeat.DefaultInterval)
	switch {
	case err != nil:
		p.field("Gateway", p.render(errorStyle, err.Error()))
	case status == heartbeat.StatusAlive:
		p.field("Gateway", fmt.Sprintf("%s %s (PID %d, uptime %s)",
			p.render(okStyle, "ALIVE"), hb.Addr, hb.PID, hb.Uptime()))
	case status == heartbeat.StatusStale:
		p.field("Gateway", fmt.Sprintf("%s (PID %d, last heartbeat %s ago)",
			p.render(warnStyle, "STALE"), hb.PID, time.Since(hb.Timestamp).Truncate(time.Second)))
	default:
		p.field("Gateway", p.render(mutedStyle, "NOT RUNNING"))
	}
	return nil
}
