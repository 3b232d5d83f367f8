package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/storybook/internal/config"
	"github.com/dohr-michael/storybook/internal/events"
	"github.com/dohr-michael/storybook/internal/scheduler"
	"github.com/dohr-michael/storybook/internal/storage"
)

// NewScheduleCommand returns the schedule subcommand.
func NewScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "Run the pipeline on the configured cron schedule",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Start the scheduler in the foreground",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "cron",
						Usage: "Cron expression (default: schedule.cron)",
					},
				},
				Action: runScheduleForeground,
			},
			{
				Name:  "next",
				Usage: "Show the next activations",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "count",
						Usage: "Number of activations",
						Value: 5,
					},
				},
				Action: runScheduleNext,
			},
			{
				Name:   "history",
				Usage:  "Show recent schedule trigger events",
				Action: runScheduleHistory,
			},
		},
		DefaultCommand: "next",
	}
}

func runScheduleForeground(ctx context.Context, cmd *cli.Command) error {
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	expr := a.Config.Schedule.Cron
	if cmd.IsSet("cron") {
		expr = cmd.String("cron")
	}
	if expr == "" {
		return errors.New("no cron expression: set schedule.cron or pass --cron")
	}

	sched, err := scheduler.New(scheduler.Config{
		Cron:   expr,
		Topic:  a.Config.Schedule.Topic,
		Runner: a.Orchestrator,
		Bus:    a.Bus,
	})
	if err != nil {
		return err
	}

	p := newPrinter()
	p.printf("%s %s, next at %s (Ctrl-C to stop)\n",
		p.render(okStyle, "scheduler started"), expr, sched.Next(time.Now()).Format("2006-01-02 15:04"))

	sched.Start(ctx)
	<-ctx.Done()
	slog.Info("stopping scheduler")
	sched.Stop()
	return nil
}

func runScheduleNext(_ context.Context, cmd *cli.Command) error {
	cfg, err := config.LoadOrDefault(cmd.String("config"))
	if err != nil {
		return err
	}
	p := newPrinter()
	if cfg.Schedule.Cron == "" {
		p.println("No schedule configured.")
		return nil
	}
	expr, err := scheduler.ParseCron(cfg.Schedule.Cron)
	if err != nil {
		return err
	}

	p.field("Cron", expr.String())
	if cfg.Schedule.Topic != "" {
		p.field("Topic", cfg.Schedule.Topic)
	}
	for _, t := range expr.Upcoming(time.Now(), int(cmd.Int("count"))) {
		p.printf("  %s\n", t.Format("Mon 2006-01-02 15:04"))
	}
	return nil
}

func runScheduleHistory(_ context.Context, _ *cli.Command) error {
	all, err := storage.ReadRun(config.HistoryDir(), "")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Println("No trigger history found.")
			return nil
		}
		return fmt.Errorf("read history: %w", err)
	}

	// keep the last 20
	var triggers []events.Event
	for _, e := range all {
		if e.Type != events.EventScheduleTrigger {
			continue
		}
		triggers = append(triggers, e)
		if len(triggers) > 20 {
			triggers = triggers[1:]
		}
	}

	p := newPrinter()
	if len(triggers) == 0 {
		p.println("No trigger history found.")
		return nil
	}

	rows := make([][]string, 0, len(triggers))
	for _, e := range triggers {
		cron, _ := e.Payload["cron"].(string)
		outcome := "triggered"
		if skipped, _ := e.Payload["skipped"].(bool); skipped {
			reason, _ := e.Payload["reason"].(string)
			outcome = "skipped: " + reason
		}
		rows = append(rows, []string{e.Timestamp.Format("2006-01-02 15:04:05"), cron, outcome})
	}
	return p.table([]string{"TIME", "CRON", "OUTCOME"}, rows)
}
