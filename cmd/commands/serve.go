package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/storybook/internal/gateway"
	"github.com/dohr-michael/storybook/internal/heartbeat"
	"github.com/dohr-michael/storybook/internal/scheduler"
)

const shutdownTimeout = 5 * time.Second

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the gateway (story API, run control, live events)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
			&cli.BoolFlag{
				Name:  "no-schedule",
				Usage: "Do not start the cron scheduler",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.Config
	// CLI flags override config
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = int(cmd.Int("port"))
	}

	if cfg.Schedule.Cron != "" && !cmd.Bool("no-schedule") {
		sched, err := scheduler.New(scheduler.Config{
			Cron:   cfg.Schedule.Cron,
			Topic:  cfg.Schedule.Topic,
			Runner: a.Orchestrator,
			Bus:    a.Bus,
		})
		if err != nil {
			return err
		}
		sched.Start(ctx)
		defer sched.Stop()
	}

	server := gateway.NewServer(gateway.Config{
		Host:       cfg.Gateway.Host,
		Port:       cfg.Gateway.Port,
		Bus:        a.Bus,
		Runner:     a.Orchestrator,
		Tasks:      a.Ledger,
		Stories:    a.Stories,
		HistoryDir: a.HistoryDir,
	})

	hb := heartbeat.NewWriter(heartbeat.Path(), fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port))
	hb.Start()
	defer hb.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
