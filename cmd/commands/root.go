package commands

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/storybook/internal/app"
	"github.com/dohr-michael/storybook/internal/config"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "storybook",
		Usage: "Generate, illustrate, publish and catalog picture-book stories",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			NewRunCommand(),
			NewStageCommand(),
			NewTasksCommand(),
			NewUploadsCommand(),
			NewScheduleCommand(),
			NewServeCommand(),
			NewMCPServeCommand(),
			NewSecretCommand(),
			NewStatusCommand(),
			NewWatchCommand(),
		},
	}
}

// openApp builds the pipeline from the --config and --debug flags. Warnings
// and errors are echoed to stderr; everything goes to the log files.
func openApp(ctx context.Context, cmd *cli.Command) (*app.App, error) {
	return app.New(ctx, app.Options{
		ConfigPath:   cmd.String("config"),
		Debug:        cmd.Bool("debug"),
		Console:      os.Stderr,
		ConsoleLevel: slog.LevelWarn,
	})
}
