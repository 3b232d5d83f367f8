package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/storybook/internal/pipeline"
)

// ErrRunFailed makes the process exit non-zero after a failed run has been
// reported.
var ErrRunFailed = errors.New("run failed")

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "topic",
			Usage: "Story topic (default: next topic from the topics file)",
		},
		&cli.StringFlag{
			Name:  "style-ref",
			Usage: "Style reference image for new stories",
		},
	}
}

// NewRunCommand returns the run subcommand.
func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the pipeline once",
		Flags: append(runFlags(),
			&cli.StringFlag{
				Name:  "mode",
				Usage: "fixed or agent (default: pipeline.mode)",
			},
			&cli.BoolFlag{
				Name:  "skip-story",
				Usage: "Fixed mode: start at image generation",
			},
		),
		Action: runPipeline,
	}
}

func runPipeline(ctx context.Context, cmd *cli.Command) error {
	opts := pipeline.RunOptions{
		Topic:     cmd.String("topic"),
		StyleRef:  cmd.String("style-ref"),
		SkipStory: cmd.Bool("skip-story"),
		Trigger:   "cli",
	}
	if cmd.IsSet("mode") {
		mode, err := pipeline.ParseMode(cmd.String("mode"))
		if err != nil {
			return err
		}
		opts.Mode = mode
	}

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Orchestrator.Run(ctx, opts)
	if err != nil {
		return err
	}
	newPrinter().run(res)
	if res.Status != pipeline.StatusDone {
		return ErrRunFailed
	}
	return nil
}

// NewStageCommand returns the stage subcommand.
func NewStageCommand() *cli.Command {
	return &cli.Command{
		Name:      "stage",
		Usage:     "Run a single stage (story, images, upload, database)",
		ArgsUsage: "<stage>",
		Flags:     runFlags(),
		Action:    runSingleStage,
	}
}

func runSingleStage(ctx context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return fmt.Errorf("usage: storybook stage <story|images|upload|database>")
	}
	stage, err := pipeline.ParseStage(name)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Orchestrator.RunStage(ctx, stage, pipeline.RunOptions{
		Topic:    cmd.String("topic"),
		StyleRef: cmd.String("style-ref"),
		Trigger:  "cli",
	})
	if err != nil {
		return err
	}
	newPrinter().stage(1, res)
	if !res.Outcome.OK() {
		return ErrRunFailed
	}
	return nil
}
