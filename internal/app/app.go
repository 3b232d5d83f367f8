// Package app assembles the pipeline and its collaborators from config.
// Commands build one App per process and close it on exit.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dohr-michael/storybook/internal/agent"
	"github.com/dohr-michael/storybook/internal/assets"
	"github.com/dohr-michael/storybook/internal/catalog"
	"github.com/dohr-michael/storybook/internal/config"
	"github.com/dohr-michael/storybook/internal/events"
	"github.com/dohr-michael/storybook/internal/illustrator"
	"github.com/dohr-michael/storybook/internal/ledger"
	"github.com/dohr-michael/storybook/internal/logging"
	"github.com/dohr-michael/storybook/internal/models"
	"github.com/dohr-michael/storybook/internal/pipeline"
	"github.com/dohr-michael/storybook/internal/storage"
	"github.com/dohr-michael/storybook/internal/story"
)

// Options control how an App is built.
type Options struct {
	ConfigPath string
	Debug      bool
	// Console receives log records besides the log files; nil disables it.
	Console io.Writer
	// ConsoleLevel applies to Console unless Debug is set.
	ConsoleLevel slog.Level
	// Models overrides the registry built from config. Used by tests.
	Models *models.Registry
}

// App holds the wired pipeline.
type App struct {
	Config       *config.Config
	Bus          *events.Bus
	Ledger       *ledger.Ledger
	UploadLog    *ledger.UploadLog
	Models       *models.Registry
	Topics       *story.Catalog
	Stories      *catalog.Store // nil with the http catalog driver
	Orchestrator *pipeline.Orchestrator
	HistoryDir   string

	closers []func() error
}

// New loads the config at opts.ConfigPath (defaults when missing), sets up
// logging and builds every collaborator.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg, err := config.LoadOrDefault(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	return Build(ctx, cfg, opts)
}

// Build wires an App from an already loaded config.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if opts.Debug {
		cfg.Log.Level = "debug"
	}
	consoleLevel := opts.ConsoleLevel
	if opts.Debug {
		consoleLevel = slog.LevelDebug
	}
	_, logCloser, err := logging.Setup(cfg.Log, logging.Options{Console: opts.Console, ConsoleLevel: consoleLevel})
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}

	a := &App{Config: cfg, HistoryDir: config.HistoryDir()}
	a.closers = append(a.closers, logCloser.Close)

	if err := a.build(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	cfg := a.Config

	a.Bus = events.NewBus(cfg.Events.BufferSize)
	a.closers = append(a.closers, func() error { a.Bus.Close(); return nil })

	history := storage.NewEventLogger(a.HistoryDir, a.Bus)
	// registered after the bus so it closes first
	a.closers = append(a.closers, func() error { history.Close(); return nil })

	a.Ledger = ledger.New(cfg.Ledger.Path, ledger.WithFirstRun(cfg.Ledger.FirstRunAllowed()))
	a.UploadLog = ledger.NewUploadLog(cfg.Ledger.UploadLog)

	a.Models = opts.Models
	if a.Models == nil {
		a.Models = models.NewRegistry(cfg.Models)
	}

	exec, err := a.executors()
	if err != nil {
		return err
	}

	mode, err := pipeline.ParseMode(cfg.Pipeline.Mode)
	if err != nil {
		return fmt.Errorf("pipeline.mode: %w", err)
	}
	policy, err := pipeline.ParsePolicy(cfg.Pipeline.PartialPolicy)
	if err != nil {
		return fmt.Errorf("pipeline.partial_policy: %w", err)
	}
	decider, err := a.decider()
	if err != nil {
		return err
	}

	a.Orchestrator = pipeline.New(a.Ledger, exec, pipeline.Config{
		Mode:         mode,
		MaxSteps:     cfg.Pipeline.MaxSteps,
		Policy:       policy,
		StageTimeout: cfg.Pipeline.StageTimeout.Duration(),
		StoryCount:   cfg.Pipeline.StoryCount,
		StyleRef:     cfg.Pipeline.StyleRef,
	}, pipeline.WithBus(a.Bus), pipeline.WithDecisionMaker(decider))

	slog.DebugContext(ctx, "pipeline ready",
		"mode", mode, "policy", policy, "ledger", cfg.Ledger.Path,
		"assets", cfg.Assets.Driver, "catalog", cfg.Catalog.Driver)
	return nil
}

// executors builds the stage collaborators. An unconfigured illustrator or
// an uploader without credentials leaves its slot empty so that only the
// stage needing it fails.
func (a *App) executors() (pipeline.Executors, error) {
	cfg := a.Config
	var exec pipeline.Executors

	exec.Stories = story.NewGenerator(a.Models,
		story.WithModel(cfg.Story.Model),
		story.WithWordCount(cfg.Story.WordCount),
		story.WithEventBus(a.Bus),
	)

	if cfg.Pipeline.TopicsFile != "" {
		topics, err := story.LoadCatalog(cfg.Pipeline.TopicsFile)
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Warn("topics file not found", "path", cfg.Pipeline.TopicsFile)
		case err != nil:
			return exec, fmt.Errorf("load topics: %w", err)
		default:
			a.Topics = topics
			exec.Topics = topics
		}
	}

	il, err := illustrator.New(cfg.Illustrator)
	switch {
	case errors.Is(err, illustrator.ErrNoCommand):
		slog.Debug("illustrator command not configured")
	case err != nil:
		return exec, err
	default:
		exec.Images = il
	}

	up, err := assets.New(cfg.Assets, a.UploadLog, cfg.Illustrator.Extensions)
	switch {
	case errors.Is(err, assets.ErrMissingCredentials):
		slog.Warn("uploader disabled", "driver", cfg.Assets.Driver, "error", err)
	case err != nil:
		return exec, err
	default:
		exec.Uploader = up
	}

	committer, store, err := catalog.New(cfg.Catalog)
	if err != nil {
		return exec, fmt.Errorf("open story catalog: %w", err)
	}
	exec.Committer = committer
	if store != nil {
		a.Stories = store
		a.closers = append(a.closers, store.Close)
	}
	return exec, nil
}

func (a *App) decider() (pipeline.DecisionMaker, error) {
	cfg := a.Config.Agent
	switch cfg.Decider {
	case "", "llm":
		name := cfg.Model
		if name == "" {
			name = a.Models.DefaultName()
		}
		return agent.NewLazy(a.Models, name,
			agent.WithSystemPrompt(cfg.SystemPrompt),
			agent.WithTier(agent.ResolveTier(a.Models.Options(name))),
			agent.WithModelName(a.Models.ModelName(name)),
			agent.WithEventBus(a.Bus),
		), nil
	case "sequential":
		return agent.Sequential{}, nil
	case "scripted":
		return agent.NewScripted(cfg.Script...), nil
	default:
		return nil, fmt.Errorf("unknown agent.decider %q", cfg.Decider)
	}
}

// Close releases resources in reverse creation order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
