package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dohr-michael/storybook/internal/events"
	"github.com/dohr-michael/storybook/internal/ledger"
)

// DefaultMaxSteps bounds decision-driven runs.
const DefaultMaxSteps = 10

const finishTimeout = 5 * time.Second

// DecisionInput is what a DecisionMaker sees before each step.
type DecisionInput struct {
	Step     int            `json:"step"`
	MaxSteps int            `json:"max_steps"`
	Summary  ledger.Summary `json:"summary"`
	History  []HistoryEntry `json:"history"`
}

// DecisionMaker picks the next stage of a decision-driven run. It returns a
// stage name or FinishSentinel; the orchestrator validates the answer.
type DecisionMaker interface {
	Decide(ctx context.Context, in DecisionInput) (string, error)
}

// Config tunes an Orchestrator.
type Config struct {
	Mode         Mode
	MaxSteps     int
	Policy       Policy
	StageTimeout time.Duration
	StoryCount   int
	StyleRef     string
}

// RunOptions are the inputs of a single run.
type RunOptions struct {
	Mode      Mode   // empty uses the configured mode
	Topic     string // story subject for this run
	StyleRef  string // overrides the configured style reference
	SkipStory bool   // fixed mode starts at images
	Trigger   string // cli, schedule, gateway, mcp
}

// Orchestrator sequences stages for a run. Runs are serialized by its Lock.
type Orchestrator struct {
	runner   *Runner
	store    TaskStore
	decider  DecisionMaker
	lock     *Lock
	bus      *events.Bus
	mode     Mode
	maxSteps int
	styleRef string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDecisionMaker sets the decision-maker used in agent mode.
func WithDecisionMaker(d DecisionMaker) Option {
	return func(o *Orchestrator) { o.decider = d }
}

// WithBus publishes run and stage events to bus.
func WithBus(bus *events.Bus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithLock shares a run lock between orchestrators.
func WithLock(l *Lock) Option {
	return func(o *Orchestrator) { o.lock = l }
}

// New creates an orchestrator over store and the given collaborators.
func New(store TaskStore, exec Executors, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		lock:     &Lock{},
		mode:     cfg.Mode,
		maxSteps: cfg.MaxSteps,
		styleRef: cfg.StyleRef,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.mode == "" {
		o.mode = ModeFixed
	}
	if o.maxSteps <= 0 {
		o.maxSteps = DefaultMaxSteps
	}
	o.runner = NewRunner(store, exec, RunnerConfig{
		Policy:       cfg.Policy,
		StageTimeout: cfg.StageTimeout,
		StoryCount:   cfg.StoryCount,
	}, o.bus)
	return o
}

// Run executes a whole pipeline run. The only error it returns is
// ErrRunInProgress; every other outcome is described by the RunResult.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (RunResult, error) {
	release, err := o.lock.TryAcquire()
	if err != nil {
		return RunResult{}, err
	}
	defer release()
	return o.execute(ctx, uuid.NewString(), opts), nil
}

// Start begins a run in the background and returns its id once the run
// lock is held. The result is delivered on the returned channel.
func (o *Orchestrator) Start(ctx context.Context, opts RunOptions) (string, <-chan RunResult, error) {
	release, err := o.lock.TryAcquire()
	if err != nil {
		return "", nil, err
	}
	runID := uuid.NewString()
	done := make(chan RunResult, 1)
	go func() {
		defer release()
		done <- o.execute(ctx, runID, opts)
	}()
	return runID, done, nil
}

func (o *Orchestrator) execute(ctx context.Context, runID string, opts RunOptions) RunResult {
	mode := opts.Mode
	if mode == "" {
		mode = o.mode
	}

	ctx = events.ContextWithRunID(ctx, runID)
	log := slog.With("run_id", runID, "mode", mode)
	log.InfoContext(ctx, "run started", "trigger", opts.Trigger, "topic", opts.Topic)
	o.publish(ctx, events.RunStartedPayload{Mode: string(mode), Trigger: opts.Trigger, Topic: opts.Topic})

	start := time.Now()
	var res RunResult
	switch mode {
	case ModeAgent:
		res = o.runDecision(ctx, o.stageOptions(opts))
	default:
		mode = ModeFixed
		res = o.runFixed(ctx, o.stageOptions(opts), opts.SkipStory)
	}
	res.RunID = runID
	res.Mode = mode

	if res.Status == StatusDone {
		log.InfoContext(ctx, "run finished", "status", res.Status, "steps", len(res.Steps))
	} else {
		log.ErrorContext(ctx, "run failed", "reason", res.Reason, "steps", len(res.Steps), "error", res.Err)
	}
	o.publishFinished(ctx, events.RunFinishedPayload{
		Status:   string(res.Status),
		Reason:   res.Reason,
		Message:  res.Message,
		Steps:    len(res.Steps),
		Duration: time.Since(start),
	})
	return res
}

// publishFinished queues the run finished event, waiting up to finishTimeout
// for room on the bus even after ctx is canceled.
func (o *Orchestrator) publishFinished(ctx context.Context, p events.RunFinishedPayload) {
	if o.bus == nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	if err := o.bus.PublishWait(wctx, events.NewRunEvent(ctx, events.SourcePipeline, p)); err != nil && !errors.Is(err, events.ErrBusClosed) {
		slog.WarnContext(ctx, "run finished event dropped", "error", err)
	}
}

// RunStage executes a single stage under the run lock.
func (o *Orchestrator) RunStage(ctx context.Context, stage Stage, opts RunOptions) (StageResult, error) {
	release, err := o.lock.TryAcquire()
	if err != nil {
		return StageResult{}, err
	}
	defer release()

	ctx = events.ContextWithRunID(ctx, uuid.NewString())
	return o.step(ctx, 1, stage, o.stageOptions(opts)), nil
}

func (o *Orchestrator) stageOptions(opts RunOptions) StageOptions {
	so := StageOptions{Topic: opts.Topic, StyleRef: opts.StyleRef}
	if so.StyleRef == "" {
		so.StyleRef = o.styleRef
	}
	return so
}

func (o *Orchestrator) step(ctx context.Context, n int, stage Stage, opts StageOptions) StageResult {
	o.publish(ctx, events.StageStartedPayload{Stage: string(stage), Step: n})
	res := o.runner.Run(ctx, stage, opts)
	o.publish(ctx, events.StageCompletedPayload{
		Stage:     string(stage),
		Step:      n,
		Outcome:   res.Outcome.String(),
		Processed: res.Processed,
		Failed:    res.Failed,
		Message:   res.Message,
		Duration:  res.Duration,
	})
	return res
}

func (o *Orchestrator) runFixed(ctx context.Context, opts StageOptions, skipStory bool) RunResult {
	var res RunResult
	for _, stage := range Stages {
		if stage == StageStory && skipStory {
			continue
		}
		if err := ctx.Err(); err != nil {
			return failed(res, ReasonCanceled, err, "run canceled before "+string(stage))
		}
		sr := o.step(ctx, len(res.Steps)+1, stage, opts)
		res.Steps = append(res.Steps, sr)
		if !sr.Outcome.OK() {
			return failed(res, failureReason(sr.Err), sr.Err, fmt.Sprintf("%s: %s", stage, sr.Message))
		}
	}
	res.Status = StatusDone
	res.Message = "all stages completed"
	return res
}

func (o *Orchestrator) runDecision(ctx context.Context, opts StageOptions) RunResult {
	var res RunResult
	if o.decider == nil {
		return failed(res, ReasonDecisionError, errors.New("no decision-maker configured"), "no decision-maker configured")
	}

	var history []HistoryEntry
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return failed(res, ReasonCanceled, err, "run canceled")
		}

		tasks, err := o.store.Load(ctx)
		if err != nil {
			return failed(res, ReasonStorageUnavailable, err, "ledger unavailable")
		}

		raw, err := o.decider.Decide(ctx, DecisionInput{
			Step:     n,
			MaxSteps: o.maxSteps,
			Summary:  ledger.Summarize(tasks),
			History:  append([]HistoryEntry(nil), history...),
		})
		if err != nil {
			o.publish(ctx, events.DecisionPayload{Step: n, Error: err.Error()})
			return failed(res, ReasonDecisionError, err, "decision-maker failed")
		}

		d, err := ParseDecision(raw)
		o.publish(ctx, events.DecisionPayload{Step: n, Decision: raw, Error: errString(err)})
		if err != nil {
			return failed(res, ReasonUnknownStage, err, err.Error())
		}
		if d.Finish {
			res.Status = StatusDone
			res.Message = fmt.Sprintf("finished after %d steps", len(res.Steps))
			return res
		}
		if len(res.Steps) >= o.maxSteps {
			err := fmt.Errorf("%w: %d steps", ErrStepLimitExceeded, o.maxSteps)
			return failed(res, ReasonStepLimitExceeded, err, err.Error())
		}

		sr := o.step(ctx, n, d.Stage, opts)
		res.Steps = append(res.Steps, sr)
		history = append(history, HistoryEntry{Step: n, Stage: d.Stage, Outcome: sr.Outcome, Feedback: sr.Feedback()})
		if !sr.Outcome.OK() {
			return failed(res, failureReason(sr.Err), sr.Err, fmt.Sprintf("%s: %s", d.Stage, sr.Message))
		}
	}
}

func failed(res RunResult, reason string, err error, msg string) RunResult {
	res.Status = StatusFailed
	res.Reason = reason
	res.Err = err
	res.Message = msg
	return res
}

func failureReason(err error) string {
	if errors.Is(err, ledger.ErrStorageUnavailable) {
		return ReasonStorageUnavailable
	}
	return ReasonStageFailed
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (o *Orchestrator) publish(ctx context.Context, p events.EventPayload) {
	o.bus.Publish(events.NewRunEvent(ctx, events.SourcePipeline, p))
}
