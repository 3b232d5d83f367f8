package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dohr-michael/storybook/internal/events"
	"github.com/dohr-michael/storybook/internal/ledger"
)

// StageOptions carries per-run inputs to the stages.
type StageOptions struct {
	Topic    string // story subject; empty falls back to the TopicSource
	StyleRef string // style reference for new tasks and tasks without one
}

// Runner executes single stages against the ledger.
type Runner struct {
	store      TaskStore
	exec       Executors
	policy     Policy
	timeout    time.Duration
	storyCount int
	bus        *events.Bus
}

// RunnerConfig tunes a Runner.
type RunnerConfig struct {
	Policy       Policy
	StageTimeout time.Duration // per unit of work; zero means no bound
	StoryCount   int
}

// NewRunner creates a stage runner.
func NewRunner(store TaskStore, exec Executors, cfg RunnerConfig, bus *events.Bus) *Runner {
	if cfg.Policy == "" {
		cfg.Policy = PolicyStrict
	}
	if cfg.StoryCount <= 0 {
		cfg.StoryCount = 1
	}
	return &Runner{
		store:      store,
		exec:       exec,
		policy:     cfg.Policy,
		timeout:    cfg.StageTimeout,
		storyCount: cfg.StoryCount,
		bus:        bus,
	}
}

// Run executes one stage and returns its result. It never panics on
// collaborator failure; failures are reported in the result.
func (r *Runner) Run(ctx context.Context, stage Stage, opts StageOptions) StageResult {
	start := time.Now()
	var res StageResult
	switch stage {
	case StageStory:
		res = r.runStory(ctx, opts)
	case StageImages:
		res = r.runImages(ctx, opts)
	case StageUpload:
		res = r.runUpload(ctx)
	case StageDatabase:
		res = r.runDatabase(ctx)
	default:
		res = StageResult{Outcome: OutcomeFailure, Err: &UnknownStageError{Name: string(stage)}}
		res.Message = res.Err.Error()
	}
	res.Stage = stage
	res.Duration = time.Since(start)

	attrs := []any{"stage", stage, "outcome", res.Outcome.String(), "duration", res.Duration}
	if len(res.Processed) > 0 {
		attrs = append(attrs, "processed", res.Processed)
	}
	if res.Err != nil {
		slog.ErrorContext(ctx, "stage failed", append(attrs, "error", res.Err)...)
	} else {
		slog.InfoContext(ctx, "stage completed", attrs...)
	}
	return res
}

func (r *Runner) unitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

// record persists a finished unit. Cancellation of ctx does not stop the
// write: a collaborator's completed work is always recorded.
func (r *Runner) record(ctx context.Context, id int, mutate func(*ledger.Task)) error {
	return r.store.Update(context.WithoutCancel(ctx), id, mutate)
}

func noOp(msg string) StageResult {
	return StageResult{Outcome: OutcomeNoOp, Message: msg}
}

func stageFailure(stage Stage, err error, msg string) StageResult {
	return StageResult{
		Outcome: OutcomeFailure,
		Message: msg,
		Err:     &StageError{Stage: stage, Err: err},
	}
}

func (r *Runner) load(ctx context.Context, stage Stage) ([]ledger.Task, *StageResult) {
	tasks, err := r.store.Load(ctx)
	if err != nil {
		res := stageFailure(stage, err, "ledger unavailable")
		return nil, &res
	}
	return tasks, nil
}

func (r *Runner) runStory(ctx context.Context, opts StageOptions) StageResult {
	topic, styleRef := opts.Topic, opts.StyleRef
	if topic == "" && r.exec.Topics != nil {
		tasks, fail := r.load(ctx, StageStory)
		if fail != nil {
			return *fail
		}
		t, ok, err := r.exec.Topics.Next(ctx, len(tasks))
		if err != nil {
			return stageFailure(StageStory, fmt.Errorf("pick topic: %w", err), "topic catalog unavailable")
		}
		if ok {
			topic = t.Text
			if t.StyleRef != "" {
				styleRef = t.StyleRef
			}
		}
	}
	if topic == "" {
		return noOp("no topic configured, story generation skipped")
	}
	if r.exec.Stories == nil {
		return stageFailure(StageStory, errors.New("no story generator configured"), "story generator missing")
	}

	uctx, cancel := r.unitContext(ctx)
	stories, err := r.exec.Stories.Generate(uctx, topic, r.storyCount)
	cancel()
	if err != nil {
		return stageFailure(StageStory, fmt.Errorf("generate stories: %w", err), "story generation failed")
	}
	if len(stories) == 0 {
		return stageFailure(StageStory, fmt.Errorf("generate stories: %w: no stories", ErrMalformedOutput), "story generation returned nothing")
	}

	added, err := r.store.Insert(context.WithoutCancel(ctx), stories, styleRef)
	if err != nil {
		return stageFailure(StageStory, fmt.Errorf("insert stories: %w", err), "could not record stories")
	}
	ids := ledger.IDs(added)
	for _, id := range ids {
		r.publish(ctx, events.TaskUpdatedPayload{TaskID: id, Field: "created"})
	}
	return StageResult{
		Outcome:   OutcomeSuccess,
		Processed: ids,
		Message:   fmt.Sprintf("generated %d stories for %q, next: generate images", len(ids), topic),
	}
}

func (r *Runner) runImages(ctx context.Context, opts StageOptions) StageResult {
	tasks, fail := r.load(ctx, StageImages)
	if fail != nil {
		return *fail
	}
	eligible := ledger.Select(tasks, ledger.NeedsImages)
	if len(eligible) == 0 {
		return noOp(ErrNoEligibleWork.Error() + ": every targeted task has images")
	}
	if r.exec.Images == nil {
		return stageFailure(StageImages, errors.New("no image generator configured"), "image generator missing")
	}

	var done []int
	var units []UnitError
	for _, t := range eligible {
		style := t.Pic
		if style == "" {
			style = opts.StyleRef
		}
		uctx, cancel := r.unitContext(ctx)
		err := r.exec.Images.Generate(uctx, ImageRequest{TaskID: t.ID, Prompt: t.Text, StyleRef: style})
		cancel()
		if err != nil {
			slog.ErrorContext(ctx, "image generation failed", "task_id", t.ID, "error", err)
			units = append(units, UnitError{TaskID: t.ID, Err: err})
			continue
		}
		if err := r.record(ctx, t.ID, func(t *ledger.Task) { t.GenerateStorybook = true }); err != nil {
			slog.ErrorContext(ctx, "record images failed", "task_id", t.ID, "error", err)
			units = append(units, UnitError{TaskID: t.ID, Err: err})
			continue
		}
		r.publish(ctx, events.TaskUpdatedPayload{TaskID: t.ID, Field: "generate_storybook"})
		done = append(done, t.ID)
	}

	return r.aggregate(StageImages, done, units, "illustrated", "next: upload images")
}

func (r *Runner) runUpload(ctx context.Context) StageResult {
	tasks, fail := r.load(ctx, StageUpload)
	if fail != nil {
		return *fail
	}
	eligible := ledger.Select(tasks, ledger.NeedsUpload)
	if len(eligible) == 0 {
		return noOp(ErrNoEligibleWork.Error() + ": nothing waiting for upload")
	}
	if r.exec.Uploader == nil {
		return stageFailure(StageUpload, errors.New("no uploader configured"), "uploader missing")
	}

	uctx, cancel := r.unitContext(ctx)
	uploaded, upErr := r.exec.Uploader.UploadPending(uctx)
	cancel()

	expected := ledger.IDs(eligible)
	ledger.Reconcile(ctx, expected, uploaded)

	got := make(map[int]bool, len(uploaded))
	for _, id := range uploaded {
		got[id] = true
	}

	var done []int
	var units []UnitError
	for _, id := range expected {
		if !got[id] {
			err := upErr
			if err == nil {
				err = errors.New("not uploaded")
			}
			units = append(units, UnitError{TaskID: id, Err: err})
			continue
		}
		if err := r.record(ctx, id, func(t *ledger.Task) { t.UploadStorybook = true }); err != nil {
			slog.ErrorContext(ctx, "record upload failed", "task_id", id, "error", err)
			units = append(units, UnitError{TaskID: id, Err: err})
			continue
		}
		r.publish(ctx, events.TaskUpdatedPayload{TaskID: id, Field: "upload_storybook"})
		done = append(done, id)
	}

	return r.aggregate(StageUpload, done, units, "uploaded", "next: update database")
}

func (r *Runner) runDatabase(ctx context.Context) StageResult {
	tasks, fail := r.load(ctx, StageDatabase)
	if fail != nil {
		return *fail
	}
	pending := ledger.Select(tasks, ledger.Done)
	if r.exec.Committer == nil {
		if len(pending) == 0 {
			return noOp(ErrNoEligibleWork.Error() + ": nothing uploaded yet")
		}
		return stageFailure(StageDatabase, errors.New("no committer configured"), "committer missing")
	}

	uctx, cancel := r.unitContext(ctx)
	defer cancel()

	if f, ok := r.exec.Committer.(CommitFilter); ok && len(pending) > 0 {
		var err error
		pending, err = f.Unrecorded(uctx, pending)
		if err != nil {
			return stageFailure(StageDatabase, fmt.Errorf("query story database: %w", err), "story database unavailable")
		}
	}
	if len(pending) == 0 {
		return noOp(ErrNoEligibleWork.Error() + ": story database up to date")
	}

	if err := r.exec.Committer.Commit(uctx, pending); err != nil {
		msg := "database update failed"
		var ce *CommitError
		if errors.As(err, &ce) && ce.Diagnostic != "" {
			msg += ": " + ce.Diagnostic
		}
		return StageResult{
			Outcome: OutcomeFailure,
			Failed:  ledger.IDs(pending),
			Message: msg,
			Err:     &StageError{Stage: StageDatabase, Err: err},
		}
	}
	return StageResult{
		Outcome:   OutcomeSuccess,
		Processed: ledger.IDs(pending),
		Message:   fmt.Sprintf("recorded %d stories, all steps complete", len(pending)),
	}
}

func (r *Runner) aggregate(stage Stage, done []int, units []UnitError, verb, next string) StageResult {
	res := StageResult{
		Outcome:   r.policy.aggregate(len(done), len(units)),
		Processed: done,
	}
	for _, u := range units {
		res.Failed = append(res.Failed, u.TaskID)
	}
	if res.Outcome == OutcomeSuccess {
		res.Message = fmt.Sprintf("%s %d tasks, %s", verb, len(done), next)
		if len(units) > 0 {
			res.Message += fmt.Sprintf(" (%d failed)", len(units))
		}
		return res
	}
	res.Message = fmt.Sprintf("%s %d of %d tasks", verb, len(done), len(done)+len(units))
	res.Err = &StageError{Stage: stage, Units: units}
	return res
}

func (r *Runner) publish(ctx context.Context, p events.EventPayload) {
	r.bus.Publish(events.NewRunEvent(ctx, events.SourcePipeline, p))
}
