// Package scheduler triggers pipeline runs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dohr-michael/storybook/internal/events"
	"github.com/dohr-michael/storybook/internal/pipeline"
)

// DefaultCooldown is the minimum interval between two triggers.
const DefaultCooldown = 60 * time.Second

// Runner starts pipeline runs. *pipeline.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, opts pipeline.RunOptions) (pipeline.RunResult, error)
}

// Config holds dependencies for the scheduler.
type Config struct {
	Cron   string
	Topic  string // topic for scheduled runs; empty uses the topic catalog
	Runner Runner
	Bus    *events.Bus
}

// Scheduler starts one run per cron activation. A tick that finds a run
// still in progress is skipped, never queued.
type Scheduler struct {
	expr   *CronExpr
	topic  string
	runner Runner
	bus    *events.Bus

	mu       sync.Mutex
	lastRun  time.Time
	running  bool
	cooldown time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New parses cfg.Cron and creates a stopped scheduler.
func New(cfg Config) (*Scheduler, error) {
	expr, err := ParseCron(cfg.Cron)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		expr:     expr,
		topic:    cfg.Topic,
		runner:   cfg.Runner,
		bus:      cfg.Bus,
		cooldown: DefaultCooldown,
	}, nil
}

// Start begins the cron ticker. Runs inherit ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	slog.Info("scheduler started", "cron", s.expr.String(), "next", s.expr.Next(time.Now()))
	s.wg.Add(1)
	go s.cronLoop()
}

// Stop halts the ticker and waits for an in-flight run to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	slog.Info("scheduler stopped")
}

// Next returns the next activation after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.expr.Next(t)
}

func (s *Scheduler) cronLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.checkCron(now)
		}
	}
}

// checkCron triggers a run when now matches the schedule.
func (s *Scheduler) checkCron(now time.Time) bool {
	if !s.expr.Matches(now) {
		return false
	}

	s.mu.Lock()
	if !s.lastRun.IsZero() && now.Sub(s.lastRun) < s.cooldown {
		s.mu.Unlock()
		return false
	}
	if s.running {
		s.mu.Unlock()
		s.skip("run in progress")
		return false
	}
	s.running = true
	s.lastRun = now
	s.mu.Unlock()

	s.bus.Publish(events.NewTypedEvent(events.SourceScheduler, events.ScheduleTriggerPayload{Cron: s.expr.String()}))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.trigger(s.ctx)
	}()
	return true
}

func (s *Scheduler) trigger(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	res, err := s.runner.Run(ctx, pipeline.RunOptions{Topic: s.topic, Trigger: "schedule"})
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		s.skip("run in progress")
	case err != nil:
		slog.Error("scheduled run failed", "error", err)
	case res.Status != pipeline.StatusDone:
		slog.Error("scheduled run failed", "run_id", res.RunID, "reason", res.Reason, "error", res.Err)
	default:
		slog.Info("scheduled run finished", "run_id", res.RunID, "status", res.Status, "steps", len(res.Steps))
	}
}

func (s *Scheduler) skip(reason string) {
	slog.Warn("scheduled run skipped", "reason", reason)
	s.bus.Publish(events.NewTypedEvent(events.SourceScheduler, events.ScheduleTriggerPayload{
		Cron:    s.expr.String(),
		Skipped: true,
		Reason:  reason,
	}))
}
