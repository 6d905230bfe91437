// Package scheduler runs low-frequency jobs on wall-clock triggers.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/localclaw/internal/metrics"
	"github.com/nhle/localclaw/internal/settings"
)

// Resolution is how often triggers are evaluated.
const Resolution = time.Minute

// Schedule decides when a job is due.
type Schedule interface {
	// Due reports whether the job should run at now, given when it last ran.
	Due(now, lastRun time.Time) bool
	// Next returns the next trigger time after now.
	Next(now time.Time) time.Time
}

// DailyAt fires once per calendar day at the given local time.
type DailyAt struct {
	Hour, Minute int
}

func (d DailyAt) Due(now, lastRun time.Time) bool {
	if now.Hour() != d.Hour || now.Minute() != d.Minute {
		return false
	}
	return lastRun.IsZero() || dayBefore(lastRun, now)
}

func (d DailyAt) Next(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), d.Hour, d.Minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// WeeklyAt fires once per week on the given weekday and local time.
type WeeklyAt struct {
	Weekday      time.Weekday
	Hour, Minute int
}

func (w WeeklyAt) Due(now, lastRun time.Time) bool {
	if now.Weekday() != w.Weekday {
		return false
	}
	return DailyAt{Hour: w.Hour, Minute: w.Minute}.Due(now, lastRun)
}

func (w WeeklyAt) Next(now time.Time) time.Time {
	next := DailyAt{Hour: w.Hour, Minute: w.Minute}.Next(now)
	for next.Weekday() != w.Weekday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// dayBefore reports whether a falls on an earlier calendar day than b, in
// b's location.
func dayBefore(a, b time.Time) bool {
	a = a.In(b.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC).Before(time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC))
}

// Task is the body of a job.
type Task func(ctx context.Context, now time.Time) error

type jobEntry struct {
	job      *settings.Job
	schedule Schedule
	task     Task
}

// Runner evaluates registered jobs once per Resolution.
type Runner struct {
	runtime *settings.Runtime
	entries []jobEntry
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New creates a Runner.
func New(rt *settings.Runtime, logger *zap.Logger, opts ...Option) *Runner {
	r := &Runner{runtime: rt, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds a task to a job from the runtime job table.
func (r *Runner) Register(jobID string, s Schedule, task Task) error {
	j, err := r.runtime.Job(jobID)
	if err != nil {
		return fmt.Errorf("registering job: %w", err)
	}
	j.SetNextRun(s.Next(r.now()))
	r.entries = append(r.entries, jobEntry{job: j, schedule: s, task: task})
	return nil
}

// Run evaluates triggers immediately and then at the start of every
// minute until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("scheduler started", zap.Int("jobs", len(r.entries)))

	r.Tick(ctx, r.now())
	timer := time.NewTimer(r.untilNextTick())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("scheduler stopped")
			return nil
		case <-timer.C:
			r.Tick(ctx, r.now())
			timer.Reset(r.untilNextTick())
		}
	}
}

// NextTick returns the Resolution boundary following now. Evaluating on
// boundaries keeps every wall-clock minute inside exactly one tick.
func NextTick(now time.Time) time.Time {
	return now.Truncate(Resolution).Add(Resolution)
}

func (r *Runner) untilNextTick() time.Duration {
	now := r.now()
	return NextTick(now).Sub(now)
}

// Tick runs every enabled job whose trigger matches now. The last-run time
// is recorded before the task starts, so a job fires at most once per
// trigger window.
func (r *Runner) Tick(ctx context.Context, now time.Time) {
	for _, e := range r.entries {
		if !e.job.Enabled() || !e.schedule.Due(now, e.job.LastRun()) {
			continue
		}
		e.job.SetLastRun(now)
		e.job.SetNextRun(e.schedule.Next(now))
		r.run(ctx, e, now)
	}
}

func (r *Runner) run(ctx context.Context, e jobEntry, now time.Time) {
	log := r.logger.With(zap.String("job", e.job.ID()))
	defer func() {
		if p := recover(); p != nil {
			log.Error("panic in scheduled job", zap.Any("panic", p), zap.Stack("stack"))
		}
	}()

	log.Info("running scheduled job")
	metrics.IncrementJobRun(e.job.ID())
	if err := e.task(ctx, now); err != nil {
		log.Error("scheduled job failed", zap.Error(err))
	}
}
