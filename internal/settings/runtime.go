// Package settings holds the runtime configuration that the control API
// mutates while the poll loops and the job runner read it. Every field is
// an atomic scalar, so readers never wait on writers.
package settings

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nhle/localclaw/internal/model"
)

var (
	ErrUnknownChannel  = errors.New("unknown channel")
	ErrUnknownJob      = errors.New("unknown job")
	ErrInvalidInterval = errors.New("poll interval must be at least 1 second")
)

// MinPollInterval is the shortest accepted poll interval.
const MinPollInterval = time.Second

// Built-in job ids.
const (
	JobDailySummary  = "daily_summary"
	JobMemoryCleanup = "memory_cleanup"
)

// PollJobID returns the id of the job that gates a channel's poll loop.
func PollJobID(channel string) string {
	return "poll_" + channel
}

// timestamp is an atomically updated time with unix-nanosecond precision.
// The zero value reads as the zero time.
type timestamp struct{ v atomic.Int64 }

func (t *timestamp) Load() time.Time {
	n := t.v.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (t *timestamp) Store(at time.Time) {
	if at.IsZero() {
		t.v.Store(0)
		return
	}
	t.v.Store(at.UnixNano())
}

// Channel is the mutable runtime state of one configured channel.
type Channel struct {
	id        string
	name      string
	kind      string
	interval  atomic.Int64 // nanoseconds
	autoReply atomic.Bool
	lastRun   timestamp
	nextRun   timestamp
}

func (c *Channel) ID() string   { return c.id }
func (c *Channel) Name() string { return c.name }
func (c *Channel) Type() string { return c.kind }

// Interval returns the current poll interval.
func (c *Channel) Interval() time.Duration {
	return time.Duration(c.interval.Load())
}

// SetInterval changes the poll interval used after the current cycle.
func (c *Channel) SetInterval(d time.Duration) error {
	if d < MinPollInterval {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, d)
	}
	c.interval.Store(int64(d))
	return nil
}

func (c *Channel) AutoReply() bool        { return c.autoReply.Load() }
func (c *Channel) SetAutoReply(on bool)   { c.autoReply.Store(on) }
func (c *Channel) LastRun() time.Time     { return c.lastRun.Load() }
func (c *Channel) SetLastRun(t time.Time) { c.lastRun.Store(t) }
func (c *Channel) NextRun() time.Time     { return c.nextRun.Load() }
func (c *Channel) SetNextRun(t time.Time) { c.nextRun.Store(t) }

// Job is a named recurring task whose enabled flag is controlled at
// runtime.
type Job struct {
	id       string
	name     string
	schedule func() string
	enabled  atomic.Bool
	lastRun  timestamp
	nextRun  timestamp
}

func (j *Job) ID() string             { return j.id }
func (j *Job) Name() string           { return j.name }
func (j *Job) Schedule() string       { return j.schedule() }
func (j *Job) Enabled() bool          { return j.enabled.Load() }
func (j *Job) SetEnabled(on bool)     { j.enabled.Store(on) }
func (j *Job) LastRun() time.Time     { return j.lastRun.Load() }
func (j *Job) SetLastRun(t time.Time) { j.lastRun.Store(t) }
func (j *Job) NextRun() time.Time     { return j.nextRun.Load() }
func (j *Job) SetNextRun(t time.Time) { j.nextRun.Store(t) }

// JobView is a point-in-time copy of a job for display.
type JobView struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"`
	Enabled  bool       `json:"enabled"`
	LastRun  *time.Time `json:"last_run"`
	NextRun  *time.Time `json:"next_run"`
}

// View snapshots the job.
func (j *Job) View() JobView {
	return JobView{
		ID:       j.id,
		Name:     j.name,
		Schedule: j.Schedule(),
		Enabled:  j.Enabled(),
		LastRun:  optionalTime(j.LastRun()),
		NextRun:  optionalTime(j.NextRun()),
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Runtime is the process-wide mutable configuration. The set of channels
// and jobs is fixed at construction; only their fields change afterwards.
type Runtime struct {
	dryRun atomic.Bool

	channels     map[string]*Channel
	channelOrder []string
	jobs         map[string]*Job
	jobOrder     []string
}

// New builds the runtime from the loaded configuration. Each channel gets
// a poll job that mirrors its enabled flag.
func New(cfg *model.AppConfig) *Runtime {
	r := &Runtime{
		channels: make(map[string]*Channel, len(cfg.Channels)),
		jobs:     make(map[string]*Job, len(cfg.Channels)+2),
	}
	r.dryRun.Store(cfg.Gateway.DryRun)

	for _, cc := range cfg.Channels {
		ch := &Channel{id: cc.ID, name: cc.Name, kind: cc.Type}
		interval := time.Duration(cc.PollIntervalSec) * time.Second
		if interval < MinPollInterval {
			interval = MinPollInterval
		}
		ch.interval.Store(int64(interval))
		ch.autoReply.Store(cc.AutoReply)
		r.channels[cc.ID] = ch
		r.channelOrder = append(r.channelOrder, cc.ID)

		r.addJob(PollJobID(cc.ID), "Poll "+cc.Name, cc.Enabled, func() string {
			return fmt.Sprintf("every %ds", int(ch.Interval()/time.Second))
		})
	}

	r.addJob(JobDailySummary, "Daily summary", true, staticSchedule("09:00 daily"))
	r.addJob(JobMemoryCleanup, "Memory cleanup", false, staticSchedule("Sunday 03:00 weekly"))
	return r
}

func staticSchedule(s string) func() string {
	return func() string { return s }
}

func (r *Runtime) addJob(id, name string, enabled bool, schedule func() string) {
	j := &Job{id: id, name: name, schedule: schedule}
	j.enabled.Store(enabled)
	r.jobs[id] = j
	r.jobOrder = append(r.jobOrder, id)
}

// DryRun reports whether replies are withheld globally.
func (r *Runtime) DryRun() bool { return r.dryRun.Load() }

// SetDryRun toggles dry-run mode.
func (r *Runtime) SetDryRun(on bool) { r.dryRun.Store(on) }

// Channel returns the runtime state for id.
func (r *Runtime) Channel(id string) (*Channel, error) {
	ch, ok := r.channels[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, id)
	}
	return ch, nil
}

// Channels returns all channels in configuration order.
func (r *Runtime) Channels() []*Channel {
	out := make([]*Channel, 0, len(r.channelOrder))
	for _, id := range r.channelOrder {
		out = append(out, r.channels[id])
	}
	return out
}

// SetPollInterval changes the interval of one channel, or of every
// channel when id is empty.
func (r *Runtime) SetPollInterval(id string, d time.Duration) error {
	if d < MinPollInterval {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, d)
	}
	if id == "" {
		for _, ch := range r.channels {
			ch.interval.Store(int64(d))
		}
		return nil
	}
	ch, err := r.Channel(id)
	if err != nil {
		return err
	}
	return ch.SetInterval(d)
}

// ChannelEnabled reports whether the channel's poll job is enabled.
func (r *Runtime) ChannelEnabled(id string) bool {
	j, ok := r.jobs[PollJobID(id)]
	return ok && j.Enabled()
}

// Job returns the job with the given id.
func (r *Runtime) Job(id string) (*Job, error) {
	j, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, id)
	}
	return j, nil
}

// SetJobEnabled flips a job's enabled flag.
func (r *Runtime) SetJobEnabled(id string, on bool) error {
	j, err := r.Job(id)
	if err != nil {
		return err
	}
	j.SetEnabled(on)
	return nil
}

// Jobs snapshots the job table in registration order.
func (r *Runtime) Jobs() []JobView {
	out := make([]JobView, 0, len(r.jobOrder))
	for _, id := range r.jobOrder {
		out = append(out, r.jobs[id].View())
	}
	return out
}
