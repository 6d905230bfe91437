package sync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/localclaw/internal/metrics"
	"github.com/nhle/localclaw/internal/model"
	"github.com/nhle/localclaw/internal/pipeline"
	"github.com/nhle/localclaw/internal/settings"
	"github.com/nhle/localclaw/internal/source"
)

// ErrGraceExceeded is returned by Wait when loops are still finishing
// their current item after the grace period. They are abandoned.
var ErrGraceExceeded = errors.New("poll loops still running after grace period")

// Network work started by a cycle outlives shutdown by at most these.
const (
	fetchTimeout = 60 * time.Second
	itemTimeout  = 5 * time.Minute
)

// SyncState is the state of one channel loop.
type SyncState int32

const (
	SyncIdle SyncState = iota
	SyncPolling
)

func (s SyncState) String() string {
	if s == SyncPolling {
		return "polling"
	}
	return "idle"
}

// ChannelStatus is a point-in-time view of one channel.
type ChannelStatus struct {
	Channel      string        `json:"channel"`
	Name         string        `json:"name"`
	Type         string        `json:"type"`
	State        string        `json:"state"`
	Backend      source.Status `json:"status"`
	Enabled      bool          `json:"enabled"`
	PollInterval int           `json:"poll_interval"`
	AutoReply    bool          `json:"auto_reply"`
	LastRun      *time.Time    `json:"last_run"`
	NextRun      *time.Time    `json:"next_run"`
}

// Processor handles one item. *pipeline.Processor implements it.
type Processor interface {
	Process(ctx context.Context, backend source.Backend, item model.Item, mode pipeline.Mode) model.Outcome
}

// SleepFunc waits for d, returning early with true when wake fires and
// with false when ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration, wake <-chan struct{}) bool

type channelEntry struct {
	channel *settings.Channel
	backend source.Backend
	state   atomic.Int32
	trigger chan struct{}
}

// Poller runs one independent loop per registered channel.
type Poller struct {
	runtime *settings.Runtime
	proc    Processor
	logger  *zap.Logger
	now     func() time.Time
	sleep   SleepFunc

	entries []*channelEntry
	byID    map[string]*channelEntry

	started atomic.Bool
	done    chan struct{}
}

// Option configures a Poller.
type Option func(*Poller)

// WithSleep replaces the timer-based sleep between cycles.
func WithSleep(fn SleepFunc) Option {
	return func(p *Poller) { p.sleep = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// New creates a Poller.
func New(rt *settings.Runtime, proc Processor, logger *zap.Logger, opts ...Option) *Poller {
	p := &Poller{
		runtime: rt,
		proc:    proc,
		logger:  logger,
		now:     time.Now,
		sleep:   sleepContext,
		byID:    make(map[string]*channelEntry),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RegisterBackend attaches the backend for a configured channel. It must
// be called before Start.
func (p *Poller) RegisterBackend(channelID string, b source.Backend) error {
	if p.started.Load() {
		return errors.New("poller already started")
	}
	ch, err := p.runtime.Channel(channelID)
	if err != nil {
		return err
	}
	if _, dup := p.byID[channelID]; dup {
		return fmt.Errorf("channel %q registered twice", channelID)
	}
	e := &channelEntry{channel: ch, backend: b, trigger: make(chan struct{}, 1)}
	p.entries = append(p.entries, e)
	p.byID[channelID] = e
	return nil
}

// Backend returns the backend registered for a channel.
func (p *Poller) Backend(channelID string) (source.Backend, bool) {
	e, ok := p.byID[channelID]
	if !ok {
		return nil, false
	}
	return e.backend, true
}

// Start launches every channel loop. Loops stop starting new cycles and
// new items once ctx is cancelled.
func (p *Poller) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	var g errgroup.Group
	for _, e := range p.entries {
		g.Go(func() error {
			p.loop(ctx, e)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(p.done)
	}()
}

// Done is closed once every loop has returned.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until every loop has returned or grace elapses.
func (p *Poller) Wait(grace time.Duration) error {
	if !p.started.Load() {
		return nil
	}
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-p.done:
		return nil
	case <-t.C:
		return ErrGraceExceeded
	}
}

// Trigger wakes a sleeping channel loop so it polls now.
func (p *Poller) Trigger(channelID string) error {
	e, ok := p.byID[channelID]
	if !ok {
		return fmt.Errorf("%w: %q", settings.ErrUnknownChannel, channelID)
	}
	select {
	case e.trigger <- struct{}{}:
	default:
		// A wake-up is already pending.
	}
	return nil
}

// Statuses reports every registered channel in registration order.
func (p *Poller) Statuses() []ChannelStatus {
	out := make([]ChannelStatus, 0, len(p.entries))
	for _, e := range p.entries {
		ch := e.channel
		out = append(out, ChannelStatus{
			Channel:      ch.ID(),
			Name:         ch.Name(),
			Type:         ch.Type(),
			State:        SyncState(e.state.Load()).String(),
			Backend:      e.backend.Status(),
			Enabled:      p.runtime.ChannelEnabled(ch.ID()),
			PollInterval: int(ch.Interval() / time.Second),
			AutoReply:    ch.AutoReply(),
			LastRun:      optionalTime(ch.LastRun()),
			NextRun:      optionalTime(ch.NextRun()),
		})
	}
	return out
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// loop alternates between a poll cycle and a sleep. The interval is read
// after each cycle, so a change made while sleeping applies to the next
// sleep only.
func (p *Poller) loop(ctx context.Context, e *channelEntry) {
	id := e.channel.ID()
	log := p.logger.With(zap.String("channel", id))
	log.Info("poll loop started", zap.Duration("interval", e.channel.Interval()))

	for ctx.Err() == nil {
		p.cycle(ctx, e, log)

		interval := e.channel.Interval()
		e.channel.SetNextRun(p.now().Add(interval))
		if !p.sleep(ctx, interval, e.trigger) {
			break
		}
	}

	log.Info("poll loop stopped")
}

func (p *Poller) cycle(ctx context.Context, e *channelEntry, log *zap.Logger) {
	id := e.channel.ID()
	if !p.runtime.ChannelEnabled(id) {
		metrics.IncrementPollCycle(id, "disabled")
		return
	}

	e.state.Store(int32(SyncPolling))
	defer e.state.Store(int32(SyncIdle))
	e.channel.SetLastRun(p.now())

	items := p.fetch(ctx, e, log)
	if e.backend.Status() == source.StatusError {
		log.Warn("fetch failed, treating as empty cycle")
		metrics.IncrementPollCycle(id, "error")
	} else {
		metrics.IncrementPollCycle(id, "ok")
	}
	if len(items) == 0 {
		return
	}
	log.Info("fetched pending items", zap.Int("count", len(items)))

	for i, it := range items {
		if ctx.Err() != nil {
			log.Info("shutting down, leaving items for the next run", zap.Int("remaining", len(items)-i))
			return
		}
		p.process(ctx, e, it, log)
	}
}

func (p *Poller) fetch(ctx context.Context, e *channelEntry, log *zap.Logger) (items []model.Item) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while fetching", zap.Any("panic", r), zap.Stack("stack"))
			items = nil
		}
	}()

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
	defer cancel()
	return e.backend.FetchPending(fctx)
}

func (p *Poller) process(ctx context.Context, e *channelEntry, it model.Item, log *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing item",
				zap.String("item", it.ID),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	mode := pipeline.Mode{
		DryRun:    p.runtime.DryRun(),
		AutoReply: e.channel.AutoReply(),
	}

	ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), itemTimeout)
	defer cancel()
	p.proc.Process(ictx, e.backend, it, mode)
}

func sleepContext(ctx context.Context, d time.Duration, wake <-chan struct{}) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-wake:
		return true
	case <-t.C:
		return true
	}
}
