package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/localclaw/internal/model"
)

const (
	// ActivityCap is the maximum number of outcomes kept in the activity log.
	ActivityCap = 50

	// DefaultMaxLogLines is the default diagnostic log capacity.
	DefaultMaxLogLines = 200
)

// ErrCorrupt indicates that the durable record exists but cannot be decoded.
var ErrCorrupt = errors.New("state store corrupt")

// Persister loads and saves the durable snapshot. Load returns (nil, nil)
// when nothing has been persisted yet.
type Persister interface {
	Load(ctx context.Context) (*model.Snapshot, error)
	Save(ctx context.Context, snap *model.Snapshot) error
}

// Store is the single shared state of the gateway. The in-memory snapshot
// is the source of truth; every mutation runs under one mutex for its full
// read-modify-write sequence and is persisted before the mutex is released.
type Store struct {
	mu          sync.Mutex
	snap        *model.Snapshot
	persister   Persister
	maxLogLines int
	logger      *zap.Logger
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithMaxLogLines sets the diagnostic log capacity.
func WithMaxLogLines(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxLogLines = n
		}
	}
}

// WithLogger sets the logger used for store warnings. It must not write
// back into this store.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New loads the durable snapshot through p. A missing record starts from
// the empty default for identity; a corrupt record is logged and also
// replaced by the default. Any other load error is returned.
func New(ctx context.Context, p Persister, identity model.Identity, opts ...Option) (*Store, error) {
	s := &Store{
		persister:   p,
		maxLogLines: DefaultMaxLogLines,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	snap, err := p.Load(ctx)
	switch {
	case errors.Is(err, ErrCorrupt):
		s.logger.Warn("durable state unreadable, starting from empty default; previous data is lost",
			zap.Error(err))
		snap = nil
	case err != nil:
		return nil, fmt.Errorf("loading state: %w", err)
	}

	now := s.now()
	if snap == nil {
		snap = model.NewSnapshot(identity, now)
	} else {
		snap.Normalize()
	}
	// Uptime is measured from this process start.
	snap.Stats.UptimeStart = now
	s.snap = snap

	if err := p.Save(ctx, s.snap); err != nil {
		return nil, fmt.Errorf("persisting initial state: %w", err)
	}

	return s, nil
}

// Read returns a deep copy of the current snapshot.
func (s *Store) Read() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Clone()
}

// Mutate runs fn with exclusive access to the snapshot and persists the
// result before releasing it. fn must not call back into the store.
// A persistence failure is returned but the in-memory change is kept.
func (s *Store) Mutate(fn func(snap *model.Snapshot)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(s.snap)

	if err := s.persister.Save(context.Background(), s.snap); err != nil {
		return fmt.Errorf("persisting state: %w", err)
	}
	return nil
}

// IncrementStat adds by to the named counter.
func (s *Store) IncrementStat(name string, by int64) error {
	return s.Mutate(func(snap *model.Snapshot) {
		snap.Stats.Counters[name] += by
	})
}

// Stats returns a copy of the counters.
func (s *Store) Stats() model.Stats {
	snap := s.Read()
	return snap.Stats
}

// Uptime returns the time elapsed since the store was opened.
func (s *Store) Uptime() time.Duration {
	s.mu.Lock()
	start := s.snap.Stats.UptimeStart
	s.mu.Unlock()
	return s.now().Sub(start)
}

// RecordSender creates or updates the sender record for id.
func (s *Store) RecordSender(id, name, channel, subject string) error {
	now := s.now()
	return s.Mutate(func(snap *model.Snapshot) {
		rec := snap.Senders[id]
		rec.Name = name
		rec.Channel = channel
		rec.LastSeen = now
		rec.LastSubject = subject
		rec.Count++
		snap.Senders[id] = rec
	})
}

// Senders returns sender records ordered by contact count, highest first.
func (s *Store) Senders() []SenderView {
	snap := s.Read()
	out := make([]SenderView, 0, len(snap.Senders))
	for id, rec := range snap.Senders {
		out = append(out, SenderView{ID: id, SenderRecord: rec})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SenderView is a sender record together with its key.
type SenderView struct {
	ID string `json:"id"`
	model.SenderRecord
}

// AppendOutcome stamps o with an id and recording time and prepends it to
// the activity log, dropping the oldest entries beyond ActivityCap.
func (s *Store) AppendOutcome(o model.Outcome) (model.Outcome, error) {
	if o.OutcomeID == "" {
		o.OutcomeID = uuid.New().String()
	}
	o.RecordedAt = s.now()

	err := s.Mutate(func(snap *model.Snapshot) {
		snap.Activity = prepend(snap.Activity, o, ActivityCap)
	})
	return o, err
}

// Activity returns up to limit outcomes, newest first. A non-empty channel
// restricts the result to that channel. A limit below one yields nothing.
func (s *Store) Activity(limit int, channel string) []model.Outcome {
	out := []model.Outcome{}
	if limit < 1 {
		return out
	}
	for _, o := range s.Read().Activity {
		if channel != "" && o.Channel != channel {
			continue
		}
		out = append(out, o)
		if len(out) == limit {
			break
		}
	}
	return out
}

// Remember stores a memory fact.
func (s *Store) Remember(key, value string) error {
	now := s.now()
	return s.Mutate(func(snap *model.Snapshot) {
		snap.Memory[key] = model.MemoryFact{Value: value, UpdatedAt: now}
	})
}

// Forget removes a memory fact. Forgetting an absent key is a no-op.
func (s *Store) Forget(key string) error {
	return s.Mutate(func(snap *model.Snapshot) {
		delete(snap.Memory, key)
	})
}

// Recall returns the remembered value for key.
func (s *Store) Recall(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fact, ok := s.snap.Memory[key]
	return fact.Value, ok
}

// AppendLog prepends a diagnostic log line, keeping at most the configured
// number of lines.
func (s *Store) AppendLog(level, message string) error {
	entry := model.LogEntry{TS: s.now(), Level: level, Message: message}
	return s.Mutate(func(snap *model.Snapshot) {
		snap.Logs = prepend(snap.Logs, entry, s.maxLogLines)
	})
}

// Logs returns the n most recent diagnostic log lines, newest first.
func (s *Store) Logs(n int) []model.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	logs := s.snap.Logs
	if n < 0 {
		n = 0
	}
	if n < len(logs) {
		logs = logs[:n]
	}
	out := make([]model.LogEntry, len(logs))
	copy(out, logs)
	return out
}

// prepend returns list with v at the front, truncated to limit.
func prepend[T any](list []T, v T, limit int) []T {
	out := make([]T, 0, min(len(list)+1, limit))
	out = append(out, v)
	for _, e := range list {
		if len(out) == limit {
			break
		}
		out = append(out, e)
	}
	return out
}
