package testutil

import (
	"context"
	"sync"

	"github.com/nhle/localclaw/internal/model"
	"github.com/nhle/localclaw/internal/source"
)

// FakeBackend is an in-memory source.Backend. Each FetchPending call
// returns the next queued batch, or nothing once the queue is drained.
type FakeBackend struct {
	mu       sync.Mutex
	batches  [][]model.Item
	sendErr  error
	status   source.Status
	fetches  int
	sent     map[string]string
	consumed []string

	// OnFetch, if set, runs at the start of every FetchPending call.
	OnFetch func(ctx context.Context, n int)
}

// NewFakeBackend creates a backend that will return the given batches.
func NewFakeBackend(batches ...[]model.Item) *FakeBackend {
	return &FakeBackend{
		batches: batches,
		status:  source.StatusOK,
		sent:    map[string]string{},
	}
}

// FailSends makes every SendResponse return err.
func (f *FakeBackend) FailSends(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

// SetStatus overrides the reported status.
func (f *FakeBackend) SetStatus(s source.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = s
}

func (f *FakeBackend) FetchPending(ctx context.Context) []model.Item {
	f.mu.Lock()
	f.fetches++
	n := f.fetches
	hook := f.OnFetch
	var batch []model.Item
	if len(f.batches) > 0 {
		batch = f.batches[0]
		f.batches = f.batches[1:]
	}
	f.mu.Unlock()

	if hook != nil {
		hook(ctx, n)
	}
	return batch
}

func (f *FakeBackend) SendResponse(_ context.Context, item model.Item, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent[item.ID] = text
	return nil
}

func (f *FakeBackend) MarkConsumed(_ context.Context, item model.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumed = append(f.consumed, item.ID)
}

func (f *FakeBackend) Status() source.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// Fetches returns how many times FetchPending was called.
func (f *FakeBackend) Fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// Sent returns the replies sent so far, keyed by item id.
func (f *FakeBackend) Sent() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.sent))
	for k, v := range f.sent {
		out[k] = v
	}
	return out
}

// Consumed returns the ids passed to MarkConsumed, in call order.
func (f *FakeBackend) Consumed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.consumed...)
}
