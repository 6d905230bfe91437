package testutil

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/nhle/localclaw/internal/model"
	"github.com/nhle/localclaw/internal/store"
)

// TestIdentity is the persona used by test stores.
var TestIdentity = model.Identity{
	Name:    "LocalClaw",
	Owner:   "tester",
	Tone:    "Professional, concise, warm",
	SignOff: "-- LocalClaw",
	Model:   "test-model",
}

// NewTestPersister creates an in-memory SQLitePersister with all migrations
// applied. It automatically closes the database when the test completes.
func NewTestPersister(t *testing.T) *store.SQLitePersister {
	t.Helper()

	p, err := store.NewSQLitePersister(":memory:")
	if err != nil {
		t.Fatalf("creating test persister: %v", err)
	}

	t.Cleanup(func() {
		if err := p.Close(); err != nil {
			t.Errorf("closing test persister: %v", err)
		}
	})

	return p
}

// NewTestStore creates a Store backed by an in-memory SQLite database.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.New(
		context.Background(),
		NewTestPersister(t),
		TestIdentity,
		store.WithLogger(zaptest.NewLogger(t)),
	)
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	return s
}
