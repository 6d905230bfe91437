package store_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/localclaw/internal/model"
	"github.com/nhle/localclaw/internal/store"
	"github.com/nhle/localclaw/tests/testutil"
)

func TestRememberForgetIsIdempotent(t *testing.T) {
	s := testutil.NewTestStore(t)

	require.NoError(t, s.Remember("timezone", "UTC+2"))
	v, ok := s.Recall("timezone")
	require.True(t, ok)
	assert.Equal(t, "UTC+2", v)

	require.NoError(t, s.Forget("timezone"))
	_, ok = s.Recall("timezone")
	assert.False(t, ok)

	// Forgetting again changes nothing.
	before := s.Read().Memory
	require.NoError(t, s.Forget("timezone"))
	assert.Equal(t, before, s.Read().Memory)
}

func TestActivityIsCappedNewestFirst(t *testing.T) {
	s := testutil.NewTestStore(t)

	for i := 0; i < store.ActivityCap+25; i++ {
		_, err := s.AppendOutcome(model.Outcome{
			Item:   model.Item{ID: fmt.Sprintf("item-%d", i), Channel: "email"},
			Status: model.OutcomeDraft,
		})
		require.NoError(t, err)
	}

	activity := s.Activity(store.ActivityCap+10, "")
	require.Len(t, activity, store.ActivityCap)
	assert.Equal(t, fmt.Sprintf("item-%d", store.ActivityCap+24), activity[0].ID)
	assert.Equal(t, "item-25", activity[len(activity)-1].ID)
	assert.NotEmpty(t, activity[0].OutcomeID)
	assert.False(t, activity[0].RecordedAt.IsZero())
}

func TestActivityLimitAndChannelFilter(t *testing.T) {
	s := testutil.NewTestStore(t)

	for i, ch := range []string{"email", "issues", "email", "coursework", "email"} {
		_, err := s.AppendOutcome(model.Outcome{Item: model.Item{ID: fmt.Sprint(i), Channel: ch}})
		require.NoError(t, err)
	}

	assert.Len(t, s.Activity(2, ""), 2)
	emails := s.Activity(10, "email")
	require.Len(t, emails, 3)
	assert.Equal(t, "4", emails[0].ID)

	assert.Empty(t, s.Activity(0, ""))
	assert.Empty(t, s.Activity(-1, "email"))
}

func TestConcurrentIncrementsDoNotLoseUpdates(t *testing.T) {
	s := testutil.NewTestStore(t)

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.IncrementStat(model.StatProcessed, 1))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(n), s.Stats().Get(model.StatProcessed))
}

func TestRecordSenderCountsContacts(t *testing.T) {
	s := testutil.NewTestStore(t)

	require.NoError(t, s.RecordSender("a@example.com", "Alice", "email", "hello"))
	require.NoError(t, s.RecordSender("a@example.com", "Alice", "email", "again"))
	require.NoError(t, s.RecordSender("org/repo", "org/repo", "issues", "bug"))

	senders := s.Senders()
	require.Len(t, senders, 2)
	assert.Equal(t, "a@example.com", senders[0].ID)
	assert.Equal(t, int64(2), senders[0].Count)
	assert.Equal(t, "again", senders[0].LastSubject)
}

func TestLogsAreCapped(t *testing.T) {
	p := testutil.NewTestPersister(t)
	s, err := store.New(context.Background(), p, testutil.TestIdentity, store.WithMaxLogLines(3))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendLog("info", fmt.Sprintf("line %d", i)))
	}

	logs := s.Logs(10)
	require.Len(t, logs, 3)
	assert.Equal(t, "line 4", logs[0].Message)
	assert.Len(t, s.Logs(2), 2)
	assert.Empty(t, s.Logs(0))
}

func TestStateSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	p, err := store.NewSQLitePersister(path)
	require.NoError(t, err)
	s, err := store.New(ctx, p, testutil.TestIdentity)
	require.NoError(t, err)
	require.NoError(t, s.Remember("owner", "Ada"))
	require.NoError(t, s.IncrementStat(model.StatSent, 2))
	require.NoError(t, p.Close())

	p, err = store.NewSQLitePersister(path)
	require.NoError(t, err)
	defer p.Close()
	s, err = store.New(ctx, p, model.Identity{Name: "Other"})
	require.NoError(t, err)

	v, ok := s.Recall("owner")
	require.True(t, ok)
	assert.Equal(t, "Ada", v)
	assert.Equal(t, int64(2), s.Stats().Get(model.StatSent))
	assert.Equal(t, "LocalClaw", s.Read().Identity.Name)
}

func TestReadReturnsIndependentCopy(t *testing.T) {
	s := testutil.NewTestStore(t)
	require.NoError(t, s.Remember("k", "v"))

	snap := s.Read()
	snap.Memory["k"] = model.MemoryFact{Value: "changed"}

	v, _ := s.Recall("k")
	assert.Equal(t, "v", v)
}
