package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nhle/localclaw/internal/ai"
	"github.com/nhle/localclaw/internal/model"
	"github.com/nhle/localclaw/internal/pipeline"
	"github.com/nhle/localclaw/tests/testutil"
)

func item(id, body string) model.Item {
	return model.Item{
		ID:      id,
		Channel: "email",
		From:    id + "@example.com",
		Name:    "Sender " + id,
		Subject: "Subject " + id,
		Body:    body,
	}
}

func TestDecisionTable(t *testing.T) {
	tests := []struct {
		name      string
		mode      pipeline.Mode
		sendErr   error
		want      model.OutcomeStatus
		wantSent  bool
		sentDelta int64
	}{
		{name: "dry run with auto reply", mode: pipeline.Mode{DryRun: true, AutoReply: true}, want: model.OutcomeDraft},
		{name: "dry run without auto reply", mode: pipeline.Mode{DryRun: true}, want: model.OutcomeDraft},
		{name: "live with auto reply", mode: pipeline.Mode{AutoReply: true}, want: model.OutcomeReplied, wantSent: true, sentDelta: 1},
		{name: "live send failure", mode: pipeline.Mode{AutoReply: true}, sendErr: errors.New("smtp down"), want: model.OutcomeFailed},
		{name: "live without auto reply", mode: pipeline.Mode{}, want: model.OutcomeDraft},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := testutil.NewTestStore(t)
			gen := &testutil.StubGenerator{Reply: "Thanks!"}
			backend := testutil.NewFakeBackend()
			if tt.sendErr != nil {
				backend.FailSends(tt.sendErr)
			}
			p := pipeline.New(gen, st, pipeline.WithLogger(zaptest.NewLogger(t)))

			out := p.Process(context.Background(), backend, item("a", "hello"), tt.mode)

			assert.Equal(t, tt.want, out.Status)
			assert.Equal(t, "Thanks!", out.Reply)
			assert.Equal(t, 1, gen.Calls())
			_, sent := backend.Sent()["a"]
			assert.Equal(t, tt.wantSent, sent)
			assert.Equal(t, []string{"a"}, backend.Consumed())
			assert.Equal(t, tt.sentDelta, st.Stats().Get(model.StatSent))
			assert.Equal(t, int64(1), st.Stats().Get(model.StatProcessed))
			if tt.sendErr != nil {
				assert.Contains(t, out.Error, "smtp down")
			}
			assert.NotEmpty(t, out.OutcomeID)
		})
	}
}

func TestDryRunNeverReplies(t *testing.T) {
	st := testutil.NewTestStore(t)
	gen := &testutil.StubGenerator{Reply: "ok"}
	backend := testutil.NewFakeBackend()
	p := pipeline.New(gen, st)

	for i, body := range []string{"x", "", "long body", "   "} {
		for _, auto := range []bool{true, false} {
			out := p.Process(context.Background(), backend, item(fmt.Sprint(i), body), pipeline.Mode{DryRun: true, AutoReply: auto})
			assert.NotEqual(t, model.OutcomeReplied, out.Status)
		}
	}
	assert.Empty(t, backend.Sent())
}

func TestEmptyBodySkipsInference(t *testing.T) {
	st := testutil.NewTestStore(t)
	gen := &testutil.StubGenerator{Reply: "unused"}
	backend := testutil.NewFakeBackend()
	p := pipeline.New(gen, st)

	out := p.Process(context.Background(), backend, item("e", " \n\t"), pipeline.Mode{AutoReply: true})

	assert.Equal(t, model.OutcomeSkipped, out.Status)
	assert.Empty(t, out.Reply)
	assert.Zero(t, gen.Calls())
	assert.Equal(t, int64(1), st.Stats().Get(model.StatSkipped))
	assert.Equal(t, []string{"e"}, backend.Consumed())
}

func TestThreeItemDryRunScenario(t *testing.T) {
	st := testutil.NewTestStore(t)
	gen := &testutil.StubGenerator{Reply: "Draft"}
	backend := testutil.NewFakeBackend()
	p := pipeline.New(gen, st)

	items := []model.Item{item("1", ""), item("2", "first"), item("3", "second")}
	var statuses []model.OutcomeStatus
	for _, it := range items {
		statuses = append(statuses, p.Process(context.Background(), backend, it, pipeline.Mode{DryRun: true, AutoReply: true}).Status)
	}

	assert.Equal(t, []model.OutcomeStatus{model.OutcomeSkipped, model.OutcomeDraft, model.OutcomeDraft}, statuses)
	stats := st.Stats()
	assert.Equal(t, int64(3), stats.Get(model.StatProcessed))
	assert.Equal(t, int64(0), stats.Get(model.StatSent))
	assert.Equal(t, int64(1), stats.Get(model.StatSkipped))

	activity := st.Activity(10, "")
	require.Len(t, activity, 3)
	assert.Equal(t, "3", activity[0].ID)
}

func TestInferenceFailureUsesFallback(t *testing.T) {
	st := testutil.NewTestStore(t)
	gen := &testutil.StubGenerator{Err: ai.ErrUnavailable}
	backend := testutil.NewFakeBackend()
	p := pipeline.New(gen, st)

	out := p.Process(context.Background(), backend, item("f", "hello"), pipeline.Mode{AutoReply: true})

	assert.Equal(t, ai.FallbackReply, out.Reply)
	assert.Equal(t, model.OutcomeReplied, out.Status)
	assert.Equal(t, ai.FallbackReply, backend.Sent()["f"])
}

func TestSenderRecorded(t *testing.T) {
	st := testutil.NewTestStore(t)
	p := pipeline.New(&testutil.StubGenerator{Reply: "r"}, st)
	backend := testutil.NewFakeBackend()

	p.Process(context.Background(), backend, item("s", "one"), pipeline.Mode{DryRun: true})
	p.Process(context.Background(), backend, item("s", "two"), pipeline.Mode{DryRun: true})

	senders := st.Senders()
	require.Len(t, senders, 1)
	assert.Equal(t, "s@example.com", senders[0].ID)
	assert.Equal(t, "Sender s", senders[0].Name)
	assert.Equal(t, int64(2), senders[0].Count)
}

func TestSystemPromptIncludesMemory(t *testing.T) {
	st := testutil.NewTestStore(t)
	require.NoError(t, st.Remember("timezone", "CET"))
	gen := &testutil.StubGenerator{Reply: "r"}
	p := pipeline.New(gen, st)

	p.Process(context.Background(), testutil.NewFakeBackend(), item("m", "hi"), pipeline.Mode{DryRun: true})

	prompt, system := gen.LastPrompt()
	assert.Contains(t, prompt, "FROM: Sender m <m@example.com>")
	assert.Contains(t, system, "timezone: CET")
	assert.Contains(t, system, testutil.TestIdentity.Name)
}

func TestBuildPromptTruncates(t *testing.T) {
	long := strings.Repeat("é", pipeline.MaxBodyChars+10)
	prompt, truncated := pipeline.BuildPrompt(model.ChannelTypeEmail, model.Item{Body: long})

	assert.True(t, truncated)
	assert.Contains(t, prompt, pipeline.TruncatedMarker)
	assert.Equal(t, pipeline.MaxBodyChars, strings.Count(prompt, "é"))

	prompt, truncated = pipeline.BuildPrompt(model.ChannelTypeEmail, model.Item{Body: "short"})
	assert.False(t, truncated)
	assert.NotContains(t, prompt, pipeline.TruncatedMarker)
}

func TestBuildPromptPerChannel(t *testing.T) {
	gh, _ := pipeline.BuildPrompt(model.ChannelTypeGitHub, model.Item{
		From: "acme/widgets", Kind: "Issue", Subject: "Crash on start", Body: "stack trace",
	})
	assert.Contains(t, gh, "REPOSITORY: acme/widgets")
	assert.Contains(t, gh, "TYPE: Issue")

	cv, _ := pipeline.BuildPrompt(model.ChannelTypeCanvas, model.Item{
		Name: "Prof. Lee", Subject: "HW 3", Body: "due friday",
		Metadata: map[string]string{"course": "CS 101"},
	})
	assert.Contains(t, cv, "COURSE: CS 101")
	assert.Contains(t, cv, "FROM: Prof. Lee")
}
