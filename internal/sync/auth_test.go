package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nhle/localclaw/internal/model"
	"github.com/nhle/localclaw/internal/pipeline"
	"github.com/nhle/localclaw/internal/settings"
	"github.com/nhle/localclaw/internal/source/github"
	"github.com/nhle/localclaw/internal/source/rest"
	"github.com/nhle/localclaw/tests/testutil"
)

// countingTokens hands out a fixed token and counts refreshes.
type countingTokens struct {
	refreshes atomic.Int32
}

func (c *countingTokens) Token(context.Context, string) (string, error) {
	return "ghp_stale", nil
}

func (c *countingTokens) Refresh(context.Context, string, string) (string, error) {
	c.refreshes.Add(1)
	return "ghp_renewed", nil
}

func TestRejectedReplyRecordsFailedOutcomeAfterOneRefresh(t *testing.T) {
	var posts atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/notifications":
			_ = json.NewEncoder(w).Encode([]map[string]any{{
				"id":         "101",
				"subject":    map[string]string{"title": "Crash on start", "url": srv.URL + "/repos/o/r/issues/7", "type": "Issue"},
				"repository": map[string]string{"full_name": "o/r"},
			}})
		case r.Method == http.MethodGet && r.URL.Path == "/repos/o/r/issues/7":
			_ = json.NewEncoder(w).Encode(map[string]string{
				"body":         "It crashes.",
				"comments_url": srv.URL + "/repos/o/r/issues/7/comments",
			})
		case r.Method == http.MethodPost:
			posts.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
		case r.Method == http.MethodPatch:
			w.WriteHeader(http.StatusResetContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	transport := &http.Transport{}
	defer transport.CloseIdleConnections()

	logger := zaptest.NewLogger(t)
	cfg := model.ChannelConfig{ID: "issues", Name: "issues", Type: "github", BaseURL: srv.URL, Account: "octocat",
		Enabled: true, PollIntervalSec: 60, AutoReply: true}
	tokens := &countingTokens{}
	api := github.NewAPIClient(cfg.ID, srv.URL, rest.WithHTTPClient(&http.Client{Transport: transport}))
	backend := github.New(cfg, api, tokens, logger)

	rt := settings.New(&model.AppConfig{Channels: []model.ChannelConfig{cfg}})
	st := testutil.NewTestStore(t)
	proc := pipeline.New(&testutil.StubGenerator{Reply: "Looking into it."}, st,
		pipeline.WithChannelTypes(map[string]model.ChannelType{"issues": model.ChannelTypeGitHub}))

	p := New(rt, proc, logger, WithSleep(blockingSleep))
	require.NoError(t, p.RegisterBackend("issues", backend))

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	require.Eventually(t, func() bool {
		return len(st.Activity(10, "issues")) == 1
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, p.Wait(5*time.Second))

	out := st.Activity(10, "issues")[0]
	assert.Equal(t, model.OutcomeFailed, out.Status)
	assert.Contains(t, out.Error, "Bad credentials")
	assert.Equal(t, int32(1), tokens.refreshes.Load())
	assert.Equal(t, int32(2), posts.Load())
	assert.Zero(t, st.Stats().Get(model.StatSent))
}
