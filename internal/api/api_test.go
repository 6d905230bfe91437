package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nhle/localclaw/internal/api"
	"github.com/nhle/localclaw/internal/model"
	"github.com/nhle/localclaw/internal/pipeline"
	"github.com/nhle/localclaw/internal/settings"
	"github.com/nhle/localclaw/internal/source"
	"github.com/nhle/localclaw/internal/store"
	gosync "github.com/nhle/localclaw/internal/sync"
	"github.com/nhle/localclaw/tests/testutil"
)

type fakeInference struct{}

func (fakeInference) Check(context.Context) string { return "running" }
func (fakeInference) Model() string                { return "test-model" }

type fixture struct {
	engine  *gin.Engine
	store   *store.Store
	runtime *settings.Runtime
	backend *testutil.FakeBackend
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	st := testutil.NewTestStore(t)
	rt := settings.New(&model.AppConfig{
		Gateway: model.GatewayConfig{DryRun: true},
		Channels: []model.ChannelConfig{
			{ID: "email", Name: "Mail", Type: "email", Enabled: true, PollIntervalSec: 60},
			{ID: "issues", Name: "Issues", Type: "github", Enabled: true, PollIntervalSec: 120},
		},
	})

	backend := testutil.NewFakeBackend()
	proc := pipeline.New(&testutil.StubGenerator{Reply: "Happy to help."}, st)
	poller := gosync.New(rt, proc, logger)
	require.NoError(t, poller.RegisterBackend("email", backend))
	require.NoError(t, poller.RegisterBackend("issues", testutil.NewFakeBackend()))

	h := api.NewHandler(st, rt, poller, fakeInference{}, proc, logger)
	return &fixture{
		engine:  api.NewRouter(h, logger),
		store:   st,
		runtime: rt,
		backend: backend,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	var out map[string]any
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	w, body := f.do(t, http.MethodGet, "/status", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "online", body["gateway"])
	assert.Equal(t, true, body["dry_run"])
	assert.Equal(t, map[string]any{"status": "running", "model": "test-model"}, body["inference"])

	channels := body["channels"].([]any)
	require.Len(t, channels, 2)
	first := channels[0].(map[string]any)
	assert.Equal(t, "email", first["channel"])
	assert.Equal(t, "ok", first["status"])
	assert.Equal(t, float64(60), first["poll_interval"])

	jobs := body["jobs"].([]any)
	assert.Len(t, jobs, 4)
	stats := body["stats"].(map[string]any)
	assert.Equal(t, float64(0), stats[model.StatProcessed])
}

func TestMemoryLifecycle(t *testing.T) {
	f := newFixture(t)

	w, _ := f.do(t, http.MethodPost, "/memory", map[string]string{"key": "timezone", "value": " CET "})
	require.Equal(t, http.StatusOK, w.Code)
	v, ok := f.store.Recall("timezone")
	require.True(t, ok)
	assert.Equal(t, "CET", v)

	w, body := f.do(t, http.MethodGet, "/memory", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, body["memory"], "timezone")

	for range 2 {
		w, _ = f.do(t, http.MethodDelete, "/memory/timezone", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	}
	_, ok = f.store.Recall("timezone")
	assert.False(t, ok)

	w, body = f.do(t, http.MethodPost, "/memory", map[string]string{"key": "empty"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "key and value required", body["error"])
}

func TestUpdateJob(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, http.MethodPatch, "/jobs/daily_summary", map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["job"].(map[string]any)["enabled"])
	job, _ := f.runtime.Job(settings.JobDailySummary)
	assert.False(t, job.Enabled())

	w, _ = f.do(t, http.MethodPatch, "/jobs/poll_email", map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, f.runtime.ChannelEnabled("email"))

	w, body = f.do(t, http.MethodPatch, "/jobs/nope", map[string]bool{"enabled": true})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "unknown job", body["error"])
}

func TestUpdateConfig(t *testing.T) {
	f := newFixture(t)

	w, _ := f.do(t, http.MethodPatch, "/config", map[string]any{"poll_interval": 5, "channel": "email", "dry_run": false})
	require.Equal(t, http.StatusOK, w.Code)
	email, _ := f.runtime.Channel("email")
	issues, _ := f.runtime.Channel("issues")
	assert.Equal(t, 5*time.Second, email.Interval())
	assert.Equal(t, 120*time.Second, issues.Interval())
	assert.False(t, f.runtime.DryRun())

	w, _ = f.do(t, http.MethodPatch, "/config", map[string]any{"poll_interval": 30, "auto_reply": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 30*time.Second, email.Interval())
	assert.Equal(t, 30*time.Second, issues.Interval())
	assert.True(t, issues.AutoReply())

	w, _ = f.do(t, http.MethodPatch, "/config", map[string]any{"poll_interval": 0, "dry_run": true})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, f.runtime.DryRun(), "rejected request must not apply partially")

	w, _ = f.do(t, http.MethodPatch, "/config", map[string]any{"channel": "nope", "poll_interval": 10})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body := f.do(t, http.MethodGet, "/config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "test-model", body["model"])
	assert.Len(t, body["channels"], 2)
}

func TestActivityAndLogs(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"1", "2", "3"} {
		_, err := f.store.AppendOutcome(model.Outcome{Item: model.Item{ID: id, Channel: "email"}, Status: model.OutcomeDraft})
		require.NoError(t, err)
	}
	require.NoError(t, f.store.AppendLog("info", "hello"))

	w, body := f.do(t, http.MethodGet, "/activity?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["count"])
	first := body["activity"].([]any)[0].(map[string]any)
	assert.Equal(t, "3", first["id"])

	w, _ = f.do(t, http.MethodGet, "/activity?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = f.do(t, http.MethodGet, "/logs?n=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, body["logs"], 1)
}

func TestZeroOrNegativeLimitsAreRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.AppendOutcome(model.Outcome{Item: model.Item{ID: "1", Channel: "email"}, Status: model.OutcomeDraft})
	require.NoError(t, err)
	require.NoError(t, f.store.AppendLog("info", "hello"))

	for _, path := range []string{"/activity?limit=0", "/activity?limit=-3", "/logs?n=0", "/logs?n=-1"} {
		w, body := f.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Contains(t, body["error"], "invalid", path)
	}

	w, body := f.do(t, http.MethodGet, "/activity", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["count"])
}

func TestManualReply(t *testing.T) {
	f := newFixture(t)

	w, _ := f.do(t, http.MethodPost, "/reply", map[string]string{
		"channel": "email", "item_id": "42", "target": "alice@example.com", "subject": "Hi", "text": "Hello Alice",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Hello Alice", f.backend.Sent()["42"])
	assert.Equal(t, int64(1), f.store.Stats().Get(model.StatSent))

	w, _ = f.do(t, http.MethodPost, "/reply", map[string]string{"channel": "nope", "target": "x", "text": "y"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.do(t, http.MethodPost, "/reply", map[string]string{"channel": "email", "text": "y"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.backend.FailSends(&source.TransientError{Op: "smtp dial", Err: errors.New("refused")})
	w, body := f.do(t, http.MethodPost, "/reply", map[string]string{"channel": "email", "target": "x", "text": "y"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, body["error"], "refused")
}

func TestGenerateReply(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, http.MethodPost, "/generate_reply", map[string]string{"from": "a@b", "subject": "Q", "body": "When?"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Happy to help.", body["reply"])
	assert.Equal(t, false, body["truncated"])
	assert.Empty(t, f.backend.Sent())

	w, _ = f.do(t, http.MethodPost, "/generate_reply", map[string]string{"subject": "Q"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPollTrigger(t *testing.T) {
	f := newFixture(t)

	w, _ := f.do(t, http.MethodPost, "/channels/email/poll", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w, _ = f.do(t, http.MethodPost, "/channels/nope/poll", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestErrorsAreJSON(t *testing.T) {
	f := newFixture(t)
	f.engine.GET("/boom", func(*gin.Context) { panic("kaboom") })

	w, body := f.do(t, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", body["error"])

	w, body = f.do(t, http.MethodGet, "/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not found", body["error"])

	w, _ = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCrossSiteRequestsAreRefused(t *testing.T) {
	f := newFixture(t)
	body := `{"channel":"email","target":"x@example.com","text":"leak"}`

	send := func(contentType, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/reply", bytes.NewBufferString(body))
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		w := httptest.NewRecorder()
		f.engine.ServeHTTP(w, req)
		return w
	}

	w := send("text/plain", "")
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	assert.JSONEq(t, `{"error":"content type must be application/json"}`, w.Body.String())

	assert.Equal(t, http.StatusUnsupportedMediaType, send("", "").Code)

	w = send("application/json", "https://evil.example")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, f.backend.Sent())

	w = send("application/json; charset=utf-8", "http://example.com")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "leak", f.backend.Sent()[""])

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	f.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, "reads need no content type")
}
