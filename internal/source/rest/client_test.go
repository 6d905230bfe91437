package rest_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/localclaw/internal/source"
	"github.com/nhle/localclaw/internal/source/rest"
)

func TestGetSendsBearerAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		assert.Equal(t, "/user", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"login": "octocat"})
	}))
	defer srv.Close()

	c := rest.NewClient("issues", srv.URL+"/", rest.WithHeader("Accept", "application/vnd.github+json"))

	var out struct {
		Login string `json:"login"`
	}
	require.NoError(t, c.Get(context.Background(), "secret", "/user", &out))
	assert.Equal(t, "octocat", out.Login)
}

func TestEmptyTokenSendsNoAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := rest.NewClient("disposable", srv.URL)
	require.NoError(t, c.Get(context.Background(), "", "ping", nil))
}

func TestAbsolutePathOnBaseHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hi", body["body"])
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repos/o/r/issues/1/comments", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := rest.NewClient("issues", srv.URL+"/api")
	err := c.Post(context.Background(), "t", srv.URL+"/repos/o/r/issues/1/comments", map[string]string{"body": "hi"}, nil)
	require.NoError(t, err)
}

func TestAbsolutePathOnForeignHostIsRefused(t *testing.T) {
	var foreignCalls atomic.Int32
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		foreignCalls.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer foreign.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer api.Close()

	c := rest.NewClient("issues", api.URL)
	err := c.Post(context.Background(), "ghp_secret", foreign.URL+"/steal", map[string]string{"body": "x"}, nil)
	require.ErrorIs(t, err, rest.ErrForeignHost)
	assert.Zero(t, foreignCalls.Load(), "the token must never reach another host")

	err = c.Get(context.Background(), "ghp_secret", "https://"+strings.TrimPrefix(api.URL, "http://")+"/user", nil)
	assert.ErrorIs(t, err, rest.ErrForeignHost, "a scheme change is a different origin")
}

func TestLongErrorBodyIsCutOnRuneBoundary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(strings.Repeat("é", 300)))
	}))
	defer srv.Close()

	err := rest.NewClient("issues", srv.URL).Get(context.Background(), "", "/x", nil)
	var se *rest.StatusError
	require.ErrorAs(t, err, &se)
	assert.True(t, utf8.ValidString(se.Message))
	assert.Equal(t, 200, utf8.RuneCountInString(se.Message))
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"unauthorized", http.StatusUnauthorized, `{"message":"Bad credentials"}`, func(t *testing.T, err error) {
			assert.True(t, source.IsAuthError(err))
			assert.Contains(t, err.Error(), "Bad credentials")
		}},
		{"server error", http.StatusBadGateway, `oops`, func(t *testing.T, err error) {
			assert.True(t, source.IsTransient(err))
		}},
		{"not found", http.StatusNotFound, `{"errors":[{"message":"no such conversation"}]}`, func(t *testing.T, err error) {
			var se *rest.StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, http.StatusNotFound, se.Code)
			assert.Equal(t, "no such conversation", se.Message)
		}},
		{"malformed", http.StatusOK, `<html>`, func(t *testing.T, err error) {
			assert.True(t, source.IsMalformed(err))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			var out map[string]any
			err := rest.NewClient("issues", srv.URL).Get(context.Background(), "t", "/x", &out)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := rest.NewClient("issues", url).Get(context.Background(), "t", "/x", nil)
	assert.True(t, source.IsTransient(err))
}

func TestRateLimitRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, rest.NewClient("issues", srv.URL).Get(context.Background(), "t", "/x", &out))
	assert.True(t, out.OK)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRateLimitExhaustedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := rest.NewClient("issues", srv.URL, rest.WithMaxRetries(1)).Get(context.Background(), "t", "/x", nil)
	assert.True(t, source.IsTransient(err))
	assert.Contains(t, err.Error(), "max retries")
}
