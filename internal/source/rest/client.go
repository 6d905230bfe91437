package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/localclaw/internal/source"
)

// Client is a thin JSON HTTP client shared by the REST channel backends.
// It handles Bearer token authentication, JSON marshaling, automatic
// retry with exponential backoff on HTTP 429, and maps failures onto the
// source error taxonomy.
type Client struct {
	channel    string
	baseURL    string
	header     http.Header
	httpClient *http.Client
	maxRetries int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithHeader adds a header sent on every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.header.Set(key, value) }
}

// WithMaxRetries bounds the number of 429 retries.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// NewClient creates a client for one channel. The baseURL is the root of
// the remote API (e.g., https://api.github.com).
func NewClient(channel, baseURL string, opts ...Option) *Client {
	c := &Client{
		channel: channel,
		baseURL: strings.TrimRight(baseURL, "/"),
		header:  make(http.Header),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ErrForeignHost is returned for an absolute URL outside the client's
// base URL. No request is sent.
var ErrForeignHost = errors.New("url is not on the configured API host")

// StatusError is returned for non-2xx responses that are neither auth
// failures nor server errors.
type StatusError struct {
	Code    int
	Method  string
	Path    string
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d on %s %s: %s", e.Code, e.Method, e.Path, e.Message)
}

// Get performs an HTTP GET request and unmarshals the JSON response.
func (c *Client) Get(ctx context.Context, token, path string, result any) error {
	return c.Do(ctx, http.MethodGet, token, path, nil, result)
}

// Post performs an HTTP POST request with a JSON body.
func (c *Client) Post(ctx context.Context, token, path string, body, result any) error {
	return c.Do(ctx, http.MethodPost, token, path, body, result)
}

// Put performs an HTTP PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, token, path string, body, result any) error {
	return c.Do(ctx, http.MethodPut, token, path, body, result)
}

// Patch performs an HTTP PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, token, path string, body, result any) error {
	return c.Do(ctx, http.MethodPatch, token, path, body, result)
}

// Delete performs an HTTP DELETE request.
func (c *Client) Delete(ctx context.Context, token, path string) error {
	return c.Do(ctx, http.MethodDelete, token, path, nil, nil)
}

// Do builds the request, handles auth and rate limiting, and decodes the
// JSON response into result. An empty token sends no Authorization header.
// path may be absolute when it points at the base URL's scheme and host.
func (c *Client) Do(ctx context.Context, method, token, path string, body, result any) error {
	target, err := c.resolve(path)
	if err != nil {
		return err
	}
	op := method + " " + path

	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		payload = data
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		for k, v := range c.header {
			req.Header[k] = v
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if req.Header.Get("Accept") == "" {
			req.Header.Set("Accept", "application/json")
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &source.TransientError{Op: op, Err: err}
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return &source.TransientError{Op: op, Err: fmt.Errorf("reading response body: %w", readErr)}
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429) on %s", op)
			if attempt == c.maxRetries {
				break
			}

			select {
			case <-ctx.Done():
				return &source.TransientError{Op: op, Err: ctx.Err()}
			case <-time.After(retryAfterDuration(resp, attempt)):
				continue
			}
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return &source.AuthError{
				Channel: c.channel,
				Message: fmt.Sprintf("authentication failed (401) on %s: %s", op, errorMessage(respBody)),
			}
		case resp.StatusCode >= 500:
			return &source.TransientError{
				Op:  op,
				Err: fmt.Errorf("server error %d: %s", resp.StatusCode, errorMessage(respBody)),
			}
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return &StatusError{
				Code:    resp.StatusCode,
				Method:  method,
				Path:    path,
				Message: errorMessage(respBody),
			}
		}

		// No content to parse (e.g. 204).
		if result == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(respBody)) == 0 {
			return nil
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return &source.MalformedResponseError{Op: op, Err: err}
		}
		return nil
	}

	return &source.TransientError{
		Op:  op,
		Err: fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr),
	}
}

func (c *Client) resolve(path string) (string, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		u, err := url.Parse(path)
		if err != nil {
			return "", fmt.Errorf("parsing %q: %w", path, err)
		}
		base, err := url.Parse(c.baseURL)
		if err != nil {
			return "", fmt.Errorf("parsing base url %q: %w", c.baseURL, err)
		}
		if !strings.EqualFold(u.Scheme, base.Scheme) || !strings.EqualFold(u.Host, base.Host) {
			return "", fmt.Errorf("%w: %s://%s", ErrForeignHost, u.Scheme, u.Host)
		}
		return path, nil
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path, nil
}

const maxErrorRunes = 200

// errorMessage extracts a human-readable message from an error payload.
// GitHub uses {"message": ...}; Canvas uses {"errors": [{"message": ...}]}.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Errors  []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		msgs := make([]string, 0, len(payload.Errors))
		for _, e := range payload.Errors {
			if e.Message != "" {
				msgs = append(msgs, e.Message)
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}

	s := strings.TrimSpace(string(body))
	if r := []rune(s); len(r) > maxErrorRunes {
		s = string(r[:maxErrorRunes])
	}
	return s
}

// retryAfterDuration reads the Retry-After header and computes a wait
// duration. Falls back to exponential backoff if the header is missing.
func retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}

	// Exponential backoff: 1s, 2s, 4s, ...
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}
