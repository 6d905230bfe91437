package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "llama3.2:3b"
	defaultTimeout = 120 * time.Second
	checkTimeout   = 5 * time.Second
)

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatResponse struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

type apiErrorResponse struct {
	Error string `json:"error"`
}

// OllamaClient generates replies with a local Ollama server.
type OllamaClient struct {
	baseURL string
	model   string
	client  *http.Client
	breaker *Breaker
	logger  *zap.Logger
	status  atomic.Value // string
}

// OllamaOption configures an OllamaClient.
type OllamaOption func(*OllamaClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) OllamaOption {
	return func(o *OllamaClient) { o.client = c }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *Breaker) OllamaOption {
	return func(o *OllamaClient) { o.breaker = b }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) OllamaOption {
	return func(o *OllamaClient) { o.logger = l }
}

// NewOllamaClient creates a client for the server at baseURL. A zero
// timeout selects the default of two minutes.
func NewOllamaClient(baseURL, model string, timeout time.Duration, opts ...OllamaOption) *OllamaClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = defaultModel
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	o := &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
		breaker: NewBreaker(DefaultBreakerConfig(), nil),
		logger:  zap.NewNop(),
	}
	o.status.Store(StatusUnknown)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Model returns the configured model name.
func (o *OllamaClient) Model() string { return o.model }

// Status returns the last observed backend status.
func (o *OllamaClient) Status() string {
	return o.status.Load().(string)
}

// Generate sends one chat request. Connection failures, timeouts and an
// open breaker are reported as ErrUnavailable.
func (o *OllamaClient) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	var reply string
	err := o.breaker.Execute(func() error {
		var err error
		reply, err = o.chat(ctx, prompt, systemPrompt)
		return err
	})
	if errors.Is(err, ErrBreakerOpen) {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return reply, err
}

func (o *OllamaClient) chat(ctx context.Context, prompt, systemPrompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    o.model,
		Messages: Conversation(systemPrompt, Message{Role: RoleUser, Content: prompt}),
		Stream:   false,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		o.status.Store(StatusOffline)
		o.logger.Warn("ollama unreachable", zap.String("url", o.baseURL), zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		o.status.Store(StatusOffline)
		return "", fmt.Errorf("%w: reading response: %w", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		o.status.Store(StatusError)
		var apiErr apiErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return "", fmt.Errorf("ollama error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return "", fmt.Errorf("ollama error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		o.status.Store(StatusError)
		return "", fmt.Errorf("decoding response: %w", err)
	}

	o.status.Store(StatusRunning)
	return strings.TrimSpace(result.Message.Content), nil
}

// Models lists the models installed on the server.
func (o *OllamaClient) Models(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		o.status.Store(StatusOffline)
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		o.status.Store(StatusError)
		return nil, fmt.Errorf("ollama error (%d)", resp.StatusCode)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		o.status.Store(StatusError)
		return nil, fmt.Errorf("decoding tags: %w", err)
	}

	o.status.Store(StatusRunning)
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Check probes the server and returns the resulting status.
func (o *OllamaClient) Check(ctx context.Context) string {
	if _, err := o.Models(ctx); err != nil {
		o.logger.Debug("ollama check failed", zap.Error(err))
	}
	return o.Status()
}
