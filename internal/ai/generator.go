package ai

import (
	"context"
	"errors"
)

// ErrUnavailable reports that the inference backend could not be reached
// or did not answer in time.
var ErrUnavailable = errors.New("inference backend unavailable")

// FallbackReply is substituted whenever generation fails.
const FallbackReply = "Sorry, I could not reach the local AI model right now."

// Backend status values.
const (
	StatusUnknown = "unknown"
	StatusRunning = "running"
	StatusOffline = "offline"
	StatusError   = "error"
)

// Generator turns a prompt into a reply.
type Generator interface {
	Generate(ctx context.Context, prompt, systemPrompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt, systemPrompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	return f(ctx, prompt, systemPrompt)
}
