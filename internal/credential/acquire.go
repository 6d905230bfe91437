package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/huh"
)

// ErrNoCredential is returned when no acquisition strategy produced a token.
var ErrNoCredential = errors.New("no credential available")

// Acquirer obtains a fresh credential, possibly by asking a human. It may
// block for an arbitrary time and must honour ctx cancellation.
type Acquirer interface {
	Acquire(ctx context.Context, channel, account string) (string, error)
}

// AcquirerFunc adapts a function to the Acquirer interface.
type AcquirerFunc func(ctx context.Context, channel, account string) (string, error)

func (f AcquirerFunc) Acquire(ctx context.Context, channel, account string) (string, error) {
	return f(ctx, channel, account)
}

// StaticAcquirer returns a token taken from configuration.
type StaticAcquirer string

func (s StaticAcquirer) Acquire(context.Context, string, string) (string, error) {
	if s == "" {
		return "", ErrNoCredential
	}
	return string(s), nil
}

// promptMu serializes terminal prompts across the process; two forms
// reading the same tty at once interleave their input.
var promptMu sync.Mutex

// runPrompt shows the masked input form. Tests replace it.
var runPrompt = func(ctx context.Context, channel, account, label string) (string, error) {
	var token string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(fmt.Sprintf("%s %s", channel, label)).
				Description(fmt.Sprintf("Credential for %s", account)).
				EchoMode(huh.EchoModePassword).
				Value(&token).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("%s is required", label)
					}
					return nil
				}),
		),
	)
	if err := form.RunWithContext(ctx); err != nil {
		return "", err
	}
	return token, nil
}

// PromptAcquirer asks for the secret on the terminal with masked input.
// Only one prompt is shown at a time.
type PromptAcquirer struct {
	// Label names the secret in the prompt, e.g. "personal access token".
	Label string
}

func (p PromptAcquirer) Acquire(ctx context.Context, channel, account string) (string, error) {
	label := p.Label
	if label == "" {
		label = "token"
	}

	promptMu.Lock()
	defer promptMu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}

	token, err := runPrompt(ctx, channel, account, label)
	if err != nil {
		return "", fmt.Errorf("prompting for %s credential: %w", channel, err)
	}
	return strings.TrimSpace(token), nil
}

// ChainAcquirer tries each strategy in order and returns the first token.
type ChainAcquirer []Acquirer

func (c ChainAcquirer) Acquire(ctx context.Context, channel, account string) (string, error) {
	var errs []error
	for _, a := range c {
		token, err := a.Acquire(ctx, channel, account)
		if err == nil && token != "" {
			return token, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return "", ErrNoCredential
	}
	return "", errors.Join(append([]error{ErrNoCredential}, errs...)...)
}
