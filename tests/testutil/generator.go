package testutil

import (
	"context"
	"sync"
)

// StubGenerator returns a fixed reply (or error) and counts calls.
type StubGenerator struct {
	Reply string
	Err   error

	mu      sync.Mutex
	prompts []string
	systems []string
}

func (g *StubGenerator) Generate(_ context.Context, prompt, systemPrompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	g.systems = append(g.systems, systemPrompt)
	if g.Err != nil {
		return "", g.Err
	}
	return g.Reply, nil
}

// Calls returns the number of Generate calls.
func (g *StubGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

// LastPrompt returns the most recent prompt and system prompt.
func (g *StubGenerator) LastPrompt() (string, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return "", ""
	}
	return g.prompts[len(g.prompts)-1], g.systems[len(g.systems)-1]
}
