package ai

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned without calling the backend while the breaker
// is open.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// BreakerState is the state of a Breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // requests flow normally
	BreakerOpen                         // requests are rejected
	BreakerHalfOpen                     // a limited number of probes are let through
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig tunes a Breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that closes it.
	SuccessThreshold int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// HalfOpenMaxRequests bounds concurrent probes while half-open.
	HalfOpenMaxRequests int
}

// DefaultBreakerConfig returns the settings used for the inference backend.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:    3,
		SuccessThreshold:    1,
		Cooldown:            30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// Breaker fails fast after repeated failures so a dead backend does not
// cost every caller a full timeout.
type Breaker struct {
	config BreakerConfig
	now    func() time.Time

	mu            sync.Mutex
	state         BreakerState
	failureCount  int
	successCount  int
	halfOpenCount int
	lastStateTime time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(config BreakerConfig, now func() time.Time) *Breaker {
	if now == nil {
		now = time.Now
	}
	return &Breaker{
		config:        config,
		now:           now,
		lastStateTime: now(),
	}
}

// Execute runs fn unless the breaker is open, and records its result.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	b.checkStateTransition()

	switch b.state {
	case BreakerOpen:
		b.mu.Unlock()
		return ErrBreakerOpen
	case BreakerHalfOpen:
		if b.halfOpenCount >= b.config.HalfOpenMaxRequests {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.halfOpenCount++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure()
	} else {
		b.onSuccess()
	}
	return err
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkStateTransition()
	return b.state
}

func (b *Breaker) checkStateTransition() {
	if b.state == BreakerOpen && b.now().Sub(b.lastStateTime) >= b.config.Cooldown {
		b.setState(BreakerHalfOpen)
	}
}

func (b *Breaker) onFailure() {
	b.failureCount++
	switch b.state {
	case BreakerHalfOpen:
		b.setState(BreakerOpen)
	case BreakerClosed:
		if b.failureCount >= b.config.FailureThreshold {
			b.setState(BreakerOpen)
		}
	}
}

func (b *Breaker) onSuccess() {
	b.failureCount = 0
	if b.state != BreakerHalfOpen {
		return
	}
	b.successCount++
	b.halfOpenCount--
	if b.successCount >= b.config.SuccessThreshold {
		b.setState(BreakerClosed)
	}
}

func (b *Breaker) setState(s BreakerState) {
	b.state = s
	b.halfOpenCount = 0
	b.successCount = 0
	if s == BreakerClosed {
		b.failureCount = 0
	}
	b.lastStateTime = b.now()
}
