package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/nhle/localclaw/internal/source"
)

// Validator checks a cached token with the remote service. Returning a
// source.AuthError marks the token as rejected; any other error is treated
// as transient and the cached token is kept.
type Validator func(ctx context.Context, token string) error

// Refresher exchanges a rejected token for a new one without user
// interaction. An error falls through to the Acquirer.
type Refresher func(ctx context.Context, stale string) (string, error)

// TokenSource is what channel backends consult before every outbound call.
type TokenSource interface {
	Token(ctx context.Context, account string) (string, error)
	Refresh(ctx context.Context, account, stale string) (string, error)
}

// Manager owns the credential lifecycle of one channel. Acquisition is
// serialized per manager, so a blocking prompt on one channel never stalls
// another.
type Manager struct {
	channel  string
	secrets  SecretStore
	acquirer Acquirer
	validate Validator
	refresh  Refresher
	logger   *zap.Logger

	mu      sync.Mutex
	trusted map[string]string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

func WithValidator(v Validator) ManagerOption { return func(m *Manager) { m.validate = v } }

func WithRefresher(r Refresher) ManagerOption { return func(m *Manager) { m.refresh = r } }

func WithLogger(l *zap.Logger) ManagerOption { return func(m *Manager) { m.logger = l } }

// NewManager creates the credential manager for one channel.
func NewManager(channel string, secrets SecretStore, acquirer Acquirer, opts ...ManagerOption) *Manager {
	m := &Manager{
		channel:  channel,
		secrets:  secrets,
		acquirer: acquirer,
		logger:   zap.NewNop(),
		trusted:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("channel", channel))
	return m
}

// Key returns the secret store key for account.
func (m *Manager) Key(account string) string {
	return fmt.Sprintf("%s_token_%s", m.channel, account)
}

// Token returns a usable credential for account. The lookup order is the
// in-memory trusted token, the secret store (validated when a Validator is
// configured), then interactive acquisition.
func (m *Manager) Token(ctx context.Context, account string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tok, ok := m.trusted[account]; ok {
		return tok, nil
	}

	cached, err := m.secrets.Get(m.Key(account))
	switch {
	case err == nil && cached != "":
		if tok, ok := m.checkCached(ctx, account, cached); ok {
			return tok, nil
		}
	case err != nil && !errors.Is(err, ErrNotFound):
		m.logger.Warn("reading cached credential", zap.Error(err))
	}

	return m.acquire(ctx, account)
}

// checkCached validates a cached token, refreshing it silently when the
// service rejects it. It reports false when acquisition is needed.
func (m *Manager) checkCached(ctx context.Context, account, cached string) (string, bool) {
	if m.validate == nil {
		m.trusted[account] = cached
		return cached, true
	}

	err := m.validate(ctx, cached)
	if err == nil {
		m.trusted[account] = cached
		return cached, true
	}
	if !source.IsAuthError(err) {
		// Not trusted yet: the next call validates again.
		m.logger.Warn("credential validation unavailable, keeping cached token", zap.Error(err))
		return cached, true
	}
	if m.refresh == nil {
		return "", false
	}

	tok, err := m.refresh(ctx, cached)
	if err != nil || tok == "" {
		m.logger.Info("silent refresh failed", zap.Error(err))
		return "", false
	}
	return m.persist(account, tok), true
}

// Refresh invalidates stale and obtains a replacement. When another caller
// has already replaced stale, the current token is returned unchanged.
func (m *Manager) Refresh(ctx context.Context, account, stale string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tok, ok := m.trusted[account]; ok && tok != stale {
		return tok, nil
	}

	delete(m.trusted, account)
	if err := m.secrets.Delete(m.Key(account)); err != nil {
		m.logger.Warn("dropping rejected credential", zap.Error(err))
	}

	if m.refresh != nil {
		tok, err := m.refresh(ctx, stale)
		if err == nil && tok != "" {
			return m.persist(account, tok), nil
		}
		m.logger.Info("silent refresh failed", zap.Error(err))
	}

	return m.acquire(ctx, account)
}

// Reset deletes the cached credential so the next Token call acquires a
// new one.
func (m *Manager) Reset(account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.trusted, account)
	if err := m.secrets.Delete(m.Key(account)); err != nil {
		return fmt.Errorf("resetting %s credential: %w", m.channel, err)
	}
	return nil
}

// Validate checks token with the configured Validator. Without one every
// token is accepted.
func (m *Manager) Validate(ctx context.Context, token string) error {
	if m.validate == nil {
		return nil
	}
	return m.validate(ctx, token)
}

// Store saves token for account as if it had been acquired.
func (m *Manager) Store(account, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.secrets.Set(m.Key(account), token); err != nil {
		return err
	}
	m.trusted[account] = token
	return nil
}

func (m *Manager) acquire(ctx context.Context, account string) (string, error) {
	if m.acquirer == nil {
		return "", fmt.Errorf("%s/%s: %w", m.channel, account, ErrNoCredential)
	}
	tok, err := m.acquirer.Acquire(ctx, m.channel, account)
	if err != nil {
		return "", fmt.Errorf("acquiring %s credential for %s: %w", m.channel, account, err)
	}
	if tok == "" {
		return "", fmt.Errorf("%s/%s: %w", m.channel, account, ErrNoCredential)
	}
	return m.persist(account, tok), nil
}

// persist writes tok to the secret store and only then trusts it. A token
// that could not be persisted is still returned for this one call.
func (m *Manager) persist(account, tok string) string {
	if err := m.secrets.Set(m.Key(account), tok); err != nil {
		m.logger.Warn("persisting credential", zap.Error(err))
		return tok
	}
	m.trusted[account] = tok
	return tok
}

// WithAuthRetry runs fn with the current token. If fn reports an
// authorization failure the token is refreshed once and fn is run again;
// a second failure is returned to the caller.
func WithAuthRetry(ctx context.Context, tokens TokenSource, account string, fn func(ctx context.Context, token string) error) error {
	tok, err := tokens.Token(ctx, account)
	if err != nil {
		return err
	}

	err = fn(ctx, tok)
	if !source.IsAuthError(err) {
		return err
	}

	tok, rerr := tokens.Refresh(ctx, account, tok)
	if rerr != nil {
		return errors.Join(err, rerr)
	}
	return fn(ctx, tok)
}
