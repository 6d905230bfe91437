package guerrilla

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/localclaw/internal/model"
	"github.com/nhle/localclaw/internal/source"
	"github.com/nhle/localclaw/internal/source/rest"
)

// DefaultBaseURL is the public Guerrilla Mail API host.
const DefaultBaseURL = "http://api.guerrillamail.com"

// ErrSendUnsupported is returned by SendResponse: a disposable inbox is
// receive-only.
var ErrSendUnsupported = errors.New("disposable mailbox cannot send replies")

// MailSummary is one entry of the check_email list.
type MailSummary struct {
	ID        json.Number `json:"mail_id"`
	From      string      `json:"mail_from"`
	Subject   string      `json:"mail_subject"`
	Excerpt   string      `json:"mail_excerpt"`
	Timestamp json.Number `json:"mail_timestamp"`
}

// MailDetail is the fetch_email payload.
type MailDetail struct {
	ID      json.Number `json:"mail_id"`
	From    string      `json:"mail_from"`
	Subject string      `json:"mail_subject"`
	Body    string      `json:"mail_body"`
}

type session struct {
	SIDToken string `json:"sid_token"`
	Address  string `json:"email_addr"`
}

// Backend polls a Guerrilla Mail inbox. Items are deleted once consumed.
type Backend struct {
	channel string
	user    string
	api     *rest.Client
	logger  *zap.Logger
	health  source.Health

	mu      sync.Mutex
	sid     string
	address string
	seq     int64
}

// New creates a disposable mailbox backend. cfg.Account, when set, selects
// the inbox user name; otherwise a random address is assigned.
func New(cfg model.ChannelConfig, logger *zap.Logger, opts ...rest.Option) *Backend {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	opts = append([]rest.Option{rest.WithHeader("User-Agent", "LocalClaw-GuerrillaClient/1.0")}, opts...)
	return &Backend{
		channel: cfg.ID,
		user:    cfg.Account,
		api:     rest.NewClient(cfg.ID, base, opts...),
		logger:  logger.With(zap.String("channel", cfg.ID)),
	}
}

// Address returns the current inbox address, empty before the first fetch.
func (b *Backend) Address() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.address
}

func (b *Backend) call(ctx context.Context, fn string, params url.Values, result any) error {
	q := url.Values{}
	q.Set("f", fn)
	q.Set("ip", "127.0.0.1")
	q.Set("agent", "LocalClaw")

	b.mu.Lock()
	if b.sid != "" {
		q.Set("sid_token", b.sid)
	}
	b.mu.Unlock()

	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	return b.api.Get(ctx, "", "/ajax.php?"+q.Encode(), result)
}

func (b *Backend) ensureSession(ctx context.Context) error {
	b.mu.Lock()
	ready := b.address != ""
	b.mu.Unlock()
	if ready {
		return nil
	}

	fn, params := "get_email_address", url.Values{"lang": {"en"}}
	if b.user != "" {
		fn = "set_email_user"
		params.Set("email_user", b.user)
	}

	var s session
	if err := b.call(ctx, fn, params, &s); err != nil {
		return fmt.Errorf("initializing inbox: %w", err)
	}
	if s.Address == "" {
		return &source.MalformedResponseError{Op: fn, Err: errors.New("no email_addr in response")}
	}

	b.mu.Lock()
	b.sid, b.address, b.seq = s.SIDToken, s.Address, 0
	b.mu.Unlock()

	b.logger.Info("inbox initialized", zap.String("address", s.Address))
	return nil
}

// FetchPending returns mail received since the previous fetch, excluding
// the provider's own system messages.
func (b *Backend) FetchPending(ctx context.Context) []model.Item {
	summaries, err := b.checkEmail(ctx)
	b.health.Record(err)
	if err != nil {
		b.logger.Error("checking inbox failed", zap.Error(err))
		return nil
	}

	items := make([]model.Item, 0, len(summaries))
	for _, m := range summaries {
		id := m.ID.String()
		body := m.Excerpt

		var d MailDetail
		if err := b.call(ctx, "fetch_email", url.Values{"email_id": {id}}, &d); err != nil {
			b.logger.Warn("fetching mail body failed, using excerpt", zap.String("mail_id", id), zap.Error(err))
		} else if d.Body != "" {
			body = d.Body
		}

		var received time.Time
		if ts, err := m.Timestamp.Int64(); err == nil && ts > 0 {
			received = time.Unix(ts, 0)
		}

		subject := m.Subject
		if subject == "" {
			subject = "(no subject)"
		}

		items = append(items, model.Item{
			ID:          id,
			Channel:     b.channel,
			From:        m.From,
			Name:        m.From,
			Subject:     subject,
			Body:        source.HTMLToText(body),
			Received:    received,
			ReplyTarget: m.From,
			Metadata:    map[string]string{"inbox": b.Address()},
		})
	}
	return items
}

func (b *Backend) checkEmail(ctx context.Context) ([]MailSummary, error) {
	if err := b.ensureSession(ctx); err != nil {
		return nil, err
	}

	b.mu.Lock()
	seq := b.seq
	b.mu.Unlock()

	var resp struct {
		List []MailSummary `json:"list"`
	}
	if err := b.call(ctx, "check_email", url.Values{"seq": {strconv.FormatInt(seq, 10)}}, &resp); err != nil {
		return nil, err
	}

	out := make([]MailSummary, 0, len(resp.List))
	for _, m := range resp.List {
		if id, err := m.ID.Int64(); err == nil && id > seq {
			seq = id
		}
		if strings.Contains(strings.ToLower(m.From), "guerrillamail") {
			continue
		}
		out = append(out, m)
	}

	b.mu.Lock()
	if seq > b.seq {
		b.seq = seq
	}
	b.mu.Unlock()

	return out, nil
}

// SendResponse always fails.
func (b *Backend) SendResponse(context.Context, model.Item, string) error {
	return ErrSendUnsupported
}

// MarkConsumed deletes the message from the inbox.
func (b *Backend) MarkConsumed(ctx context.Context, item model.Item) {
	var resp struct {
		Deleted []json.Number `json:"deleted_ids"`
	}
	err := b.call(ctx, "del_email", url.Values{"email_ids[]": {item.ID}}, &resp)
	if err != nil {
		b.logger.Warn("delete failed", zap.String("mail_id", item.ID), zap.Error(err))
		return
	}
	b.logger.Debug("deleted", zap.Any("ids", resp.Deleted))
}

func (b *Backend) Status() source.Status {
	return b.health.Status()
}
