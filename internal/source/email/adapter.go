package email

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/nhle/localclaw/internal/credential"
	"github.com/nhle/localclaw/internal/model"
	"github.com/nhle/localclaw/internal/source"
)

const defaultFetchLimit = 20

// SettingsFromConfig reads mailbox settings from a channel config.
func SettingsFromConfig(cfg model.ChannelConfig) Settings {
	s := Settings{
		IMAPHost:        cfg.Setting("imap_host", ""),
		IMAPPort:        cfg.Setting("imap_port", "993"),
		SMTPPort:        cfg.Setting("smtp_port", "587"),
		Username:        cfg.Account,
		TLS:             cfg.BoolSetting("tls", true),
		Mailbox:         cfg.Setting("mailbox", "INBOX"),
		FetchLimit:      defaultFetchLimit,
		DeleteAfterRead: cfg.BoolSetting("delete_after_read", false),
	}
	s.SMTPHost = cfg.Setting("smtp_host", s.IMAPHost)
	if n, err := strconv.Atoi(cfg.Setting("fetch_limit", "")); err == nil && n > 0 {
		s.FetchLimit = n
	}
	return s
}

// Backend polls an IMAP mailbox and replies over SMTP. The channel
// credential is the mailbox password. The ReplyTarget of an item is the
// sender address.
type Backend struct {
	channel  string
	settings Settings
	imap     *IMAPClient
	smtp     *SMTPSender
	tokens   credential.TokenSource
	logger   *zap.Logger
	health   source.Health
}

// New creates an email backend for the configured channel.
func New(cfg model.ChannelConfig, tokens credential.TokenSource, logger *zap.Logger) *Backend {
	s := SettingsFromConfig(cfg)
	return &Backend{
		channel:  cfg.ID,
		settings: s,
		imap:     NewIMAPClient(cfg.ID, s),
		smtp:     NewSMTPSender(cfg.ID, s),
		tokens:   tokens,
		logger:   logger.With(zap.String("channel", cfg.ID)),
	}
}

// Validator checks a password by logging in to the mailbox.
func Validator(c *IMAPClient) credential.Validator {
	return c.Check
}

// FetchPending returns unseen messages, oldest first.
func (b *Backend) FetchPending(ctx context.Context) []model.Item {
	var msgs []*ParsedMessage
	err := credential.WithAuthRetry(ctx, b.tokens, b.settings.Username, func(ctx context.Context, password string) error {
		var err error
		msgs, err = b.imap.FetchUnseen(ctx, password, b.settings.FetchLimit)
		return err
	})
	b.health.Record(err)
	if err != nil {
		b.logger.Error("fetching mail failed", zap.Error(err))
		return nil
	}

	items := make([]model.Item, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, b.toItem(m))
	}
	return items
}

func (b *Backend) toItem(m *ParsedMessage) model.Item {
	env := m.Envelope

	// Prefer plain text body; fall back to stripped HTML
	body := m.TextBody
	if strings.TrimSpace(body) == "" && m.HTMLBody != "" {
		body = source.HTMLToText(m.HTMLBody)
	}

	subject := env.Subject
	if subject == "" {
		subject = "(no subject)"
	}

	name := env.FromName
	if name == "" {
		name = env.FromAddr
	}

	meta := map[string]string{
		"uid": strconv.FormatUint(uint64(env.UID), 10),
	}
	if env.MessageID != "" {
		meta["message_id"] = env.MessageID
	}
	if len(m.Attachments) > 0 {
		meta["attachments"] = strconv.Itoa(len(m.Attachments))
	}

	return model.Item{
		ID:          strconv.FormatUint(uint64(env.UID), 10),
		Channel:     b.channel,
		From:        env.FromAddr,
		Name:        name,
		Subject:     subject,
		Body:        strings.TrimSpace(body),
		Received:    env.Date,
		ReplyTarget: env.FromAddr,
		Metadata:    meta,
	}
}

// SendResponse mails text to the item's ReplyTarget.
func (b *Backend) SendResponse(ctx context.Context, item model.Item, text string) error {
	to := item.ReplyTarget
	if to == "" {
		to = item.From
	}
	if to == "" {
		return fmt.Errorf("no recipient for item %s", item.ID)
	}

	r := Reply{
		From:      b.settings.Username,
		To:        to,
		Subject:   item.Subject,
		InReplyTo: item.Metadata["message_id"],
		Body:      text,
	}
	err := credential.WithAuthRetry(ctx, b.tokens, b.settings.Username, func(ctx context.Context, password string) error {
		return b.smtp.Send(ctx, password, r)
	})
	if err != nil {
		return fmt.Errorf("sending reply to %s: %w", to, err)
	}
	b.logger.Info("reply sent", zap.String("to", to))
	return nil
}

// MarkConsumed flags the message \Seen, deleting it when configured.
func (b *Backend) MarkConsumed(ctx context.Context, item model.Item) {
	uid, err := strconv.ParseUint(item.ID, 10, 32)
	if err != nil {
		b.logger.Warn("invalid message uid", zap.String("id", item.ID))
		return
	}

	err = credential.WithAuthRetry(ctx, b.tokens, b.settings.Username, func(ctx context.Context, password string) error {
		return b.imap.MarkSeen(ctx, password, uint32(uid), b.settings.DeleteAfterRead)
	})
	if err != nil {
		b.logger.Warn("marking message seen failed", zap.String("uid", item.ID), zap.Error(err))
	}
}

func (b *Backend) Status() source.Status {
	return b.health.Status()
}
