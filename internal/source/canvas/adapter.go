package canvas

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/localclaw/internal/credential"
	"github.com/nhle/localclaw/internal/model"
	"github.com/nhle/localclaw/internal/source"
	"github.com/nhle/localclaw/internal/source/rest"
)

const apiPrefix = "/api/v1"

// Conversation is one entry of GET /api/v1/conversations.
type Conversation struct {
	ID            int64         `json:"id"`
	Subject       string        `json:"subject"`
	WorkflowState string        `json:"workflow_state"`
	LastMessage   string        `json:"last_message"`
	LastMessageAt time.Time     `json:"last_message_at"`
	ContextName   string        `json:"context_name"`
	Participants  []Participant `json:"participants"`
}

// Participant is a user taking part in a conversation.
type Participant struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Backend turns unread Canvas inbox conversations into items. The
// ReplyTarget of an item is the conversation id.
type Backend struct {
	channel string
	account string
	api     *rest.Client
	tokens  credential.TokenSource
	logger  *zap.Logger
	health  source.Health
}

// New creates a Canvas backend for the configured channel.
func New(cfg model.ChannelConfig, api *rest.Client, tokens credential.TokenSource, logger *zap.Logger) *Backend {
	return &Backend{
		channel: cfg.ID,
		account: cfg.Account,
		api:     api,
		tokens:  tokens,
		logger:  logger.With(zap.String("channel", cfg.ID)),
	}
}

// Validator checks a token against the current user's profile.
func Validator(api *rest.Client) credential.Validator {
	return func(ctx context.Context, token string) error {
		var profile struct {
			ID int64 `json:"id"`
		}
		return api.Get(ctx, token, apiPrefix+"/users/self/profile", &profile)
	}
}

func (b *Backend) FetchPending(ctx context.Context) []model.Item {
	var convs []Conversation
	err := credential.WithAuthRetry(ctx, b.tokens, b.account, func(ctx context.Context, tok string) error {
		return b.api.Get(ctx, tok, apiPrefix+"/conversations?scope=unread&per_page=20", &convs)
	})
	b.health.Record(err)
	if err != nil {
		b.logger.Error("fetching conversations failed", zap.Error(err))
		return nil
	}

	items := make([]model.Item, 0, len(convs))
	for _, c := range convs {
		from, name := c.ContextName, c.ContextName
		if len(c.Participants) > 0 {
			name = c.Participants[0].Name
			from = strconv.FormatInt(c.Participants[0].ID, 10)
		}
		subject := c.Subject
		if subject == "" {
			subject = "(no subject)"
		}
		id := strconv.FormatInt(c.ID, 10)

		items = append(items, model.Item{
			ID:          id,
			Channel:     b.channel,
			From:        from,
			Name:        name,
			Subject:     subject,
			Body:        source.HTMLToText(c.LastMessage),
			Kind:        "Conversation",
			Received:    c.LastMessageAt,
			ReplyTarget: id,
			Metadata:    map[string]string{"course": c.ContextName},
		})
	}
	return items
}

// SendResponse adds text as a message to the conversation.
func (b *Backend) SendResponse(ctx context.Context, item model.Item, text string) error {
	target := item.ReplyTarget
	if target == "" {
		target = item.ID
	}
	path := fmt.Sprintf("%s/conversations/%s/add_message", apiPrefix, url.PathEscape(target))

	err := credential.WithAuthRetry(ctx, b.tokens, b.account, func(ctx context.Context, tok string) error {
		return b.api.Post(ctx, tok, path, map[string]string{"body": text}, nil)
	})
	if err != nil {
		return fmt.Errorf("replying to conversation %s: %w", target, err)
	}
	return nil
}

// MarkConsumed sets the conversation's workflow state to read.
func (b *Backend) MarkConsumed(ctx context.Context, item model.Item) {
	path := fmt.Sprintf("%s/conversations/%s?conversation[workflow_state]=read", apiPrefix, url.PathEscape(item.ID))
	err := credential.WithAuthRetry(ctx, b.tokens, b.account, func(ctx context.Context, tok string) error {
		return b.api.Put(ctx, tok, path, nil, nil)
	})
	if err != nil {
		b.logger.Warn("mark read failed", zap.String("conversation", item.ID), zap.Error(err))
	}
}

func (b *Backend) Status() source.Status {
	return b.health.Status()
}
