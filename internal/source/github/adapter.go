package github

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nhle/localclaw/internal/credential"
	"github.com/nhle/localclaw/internal/model"
	"github.com/nhle/localclaw/internal/source"
	"github.com/nhle/localclaw/internal/source/rest"
)

// DefaultBaseURL is the public GitHub REST API.
const DefaultBaseURL = "https://api.github.com"

const perPage = 20

// Backend turns unread GitHub notifications into items. The ReplyTarget of
// an item is the comments URL of its issue or pull request; items without
// one cannot be answered.
type Backend struct {
	channel string
	account string
	api     *rest.Client
	tokens  credential.TokenSource
	logger  *zap.Logger
	health  source.Health
}

// NewAPIClient returns a REST client with the headers GitHub expects.
func NewAPIClient(channel, baseURL string, opts ...rest.Option) *rest.Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	opts = append([]rest.Option{
		rest.WithHeader("Accept", "application/vnd.github+json"),
		rest.WithHeader("X-GitHub-Api-Version", "2022-11-28"),
	}, opts...)
	return rest.NewClient(channel, baseURL, opts...)
}

// New creates a GitHub backend for the configured channel.
func New(cfg model.ChannelConfig, api *rest.Client, tokens credential.TokenSource, logger *zap.Logger) *Backend {
	return &Backend{
		channel: cfg.ID,
		account: cfg.Account,
		api:     api,
		tokens:  tokens,
		logger:  logger.With(zap.String("channel", cfg.ID)),
	}
}

// Validator checks a token against GET /user.
func Validator(api *rest.Client) credential.Validator {
	return func(ctx context.Context, token string) error {
		var u User
		return api.Get(ctx, token, "/user", &u)
	}
}

// FetchPending returns unread notifications with their subject bodies.
func (b *Backend) FetchPending(ctx context.Context) []model.Item {
	var notes []Notification
	err := credential.WithAuthRetry(ctx, b.tokens, b.account, func(ctx context.Context, tok string) error {
		return b.api.Get(ctx, tok, fmt.Sprintf("/notifications?all=false&per_page=%d", perPage), &notes)
	})
	b.health.Record(err)
	if err != nil {
		b.logger.Error("fetching notifications failed", zap.Error(err))
		return nil
	}

	items := make([]model.Item, 0, len(notes))
	for _, n := range notes {
		body, commentsURL := b.fetchSubject(ctx, n.Subject)

		title := n.Subject.Title
		if title == "" {
			title = "(no title)"
		}
		repo := n.Repository.FullName

		items = append(items, model.Item{
			ID:          n.ID,
			Channel:     b.channel,
			From:        repo,
			Name:        repo,
			Subject:     title,
			Body:        body,
			Kind:        n.Subject.Type,
			Received:    n.UpdatedAt,
			ReplyTarget: commentsURL,
			Metadata: map[string]string{
				"repo":   repo,
				"reason": n.Reason,
			},
		})
	}
	return items
}

// fetchSubject loads the body text and comments URL for a notification
// subject. Failures leave the body empty so the item is skipped.
func (b *Backend) fetchSubject(ctx context.Context, s Subject) (body, commentsURL string) {
	if s.URL == "" {
		return "", ""
	}

	var d SubjectDetail
	err := credential.WithAuthRetry(ctx, b.tokens, b.account, func(ctx context.Context, tok string) error {
		return b.api.Get(ctx, tok, s.URL, &d)
	})
	if err != nil {
		b.logger.Debug("could not fetch subject details", zap.String("url", s.URL), zap.Error(err))
		return "", ""
	}

	switch s.Type {
	case "Issue", "PullRequest":
		commentsURL = d.CommentsURL
		if commentsURL == "" {
			commentsURL = strings.Replace(s.URL, "/pulls/", "/issues/", 1) + "/comments"
		}
		return d.Body, commentsURL
	case "Release":
		if d.Body != "" {
			return d.Body, ""
		}
		return d.Name, ""
	case "Commit":
		return d.Commit.Message, ""
	default:
		return d.Body, ""
	}
}

// SendResponse posts text as a comment on the item's issue or pull request.
func (b *Backend) SendResponse(ctx context.Context, item model.Item, text string) error {
	if item.ReplyTarget == "" {
		return errors.New("no comments url: cannot post reply")
	}

	err := credential.WithAuthRetry(ctx, b.tokens, b.account, func(ctx context.Context, tok string) error {
		return b.api.Post(ctx, tok, item.ReplyTarget, map[string]string{"body": text}, nil)
	})
	if err != nil {
		return fmt.Errorf("posting comment to %s: %w", item.ReplyTarget, err)
	}
	b.logger.Info("comment posted", zap.String("url", item.ReplyTarget))
	return nil
}

// MarkConsumed marks the notification thread as read.
func (b *Backend) MarkConsumed(ctx context.Context, item model.Item) {
	err := credential.WithAuthRetry(ctx, b.tokens, b.account, func(ctx context.Context, tok string) error {
		return b.api.Patch(ctx, tok, "/notifications/threads/"+item.ID, nil, nil)
	})
	if err != nil {
		b.logger.Warn("mark read failed", zap.String("thread", item.ID), zap.Error(err))
	}
}

// Status reports the outcome of the last fetch.
func (b *Backend) Status() source.Status {
	return b.health.Status()
}
