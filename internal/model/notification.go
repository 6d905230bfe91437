package model

import "time"

// ChannelType identifies the kind of backend behind a channel.
type ChannelType string

const (
	ChannelTypeEmail     ChannelType = "email"
	ChannelTypeGuerrilla ChannelType = "guerrilla"
	ChannelTypeGitHub    ChannelType = "github"
	ChannelTypeCanvas    ChannelType = "canvas"
)

// Item is a single unit of work fetched from a channel. It is consumed
// exactly once by the pipeline and never persisted on its own; only the
// resulting Outcome is.
type Item struct {
	// ID is the item's identifier within its source system
	// (IMAP UID, notification thread id, conversation id).
	ID string `json:"id"`

	// Channel is the configured channel id the item was fetched from.
	Channel string `json:"channel"`

	// From identifies the sender: an address, a login, or a
	// repository/course context.
	From string `json:"from"`

	// Name is the display name of the sender.
	Name string `json:"name"`

	// Subject is the subject line or title.
	Subject string `json:"subject"`

	// Body is the plain-text body. HTML has already been stripped.
	Body string `json:"body"`

	// Kind is an optional source-specific classification
	// (e.g., Issue, PullRequest, Release).
	Kind string `json:"type,omitempty"`

	// Received is when the source received or last updated the item.
	Received time.Time `json:"received"`

	// ReplyTarget is the channel-specific handle needed to answer the item
	// (recipient address, comments URL, conversation id).
	ReplyTarget string `json:"reply_target,omitempty"`

	// Metadata holds arbitrary key-value pairs needed by the backend.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Sender returns the display name, falling back to the sender identity.
func (i Item) Sender() string {
	if i.Name != "" {
		return i.Name
	}
	return i.From
}
