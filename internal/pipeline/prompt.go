package pipeline

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nhle/localclaw/internal/model"
)

// Body budget handed to inference, in characters.
const (
	MaxBodyChars    = 3000
	TruncatedMarker = "[...truncated...]"
)

// truncateBody cuts body to MaxBodyChars and appends the marker when it
// had to.
func truncateBody(body string) (string, bool) {
	if utf8.RuneCountInString(body) <= MaxBodyChars {
		return body, false
	}
	n := 0
	for i := range body {
		if n == MaxBodyChars {
			return body[:i] + "\n" + TruncatedMarker, true
		}
		n++
	}
	return body, false
}

// BuildPrompt renders the inference prompt for an item, worded for the
// kind of channel it came from.
func BuildPrompt(kind model.ChannelType, item model.Item) (string, bool) {
	body, truncated := truncateBody(strings.TrimSpace(item.Body))

	var sb strings.Builder
	switch kind {
	case model.ChannelTypeGitHub:
		sb.WriteString("You received a GitHub notification:\n\n")
		fmt.Fprintf(&sb, "REPOSITORY: %s\n", item.From)
		if item.Kind != "" {
			fmt.Fprintf(&sb, "TYPE: %s\n", item.Kind)
		}
		fmt.Fprintf(&sb, "TITLE: %s\n", item.Subject)
		fmt.Fprintf(&sb, "---\n%s\n---\n\n", body)
		sb.WriteString("Write a helpful, concise comment in reply.")

	case model.ChannelTypeCanvas:
		sb.WriteString("You received a message on Canvas:\n\n")
		fmt.Fprintf(&sb, "FROM: %s\n", item.Sender())
		if course := item.Metadata["course"]; course != "" {
			fmt.Fprintf(&sb, "COURSE: %s\n", course)
		}
		fmt.Fprintf(&sb, "SUBJECT: %s\n", item.Subject)
		fmt.Fprintf(&sb, "---\n%s\n---\n\n", body)
		sb.WriteString("Write a helpful, polite reply.")

	default:
		sb.WriteString("You received an email:\n\n")
		fmt.Fprintf(&sb, "FROM: %s <%s>\n", item.Sender(), item.From)
		fmt.Fprintf(&sb, "SUBJECT: %s\n", item.Subject)
		fmt.Fprintf(&sb, "---\n%s\n---\n\n", body)
		sb.WriteString("Write a helpful, professional reply.")
	}

	return sb.String(), truncated
}
