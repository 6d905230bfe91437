package email

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nhle/localclaw/internal/model"
)

const multipartMessage = "From: Alice <alice@example.com>\r\n" +
	"To: me@example.com\r\n" +
	"Subject: Status\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=XYZ\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Hello <b>there</b></p>\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hello there\r\n" +
	"--XYZ\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=report.pdf\r\n" +
	"\r\n" +
	"PDFDATA\r\n" +
	"--XYZ--\r\n"

func TestParseMIMEBody(t *testing.T) {
	text, html, atts := parseMIMEBody([]byte(multipartMessage))

	assert.Equal(t, "Hello there", strings.TrimSpace(text))
	assert.Contains(t, html, "<b>there</b>")
	require.Len(t, atts, 1)
	assert.Equal(t, "report.pdf", atts[0].Filename)
	assert.Equal(t, "application/pdf", atts[0].MIMEType)
}

func TestComposeReply(t *testing.T) {
	raw, err := composeReply(Reply{
		From:      "me@example.com",
		To:        "alice@example.com",
		Subject:   "Status",
		InReplyTo: "abc@example.com",
		Body:      "All good.",
	}, time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer mr.Close()

	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Re: Status", subject)
	assert.Equal(t, "<abc@example.com>", mr.Header.Get("In-Reply-To"))

	to, err := mr.Header.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 1)
	assert.Equal(t, "alice@example.com", to[0].Address)

	part, err := mr.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(part.Body)
	require.NoError(t, err)
	assert.Equal(t, "All good.", string(body))
}

func TestComposeReplyKeepsExistingPrefix(t *testing.T) {
	raw, err := composeReply(Reply{From: "a@x", To: "b@x", Subject: "RE: ping", Body: "pong"}, time.Now())
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Subject: RE: ping")
	assert.NotContains(t, string(raw), "Re: RE:")
}

func TestSettingsFromConfig(t *testing.T) {
	s := SettingsFromConfig(model.ChannelConfig{
		ID:      "email",
		Account: "me@example.com",
		Config: map[string]string{
			"imap_host":         "imap.example.com",
			"delete_after_read": "true",
			"fetch_limit":       "5",
		},
	})

	assert.Equal(t, "imap.example.com", s.IMAPHost)
	assert.Equal(t, "imap.example.com", s.SMTPHost)
	assert.Equal(t, "993", s.IMAPPort)
	assert.Equal(t, "587", s.SMTPPort)
	assert.True(t, s.TLS)
	assert.True(t, s.DeleteAfterRead)
	assert.Equal(t, 5, s.FetchLimit)
	assert.Equal(t, "INBOX", s.Mailbox)
}

func TestToItemFallsBackToHTML(t *testing.T) {
	b := New(model.ChannelConfig{ID: "email", Account: "me@example.com"}, nil, zap.NewNop())

	it := b.toItem(&ParsedMessage{
		Envelope: Envelope{
			UID:       42,
			MessageID: "m1@example.com",
			FromAddr:  "alice@example.com",
		},
		HTMLBody: "<p>Hi &amp; bye</p>",
	})

	assert.Equal(t, "42", it.ID)
	assert.Equal(t, "email", it.Channel)
	assert.Equal(t, "alice@example.com", it.Name)
	assert.Equal(t, "(no subject)", it.Subject)
	assert.Equal(t, "Hi & bye", it.Body)
	assert.Equal(t, "alice@example.com", it.ReplyTarget)
	assert.Equal(t, "m1@example.com", it.Metadata["message_id"])
}
