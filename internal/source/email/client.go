package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/localclaw/internal/source"
)

// IMAPClient wraps go-imap v2 for connecting to and querying IMAP servers.
// The password is supplied per call so a refreshed credential takes effect
// immediately.
type IMAPClient struct {
	channel  string
	host     string
	port     string
	username string
	mailbox  string
	tls      bool
}

// NewIMAPClient creates a new IMAP client configuration.
func NewIMAPClient(channel string, s Settings) *IMAPClient {
	mailbox := s.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	return &IMAPClient{
		channel:  channel,
		host:     s.IMAPHost,
		port:     s.IMAPPort,
		username: s.Username,
		mailbox:  mailbox,
		tls:      s.TLS,
	}
}

// session connects, authenticates and selects the mailbox, then runs fn.
// The connection is closed when ctx is cancelled so a hung server cannot
// block the caller past its deadline.
func (c *IMAPClient) session(
	ctx context.Context, password string, fn func(*imapclient.Client) error,
) error {
	addr := c.host + ":" + c.port

	var client *imapclient.Client
	var err error

	if c.tls {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return &source.TransientError{Op: "imap dial " + addr, Err: err}
	}
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()
	defer func() { _ = client.Logout().Wait() }()

	if err := client.Login(c.username, password).Wait(); err != nil {
		var imapErr *imap.Error
		if !errors.As(err, &imapErr) {
			return &source.TransientError{Op: "imap login", Err: err}
		}
		return &source.AuthError{
			Channel: c.channel,
			Message: fmt.Sprintf("authentication failed for %s: %v", c.username, err),
		}
	}

	if _, err := client.Select(c.mailbox, nil).Wait(); err != nil {
		return fmt.Errorf("selecting %s: %w", c.mailbox, err)
	}

	if err := fn(client); err != nil {
		if ctx.Err() != nil {
			return &source.TransientError{Op: "imap", Err: ctx.Err()}
		}
		return err
	}
	return nil
}

// FetchUnseen returns up to limit unseen messages, oldest first, without
// setting the \Seen flag.
func (c *IMAPClient) FetchUnseen(
	ctx context.Context, password string, limit int,
) ([]*ParsedMessage, error) {
	var out []*ParsedMessage

	err := c.session(ctx, password, func(client *imapclient.Client) error {
		criteria := &imap.SearchCriteria{
			NotFlag: []imap.Flag{imap.FlagSeen},
		}

		searchData, err := client.UIDSearch(criteria, nil).Wait()
		if err != nil {
			return fmt.Errorf("searching messages: %w", err)
		}

		uids := searchData.AllUIDs()
		if len(uids) == 0 {
			return nil
		}

		// Take the most recent when over the limit.
		if limit > 0 && len(uids) > limit {
			uids = uids[len(uids)-limit:]
		}

		bodySection := &imap.FetchItemBodySection{Peek: true}
		fetchOpts := &imap.FetchOptions{
			Envelope:    true,
			UID:         true,
			BodySection: []*imap.FetchItemBodySection{bodySection},
		}

		fetchCmd := client.Fetch(imap.UIDSetNum(uids...), fetchOpts)
		defer fetchCmd.Close()

		for {
			msg := fetchCmd.Next()
			if msg == nil {
				break
			}

			buf, err := msg.Collect()
			if err != nil {
				continue
			}

			parsed := &ParsedMessage{Envelope: envelopeFromBuffer(buf)}
			if raw := buf.FindBodySection(bodySection); raw != nil {
				parsed.TextBody, parsed.HTMLBody, parsed.Attachments = parseMIMEBody(raw)
			}
			out = append(out, parsed)
		}

		if err := fetchCmd.Close(); err != nil {
			return fmt.Errorf("fetching messages: %w", err)
		}
		return nil
	})

	return out, err
}

// MarkSeen sets \Seen on the message, and deletes it when remove is true.
func (c *IMAPClient) MarkSeen(
	ctx context.Context, password string, uid uint32, remove bool,
) error {
	return c.session(ctx, password, func(client *imapclient.Client) error {
		uidSet := imap.UIDSetNum(imap.UID(uid))

		flags := []imap.Flag{imap.FlagSeen}
		if remove {
			flags = append(flags, imap.FlagDeleted)
		}

		storeCmd := client.Store(uidSet, &imap.StoreFlags{
			Op:     imap.StoreFlagsAdd,
			Silent: true,
			Flags:  flags,
		}, nil)
		if err := storeCmd.Close(); err != nil {
			return fmt.Errorf("storing flags: %w", err)
		}

		if remove {
			if err := client.Expunge().Close(); err != nil {
				return fmt.Errorf("expunging: %w", err)
			}
		}
		return nil
	})
}

// Check logs in and selects the mailbox.
func (c *IMAPClient) Check(ctx context.Context, password string) error {
	return c.session(ctx, password, func(*imapclient.Client) error { return nil })
}

// envelopeFromBuffer extracts an Envelope from a FetchMessageBuffer.
func envelopeFromBuffer(buf *imapclient.FetchMessageBuffer) Envelope {
	env := Envelope{
		UID: uint32(buf.UID),
	}

	if buf.Envelope != nil {
		env.MessageID = buf.Envelope.MessageID
		env.Subject = buf.Envelope.Subject
		env.Date = buf.Envelope.Date

		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			env.FromName = from.Name
			env.FromAddr = from.Addr()
		}

		for _, to := range buf.Envelope.To {
			env.To = append(env.To, to.Addr())
		}
	}

	return env
}

// parseMIMEBody parses a raw RFC 5322 message using go-message and
// extracts the text/plain body, text/html body, and attachment metadata.
func parseMIMEBody(raw []byte) (
	textBody string, htmlBody string, attachments []Attachment,
) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// If parsing fails, treat the whole thing as plain text.
		return string(raw), "", nil
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err != nil {
			// io.EOF or a malformed part: keep what was read so far.
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			switch {
			case strings.HasPrefix(contentType, "text/plain") && textBody == "":
				textBody = string(body)
			case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
				htmlBody = string(body)
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()

			n, readErr := io.Copy(io.Discard, part.Body)
			if readErr != nil {
				continue
			}

			attachments = append(attachments, Attachment{
				Filename: filename,
				Size:     n,
				MIMEType: contentType,
			})
		}
	}

	return textBody, htmlBody, attachments
}
