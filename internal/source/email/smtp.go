package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/nhle/localclaw/internal/source"
)

const dialTimeout = 30 * time.Second

// Reply is an outgoing answer to one message.
type Reply struct {
	From      string
	To        string
	Subject   string
	InReplyTo string
	Body      string
}

// composeReply renders r as an RFC 5322 message.
func composeReply(r Reply, now time.Time) ([]byte, error) {
	subject := r.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Address: r.From}})
	h.SetAddressList("To", []*mail.Address{{Address: r.To}})
	h.SetSubject(subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generating message id: %w", err)
	}
	if r.InReplyTo != "" {
		ref := "<" + strings.Trim(r.InReplyTo, "<>") + ">"
		h.Set("In-Reply-To", ref)
		h.Set("References", ref)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message writer: %w", err)
	}
	if _, err := io.WriteString(w, r.Body); err != nil {
		return nil, fmt.Errorf("writing message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing message body: %w", err)
	}
	return buf.Bytes(), nil
}

// SMTPSender delivers replies through an authenticated SMTP server.
type SMTPSender struct {
	channel  string
	host     string
	port     string
	username string
	tls      bool
}

// NewSMTPSender creates a sender from mailbox settings.
func NewSMTPSender(channel string, s Settings) *SMTPSender {
	return &SMTPSender{
		channel:  channel,
		host:     s.SMTPHost,
		port:     s.SMTPPort,
		username: s.Username,
		tls:      s.TLS && s.SMTPPort == "465",
	}
}

// Send composes r and submits it. Authentication failures are reported as
// source.AuthError.
func (s *SMTPSender) Send(ctx context.Context, password string, r Reply) error {
	if r.From == "" {
		r.From = s.username
	}
	msg, err := composeReply(r, time.Now())
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(s.host, s.port)
	tlsConfig := &tls.Config{ServerName: s.host}

	var conn net.Conn
	if s.tls {
		d := &tls.Dialer{NetDialer: &net.Dialer{Timeout: dialTimeout}, Config: tlsConfig}
		conn, err = d.DialContext(ctx, "tcp", addr)
	} else {
		d := &net.Dialer{Timeout: dialTimeout}
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return &source.TransientError{Op: "smtp dial " + addr, Err: err}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return &source.TransientError{Op: "smtp handshake", Err: err}
	}
	defer client.Close()

	if !s.tls {
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("SMTP STARTTLS: %w", err)
		}
	}

	auth := smtp.PlainAuth("", s.username, password, s.host)
	if err := client.Auth(auth); err != nil {
		var protoErr *textproto.Error
		if errors.As(err, &protoErr) && protoErr.Code == 535 {
			return &source.AuthError{Channel: s.channel, Message: fmt.Sprintf("SMTP auth: %v", err)}
		}
		return fmt.Errorf("SMTP auth: %w", err)
	}

	return sendMailViaSMTPClient(client, r.From, r.To, msg)
}

// sendMailViaSMTPClient sends a message using an already-authenticated
// SMTP client.
func sendMailViaSMTPClient(
	client *smtp.Client, from, to string, body []byte,
) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("SMTP MAIL FROM: %w", err)
	}

	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("SMTP RCPT TO: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}

	if _, err := writer.Write(body); err != nil {
		return fmt.Errorf("writing email body: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing email body: %w", err)
	}

	return client.Quit()
}
