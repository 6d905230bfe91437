package email

import "time"

// Envelope holds the parsed envelope data from an IMAP message.
type Envelope struct {
	MessageID string
	Subject   string
	FromName  string
	FromAddr  string
	To        []string
	Date      time.Time
	UID       uint32
}

// ParsedMessage holds the full parsed content of an email message.
type ParsedMessage struct {
	Envelope    Envelope
	TextBody    string
	HTMLBody    string
	Attachments []Attachment
}

// Attachment holds metadata about a message attachment.
type Attachment struct {
	Filename string
	Size     int64
	MIMEType string
}

// Settings are the mailbox connection parameters taken from the channel's
// config map.
type Settings struct {
	IMAPHost        string
	IMAPPort        string
	SMTPHost        string
	SMTPPort        string
	Username        string
	TLS             bool
	Mailbox         string
	FetchLimit      int
	DeleteAfterRead bool
}
