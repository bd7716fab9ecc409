package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailview/internal/config"
)

// SMTPClient delivers composed messages for one account
type SMTPClient struct {
	config   *config.AccountConfig
	password string
	logger   *logrus.Logger
	timeout  time.Duration
}

// EmailMessage represents an email to be sent
type EmailMessage struct {
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	BodyText    string
	BodyHTML    string
	Attachments []Attachment
	ReplyTo     string
	InReplyTo   string
	References  string
}

// Attachment represents an outgoing attachment
type Attachment struct {
	Filename string
	Content  []byte
	MimeType string
}

// NewSMTPClient creates a new SMTP client
func NewSMTPClient(cfg *config.AccountConfig, password string, logger *logrus.Logger) *SMTPClient {
	return &SMTPClient{
		config:   cfg,
		password: password,
		logger:   logger,
		timeout:  30 * time.Second,
	}
}

// Send composes msg and delivers it. Port 465 uses implicit TLS, any other
// port STARTTLS.
func (c *SMTPClient) Send(ctx context.Context, msg *EmailMessage) error {
	if c.config.SMTPHost == "" {
		return Validationf("account %s has no SMTP server", c.config.Name)
	}

	emailBytes, recipients, err := c.createMessage(msg)
	if err != nil {
		return err
	}

	client, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if c.password != "" {
		auth := smtp.PlainAuth("", c.config.SMTPUsername, c.password, c.config.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return newError(KindAuth, "send", err)
		}
	}

	if err := client.Mail(c.config.SMTPUsername); err != nil {
		return newError(KindProtocol, "send", fmt.Errorf("failed to set sender: %w", err))
	}
	for _, to := range recipients {
		if err := client.Rcpt(to); err != nil {
			return newError(KindProtocol, "send", fmt.Errorf("failed to set recipient %s: %w", to, err))
		}
	}

	w, err := client.Data()
	if err != nil {
		return newError(KindProtocol, "send", fmt.Errorf("failed to send data command: %w", err))
	}
	if _, err := w.Write(emailBytes); err != nil {
		return newError(KindNetwork, "send", fmt.Errorf("failed to write message: %w", err))
	}
	if err := w.Close(); err != nil {
		return newError(KindProtocol, "send", fmt.Errorf("failed to close data writer: %w", err))
	}

	c.logger.WithFields(logrus.Fields{
		"account":    c.config.Name,
		"recipients": len(recipients),
	}).Info("Sent email")
	return client.Quit()
}

func (c *SMTPClient) dial(ctx context.Context) (*smtp.Client, error) {
	addr := fmt.Sprintf("%s:%d", c.config.SMTPHost, c.config.SMTPPort)
	tlsConfig := &tls.Config{ServerName: c.config.SMTPHost, MinVersion: tls.VersionTLS12}
	dialer := &net.Dialer{Timeout: c.timeout}

	if c.config.SMTPPort == 465 {
		conn, err := (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, classifyDialError(err)
		}
		client, err := smtp.NewClient(conn, c.config.SMTPHost)
		if err != nil {
			conn.Close()
			return nil, newError(KindProtocol, "send", err)
		}
		return client, nil
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classifyDialError(err)
	}
	client, err := smtp.NewClient(conn, c.config.SMTPHost)
	if err != nil {
		conn.Close()
		return nil, newError(KindProtocol, "send", err)
	}
	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, newError(KindNetwork, "send", fmt.Errorf("failed to start TLS: %w", err))
		}
	}
	return client, nil
}

// createMessage builds the MIME message and the envelope recipient list
func (c *SMTPClient) createMessage(msg *EmailMessage) ([]byte, []string, error) {
	to, err := parseAddressList(msg.To)
	if err != nil {
		return nil, nil, Validationf("invalid To: %v", err)
	}
	cc, err := parseAddressList(msg.Cc)
	if err != nil {
		return nil, nil, Validationf("invalid Cc: %v", err)
	}
	bcc, err := parseAddressList(msg.Bcc)
	if err != nil {
		return nil, nil, Validationf("invalid Bcc: %v", err)
	}
	if len(to)+len(cc)+len(bcc) == 0 {
		return nil, nil, Validationf("at least one recipient is required")
	}
	if msg.BodyText == "" && msg.BodyHTML == "" {
		return nil, nil, Validationf("either a text or an HTML body is required")
	}

	builder := enmime.Builder().
		From("", c.config.SMTPUsername).
		Subject(msg.Subject).
		ToAddrs(to).
		CCAddrs(cc).
		BCCAddrs(bcc)

	if msg.BodyText != "" {
		builder = builder.Text([]byte(msg.BodyText))
	}
	if msg.BodyHTML != "" {
		builder = builder.HTML([]byte(msg.BodyHTML))
	}
	if msg.ReplyTo != "" {
		builder = builder.ReplyTo("", msg.ReplyTo)
	}
	if msg.InReplyTo != "" {
		builder = builder.Header("In-Reply-To", msg.InReplyTo)
	}
	if msg.References != "" {
		builder = builder.Header("References", msg.References)
	}
	for _, a := range msg.Attachments {
		builder = builder.AddAttachment(a.Content, a.MimeType, a.Filename)
	}

	root, err := builder.Build()
	if err != nil {
		return nil, nil, Validationf("failed to build message: %v", err)
	}

	var buf bytes.Buffer
	if err := root.Encode(&buf); err != nil {
		return nil, nil, fmt.Errorf("failed to encode message: %w", err)
	}

	var recipients []string
	for _, list := range [][]mail.Address{to, cc, bcc} {
		for _, a := range list {
			recipients = append(recipients, a.Address)
		}
	}
	return buf.Bytes(), recipients, nil
}

func parseAddressList(list []string) ([]mail.Address, error) {
	out := make([]mail.Address, 0, len(list))
	for _, s := range list {
		if s == "" {
			continue
		}
		addr, err := mail.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", s, err)
		}
		out = append(out, *addr)
	}
	return out, nil
}
