package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailview/internal/config"
)

// Conn is the subset of the IMAP protocol a session needs. Implementations
// are not safe for concurrent use; Session serializes access.
type Conn interface {
	List(ref, pattern string) ([]*imap.MailboxInfo, error)
	Status(name string, items []imap.StatusItem) (*imap.MailboxStatus, error)
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	Fetch(seqset *imap.SeqSet, items []imap.FetchItem) ([]*imap.Message, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem) ([]*imap.Message, error)
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, flags []interface{}) error
	UidMove(seqset *imap.SeqSet, dest string) error
	Logout() error
}

// Dialer opens an authenticated connection for an account
type Dialer interface {
	Dial(ctx context.Context, acc *config.AccountConfig, password string) (Conn, error)
}

// IMAPDialer dials real servers with go-imap
type IMAPDialer struct {
	// Timeout bounds the TCP dial and every command
	Timeout time.Duration
	Logger  *logrus.Logger
}

// NewIMAPDialer creates a dialer with a 30 second timeout
func NewIMAPDialer(logger *logrus.Logger) *IMAPDialer {
	return &IMAPDialer{
		Timeout: 30 * time.Second,
		Logger:  logger,
	}
}

// Dial connects to the IMAP server and logs in
func (d *IMAPDialer) Dial(ctx context.Context, acc *config.AccountConfig, password string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(KindTimeout, "connect", err)
	}

	addr := fmt.Sprintf("%s:%d", acc.IMAPHost, acc.IMAPPort)
	tlsConfig := &tls.Config{
		ServerName: acc.IMAPHost,
		MinVersion: tls.VersionTLS12,
	}
	netDialer := &net.Dialer{Timeout: d.Timeout}

	var cl *client.Client
	var err error
	if acc.IMAPTLS {
		cl, err = client.DialWithDialerTLS(netDialer, addr, tlsConfig)
	} else {
		cl, err = client.DialWithDialer(netDialer, addr)
		if err == nil {
			if ok, _ := cl.SupportStartTLS(); ok {
				err = cl.StartTLS(tlsConfig)
				if err != nil {
					cl.Logout() //nolint:errcheck
				}
			}
		}
	}
	if err != nil {
		return nil, classifyDialError(err)
	}
	cl.Timeout = d.Timeout

	if err := cl.Login(acc.IMAPUsername, password); err != nil {
		if d.Logger != nil {
			d.Logger.WithError(err).WithField("account", acc.Name).Error("Failed to login to IMAP server")
		}
		cl.Logout() //nolint:errcheck
		return nil, newError(KindAuth, "login", err)
	}

	return &imapConn{client: cl}, nil
}

func classifyDialError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(KindTimeout, "connect", err)
	}
	return newError(KindNetwork, "connect", err)
}

// imapConn adapts *client.Client to Conn, collecting channel results
type imapConn struct {
	client *client.Client
}

func (c *imapConn) List(ref, pattern string) ([]*imap.MailboxInfo, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- c.client.List(ref, pattern, mailboxes)
	}()

	var infos []*imap.MailboxInfo
	for m := range mailboxes {
		infos = append(infos, m)
	}

	if err := <-done; err != nil {
		return nil, err
	}
	return infos, nil
}

func (c *imapConn) Status(name string, items []imap.StatusItem) (*imap.MailboxStatus, error) {
	return c.client.Status(name, items)
}

func (c *imapConn) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	return c.client.Select(name, readOnly)
}

func (c *imapConn) Fetch(seqset *imap.SeqSet, items []imap.FetchItem) ([]*imap.Message, error) {
	return collect(func(ch chan *imap.Message) error {
		return c.client.Fetch(seqset, items, ch)
	})
}

func (c *imapConn) UidFetch(seqset *imap.SeqSet, items []imap.FetchItem) ([]*imap.Message, error) {
	return collect(func(ch chan *imap.Message) error {
		return c.client.UidFetch(seqset, items, ch)
	})
}

func (c *imapConn) UidStore(seqset *imap.SeqSet, item imap.StoreItem, flags []interface{}) error {
	return c.client.UidStore(seqset, item, flags, nil)
}

func (c *imapConn) UidMove(seqset *imap.SeqSet, dest string) error {
	return c.client.UidMove(seqset, dest)
}

func (c *imapConn) Logout() error {
	return c.client.Logout()
}

func collect(fetch func(ch chan *imap.Message) error) ([]*imap.Message, error) {
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)

	go func() {
		done <- fetch(messages)
	}()

	var out []*imap.Message
	for msg := range messages {
		out = append(out, msg)
	}

	if err := <-done; err != nil {
		return nil, err
	}
	return out, nil
}
