package email

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailview/internal/config"
)

type fakeMailbox struct {
	infos    *imap.MailboxInfo
	status   *imap.MailboxStatus
	messages []*imap.Message // in sequence order
	raw      map[uint32][]byte
	flags    map[uint32][]string
}

// fakeConn is an in-memory Conn
type fakeConn struct {
	mu         sync.Mutex
	mailboxes  map[string]*fakeMailbox
	order      []string
	selected   string
	fetchErr   error
	listErr    error
	logoutErr  error
	loggedOut  int
	fetchCalls int
	stores     []string
	moves      []string
}

func newFakeConn() *fakeConn {
	return &fakeConn{mailboxes: make(map[string]*fakeMailbox)}
}

func (c *fakeConn) addMailbox(name string, attrs []string, messages []*imap.Message, unseen uint32) *fakeMailbox {
	mb := &fakeMailbox{
		infos:    &imap.MailboxInfo{Name: name, Delimiter: "/", Attributes: attrs},
		status:   &imap.MailboxStatus{Name: name, Messages: uint32(len(messages)), Unseen: unseen},
		messages: messages,
		raw:      make(map[uint32][]byte),
		flags:    make(map[uint32][]string),
	}
	c.mailboxes[name] = mb
	c.order = append(c.order, name)
	return mb
}

func (c *fakeConn) List(ref, pattern string) ([]*imap.MailboxInfo, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	var out []*imap.MailboxInfo
	for _, name := range c.order {
		out = append(out, c.mailboxes[name].infos)
	}
	return out, nil
}

func (c *fakeConn) Status(name string, items []imap.StatusItem) (*imap.MailboxStatus, error) {
	mb, ok := c.mailboxes[name]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return mb.status, nil
}

func (c *fakeConn) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	mb, ok := c.mailboxes[name]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	c.selected = name
	return mb.status, nil
}

func (c *fakeConn) Fetch(seqset *imap.SeqSet, items []imap.FetchItem) ([]*imap.Message, error) {
	c.fetchCalls++
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	mb := c.mailboxes[c.selected]
	var out []*imap.Message
	for i, msg := range mb.messages {
		if seqset.Contains(uint32(i + 1)) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (c *fakeConn) UidFetch(seqset *imap.SeqSet, items []imap.FetchItem) ([]*imap.Message, error) {
	c.fetchCalls++
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	mb := c.mailboxes[c.selected]
	var out []*imap.Message
	for _, msg := range mb.messages {
		if !seqset.Contains(msg.Uid) {
			continue
		}
		m := &imap.Message{Uid: msg.Uid, Envelope: msg.Envelope, Size: msg.Size, Body: map[*imap.BodySectionName]imap.Literal{}}
		for _, item := range items {
			switch {
			case item == imap.FetchFlags:
				m.Flags = mb.flags[msg.Uid]
			case len(item) > 4 && item[:4] == "BODY":
				m.Body[&imap.BodySectionName{}] = bytes.NewReader(mb.raw[msg.Uid])
			}
		}
		out = append(out, m)
	}
	return out, nil
}

func (c *fakeConn) UidStore(seqset *imap.SeqSet, item imap.StoreItem, flags []interface{}) error {
	c.stores = append(c.stores, string(item)+" "+flags[0].(string))
	mb := c.mailboxes[c.selected]
	for _, msg := range mb.messages {
		if seqset.Contains(msg.Uid) {
			switch item {
			case imap.FormatFlagsOp(imap.AddFlags, true):
				mb.flags[msg.Uid] = append(mb.flags[msg.Uid], flags[0].(string))
			case imap.FormatFlagsOp(imap.RemoveFlags, true):
				mb.flags[msg.Uid] = nil
			}
		}
	}
	return nil
}

func (c *fakeConn) UidMove(seqset *imap.SeqSet, dest string) error {
	c.moves = append(c.moves, c.selected+"->"+dest)
	return nil
}

func (c *fakeConn) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedOut++
	return c.logoutErr
}

type fakeDialer struct {
	conn  *fakeConn
	err   error
	dials int
}

func (d *fakeDialer) Dial(_ context.Context, _ *config.AccountConfig, _ string) (Conn, error) {
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testAccount() *config.AccountConfig {
	return &config.AccountConfig{
		Name:         "work",
		IMAPHost:     "imap.example.com",
		IMAPPort:     993,
		IMAPUsername: "me@example.com",
		Folders:      config.FolderRoles{Newsletters: "Lists"},
	}
}

func connectedSession(t *testing.T, conn *fakeConn) *Session {
	t.Helper()
	s := NewSession(testAccount(), &fakeDialer{conn: conn}, testLogger())
	if err := s.Connect(context.Background(), "secret"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return s
}
