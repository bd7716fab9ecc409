package email

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailview/internal/config"
	"github.com/brandon/mailview/internal/folders"
	"github.com/brandon/mailview/internal/listing"
	"github.com/brandon/mailview/pkg/types"
)

// State is a session's connection state
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	}
	return "disconnected"
}

// MessagePage is one page of a folder listing
type MessagePage struct {
	Folder   string                 `json:"folder"`
	Total    uint32                 `json:"total"`
	Offset   int                    `json:"offset"`
	Limit    int                    `json:"limit"`
	Messages []types.MessageSummary `json:"messages"`
}

// Session owns the single protocol connection of one account.
//
// Every operation that uses the connection holds the session lock, which
// also guards the currently selected folder. Operations on two folders of
// the same account therefore run one after the other.
type Session struct {
	account *config.AccountConfig
	dialer  Dialer
	logger  *logrus.Logger

	lock chan struct{}

	mu        sync.Mutex
	conn      Conn
	state     State
	connErr   bool
	lastError string
	selected  string
}

// NewSession creates a disconnected session
func NewSession(acc *config.AccountConfig, dialer Dialer, logger *logrus.Logger) *Session {
	return &Session{
		account: acc,
		dialer:  dialer,
		logger:  logger,
		lock:    make(chan struct{}, 1),
	}
}

// AccountID returns the account this session belongs to
func (s *Session) AccountID() string {
	return s.account.ID()
}

// Account returns the account configuration
func (s *Session) Account() *config.AccountConfig {
	return s.account
}

// State returns the connection state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the session holds a live connection
func (s *Session) Connected() bool {
	return s.State() == StateConnected
}

// HasConnectionError reports whether the last connect or listing failed
func (s *Session) HasConnectionError() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connErr
}

// LastError returns a human readable message for the last connection error
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// ClearError resets the connection error flag
func (s *Session) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connErr = false
	s.lastError = ""
	if s.state == StateError {
		s.state = StateDisconnected
	}
}

// MarkConnectionError records err as the session's connection error
func (s *Session) MarkConnectionError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connErr = true
	s.lastError = err.Error()
	if s.conn == nil {
		s.state = StateError
	}
}

func (s *Session) acquire(ctx context.Context) error {
	select {
	case s.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return newError(KindTimeout, "lock", ctx.Err())
	}
}

func (s *Session) release() {
	<-s.lock
}

// Connect opens the connection. It does not check whether the session is
// already connected; a previous connection is closed once the new one is up.
func (s *Session) Connect(ctx context.Context, password string) error {
	if password == "" {
		err := Validationf("no password for account %s", s.AccountID())
		s.MarkConnectionError(err)
		return err
	}

	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	s.mu.Lock()
	s.state = StateConnecting
	s.mu.Unlock()

	conn, err := s.dialer.Dial(ctx, s.account, password)
	if err != nil {
		if KindOf(err) == KindUnknown {
			err = classifyDialError(err)
		}
		s.mu.Lock()
		if s.conn != nil {
			s.state = StateConnected
		}
		s.mu.Unlock()
		s.MarkConnectionError(err)
		s.logger.WithError(err).WithField("account", s.AccountID()).Warn("Failed to connect to IMAP server")
		return err
	}

	s.mu.Lock()
	old := s.conn
	s.conn = conn
	s.state = StateConnected
	s.connErr = false
	s.lastError = ""
	s.selected = ""
	s.mu.Unlock()

	if old != nil {
		old.Logout() //nolint:errcheck
	}

	s.logger.WithField("account", s.AccountID()).Info("Connected to IMAP server")
	return nil
}

// Disconnect releases the connection. It is a no-op when disconnected and
// returns the logout error, if any.
func (s *Session) Disconnect(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.selected = ""
	if s.state != StateError {
		s.state = StateDisconnected
	}
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Logout(); err != nil {
		return wrapConnError("logout", err)
	}
	return nil
}

// Close disconnects and swallows any failure
func (s *Session) Close(ctx context.Context) {
	if err := s.Disconnect(ctx); err != nil {
		s.logger.WithError(err).WithField("account", s.AccountID()).Debug("Ignoring disconnect error")
	}
}

// withConn runs fn holding the session lock
func (s *Session) withConn(ctx context.Context, op string, fn func(conn Conn) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return newError(KindNotConnected, op, nil)
	}

	err := fn(conn)
	if IsConnectionError(err) {
		s.dropConn(conn, err)
	}
	return err
}

// dropConn forgets a connection that failed at the network level so the
// next use reconnects. The caller holds the session lock.
func (s *Session) dropConn(conn Conn, err error) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	folder := s.selected
	s.conn = nil
	s.selected = ""
	s.state = StateError
	s.connErr = true
	s.lastError = err.Error()
	s.mu.Unlock()

	s.logger.WithError(err).WithFields(logrus.Fields{
		"account": s.AccountID(),
		"folder":  folder,
	}).Warn("Dropping broken IMAP connection")
	if lerr := conn.Logout(); lerr != nil {
		s.logger.WithError(lerr).WithField("account", s.AccountID()).Debug("Logout after connection failure failed")
	}
}

// withFolder selects folder and runs fn holding the session lock. The lock
// is released on every return path.
func (s *Session) withFolder(ctx context.Context, op, folder string, readOnly bool, fn func(conn Conn, status *imap.MailboxStatus) error) error {
	if folder == "" {
		return Validationf("%s: folder is required", op)
	}
	return s.withConn(ctx, op, func(conn Conn) error {
		status, err := conn.Select(folder, readOnly)
		if err != nil {
			return wrapConnError(op, fmt.Errorf("failed to select folder %s: %w", folder, err))
		}

		s.mu.Lock()
		s.selected = folder
		s.mu.Unlock()

		return fn(conn, status)
	})
}

// ListFolders lists every folder with its message and unseen counts and
// builds the folder forest. A failure marks the session's connection error.
func (s *Session) ListFolders(ctx context.Context) (*folders.Tree, error) {
	var entries []folders.Entry
	err := s.withConn(ctx, "list folders", func(conn Conn) error {
		infos, err := conn.List("", "*")
		if err != nil {
			return wrapConnError("list folders", err)
		}

		entries = make([]folders.Entry, 0, len(infos))
		for _, info := range infos {
			entries = append(entries, s.folderEntry(conn, info))
		}
		return nil
	})
	if err != nil {
		s.MarkConnectionError(err)
		return nil, err
	}

	return folders.BuildTree(entries), nil
}

func (s *Session) folderEntry(conn Conn, info *imap.MailboxInfo) folders.Entry {
	e := folders.Entry{
		Path:       info.Name,
		ParentPath: folders.ParentPath(info.Name, info.Delimiter),
		Delimiter:  info.Delimiter,
		SpecialUse: s.specialUse(info),
		Selectable: !hasAttr(info.Attributes, imap.NoSelectAttr),
	}
	if !e.Selectable {
		return e
	}

	// STATUS per folder; LIST alone carries no counts
	status, err := conn.Status(info.Name, []imap.StatusItem{imap.StatusMessages, imap.StatusUnseen})
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"account": s.AccountID(),
			"folder":  info.Name,
		}).Warn("Failed to get folder status")
		return e
	}
	e.Total = int(status.Messages)
	e.Unseen = int(status.Unseen)
	return e
}

var specialUseAttrs = map[string]string{
	`\sent`:    types.RoleSent,
	`\drafts`:  types.RoleDrafts,
	`\trash`:   types.RoleTrash,
	`\junk`:    types.RoleSpam,
	`\archive`: types.RoleArchive,
	`\all`:     types.RoleAll,
	`\flagged`: types.RoleFlagged,
}

func (s *Session) specialUse(info *imap.MailboxInfo) string {
	if role := s.account.Folders.ByPath(info.Name); role != "" {
		return role
	}
	if strings.EqualFold(info.Name, "INBOX") {
		return types.RoleInbox
	}
	for _, attr := range info.Attributes {
		if role, ok := specialUseAttrs[strings.ToLower(attr)]; ok {
			return role
		}
	}
	return ""
}

func hasAttr(attrs []string, attr string) bool {
	for _, a := range attrs {
		if strings.EqualFold(a, attr) {
			return true
		}
	}
	return false
}

// GetMessages returns limit summaries starting offset messages from the
// newest, newest first
func (s *Session) GetMessages(ctx context.Context, folder string, limit, offset int) ([]types.MessageSummary, error) {
	page, err := s.GetMessagePage(ctx, folder, limit, offset)
	if err != nil {
		return nil, err
	}
	return page.Messages, nil
}

// GetMessagePage is GetMessages plus the folder's total message count
func (s *Session) GetMessagePage(ctx context.Context, folder string, limit, offset int) (*MessagePage, error) {
	page := &MessagePage{Folder: folder, Offset: offset, Limit: limit}
	err := s.withFolder(ctx, "get messages", folder, true, func(conn Conn, status *imap.MailboxStatus) error {
		page.Total = status.Messages
		msgs, err := listing.Page(status.Messages, limit, offset, func(r listing.Range) ([]*imap.Message, error) {
			return conn.Fetch(r.SeqSet(), listing.FetchItems())
		})
		if err != nil {
			return wrapConnError("get messages", err)
		}
		page.Messages = msgs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// GetMessage fetches and decodes one message. The seen state comes from a
// separate flags fetch.
func (s *Session) GetMessage(ctx context.Context, folder string, uid uint32) (*types.MessageDetail, error) {
	if uid == 0 {
		return nil, Validationf("get message: uid is required")
	}

	var detail *types.MessageDetail
	err := s.withFolder(ctx, "get message", folder, true, func(conn Conn, _ *imap.MailboxStatus) error {
		msg, raw, err := fetchRaw(conn, uid, "get message")
		if err != nil {
			return err
		}

		d, err := decodeMessage(raw)
		if err != nil {
			return err
		}

		summary, ok := listing.Summarize(msg)
		if !ok {
			summary = types.MessageSummary{UID: uid, Size: msg.Size}
		}
		detail = &types.MessageDetail{
			MessageSummary: summary,
			HTML:           d.html,
			Text:           d.text,
			Attachments:    d.attachmentInfos(),
		}
		detail.HasAttachments = len(detail.Attachments) > 0
		if msg.Envelope != nil {
			detail.MessageID = msg.Envelope.MessageId
			detail.InReplyTo = msg.Envelope.InReplyTo
			detail.ReplyTo = listing.Addresses(msg.Envelope.ReplyTo)
		}

		flags, err := conn.UidFetch(uidSet(uid), []imap.FetchItem{imap.FetchUid, imap.FetchFlags})
		if err != nil {
			return wrapConnError("get message flags", err)
		}
		detail.Seen = false
		for _, f := range flags {
			if f.Uid == uid || f.Uid == 0 {
				detail.Seen = listing.HasFlag(f.Flags, imap.SeenFlag)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// MarkMessageSeen sets or clears the \Seen flag
func (s *Session) MarkMessageSeen(ctx context.Context, folder string, uid uint32, seen bool) error {
	var op imap.FlagsOp = imap.AddFlags
	if !seen {
		op = imap.RemoveFlags
	}
	return s.storeFlag(ctx, "mark seen", folder, uid, op, imap.SeenFlag)
}

// DeleteMessage flags a message \Deleted. It does not expunge.
func (s *Session) DeleteMessage(ctx context.Context, folder string, uid uint32) error {
	return s.storeFlag(ctx, "delete message", folder, uid, imap.AddFlags, imap.DeletedFlag)
}

func (s *Session) storeFlag(ctx context.Context, opName, folder string, uid uint32, op imap.FlagsOp, flag string) error {
	if uid == 0 {
		return Validationf("%s: uid is required", opName)
	}
	return s.withFolder(ctx, opName, folder, false, func(conn Conn, _ *imap.MailboxStatus) error {
		item := imap.FormatFlagsOp(op, true)
		if err := conn.UidStore(uidSet(uid), item, []interface{}{flag}); err != nil {
			return wrapConnError(opName, err)
		}
		return nil
	})
}

// MoveMessage moves a message to dest
func (s *Session) MoveMessage(ctx context.Context, folder string, uid uint32, dest string) error {
	if uid == 0 || dest == "" {
		return Validationf("move message: uid and destination are required")
	}
	if dest == folder {
		return Validationf("move message: destination is the source folder")
	}
	return s.withFolder(ctx, "move message", folder, false, func(conn Conn, _ *imap.MailboxStatus) error {
		if err := conn.UidMove(uidSet(uid), dest); err != nil {
			return wrapConnError("move message", err)
		}
		return nil
	})
}

// GetAttachment downloads one attachment by filename
func (s *Session) GetAttachment(ctx context.Context, folder string, uid uint32, filename string) (*types.Attachment, error) {
	if uid == 0 || filename == "" {
		return nil, Validationf("get attachment: uid and filename are required")
	}

	var att *types.Attachment
	err := s.withFolder(ctx, "get attachment", folder, true, func(conn Conn, _ *imap.MailboxStatus) error {
		_, raw, err := fetchRaw(conn, uid, "get attachment")
		if err != nil {
			return err
		}
		d, err := decodeMessage(raw)
		if err != nil {
			return err
		}
		a, ok := d.attachment(filename)
		if !ok {
			return newError(KindNotFound, "get attachment", fmt.Errorf("attachment %q in message %d", filename, uid))
		}
		att = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return att, nil
}

func fetchRaw(conn Conn, uid uint32, op string) (*imap.Message, []byte, error) {
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		imap.FetchUid,
		imap.FetchEnvelope,
		imap.FetchRFC822Size,
		section.FetchItem(),
	}

	msgs, err := conn.UidFetch(uidSet(uid), items)
	if err != nil {
		return nil, nil, wrapConnError(op, err)
	}
	if len(msgs) == 0 {
		return nil, nil, newError(KindNotFound, op, fmt.Errorf("message %d", uid))
	}

	msg := msgs[0]
	raw, err := rawBody(msg, section)
	if err != nil {
		return nil, nil, err
	}
	return msg, raw, nil
}

func uidSet(uid uint32) *imap.SeqSet {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	return seqset
}

// wrapConnError classifies a protocol client error
func wrapConnError(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return newError(KindTimeout, op, err)
		}
		return newError(KindNetwork, op, err)
	}
	return newError(KindProtocol, op, err)
}

// TestConnection opens a verification-only connection and closes it. It
// touches no session state.
func TestConnection(ctx context.Context, dialer Dialer, acc *config.AccountConfig, password string) error {
	if password == "" {
		return Validationf("no password for account %s", acc.ID())
	}
	conn, err := dialer.Dial(ctx, acc, password)
	if err != nil {
		if KindOf(err) == KindUnknown {
			return classifyDialError(err)
		}
		return err
	}
	conn.Logout() //nolint:errcheck
	return nil
}
