package email

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/brandon/mailview/internal/account"
	"github.com/brandon/mailview/internal/folders"
)

// cleanupTimeout bounds each best-effort disconnect
const cleanupTimeout = 10 * time.Second

// Manager is the registry of sessions, one per account id. Sessions are
// created on first use and live until the account is removed or the
// manager is closed.
type Manager struct {
	accounts account.Store
	dialer   Dialer
	logger   *logrus.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager and follows account removals
func NewManager(accounts account.Store, dialer Dialer, logger *logrus.Logger) *Manager {
	m := &Manager{
		accounts: accounts,
		dialer:   dialer,
		logger:   logger,
		sessions: make(map[string]*Session),
	}

	accounts.Subscribe(func(evt account.Event) {
		switch evt.Type {
		case account.EventRemoved, account.EventUpdated:
			m.Remove(evt.AccountID)
		}
	})
	return m
}

// Session returns the account's session, creating it if needed
func (m *Manager) Session(accountID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[accountID]; ok {
		return sess, nil
	}

	acc, err := m.accounts.GetAccount(accountID)
	if err != nil {
		return nil, newError(KindNotFound, "session", err)
	}

	sess := NewSession(acc, m.dialer, m.logger)
	m.sessions[accountID] = sess
	return sess, nil
}

// Lookup returns an existing session without creating one
func (m *Manager) Lookup(accountID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[accountID]
	return sess, ok
}

// Connected returns the account's session, connecting it first if needed
func (m *Manager) Connected(ctx context.Context, accountID string) (*Session, error) {
	sess, err := m.Session(accountID)
	if err != nil {
		return nil, err
	}
	if sess.Connected() {
		return sess, nil
	}

	password, err := m.accounts.GetPassword(accountID)
	if err != nil {
		verr := newError(KindValidation, "connect", err)
		sess.MarkConnectionError(verr)
		return nil, verr
	}

	if err := sess.Connect(ctx, password); err != nil {
		return nil, err
	}
	return sess, nil
}

// ListFolders connects if needed and lists the account's folder tree
func (m *Manager) ListFolders(ctx context.Context, accountID string) (*folders.Tree, error) {
	sess, err := m.Connected(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return sess.ListFolders(ctx)
}

// Sessions returns every live session sorted by account id
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID() < out[j].AccountID() })
	return out
}

// Remove closes and forgets an account's session
func (m *Manager) Remove(accountID string) {
	m.mu.Lock()
	sess, ok := m.sessions[accountID]
	delete(m.sessions, accountID)
	m.mu.Unlock()

	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	sess.Close(ctx)
}

// ConnectionError returns the account's connection error message, if its
// session has one
func (m *Manager) ConnectionError(accountID string) (string, bool) {
	sess, ok := m.Lookup(accountID)
	if !ok || !sess.HasConnectionError() {
		return "", false
	}
	return sess.LastError(), true
}

// ClearError resets one account's connection error
func (m *Manager) ClearError(accountID string) {
	if sess, ok := m.Lookup(accountID); ok {
		sess.ClearError()
	}
}

// ClearErrors resets every session's connection error
func (m *Manager) ClearErrors() {
	for _, sess := range m.Sessions() {
		sess.ClearError()
	}
}

// DisconnectAll disconnects every session in parallel. Failures are
// swallowed so one bad account cannot block the others.
func (m *Manager) DisconnectAll(ctx context.Context) {
	var g errgroup.Group
	for _, sess := range m.Sessions() {
		sess := sess
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, cleanupTimeout)
			defer cancel()
			sess.Close(cctx)
			return nil
		})
	}
	g.Wait() //nolint:errcheck
}

// SendEmail sends a message through the account's SMTP server
func (m *Manager) SendEmail(ctx context.Context, accountID string, msg *EmailMessage) error {
	acc, err := m.accounts.GetAccount(accountID)
	if err != nil {
		return newError(KindNotFound, "send", err)
	}

	password, err := m.smtpPassword(accountID)
	if err != nil {
		return newError(KindValidation, "send", err)
	}

	smtpClient := NewSMTPClient(acc, password, m.logger)
	if err := smtpClient.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func (m *Manager) smtpPassword(accountID string) (string, error) {
	type smtpPasswords interface {
		GetSMTPPassword(id string) (string, error)
	}
	if s, ok := m.accounts.(smtpPasswords); ok {
		return s.GetSMTPPassword(accountID)
	}
	return m.accounts.GetPassword(accountID)
}

// TestAccount checks an account's credentials without touching its session
func (m *Manager) TestAccount(ctx context.Context, accountID string) error {
	acc, err := m.accounts.GetAccount(accountID)
	if err != nil {
		return newError(KindNotFound, "test connection", err)
	}
	password, err := m.accounts.GetPassword(accountID)
	if err != nil {
		return newError(KindValidation, "test connection", err)
	}
	return TestConnection(ctx, m.dialer, acc, password)
}

// Close disconnects every session and forgets them
func (m *Manager) Close() error {
	m.DisconnectAll(context.Background())

	m.mu.Lock()
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	return nil
}
