package commands

import (
	"context"

	"github.com/brandon/mailview/internal/email"
	"github.com/brandon/mailview/pkg/types"
)

// SessionMailer runs message operations on the account sessions,
// connecting on demand
type SessionMailer struct {
	manager *email.Manager
}

// NewSessionMailer creates a Mailer backed by manager
func NewSessionMailer(manager *email.Manager) *SessionMailer {
	return &SessionMailer{manager: manager}
}

func (m *SessionMailer) MarkSeen(ctx context.Context, accountID, folder string, uid uint32, seen bool) error {
	sess, err := m.manager.Connected(ctx, accountID)
	if err != nil {
		return err
	}
	return sess.MarkMessageSeen(ctx, folder, uid, seen)
}

func (m *SessionMailer) Delete(ctx context.Context, accountID, folder string, uid uint32) error {
	sess, err := m.manager.Connected(ctx, accountID)
	if err != nil {
		return err
	}
	return sess.DeleteMessage(ctx, folder, uid)
}

func (m *SessionMailer) Move(ctx context.Context, accountID, folder string, uid uint32, dest string) error {
	sess, err := m.manager.Connected(ctx, accountID)
	if err != nil {
		return err
	}
	return sess.MoveMessage(ctx, folder, uid, dest)
}

func (m *SessionMailer) Attachment(ctx context.Context, accountID, folder string, uid uint32, filename string) (*types.Attachment, error) {
	sess, err := m.manager.Connected(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return sess.GetAttachment(ctx, folder, uid, filename)
}

func (m *SessionMailer) Send(ctx context.Context, accountID string, msg *email.EmailMessage) error {
	return m.manager.SendEmail(ctx, accountID, msg)
}

func (m *SessionMailer) TestAccount(ctx context.Context, accountID string) error {
	return m.manager.TestAccount(ctx, accountID)
}
