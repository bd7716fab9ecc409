package panels

import (
	"context"

	"github.com/brandon/mailview/internal/email"
	"github.com/brandon/mailview/pkg/types"
)

// SessionLoader loads panel content through the account sessions,
// connecting on demand
type SessionLoader struct {
	manager *email.Manager
}

// NewSessionLoader creates a Loader backed by manager
func NewSessionLoader(manager *email.Manager) *SessionLoader {
	return &SessionLoader{manager: manager}
}

func (l *SessionLoader) ListPage(ctx context.Context, accountID, folder string, limit, offset int) (*email.MessagePage, error) {
	sess, err := l.manager.Connected(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return sess.GetMessagePage(ctx, folder, limit, offset)
}

func (l *SessionLoader) Message(ctx context.Context, accountID, folder string, uid uint32) (*types.MessageDetail, error) {
	sess, err := l.manager.Connected(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return sess.GetMessage(ctx, folder, uid)
}

func (l *SessionLoader) MarkSeen(ctx context.Context, accountID, folder string, uid uint32) error {
	sess, err := l.manager.Connected(ctx, accountID)
	if err != nil {
		return err
	}
	return sess.MarkMessageSeen(ctx, folder, uid, true)
}
