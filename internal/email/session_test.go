package email

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailview/pkg/types"
)

func makeMessages(n int, base time.Time) []*imap.Message {
	msgs := make([]*imap.Message, 0, n)
	for i := 1; i <= n; i++ {
		msgs = append(msgs, &imap.Message{
			SeqNum: uint32(i),
			Uid:    uint32(1000 + i),
			Envelope: &imap.Envelope{
				Date:    base.Add(time.Duration(i) * time.Minute),
				Subject: fmt.Sprintf("message %d", i),
			},
		})
	}
	return msgs
}

const rawMessage = "From: Ann <ann@example.com>\r\n" +
	"To: me@example.com\r\n" +
	"Subject: Report\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"See attached.\r\n" +
	"--b1\r\n" +
	"Content-Type: text/csv\r\n" +
	"Content-Disposition: attachment; filename=\"numbers.csv\"\r\n" +
	"\r\n" +
	"a,b\r\n1,2\r\n" +
	"--b1--\r\n"

func TestSession_NotConnected(t *testing.T) {
	s := NewSession(testAccount(), &fakeDialer{conn: newFakeConn()}, testLogger())
	ctx := context.Background()

	_, err := s.ListFolders(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = s.GetMessages(ctx, "INBOX", 50, 0)
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = s.GetMessage(ctx, "INBOX", 1)
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.ErrorIs(t, s.DeleteMessage(ctx, "INBOX", 1), ErrNotConnected)
}

func TestSession_ConnectRequiresPassword(t *testing.T) {
	dialer := &fakeDialer{conn: newFakeConn()}
	s := NewSession(testAccount(), dialer, testLogger())

	err := s.Connect(context.Background(), "")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 0, dialer.dials)
	assert.True(t, s.HasConnectionError())
}

func TestSession_ConnectFailureSetsError(t *testing.T) {
	dialer := &fakeDialer{err: newError(KindAuth, "login", errors.New("bad credentials"))}
	s := NewSession(testAccount(), dialer, testLogger())

	err := s.Connect(context.Background(), "wrong")
	assert.ErrorIs(t, err, ErrAuth)
	assert.Equal(t, StateError, s.State())
	assert.True(t, s.HasConnectionError())
	assert.Contains(t, s.LastError(), "bad credentials")

	s.ClearError()
	assert.False(t, s.HasConnectionError())
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSession_ConnectUnclassifiedErrorIsNetwork(t *testing.T) {
	s := NewSession(testAccount(), &fakeDialer{err: errors.New("connection refused")}, testLogger())
	err := s.Connect(context.Background(), "pw")
	assert.Equal(t, KindNetwork, KindOf(err))
}

func TestSession_ReconnectReleasesOldConnection(t *testing.T) {
	first := newFakeConn()
	dialer := &fakeDialer{conn: first}
	s := NewSession(testAccount(), dialer, testLogger())
	ctx := context.Background()

	require.NoError(t, s.Connect(ctx, "pw"))
	dialer.conn = newFakeConn()
	require.NoError(t, s.Connect(ctx, "pw"))

	assert.Equal(t, 1, first.loggedOut)
	assert.True(t, s.Connected())
}

func TestSession_DisconnectTwice(t *testing.T) {
	conn := newFakeConn()
	s := connectedSession(t, conn)
	ctx := context.Background()

	require.NoError(t, s.Disconnect(ctx))
	require.NoError(t, s.Disconnect(ctx))
	assert.False(t, s.Connected())
	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, 1, conn.loggedOut)
}

func TestSession_DisconnectSurfacesLogoutErrorButCloseSwallows(t *testing.T) {
	conn := newFakeConn()
	conn.logoutErr = errors.New("broken pipe")
	s := connectedSession(t, conn)

	assert.Error(t, s.Disconnect(context.Background()))
	assert.False(t, s.Connected())

	s = connectedSession(t, conn)
	s.Close(context.Background())
	assert.False(t, s.Connected())
}

func TestSession_ListFolders(t *testing.T) {
	conn := newFakeConn()
	conn.addMailbox("Lists/golang", nil, makeMessages(3, time.Now()), 2)
	conn.addMailbox("INBOX", nil, makeMessages(10, time.Now()), 4)
	conn.addMailbox("Lists", []string{imap.NoSelectAttr}, nil, 99)
	conn.addMailbox("Sent", []string{`\Sent`}, makeMessages(1, time.Now()), 0)
	s := connectedSession(t, conn)

	tree, err := s.ListFolders(context.Background())
	require.NoError(t, err)

	require.Len(t, tree.Roots, 3)
	assert.Equal(t, "INBOX", tree.Roots[0].Path)
	assert.Equal(t, types.RoleInbox, tree.Roots[0].SpecialUse)
	assert.Equal(t, 10, tree.Roots[0].TotalMessages)

	lists, ok := tree.Node("Lists")
	require.True(t, ok)
	assert.False(t, lists.Selectable)
	assert.Equal(t, 0, lists.UnseenMessages)
	assert.Equal(t, types.RoleNewsletters, lists.SpecialUse)
	require.Len(t, lists.Children, 1)
	assert.Equal(t, "golang", lists.Children[0].DisplayName)

	sent, ok := tree.Node("Sent")
	require.True(t, ok)
	assert.Equal(t, types.RoleSent, sent.SpecialUse)

	assert.Equal(t, 6, tree.Unread())
}

func TestSession_ListFailureMarksConnectionError(t *testing.T) {
	conn := newFakeConn()
	conn.listErr = errors.New("BAD command")
	s := connectedSession(t, conn)

	_, err := s.ListFolders(context.Background())
	assert.ErrorIs(t, err, ErrProtocol)
	assert.True(t, s.HasConnectionError())
	assert.Contains(t, s.LastError(), "BAD command")
}

func TestSession_GetMessagesNewestFirst(t *testing.T) {
	conn := newFakeConn()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := makeMessages(120, base)
	// sequence order does not follow date order here
	msgs[119].Envelope.Date = base.Add(-time.Hour)
	conn.addMailbox("INBOX", nil, msgs, 0)
	s := connectedSession(t, conn)

	page, err := s.GetMessagePage(context.Background(), "INBOX", 50, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(120), page.Total)
	require.Len(t, page.Messages, 50)
	assert.Equal(t, uint32(1119), page.Messages[0].UID)
	assert.Equal(t, uint32(1120), page.Messages[49].UID)

	last, err := s.GetMessages(context.Background(), "INBOX", 50, 100)
	require.NoError(t, err)
	assert.Len(t, last, 20)
}

func TestSession_EmptyFolderDoesNotFetch(t *testing.T) {
	conn := newFakeConn()
	conn.addMailbox("Empty", nil, nil, 0)
	s := connectedSession(t, conn)

	msgs, err := s.GetMessages(context.Background(), "Empty", 50, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, 0, conn.fetchCalls)
}

func TestSession_LockReleasedAfterFetchFailure(t *testing.T) {
	conn := newFakeConn()
	conn.addMailbox("INBOX", nil, makeMessages(5, time.Now()), 0)
	conn.fetchErr = errors.New("connection reset")
	s := connectedSession(t, conn)

	_, err := s.GetMessages(context.Background(), "INBOX", 10, 0)
	require.Error(t, err)

	conn.fetchErr = nil
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msgs, err := s.GetMessages(ctx, "INBOX", 10, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 5)
}

func TestSession_NetworkFailureDropsConnection(t *testing.T) {
	conn := newFakeConn()
	conn.addMailbox("INBOX", nil, makeMessages(5, time.Now()), 0)
	dialer := &fakeDialer{conn: conn}
	s := NewSession(testAccount(), dialer, testLogger())
	require.NoError(t, s.Connect(context.Background(), "secret"))

	conn.fetchErr = &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}
	_, err := s.GetMessages(context.Background(), "INBOX", 10, 0)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, StateError, s.State())
	assert.True(t, s.HasConnectionError())
	assert.Contains(t, s.LastError(), "connection reset by peer")
	assert.Equal(t, 1, conn.loggedOut)

	_, err = s.GetMessages(context.Background(), "INBOX", 10, 0)
	assert.ErrorIs(t, err, ErrNotConnected)

	conn.fetchErr = nil
	require.NoError(t, s.Connect(context.Background(), "secret"))
	msgs, err := s.GetMessages(context.Background(), "INBOX", 10, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 5)
	assert.Equal(t, 2, dialer.dials)
}

func TestSession_LockSerializesCallers(t *testing.T) {
	conn := newFakeConn()
	conn.addMailbox("INBOX", nil, nil, 0)
	s := connectedSession(t, conn)

	require.NoError(t, s.acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.GetMessages(ctx, "INBOX", 10, 0)
	assert.ErrorIs(t, err, ErrTimeout)

	s.release()
	_, err = s.GetMessages(context.Background(), "INBOX", 10, 0)
	assert.NoError(t, err)
}

func TestSession_UnknownFolderReleasesLock(t *testing.T) {
	s := connectedSession(t, newFakeConn())

	_, err := s.GetMessages(context.Background(), "Missing", 10, 0)
	assert.ErrorIs(t, err, ErrProtocol)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.acquire(ctx))
	s.release()
}

func TestSession_GetMessageAndMarkSeen(t *testing.T) {
	conn := newFakeConn()
	msgs := makeMessages(2, time.Now())
	mb := conn.addMailbox("INBOX", nil, msgs, 1)
	mb.raw[1002] = []byte(rawMessage)
	s := connectedSession(t, conn)
	ctx := context.Background()

	detail, err := s.GetMessage(ctx, "INBOX", 1002)
	require.NoError(t, err)
	assert.Equal(t, "message 2", detail.Subject)
	assert.Contains(t, detail.Text, "See attached.")
	assert.False(t, detail.Seen)
	require.Len(t, detail.Attachments, 1)
	assert.Equal(t, "numbers.csv", detail.Attachments[0].Filename)
	assert.True(t, detail.HasAttachments)

	require.NoError(t, s.MarkMessageSeen(ctx, "INBOX", 1002, true))
	detail, err = s.GetMessage(ctx, "INBOX", 1002)
	require.NoError(t, err)
	assert.True(t, detail.Seen)

	require.NoError(t, s.MarkMessageSeen(ctx, "INBOX", 1002, false))
	assert.Equal(t, []string{`+FLAGS.SILENT \Seen`, `-FLAGS.SILENT \Seen`}, conn.stores)
}

func TestSession_GetMessageNotFound(t *testing.T) {
	conn := newFakeConn()
	conn.addMailbox("INBOX", nil, makeMessages(1, time.Now()), 0)
	s := connectedSession(t, conn)

	_, err := s.GetMessage(context.Background(), "INBOX", 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSession_GetAttachment(t *testing.T) {
	conn := newFakeConn()
	mb := conn.addMailbox("INBOX", nil, makeMessages(1, time.Now()), 0)
	mb.raw[1001] = []byte(rawMessage)
	s := connectedSession(t, conn)
	ctx := context.Background()

	att, err := s.GetAttachment(ctx, "INBOX", 1001, "numbers.csv")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", att.ContentType)
	assert.Contains(t, string(att.Content), "1,2")

	_, err = s.GetAttachment(ctx, "INBOX", 1001, "missing.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSession_DeleteAndMove(t *testing.T) {
	conn := newFakeConn()
	conn.addMailbox("INBOX", nil, makeMessages(1, time.Now()), 0)
	s := connectedSession(t, conn)
	ctx := context.Background()

	require.NoError(t, s.DeleteMessage(ctx, "INBOX", 1001))
	assert.Equal(t, []string{`+FLAGS.SILENT \Deleted`}, conn.stores)

	require.NoError(t, s.MoveMessage(ctx, "INBOX", 1001, "Archive"))
	assert.Equal(t, []string{"INBOX->Archive"}, conn.moves)

	assert.ErrorIs(t, s.MoveMessage(ctx, "INBOX", 1001, "INBOX"), ErrValidation)
	assert.ErrorIs(t, s.MoveMessage(ctx, "INBOX", 1001, ""), ErrValidation)
	assert.ErrorIs(t, s.DeleteMessage(ctx, "", 1001), ErrValidation)
}

func TestTestConnection(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conn: conn}

	require.NoError(t, TestConnection(context.Background(), dialer, testAccount(), "pw"))
	assert.Equal(t, 1, conn.loggedOut)

	assert.ErrorIs(t, TestConnection(context.Background(), dialer, testAccount(), ""), ErrValidation)

	dialer.err = newError(KindTimeout, "connect", context.DeadlineExceeded)
	assert.ErrorIs(t, TestConnection(context.Background(), dialer, testAccount(), "pw"), ErrTimeout)
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", newError(KindNotFound, "get attachment", errors.New("x")))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrAuth)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, "get attachment: not found: x", newError(KindNotFound, "get attachment", errors.New("x")).Error())
}
