package commands

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailview/internal/config"
	"github.com/brandon/mailview/internal/email"
	"github.com/brandon/mailview/internal/panels"
	"github.com/brandon/mailview/internal/tree"
	"github.com/brandon/mailview/pkg/types"
)

type nopSurface struct{ renders int }

func (s *nopSurface) Render(panels.Content) error { s.renders++; return nil }
func (s *nopSurface) Reveal() {}
func (s *nopSurface) Dispose() {}

type nopFactory struct{}

func (nopFactory) NewSurface(*panels.Panel) (panels.Surface, error) { return &nopSurface{}, nil }

type stubLoader struct{ lists int }

func (l *stubLoader) ListPage(_ context.Context, _, folder string, limit, offset int) (*email.MessagePage, error) {
	l.lists++
	return &email.MessagePage{Folder: folder, Limit: limit, Offset: offset}, nil
}

func (l *stubLoader) Message(_ context.Context, _, _ string, uid uint32) (*types.MessageDetail, error) {
	return &types.MessageDetail{MessageSummary: types.MessageSummary{UID: uid, Seen: true}}, nil
}

func (l *stubLoader) MarkSeen(context.Context, string, string, uint32) error { return nil }

type fakeMailer struct {
	calls      []string
	err        error
	attachment *types.Attachment
	sent       *email.EmailMessage
}

func (m *fakeMailer) MarkSeen(_ context.Context, _, _ string, _ uint32, seen bool) error {
	if seen {
		m.calls = append(m.calls, "seen")
	} else {
		m.calls = append(m.calls, "unseen")
	}
	return m.err
}

func (m *fakeMailer) Delete(context.Context, string, string, uint32) error {
	m.calls = append(m.calls, "delete")
	return m.err
}

func (m *fakeMailer) Move(_ context.Context, _, _ string, _ uint32, dest string) error {
	m.calls = append(m.calls, "move:"+dest)
	return m.err
}

func (m *fakeMailer) Attachment(context.Context, string, string, uint32, string) (*types.Attachment, error) {
	if m.attachment == nil {
		return nil, email.ErrNotFound
	}
	return m.attachment, nil
}

func (m *fakeMailer) Send(_ context.Context, _ string, msg *email.EmailMessage) error {
	m.sent = msg
	return m.err
}

func (m *fakeMailer) TestAccount(context.Context, string) error {
	m.calls = append(m.calls, "test")
	return m.err
}

type fakeTree struct {
	refreshed []*tree.Node
	forced    int
}

func (t *fakeTree) Refresh(_ context.Context, node *tree.Node, force bool) {
	t.refreshed = append(t.refreshed, node)
}

func (t *fakeTree) ForceReconnect(context.Context) { t.forced++ }

type fakeAccounts struct{ removed []string }

func (a *fakeAccounts) Remove(id string) error {
	if id == "missing" {
		return errors.New("account not found")
	}
	a.removed = append(a.removed, id)
	return nil
}

type fakeFolders struct{ removed []string }

func (f *fakeFolders) Remove(id string) { f.removed = append(f.removed, id) }

type testEnv struct {
	reg      *Registry
	mail     *fakeMailer
	panels   *panels.Registry
	loader   *stubLoader
	tree     *fakeTree
	accounts *fakeAccounts
	folders  *fakeFolders
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	env := &testEnv{
		mail:     &fakeMailer{},
		loader:   &stubLoader{},
		tree:     &fakeTree{},
		accounts: &fakeAccounts{},
		folders:  &fakeFolders{},
	}
	env.panels = panels.NewRegistry(nopFactory{}, env.loader, logger, panels.Options{Mode: config.DisplayWindow})
	env.reg = NewRegistry(Deps{
		Mail:     env.mail,
		Panels:   env.panels,
		Tree:     env.tree,
		Accounts: env.accounts,
		Folders:  env.folders,
	}, logger)
	return env
}

func TestRegistry_Definitions(t *testing.T) {
	env := newTestEnv(t)

	var names []string
	for _, d := range env.reg.Definitions() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{
		"back", "delete_message", "download_attachment", "mark_read", "mark_unread",
		"move_message", "open_folder", "open_message", "reconnect", "refresh",
		"remove_account", "send_email", "set_display_mode", "test_connection",
	}, names)
}

func TestRegistry_CallValidatesArguments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.reg.Call(ctx, "mark_read", []byte(`{"account_id":"work","folder_path":"INBOX"}`))
	assert.ErrorIs(t, err, email.ErrValidation)
	assert.Contains(t, err.Error(), "uid")
	assert.Empty(t, env.mail.calls)

	_, err = env.reg.Call(ctx, "mark_read", []byte(`{"uid":"seven"}`))
	assert.ErrorIs(t, err, email.ErrValidation)

	_, err = env.reg.Call(ctx, "no_such_command", nil)
	assert.Error(t, err)
}

func TestRegistry_OpenFolderAndMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.reg.Call(ctx, "open_folder", []byte(`{"account_id":"work","folder_path":"INBOX"}`))
	require.NoError(t, err)
	list := res.(*PanelResult)
	assert.Equal(t, "INBOX", list.Key.FolderPath)

	res, err = env.reg.Call(ctx, "open_message", []byte(`{"account_id":"work","folder_path":"INBOX","uid":4,"panel_id":"`+list.PanelID+`"}`))
	require.NoError(t, err)
	detail := res.(*PanelResult)
	assert.NotEqual(t, list.PanelID, detail.PanelID)
	assert.Equal(t, uint32(4), detail.Key.UID)

	_, err = env.reg.Call(ctx, "back", []byte(`{"panel_id":"`+list.PanelID+`"}`))
	assert.ErrorIs(t, err, email.ErrValidation)
}

func TestRegistry_MutationsRefreshList(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.reg.Call(ctx, "open_folder", []byte(`{"account_id":"work","folder_path":"INBOX","new_tab":true}`))
	require.NoError(t, err)
	before := env.loader.lists

	msg := []byte(`{"account_id":"work","folder_path":"INBOX","uid":9}`)
	_, err = env.reg.Call(ctx, "mark_unread", msg)
	require.NoError(t, err)
	_, err = env.reg.Call(ctx, "delete_message", msg)
	require.NoError(t, err)
	assert.Equal(t, []string{"unseen", "delete"}, env.mail.calls)
	assert.Equal(t, before+2, env.loader.lists)

	env.mail.err = email.ErrNotConnected
	_, err = env.reg.Call(ctx, "mark_read", msg)
	assert.ErrorIs(t, err, email.ErrNotConnected)
	assert.Equal(t, before+2, env.loader.lists)
}

func TestRegistry_MoveMessage(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.reg.Call(context.Background(), "move_message",
		[]byte(`{"account_id":"work","folder_path":"INBOX","uid":9,"destination":"Archive"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"move:Archive"}, env.mail.calls)
}

func TestRegistry_DownloadAttachment(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	env.mail.attachment = &types.Attachment{
		AttachmentInfo: types.AttachmentInfo{Filename: "../report.pdf", ContentType: "application/pdf"},
		Content:        []byte("%PDF-1.4"),
	}

	res, err := env.reg.Call(context.Background(), "download_attachment",
		[]byte(`{"account_id":"work","folder_path":"INBOX","uid":9,"filename":"../report.pdf","save_to":"`+dir+`"}`))
	require.NoError(t, err)

	out := res.(*DownloadResult)
	assert.Equal(t, filepath.Join(dir, "report.pdf"), out.Path)
	data, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	env.mail.attachment = nil
	_, err = env.reg.Call(context.Background(), "download_attachment",
		[]byte(`{"account_id":"work","folder_path":"INBOX","uid":9,"filename":"x","save_to":"`+dir+`"}`))
	assert.ErrorIs(t, err, email.ErrNotFound)
}

func TestRegistry_SendEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	attachment := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(attachment, []byte("hello"), 0600))

	_, err := env.reg.Call(ctx, "send_email", []byte(`{"account_id":"work","to":"a@example.com, b@example.com","subject":"Hi","body_text":"Hello","attachments":["`+attachment+`"]}`))
	require.NoError(t, err)
	require.NotNil(t, env.mail.sent)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, env.mail.sent.To)
	require.Len(t, env.mail.sent.Attachments, 1)
	assert.Equal(t, "notes.txt", env.mail.sent.Attachments[0].Filename)

	_, err = env.reg.Call(ctx, "send_email", []byte(`{"account_id":"work","to":"a@example.com","subject":"Hi"}`))
	assert.ErrorIs(t, err, email.ErrValidation)
}

func TestRegistry_RefreshAndReconnect(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.reg.Call(ctx, "refresh", nil)
	require.NoError(t, err)
	_, err = env.reg.Call(ctx, "refresh", []byte(`{"account_id":"work"}`))
	require.NoError(t, err)
	_, err = env.reg.Call(ctx, "reconnect", []byte(`{}`))
	require.NoError(t, err)

	require.Len(t, env.tree.refreshed, 2)
	assert.Nil(t, env.tree.refreshed[0])
	assert.Equal(t, "work", env.tree.refreshed[1].AccountID)
	assert.Equal(t, 1, env.tree.forced)
}

func TestRegistry_SetDisplayMode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := []byte(`{"account_id":"work","folder_path":"INBOX","uid":1}`)
	second := []byte(`{"account_id":"work","folder_path":"INBOX","uid":2}`)

	_, err := env.reg.Call(ctx, "set_display_mode", []byte(`{"display_mode":"Split"}`))
	require.NoError(t, err)

	a, err := env.reg.Call(ctx, "open_message", first)
	require.NoError(t, err)
	b, err := env.reg.Call(ctx, "open_message", second)
	require.NoError(t, err)
	assert.Equal(t, a.(*PanelResult).PanelID, b.(*PanelResult).PanelID)
	assert.Equal(t, uint32(2), b.(*PanelResult).Key.UID)

	_, err = env.reg.Call(ctx, "set_display_mode", []byte(`{"display_mode":"tabs"}`))
	assert.ErrorIs(t, err, email.ErrValidation)
	_, err = env.reg.Call(ctx, "set_display_mode", nil)
	assert.ErrorIs(t, err, email.ErrValidation)
}

func TestRegistry_RemoveAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.reg.Call(ctx, "open_folder", []byte(`{"account_id":"work","folder_path":"INBOX"}`))
	require.NoError(t, err)

	_, err = env.reg.Call(ctx, "remove_account", []byte(`{"account_id":"work"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"work"}, env.accounts.removed)
	assert.Equal(t, []string{"work"}, env.folders.removed)
	assert.Empty(t, env.panels.Panels())

	_, err = env.reg.Call(ctx, "remove_account", []byte(`{"account_id":"missing"}`))
	assert.ErrorIs(t, err, email.ErrValidation)
}
