package account

import (
	"io"
	"testing"

	"github.com/99designs/keyring"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailview/internal/config"
)

func newTestStore(t *testing.T) (*ConfigStore, *KeyringSecrets) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.Config{Accounts: []config.AccountConfig{
		{Name: "work", IMAPHost: "imap.work.test", IMAPPort: 993, IMAPUsername: "me", IMAPPassword: "inline"},
		{Name: "home", IMAPHost: "imap.home.test", IMAPPort: 993, IMAPUsername: "me", SMTPPassword: "smtp-only"},
	}}
	secrets := NewKeyringSecrets(keyring.NewArrayKeyring(nil))
	return NewConfigStore(cfg, secrets, logger), secrets
}

func TestConfigStore_ListAndGet(t *testing.T) {
	s, _ := newTestStore(t)

	accounts := s.ListAccounts()
	require.Len(t, accounts, 2)
	assert.Equal(t, "home", accounts[0].ID())
	assert.Equal(t, "work", accounts[1].ID())

	acc, err := s.GetAccount("work")
	require.NoError(t, err)
	assert.Equal(t, "imap.work.test", acc.IMAPHost)

	_, err = s.GetAccount("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConfigStore_PasswordFallsBackToKeyring(t *testing.T) {
	s, _ := newTestStore(t)

	pw, err := s.GetPassword("work")
	require.NoError(t, err)
	assert.Equal(t, "inline", pw)

	_, err = s.GetPassword("home")
	assert.ErrorIs(t, err, ErrNoPassword)

	require.NoError(t, s.SetPassword("home", "from-keyring"))
	pw, err = s.GetPassword("home")
	require.NoError(t, err)
	assert.Equal(t, "from-keyring", pw)

	smtp, err := s.GetSMTPPassword("home")
	require.NoError(t, err)
	assert.Equal(t, "smtp-only", smtp)

	smtp, err = s.GetSMTPPassword("work")
	require.NoError(t, err)
	assert.Equal(t, "inline", smtp)
}

func TestConfigStore_Events(t *testing.T) {
	s, secrets := newTestStore(t)

	var events []Event
	s.Subscribe(func(e Event) { events = append(events, e) })

	s.Add(config.AccountConfig{Name: "new", IMAPHost: "h", IMAPPort: 993})
	s.Add(config.AccountConfig{Name: "new", IMAPHost: "h2", IMAPPort: 993})
	require.NoError(t, s.SetPassword("new", "pw"))
	require.NoError(t, s.Remove("new"))
	assert.ErrorIs(t, s.Remove("new"), ErrNotFound)

	assert.Equal(t, []Event{
		{Type: EventAdded, AccountID: "new"},
		{Type: EventUpdated, AccountID: "new"},
		{Type: EventUpdated, AccountID: "new"},
		{Type: EventRemoved, AccountID: "new"},
	}, events)

	_, err := secrets.Get("account:new")
	assert.Error(t, err)
}
