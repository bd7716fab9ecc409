// Package account provides account definitions and their passwords.
package account

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailview/internal/config"
)

// ErrNotFound is returned for unknown account ids
var ErrNotFound = errors.New("account not found")

// ErrNoPassword is returned when no password is stored for an account
var ErrNoPassword = errors.New("no password stored")

// EventType says what happened to an account
type EventType int

const (
	EventAdded EventType = iota
	EventUpdated
	EventRemoved
)

// Event is delivered to subscribers when accounts change
type Event struct {
	Type      EventType
	AccountID string
}

// Store exposes account configuration and secrets
type Store interface {
	ListAccounts() []*config.AccountConfig
	GetAccount(id string) (*config.AccountConfig, error)
	GetPassword(id string) (string, error)
	Subscribe(fn func(Event))
}

// Secrets stores passwords outside the configuration
type Secrets interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// ConfigStore serves accounts from configuration, with passwords from the
// configuration or, when absent there, from Secrets
type ConfigStore struct {
	secrets Secrets
	logger  *logrus.Logger

	mu          sync.RWMutex
	accounts    map[string]*config.AccountConfig
	subscribers []func(Event)
}

// NewConfigStore creates a store holding cfg's accounts
func NewConfigStore(cfg *config.Config, secrets Secrets, logger *logrus.Logger) *ConfigStore {
	s := &ConfigStore{
		secrets:  secrets,
		logger:   logger,
		accounts: make(map[string]*config.AccountConfig),
	}
	for i := range cfg.Accounts {
		acc := cfg.Accounts[i]
		s.accounts[acc.ID()] = &acc
	}
	return s
}

// ListAccounts returns all accounts sorted by id
func (s *ConfigStore) ListAccounts() []*config.AccountConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*config.AccountConfig, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// GetAccount returns an account by id
func (s *ConfigStore) GetAccount(id string) (*config.AccountConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return acc, nil
}

// GetPassword returns the IMAP password for an account
func (s *ConfigStore) GetPassword(id string) (string, error) {
	acc, err := s.GetAccount(id)
	if err != nil {
		return "", err
	}
	if acc.IMAPPassword != "" {
		return acc.IMAPPassword, nil
	}
	if s.secrets == nil {
		return "", fmt.Errorf("%w: %s", ErrNoPassword, id)
	}

	password, err := s.secrets.Get(secretKey(id))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrNoPassword, id, err)
	}
	if password == "" {
		return "", fmt.Errorf("%w: %s", ErrNoPassword, id)
	}
	return password, nil
}

// GetSMTPPassword returns the SMTP password, falling back to the IMAP one
func (s *ConfigStore) GetSMTPPassword(id string) (string, error) {
	acc, err := s.GetAccount(id)
	if err != nil {
		return "", err
	}
	if acc.SMTPPassword != "" {
		return acc.SMTPPassword, nil
	}
	return s.GetPassword(id)
}

// SetPassword stores a password in Secrets
func (s *ConfigStore) SetPassword(id, password string) error {
	if s.secrets == nil {
		return fmt.Errorf("no secret storage configured")
	}
	if err := s.secrets.Set(secretKey(id), password); err != nil {
		return err
	}
	s.publish(Event{Type: EventUpdated, AccountID: id})
	return nil
}

// Add inserts or replaces an account
func (s *ConfigStore) Add(acc config.AccountConfig) {
	s.mu.Lock()
	_, existed := s.accounts[acc.ID()]
	s.accounts[acc.ID()] = &acc
	s.mu.Unlock()

	evt := Event{Type: EventAdded, AccountID: acc.ID()}
	if existed {
		evt.Type = EventUpdated
	}
	s.publish(evt)
}

// Remove deletes an account and its stored password
func (s *ConfigStore) Remove(id string) error {
	s.mu.Lock()
	_, ok := s.accounts[id]
	delete(s.accounts, id)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if s.secrets != nil {
		if err := s.secrets.Delete(secretKey(id)); err != nil {
			s.logger.WithError(err).WithField("account", id).Debug("No stored password to delete")
		}
	}
	s.publish(Event{Type: EventRemoved, AccountID: id})
	return nil
}

// Subscribe registers fn for account change events
func (s *ConfigStore) Subscribe(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

func (s *ConfigStore) publish(evt Event) {
	s.mu.RLock()
	subs := append([]func(Event){}, s.subscribers...)
	s.mu.RUnlock()

	for _, fn := range subs {
		fn(evt)
	}
}

func secretKey(id string) string {
	return "account:" + id
}
