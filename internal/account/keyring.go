package account

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "mailview"

// KeyringSecrets stores passwords in the OS keyring
type KeyringSecrets struct {
	ring keyring.Keyring
}

// OpenKeyring opens the system keyring, falling back to an encrypted file
// under fileDir
func OpenKeyring(fileDir string) (*KeyringSecrets, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt("mailview-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &KeyringSecrets{ring: ring}, nil
}

// NewKeyringSecrets wraps an already opened keyring
func NewKeyringSecrets(ring keyring.Keyring) *KeyringSecrets {
	return &KeyringSecrets{ring: ring}
}

// Get retrieves a credential by key
func (k *KeyringSecrets) Get(key string) (string, error) {
	item, err := k.ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a credential by key
func (k *KeyringSecrets) Set(key, value string) error {
	err := k.ring.Set(keyring.Item{
		Key:  key,
		Data: []byte(value),
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes a credential; a missing key is not an error
func (k *KeyringSecrets) Delete(key string) error {
	err := k.ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}
