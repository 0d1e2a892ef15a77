// Package secret provides named secret storage backed by the operating
// system keychain (Keychain on macOS, Credential Manager on Windows,
// Secret Service on Linux). It is a leaf package: the encryption helper
// stores its symmetric key material here, and nothing in this package
// knows what the secrets mean.
package secret

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// ErrNotFound is returned when no secret exists under the requested name.
var ErrNotFound = errors.New("secret: not found")

// Store is an opaque read/write/delete capability for named secrets.
type Store interface {
	Read(name string) (string, error)
	Write(name, value string) error
	Delete(name string) error
}

// KeyringStore stores secrets in the OS keychain under a fixed service
// name, so multiple cache instances (distinct service names) never
// collide.
type KeyringStore struct {
	service string
}

// NewKeyringStore returns a Store scoped to the given keychain service name.
func NewKeyringStore(service string) *KeyringStore {
	return &KeyringStore{service: service}
}

func (s *KeyringStore) Read(name string) (string, error) {
	value, err := keyring.Get(s.service, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}

	if err != nil {
		return "", fmt.Errorf("secret: reading %q from keychain: %w", name, err)
	}

	return value, nil
}

func (s *KeyringStore) Write(name, value string) error {
	if err := keyring.Set(s.service, name, value); err != nil {
		return fmt.Errorf("secret: writing %q to keychain: %w", name, err)
	}

	return nil
}

func (s *KeyringStore) Delete(name string) error {
	err := keyring.Delete(s.service, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("secret: deleting %q from keychain: %w", name, err)
	}

	return nil
}
