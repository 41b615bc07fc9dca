// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package credstore

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/hashicorp/go-gsi/signin"
)

// DefaultKeyringService is the keyring service credentials are stored under.
const DefaultKeyringService = "go-gsi"

// Keyring stores credentials in the operating system keyring: the macOS
// keychain, the Secret Service on Linux or the Windows credential manager.
type Keyring struct {
	service  string
	clientID string
}

var _ signin.CredentialStore = (*Keyring)(nil)

// NewKeyring creates a Keyring storing the credential of the client id under
// the service.  The DefaultKeyringService is used when service is empty.
func NewKeyring(service, clientID string) (*Keyring, error) {
	const op = "credstore.NewKeyring"
	if err := requireClientID(op, clientID); err != nil {
		return nil, err
	}
	if service == "" {
		service = DefaultKeyringService
	}
	return &Keyring{service: service, clientID: clientID}, nil
}

// Save satisfies the signin.CredentialStore interface.
func (k *Keyring) Save(t *signin.TokenSet) error {
	const op = "Keyring.Save"
	b, err := signin.EncodeTokenSet(t)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := keyring.Set(k.service, k.clientID, string(b)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Load satisfies the signin.CredentialStore interface.
func (k *Keyring) Load() (*signin.TokenSet, error) {
	const op = "Keyring.Load"
	s, err := keyring.Get(k.service, k.clientID)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	t, err := signin.DecodeTokenSet([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

// Clear satisfies the signin.CredentialStore interface.
func (k *Keyring) Clear() error {
	const op = "Keyring.Clear"
	if err := keyring.Delete(k.service, k.clientID); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
