// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"fmt"
	"sync"
)

// CredentialStore persists the TokenSet of the signed in user.
// Implementations must be safe for concurrent use.
type CredentialStore interface {
	// Save replaces the stored tokens.
	Save(t *TokenSet) error

	// Load returns the stored tokens, or nil and no error when nothing is
	// stored.
	Load() (*TokenSet, error)

	// Clear removes the stored tokens.  Clearing an empty store is not an
	// error.
	Clear() error
}

// MemoryStore is a CredentialStore which keeps the encoded tokens in
// memory.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save satisfies the CredentialStore interface.
func (s *MemoryStore) Save(t *TokenSet) error {
	const op = "MemoryStore.Save"
	b, err := EncodeTokenSet(t)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = b
	return nil
}

// Load satisfies the CredentialStore interface.
func (s *MemoryStore) Load() (*TokenSet, error) {
	const op = "MemoryStore.Load"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, nil
	}
	t, err := DecodeTokenSet(s.data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

// Clear satisfies the CredentialStore interface.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	return nil
}
