// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// Package credstore provides persistent signin.CredentialStore
// implementations: the operating system keyring and a bbolt database file.
// Both store one credential per client id in the encoding of
// signin.EncodeTokenSet.
package credstore

import (
	"errors"
	"fmt"
)

// ErrInvalidParameter is returned for missing constructor arguments.
var ErrInvalidParameter = errors.New("invalid parameter")

func requireClientID(op, clientID string) error {
	if clientID == "" {
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	return nil
}
