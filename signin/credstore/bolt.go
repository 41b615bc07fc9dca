// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package credstore

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hashicorp/go-gsi/signin"
)

const (
	boltDirPerm     = fs.FileMode(0o700)
	boltFilePerm    = fs.FileMode(0o600)
	boltOpenTimeout = 5 * time.Second
)

var credentialsBucket = []byte("credentials")

// Bolt stores credentials in a bbolt database file.  A database may hold
// the credentials of several clients.
type Bolt struct {
	db       *bolt.DB
	clientID string
}

var _ signin.CredentialStore = (*Bolt)(nil)

// OpenBolt opens the database at path, creating it and its directory when
// missing.  The Bolt must be closed with Close.
func OpenBolt(path, clientID string) (*Bolt, error) {
	const op = "credstore.OpenBolt"
	if err := requireClientID(op, clientID); err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("%s: path is empty: %w", op, ErrInvalidParameter)
	}
	if err := os.MkdirAll(filepath.Dir(path), boltDirPerm); err != nil {
		return nil, fmt.Errorf("%s: creating directory: %w", op, err)
	}
	db, err := bolt.Open(path, boltFilePerm, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("%s: opening db: %w", op, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(credentialsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: creating bucket: %w", op, err)
	}
	return &Bolt{db: db, clientID: clientID}, nil
}

// Close closes the database.
func (b *Bolt) Close() error {
	return b.db.Close()
}

// Save satisfies the signin.CredentialStore interface.
func (b *Bolt) Save(t *signin.TokenSet) error {
	const op = "Bolt.Save"
	data, err := signin.EncodeTokenSet(t)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(credentialsBucket).Put([]byte(b.clientID), data)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Load satisfies the signin.CredentialStore interface.
func (b *Bolt) Load() (*signin.TokenSet, error) {
	const op = "Bolt.Load"
	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		// values are only valid during the transaction
		if v := tx.Bucket(credentialsBucket).Get([]byte(b.clientID)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if data == nil {
		return nil, nil
	}
	t, err := signin.DecodeTokenSet(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

// Clear satisfies the signin.CredentialStore interface.
func (b *Bolt) Clear() error {
	const op = "Bolt.Clear"
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(credentialsBucket).Delete([]byte(b.clientID))
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
