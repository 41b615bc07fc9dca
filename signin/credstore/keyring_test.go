// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package credstore

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/hashicorp/go-gsi/signin"
)

func testTokens(clientID string) *signin.TokenSet {
	return &signin.TokenSet{
		AccessToken:       "AT1",
		AccessTokenExpiry: time.Now().Add(time.Hour).Truncate(time.Second).UTC(),
		RefreshToken:      "RT1",
		IDToken:           "ID1",
		ClientID:          clientID,
		Scopes:            []string{"openid", "email", "profile"},
	}
}

// keyring tests share the package level mock provider, so they do not run
// in parallel.
func TestKeyring(t *testing.T) {
	keyring.MockInit()

	t.Run("round-trip", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		k, err := NewKeyring("", "client-a")
		require.NoError(err)
		other, err := NewKeyring("", "client-b")
		require.NoError(err)

		got, err := k.Load()
		require.NoError(err)
		assert.Nil(got)

		want := testTokens("client-a")
		require.NoError(k.Save(want))
		got, err = k.Load()
		require.NoError(err)
		assert.Equal(want.AccessToken, got.AccessToken)
		assert.Equal(want.RefreshToken, got.RefreshToken)
		assert.Equal(want.IDToken, got.IDToken)
		assert.True(want.AccessTokenExpiry.Equal(got.AccessTokenExpiry))
		assert.Equal(want.Scopes, got.Scopes)

		got, err = other.Load()
		require.NoError(err)
		assert.Nil(got)

		require.NoError(k.Clear())
		require.NoError(k.Clear())
		got, err = k.Load()
		require.NoError(err)
		assert.Nil(got)
	})

	t.Run("nil-tokens", func(t *testing.T) {
		k, err := NewKeyring("svc", "client-a")
		require.NoError(t, err)
		assert.ErrorIs(t, k.Save(nil), signin.ErrNilParameter)
	})

	t.Run("missing-client-id", func(t *testing.T) {
		_, err := NewKeyring("svc", "")
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})

	t.Run("keyring-error", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		locked := errors.New("keyring locked")
		keyring.MockInitWithError(locked)
		t.Cleanup(keyring.MockInit)

		k, err := NewKeyring("svc", "client-a")
		require.NoError(err)
		assert.ErrorIs(k.Save(testTokens("client-a")), locked)
		_, err = k.Load()
		assert.ErrorIs(err, locked)
		assert.ErrorIs(k.Clear(), locked)
	})
}

func TestKeyring_CredentialStore(t *testing.T) {
	keyring.MockInit()
	assert, require := assert.New(t), require.New(t)
	k, err := NewKeyring("svc", "client-a")
	require.NoError(err)

	var store signin.CredentialStore = k
	require.NoError(store.Save(testTokens("client-a")))
	got, err := store.Load()
	require.NoError(err)
	assert.True(got.Valid())
}
