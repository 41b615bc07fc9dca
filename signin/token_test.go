// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessToken_String(t *testing.T) {
	t.Parallel()
	t.Run("redacted", func(t *testing.T) {
		assert := assert.New(t)
		const want = RedactedAccessToken
		tk := AccessToken("super secret token")
		assert.Equalf(want, tk.String(), "AccessToken.String() = %v, want %v", tk.String(), want)
		assert.Equal(want, fmt.Sprintf("%s", tk))
	})
}

func TestRefreshToken_MarshalJSON(t *testing.T) {
	t.Parallel()
	t.Run("redacted", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		want := fmt.Sprintf(`"%s"`, RedactedRefreshToken)
		tk := RefreshToken("super secret token")
		got, err := tk.MarshalJSON()
		require.NoError(err)
		assert.Equalf([]byte(want), got, "RefreshToken.MarshalJSON() = %s, want %s", got, want)
	})
}

func TestTokenSet_MarshalJSON(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ts := &TokenSet{
		AccessToken:  "AT1",
		RefreshToken: "RT1",
		IDToken:      "ID1",
	}
	b, err := json.Marshal(ts)
	require.NoError(err)
	assert.NotContains(string(b), "AT1")
	assert.NotContains(string(b), "RT1")
	assert.NotContains(string(b), "ID1")
	assert.Contains(string(b), RedactedIDToken)
}

func TestTokenSet_Fresh(t *testing.T) {
	t.Parallel()
	now := time.Now()
	tests := []struct {
		name  string
		ts    *TokenSet
		skew  time.Duration
		fresh bool
	}{
		{"nil", nil, time.Minute, false},
		{"no-access-token", &TokenSet{RefreshToken: "r"}, time.Minute, false},
		{"no-expiry", &TokenSet{AccessToken: "a"}, time.Minute, true},
		{"access-expiring", &TokenSet{AccessToken: "a", AccessTokenExpiry: now.Add(30 * time.Second)}, time.Minute, false},
		{"access-valid", &TokenSet{AccessToken: "a", AccessTokenExpiry: now.Add(time.Hour)}, time.Minute, true},
		{
			"id-token-expiring",
			&TokenSet{AccessToken: "a", AccessTokenExpiry: now.Add(time.Hour), IDToken: "i", IDTokenExpiry: now.Add(10 * time.Second)},
			time.Minute,
			false,
		},
		{
			"both-valid",
			&TokenSet{AccessToken: "a", AccessTokenExpiry: now.Add(time.Hour), IDToken: "i", IDTokenExpiry: now.Add(time.Hour)},
			time.Minute,
			true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			assert.Equal(tt.fresh, tt.ts.Fresh(now, tt.skew))
		})
	}
}

func TestTokenSet_Valid(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	var nilSet *TokenSet
	assert.False(nilSet.Valid())
	assert.False((&TokenSet{IDToken: "i"}).Valid())
	assert.True((&TokenSet{AccessToken: "a"}).Valid())
	assert.True((&TokenSet{RefreshToken: "r"}).Valid())
}

func TestTokenSet_Clone(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	ts := &TokenSet{AccessToken: "a", Scopes: []string{"email"}}
	c := ts.Clone()
	c.Scopes[0] = "profile"
	c.AccessToken = "b"
	assert.Equal("email", ts.Scopes[0])
	assert.Equal(AccessToken("a"), ts.AccessToken)
}

func TestEncodeDecodeTokenSet(t *testing.T) {
	t.Parallel()
	t.Run("round-trip", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		expiry := time.Now().Add(time.Hour)
		ts := &TokenSet{
			AccessToken:       "AT1",
			AccessTokenExpiry: expiry,
			RefreshToken:      "RT1",
			IDToken:           "ID1",
			IDTokenExpiry:     expiry.Add(time.Minute),
			ClientID:          "client",
			Scopes:            []string{"openid", "email"},
		}
		b, err := EncodeTokenSet(ts)
		require.NoError(err)
		got, err := DecodeTokenSet(b)
		require.NoError(err)
		assert.Equal(ts.AccessToken, got.AccessToken)
		assert.Equal(ts.RefreshToken, got.RefreshToken)
		assert.Equal(ts.IDToken, got.IDToken)
		assert.True(ts.AccessTokenExpiry.Equal(got.AccessTokenExpiry))
		assert.True(ts.IDTokenExpiry.Equal(got.IDTokenExpiry))
		assert.Equal(ts.ClientID, got.ClientID)
		assert.Equal(ts.Scopes, got.Scopes)
	})
	t.Run("nil", func(t *testing.T) {
		assert := assert.New(t)
		_, err := EncodeTokenSet(nil)
		assert.Truef(errors.Is(err, ErrNilParameter), "wanted \"%s\" but got \"%s\"", ErrNilParameter, err)
	})
	t.Run("empty", func(t *testing.T) {
		assert := assert.New(t)
		_, err := DecodeTokenSet(nil)
		assert.Truef(errors.Is(err, ErrInvalidParameter), "wanted \"%s\" but got \"%s\"", ErrInvalidParameter, err)
	})
	t.Run("bad-version", func(t *testing.T) {
		assert := assert.New(t)
		_, err := DecodeTokenSet([]byte(`{"v":42}`))
		assert.Truef(errors.Is(err, ErrInvalidParameter), "wanted \"%s\" but got \"%s\"", ErrInvalidParameter, err)
	})
}
