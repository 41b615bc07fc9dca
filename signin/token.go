// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"encoding/json"
	"fmt"
	"time"
)

// AccessToken is an oauth access_token
type AccessToken string

// RedactedAccessToken is the redacted string or json for an oauth access_token
const RedactedAccessToken = "[REDACTED: access_token]"

// String will redact the token
func (t AccessToken) String() string {
	return RedactedAccessToken
}

// MarshalJSON will redact the token
func (t AccessToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedAccessToken)
}

// RefreshToken is an oauth refresh_token
type RefreshToken string

// RedactedRefreshToken is the redacted string or json for an oauth refresh_token
const RedactedRefreshToken = "[REDACTED: refresh_token]"

// String will redact the token
func (t RefreshToken) String() string {
	return RedactedRefreshToken
}

// MarshalJSON will redact the token
func (t RefreshToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedRefreshToken)
}

// IDToken is an oidc id_token
type IDToken string

// RedactedIDToken is the redacted string or json for an oidc id_token
const RedactedIDToken = "[REDACTED: id_token]"

// String will redact the token
func (t IDToken) String() string {
	return RedactedIDToken
}

// MarshalJSON will redact the token
func (t IDToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIDToken)
}

// TokenSet is the set of tokens obtained for a user.  Once a flow completes
// successfully, at least one of AccessToken and RefreshToken is non-empty.
type TokenSet struct {
	AccessToken       AccessToken
	AccessTokenExpiry time.Time

	// RefreshToken may be long-lived and carries no expiry.
	RefreshToken RefreshToken

	IDToken       IDToken
	IDTokenExpiry time.Time

	// ClientID is the client the tokens were issued to.
	ClientID string

	// Scopes are the scopes granted with the tokens.
	Scopes []string
}

// Valid reports whether the set holds an access or a refresh token.
func (t *TokenSet) Valid() bool {
	if t == nil {
		return false
	}
	return t.AccessToken != "" || t.RefreshToken != ""
}

// ExpiresWithin reports whether the access token expires within d of now.  A
// missing access token is treated as expired; a zero expiry never expires.
func (t *TokenSet) ExpiresWithin(now time.Time, d time.Duration) bool {
	if t == nil || t.AccessToken == "" {
		return true
	}
	if t.AccessTokenExpiry.IsZero() {
		return false
	}
	return t.AccessTokenExpiry.Round(0).Before(now.Add(d))
}

// Fresh reports whether both the access token and (when present) the ID
// token remain unexpired beyond the skew.
func (t *TokenSet) Fresh(now time.Time, skew time.Duration) bool {
	if t.ExpiresWithin(now, skew) {
		return false
	}
	if t.IDToken != "" && !t.IDTokenExpiry.IsZero() && t.IDTokenExpiry.Round(0).Before(now.Add(skew)) {
		return false
	}
	return true
}

// liveIDTokenExpiry returns exp while it is in the future and the zero time
// once it passed.  A refresh response may omit the ID token; the previous one
// is kept, and only the access token expiry then decides freshness.
func liveIDTokenExpiry(exp, now time.Time) time.Time {
	if exp.IsZero() || exp.Round(0).After(now) {
		return exp
	}
	return time.Time{}
}

// Clone returns a deep copy of the set.
func (t *TokenSet) Clone() *TokenSet {
	if t == nil {
		return nil
	}
	c := *t
	if t.Scopes != nil {
		c.Scopes = append([]string(nil), t.Scopes...)
	}
	return &c
}

// storedTokenSet is the persisted form of a TokenSet.  The token values are
// plain strings here since the TokenSet fields redact themselves when
// marshaled.
type storedTokenSet struct {
	Version           int       `json:"v"`
	AccessToken       string    `json:"access_token,omitempty"`
	AccessTokenExpiry time.Time `json:"access_token_expiry,omitempty"`
	RefreshToken      string    `json:"refresh_token,omitempty"`
	IDToken           string    `json:"id_token,omitempty"`
	IDTokenExpiry     time.Time `json:"id_token_expiry,omitempty"`
	ClientID          string    `json:"client_id,omitempty"`
	Scopes            []string  `json:"scopes,omitempty"`
}

const storedTokenSetVersion = 1

// EncodeTokenSet serializes a TokenSet for a CredentialStore.
func EncodeTokenSet(t *TokenSet) ([]byte, error) {
	const op = "EncodeTokenSet"
	if t == nil {
		return nil, fmt.Errorf("%s: token set is nil: %w", op, ErrNilParameter)
	}
	b, err := json.Marshal(storedTokenSet{
		Version:           storedTokenSetVersion,
		AccessToken:       string(t.AccessToken),
		AccessTokenExpiry: t.AccessTokenExpiry.Round(0).UTC(),
		RefreshToken:      string(t.RefreshToken),
		IDToken:           string(t.IDToken),
		IDTokenExpiry:     t.IDTokenExpiry.Round(0).UTC(),
		ClientID:          t.ClientID,
		Scopes:            t.Scopes,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}

// DecodeTokenSet parses a TokenSet serialized by EncodeTokenSet.
func DecodeTokenSet(b []byte) (*TokenSet, error) {
	const op = "DecodeTokenSet"
	if len(b) == 0 {
		return nil, fmt.Errorf("%s: data is empty: %w", op, ErrInvalidParameter)
	}
	var s storedTokenSet
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if s.Version != storedTokenSetVersion {
		return nil, fmt.Errorf("%s: unsupported version %d: %w", op, s.Version, ErrInvalidParameter)
	}
	return &TokenSet{
		AccessToken:       AccessToken(s.AccessToken),
		AccessTokenExpiry: s.AccessTokenExpiry,
		RefreshToken:      RefreshToken(s.RefreshToken),
		IDToken:           IDToken(s.IDToken),
		IDTokenExpiry:     s.IDTokenExpiry,
		ClientID:          s.ClientID,
		Scopes:            s.Scopes,
	}, nil
}
