// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// ChallengeMethod represents PKCE code challenge methods as defined by RFC
// 7636.
type ChallengeMethod string

const (
	// S256 is the SHA-256 code challenge method, the only method Google
	// accepts from installed applications.
	S256 ChallengeMethod = "S256"
)

// verifierEntropy is the number of random bytes in a verifier.  Encoded as
// base64url without padding it yields a 43 character verifier, the minimum
// length RFC 7636 allows.
const (
	verifierEntropy = 32
	verifierLen     = 43
)

// CodeVerifier is a PKCE code verifier and its S256 challenge.  A verifier
// is generated once per AuthorizationRequest and reused unchanged by the
// token exchange.
type CodeVerifier struct {
	verifier  string
	challenge string
	method    ChallengeMethod
}

// NewCodeVerifier creates a new CodeVerifier with a S256 challenge.
func NewCodeVerifier() (*CodeVerifier, error) {
	const op = "NewCodeVerifier"
	data, err := uuid.GenerateRandomBytes(verifierEntropy)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read random bytes: %w", op, err)
	}
	v := &CodeVerifier{
		verifier: base64.RawURLEncoding.EncodeToString(data),
		method:   S256,
	}
	if v.challenge, err = CreateCodeChallenge(v.method, v); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}

// Verifier returns the code verifier sent with the token exchange.
func (v *CodeVerifier) Verifier() string { return v.verifier }

// Challenge returns the code challenge sent with the authorization request.
func (v *CodeVerifier) Challenge() string { return v.challenge }

// Method returns the challenge method.
func (v *CodeVerifier) Method() ChallengeMethod { return v.method }

// Copy returns a copy of the verifier.
func (v *CodeVerifier) Copy() *CodeVerifier {
	c := *v
	return &c
}

// CreateCodeChallenge creates a code challenge from the verifier using the
// method.
func CreateCodeChallenge(method ChallengeMethod, v *CodeVerifier) (string, error) {
	const op = "CreateCodeChallenge"
	if v == nil {
		return "", fmt.Errorf("%s: verifier is nil: %w", op, ErrNilParameter)
	}
	switch method {
	case S256:
		h := sha256.Sum256([]byte(v.verifier))
		return base64.RawURLEncoding.EncodeToString(h[:]), nil
	default:
		return "", fmt.Errorf("%s: %q: %w", op, method, ErrUnsupportedChallengeMethod)
	}
}
