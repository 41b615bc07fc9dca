// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"errors"
	"fmt"
)

var (
	ErrUnexpected                 = errors.New("unexpected error")
	ErrKeychain                   = errors.New("credential store error")
	ErrNoAuthInKeychain           = errors.New("no stored credentials")
	ErrUserCanceled               = errors.New("user canceled")
	ErrEMM                        = errors.New("enterprise mobility management error")
	ErrNoCurrentUser              = errors.New("no current user")
	ErrScopesAlreadyGranted       = errors.New("scopes already granted")
	ErrMismatchedUser             = errors.New("signed in user does not match the current user")
	ErrNetwork                    = errors.New("network error")
	ErrInvalidConfiguration       = errors.New("invalid configuration")
	ErrInvalidParameter           = errors.New("invalid parameter")
	ErrNilParameter               = errors.New("nil parameter")
	ErrInvalidCACert              = errors.New("invalid CA certificate")
	ErrRestrictedScope            = errors.New("restricted scope")
	ErrProfileFetch               = errors.New("profile fetch failed")
	ErrRevoke                     = errors.New("token revocation failed")
	ErrMissingIDToken             = errors.New("id_token is missing")
	ErrIDTokenVerification        = errors.New("id_token verification failed")
	ErrAttestation                = errors.New("app attestation failed")
	ErrInvalidClaims              = errors.New("invalid claims")
	ErrUnsupportedChallengeMethod = errors.New("unsupported PKCE challenge method")
	ErrSessionNotIdle             = errors.New("session already started")
	ErrRedirectMismatch           = errors.New("redirect does not match the pending request")
	ErrMissingAuthCode            = errors.New("authorization response has no code")
	ErrRefreshTokenInvalid        = errors.New("refresh token is no longer valid")
	ErrMissingTokens              = errors.New("token response has no access or refresh token")
	ErrEMMPasscodeRequired        = emmKind("passcode required")
	ErrEMMAppVerificationRequired = emmKind("app verification required")
	ErrEMMUnexpectedResponse      = emmKind("unexpected response")
)

// emmKindError is one of the EMM specific error kinds.  Every kind satisfies
// errors.Is(err, ErrEMM).
type emmKindError struct {
	msg string
}

func emmKind(msg string) error { return &emmKindError{msg: msg} }

func (e *emmKindError) Error() string { return "emm: " + e.msg }

func (e *emmKindError) Is(target error) bool { return target == ErrEMM }

// ProviderError is an OAuth 2.0 error response returned by the identity
// provider, either on the redirect or from the token endpoint.
type ProviderError struct {
	// Code is the value of the "error" parameter.
	Code string

	// Description is the optional "error_description" parameter.
	Description string

	// URI is the optional "error_uri" parameter.
	URI string
}

// Error satisfies the error interface.
func (e *ProviderError) Error() string {
	switch {
	case e.Description != "":
		return fmt.Sprintf("identity provider error %q: %s", e.Code, e.Description)
	default:
		return fmt.Sprintf("identity provider error %q", e.Code)
	}
}

// Unwrap returns ErrUnexpected so provider errors classify as unexpected
// unless a caller inspects the code with errors.As.
func (e *ProviderError) Unwrap() error { return ErrUnexpected }

// ProfileError is returned when the tokens were obtained but the basic
// profile could not be resolved.  The partially completed tokens are
// available to callers via errors.As.
type ProfileError struct {
	Tokens *TokenSet
	Err    error
}

// Error satisfies the error interface.
func (e *ProfileError) Error() string {
	return e.Err.Error()
}

// Unwrap returns both ErrProfileFetch and the underlying cause.
func (e *ProfileError) Unwrap() []error {
	return []error{ErrProfileFetch, e.Err}
}
