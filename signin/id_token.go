// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// supportedAlgs are the ID token signing algorithms accepted.
var supportedAlgs = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256, jose.PS384, jose.PS512,
}

func supportedAlgNames() []string {
	names := make([]string, 0, len(supportedAlgs))
	for _, a := range supportedAlgs {
		names = append(names, string(a))
	}
	return names
}

// IDTokenClaims are the ID token claims used by the client.
type IDTokenClaims struct {
	Issuer        string           `json:"iss,omitempty"`
	Subject       string           `json:"sub,omitempty"`
	Audience      jwt.Audience     `json:"aud,omitempty"`
	AuthorizedBy  string           `json:"azp,omitempty"`
	Expiry        *jwt.NumericDate `json:"exp,omitempty"`
	IssuedAt      *jwt.NumericDate `json:"iat,omitempty"`
	AuthTime      *jwt.NumericDate `json:"auth_time,omitempty"`
	Email         string           `json:"email,omitempty"`
	EmailVerified bool             `json:"email_verified,omitempty"`
	HostedDomain  string           `json:"hd,omitempty"`
	Name          string           `json:"name,omitempty"`
	GivenName     string           `json:"given_name,omitempty"`
	FamilyName    string           `json:"family_name,omitempty"`
	Picture       string           `json:"picture,omitempty"`
	Locale        string           `json:"locale,omitempty"`
}

// HasProfile reports whether the token carries the basic profile claims, as
// ID tokens do for the profile scope.
func (c *IDTokenClaims) HasProfile() bool {
	return c != nil && c.Name != ""
}

// ExpiresAt returns the expiry, or the zero time.
func (c *IDTokenClaims) ExpiresAt() time.Time {
	if c == nil || c.Expiry == nil {
		return time.Time{}
	}
	return c.Expiry.Time()
}

// IDTokenDecoder decodes ID tokens.  Tokens are decoded without verifying
// their signature unless the config enables verification: they were
// received directly from the token endpoint over TLS.
type IDTokenDecoder struct {
	verifier *oidc.IDTokenVerifier
	now      func() time.Time
}

// NewIDTokenDecoder creates a new IDTokenDecoder.  The context is used to
// fetch the provider's keys and must outlive the decoder.
func NewIDTokenDecoder(ctx context.Context, cfg *Config, client *http.Client) *IDTokenDecoder {
	d := &IDTokenDecoder{now: cfg.Now}
	if cfg.IDTokenVerification {
		keySet := oidc.NewRemoteKeySet(oidc.ClientContext(ctx, client), cfg.Endpoints.JWKSURL)
		d.verifier = oidc.NewVerifier(cfg.Endpoints.Issuer, keySet, &oidc.Config{
			ClientID:             cfg.audience(),
			SupportedSigningAlgs: supportedAlgNames(),
			Now:                  cfg.Now,
		})
	}
	return d
}

// Decode returns the claims of the ID token.
func (d *IDTokenDecoder) Decode(ctx context.Context, raw IDToken) (*IDTokenClaims, error) {
	const op = "IDTokenDecoder.Decode"
	if raw == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingIDToken)
	}
	var claims IDTokenClaims
	switch {
	case d.verifier != nil:
		tk, err := d.verifier.Verify(ctx, string(raw))
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrIDTokenVerification, err)
		}
		if err := tk.Claims(&claims); err != nil {
			return nil, fmt.Errorf("%s: unable to get claims: %w: %w", op, ErrIDTokenVerification, err)
		}
	default:
		if err := unverifiedClaims(raw, &claims); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%s: id_token has no subject: %w", op, ErrIDTokenVerification)
	}
	return &claims, nil
}

func unverifiedClaims(raw IDToken, claims interface{}) error {
	tk, err := jwt.ParseSigned(string(raw), supportedAlgs)
	if err != nil {
		return fmt.Errorf("unable to parse id_token: %w: %w", ErrIDTokenVerification, err)
	}
	if err := tk.UnsafeClaimsWithoutVerification(claims); err != nil {
		return fmt.Errorf("unable to get claims: %w: %w", ErrIDTokenVerification, err)
	}
	return nil
}

// idTokenExpiry returns the expiry of the ID token, or the zero time when
// it can not be determined.
func idTokenExpiry(raw IDToken) time.Time {
	if raw == "" {
		return time.Time{}
	}
	var claims IDTokenClaims
	if err := unverifiedClaims(raw, &claims); err != nil {
		return time.Time{}
	}
	return claims.ExpiresAt()
}

// DecodeStep returns the pipeline step which decodes the flow's ID token
// and records its claims and expiry.
func (d *IDTokenDecoder) DecodeStep() Step {
	return Step{
		Name: "decode-id-token",
		Run: func(ctx context.Context, f *AuthFlow) error {
			state := f.AuthState()
			if state == nil || state.Tokens == nil {
				return fmt.Errorf("decode-id-token: no tokens: %w", ErrUnexpected)
			}
			claims, err := d.Decode(ctx, state.Tokens.IDToken)
			if err != nil {
				return err
			}
			next := *state
			next.Tokens = state.Tokens.Clone()
			next.Tokens.IDTokenExpiry = liveIDTokenExpiry(claims.ExpiresAt(), d.now())
			next.Claims = claims
			f.setAuthState(&next)
			return nil
		},
	}
}
