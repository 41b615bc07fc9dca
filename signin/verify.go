// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-gsi/internal/strutils"
)

// VerifiedAccountDetailResult is the outcome of VerifyAccountDetails.  The
// tokens are not persisted and the current user is not changed.
type VerifiedAccountDetailResult struct {
	exchanger *TokenExchanger

	mu      sync.RWMutex
	tokens  *TokenSet
	details []VerifiedAccountDetail
}

// AccessToken returns the access token.
func (r *VerifiedAccountDetailResult) AccessToken() AccessToken {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tokens.AccessToken
}

// RefreshToken returns the refresh token.
func (r *VerifiedAccountDetailResult) RefreshToken() RefreshToken {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tokens.RefreshToken
}

// Expiry returns the expiry of the access token.
func (r *VerifiedAccountDetailResult) Expiry() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tokens.AccessTokenExpiry
}

// Tokens returns a copy of the tokens.
func (r *VerifiedAccountDetailResult) Tokens() *TokenSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tokens.Clone()
}

// VerifiedDetails returns the account details the user's grant verified.
func (r *VerifiedAccountDetailResult) VerifiedDetails() []VerifiedAccountDetail {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]VerifiedAccountDetail(nil), r.details...)
}

// Refresh refreshes the tokens of the result.
func (r *VerifiedAccountDetailResult) Refresh(ctx context.Context) error {
	const op = "VerifiedAccountDetailResult.Refresh"
	next, err := r.exchanger.Refresh(ctx, r.Tokens())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = next
	r.details = verifiedDetails(next.Scopes)
	return nil
}

// VerifyAccountDetails asks the user to let Google verify the account
// details.  The hint, typically an email address, preselects the account;
// it may be empty.
//
// Supported options:
//   - WithScopes
//   - WithExtraParams
func (c *Client) VerifyAccountDetails(ctx context.Context, details []RestrictedScopeKind, hint string, opt ...Option) (*VerifiedAccountDetailResult, error) {
	const op = "Client.VerifyAccountDetails"
	if len(details) == 0 {
		return nil, fmt.Errorf("%s: no account details: %w", op, ErrInvalidParameter)
	}
	scopes := make([]string, 0, len(details))
	for _, d := range details {
		s := d.Scope()
		if s == "" {
			return nil, fmt.Errorf("%s: account detail %d is not verifiable: %w", op, d, ErrInvalidParameter)
		}
		scopes = append(scopes, s)
	}
	opts := NewFlowOptions(true, opt...)
	opts = opts.withScopes(strutils.Union(opts.scopes, scopes))
	if hint != "" {
		opts = opts.withLoginHint(hint)
	}
	f, err := c.authorize(ctx, FlowVerify, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	res := NewPipeline(c.logger.Named("flow"),
		c.exchanger.ExchangeStep(),
		c.decoder.DecodeStep(),
	).Run(ctx, f)
	if res.Err != nil {
		return nil, fmt.Errorf("%s: %w", op, res.Err)
	}
	tokens := res.AuthState.Tokens
	return &VerifiedAccountDetailResult{
		exchanger: c.exchanger,
		tokens:    tokens.Clone(),
		details:   verifiedDetails(tokens.Scopes),
	}, nil
}
