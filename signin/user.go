// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"

	"github.com/hashicorp/go-gsi/internal/strutils"
)

// GoogleUser is a signed in user.  It stays valid from sign-in to sign-out
// and across AddScopes, which update it in place.
type GoogleUser struct {
	ctx            context.Context
	userID         string
	serverClientID string
	openIDRealm    string
	guard          *RefreshGuard

	mu             sync.RWMutex
	email          string
	hostedDomain   string
	profile        *ProfileData
	grantedScopes  []string
	serverAuthCode string
}

func newGoogleUser(ctx context.Context, cfg *Config, state *AuthState, profile *ProfileData, guard *RefreshGuard) *GoogleUser {
	u := &GoogleUser{
		ctx:            ctx,
		userID:         state.Claims.Subject,
		serverClientID: cfg.ServerClientID,
		openIDRealm:    cfg.OpenIDRealm,
		guard:          guard,
	}
	u.update(state, profile)
	return u
}

// update applies a newer auth state.  Granted scopes only ever grow.
func (u *GoogleUser) update(state *AuthState, profile *ProfileData) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if state.Claims != nil {
		u.email = state.Claims.Email
		u.hostedDomain = state.Claims.HostedDomain
	}
	if profile != nil {
		u.profile = profile
		if u.email == "" {
			u.email = profile.Email
		}
	}
	u.grantedScopes = strutils.Union(u.grantedScopes, state.Tokens.Scopes)
	if state.ServerAuthCode != "" {
		u.serverAuthCode = state.ServerAuthCode
	}
}

// UserID returns the user's stable identifier, the ID token subject.
func (u *GoogleUser) UserID() string { return u.userID }

// ServerClientID returns the client id of the application's backend.
func (u *GoogleUser) ServerClientID() string { return u.serverClientID }

// OpenIDRealm returns the OpenID 2.0 realm.
func (u *GoogleUser) OpenIDRealm() string { return u.openIDRealm }

// Email returns the user's email address.
func (u *GoogleUser) Email() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.email
}

// HostedDomain returns the user's Google Workspace domain, if any.
func (u *GoogleUser) HostedDomain() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.hostedDomain
}

// Profile returns the user's basic profile, which is nil unless the basic
// profile was requested.
func (u *GoogleUser) Profile() *ProfileData {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.profile == nil {
		return nil
	}
	p := *u.profile
	return &p
}

// GrantedScopes returns the scopes granted to the client.
func (u *GoogleUser) GrantedScopes() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return append([]string(nil), u.grantedScopes...)
}

// ServerAuthCode returns the single use code for the application's backend
// from the latest sign-in, if any.
func (u *GoogleUser) ServerAuthCode() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.serverAuthCode
}

// Tokens returns a copy of the current tokens without refreshing them.  It
// returns nil once the credential was invalidated.
func (u *GoogleUser) Tokens() *TokenSet {
	return u.guard.Tokens()
}

// DoWithFreshTokens returns tokens which are not about to expire,
// refreshing them first when needed.
func (u *GoogleUser) DoWithFreshTokens(ctx context.Context) (*TokenSet, error) {
	return u.guard.WithFreshTokens(ctx)
}

// TokenSource returns an oauth2.TokenSource of fresh access tokens.
func (u *GoogleUser) TokenSource() oauth2.TokenSource {
	return &userTokenSource{user: u}
}

// HTTPClient returns a client authorizing its requests with fresh access
// tokens.  The client transport is taken from the context as with
// oauth2.NewClient.
func (u *GoogleUser) HTTPClient(ctx context.Context) *http.Client {
	return oauth2.NewClient(ctx, u.TokenSource())
}

// Authorizer returns an Authorizer adding a fresh access token to requests.
func (u *GoogleUser) Authorizer() Authorizer {
	return AuthorizerFunc(func(ctx context.Context, req *http.Request) error {
		t, err := u.DoWithFreshTokens(ctx)
		if err != nil {
			return err
		}
		return BearerAuthorizer(t.AccessToken).Authorize(ctx, req)
	})
}

type userTokenSource struct {
	user *GoogleUser
}

// Token satisfies the oauth2.TokenSource interface.
func (s *userTokenSource) Token() (*oauth2.Token, error) {
	const op = "GoogleUser.Token"
	t, err := s.user.DoWithFreshTokens(s.user.ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	tk := &oauth2.Token{
		AccessToken:  string(t.AccessToken),
		TokenType:    "Bearer",
		RefreshToken: string(t.RefreshToken),
		Expiry:       t.AccessTokenExpiry,
	}
	return tk.WithExtra(map[string]interface{}{"id_token": string(t.IDToken)}), nil
}
