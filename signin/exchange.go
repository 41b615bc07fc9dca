// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

const (
	invalidGrantCode = "invalid_grant"
	serverCodeParam  = "server_code"
)

// TokenExchanger exchanges authorization codes and refresh tokens at the
// provider's token endpoint.
type TokenExchanger struct {
	cfg    *Config
	client *http.Client
	logger hclog.Logger
}

// NewTokenExchanger creates a new TokenExchanger.
func NewTokenExchanger(cfg *Config, client *http.Client) (*TokenExchanger, error) {
	const op = "NewTokenExchanger"
	if cfg == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if client == nil {
		return nil, fmt.Errorf("%s: http client is nil: %w", op, ErrNilParameter)
	}
	return &TokenExchanger{cfg: cfg, client: client, logger: cfg.logger().Named("exchange")}, nil
}

// MaybeFetchToken advances the flow's auth state: a pending authorization
// code is exchanged, and restored tokens which expire within
// MinimumRestoredAccessTokenTimeToExpire are refreshed.  It does nothing
// when the flow already carries an error or holds fresh tokens.
func (e *TokenExchanger) MaybeFetchToken(ctx context.Context, f *AuthFlow) error {
	const op = "TokenExchanger.MaybeFetchToken"
	if f.Err() != nil {
		return nil
	}
	state := f.AuthState()
	if state == nil {
		return fmt.Errorf("%s: flow has no auth state: %w", op, ErrUnexpected)
	}
	switch state.Kind {
	case AuthStatePendingExchange:
		tokens, serverCode, err := e.Exchange(ctx, state.Code, state.Request)
		if err != nil {
			return err
		}
		f.setAuthState(&AuthState{
			Kind:           AuthStateAuthorized,
			Request:        state.Request,
			Tokens:         tokens,
			ServerAuthCode: serverCode,
		})
	case AuthStateRestored:
		if !state.Tokens.ExpiresWithin(e.cfg.Now(), MinimumRestoredAccessTokenTimeToExpire) {
			return nil
		}
		tokens, err := e.Refresh(ctx, state.Tokens)
		if err != nil {
			return err
		}
		f.setAuthState(&AuthState{Kind: AuthStateAuthorized, Tokens: tokens})
	}
	return nil
}

// ExchangeStep returns the pipeline step running MaybeFetchToken.
func (e *TokenExchanger) ExchangeStep() Step {
	return Step{Name: "token-exchange", Run: e.MaybeFetchToken}
}

// Exchange exchanges the authorization code of the request.  It returns
// the tokens and the optional server auth code.
func (e *TokenExchanger) Exchange(ctx context.Context, code string, req *AuthorizationRequest) (*TokenSet, string, error) {
	const op = "TokenExchanger.Exchange"
	switch {
	case code == "":
		return nil, "", fmt.Errorf("%s: %w", op, ErrMissingAuthCode)
	case req == nil:
		return nil, "", fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	opts := []oauth2.AuthCodeOption{
		oauth2.VerifierOption(req.verifier.Verifier()),
	}
	params, err := e.tokenParams(ctx, req.options.emmPasscodeInfoRequired)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}
	for k, v := range params {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}

	tk, err := oauth2Config(e.cfg, req.redirectURL, req.scopes).Exchange(e.clientContext(ctx, nil), code, opts...)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, e.tokenError(err, false))
	}
	tokens, err := e.tokenSet(tk, nil, req.scopes)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}
	serverCode, _ := tk.Extra(serverCodeParam).(string)
	e.logger.Debug("exchanged authorization code", "scopes", tokens.Scopes, "server_auth_code", serverCode != "")
	return tokens, serverCode, nil
}

// Refresh exchanges the refresh token of the set for new tokens.  Values
// missing from the response are carried over from the set.  An error
// wrapping ErrRefreshTokenInvalid is returned when the provider rejects the
// refresh token itself.
func (e *TokenExchanger) Refresh(ctx context.Context, t *TokenSet) (*TokenSet, error) {
	const op = "TokenExchanger.Refresh"
	switch {
	case t == nil:
		return nil, fmt.Errorf("%s: token set is nil: %w", op, ErrNilParameter)
	case t.RefreshToken == "":
		return nil, fmt.Errorf("%s: token set has no refresh token: %w", op, ErrInvalidParameter)
	}
	params := emmParams(e.cfg, false)
	src := oauth2Config(e.cfg, "", t.Scopes).TokenSource(
		e.clientContext(ctx, params),
		&oauth2.Token{RefreshToken: string(t.RefreshToken)},
	)
	tk, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, e.tokenError(err, true))
	}
	tokens, err := e.tokenSet(tk, t, t.Scopes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	e.logger.Debug("refreshed tokens", "expiry", tokens.AccessTokenExpiry)
	return tokens, nil
}

// tokenParams returns the additional token request parameters.
func (e *TokenExchanger) tokenParams(ctx context.Context, passcodeInfoRequired bool) (map[string]string, error) {
	params := emmParams(e.cfg, passcodeInfoRequired)
	assertion, err := attestationParams(ctx, e.cfg, e.logger)
	if err != nil {
		return nil, err
	}
	if len(assertion) > 0 {
		if params == nil {
			params = map[string]string{}
		}
		maps.Copy(params, assertion)
	}
	return params, nil
}

// clientContext returns a context carrying the http client used by oauth2.
// When params are provided they are added to every form posted by the
// client.
func (e *TokenExchanger) clientContext(ctx context.Context, params map[string]string) context.Context {
	client := e.client
	if len(params) > 0 {
		base := client.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		c := *client
		c.Transport = &formParamsTransport{base: base, params: params}
		client = &c
	}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

// tokenSet converts an oauth2 token.  prev supplies values the response
// omits.
func (e *TokenExchanger) tokenSet(tk *oauth2.Token, prev *TokenSet, requested []string) (*TokenSet, error) {
	ts := &TokenSet{
		AccessToken:       AccessToken(tk.AccessToken),
		AccessTokenExpiry: tk.Expiry,
		RefreshToken:      RefreshToken(tk.RefreshToken),
		ClientID:          e.cfg.ClientID,
		Scopes:            append([]string(nil), requested...),
	}
	if idt, ok := tk.Extra("id_token").(string); ok && idt != "" {
		ts.IDToken = IDToken(idt)
		ts.IDTokenExpiry = idTokenExpiry(ts.IDToken)
	}
	if scope, ok := tk.Extra("scope").(string); ok && strings.TrimSpace(scope) != "" {
		ts.Scopes = strings.Fields(scope)
	}
	if prev != nil {
		if ts.RefreshToken == "" {
			ts.RefreshToken = prev.RefreshToken
		}
		if ts.IDToken == "" {
			ts.IDToken = prev.IDToken
			ts.IDTokenExpiry = liveIDTokenExpiry(prev.IDTokenExpiry, e.cfg.Now())
		}
	}
	if !ts.Valid() {
		return nil, ErrMissingTokens
	}
	return ts, nil
}

// tokenError classifies a token endpoint error.  EMM codes map to their EMM
// kind; OAuth errors become a ProviderError; anything else is a network
// error.
func (e *TokenExchanger) tokenError(err error, refresh bool) error {
	var rErr *oauth2.RetrieveError
	if !errors.As(err, &rErr) {
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	code, desc, uri := rErr.ErrorCode, rErr.ErrorDescription, rErr.ErrorURI
	if code == "" {
		code, desc = errorFromBody(rErr.Body)
	}
	if emmErr := emmError(e.cfg.EMMSupport, code, desc); emmErr != nil {
		return emmErr
	}
	if code == "" {
		status := 0
		if rErr.Response != nil {
			status = rErr.Response.StatusCode
		}
		return fmt.Errorf("%w: %w", ErrNetwork, &StatusError{StatusCode: status, Body: rErr.Body})
	}
	pErr := &ProviderError{Code: code, Description: desc, URI: uri}
	if refresh && code == invalidGrantCode {
		return fmt.Errorf("%w: %w", ErrRefreshTokenInvalid, pErr)
	}
	return pErr
}

// errorFromBody reads the error of a JSON error body which oauth2 could not
// parse, such as {"error":{"status":"...","message":"..."}}.
func errorFromBody(body []byte) (string, string) {
	if !gjson.ValidBytes(body) {
		return "", ""
	}
	errRes := gjson.GetBytes(body, "error")
	if errRes.IsObject() {
		return errRes.Get("status").String(), errRes.Get("message").String()
	}
	return errRes.String(), gjson.GetBytes(body, "error_description").String()
}

// formParamsTransport adds parameters to form encoded POST requests.
type formParamsTransport struct {
	base   http.RoundTripper
	params map[string]string
}

// RoundTrip satisfies the http.RoundTripper interface.
func (t *formParamsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ct, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if req.Method != http.MethodPost || req.Body == nil || ct != "application/x-www-form-urlencoded" {
		return t.base.RoundTrip(req)
	}
	body, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, err
	}
	vals, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, err
	}
	for k, v := range t.params {
		vals.Set(k, v)
	}
	encoded := vals.Encode()
	r := req.Clone(req.Context())
	r.Body = io.NopCloser(strings.NewReader(encoded))
	r.ContentLength = int64(len(encoded))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(encoded)), nil
	}
	return t.base.RoundTrip(r)
}
