// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/singleflight"

	"github.com/hashicorp/go-gsi/internal/strutils"
)

// Client signs users in with Google and manages the signed in user.
// Interactive flows are serialized: starting one cancels a flow which is
// still waiting for its redirect.
type Client struct {
	cfg        *Config
	store      CredentialStore
	agent      UserAgent
	httpClient *http.Client
	fetcher    Fetcher
	builder    *RequestBuilder
	processor  *ResponseProcessor
	exchanger  *TokenExchanger
	decoder    *IDTokenDecoder
	profiles   *ProfileResolver
	refreshes  singleflight.Group
	logger     hclog.Logger

	// backgroundCtx is the context used by the client for background
	// activities like fetching the provider's keys and refreshing tokens.
	backgroundCtx       context.Context
	backgroundCtxCancel context.CancelFunc

	mu          sync.Mutex
	currentUser *GoogleUser
	pending     *Session
}

type clientOptions struct {
	withLogger  hclog.Logger
	withFetcher Fetcher
}

func clientDefaults() clientOptions {
	return clientOptions{}
}

func getClientOpts(opt ...Option) clientOptions {
	opts := clientDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithFetcher provides an optional Fetcher for the client's user info and
// revocation requests.
func WithFetcher(f Fetcher) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withFetcher = f
		}
	}
}

// NewClient creates a new Client.  The agent may be nil for clients which
// only restore previous sign-ins.  The Client must be released with Done.
//
// Supported options:
//   - WithLogger
//   - WithFetcher
func NewClient(cfg *Config, store CredentialStore, agent UserAgent, opt ...Option) (*Client, error) {
	const op = "NewClient"
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if store == nil {
		return nil, fmt.Errorf("%s: credential store is nil: %w: %w", op, ErrInvalidConfiguration, ErrNilParameter)
	}
	opts := getClientOpts(opt...)
	logger := opts.withLogger
	if logger == nil {
		logger = cfg.logger()
	}
	httpClient, err := cfg.HTTPClient()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	fetcher := opts.withFetcher
	if fetcher == nil {
		if fetcher, err = NewHTTPFetcher(httpClient, WithLogger(logger.Named("fetch"))); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	builder, err := NewRequestBuilder(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	exchanger, err := NewTokenExchanger(cfg, httpClient)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	profiles, err := NewProfileResolver(cfg.Endpoints.UserInfoURL, fetcher)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	ctx = oidc.ClientContext(ctx, httpClient)
	return &Client{
		cfg:                 cfg,
		store:               store,
		agent:               agent,
		httpClient:          httpClient,
		fetcher:             fetcher,
		builder:             builder,
		processor:           NewResponseProcessor(cfg),
		exchanger:           exchanger,
		decoder:             NewIDTokenDecoder(ctx, cfg, httpClient),
		profiles:            profiles,
		logger:              logger,
		backgroundCtx:       ctx,
		backgroundCtxCancel: cancel,
	}, nil
}

// Done is the last call that must be made to a Client.  It cancels a
// pending flow and stops background activities.
func (c *Client) Done() {
	c.mu.Lock()
	pending := c.pending
	c.mu.Unlock()
	if pending != nil {
		pending.Cancel()
	}
	if c.backgroundCtxCancel != nil {
		c.backgroundCtxCancel()
	}
}

// Config returns the client's config.
func (c *Client) Config() *Config { return c.cfg }

// CurrentUser returns the signed in user, or nil.
func (c *Client) CurrentUser() *GoogleUser {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentUser
}

// SignIn signs a user in interactively.  The hint, typically an email
// address, preselects the account; it may be empty.
//
// Supported options:
//   - WithScopes
//   - WithExtraParams
//   - WithClaims
func (c *Client) SignIn(ctx context.Context, hint string, opt ...Option) (*GoogleUser, error) {
	const op = "Client.SignIn"
	opts := NewFlowOptions(true, opt...)
	if hint != "" {
		opts = opts.withLoginHint(hint)
	}
	if err := rejectRestrictedScopes(opts.scopes); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	f, err := c.authorize(ctx, FlowSignIn, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var user *GoogleUser
	res := c.pipeline(c.persistStep(&user)).Run(ctx, f)
	if res.Err != nil {
		return nil, fmt.Errorf("%s: %w", op, res.Err)
	}
	c.logger.Info("signed in", "user_id", user.UserID())
	return user, nil
}

// RestorePreviousSignIn signs in the user of the stored tokens without user
// interaction.  Tokens which expire within
// MinimumRestoredAccessTokenTimeToExpire are refreshed first.  Stored
// tokens the provider no longer accepts are cleared.
func (c *Client) RestorePreviousSignIn(ctx context.Context) (*GoogleUser, error) {
	const op = "Client.RestorePreviousSignIn"
	tokens, err := c.loadTokens()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var user *GoogleUser
	res := c.pipeline(c.persistStep(&user)).Run(ctx, newRestoredFlow(tokens, c.cfg.EMMSupport))
	if res.Err != nil {
		if errors.Is(res.Err, ErrRefreshTokenInvalid) {
			if err := c.store.Clear(); err != nil {
				c.logger.Error("unable to clear invalidated tokens", "error", err)
			}
		}
		return nil, fmt.Errorf("%s: %w", op, res.Err)
	}
	c.logger.Info("restored previous sign-in", "user_id", user.UserID())
	return user, nil
}

// HasPreviousSignIn reports whether the store holds tokens of a previous
// sign-in.
func (c *Client) HasPreviousSignIn() bool {
	_, err := c.loadTokens()
	return err == nil
}

func (c *Client) loadTokens() (*TokenSet, error) {
	tokens, err := c.store.Load()
	switch {
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrKeychain, err)
	case !tokens.Valid():
		return nil, ErrNoAuthInKeychain
	case tokens.ClientID != "" && tokens.ClientID != c.cfg.ClientID:
		return nil, fmt.Errorf("stored tokens belong to another client: %w", ErrNoAuthInKeychain)
	}
	return tokens, nil
}

// AddScopes asks the current user to grant additional scopes.  The current
// user is updated in place and returned.
//
// Supported options:
//   - WithExtraParams
//   - WithClaims
func (c *Client) AddScopes(ctx context.Context, scopes []string, opt ...Option) (*GoogleUser, error) {
	const op = "Client.AddScopes"
	user := c.CurrentUser()
	if user == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNoCurrentUser)
	}
	if err := rejectRestrictedScopes(scopes); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	all, err := ResolveScopes(user.GrantedScopes(), scopes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := NewFlowOptions(true, opt...).withScopes(all).withLoginHint(user.Email())
	f, err := c.authorize(ctx, FlowAddScopes, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	res := c.pipeline(c.addScopesStep(user)).Run(ctx, f)
	if res.Err != nil {
		return nil, fmt.Errorf("%s: %w", op, res.Err)
	}
	c.logger.Info("added scopes", "user_id", user.UserID(), "scopes", scopes)
	return user, nil
}

// SignOut forgets the current user and clears the stored tokens.  The
// tokens remain valid at the provider; see Disconnect.
func (c *Client) SignOut() error {
	const op = "Client.SignOut"
	c.mu.Lock()
	c.currentUser = nil
	c.mu.Unlock()
	if err := c.store.Clear(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrKeychain, err)
	}
	return nil
}

// Disconnect revokes the tokens of the current or stored user and signs
// out.  Local state is cleared even when the revocation fails; the
// revocation failure is returned wrapping ErrRevoke.
func (c *Client) Disconnect(ctx context.Context) error {
	const op = "Client.Disconnect"
	var result *multierror.Error
	var tokens *TokenSet
	if u := c.CurrentUser(); u != nil {
		tokens = u.Tokens()
	}
	if tokens == nil {
		stored, err := c.store.Load()
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%w: %w", ErrKeychain, err))
		}
		tokens = stored
	}
	if tokens.Valid() {
		token := string(tokens.RefreshToken)
		if token == "" {
			token = string(tokens.AccessToken)
		}
		if err := c.revoke(ctx, token); err != nil {
			result = multierror.Append(result, fmt.Errorf("%w: %w", ErrRevoke, err))
		}
	}
	if err := c.SignOut(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	c.logger.Info("disconnected")
	return nil
}

func (c *Client) revoke(ctx context.Context, token string) error {
	if c.cfg.Endpoints.RevokeURL == "" {
		return fmt.Errorf("no revocation endpoint: %w", ErrInvalidConfiguration)
	}
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoints.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	_, err = c.fetcher.Fetch(ctx, req, nil)
	return err
}

// HandleURL delivers a redirect URL to the pending flow.  It returns true
// when the URL was the redirect the flow was waiting for.
func (c *Client) HandleURL(u *url.URL) bool {
	c.mu.Lock()
	pending := c.pending
	c.mu.Unlock()
	if pending == nil {
		return false
	}
	return pending.Resume(u)
}

// authorize runs the external user agent session for the options and
// returns the flow to run through the pipeline.  Errors returned directly
// are configuration errors; authorization failures are carried by the flow.
func (c *Client) authorize(ctx context.Context, kind FlowKind, opts FlowOptions) (*AuthFlow, error) {
	if opts.interactive && c.agent == nil {
		return nil, fmt.Errorf("no user agent for an interactive flow: %w", ErrInvalidConfiguration)
	}
	req, err := c.builder.Build(opts)
	if err != nil {
		return nil, err
	}
	session := NewSession(c.agent, WithLogger(c.logger.Named("session")), withSessionEMMSupport(c.cfg.EMMSupport))
	c.mu.Lock()
	prev := c.pending
	c.pending = session
	c.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}

	resp, sessionErr := session.Start(ctx, req)

	c.mu.Lock()
	if c.pending == session {
		c.pending = nil
	}
	c.mu.Unlock()

	f := c.processor.Process(resp, sessionErr, kind, opts.interactive)
	if f.PasscodeInfoRequired() && !opts.continuation {
		c.logger.Debug("provider requires emm passcode info, continuing", "flow", kind.String())
		return c.authorize(ctx, kind, opts.passcodeContinuation())
	}
	return f, nil
}

// pipeline returns the sign-in pipeline ending with the final step.
func (c *Client) pipeline(final Step) *Pipeline {
	steps := []Step{c.exchanger.ExchangeStep(), c.decoder.DecodeStep()}
	if c.cfg.BasicProfile {
		steps = append(steps, c.profiles.ResolveStep())
	}
	steps = append(steps, final)
	return NewPipeline(c.logger.Named("flow"), steps...)
}

// persistStep saves the flow's tokens and makes its user the current user.
func (c *Client) persistStep(user **GoogleUser) Step {
	return Step{
		Name: "persist",
		Run: func(_ context.Context, f *AuthFlow) error {
			state := f.AuthState()
			if err := c.store.Save(state.Tokens); err != nil {
				return fmt.Errorf("unable to save tokens: %w: %w", ErrKeychain, err)
			}
			u, err := c.newUser(state, f.Profile())
			if err != nil {
				return err
			}
			c.mu.Lock()
			c.currentUser = u
			c.mu.Unlock()
			*user = u
			return nil
		},
	}
}

// addScopesStep updates the user with the flow's tokens.
func (c *Client) addScopesStep(user *GoogleUser) Step {
	return Step{
		Name: "persist",
		Run: func(_ context.Context, f *AuthFlow) error {
			state := f.AuthState()
			if state.Claims.Subject != user.UserID() {
				return fmt.Errorf("authorized %q: %w", state.Claims.Subject, ErrMismatchedUser)
			}
			tokens := state.Tokens.Clone()
			tokens.Scopes = strutils.Union(user.GrantedScopes(), tokens.Scopes)
			if err := c.store.Save(tokens); err != nil {
				return fmt.Errorf("unable to save tokens: %w: %w", ErrKeychain, err)
			}
			next := *state
			next.Tokens = tokens
			user.update(&next, f.Profile())
			user.guard.replace(tokens)
			return nil
		},
	}
}

func (c *Client) newUser(state *AuthState, profile *ProfileData) (*GoogleUser, error) {
	var u *GoogleUser
	guard, err := NewRefreshGuard(
		c.cfg.ClientID+"/"+state.Claims.Subject,
		state.Tokens,
		c.exchanger,
		WithLogger(c.logger.Named("refresh")),
		WithNow(c.cfg.Now),
		WithExpirySkew(c.cfg.expirySkew()),
		WithRefreshGroup(&c.refreshes),
		WithOnRefreshed(func(t *TokenSet) {
			if c.CurrentUser() != u {
				return
			}
			if err := c.store.Save(t); err != nil {
				c.logger.Error("unable to save refreshed tokens", "error", err)
			}
		}),
		WithOnInvalidated(func(error) {
			c.mu.Lock()
			current := c.currentUser == u
			if current {
				c.currentUser = nil
			}
			c.mu.Unlock()
			if !current {
				return
			}
			if err := c.store.Clear(); err != nil {
				c.logger.Error("unable to clear invalidated tokens", "error", err)
			}
		}),
	)
	if err != nil {
		return nil, err
	}
	u = newGoogleUser(c.backgroundCtx, c.cfg, state, profile, guard)
	return u, nil
}
