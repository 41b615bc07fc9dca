// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"fmt"
	"maps"
	"net/url"
	"runtime"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"
	"golang.org/x/oauth2"
)

// SDKVersion is sent to the provider with every authorization request.
const SDKVersion = "1.0.0"

// Authorization request parameters.
const (
	accessTypeParam           = "access_type"
	includeGrantedScopesParam = "include_granted_scopes"
	loginHintParam            = "login_hint"
	hostedDomainParam         = "hd"
	audienceParam             = "audience"
	openIDRealmParam          = "openid.realm"
	sdkVersionParam           = "gpsdk"
	environmentParam          = "gidenv"
	claimsParam               = "claims"
	codeChallengeParam        = "code_challenge"
	codeChallengeMethodParam  = "code_challenge_method"
)

// reservedParams may not be overridden by caller supplied extra parameters.
var reservedParams = map[string]bool{
	"client_id":              true,
	"redirect_uri":           true,
	"response_type":          true,
	"scope":                  true,
	"state":                  true,
	accessTypeParam:          true,
	codeChallengeParam:       true,
	codeChallengeMethodParam: true,
}

// FlowOptions are the immutable parameters of one authorization attempt.
// Use NewFlowOptions to create them.
type FlowOptions struct {
	scopes                  []string
	loginHint               string
	extraParams             map[string]string
	claims                  []Claim
	interactive             bool
	continuation            bool
	emmPasscodeInfoRequired bool
}

// flowOptions is the set of available options for a flow
type flowOptions struct {
	withScopes      []string
	withLoginHint   string
	withExtraParams map[string]string
	withClaims      []Claim
}

func flowDefaults() flowOptions {
	return flowOptions{}
}

func getFlowOpts(opt ...Option) flowOptions {
	opts := flowDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// NewFlowOptions creates the options of an authorization attempt.
//
// Supported options:
//   - WithScopes
//   - WithLoginHint
//   - WithExtraParams
//   - WithClaims
func NewFlowOptions(interactive bool, opt ...Option) FlowOptions {
	opts := getFlowOpts(opt...)
	return FlowOptions{
		scopes:      append([]string(nil), opts.withScopes...),
		loginHint:   opts.withLoginHint,
		extraParams: maps.Clone(opts.withExtraParams),
		claims:      append([]Claim(nil), opts.withClaims...),
		interactive: interactive,
	}
}

// Scopes returns a copy of the requested scopes.
func (o FlowOptions) Scopes() []string { return append([]string(nil), o.scopes...) }

// LoginHint returns the login hint.
func (o FlowOptions) LoginHint() string { return o.loginHint }

// ExtraParams returns a copy of the extra authorization parameters.
func (o FlowOptions) ExtraParams() map[string]string { return maps.Clone(o.extraParams) }

// Claims returns a copy of the requested claims.
func (o FlowOptions) Claims() []Claim { return append([]Claim(nil), o.claims...) }

// Interactive reports whether the user may be shown an authorization page.
func (o FlowOptions) Interactive() bool { return o.interactive }

// Continuation reports whether the options continue a previous attempt.
func (o FlowOptions) Continuation() bool { return o.continuation }

// EMMPasscodeInfoRequired reports whether the provider asked for the
// device passcode info.
func (o FlowOptions) EMMPasscodeInfoRequired() bool { return o.emmPasscodeInfoRequired }

// passcodeContinuation derives the options of the continuation attempt
// which sends the EMM passcode info.
func (o FlowOptions) passcodeContinuation() FlowOptions {
	c := o
	c.scopes = o.Scopes()
	c.extraParams = o.ExtraParams()
	c.claims = o.Claims()
	c.continuation = true
	c.emmPasscodeInfoRequired = true
	return c
}

// withScopes derives options with the scopes replaced.
func (o FlowOptions) withScopes(scopes []string) FlowOptions {
	c := o
	c.scopes = append([]string(nil), scopes...)
	c.extraParams = o.ExtraParams()
	c.claims = o.Claims()
	return c
}

// withLoginHint derives options with the login hint replaced.
func (o FlowOptions) withLoginHint(hint string) FlowOptions {
	c := o.withScopes(o.scopes)
	c.loginHint = hint
	return c
}

// AuthorizationRequest is a built authorization request.  Its state and PKCE
// verifier are generated once and reused unchanged by the matching token
// exchange.
type AuthorizationRequest struct {
	state       string
	verifier    *CodeVerifier
	scopes      []string
	redirectURL string
	params      map[string]string
	authURL     string
	options     FlowOptions
}

// State returns the opaque state value.
func (r *AuthorizationRequest) State() string { return r.state }

// PKCEVerifier returns the PKCE verifier.
func (r *AuthorizationRequest) PKCEVerifier() *CodeVerifier { return r.verifier.Copy() }

// Scopes returns the requested scopes.
func (r *AuthorizationRequest) Scopes() []string { return append([]string(nil), r.scopes...) }

// RedirectURL returns the redirect URL the provider returns the user to.
func (r *AuthorizationRequest) RedirectURL() string { return r.redirectURL }

// Params returns the additional authorization parameters.
func (r *AuthorizationRequest) Params() map[string]string { return maps.Clone(r.params) }

// AuthURL returns the URL to present to the user.
func (r *AuthorizationRequest) AuthURL() string { return r.authURL }

// Options returns the options the request was built from.
func (r *AuthorizationRequest) Options() FlowOptions { return r.options }

// RequestBuilder builds authorization requests for a Config.
type RequestBuilder struct {
	cfg    *Config
	logger hclog.Logger
}

// NewRequestBuilder creates a new RequestBuilder.
func NewRequestBuilder(cfg *Config) (*RequestBuilder, error) {
	const op = "NewRequestBuilder"
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &RequestBuilder{cfg: cfg, logger: cfg.logger().Named("request")}, nil
}

// Build creates the authorization request for the options.
func (b *RequestBuilder) Build(opts FlowOptions) (*AuthorizationRequest, error) {
	const op = "RequestBuilder.Build"
	state, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate state: %w", op, err)
	}
	verifier, err := NewCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	claims, err := ClaimsJSON(opts.claims)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	params := make(map[string]string, len(opts.extraParams)+8)
	for k, v := range opts.extraParams {
		if reservedParams[k] {
			b.logger.Warn("ignoring reserved extra parameter", "param", k)
			continue
		}
		params[k] = v
	}
	params[includeGrantedScopesParam] = "true"
	params[sdkVersionParam] = "gid-" + SDKVersion
	params[environmentParam] = runtime.GOOS
	if opts.loginHint != "" {
		params[loginHintParam] = opts.loginHint
	}
	if b.cfg.HostedDomain != "" {
		params[hostedDomainParam] = b.cfg.HostedDomain
	}
	if b.cfg.ServerClientID != "" {
		params[audienceParam] = b.cfg.ServerClientID
	}
	if b.cfg.OpenIDRealm != "" {
		params[openIDRealmParam] = b.cfg.OpenIDRealm
	}
	if claims != "" {
		params[claimsParam] = claims
		b.logger.Debug("requesting claims", "claims", claimNames(opts.claims))
	}
	for k, v := range emmParams(b.cfg, opts.emmPasscodeInfoRequired) {
		params[k] = v
	}

	req := &AuthorizationRequest{
		state:       state,
		verifier:    verifier,
		scopes:      requestScopes(opts.scopes, b.cfg.BasicProfile),
		redirectURL: b.cfg.RedirectURL,
		params:      params,
		options:     opts,
	}

	authOpts := make([]oauth2.AuthCodeOption, 0, len(params)+3)
	for k, v := range params {
		authOpts = append(authOpts, oauth2.SetAuthURLParam(k, v))
	}
	// applied last so nothing above can replace them
	authOpts = append(authOpts,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam(codeChallengeParam, verifier.Challenge()),
		oauth2.SetAuthURLParam(codeChallengeMethodParam, string(verifier.Method())),
	)
	req.authURL = oauth2Config(b.cfg, req.redirectURL, req.scopes).AuthCodeURL(state, authOpts...)
	if _, err := url.Parse(req.authURL); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidConfiguration, err)
	}
	b.logger.Debug("built authorization request", "scopes", req.scopes, "interactive", opts.interactive, "continuation", opts.continuation)
	return req, nil
}

// oauth2Config returns the oauth2 config of the client.  Client credentials
// are always sent in the request body, which is how installed applications
// authenticate to the token endpoint.
func oauth2Config(cfg *Config, redirectURL string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: string(cfg.ClientSecret),
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.Endpoints.AuthURL,
			TokenURL:  cfg.Endpoints.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirectURL,
		Scopes:      scopes,
	}
}
