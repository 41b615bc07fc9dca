// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(opts)
	}
}

// WithLogger provides an optional logger for: Config, Client, Session,
// RefreshGuard, HTTPFetcher
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withLogger = l
		case *clientOptions:
			v.withLogger = l
		case *sessionOptions:
			v.withLogger = l
		case *refreshGuardOptions:
			v.withLogger = l
		case *fetcherOptions:
			v.withLogger = l
		}
	}
}

// WithNow provides an optional func for determining what the current time it
// is for: Config, RefreshGuard
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withNowFunc = now
		case *refreshGuardOptions:
			v.withNowFunc = now
		}
	}
}

// WithExpirySkew provides an optional expiry skew duration for: Config,
// RefreshGuard.  The skew is the margin before expiry at which a token is
// treated as expired.
func WithExpirySkew(d time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withExpirySkew = d
		case *refreshGuardOptions:
			v.withExpirySkew = d
		}
	}
}

// WithScopes provides optional additional scopes for: SignIn, AddScopes,
// VerifyAccountDetails, NewFlowOptions
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if v, ok := o.(*flowOptions); ok {
			v.withScopes = append(v.withScopes, scopes...)
		}
	}
}

// WithLoginHint provides an optional login hint (typically an email address)
// for: SignIn, VerifyAccountDetails, NewFlowOptions
func WithLoginHint(hint string) Option {
	return func(o interface{}) {
		if v, ok := o.(*flowOptions); ok {
			v.withLoginHint = hint
		}
	}
}

// WithExtraParams provides optional additional authorization request
// parameters for: SignIn, AddScopes, VerifyAccountDetails, NewFlowOptions
func WithExtraParams(params map[string]string) Option {
	return func(o interface{}) {
		if v, ok := o.(*flowOptions); ok {
			if v.withExtraParams == nil {
				v.withExtraParams = make(map[string]string, len(params))
			}
			for k, val := range params {
				v.withExtraParams[k] = val
			}
		}
	}
}

// WithClaims provides optional claims to request for the ID token for:
// SignIn, AddScopes, NewFlowOptions
func WithClaims(claims ...Claim) Option {
	return func(o interface{}) {
		if v, ok := o.(*flowOptions); ok {
			v.withClaims = append(v.withClaims, claims...)
		}
	}
}
