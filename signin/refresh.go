// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"
)

// Refresher exchanges a refresh token for new tokens.  The TokenExchanger
// is a Refresher.
type Refresher interface {
	Refresh(ctx context.Context, t *TokenSet) (*TokenSet, error)
}

// RefreshGuard hands out fresh tokens for one credential, refreshing them
// when they are about to expire.  Concurrent callers share a single
// outstanding refresh.
type RefreshGuard struct {
	key           string
	refresher     Refresher
	group         *singleflight.Group
	now           func() time.Time
	skew          time.Duration
	onRefreshed   func(*TokenSet)
	onInvalidated func(error)
	logger        hclog.Logger

	mu     sync.RWMutex
	tokens *TokenSet
	// gen counts replacements by a new exchange
	gen uint64
}

type refreshGuardOptions struct {
	withLogger        hclog.Logger
	withNowFunc       func() time.Time
	withExpirySkew    time.Duration
	withGroup         *singleflight.Group
	withOnRefreshed   func(*TokenSet)
	withOnInvalidated func(error)
}

func refreshGuardDefaults() refreshGuardOptions {
	return refreshGuardOptions{
		withLogger:        hclog.NewNullLogger(),
		withNowFunc:       time.Now,
		withExpirySkew:    DefaultExpirySkew,
		withOnRefreshed:   func(*TokenSet) {},
		withOnInvalidated: func(error) {},
	}
}

func getRefreshGuardOpts(opt ...Option) refreshGuardOptions {
	opts := refreshGuardDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithRefreshGroup provides an optional singleflight group shared by the
// guards of every credential of a client.
func WithRefreshGroup(g *singleflight.Group) Option {
	return func(o interface{}) {
		if o, ok := o.(*refreshGuardOptions); ok && g != nil {
			o.withGroup = g
		}
	}
}

// WithOnRefreshed provides an optional func called with the new tokens
// after every successful refresh.
func WithOnRefreshed(fn func(*TokenSet)) Option {
	return func(o interface{}) {
		if o, ok := o.(*refreshGuardOptions); ok && fn != nil {
			o.withOnRefreshed = fn
		}
	}
}

// WithOnInvalidated provides an optional func called when the provider
// rejects the refresh token and the credential is cleared.
func WithOnInvalidated(fn func(error)) Option {
	return func(o interface{}) {
		if o, ok := o.(*refreshGuardOptions); ok && fn != nil {
			o.withOnInvalidated = fn
		}
	}
}

// NewRefreshGuard creates a guard of the tokens identified by key.
//
// Supported options:
//   - WithLogger
//   - WithNow
//   - WithExpirySkew
//   - WithRefreshGroup
//   - WithOnRefreshed
//   - WithOnInvalidated
func NewRefreshGuard(key string, tokens *TokenSet, r Refresher, opt ...Option) (*RefreshGuard, error) {
	const op = "NewRefreshGuard"
	switch {
	case key == "":
		return nil, fmt.Errorf("%s: key is empty: %w", op, ErrInvalidParameter)
	case tokens == nil:
		return nil, fmt.Errorf("%s: tokens are nil: %w", op, ErrNilParameter)
	case r == nil:
		return nil, fmt.Errorf("%s: refresher is nil: %w", op, ErrNilParameter)
	}
	opts := getRefreshGuardOpts(opt...)
	g := &RefreshGuard{
		key:           key,
		refresher:     r,
		group:         opts.withGroup,
		now:           opts.withNowFunc,
		skew:          opts.withExpirySkew,
		onRefreshed:   opts.withOnRefreshed,
		onInvalidated: opts.withOnInvalidated,
		logger:        opts.withLogger,
		tokens:        tokens.Clone(),
	}
	if g.group == nil {
		g.group = &singleflight.Group{}
	}
	return g, nil
}

// Tokens returns a copy of the current tokens, or nil once the credential
// was invalidated.
func (g *RefreshGuard) Tokens() *TokenSet {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tokens.Clone()
}

// replace sets the tokens after a new exchange for the same credential.
func (g *RefreshGuard) replace(t *TokenSet) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokens = t.Clone()
	g.gen++
}

func (g *RefreshGuard) snapshot() (*TokenSet, uint64) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tokens.Clone(), g.gen
}

// WithFreshTokens returns tokens which are not about to expire, refreshing
// them first when needed.  Every caller waiting on the same refresh
// receives its result.  A failed refresh leaves the tokens unchanged unless
// the provider rejected the refresh token, in which case the credential is
// cleared and the error wraps ErrNoCurrentUser.
func (g *RefreshGuard) WithFreshTokens(ctx context.Context) (*TokenSet, error) {
	const op = "RefreshGuard.WithFreshTokens"
	t := g.Tokens()
	if t == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNoCurrentUser)
	}
	if t.Fresh(g.now(), g.skew) {
		return t, nil
	}
	// the refresh outlives a caller which gives up waiting for it
	ch := g.group.DoChan(g.key, func() (interface{}, error) {
		return g.refresh(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("%s: %w", op, res.Err)
		}
		return res.Val.(*TokenSet).Clone(), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

func (g *RefreshGuard) refresh(ctx context.Context) (*TokenSet, error) {
	cur, gen := g.snapshot()
	if cur == nil {
		return nil, ErrNoCurrentUser
	}
	// another flight may have refreshed the tokens already
	if cur.Fresh(g.now(), g.skew) {
		return cur, nil
	}
	g.logger.Debug("refreshing tokens", "key", g.key)
	next, err := g.refresher.Refresh(ctx, cur)
	if err != nil {
		if errors.Is(err, ErrRefreshTokenInvalid) {
			g.mu.Lock()
			if g.gen != gen {
				// a new exchange replaced the rejected refresh token
				t := g.tokens.Clone()
				g.mu.Unlock()
				g.logger.Debug("refresh token rejected after replacement, keeping new tokens", "key", g.key)
				return t, nil
			}
			g.tokens = nil
			g.mu.Unlock()
			g.logger.Warn("refresh token rejected, credential cleared", "key", g.key)
			g.onInvalidated(err)
			return nil, fmt.Errorf("%w: %w", ErrNoCurrentUser, err)
		}
		g.logger.Debug("refresh failed", "key", g.key, "error", err)
		return nil, err
	}
	g.mu.Lock()
	switch {
	case g.gen != gen:
		// tokens of a newer exchange win over the stale refresh
		t := g.tokens.Clone()
		g.mu.Unlock()
		g.logger.Debug("discarding refresh result, tokens were replaced", "key", g.key)
		if t == nil {
			return nil, ErrNoCurrentUser
		}
		return t, nil
	case g.tokens == nil:
		g.mu.Unlock()
		return nil, ErrNoCurrentUser
	}
	*g.tokens = *next.Clone()
	g.mu.Unlock()
	g.onRefreshed(next.Clone())
	return next, nil
}
