// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRefresher counts refreshes and blocks each one until released.
type testRefresher struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (r *testRefresher) Refresh(ctx context.Context, t *TokenSet) (*TokenSet, error) {
	n := r.calls.Add(1)
	if r.release != nil {
		<-r.release
	}
	if r.err != nil {
		return nil, r.err
	}
	next := t.Clone()
	next.AccessToken = AccessToken(fmt.Sprintf("AT-%d", n))
	next.AccessTokenExpiry = time.Now().Add(time.Hour)
	return next, nil
}

func expiredTokens() *TokenSet {
	return &TokenSet{
		AccessToken:       "AT-0",
		AccessTokenExpiry: time.Now().Add(10 * time.Second),
		RefreshToken:      "RT1",
	}
}

func TestRefreshGuard_WithFreshTokens(t *testing.T) {
	t.Parallel()

	t.Run("fresh", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		r := &testRefresher{}
		tokens := &TokenSet{AccessToken: "AT-0", AccessTokenExpiry: time.Now().Add(time.Hour)}
		g, err := NewRefreshGuard("key", tokens, r)
		require.NoError(err)
		got, err := g.WithFreshTokens(context.Background())
		require.NoError(err)
		assert.Equal(AccessToken("AT-0"), got.AccessToken)
		assert.Equal(int32(0), r.calls.Load())
	})

	t.Run("coalesced", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		r := &testRefresher{release: make(chan struct{})}
		var refreshed atomic.Int32
		g, err := NewRefreshGuard("key", expiredTokens(), r, WithOnRefreshed(func(*TokenSet) { refreshed.Add(1) }))
		require.NoError(err)

		const callers = 3
		var wg sync.WaitGroup
		results := make([]*TokenSet, callers)
		errs := make([]error, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = g.WithFreshTokens(context.Background())
			}(i)
		}
		require.Eventually(func() bool { return r.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
		// let the other callers join the flight before it completes
		time.Sleep(50 * time.Millisecond)
		close(r.release)
		wg.Wait()

		for i := 0; i < callers; i++ {
			require.NoError(errs[i])
			assert.Equal(AccessToken("AT-1"), results[i].AccessToken)
		}
		assert.Equal(int32(1), r.calls.Load())
		assert.Equal(int32(1), refreshed.Load())
		assert.Equal(AccessToken("AT-1"), g.Tokens().AccessToken)

		// fresh now, no further refresh
		_, err = g.WithFreshTokens(context.Background())
		require.NoError(err)
		assert.Equal(int32(1), r.calls.Load())
	})

	t.Run("caller-gives-up", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		r := &testRefresher{release: make(chan struct{})}
		g, err := NewRefreshGuard("key", expiredTokens(), r)
		require.NoError(err)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = g.WithFreshTokens(ctx)
		require.Error(err)
		assert.ErrorIs(err, context.DeadlineExceeded)

		close(r.release)
		require.Eventually(func() bool { return g.Tokens().AccessToken == "AT-1" }, time.Second, 5*time.Millisecond)
	})

	t.Run("failure-keeps-tokens", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		r := &testRefresher{err: fmt.Errorf("offline: %w", ErrNetwork)}
		g, err := NewRefreshGuard("key", expiredTokens(), r)
		require.NoError(err)
		_, err = g.WithFreshTokens(context.Background())
		require.Error(err)
		assert.ErrorIs(err, ErrNetwork)
		assert.Equal(AccessToken("AT-0"), g.Tokens().AccessToken)
	})

	t.Run("invalid-grant", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		r := &testRefresher{err: fmt.Errorf("%w: %w", ErrRefreshTokenInvalid, &ProviderError{Code: "invalid_grant"})}
		var invalidated atomic.Int32
		g, err := NewRefreshGuard("key", expiredTokens(), r, WithOnInvalidated(func(error) { invalidated.Add(1) }))
		require.NoError(err)
		_, err = g.WithFreshTokens(context.Background())
		require.Error(err)
		assert.ErrorIs(err, ErrNoCurrentUser)
		assert.ErrorIs(err, ErrRefreshTokenInvalid)
		assert.Nil(g.Tokens())
		assert.Equal(int32(1), invalidated.Load())

		_, err = g.WithFreshTokens(context.Background())
		assert.ErrorIs(err, ErrNoCurrentUser)
		assert.Equal(int32(1), r.calls.Load())
	})

	t.Run("replaced-during-refresh", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		r := &testRefresher{release: make(chan struct{})}
		var refreshed atomic.Int32
		g, err := NewRefreshGuard("key", expiredTokens(), r, WithOnRefreshed(func(*TokenSet) { refreshed.Add(1) }))
		require.NoError(err)

		type result struct {
			tokens *TokenSet
			err    error
		}
		done := make(chan result, 1)
		go func() {
			got, err := g.WithFreshTokens(context.Background())
			done <- result{got, err}
		}()
		require.Eventually(func() bool { return r.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

		// a new exchange lands while the refresh is outstanding
		g.replace(&TokenSet{
			AccessToken:       "AT-addscopes",
			AccessTokenExpiry: time.Now().Add(time.Hour),
			RefreshToken:      "RT-new",
			Scopes:            []string{"drive"},
		})
		close(r.release)
		res := <-done

		require.NoError(res.err)
		assert.Equal(AccessToken("AT-addscopes"), res.tokens.AccessToken)
		cur := g.Tokens()
		assert.Equal(AccessToken("AT-addscopes"), cur.AccessToken)
		assert.Equal(RefreshToken("RT-new"), cur.RefreshToken)
		assert.Equal([]string{"drive"}, cur.Scopes)
		assert.Equal(int32(0), refreshed.Load())
	})

	t.Run("rejected-after-replace", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		r := &testRefresher{
			release: make(chan struct{}),
			err:     fmt.Errorf("%w: %w", ErrRefreshTokenInvalid, &ProviderError{Code: "invalid_grant"}),
		}
		var invalidated atomic.Int32
		g, err := NewRefreshGuard("key", expiredTokens(), r, WithOnInvalidated(func(error) { invalidated.Add(1) }))
		require.NoError(err)

		errCh := make(chan error, 1)
		go func() {
			_, err := g.WithFreshTokens(context.Background())
			errCh <- err
		}()
		require.Eventually(func() bool { return r.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
		g.replace(&TokenSet{AccessToken: "AT-new", AccessTokenExpiry: time.Now().Add(time.Hour), RefreshToken: "RT-new"})
		close(r.release)

		require.NoError(<-errCh)
		require.NotNil(g.Tokens())
		assert.Equal(RefreshToken("RT-new"), g.Tokens().RefreshToken)
		assert.Equal(int32(0), invalidated.Load())
	})

	t.Run("skew", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		r := &testRefresher{}
		tokens := &TokenSet{AccessToken: "AT-0", AccessTokenExpiry: time.Now().Add(5 * time.Minute)}
		now := func() time.Time { return time.Now() }
		g, err := NewRefreshGuard("key", tokens, r, WithNow(now), WithExpirySkew(10*time.Minute))
		require.NoError(err)
		got, err := g.WithFreshTokens(context.Background())
		require.NoError(err)
		assert.Equal(AccessToken("AT-1"), got.AccessToken)
	})
}

func TestNewRefreshGuard(t *testing.T) {
	t.Parallel()
	r := &testRefresher{}
	_, err := NewRefreshGuard("", &TokenSet{}, r)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = NewRefreshGuard("key", nil, r)
	assert.ErrorIs(t, err, ErrNilParameter)
	_, err = NewRefreshGuard("key", &TokenSet{}, nil)
	assert.ErrorIs(t, err, ErrNilParameter)
}
