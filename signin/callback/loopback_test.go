// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/go-gsi/signin"
)

func testLoopback(t *testing.T, openURL func(string) error) *Loopback {
	t.Helper()
	lb, err := NewLoopback(WithOpenURL(openURL))
	require.NoError(t, err)
	t.Cleanup(func() { _ = lb.Close() })
	return lb
}

func testRequest(t *testing.T, redirectURL string) *signin.AuthorizationRequest {
	t.Helper()
	cfg, err := signin.NewConfig("client", signin.WithRedirectURL(redirectURL))
	require.NoError(t, err)
	b, err := signin.NewRequestBuilder(cfg)
	require.NoError(t, err)
	req, err := b.Build(signin.NewFlowOptions(true))
	require.NoError(t, err)
	return req
}

// redirectingBrowser returns an open func which follows the authorization
// URL by calling the loopback redirect with the params and the request's
// state, recording the page status.
func redirectingBrowser(t *testing.T, lb **Loopback, params url.Values, status *atomic.Int32) func(string) error {
	return func(authURL string) error {
		au, err := url.Parse(authURL)
		require.NoError(t, err)
		qv := url.Values{"state": {au.Query().Get("state")}}
		for k, v := range params {
			qv[k] = v
		}
		resp, err := http.Get((*lb).RedirectURL() + "?" + qv.Encode())
		require.NoError(t, err)
		defer resp.Body.Close()
		status.Store(int32(resp.StatusCode))
		return nil
	}
}

func TestLoopback_Present(t *testing.T) {
	t.Parallel()

	t.Run("code", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		var lb *Loopback
		var status atomic.Int32
		lb = testLoopback(t, redirectingBrowser(t, &lb, url.Values{"code": {"abc"}}, &status))

		req := testRequest(t, lb.RedirectURL())
		u, err := lb.Present(context.Background(), req)
		require.NoError(err)
		require.NotNil(u)
		assert.Equal("abc", u.Query().Get("code"))
		assert.Equal(req.State(), u.Query().Get("state"))
		assert.Equal("http", u.Scheme)
		assert.Equal("/callback", u.Path)
		assert.EqualValues(http.StatusOK, status.Load())
	})

	t.Run("provider-error", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		var lb *Loopback
		var status atomic.Int32
		params := url.Values{"error": {"access_denied"}, "error_description": {"<denied>"}}
		lb = testLoopback(t, redirectingBrowser(t, &lb, params, &status))

		u, err := lb.Present(context.Background(), testRequest(t, lb.RedirectURL()))
		require.NoError(err)
		assert.Equal("access_denied", u.Query().Get("error"))
		assert.EqualValues(http.StatusUnauthorized, status.Load())
	})

	t.Run("ctx-done", func(t *testing.T) {
		t.Parallel()
		lb := testLoopback(t, func(string) error { return nil })
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := lb.Present(ctx, testRequest(t, lb.RedirectURL()))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("open-fails", func(t *testing.T) {
		t.Parallel()
		lb := testLoopback(t, func(string) error { return assert.AnError })
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := lb.Present(ctx, testRequest(t, lb.RedirectURL()))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("closed", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		opened := make(chan struct{})
		lb := testLoopback(t, func(string) error { close(opened); return nil })
		req := testRequest(t, lb.RedirectURL())

		errCh := make(chan error, 1)
		go func() {
			_, err := lb.Present(context.Background(), req)
			errCh <- err
		}()
		<-opened
		require.NoError(lb.Close())
		require.NoError(lb.Close())
		assert.ErrorIs(<-errCh, ErrClosed)

		_, err := lb.Present(context.Background(), req)
		assert.ErrorIs(err, ErrClosed)
	})

	t.Run("foreign-redirect", func(t *testing.T) {
		t.Parallel()
		lb := testLoopback(t, func(string) error { return nil })
		_, err := lb.Present(context.Background(), testRequest(t, "http://127.0.0.1:1/elsewhere"))
		assert.ErrorIs(t, err, signin.ErrInvalidParameter)
	})

	t.Run("nil-request", func(t *testing.T) {
		t.Parallel()
		lb := testLoopback(t, func(string) error { return nil })
		_, err := lb.Present(context.Background(), nil)
		assert.ErrorIs(t, err, signin.ErrNilParameter)
	})
}

func TestLoopback_handleRedirect(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	lb := testLoopback(t, func(string) error { return nil })

	resp, err := http.Get(lb.RedirectURL() + "?state=unknown&code=abc")
	require.NoError(err)
	resp.Body.Close()
	assert.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(lb.RedirectURL(), "text/plain", nil)
	require.NoError(err)
	resp.Body.Close()
	assert.Equal(http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestNewLoopback(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		opts    []Option
		wantErr error
	}{
		{name: "not-loopback", opts: []Option{WithAddr("0.0.0.0:0")}, wantErr: signin.ErrInvalidParameter},
		{name: "relative-path", opts: []Option{WithPath("cb")}, wantErr: signin.ErrInvalidParameter},
		{name: "nil-open", opts: []Option{WithOpenURL(nil)}, wantErr: signin.ErrNilParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewLoopback(tt.opts...)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("custom-path", func(t *testing.T) {
		t.Parallel()
		lb, err := NewLoopback(WithPath("/oauth2/redirect"), WithAddr("localhost:0"))
		require.NoError(t, err)
		defer lb.Close()
		u, err := url.Parse(lb.RedirectURL())
		require.NoError(t, err)
		assert.Equal(t, "/oauth2/redirect", u.Path)
	})
}

func TestLoopback_SignIn(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := signin.StartTestProvider(t)

	lb := testLoopback(t, func(authURL string) error {
		// the provider redirects the browser to the loopback
		resp, err := tp.HTTPClient().Get(authURL)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	})
	cfg, err := signin.NewConfig("test-client-id",
		signin.WithEndpoints(tp.Endpoints()),
		signin.WithHTTPClient(tp.HTTPClient()),
		signin.WithRedirectURL(lb.RedirectURL()),
	)
	require.NoError(err)
	c, err := signin.NewClient(cfg, signin.NewMemoryStore(), lb)
	require.NoError(err)
	defer c.Done()

	user, err := c.SignIn(context.Background(), "")
	require.NoError(err)
	assert.Equal("alice-subject", user.UserID())
	assert.Equal("alice@example.com", user.Email())
	assert.Equal(lb.RedirectURL(), tp.LastAuthQuery().Get("redirect_uri"))
}
