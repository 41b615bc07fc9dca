// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-hclog"
)

// maxResponseSize bounds the size of provider responses read by the
// HTTPFetcher.
const maxResponseSize = 1 << 20

// Authorizer authorizes outgoing requests, typically by adding a bearer
// token.
type Authorizer interface {
	Authorize(ctx context.Context, req *http.Request) error
}

// AuthorizerFunc is an adapter to allow the use of ordinary functions as an
// Authorizer.
type AuthorizerFunc func(ctx context.Context, req *http.Request) error

// Authorize calls f(ctx, req).
func (f AuthorizerFunc) Authorize(ctx context.Context, req *http.Request) error {
	return f(ctx, req)
}

// BearerAuthorizer authorizes requests with a fixed access token.
func BearerAuthorizer(token AccessToken) Authorizer {
	return AuthorizerFunc(func(_ context.Context, req *http.Request) error {
		if token == "" {
			return fmt.Errorf("BearerAuthorizer: access token is empty: %w", ErrInvalidParameter)
		}
		req.Header.Set("Authorization", "Bearer "+string(token))
		return nil
	})
}

// Fetcher performs HTTP requests for the client.
type Fetcher interface {
	// Fetch sends the request, authorized by the optional authorizer, and
	// returns the body of a successful response.
	Fetch(ctx context.Context, req *http.Request, a Authorizer) ([]byte, error)
}

// StatusError is returned by the HTTPFetcher for non 2xx responses.
type StatusError struct {
	StatusCode int
	Body       []byte
}

// Error satisfies the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, truncate(string(e.Body), 256))
}

// Unwrap returns ErrNetwork.
func (e *StatusError) Unwrap() error { return ErrNetwork }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// HTTPFetcher is a Fetcher using an http.Client.
type HTTPFetcher struct {
	client *http.Client
	logger hclog.Logger
}

type fetcherOptions struct {
	withLogger hclog.Logger
}

func fetcherDefaults() fetcherOptions {
	return fetcherOptions{withLogger: hclog.NewNullLogger()}
}

func getFetcherOpts(opt ...Option) fetcherOptions {
	opts := fetcherDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// NewHTTPFetcher creates a new HTTPFetcher.
//
// Supported options:
//   - WithLogger
func NewHTTPFetcher(client *http.Client, opt ...Option) (*HTTPFetcher, error) {
	const op = "NewHTTPFetcher"
	if client == nil {
		return nil, fmt.Errorf("%s: http client is nil: %w", op, ErrNilParameter)
	}
	opts := getFetcherOpts(opt...)
	return &HTTPFetcher{client: client, logger: opts.withLogger}, nil
}

// Fetch satisfies the Fetcher interface.  Transport failures and non 2xx
// responses wrap ErrNetwork.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *http.Request, a Authorizer) ([]byte, error) {
	const op = "HTTPFetcher.Fetch"
	if req == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	req = req.WithContext(ctx)
	if a != nil {
		if err := a.Authorize(ctx, req); err != nil {
			return nil, fmt.Errorf("%s: unable to authorize request: %w", op, err)
		}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrNetwork, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read response: %w: %w", op, ErrNetwork, err)
	}
	f.logger.Trace("fetched", "method", req.Method, "url", req.URL.Redacted(), "status", resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s: %w", op, &StatusError{StatusCode: resp.StatusCode, Body: body})
	}
	return body, nil
}
