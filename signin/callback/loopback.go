// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/go-gsi/signin"
)

// ErrClosed is returned by Present once the Loopback is closed.
var ErrClosed = errors.New("loopback closed")

const shutdownTimeout = 5 * time.Second

// Loopback is a signin.UserAgent for installed applications.  It presents
// the authorization URL in the system browser and captures the redirect
// with an HTTP server listening on the loopback interface.  Configure the
// signin.Config with signin.WithRedirectURL(lb.RedirectURL()).
type Loopback struct {
	listener    net.Listener
	server      *http.Server
	redirectURL *url.URL
	openURL     func(string) error
	logger      hclog.Logger

	mu      sync.Mutex
	pending map[string]chan *url.URL
	done    chan struct{}
	closed  bool
	srvErr  error
}

var _ signin.UserAgent = (*Loopback)(nil)

// NewLoopback starts a Loopback.  It must be closed with Close.
//
// Supported options:
//   - WithAddr
//   - WithPath
//   - WithOpenURL
//   - WithLogger
func NewLoopback(opt ...Option) (*Loopback, error) {
	const op = "callback.NewLoopback"
	opts := getLoopbackOpts(opt...)
	if opts.withOpenURL == nil {
		return nil, fmt.Errorf("%s: open url func is nil: %w", op, signin.ErrNilParameter)
	}
	if !strings.HasPrefix(opts.withPath, "/") {
		return nil, fmt.Errorf("%s: path %q must start with /: %w", op, opts.withPath, signin.ErrInvalidParameter)
	}
	host, _, err := net.SplitHostPort(opts.withAddr)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid address %q: %w", op, opts.withAddr, err)
	}
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return nil, fmt.Errorf("%s: address %q is not a loopback address: %w", op, opts.withAddr, signin.ErrInvalidParameter)
	}
	l, err := net.Listen("tcp", opts.withAddr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	logger := opts.withLogger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	lb := &Loopback{
		listener: l,
		redirectURL: &url.URL{
			Scheme: "http",
			Host:   l.Addr().String(),
			Path:   opts.withPath,
		},
		openURL: opts.withOpenURL,
		logger:  logger,
		pending: map[string]chan *url.URL{},
		done:    make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(opts.withPath, lb.handleRedirect)
	lb.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := lb.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lb.logger.Error("loopback server stopped", "error", err)
			lb.mu.Lock()
			lb.srvErr = err
			lb.mu.Unlock()
		}
	}()
	return lb, nil
}

// RedirectURL returns the URL the provider should redirect to.
func (lb *Loopback) RedirectURL() string {
	return lb.redirectURL.String()
}

// Present satisfies the signin.UserAgent interface.  It opens the
// authorization URL and blocks until the redirect for the request arrives
// or the ctx is done.
func (lb *Loopback) Present(ctx context.Context, req *signin.AuthorizationRequest) (*url.URL, error) {
	const op = "Loopback.Present"
	if req == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, signin.ErrNilParameter)
	}
	if !lb.owns(req.RedirectURL()) {
		return nil, fmt.Errorf("%s: redirect URL %q is not served by this loopback (%s): %w", op, req.RedirectURL(), lb.RedirectURL(), signin.ErrInvalidParameter)
	}

	ch := make(chan *url.URL, 1)
	lb.mu.Lock()
	switch {
	case lb.closed:
		lb.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, ErrClosed)
	case lb.srvErr != nil:
		err := lb.srvErr
		lb.mu.Unlock()
		return nil, fmt.Errorf("%s: server failed: %w", op, err)
	}
	lb.pending[req.State()] = ch
	lb.mu.Unlock()
	defer func() {
		lb.mu.Lock()
		delete(lb.pending, req.State())
		lb.mu.Unlock()
	}()

	lb.logger.Debug("opening authorization url", "url", req.AuthURL())
	if err := lb.openURL(req.AuthURL()); err != nil {
		lb.logger.Warn("unable to open the browser, visit the authorization url manually", "url", req.AuthURL(), "error", err)
	}

	select {
	case u := <-ch:
		return u, nil
	case <-lb.done:
		return nil, fmt.Errorf("%s: %w", op, ErrClosed)
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

// Close stops the server.  Pending Present calls return ErrClosed.
func (lb *Loopback) Close() error {
	const op = "Loopback.Close"
	lb.mu.Lock()
	if lb.closed {
		lb.mu.Unlock()
		return nil
	}
	lb.closed = true
	close(lb.done)
	lb.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := lb.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (lb *Loopback) owns(redirectURL string) bool {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return false
	}
	return u.Scheme == lb.redirectURL.Scheme && u.Host == lb.redirectURL.Host && u.Path == lb.redirectURL.Path
}

func (lb *Loopback) handleRedirect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	qv := r.URL.Query()
	state := qv.Get("state")

	lb.mu.Lock()
	ch, ok := lb.pending[state]
	if ok {
		// one redirect per request
		delete(lb.pending, state)
	}
	lb.mu.Unlock()
	if !ok {
		lb.logger.Debug("redirect for unknown state", "state", state)
		writePage(w, http.StatusBadRequest, errorPage("This sign-in request is unknown or has already completed."))
		return
	}

	u := *lb.redirectURL
	u.RawQuery = r.URL.RawQuery
	ch <- &u

	if e := qv.Get("error"); e != "" {
		msg := e
		if d := qv.Get("error_description"); d != "" {
			msg = fmt.Sprintf("%s: %s", e, d)
		}
		writePage(w, http.StatusUnauthorized, errorPage(msg))
		return
	}
	writePage(w, http.StatusOK, successPage)
}

func writePage(w http.ResponseWriter, status int, page string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(page))
}

const successPage = `<!DOCTYPE html>
<html>
<head><title>Signed in</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 4em;">
<h2>You are signed in</h2>
<p>You can close this window and return to the application.</p>
</body>
</html>`

func errorPage(msg string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><title>Sign-in failed</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 4em;">
<h2>Sign-in failed</h2>
<p>%s</p>
</body>
</html>`, html.EscapeString(msg))
}
