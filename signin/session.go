// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// UserAgent presents an authorization request to the user, typically in a
// browser.
type UserAgent interface {
	// Present shows the request to the user.  It returns the redirect URL
	// when the agent captured the redirect itself, or a nil URL when the
	// redirect will be delivered later through Client.HandleURL.  Agents
	// return an error wrapping ErrUserCanceled when the user dismissed the
	// request.
	Present(ctx context.Context, req *AuthorizationRequest) (*url.URL, error)
}

// UserAgentFunc is an adapter to allow the use of ordinary functions as a
// UserAgent.
type UserAgentFunc func(ctx context.Context, req *AuthorizationRequest) (*url.URL, error)

// Present calls f(ctx, req).
func (f UserAgentFunc) Present(ctx context.Context, req *AuthorizationRequest) (*url.URL, error) {
	return f(ctx, req)
}

// SessionState is the state of a Session.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionPending
	SessionCompleted
	SessionCancelled
	SessionErrored
)

// String returns the name of the state.
func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionPending:
		return "pending"
	case SessionCompleted:
		return "completed"
	case SessionCancelled:
		return "cancelled"
	case SessionErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// AuthorizationResponse is the provider's response to an authorization
// request, parsed from the redirect URL.
type AuthorizationResponse struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
	ErrorURI         string

	// EMMSupport is the EMM support version active when the request was
	// made.
	EMMSupport string

	// AdditionalParameters holds every other redirect parameter.
	AdditionalParameters map[string]string

	Request *AuthorizationRequest
}

// Session is a single external user agent session.  A session is started
// once and ends in exactly one of the completed, cancelled or errored
// states.
type Session struct {
	agent      UserAgent
	emmSupport string
	logger     hclog.Logger

	mu       sync.Mutex
	state    SessionState
	req      *AuthorizationRequest
	redirect *url.URL
	resp     *AuthorizationResponse
	err      error
	done     chan struct{}
}

type sessionOptions struct {
	withLogger     hclog.Logger
	withEMMSupport string
}

func sessionDefaults() sessionOptions {
	return sessionOptions{withLogger: hclog.NewNullLogger()}
}

func getSessionOpts(opt ...Option) sessionOptions {
	opts := sessionDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// withSessionEMMSupport records the EMM support version on responses.
func withSessionEMMSupport(v string) Option {
	return func(o interface{}) {
		if o, ok := o.(*sessionOptions); ok {
			o.withEMMSupport = v
		}
	}
}

// NewSession creates an idle session presenting requests with the agent.
//
// Supported options:
//   - WithLogger
func NewSession(agent UserAgent, opt ...Option) *Session {
	opts := getSessionOpts(opt...)
	return &Session{
		agent:      agent,
		emmSupport: opts.withEMMSupport,
		logger:     opts.withLogger,
		done:       make(chan struct{}),
	}
}

// State returns the current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start presents the request and blocks until the session ends: the
// redirect is received, the session is cancelled, the agent fails or the
// context is done.  A context which is done fails the session with the
// context's error.
func (s *Session) Start(ctx context.Context, req *AuthorizationRequest) (*AuthorizationResponse, error) {
	const op = "Session.Start"
	if req == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	if s.agent == nil {
		return nil, fmt.Errorf("%s: no user agent to present the request: %w", op, ErrInvalidConfiguration)
	}
	redirect, err := url.Parse(req.RedirectURL())
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidConfiguration, err)
	}

	s.mu.Lock()
	if s.state != SessionIdle {
		s.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, ErrSessionNotIdle)
	}
	s.state = SessionPending
	s.req = req
	s.redirect = redirect
	s.mu.Unlock()
	s.logger.Debug("session pending", "redirect_url", req.RedirectURL())

	presentCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.present(presentCtx, req)

	select {
	case <-s.done:
	case <-ctx.Done():
		s.finish(SessionErrored, nil, fmt.Errorf("%s: %w", op, ctx.Err()))
		<-s.done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case SessionCompleted:
		return s.resp, nil
	default:
		return nil, s.err
	}
}

func (s *Session) present(ctx context.Context, req *AuthorizationRequest) {
	u, err := s.agent.Present(ctx, req)
	switch {
	case errors.Is(err, ErrUserCanceled):
		s.Cancel()
	case err != nil:
		s.finish(SessionErrored, nil, fmt.Errorf("user agent: %w", err))
	case u != nil:
		if !s.Resume(u) && s.State() == SessionPending {
			s.finish(SessionErrored, nil, fmt.Errorf("user agent returned %s://%s%s: %w", u.Scheme, u.Host, u.Path, ErrRedirectMismatch))
		}
	}
}

// Resume delivers a redirect URL to the session.  It returns true and
// completes the session when the session is pending and the URL matches
// the request's redirect URL and state; otherwise it returns false and the
// session is left unchanged.
func (s *Session) Resume(u *url.URL) bool {
	if u == nil {
		return false
	}
	s.mu.Lock()
	if s.state != SessionPending || !s.matches(u) {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()
	return s.finish(SessionCompleted, s.parse(u), nil)
}

// matches must be called with the lock held.
func (s *Session) matches(u *url.URL) bool {
	if !strings.EqualFold(u.Scheme, s.redirect.Scheme) || !strings.EqualFold(u.Host, s.redirect.Host) {
		return false
	}
	if strings.TrimSuffix(u.Path, "/") != strings.TrimSuffix(s.redirect.Path, "/") {
		// custom scheme redirects carry the path as opaque data
		if u.Opaque == "" || u.Opaque != s.redirect.Opaque {
			return false
		}
	}
	return u.Query().Get("state") == s.req.State()
}

func (s *Session) parse(u *url.URL) *AuthorizationResponse {
	q := u.Query()
	resp := &AuthorizationResponse{
		Code:                 q.Get("code"),
		State:                q.Get("state"),
		Error:                q.Get("error"),
		ErrorDescription:     q.Get("error_description"),
		ErrorURI:             q.Get("error_uri"),
		EMMSupport:           s.emmSupport,
		AdditionalParameters: map[string]string{},
		Request:              s.req,
	}
	for k := range q {
		switch k {
		case "code", "state", "error", "error_description", "error_uri":
		default:
			resp.AdditionalParameters[k] = q.Get(k)
		}
	}
	return resp
}

// Cancel ends a pending session with an error wrapping ErrUserCanceled.
// Cancel is idempotent and has no effect on sessions which are not pending.
func (s *Session) Cancel() {
	s.finish(SessionCancelled, nil, fmt.Errorf("session cancelled: %w", ErrUserCanceled))
}

// finish moves a pending session to a terminal state exactly once.
func (s *Session) finish(state SessionState, resp *AuthorizationResponse, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionPending {
		return false
	}
	s.state = state
	s.resp = resp
	s.err = err
	close(s.done)
	s.logger.Debug("session finished", "state", state.String())
	return true
}
