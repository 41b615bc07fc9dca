// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"context"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// FlowKind distinguishes the flows sharing the authorization pipeline.
type FlowKind int

const (
	FlowSignIn FlowKind = iota
	FlowAddScopes
	FlowRestore
	FlowVerify
)

// String returns the name of the flow kind.
func (k FlowKind) String() string {
	switch k {
	case FlowSignIn:
		return "sign-in"
	case FlowAddScopes:
		return "add-scopes"
	case FlowRestore:
		return "restore"
	case FlowVerify:
		return "verify"
	default:
		return "unknown"
	}
}

// AuthStateKind is the stage of an AuthState.
type AuthStateKind int

const (
	AuthStateNone AuthStateKind = iota

	// AuthStatePendingExchange holds an authorization code to exchange.
	AuthStatePendingExchange

	// AuthStateRestored holds tokens loaded from a credential store.
	AuthStateRestored

	// AuthStateAuthorized holds tokens obtained or refreshed by this flow.
	AuthStateAuthorized
)

// AuthState is the authorization state carried through the pipeline.
type AuthState struct {
	Kind AuthStateKind

	// Code and Request are set while the code is pending exchange.
	Code    string
	Request *AuthorizationRequest

	Tokens *TokenSet

	// ServerAuthCode is the code for the application's backend returned
	// with the tokens.
	ServerAuthCode string

	// Claims are set once the ID token has been decoded.
	Claims *IDTokenClaims
}

// AuthFlow is the accumulator shared by the steps of one pipeline run.
// Only the first error set is retained.
type AuthFlow struct {
	mu                   sync.Mutex
	kind                 FlowKind
	authState            *AuthState
	err                  error
	emmSupport           string
	profile              *ProfileData
	passcodeInfoRequired bool
}

func newAuthFlow(kind FlowKind, emmSupport string) *AuthFlow {
	return &AuthFlow{kind: kind, emmSupport: emmSupport}
}

// newRestoredFlow creates a flow for tokens loaded from a credential store.
func newRestoredFlow(tokens *TokenSet, emmSupport string) *AuthFlow {
	f := newAuthFlow(FlowRestore, emmSupport)
	f.authState = &AuthState{Kind: AuthStateRestored, Tokens: tokens}
	return f
}

// Kind returns the kind of flow.
func (f *AuthFlow) Kind() FlowKind { return f.kind }

// EMMSupport returns the EMM support version of the flow.
func (f *AuthFlow) EMMSupport() string { return f.emmSupport }

// Err returns the terminal error, if any.
func (f *AuthFlow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Fail sets the terminal error unless one is already set.  It reports
// whether err became the terminal error.
func (f *AuthFlow) Fail(err error) bool {
	if err == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false
	}
	f.err = err
	return true
}

// AuthState returns the current auth state.
func (f *AuthFlow) AuthState() *AuthState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authState
}

func (f *AuthFlow) setAuthState(s *AuthState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authState = s
}

// Profile returns the resolved profile, if any.
func (f *AuthFlow) Profile() *ProfileData {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profile
}

func (f *AuthFlow) setProfile(p *ProfileData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profile = p
}

// PasscodeInfoRequired reports whether the provider asked for the EMM
// passcode info, which requires a continuation attempt.
func (f *AuthFlow) PasscodeInfoRequired() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.passcodeInfoRequired
}

// Step is one stage of a Pipeline.
type Step struct {
	Name string
	Run  func(ctx context.Context, f *AuthFlow) error
}

// FlowResult is the terminal outcome of a pipeline run.
type FlowResult struct {
	AuthState *AuthState
	Profile   *ProfileData
	Err       error
}

// Pipeline runs steps in order over one AuthFlow.  A step is skipped once
// the flow carries an error, and a step's error never replaces an earlier
// one.
type Pipeline struct {
	steps  []Step
	logger hclog.Logger
}

// NewPipeline creates a pipeline of the steps.
func NewPipeline(logger hclog.Logger, steps ...Step) *Pipeline {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Pipeline{steps: steps, logger: logger}
}

// Run runs every step and returns the flow's terminal outcome.
func (p *Pipeline) Run(ctx context.Context, f *AuthFlow) *FlowResult {
	for _, s := range p.steps {
		if f.Err() != nil {
			p.logger.Trace("skipping step", "flow", f.kind.String(), "step", s.Name)
			continue
		}
		if err := s.Run(ctx, f); err != nil {
			p.logger.Debug("step failed", "flow", f.kind.String(), "step", s.Name, "error", err)
			f.Fail(err)
		}
	}
	return &FlowResult{
		AuthState: f.AuthState(),
		Profile:   f.Profile(),
		Err:       f.Err(),
	}
}
