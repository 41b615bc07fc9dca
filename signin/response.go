// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
)

const accessDeniedCode = "access_denied"

// canceledMessage returns the message of a cancellation in the flow kind.
func canceledMessage(kind FlowKind) string {
	switch kind {
	case FlowVerify:
		return "the user canceled the verification flow"
	default:
		return "the user canceled the sign-in flow"
	}
}

// userCanceled returns the cancellation error of the flow kind.
func userCanceled(kind FlowKind) error {
	return fmt.Errorf("%s: %w", canceledMessage(kind), ErrUserCanceled)
}

func isCanceled(err error) bool { return errors.Is(err, ErrUserCanceled) }

// ResponseProcessor classifies authorization responses into the initial
// state of an AuthFlow.
type ResponseProcessor struct {
	cfg    *Config
	logger hclog.Logger
}

// NewResponseProcessor creates a new ResponseProcessor.
func NewResponseProcessor(cfg *Config) *ResponseProcessor {
	return &ResponseProcessor{cfg: cfg, logger: cfg.logger().Named("response")}
}

// Process converts the outcome of a session into an AuthFlow.  Exactly one
// of the flow's error and pending exchange state is set.  Classification
// order: a missing response, a session error, EMM error codes, a user
// cancellation of an interactive flow, then any other provider error.
func (p *ResponseProcessor) Process(resp *AuthorizationResponse, sessionErr error, kind FlowKind, interactive bool) *AuthFlow {
	const op = "ResponseProcessor.Process"
	f := newAuthFlow(kind, p.cfg.EMMSupport)
	if resp != nil && resp.EMMSupport != "" {
		f.emmSupport = resp.EMMSupport
	}
	switch {
	case resp == nil && sessionErr == nil:
		f.Fail(fmt.Errorf("%s: no response and no error: %w", op, ErrUnexpected))
	case sessionErr != nil:
		if isCanceled(sessionErr) {
			sessionErr = userCanceled(kind)
		}
		f.Fail(sessionErr)
	case resp.Error != "":
		switch {
		case emmError(f.emmSupport, resp.Error, resp.ErrorDescription) != nil:
			f.Fail(fmt.Errorf("%s: %w", op, emmError(f.emmSupport, resp.Error, resp.ErrorDescription)))
		case resp.Error == accessDeniedCode && interactive:
			f.Fail(userCanceled(kind))
		default:
			f.Fail(fmt.Errorf("%s: %w", op, &ProviderError{
				Code:        resp.Error,
				Description: resp.ErrorDescription,
				URI:         resp.ErrorURI,
			}))
		}
	case resp.Code == "":
		f.Fail(fmt.Errorf("%s: %w", op, ErrMissingAuthCode))
	default:
		if f.emmSupport != "" && resp.AdditionalParameters[emmPasscodeInfoRequiredParam] != "" {
			f.passcodeInfoRequired = true
		}
		f.authState = &AuthState{
			Kind:    AuthStatePendingExchange,
			Code:    resp.Code,
			Request: resp.Request,
		}
	}
	if err := f.Err(); err != nil {
		p.logger.Debug("authorization failed", "flow", kind.String(), "error", err)
	}
	return f
}
