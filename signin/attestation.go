// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
)

// JWTBearerAssertionType is the client_assertion_type of attestation tokens.
const JWTBearerAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

const (
	clientAssertionTypeParam = "client_assertion_type"
	clientAssertionParam     = "client_assertion"
)

// AttestationProvider supplies limited use app attestation tokens which are
// sent with token exchanges as a client assertion.
type AttestationProvider interface {
	LimitedUseToken(ctx context.Context) (string, error)
}

// AttestationFunc is an adapter to allow the use of ordinary functions as an
// AttestationProvider.
type AttestationFunc func(ctx context.Context) (string, error)

// LimitedUseToken calls f(ctx).
func (f AttestationFunc) LimitedUseToken(ctx context.Context) (string, error) {
	return f(ctx)
}

// attestationParams returns the client assertion parameters.  A provider
// failure is only an error when attestation is required; otherwise it is
// logged and the exchange proceeds without an assertion.
func attestationParams(ctx context.Context, cfg *Config, logger hclog.Logger) (map[string]string, error) {
	const op = "attestationParams"
	if cfg.Attestation == nil {
		return nil, nil
	}
	tk, err := cfg.Attestation.LimitedUseToken(ctx)
	if err == nil && tk == "" {
		err = fmt.Errorf("empty token: %w", ErrInvalidParameter)
	}
	if err != nil {
		if cfg.AttestationRequired {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrAttestation, err)
		}
		logger.Warn("proceeding without app attestation", "error", err)
		return nil, nil
	}
	return map[string]string{
		clientAssertionTypeParam: JWTBearerAssertionType,
		clientAssertionParam:     tk,
	}, nil
}
