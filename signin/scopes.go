// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-gsi/internal/strutils"
)

const (
	ScopeOpenID  = "openid"
	ScopeEmail   = "email"
	ScopeProfile = "profile"

	// ScopeAgeOver18 is the restricted scope used to verify that a user is 18
	// years of age or older.
	ScopeAgeOver18 = "https://www.googleapis.com/auth/verified.age.over18.standard"
)

// requestScopes returns the scopes to request: the caller's scopes followed
// by the baseline scopes that are missing.
func requestScopes(scopes []string, basicProfile bool) []string {
	baseline := []string{ScopeOpenID}
	if basicProfile {
		baseline = append(baseline, ScopeEmail, ScopeProfile)
	}
	return strutils.Union(scopes, baseline)
}

// ResolveScopes returns the union of the granted and requested scopes.  It
// returns ErrScopesAlreadyGranted when the requested scopes add nothing to
// the granted ones.  Granted scopes are never removed.
func ResolveScopes(granted, requested []string) ([]string, error) {
	const op = "ResolveScopes"
	requested = strutils.RemoveDuplicatesStable(requested, false)
	if len(requested) == 0 {
		return nil, fmt.Errorf("%s: no scopes requested: %w", op, ErrInvalidParameter)
	}
	if strutils.Subset(granted, requested) {
		return nil, fmt.Errorf("%s: %s: %w", op, strings.Join(requested, " "), ErrScopesAlreadyGranted)
	}
	return strutils.Union(granted, requested), nil
}

// RestrictedScopeKind identifies the kind of a restricted scope.  Restricted
// scopes can only be requested through a dedicated flow.
type RestrictedScopeKind int

const (
	KindUnknown RestrictedScopeKind = iota

	// KindAgeOver18 verifies the user is 18 years of age or older.
	KindAgeOver18
)

// String returns the name of the kind.
func (k RestrictedScopeKind) String() string {
	switch k {
	case KindAgeOver18:
		return "age-over-18"
	default:
		return "unknown"
	}
}

// Scope returns the scope required to verify the account detail.
func (k RestrictedScopeKind) Scope() string {
	for scope, entry := range restrictedScopes {
		if entry.kind == k {
			return scope
		}
	}
	return ""
}

// VerifiedAccountDetail is an account detail Google verified for the user.
type VerifiedAccountDetail struct {
	Kind  RestrictedScopeKind
	Scope string
}

// restrictedScopeHandler resolves the verified detail of a granted
// restricted scope.
type restrictedScopeHandler func(scope string) VerifiedAccountDetail

type restrictedScope struct {
	kind    RestrictedScopeKind
	handler restrictedScopeHandler
}

func verifiedDetail(k RestrictedScopeKind) restrictedScopeHandler {
	return func(scope string) VerifiedAccountDetail {
		return VerifiedAccountDetail{Kind: k, Scope: scope}
	}
}

var restrictedScopes = map[string]restrictedScope{
	ScopeAgeOver18: {kind: KindAgeOver18, handler: verifiedDetail(KindAgeOver18)},
}

// IsRestrictedScope reports whether the scope can only be requested with
// VerifyAccountDetails.
func IsRestrictedScope(scope string) bool {
	_, ok := restrictedScopes[scope]
	return ok
}

// RestrictedScopes returns the restricted scopes in scopes mapped to their
// kind.
func RestrictedScopes(scopes []string) map[string]RestrictedScopeKind {
	found := map[string]RestrictedScopeKind{}
	for _, s := range scopes {
		if entry, ok := restrictedScopes[s]; ok {
			found[s] = entry.kind
		}
	}
	return found
}

// rejectRestrictedScopes returns an ErrRestrictedScope error naming every
// restricted scope in scopes.
func rejectRestrictedScopes(scopes []string) error {
	found := RestrictedScopes(scopes)
	if len(found) == 0 {
		return nil
	}
	names := make([]string, 0, len(found))
	for s := range found {
		names = append(names, s)
	}
	sort.Strings(names)
	return fmt.Errorf("%s must be requested with VerifyAccountDetails: %w", strings.Join(names, ", "), ErrRestrictedScope)
}

// verifiedDetails resolves the verified details from the granted scopes.
func verifiedDetails(granted []string) []VerifiedAccountDetail {
	var details []VerifiedAccountDetail
	for _, s := range granted {
		if entry, ok := restrictedScopes[s]; ok {
			details = append(details, entry.handler(s))
		}
	}
	return details
}
