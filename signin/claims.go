// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
)

const authTimeClaimName = "auth_time"

// Claim is an individual ID token claim requested with the "claims"
// authorization parameter.
type Claim struct {
	Name      string
	Essential bool
}

// AuthTimeClaim requests the time the user last authenticated.
func AuthTimeClaim() Claim { return Claim{Name: authTimeClaimName} }

// EssentialAuthTimeClaim requests the time the user last authenticated as an
// essential claim.
func EssentialAuthTimeClaim() Claim { return Claim{Name: authTimeClaimName, Essential: true} }

type claimRequest struct {
	Essential bool `json:"essential"`
}

// ClaimsJSON serializes the claims into the value of the "claims" parameter,
// for example {"id_token":{"auth_time":{"essential":true}}}.  It returns an
// empty string when there are no claims.  Requesting the same claim as both
// essential and non-essential is an error.
func ClaimsJSON(claims []Claim) (string, error) {
	const op = "ClaimsJSON"
	if len(claims) == 0 {
		return "", nil
	}
	idToken := make(map[string]claimRequest, len(claims))
	var errs *multierror.Error
	for _, c := range claims {
		if c.Name == "" {
			errs = multierror.Append(errs, fmt.Errorf("claim name is empty: %w", ErrInvalidClaims))
			continue
		}
		if prev, ok := idToken[c.Name]; ok && prev.Essential != c.Essential {
			errs = multierror.Append(errs, fmt.Errorf("claim %q requested as both essential and non-essential: %w", c.Name, ErrInvalidClaims))
			continue
		}
		idToken[c.Name] = claimRequest{Essential: c.Essential}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	b, err := json.Marshal(map[string]map[string]claimRequest{"id_token": idToken})
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrInvalidClaims, err)
	}
	return string(b), nil
}

func claimNames(claims []Claim) []string {
	names := make([]string, 0, len(claims))
	for _, c := range claims {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}
