// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/text/language"
)

// ProfileData is the basic profile of a user.
type ProfileData struct {
	Email      string
	Name       string
	GivenName  string
	FamilyName string

	// ImageURL is the profile image, if the user has one.
	ImageURL string

	// Locale is language.Und when unknown.
	Locale language.Tag
}

// HasImage reports whether the user has a profile image.
func (p *ProfileData) HasImage() bool {
	return p != nil && p.ImageURL != ""
}

// ImageURLWithDimension returns the profile image URL sized to a square of
// the dimension in pixels, or an empty string when there is no image.
func (p *ProfileData) ImageURLWithDimension(dimension uint) string {
	if !p.HasImage() {
		return ""
	}
	u := p.ImageURL
	// sizing options follow the last "=" of the final path segment
	if slash := strings.LastIndex(u, "/"); slash >= 0 {
		if eq := strings.LastIndex(u[slash:], "="); eq >= 0 {
			u = u[:slash+eq]
		}
	}
	return fmt.Sprintf("%s=s%d", u, dimension)
}

func parseLocale(s string) language.Tag {
	if s == "" {
		return language.Und
	}
	tag, err := language.Parse(s)
	if err != nil {
		return language.Und
	}
	return tag
}

// profileFromClaims returns the profile carried by ID token claims, or nil
// when the token has no profile claims.
func profileFromClaims(c *IDTokenClaims) *ProfileData {
	if !c.HasProfile() {
		return nil
	}
	return &ProfileData{
		Email:      c.Email,
		Name:       c.Name,
		GivenName:  c.GivenName,
		FamilyName: c.FamilyName,
		ImageURL:   c.Picture,
		Locale:     parseLocale(c.Locale),
	}
}

// profileFromUserInfo maps a user info response.
func profileFromUserInfo(body []byte) (*ProfileData, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("user info response is not JSON: %w", ErrUnexpected)
	}
	r := gjson.ParseBytes(body)
	p := &ProfileData{
		Email:      r.Get("email").String(),
		Name:       r.Get("name").String(),
		GivenName:  r.Get("given_name").String(),
		FamilyName: r.Get("family_name").String(),
		ImageURL:   r.Get("picture").String(),
		Locale:     parseLocale(r.Get("locale").String()),
	}
	if p.Email == "" && p.Name == "" {
		return nil, fmt.Errorf("user info response has no profile: %w", ErrUnexpected)
	}
	return p, nil
}

// ProfileResolver resolves the basic profile of a flow, from the ID token
// claims when present, otherwise from the user info endpoint.
type ProfileResolver struct {
	userInfoURL string
	fetcher     Fetcher
}

// NewProfileResolver creates a new ProfileResolver.
func NewProfileResolver(userInfoURL string, fetcher Fetcher) (*ProfileResolver, error) {
	const op = "NewProfileResolver"
	if fetcher == nil {
		return nil, fmt.Errorf("%s: fetcher is nil: %w", op, ErrNilParameter)
	}
	return &ProfileResolver{userInfoURL: userInfoURL, fetcher: fetcher}, nil
}

// Resolve returns the profile for the auth state.  Errors wrap
// ErrProfileFetch.
func (r *ProfileResolver) Resolve(ctx context.Context, state *AuthState) (*ProfileData, error) {
	const op = "ProfileResolver.Resolve"
	if state == nil || state.Tokens == nil {
		return nil, fmt.Errorf("%s: no tokens: %w: %w", op, ErrProfileFetch, ErrNilParameter)
	}
	if p := profileFromClaims(state.Claims); p != nil {
		return p, nil
	}
	if r.userInfoURL == "" {
		return nil, fmt.Errorf("%s: no user info endpoint: %w: %w", op, ErrProfileFetch, ErrInvalidConfiguration)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrProfileFetch, err)
	}
	req.Header.Set("Accept", "application/json")
	body, err := r.fetcher.Fetch(ctx, req, BearerAuthorizer(state.Tokens.AccessToken))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrProfileFetch, err)
	}
	p, err := profileFromUserInfo(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrProfileFetch, err)
	}
	if p.Email == "" && state.Claims != nil {
		p.Email = state.Claims.Email
	}
	return p, nil
}

// ResolveStep returns the pipeline step resolving the profile.  The step's
// error is a *ProfileError carrying the tokens already obtained.
func (r *ProfileResolver) ResolveStep() Step {
	return Step{
		Name: "profile",
		Run: func(ctx context.Context, f *AuthFlow) error {
			state := f.AuthState()
			p, err := r.Resolve(ctx, state)
			if err != nil {
				pErr := &ProfileError{Err: err}
				if state != nil {
					pErr.Tokens = state.Tokens.Clone()
				}
				return pErr
			}
			f.setProfile(p)
			return nil
		},
	}
}
