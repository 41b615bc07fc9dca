// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

// TestGenerateKeys will generate a test ECDSA P-256 pub/priv key pair
func TestGenerateKeys(t *testing.T) (pub, priv string) {
	t.Helper()
	require := require.New(t)
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(err)

	{
		derBytes, err := x509.MarshalECPrivateKey(privateKey)
		require.NoError(err)
		priv = string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: derBytes}))
	}
	{
		derBytes, err := x509.MarshalPKIXPublicKey(privateKey.Public())
		require.NoError(err)
		pub = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: derBytes}))
	}
	return pub, priv
}

// TestSignJWT will bundle the provided claims into a test signed JWT. The provided key
// must be ECDSA.
func TestSignJWT(t *testing.T, ecdsaPrivKeyPEM string, claims jwt.Claims, privateClaims interface{}) string {
	t.Helper()
	raw, err := signJWT(ecdsaPrivKeyPEM, claims, privateClaims)
	require.NoError(t, err)
	return raw
}

// signJWT signs the claims with an ECDSA key using ES256.
func signJWT(ecdsaPrivKeyPEM string, claims jwt.Claims, privateClaims interface{}) (string, error) {
	block, _ := pem.Decode([]byte(ecdsaPrivKeyPEM))
	if block == nil {
		return "", fmt.Errorf("signJWT: invalid private key PEM: %w", ErrInvalidParameter)
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("signJWT: %w", err)
	}
	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.ES256, Key: jose.JSONWebKey{Key: key, KeyID: testKeyID}},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("signJWT: %w", err)
	}
	builder := jwt.Signed(sig).Claims(claims)
	if privateClaims != nil {
		builder = builder.Claims(privateClaims)
	}
	return builder.Serialize()
}

// TestUserAgent is a UserAgent which follows the authorization request to
// the provider and returns the provider's redirect, as a browser would
// after the user approved the request.
type TestUserAgent struct {
	client *http.Client

	mu        sync.Mutex
	presented []*AuthorizationRequest
}

// NewTestUserAgent creates a TestUserAgent sending requests with the client,
// typically TestProvider.HTTPClient.
func NewTestUserAgent(client *http.Client) *TestUserAgent {
	c := *client
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &TestUserAgent{client: &c}
}

// Present satisfies the UserAgent interface.
func (a *TestUserAgent) Present(ctx context.Context, req *AuthorizationRequest) (*url.URL, error) {
	a.mu.Lock()
	a.presented = append(a.presented, req)
	a.mu.Unlock()

	r, err := http.NewRequestWithContext(ctx, http.MethodGet, req.AuthURL(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		return nil, fmt.Errorf("TestUserAgent: unexpected status %d", resp.StatusCode)
	}
	return url.Parse(resp.Header.Get("Location"))
}

// Presented returns the requests presented so far.
func (a *TestUserAgent) Presented() []*AuthorizationRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*AuthorizationRequest(nil), a.presented...)
}

// TestRedirect returns the redirect URL of the request carrying the
// parameters and the request's state.
func TestRedirect(req *AuthorizationRequest, params map[string]string) *url.URL {
	u, err := url.Parse(req.RedirectURL())
	if err != nil {
		return nil
	}
	q := url.Values{"state": {req.State()}}
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u
}
