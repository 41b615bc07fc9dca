// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

const testKeyID = "test-key"

// TestProvider is a local identity provider serving the authorization,
// token, user info, revocation and key endpoints, which makes writing tests
// much easier.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	jwks            *jose.JSONWebKeySet
	ecdsaPublicKey  string
	ecdsaPrivateKey string

	mu                 sync.Mutex
	clientID           string
	clientSecret       string
	expectedAuthCode   string
	authError          string
	authParams         map[string]string
	replySubject       string
	replyEmail         string
	replyAccessToken   string
	replyRefreshToken  string
	replyExpiry        time.Duration
	replyIDTokenExpiry time.Duration
	replyScope         string
	replyServerCode    string
	replyUserinfo      map[string]interface{}
	customClaims       map[string]interface{}
	customAudience     string
	omitIDToken        bool
	disableUserInfo    bool
	tokenError         *testTokenError
	refreshError       *testTokenError
	tokenDelay         time.Duration
	revokeStatus       int

	lastChallenge string
	lastAuthQuery url.Values
	lastTokenForm url.Values
	tokenRequests map[string]int
	userInfoCalls int
	revoked       []string
}

type testTokenError struct {
	status int
	code   string
	desc   string
}

// StartTestProvider creates a disposable TestProvider which is stopped when
// the test completes.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		clientID:           "test-client-id",
		expectedAuthCode:   "test-code",
		replySubject:       "alice-subject",
		replyEmail:         "alice@example.com",
		replyAccessToken:   "test-access-token",
		replyRefreshToken:  "test-refresh-token",
		replyExpiry:        time.Hour,
		replyIDTokenExpiry: time.Hour,
		replyUserinfo: map[string]interface{}{
			"sub":         "alice-subject",
			"email":       "alice@example.com",
			"name":        "Alice Doe",
			"given_name":  "Alice",
			"family_name": "Doe",
			"picture":     "https://lh3.googleusercontent.com/a/alice=s96-c",
			"locale":      "en-GB",
		},
		revokeStatus:  http.StatusOK,
		tokenRequests: map[string]int{},
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	p.jwks = testJWKS(t, p.ecdsaPublicKey)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()
	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the current base URL for the test provider's running webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// HTTPClient returns a client trusting the test provider's certificate.
func (p *TestProvider) HTTPClient() *http.Client { return p.httpServer.Client() }

// SigningKeys returns the test provider's pem-encoded keys used to sign JWTs.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

// Endpoints returns the test provider's endpoints.
func (p *TestProvider) Endpoints() Endpoints {
	return Endpoints{
		Issuer:      p.Addr(),
		AuthURL:     p.Addr() + "/auth",
		TokenURL:    p.Addr() + "/token",
		UserInfoURL: p.Addr() + "/userinfo",
		RevokeURL:   p.Addr() + "/revoke",
		JWKSURL:     p.Addr() + "/certs",
	}
}

// SetClientCreds is for configuring the client information required for the
// token requests.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the auth code to return from /auth and the
// allowed auth code for /token.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetAuthError makes /auth redirect with the error code.
func (p *TestProvider) SetAuthError(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authError = code
}

// SetAuthParams configures additional parameters returned by /auth.
func (p *TestProvider) SetAuthParams(params map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authParams = params
}

// SetSubject configures the subject of issued ID tokens.
func (p *TestProvider) SetSubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replySubject = sub
}

// SetEmail configures the email of issued ID tokens.
func (p *TestProvider) SetEmail(email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyEmail = email
}

// SetTokens configures the access and refresh tokens issued by /token.
// Refreshed access tokens carry a numeric suffix.
func (p *TestProvider) SetTokens(accessToken, refreshToken string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyAccessToken = accessToken
	p.replyRefreshToken = refreshToken
}

// SetExpiry configures the lifetime of issued access and ID tokens.
func (p *TestProvider) SetExpiry(accessToken, idToken time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyExpiry = accessToken
	p.replyIDTokenExpiry = idToken
}

// SetScope configures the scope returned by /token.  When empty no scope is
// returned.
func (p *TestProvider) SetScope(scope string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyScope = scope
}

// SetServerCode configures the server_code returned with code exchanges.
func (p *TestProvider) SetServerCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyServerCode = code
}

// SetUserInfoReply configures the /userinfo response.
func (p *TestProvider) SetUserInfoReply(reply map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyUserinfo = reply
}

// SetCustomClaims lets you set claims to return in the ID tokens issued.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetCustomAudience configures the audience of issued ID tokens.
func (p *TestProvider) SetCustomAudience(customAudience string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = customAudience
}

// OmitIDTokens turns off issuing of ID tokens.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// DisableUserInfo makes /userinfo respond with not found.
func (p *TestProvider) DisableUserInfo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = true
}

// SetTokenError makes code exchanges fail with the error.  An empty code
// clears the error.
func (p *TestProvider) SetTokenError(status int, code, desc string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenError = newTestTokenError(status, code, desc)
}

// SetRefreshError makes refresh grants fail with the error.  An empty code
// clears the error.
func (p *TestProvider) SetRefreshError(status int, code, desc string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshError = newTestTokenError(status, code, desc)
}

func newTestTokenError(status int, code, desc string) *testTokenError {
	if code == "" {
		return nil
	}
	return &testTokenError{status: status, code: code, desc: desc}
}

// SetTokenDelay delays every /token response.
func (p *TestProvider) SetTokenDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenDelay = d
}

// SetRevokeStatus configures the status of /revoke responses.
func (p *TestProvider) SetRevokeStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revokeStatus = status
}

// TokenRequests returns the number of /token requests of the grant type.
func (p *TestProvider) TokenRequests(grantType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequests[grantType]
}

// UserInfoCalls returns the number of /userinfo requests.
func (p *TestProvider) UserInfoCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userInfoCalls
}

// LastAuthQuery returns the query of the latest /auth request.
func (p *TestProvider) LastAuthQuery() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAuthQuery
}

// LastTokenForm returns the form of the latest /token request.
func (p *TestProvider) LastTokenForm() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTokenForm
}

// Revoked returns the tokens revoked so far.
func (p *TestProvider) Revoked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.revoked...)
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthRedirect(w http.ResponseWriter, req *http.Request, params url.Values) {
	qv := req.URL.Query()
	params.Set("state", qv.Get("state"))
	http.Redirect(w, req, qv.Get("redirect_uri")+"?"+params.Encode(), http.StatusFound)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	params := url.Values{"error": {errorCode}}
	if errorMessage != "" {
		params.Set("error_description", errorMessage)
	}
	p.writeAuthRedirect(w, req, params)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}

	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path == "/token" {
		p.mu.Lock()
		delay := p.tokenDelay
		p.mu.Unlock()
		time.Sleep(delay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ep := p.Endpoints()
		reply := struct {
			Issuer             string `json:"issuer"`
			AuthEndpoint       string `json:"authorization_endpoint"`
			TokenEndpoint      string `json:"token_endpoint"`
			JWKSURI            string `json:"jwks_uri"`
			UserinfoEndpoint   string `json:"userinfo_endpoint,omitempty"`
			RevocationEndpoint string `json:"revocation_endpoint"`
		}{
			Issuer:             ep.Issuer,
			AuthEndpoint:       ep.AuthURL,
			TokenEndpoint:      ep.TokenURL,
			JWKSURI:            ep.JWKSURL,
			UserinfoEndpoint:   ep.UserInfoURL,
			RevocationEndpoint: ep.RevokeURL,
		}
		if p.disableUserInfo {
			reply.UserinfoEndpoint = ""
		}
		_ = p.writeJSON(w, &reply)

	case "/auth":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		qv := req.URL.Query()
		p.lastAuthQuery = qv

		switch {
		case qv.Get("redirect_uri") == "":
			w.WriteHeader(http.StatusBadRequest)
			return
		case qv.Get("state") == "":
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
			return
		case qv.Get("response_type") != "code":
			p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
			return
		case qv.Get("client_id") != p.clientID:
			p.writeAuthErrorResponse(w, req, "unauthorized_client", "")
			return
		case !strings.Contains(" "+qv.Get("scope")+" ", " openid "):
			p.writeAuthErrorResponse(w, req, "invalid_scope", "")
			return
		case qv.Get("code_challenge") == "" || qv.Get("code_challenge_method") != "S256":
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing code challenge")
			return
		case p.authError != "":
			p.writeAuthErrorResponse(w, req, p.authError, "")
			return
		case p.expectedAuthCode == "":
			p.writeAuthErrorResponse(w, req, "access_denied", "")
			return
		}
		p.lastChallenge = qv.Get("code_challenge")
		params := url.Values{"code": {p.expectedAuthCode}}
		for k, v := range p.authParams {
			params.Set(k, v)
		}
		p.writeAuthRedirect(w, req, params)

	case "/certs":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, p.jwks)

	case "/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := req.ParseForm(); err != nil {
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "bad form")
			return
		}
		p.lastTokenForm = req.PostForm
		grantType := req.PostForm.Get("grant_type")
		p.tokenRequests[grantType]++
		if req.PostForm.Get("client_id") != p.clientID || req.PostForm.Get("client_secret") != p.clientSecret {
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "unexpected client credentials")
			return
		}

		var refreshing bool
		switch grantType {
		case "authorization_code":
			switch {
			case p.tokenError != nil:
				_ = p.writeTokenErrorResponse(w, p.tokenError.status, p.tokenError.code, p.tokenError.desc)
				return
			case req.PostForm.Get("code") != p.expectedAuthCode:
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected auth code")
				return
			case p.lastChallenge != "" && testChallenge(req.PostForm.Get("code_verifier")) != p.lastChallenge:
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "code verifier mismatch")
				return
			}
		case "refresh_token":
			switch {
			case p.refreshError != nil:
				_ = p.writeTokenErrorResponse(w, p.refreshError.status, p.refreshError.code, p.refreshError.desc)
				return
			case req.PostForm.Get("refresh_token") != p.replyRefreshToken:
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected refresh token")
				return
			}
			refreshing = true
		default:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "bad grant_type")
			return
		}

		reply := struct {
			AccessToken  string `json:"access_token"`
			TokenType    string `json:"token_type"`
			ExpiresIn    int64  `json:"expires_in"`
			RefreshToken string `json:"refresh_token,omitempty"`
			IDToken      string `json:"id_token,omitempty"`
			Scope        string `json:"scope,omitempty"`
			ServerCode   string `json:"server_code,omitempty"`
		}{
			AccessToken: p.replyAccessToken,
			TokenType:   "Bearer",
			ExpiresIn:   int64(p.replyExpiry / time.Second),
			Scope:       p.replyScope,
		}
		if refreshing {
			reply.AccessToken = fmt.Sprintf("%s-%d", p.replyAccessToken, p.tokenRequests["refresh_token"])
		} else {
			reply.RefreshToken = p.replyRefreshToken
			reply.ServerCode = p.replyServerCode
		}
		if !p.omitIDToken {
			idToken, err := p.idToken()
			if err != nil {
				_ = p.writeTokenErrorResponse(w, http.StatusInternalServerError, "server_error", err.Error())
				return
			}
			reply.IDToken = idToken
		}
		_ = p.writeJSON(w, &reply)

	case "/userinfo":
		p.userInfoCalls++
		if p.disableUserInfo {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !strings.HasPrefix(req.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = p.writeJSON(w, p.replyUserinfo)

	case "/revoke":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := req.ParseForm(); err != nil || req.PostForm.Get("token") == "" {
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "missing token")
			return
		}
		if p.revokeStatus != http.StatusOK {
			_ = p.writeTokenErrorResponse(w, p.revokeStatus, "invalid_token", "")
			return
		}
		p.revoked = append(p.revoked, req.PostForm.Get("token"))
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// idToken must be called with the lock held.
func (p *TestProvider) idToken() (string, error) {
	now := time.Now()
	stdClaims := jwt.Claims{
		Subject:   p.replySubject,
		Issuer:    p.Addr(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		Expiry:    jwt.NewNumericDate(now.Add(p.replyIDTokenExpiry)),
		Audience:  jwt.Audience{p.clientID},
	}
	if p.customAudience != "" {
		stdClaims.Audience = jwt.Audience{p.customAudience}
	}
	privateClaims := map[string]interface{}{}
	if p.replyEmail != "" {
		privateClaims["email"] = p.replyEmail
		privateClaims["email_verified"] = true
	}
	for k, v := range p.customClaims {
		privateClaims[k] = v
	}
	return signJWT(p.ecdsaPrivateKey, stdClaims, privateClaims)
}

func testChallenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}

// testJWKS converts a pem-encoded public key into JWKS data suitable for a
// verification endpoint response
func testJWKS(t *testing.T, pubKey string) *jose.JSONWebKeySet {
	t.Helper()
	require := require.New(t)

	block, _ := pem.Decode([]byte(pubKey))
	require.NotNil(block)

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(err)

	return &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       pub,
				KeyID:     testKeyID,
				Algorithm: string(jose.ES256),
				Use:       "sig",
			},
		},
	}
}
