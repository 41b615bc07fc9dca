// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"

	"github.com/hashicorp/go-gsi/internal/strutils"
)

// ClientSecret is an oauth client secret.  Installed applications usually
// have none.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

const (
	// CallbackPath is the path of the default redirect URL.
	CallbackPath = "/oauth2callback"

	// DefaultExpirySkew is the margin before expiry at which tokens are
	// refreshed.
	DefaultExpirySkew = 60 * time.Second

	// MinimumRestoredAccessTokenTimeToExpire is the minimum remaining lifetime
	// of a restored access token; shorter lived tokens are refreshed while
	// restoring a previous sign-in.
	MinimumRestoredAccessTokenTimeToExpire = 10 * time.Minute
)

// Endpoints are the identity provider endpoints used by the client.
type Endpoints struct {
	// Issuer is the expected "iss" of ID tokens.
	Issuer string

	AuthURL     string
	TokenURL    string
	UserInfoURL string
	RevokeURL   string

	// JWKSURL is only used when ID token verification is enabled.
	JWKSURL string
}

// GoogleEndpoints are the Google production endpoints.
var GoogleEndpoints = Endpoints{
	Issuer:      "https://accounts.google.com",
	AuthURL:     "https://accounts.google.com/o/oauth2/v2/auth",
	TokenURL:    "https://oauth2.googleapis.com/token",
	UserInfoURL: "https://www.googleapis.com/oauth2/v3/userinfo",
	RevokeURL:   "https://accounts.google.com/o/oauth2/revoke",
	JWKSURL:     "https://www.googleapis.com/oauth2/v3/certs",
}

// Config represents the configuration of a sign-in client.
type Config struct {
	// ClientID is the installed application's OAuth client id.
	ClientID string

	// ClientSecret is the optional client secret.
	ClientSecret ClientSecret

	// ServerClientID is the optional client id of the application's backend.
	// When set, ID tokens are issued for it and a server auth code is
	// returned.
	ServerClientID string

	// HostedDomain restricts sign-in to accounts of a Google Workspace domain.
	HostedDomain string

	// OpenIDRealm is the optional OpenID 2.0 realm for migrating users.
	OpenIDRealm string

	// RedirectURL defaults to DefaultRedirectURL(ClientID).
	RedirectURL string

	// BasicProfile requests the email and profile scopes and resolves the
	// user's ProfileData.  Defaults to true.
	BasicProfile bool

	// EMMSupport is the enterprise mobility management support version.  EMM
	// handling is active when it is non-empty.
	EMMSupport string

	// DeviceID is sent with EMM requests.  A random id is generated when EMM
	// is active and none is provided.
	DeviceID string

	// PasscodeInfo reports the device passcode state sent when the provider
	// requires it.
	PasscodeInfo func() string

	Endpoints Endpoints

	// ProviderCA is an optional CA cert to use when sending requests to the
	// provider.
	ProviderCA string

	// IDTokenVerification enables verifying the ID token signature and
	// audience against the provider's JWKS.
	IDTokenVerification bool

	Attestation         AttestationProvider
	AttestationRequired bool

	Logger     hclog.Logger
	NowFunc    func() time.Time
	ExpirySkew time.Duration

	httpClient *http.Client
}

// NewConfig composes a new sign-in config.
//
// Supported options:
//   - WithClientSecret
//   - WithServerClientID
//   - WithHostedDomain
//   - WithOpenIDRealm
//   - WithRedirectURL
//   - WithBasicProfile
//   - WithEMMSupport
//   - WithDeviceID
//   - WithPasscodeInfo
//   - WithEndpoints
//   - WithProviderCA
//   - WithHTTPClient
//   - WithIDTokenVerification
//   - WithAttestation
//   - WithLogger
//   - WithNow
//   - WithExpirySkew
func NewConfig(clientID string, opt ...Option) (*Config, error) {
	const op = "NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		ClientID:            clientID,
		ClientSecret:        opts.withClientSecret,
		ServerClientID:      opts.withServerClientID,
		HostedDomain:        opts.withHostedDomain,
		OpenIDRealm:         opts.withOpenIDRealm,
		RedirectURL:         opts.withRedirectURL,
		BasicProfile:        opts.withBasicProfile,
		EMMSupport:          opts.withEMMSupport,
		DeviceID:            opts.withDeviceID,
		PasscodeInfo:        opts.withPasscodeInfo,
		Endpoints:           opts.withEndpoints,
		ProviderCA:          opts.withProviderCA,
		IDTokenVerification: opts.withIDTokenVerification,
		Attestation:         opts.withAttestation,
		AttestationRequired: opts.withAttestationRequired,
		Logger:              opts.withLogger,
		NowFunc:             opts.withNowFunc,
		ExpirySkew:          opts.withExpirySkew,
		httpClient:          opts.withHTTPClient,
	}
	if c.RedirectURL == "" && clientID != "" {
		c.RedirectURL = DefaultRedirectURL(clientID)
	}
	if c.EMMSupport != "" && c.DeviceID == "" {
		id, err := uuid.GenerateUUID()
		if err != nil {
			return nil, fmt.Errorf("%s: unable to generate device id: %w", op, err)
		}
		c.DeviceID = id
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}
	return c, nil
}

// Validate the config.  Every error wraps ErrInvalidConfiguration.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w: %w", op, ErrInvalidConfiguration, ErrNilParameter)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidConfiguration)
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidConfiguration)
	}
	u, err := url.Parse(c.RedirectURL)
	if err != nil {
		return fmt.Errorf("%s: redirect URL %q is invalid: %w: %w", op, c.RedirectURL, ErrInvalidConfiguration, err)
	}
	if u.Scheme == "" {
		return fmt.Errorf("%s: redirect URL %q has no scheme: %w", op, c.RedirectURL, ErrInvalidConfiguration)
	}
	for name, ep := range map[string]string{
		"authorization": c.Endpoints.AuthURL,
		"token":         c.Endpoints.TokenURL,
	} {
		if err := validateEndpoint(ep); err != nil {
			return fmt.Errorf("%s: %s endpoint: %w: %w", op, name, ErrInvalidConfiguration, err)
		}
	}
	if c.IDTokenVerification && (c.Endpoints.Issuer == "" || c.Endpoints.JWKSURL == "") {
		return fmt.Errorf("%s: id_token verification requires an issuer and JWKS URL: %w", op, ErrInvalidConfiguration)
	}
	if c.AttestationRequired && c.Attestation == nil {
		return fmt.Errorf("%s: attestation is required but no provider is configured: %w", op, ErrInvalidConfiguration)
	}
	if c.ExpirySkew < 0 {
		return fmt.Errorf("%s: expiry skew is negative: %w", op, ErrInvalidConfiguration)
	}
	return nil
}

func validateEndpoint(ep string) error {
	if ep == "" {
		return fmt.Errorf("URL is empty: %w", ErrInvalidParameter)
	}
	u, err := url.Parse(ep)
	if err != nil {
		return err
	}
	if !strutils.StrListContains([]string{"https", "http"}, u.Scheme) {
		return fmt.Errorf("URL %s schema is not http or https: %w", ep, ErrInvalidParameter)
	}
	return nil
}

// HTTPClient is a helper function that creates a new http client for the
// provider configured.  A client set with WithHTTPClient is returned as is.
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	if c.httpClient != nil {
		return c.httpClient, nil
	}
	tr := cleanhttp.DefaultPooledTransport()
	if c.ProviderCA != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(c.ProviderCA)); !ok {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		tr.TLSClientConfig = &tls.Config{
			RootCAs:    certPool,
			MinVersion: tls.VersionTLS12,
		}
	}
	return &http.Client{
		Transport: tr,
	}, nil
}

// Now returns the current time using the optional NowFunc.
func (c *Config) Now() time.Time {
	if c.NowFunc != nil {
		return c.NowFunc()
	}
	return time.Now()
}

// logger returns the configured logger or a null logger.
func (c *Config) logger() hclog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return hclog.NewNullLogger()
}

func (c *Config) expirySkew() time.Duration {
	if c.ExpirySkew > 0 {
		return c.ExpirySkew
	}
	return DefaultExpirySkew
}

// audience returns the client id ID tokens are issued to.
func (c *Config) audience() string {
	if c.ServerClientID != "" {
		return c.ServerClientID
	}
	return c.ClientID
}

// DefaultRedirectURL returns the redirect URL of an installed application:
// the client id with its dot separated components reversed, used as a
// custom scheme.  For example "123-abc.apps.googleusercontent.com" yields
// "com.googleusercontent.apps.123-abc:/oauth2callback".
func DefaultRedirectURL(clientID string) string {
	parts := strings.Split(clientID, ".")
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ".") + ":" + CallbackPath
}

// configOptions is the set of available options
type configOptions struct {
	withClientSecret        ClientSecret
	withServerClientID      string
	withHostedDomain        string
	withOpenIDRealm         string
	withRedirectURL         string
	withBasicProfile        bool
	withEMMSupport          string
	withDeviceID            string
	withPasscodeInfo        func() string
	withEndpoints           Endpoints
	withProviderCA          string
	withHTTPClient          *http.Client
	withIDTokenVerification bool
	withAttestation         AttestationProvider
	withAttestationRequired bool
	withLogger              hclog.Logger
	withNowFunc             func() time.Time
	withExpirySkew          time.Duration
}

// configDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func configDefaults() configOptions {
	return configOptions{
		withBasicProfile: true,
		withEndpoints:    GoogleEndpoints,
		withExpirySkew:   DefaultExpirySkew,
	}
}

// getConfigOpts gets the defaults and applies the opt overrides passed in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithClientSecret provides an optional client secret for the config
func WithClientSecret(secret ClientSecret) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withClientSecret = secret
		}
	}
}

// WithServerClientID provides an optional server client id for the config
func WithServerClientID(id string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withServerClientID = id
		}
	}
}

// WithHostedDomain provides an optional hosted domain for the config
func WithHostedDomain(domain string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withHostedDomain = domain
		}
	}
}

// WithOpenIDRealm provides an optional OpenID 2.0 realm for the config
func WithOpenIDRealm(realm string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withOpenIDRealm = realm
		}
	}
}

// WithRedirectURL provides an optional redirect URL for the config
func WithRedirectURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withRedirectURL = u
		}
	}
}

// WithBasicProfile enables or disables requesting the basic profile
func WithBasicProfile(enabled bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withBasicProfile = enabled
		}
	}
}

// WithEMMSupport provides an optional EMM support version for the config
func WithEMMSupport(version string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withEMMSupport = version
		}
	}
}

// WithDeviceID provides an optional EMM device id for the config
func WithDeviceID(id string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withDeviceID = id
		}
	}
}

// WithPasscodeInfo provides an optional EMM passcode info func for the config
func WithPasscodeInfo(fn func() string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withPasscodeInfo = fn
		}
	}
}

// WithEndpoints provides optional provider endpoints for the config
func WithEndpoints(ep Endpoints) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withEndpoints = ep
		}
	}
}

// WithProviderCA provides an optional CA cert for the config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithHTTPClient provides an optional http client for the config
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withHTTPClient = c
		}
	}
}

// WithIDTokenVerification enables ID token verification for the config
func WithIDTokenVerification() Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withIDTokenVerification = true
		}
	}
}

// WithAttestation provides an optional attestation provider for the config.
// When required is true, a failure to obtain an attestation token fails the
// token exchange.
func WithAttestation(p AttestationProvider, required bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withAttestation = p
			o.withAttestationRequired = required
		}
	}
}
