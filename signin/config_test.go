// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	t.Parallel()
	const clientID = "123-abc.apps.googleusercontent.com"
	testNow := func() time.Time { return time.Unix(1700000000, 0) }

	tests := []struct {
		name      string
		clientID  string
		opts      []Option
		want      func(*testing.T, *Config)
		wantErr   bool
		wantIsErr error
	}{
		{
			name:     "defaults",
			clientID: clientID,
			want: func(t *testing.T, c *Config) {
				assert := assert.New(t)
				assert.Equal(clientID, c.ClientID)
				assert.Equal("com.googleusercontent.apps.123-abc:/oauth2callback", c.RedirectURL)
				assert.True(c.BasicProfile)
				assert.Equal(GoogleEndpoints, c.Endpoints)
				assert.Equal(DefaultExpirySkew, c.ExpirySkew)
				assert.Empty(c.DeviceID)
				assert.False(c.IDTokenVerification)
			},
		},
		{
			name:     "all-options",
			clientID: clientID,
			opts: []Option{
				WithClientSecret("secret"),
				WithServerClientID("server-id"),
				WithHostedDomain("example.com"),
				WithOpenIDRealm("https://example.com"),
				WithRedirectURL("http://127.0.0.1:8080/callback"),
				WithBasicProfile(false),
				WithEMMSupport("1"),
				WithDeviceID("device-1"),
				WithIDTokenVerification(),
				WithNow(testNow),
				WithExpirySkew(time.Minute * 2),
				WithLogger(hclog.NewNullLogger()),
			},
			want: func(t *testing.T, c *Config) {
				assert := assert.New(t)
				assert.Equal(ClientSecret("secret"), c.ClientSecret)
				assert.Equal("server-id", c.ServerClientID)
				assert.Equal("server-id", c.audience())
				assert.Equal("example.com", c.HostedDomain)
				assert.Equal("https://example.com", c.OpenIDRealm)
				assert.Equal("http://127.0.0.1:8080/callback", c.RedirectURL)
				assert.False(c.BasicProfile)
				assert.Equal("1", c.EMMSupport)
				assert.Equal("device-1", c.DeviceID)
				assert.True(c.IDTokenVerification)
				assert.Equal(testNow(), c.Now())
				assert.Equal(2*time.Minute, c.expirySkew())
				assert.NotNil(c.Logger)
			},
		},
		{
			name:     "emm-generates-device-id",
			clientID: clientID,
			opts:     []Option{WithEMMSupport("1")},
			want: func(t *testing.T, c *Config) {
				assert.NotEmpty(t, c.DeviceID)
			},
		},
		{
			name:      "missing-client-id",
			wantErr:   true,
			wantIsErr: ErrInvalidConfiguration,
		},
		{
			name:      "bad-redirect",
			clientID:  clientID,
			opts:      []Option{WithRedirectURL("no-scheme")},
			wantErr:   true,
			wantIsErr: ErrInvalidConfiguration,
		},
		{
			name:      "bad-endpoint",
			clientID:  clientID,
			opts:      []Option{WithEndpoints(Endpoints{AuthURL: "ftp://example.com", TokenURL: "https://example.com/token"})},
			wantErr:   true,
			wantIsErr: ErrInvalidConfiguration,
		},
		{
			name:     "verification-without-jwks",
			clientID: clientID,
			opts: []Option{
				WithEndpoints(Endpoints{AuthURL: "https://example.com/auth", TokenURL: "https://example.com/token"}),
				WithIDTokenVerification(),
			},
			wantErr:   true,
			wantIsErr: ErrInvalidConfiguration,
		},
		{
			name:      "attestation-required-without-provider",
			clientID:  clientID,
			opts:      []Option{WithAttestation(nil, true)},
			wantErr:   true,
			wantIsErr: ErrInvalidConfiguration,
		},
		{
			name:      "negative-skew",
			clientID:  clientID,
			opts:      []Option{WithExpirySkew(-time.Second)},
			wantErr:   true,
			wantIsErr: ErrInvalidConfiguration,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := NewConfig(tt.clientID, tt.opts...)
			if tt.wantErr {
				require.Error(err)
				assert.Nil(got)
				if tt.wantIsErr != nil {
					assert.ErrorIs(err, tt.wantIsErr)
				}
				return
			}
			require.NoError(err)
			tt.want(t, got)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	var c *Config
	err := c.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
	assert.ErrorIs(t, err, ErrNilParameter)
}

func TestDefaultRedirectURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		clientID string
		want     string
	}{
		{"123-abc.apps.googleusercontent.com", "com.googleusercontent.apps.123-abc:/oauth2callback"},
		{"single", "single:/oauth2callback"},
		{"a.b", "b.a:/oauth2callback"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DefaultRedirectURL(tt.clientID))
	}
}

func TestConfig_HTTPClient(t *testing.T) {
	t.Parallel()
	tp := StartTestProvider(t)

	t.Run("provided", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		want := &http.Client{}
		c, err := NewConfig("client", WithHTTPClient(want))
		require.NoError(err)
		got, err := c.HTTPClient()
		require.NoError(err)
		assert.Same(want, got)
	})
	t.Run("provider-ca", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := NewConfig("client", WithProviderCA(tp.CACert()))
		require.NoError(err)
		client, err := c.HTTPClient()
		require.NoError(err)
		resp, err := client.Get(tp.Addr() + "/.well-known/openid-configuration")
		require.NoError(err)
		defer resp.Body.Close()
		assert.Equal(http.StatusOK, resp.StatusCode)
	})
	t.Run("bad-ca", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := NewConfig("client", WithProviderCA("not a pem"))
		require.NoError(err)
		_, err = c.HTTPClient()
		require.Error(err)
		assert.ErrorIs(err, ErrInvalidCACert)
	})
}

func TestClientSecret_Redacted(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	s := ClientSecret("super secret")
	assert.Equal(RedactedClientSecret, s.String())
	assert.Equal(RedactedClientSecret, fmt.Sprintf("%s", s))
	b, err := json.Marshal(s)
	require.NoError(err)
	assert.Equal(fmt.Sprintf("%q", RedactedClientSecret), string(b))
}
