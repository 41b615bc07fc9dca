// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		t.Setenv("GSI_CLIENT_ID", "client")
		t.Setenv("XDG_CONFIG_HOME", t.TempDir())
		t.Setenv("HOME", t.TempDir())

		c, err := loadConfig()
		require.NoError(err)
		assert.Equal("client", c.ClientID)
		assert.Equal(storeBolt, c.Store)
		assert.Equal("credentials.db", filepath.Base(c.StorePath))
		assert.Equal(5*time.Minute, c.Timeout)
		assert.Equal("127.0.0.1:0", c.callbackAddr())
		assert.Empty(c.Scopes)
	})

	t.Run("overrides", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		t.Setenv("GSI_CLIENT_ID", "client")
		t.Setenv("GSI_STORE", storeKeyring)
		t.Setenv("GSI_SCOPES", "a,b")
		t.Setenv("GSI_TIMEOUT", "30s")
		t.Setenv("GSI_NO_BROWSER", "true")
		t.Setenv("GSI_PORT", "8085")
		t.Setenv("GSI_LOGIN_HINT", "alice@example.com")

		c, err := loadConfig()
		require.NoError(err)
		assert.Equal(storeKeyring, c.Store)
		assert.Equal([]string{"a", "b"}, c.Scopes)
		assert.Equal(30*time.Second, c.Timeout)
		assert.True(c.NoBrowser)
		assert.Equal("127.0.0.1:8085", c.callbackAddr())
		assert.Equal("alice@example.com", c.LoginHint)
	})

	t.Run("missing-client-id", func(t *testing.T) {
		t.Setenv("GSI_CLIENT_ID", "")
		_, err := loadConfig()
		assert.Error(t, err)
	})

	t.Run("unknown-store", func(t *testing.T) {
		t.Setenv("GSI_CLIENT_ID", "client")
		t.Setenv("GSI_STORE", "floppy")
		_, err := loadConfig()
		assert.ErrorContains(t, err, "floppy")
	})

	t.Run("bad-port", func(t *testing.T) {
		t.Setenv("GSI_CLIENT_ID", "client")
		t.Setenv("GSI_PORT", "70000")
		_, err := loadConfig()
		assert.ErrorContains(t, err, "GSI_PORT")
	})

	t.Run("bad-timeout", func(t *testing.T) {
		t.Setenv("GSI_CLIENT_ID", "client")
		t.Setenv("GSI_TIMEOUT", "-1s")
		_, err := loadConfig()
		assert.Error(t, err)
	})
}
