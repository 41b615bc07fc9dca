// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	storeBolt    = "bolt"
	storeKeyring = "keyring"
	storeMemory  = "memory"
)

// cliConfig is read from the environment.
type cliConfig struct {
	ClientID       string        `env:"GSI_CLIENT_ID,required,notEmpty"`
	ClientSecret   string        `env:"GSI_CLIENT_SECRET"`
	ServerClientID string        `env:"GSI_SERVER_CLIENT_ID"`
	HostedDomain   string        `env:"GSI_HOSTED_DOMAIN"`
	Scopes         []string      `env:"GSI_SCOPES" envSeparator:","`
	LoginHint      string        `env:"GSI_LOGIN_HINT"`
	Store          string        `env:"GSI_STORE" envDefault:"bolt"`
	StorePath      string        `env:"GSI_STORE_PATH"`
	KeyringService string        `env:"GSI_KEYRING_SERVICE" envDefault:"go-gsi"`
	Port           int           `env:"GSI_PORT" envDefault:"0"`
	Timeout        time.Duration `env:"GSI_TIMEOUT" envDefault:"5m"`
	LogLevel       string        `env:"GSI_LOG_LEVEL" envDefault:"warn"`
	NoBrowser      bool          `env:"GSI_NO_BROWSER"`
}

func loadConfig() (*cliConfig, error) {
	const op = "loadConfig"
	var c cliConfig
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("%s: parse env: %w", op, err)
	}
	switch c.Store {
	case storeBolt:
		if c.StorePath == "" {
			dir, err := os.UserConfigDir()
			if err != nil {
				return nil, fmt.Errorf("%s: GSI_STORE_PATH is empty and there is no user config dir: %w", op, err)
			}
			c.StorePath = filepath.Join(dir, "go-gsi", "credentials.db")
		}
	case storeKeyring, storeMemory:
	default:
		return nil, fmt.Errorf("%s: unknown GSI_STORE %q (want %s, %s or %s)", op, c.Store, storeBolt, storeKeyring, storeMemory)
	}
	if c.Port < 0 || c.Port > 65535 {
		return nil, fmt.Errorf("%s: GSI_PORT %d is out of range", op, c.Port)
	}
	if c.Timeout <= 0 {
		return nil, fmt.Errorf("%s: GSI_TIMEOUT must be positive", op)
	}
	return &c, nil
}

func (c *cliConfig) callbackAddr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(c.Port))
}
