// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// Command gsi signs a Google account in from the command line and prints
// the signed in user or a fresh access token.
//
// Usage:
//
//	gsi signin [login-hint]
//	gsi restore
//	gsi add-scopes scope...
//	gsi verify age-over-18
//	gsi token
//	gsi signout
//	gsi disconnect
//
// Configuration is read from GSI_* environment variables; see cliConfig.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/go-gsi/signin"
	"github.com/hashicorp/go-gsi/signin/callback"
	"github.com/hashicorp/go-gsi/signin/credstore"
)

const usage = `usage: gsi <command> [args]

commands:
  signin [login-hint]   sign in interactively
  restore               restore the stored sign-in
  add-scopes scope...   grant additional scopes to the stored sign-in
  verify age-over-18    verify account details
  token                 print a fresh access token of the stored sign-in
  signout               forget the stored sign-in
  disconnect            revoke the stored sign-in's tokens and forget it
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "help" {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "gsi",
		Level:  hclog.LevelFromString(cfg.LogLevel),
		Output: stderr,
	})

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	a, err := newApp(cfg, logger, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	defer a.close()

	if err := a.dispatch(ctx, args[0], args[1:], stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(stderr, usage)
			return 2
		}
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

var errUsage = errors.New("usage")

type app struct {
	client *signin.Client
	agent  *callback.Loopback
	closer func() error
	logger hclog.Logger

	// defaults for interactive flows
	scopes []string
	hint   string
}

func newApp(cfg *cliConfig, logger hclog.Logger, prompt io.Writer) (*app, error) {
	const op = "newApp"
	agentOpts := []callback.Option{
		callback.WithAddr(cfg.callbackAddr()),
		callback.WithLogger(logger.Named("callback")),
	}
	if cfg.NoBrowser {
		agentOpts = append(agentOpts, callback.WithOpenURL(func(u string) error {
			_, err := fmt.Fprintf(prompt, "Complete the sign-in by visiting:\n\n    %s\n\n", u)
			return err
		}))
	}
	agent, err := callback.NewLoopback(agentOpts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	store, closer, err := openStore(cfg)
	if err != nil {
		_ = agent.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	opts := []signin.Option{
		signin.WithRedirectURL(agent.RedirectURL()),
		signin.WithLogger(logger.Named("signin")),
	}
	if cfg.ClientSecret != "" {
		opts = append(opts, signin.WithClientSecret(signin.ClientSecret(cfg.ClientSecret)))
	}
	if cfg.ServerClientID != "" {
		opts = append(opts, signin.WithServerClientID(cfg.ServerClientID))
	}
	if cfg.HostedDomain != "" {
		opts = append(opts, signin.WithHostedDomain(cfg.HostedDomain))
	}
	sc, err := signin.NewConfig(cfg.ClientID, opts...)
	if err == nil {
		var c *signin.Client
		c, err = signin.NewClient(sc, store, agent, signin.WithLogger(logger.Named("client")))
		if err == nil {
			return &app{client: c, agent: agent, closer: closer, logger: logger, scopes: cfg.Scopes, hint: cfg.LoginHint}, nil
		}
	}
	_ = agent.Close()
	_ = closer()
	return nil, fmt.Errorf("%s: %w", op, err)
}

func openStore(cfg *cliConfig) (signin.CredentialStore, func() error, error) {
	switch cfg.Store {
	case storeMemory:
		return signin.NewMemoryStore(), func() error { return nil }, nil
	case storeKeyring:
		k, err := credstore.NewKeyring(cfg.KeyringService, cfg.ClientID)
		if err != nil {
			return nil, nil, err
		}
		return k, func() error { return nil }, nil
	default:
		b, err := credstore.OpenBolt(cfg.StorePath, cfg.ClientID)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	}
}

func (a *app) close() {
	a.client.Done()
	if err := a.agent.Close(); err != nil {
		a.logger.Warn("closing callback server", "error", err)
	}
	if err := a.closer(); err != nil {
		a.logger.Warn("closing credential store", "error", err)
	}
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string, stdout io.Writer) error {
	switch cmd {
	case "signin":
		if len(args) > 1 {
			return errUsage
		}
		hint := a.hint
		if len(args) == 1 {
			hint = args[0]
		}
		u, err := a.client.SignIn(ctx, hint, signin.WithScopes(a.scopes...))
		if err != nil {
			return err
		}
		return printJSON(stdout, summarize(u))

	case "restore":
		u, err := a.client.RestorePreviousSignIn(ctx)
		if err != nil {
			return err
		}
		return printJSON(stdout, summarize(u))

	case "add-scopes":
		if len(args) == 0 {
			return errUsage
		}
		if _, err := a.client.RestorePreviousSignIn(ctx); err != nil {
			return err
		}
		u, err := a.client.AddScopes(ctx, args)
		if err != nil {
			return err
		}
		return printJSON(stdout, summarize(u))

	case "verify":
		kinds, err := parseKinds(args)
		if err != nil {
			return err
		}
		res, err := a.client.VerifyAccountDetails(ctx, kinds, a.hint)
		if err != nil {
			return err
		}
		verified := make([]string, 0, len(res.VerifiedDetails()))
		for _, d := range res.VerifiedDetails() {
			verified = append(verified, d.Kind.String())
		}
		return printJSON(stdout, map[string]any{"verified": verified})

	case "token":
		if len(args) != 0 {
			return errUsage
		}
		u, err := a.client.RestorePreviousSignIn(ctx)
		if err != nil {
			return err
		}
		tokens, err := u.DoWithFreshTokens(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, string(tokens.AccessToken))
		return err

	case "signout":
		return a.client.SignOut()

	case "disconnect":
		return a.client.Disconnect(ctx)
	}
	return errUsage
}

func parseKinds(args []string) ([]signin.RestrictedScopeKind, error) {
	if len(args) == 0 {
		return nil, errUsage
	}
	kinds := make([]signin.RestrictedScopeKind, 0, len(args))
	for _, arg := range args {
		switch strings.ToLower(arg) {
		case signin.KindAgeOver18.String():
			kinds = append(kinds, signin.KindAgeOver18)
		default:
			return nil, fmt.Errorf("unknown account detail %q", arg)
		}
	}
	return kinds, nil
}

type userSummary struct {
	UserID         string    `json:"user_id"`
	Email          string    `json:"email,omitempty"`
	Name           string    `json:"name,omitempty"`
	Locale         string    `json:"locale,omitempty"`
	HostedDomain   string    `json:"hosted_domain,omitempty"`
	ServerAuthCode string    `json:"server_auth_code,omitempty"`
	GrantedScopes  []string  `json:"granted_scopes,omitempty"`
	Expiry         time.Time `json:"access_token_expiry,omitempty"`
}

func summarize(u *signin.GoogleUser) userSummary {
	s := userSummary{
		UserID:         u.UserID(),
		Email:          u.Email(),
		HostedDomain:   u.HostedDomain(),
		ServerAuthCode: u.ServerAuthCode(),
		GrantedScopes:  u.GrantedScopes(),
	}
	if p := u.Profile(); p != nil {
		s.Name = p.Name
		if !p.Locale.IsRoot() {
			s.Locale = p.Locale.String()
		}
	}
	if t := u.Tokens(); t != nil {
		s.Expiry = t.AccessTokenExpiry
	}
	return s
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}
