// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// gsi (Google Sign-In) provides packages which sign users in to their Google
// accounts from installed applications with the OAuth 2.0 authorization code
// flow and PKCE, and keep the resulting tokens fresh.
//
//   - signin: the client, authorization flows, tokens and users
//   - signin/callback: a loopback redirect receiver using the system browser
//   - signin/credstore: keyring and file backed credential stores
//
// See cmd/gsi for a command line client.
package gsi
