// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

/*
signin is a package for signing users in to their Google accounts from
installed applications.

# Primary types provided by the package

* Config: the application's client id, redirect URL, optional server client
id, hosted domain, OpenID realm, EMM support and provider endpoints.

* Client: runs the sign-in flows.  SignIn and AddScopes are interactive,
RestorePreviousSignIn uses the stored tokens.  SignOut forgets the user and
Disconnect also revokes the tokens.  VerifyAccountDetails requests restricted
scopes without persisting a sign-in.

* GoogleUser: the signed in user with its profile, granted scopes and
tokens.  DoWithFreshTokens, TokenSource and HTTPClient refresh expiring
access tokens, coalescing concurrent refreshes.

* Session: one authorization request presented to the user through a
UserAgent, resumed by the redirect.

* AuthFlow and Pipeline: the steps from the authorization response to a
signed in user (code exchange, ID token decoding, profile fetch).

* CredentialStore: persists the TokenSet of the signed in user.  The
credstore package provides keyring and bbolt implementations.

* TestProvider: an httptest provider for tests.

# The signin.callback package

The callback package provides a UserAgent which opens the system browser and
receives the redirect on the loopback interface.
*/
package signin
