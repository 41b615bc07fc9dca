// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

/*
Package callback provides a signin.UserAgent for command line and desktop
applications.  A Loopback opens the authorization URL in the system browser
and receives the provider's redirect on a local HTTP server bound to the
loopback interface.

	lb, err := callback.NewLoopback()
	if err != nil {
		// handle error
	}
	defer lb.Close()

	cfg, err := signin.NewConfig(clientID, signin.WithRedirectURL(lb.RedirectURL()))
	if err != nil {
		// handle error
	}
	c, err := signin.NewClient(cfg, store, lb)
	if err != nil {
		// handle error
	}
	user, err := c.SignIn(ctx, "")
*/
package callback
