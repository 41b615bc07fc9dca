// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/browser"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(opts)
	}
}

const (
	defaultAddr = "127.0.0.1:0"
	defaultPath = "/callback"
)

type loopbackOptions struct {
	withAddr    string
	withPath    string
	withOpenURL func(string) error
	withLogger  hclog.Logger
}

func loopbackDefaults() loopbackOptions {
	return loopbackOptions{
		withAddr:    defaultAddr,
		withPath:    defaultPath,
		withOpenURL: browser.OpenURL,
	}
}

func getLoopbackOpts(opt ...Option) loopbackOptions {
	opts := loopbackDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithAddr provides an optional listen address for the loopback server.
// It defaults to an ephemeral port on 127.0.0.1.
func WithAddr(addr string) Option {
	return func(o interface{}) {
		if o, ok := o.(*loopbackOptions); ok {
			o.withAddr = addr
		}
	}
}

// WithPath provides an optional redirect path.  It defaults to /callback.
func WithPath(p string) Option {
	return func(o interface{}) {
		if o, ok := o.(*loopbackOptions); ok {
			o.withPath = p
		}
	}
}

// WithOpenURL provides an optional func used to present the authorization
// URL.  It defaults to opening the system browser.
func WithOpenURL(fn func(string) error) Option {
	return func(o interface{}) {
		if o, ok := o.(*loopbackOptions); ok {
			o.withOpenURL = fn
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*loopbackOptions); ok {
			o.withLogger = l
		}
	}
}
