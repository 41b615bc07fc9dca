// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_emmParams(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	off, err := NewConfig("client")
	require.NoError(err)
	assert.Nil(emmParams(off, true))

	on, err := NewConfig("client",
		WithEMMSupport("1"),
		WithDeviceID("device-1"),
		WithPasscodeInfo(func() string { return "passcode-set" }),
	)
	require.NoError(err)
	assert.Equal(map[string]string{
		"emm_support": "1",
		"device_os":   runtime.GOOS + " " + runtime.GOARCH,
		"device_id":   "device-1",
	}, emmParams(on, false))
	assert.Equal("passcode-set", emmParams(on, true)["emm_passcode_info"])
}

func Test_emmError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code string
		want error
	}{
		{"emm_passcode_required", ErrEMMPasscodeRequired},
		{"emm_app_verification_required", ErrEMMAppVerificationRequired},
		{"emm_app_verification_required_private", ErrEMMAppVerificationRequired},
		{"emm_something_new", ErrEMMUnexpectedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			err := emmError("1", tt.code, "desc")
			require.Error(err)
			assert.ErrorIs(err, tt.want)
			assert.ErrorIs(err, ErrEMM)
			assert.Contains(err.Error(), tt.code)
		})
	}
	assert.NoError(t, emmError("1", "access_denied", ""))
	assert.NoError(t, emmError("", "emm_passcode_required", ""))
	assert.False(t, errors.Is(ErrEMMPasscodeRequired, ErrEMMAppVerificationRequired))
}
