// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"fmt"
	"runtime"
	"strings"
)

// EMM (enterprise mobility management) request and response parameters.
const (
	emmSupportParam              = "emm_support"
	emmDeviceOSParam             = "device_os"
	emmDeviceIDParam             = "device_id"
	emmPasscodeInfoParam         = "emm_passcode_info"
	emmPasscodeInfoRequiredParam = "emm_passcode_info_required"
	emmErrorPrefix               = "emm_"
	emmPasscodeRequiredCode      = "emm_passcode_required"
	emmAppVerificationCodePrefix = "emm_app_verification_required"
)

// emmParams returns the EMM parameters added to authorization and token
// requests, or nil when EMM is not active.
func emmParams(cfg *Config, passcodeInfoRequired bool) map[string]string {
	if cfg.EMMSupport == "" {
		return nil
	}
	p := map[string]string{
		emmSupportParam:  cfg.EMMSupport,
		emmDeviceOSParam: runtime.GOOS + " " + runtime.GOARCH,
	}
	if cfg.DeviceID != "" {
		p[emmDeviceIDParam] = cfg.DeviceID
	}
	if passcodeInfoRequired && cfg.PasscodeInfo != nil {
		p[emmPasscodeInfoParam] = cfg.PasscodeInfo()
	}
	return p
}

// emmError maps an EMM error code to its error kind.  It returns nil for
// codes which are not EMM codes and when EMM is not supported.
func emmError(emmSupport, code, description string) error {
	var kind error
	switch {
	case emmSupport == "":
		return nil
	case code == emmPasscodeRequiredCode:
		kind = ErrEMMPasscodeRequired
	case strings.HasPrefix(code, emmAppVerificationCodePrefix):
		kind = ErrEMMAppVerificationRequired
	case strings.HasPrefix(code, emmErrorPrefix):
		kind = ErrEMMUnexpectedResponse
	default:
		return nil
	}
	if description != "" {
		return fmt.Errorf("%w: %s: %s", kind, code, description)
	}
	return fmt.Errorf("%w: %s", kind, code)
}
