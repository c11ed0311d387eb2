// SPDX-FileCopyrightText: 2025-2026 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package yubikey

import (
	"errors"
	"fmt"

	iso "cunicu.li/go-iso7816"
)

var (
	// ErrNoInterface is returned when the requested application has no
	// resolvable transport on the device.
	ErrNoInterface = errors.New("no interface available")

	// ErrTimeout wraps transport-level timeouts so callers can tell them
	// apart from a missing interface or a device-reported failure.
	ErrTimeout = errors.New("timeout")

	errUnexpectedLength = errors.New("unexpected response length")
)

// CommandError is returned when the device carried out an exchange but
// reported a non-success status. It is never retried internally; a
// configuration command may have already taken effect on the device.
type CommandError struct {
	// Status holds the ISO 7816 status word for smart-card exchanges and
	// is zero for transports without status words.
	Status iso.Code

	// Message is the device-reported failure text, verbatim.
	Message string
}

func (e *CommandError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("command failed: %s", e.Message)
	}

	return fmt.Sprintf("command failed: %s", e.Status.Error())
}

// checkStatus splits a smart-card response into payload and status word and
// maps any non-success status onto a CommandError.
func checkStatus(resp []byte) ([]byte, error) {
	if len(resp) < 2 {
		return nil, fmt.Errorf("%w: got=%dB, want>=2B", errUnexpectedLength, len(resp))
	}

	payload, code := resp[:len(resp)-2], iso.Code{resp[len(resp)-2], resp[len(resp)-1]}
	if code != (iso.Code{0x90, 0x00}) {
		return nil, &CommandError{Status: code, Message: code.Error()}
	}

	return payload, nil
}
