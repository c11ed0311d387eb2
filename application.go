// SPDX-FileCopyrightText: 2025-2026 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package yubikey

import (
	"errors"
	"fmt"

	iso "cunicu.li/go-iso7816"
)

// Application is a logical function area on the key, addressed
// independently of the physical transport that carries it.
type Application int

const (
	AppManagement Application = iota + 1
	AppOTP
	AppPIV
	AppOATH
	AppOpenPGP
	AppU2F
	AppFIDO2
)

//nolint:gochecknoglobals
var appStrings = map[Application]string{
	AppManagement: "Management",
	AppOTP:        "OTP",
	AppPIV:        "PIV",
	AppOATH:       "OATH",
	AppOpenPGP:    "OpenPGP",
	AppU2F:        "U2F",
	AppFIDO2:      "FIDO2",
}

func (a Application) String() string {
	if s, ok := appStrings[a]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", int(a))
}

// Application identifiers for applet selection via CCID.
//
//nolint:gochecknoglobals
var (
	aidManagement = []byte{0xa0, 0x00, 0x00, 0x05, 0x27, 0x47, 0x11, 0x17}
	aidOTP        = []byte{0xa0, 0x00, 0x00, 0x05, 0x27, 0x20, 0x01}
	aidPIV        = []byte{0xa0, 0x00, 0x00, 0x03, 0x08}
	aidOATH       = []byte{0xa0, 0x00, 0x00, 0x05, 0x27, 0x21, 0x01}
	aidOpenPGP    = []byte{0xd2, 0x76, 0x00, 0x01, 0x24, 0x01}
	aidFIDO       = []byte{0xa0, 0x00, 0x00, 0x06, 0x47, 0x2f, 0x00, 0x01}
)

func (a Application) aid() []byte {
	switch a {
	case AppManagement:
		return aidManagement
	case AppOTP:
		return aidOTP
	case AppPIV:
		return aidPIV
	case AppOATH:
		return aidOATH
	case AppOpenPGP:
		return aidOpenPGP
	case AppU2F, AppFIDO2:
		return aidFIDO
	default:
		return nil
	}
}

// Resolve picks the transport to reach the given application on this
// device. OTP prefers the keyboard interface and falls back to the smart
// card; FIDO prefers the FIDO interface and falls back to the smart card;
// every other application requires the smart card. An application whose
// only compatible transports are absent fails with ErrNoInterface rather
// than being routed over an incompatible one.
func (d *Device) Resolve(app Application) (Handle, error) {
	var kinds []TransportKind

	switch app {
	case AppOTP:
		kinds = []TransportKind{TransportHIDKeyboard, TransportSmartCard}
	case AppU2F, AppFIDO2:
		kinds = []TransportKind{TransportHIDFIDO, TransportSmartCard}
	default:
		kinds = []TransportKind{TransportSmartCard}
	}

	for _, kind := range kinds {
		if h, ok := d.Handle(kind); ok {
			return h, nil
		}
	}

	return Handle{}, fmt.Errorf("%w for %s", ErrNoInterface, app)
}

// Connect resolves a transport for the application and opens it. For a
// smart-card transport the applet is selected before the connection is
// handed back. The caller must close the connection on every path.
func (d *Device) Connect(app Application) (Connection, error) {
	h, err := d.Resolve(app)
	if err != nil {
		return nil, err
	}

	conn, err := h.Connect()
	if err != nil {
		return nil, fmt.Errorf("failed to connect via %s: %w", h.Kind, err)
	}

	if h.Kind == TransportSmartCard {
		if err := selectApplet(conn, app.aid()); err != nil {
			conn.Close() //nolint:errcheck
			return nil, err
		}
	}

	return conn, nil
}

// selectApplet selects the applet with the given AID. A card that does not
// carry the applet at all is reported as ErrNoInterface, so callers can
// fall back the same way they would for a missing transport.
func selectApplet(conn Connection, aid []byte) error {
	resp, err := conn.Exchange(buildAPDU(0x00, 0xa4, 0x04, 0x00, aid))
	if err != nil {
		return fmt.Errorf("failed to select applet: %w", err)
	}

	if _, err := checkStatus(resp); err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.Status == iso.ErrFileOrAppNotFound {
			return fmt.Errorf("failed to select applet: %w: %w", ErrNoInterface, err)
		}

		return fmt.Errorf("failed to select applet: %w", err)
	}

	return nil
}

// buildAPDU assembles a short-form command APDU.
func buildAPDU(cla, ins, p1, p2 byte, data []byte) []byte {
	req := []byte{cla, ins, p1, p2}
	if len(data) > 0 {
		req = append(req, byte(len(data)))
		req = append(req, data...)
	}

	return req
}
