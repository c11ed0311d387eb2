// SPDX-FileCopyrightText: 2025-2026 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package yubikey

import "fmt"

// TransportKind discriminates the up to three physical connection paths a
// single key exposes.
type TransportKind int

const (
	// TransportSmartCard is the CCID interface.
	TransportSmartCard TransportKind = iota + 1

	// TransportHIDKeyboard is the keyboard interface carrying the OTP
	// protocol.
	TransportHIDKeyboard

	// TransportHIDFIDO is the FIDO HID interface.
	TransportHIDFIDO

	numTransports = 3
)

// valid reports whether k is one of the declared transports.
func (k TransportKind) valid() bool {
	return k >= TransportSmartCard && k <= numTransports
}

func (k TransportKind) String() string {
	switch k {
	case TransportSmartCard:
		return "CCID"
	case TransportHIDKeyboard:
		return "OTP"
	case TransportHIDFIDO:
		return "FIDO"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Connection is a single open exchange channel to one transport. It is
// acquired by the dispatcher for exactly one request/response sequence and
// released afterwards; it performs no I/O of its own beyond Exchange.
//
// The request format depends on the transport kind: a raw APDU including
// its header for smart-card connections, a slot command byte followed by
// the command payload for the keyboard interface, and a CTAP command byte
// followed by its body for the FIDO interface.
type Connection interface {
	Exchange(req []byte) ([]byte, error)
	Close() error
}

// Handle is one physical connection path to a key. The discovery layer
// that produced it owns the underlying OS resources and keeps them alive
// for the handle's lifetime.
type Handle struct {
	Kind TransportKind

	// Path is the platform-specific, stable path of the interface, e.g. a
	// PC/SC reader name or a hidraw path.
	Path string

	// Connect opens the transport for one exchange sequence.
	Connect func() (Connection, error)
}
