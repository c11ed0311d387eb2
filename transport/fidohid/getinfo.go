// SPDX-FileCopyrightText: 2025-2026 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package fidohid

import (
	"fmt"
	"slices"

	iso "cunicu.li/go-iso7816"
	"github.com/fxamacker/cbor/v2"

	yubikey "cunicu.li/go-yubikey"
)

const ctapGetInfo = 0x04

// Info is the authenticatorGetInfo response.
//
// https://fidoalliance.org/specs/fido-v2.1-ps-20210615/fido-client-to-authenticator-protocol-v2.1-ps-20210615.html#authenticatorGetInfo
type Info struct {
	Versions           []string        `cbor:"1,keyasint"`
	Extensions         []string        `cbor:"2,keyasint,omitempty"`
	AAGUID             []byte          `cbor:"3,keyasint"`
	Options            map[string]bool `cbor:"4,keyasint,omitempty"`
	MaxMsgSize         uint64          `cbor:"5,keyasint,omitempty"`
	PinUvAuthProtocols []uint64        `cbor:"6,keyasint,omitempty"`

	// FirmwareVersion is vendor-encoded; YubiKeys pack it as
	// major<<16 | minor<<8 | patch.
	FirmwareVersion uint64 `cbor:"14,keyasint,omitempty"`
}

// GetInfo queries the authenticator's capabilities.
func (c *Connection) GetInfo() (*Info, error) {
	resp, err := c.Exchange([]byte{ctapGetInfo})
	if err != nil {
		return nil, err
	}
	if len(resp) < 1 {
		return nil, fmt.Errorf("%w for getinfo: got=0B, want>=1B", errShortResponse)
	}
	if resp[0] != 0x00 {
		return nil, &yubikey.CommandError{Message: fmt.Sprintf("CTAP error 0x%02x", resp[0])}
	}

	var info Info
	if err := cbor.Unmarshal(resp[1:], &info); err != nil {
		return nil, fmt.Errorf("failed to decode getinfo response: %w", err)
	}

	return &info, nil
}

// DeviceInfo maps the authenticator capabilities onto the partial device
// info record this transport can contribute. It carries no serial number;
// identity merging falls back to the fingerprint until a smart-card
// transport fills the serial in.
func (i *Info) DeviceInfo() yubikey.DeviceInfo {
	var info yubikey.DeviceInfo

	if slices.Contains(i.Versions, "U2F_V2") {
		info.SupportedUSB |= yubikey.CapU2F
		info.EnabledUSB |= yubikey.CapU2F
	}
	if slices.Contains(i.Versions, "FIDO_2_0") || slices.Contains(i.Versions, "FIDO_2_1") {
		info.SupportedUSB |= yubikey.CapFIDO2
		info.EnabledUSB |= yubikey.CapFIDO2
	}

	if v := i.FirmwareVersion; v != 0 {
		info.Version = iso.Version{
			Major: int(v >> 16 & 0xff),
			Minor: int(v >> 8 & 0xff),
			Patch: int(v & 0xff),
		}
	}

	return info
}
