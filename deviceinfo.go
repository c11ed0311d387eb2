// SPDX-FileCopyrightText: 2025-2026 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package yubikey

import (
	"fmt"
	"strings"

	iso "cunicu.li/go-iso7816"

	"cunicu.li/go-yubikey/encoding/tlv"
)

// Capability is a bitset of the applications a key supports or has enabled
// on one of its transports.
type Capability uint32

// https://developers.yubico.com/yubikey-manager/Config_Reference.html
const (
	CapOTP     Capability = 0x001
	CapU2F     Capability = 0x002
	CapOpenPGP Capability = 0x008
	CapPIV     Capability = 0x010
	CapOATH    Capability = 0x020
	CapHSMAuth Capability = 0x100
	CapFIDO2   Capability = 0x200
)

//nolint:gochecknoglobals
var capabilityStrings = map[Capability]string{
	CapOTP:     "OTP",
	CapU2F:     "U2F",
	CapOpenPGP: "OpenPGP",
	CapPIV:     "PIV",
	CapOATH:    "OATH",
	CapHSMAuth: "HSMAUTH",
	CapFIDO2:   "FIDO2",
}

func (c Capability) String() string {
	var names []string
	for bit := Capability(1); bit != 0 && bit <= c; bit <<= 1 {
		if c&bit == 0 {
			continue
		}
		if name, ok := capabilityStrings[bit]; ok {
			names = append(names, name)
		} else {
			names = append(names, fmt.Sprintf("0x%03x", uint32(bit)))
		}
	}

	return strings.Join(names, "+")
}

// Tags of the device info page.
//
// https://docs.yubico.com/yesdk/users-manual/application-otp/commands.html
//nolint:unused
const (
	tagUSBSupported tlv.Tag = 0x01
	tagSerial       tlv.Tag = 0x02
	tagUSBEnabled   tlv.Tag = 0x03
	tagFormFactor   tlv.Tag = 0x04
	tagFirmware     tlv.Tag = 0x05
	tagAutoEject    tlv.Tag = 0x06
	tagChalRespWait tlv.Tag = 0x07
	tagDeviceFlags  tlv.Tag = 0x08
	tagAppVersions  tlv.Tag = 0x09
	tagConfigLocked tlv.Tag = 0x0a
	tagUnlock       tlv.Tag = 0x0b
	tagReboot       tlv.Tag = 0x0c
	tagNFCSupported tlv.Tag = 0x0d
	tagNFCEnabled   tlv.Tag = 0x0e
)

// DeviceInfo is the merged descriptive record of one physical key. A single
// transport rarely reports every field, so records discovered on different
// transports are combined with Merge.
type DeviceInfo struct {
	// Serial is the device serial number, or nil for keys that do not
	// expose one (e.g. Security Key series).
	Serial *uint32

	Version    iso.Version
	FormFactor Formfactor

	SupportedUSB Capability
	EnabledUSB   Capability
	SupportedNFC Capability
	EnabledNFC   Capability

	IsFIPS bool
	IsSky  bool

	DeviceFlags  byte
	ConfigLocked bool

	// AutoEjectTimeout applies to CCID-only mode, in seconds.
	AutoEjectTimeout uint16

	// ChallengeResponseTimeout is the touch timeout for
	// challenge-response OTP operations, in seconds.
	ChallengeResponseTimeout byte
}

// ParseDeviceInfo decodes a raw device info page: one leading byte with the
// page length, followed by TLV nodes.
func ParseDeviceInfo(page []byte) (DeviceInfo, error) {
	if len(page) < 1 {
		return DeviceInfo{}, fmt.Errorf("%w for device info page: got=0B, want>=1B", errUnexpectedLength)
	}
	if n := int(page[0]); n > len(page)-1 {
		return DeviceInfo{}, fmt.Errorf("%w for device info page: got=%dB, want=%dB", errUnexpectedLength, len(page)-1, n)
	}

	var info DeviceInfo

	r := tlv.NewReader(page[1 : 1+int(page[0])])
	for r.More() {
		t, err := r.PeekTag()
		if err != nil {
			return DeviceInfo{}, err
		}

		v, err := r.ReadValue(t)
		if err != nil {
			return DeviceInfo{}, err
		}

		switch t {
		case tagUSBSupported:
			info.SupportedUSB = Capability(beUint(v))
		case tagUSBEnabled:
			info.EnabledUSB = Capability(beUint(v))
		case tagNFCSupported:
			info.SupportedNFC = Capability(beUint(v))
		case tagNFCEnabled:
			info.EnabledNFC = Capability(beUint(v))

		case tagSerial:
			serial := beUint(v)
			info.Serial = &serial

		case tagFormFactor:
			if len(v) != 1 {
				return DeviceInfo{}, fmt.Errorf("%w for form factor: got=%dB, want=1B", errUnexpectedLength, len(v))
			}
			info.FormFactor, info.IsFIPS, info.IsSky = parseFormFactor(v[0])

		case tagFirmware:
			if len(v) != 3 {
				return DeviceInfo{}, fmt.Errorf("%w for version: got=%dB, want=3B", errUnexpectedLength, len(v))
			}
			info.Version = iso.Version{Major: int(v[0]), Minor: int(v[1]), Patch: int(v[2])}

		case tagAutoEject:
			info.AutoEjectTimeout = uint16(beUint(v))

		case tagChalRespWait:
			if len(v) == 1 {
				info.ChallengeResponseTimeout = v[0]
			}

		case tagDeviceFlags:
			if len(v) == 1 {
				info.DeviceFlags = v[0]
			}

		case tagConfigLocked:
			info.ConfigLocked = len(v) == 1 && v[0] == 1

		default:
			// Unknown page fields (e.g. per-application versions) are
			// skipped; newer firmware adds fields freely.
		}
	}

	return info, nil
}

// beUint interprets up to four big-endian bytes as an unsigned integer.
func beUint(b []byte) uint32 {
	var n uint32
	for _, v := range b {
		n = n<<8 | uint32(v)
	}

	return n
}

// merge combines the receiver with a record discovered more recently on
// another transport. Fields present in the newer record win; a field the
// newer record lacks (zero value, nil serial) keeps its previous value. The
// FIPS and Security Key flags are sticky since not every transport reports
// the form-factor byte.
func (i DeviceInfo) merge(newer DeviceInfo) DeviceInfo {
	merged := newer

	if merged.Serial == nil {
		merged.Serial = i.Serial
	}
	if merged.Version == (iso.Version{}) {
		merged.Version = i.Version
	}
	if merged.FormFactor == FormfactorUnknown {
		merged.FormFactor = i.FormFactor
	}

	if merged.SupportedUSB == 0 {
		merged.SupportedUSB = i.SupportedUSB
	}
	if merged.EnabledUSB == 0 {
		merged.EnabledUSB = i.EnabledUSB
	}
	if merged.SupportedNFC == 0 {
		merged.SupportedNFC = i.SupportedNFC
	}
	if merged.EnabledNFC == 0 {
		merged.EnabledNFC = i.EnabledNFC
	}

	merged.IsFIPS = merged.IsFIPS || i.IsFIPS
	merged.IsSky = merged.IsSky || i.IsSky

	if merged.AutoEjectTimeout == 0 {
		merged.AutoEjectTimeout = i.AutoEjectTimeout
	}
	if merged.ChallengeResponseTimeout == 0 {
		merged.ChallengeResponseTimeout = i.ChallengeResponseTimeout
	}

	return merged
}
