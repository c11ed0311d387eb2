// SPDX-FileCopyrightText: 2025-2026 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package yubikey

import (
	"errors"
	"fmt"

	"cunicu.li/go-yubikey/encoding/tlv"
)

const (
	// Management applet instructions.
	insWriteConfig = 0x1c
	insReadConfig  = 0x1d

	// OTP applet instruction carrying slot commands over CCID.
	insOTP = 0x01

	// Slot command updating the device configuration.
	slotDeviceConfig = 0x15
)

// DeviceConfig describes a configuration update. Nil fields are left
// untouched on the device.
type DeviceConfig struct {
	EnabledUSB               *Capability
	EnabledNFC               *Capability
	AutoEjectTimeout         *uint16
	ChallengeResponseTimeout *byte
	DeviceFlags              *byte
}

// encode serializes the config into the wire page: a length byte followed
// by TLV nodes.
func (c *DeviceConfig) encode() ([]byte, error) {
	w := tlv.NewWriter()

	if c.EnabledUSB != nil {
		w.WriteValue(tagUSBEnabled, capBytes(*c.EnabledUSB))
	}
	if c.EnabledNFC != nil {
		w.WriteValue(tagNFCEnabled, capBytes(*c.EnabledNFC))
	}
	if c.AutoEjectTimeout != nil {
		w.WriteValue(tagAutoEject, []byte{byte(*c.AutoEjectTimeout >> 8), byte(*c.AutoEjectTimeout)})
	}
	if c.ChallengeResponseTimeout != nil {
		w.WriteValue(tagChalRespWait, []byte{*c.ChallengeResponseTimeout})
	}
	if c.DeviceFlags != nil {
		w.WriteValue(tagDeviceFlags, []byte{*c.DeviceFlags})
	}

	body, err := w.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode device config: %w", err)
	}
	if len(body) > 0xff {
		return nil, fmt.Errorf("%w for device config: %dB", errUnexpectedLength, len(body))
	}

	return append([]byte{byte(len(body))}, body...), nil
}

func capBytes(c Capability) []byte {
	return []byte{byte(c >> 8), byte(c)}
}

// SetDeviceConfig applies a configuration update through whichever channel
// the device offers: the management application first, then the same
// configuration framed as an OTP slot command. The fallback covers both a
// device without a smart-card transport, where the slot command travels
// over the keyboard interface, and older firmware whose card lacks the
// management applet, where it travels through the OTP applet over CCID.
// With no channel available at all it fails with ErrNoInterface.
//
// A non-success device status is reported as a CommandError and never
// retried here; the command may already have altered the device, so a blind
// retry is unsafe and left to the caller.
func (d *Device) SetDeviceConfig(cfg DeviceConfig) error {
	page, err := cfg.encode()
	if err != nil {
		return err
	}

	err = d.writeConfig(AppManagement, page)
	if err == nil || !errors.Is(err, ErrNoInterface) {
		return err
	}

	if err := d.writeConfig(AppOTP, page); err != nil {
		if errors.Is(err, ErrNoInterface) {
			return fmt.Errorf("%w for device configuration", ErrNoInterface)
		}

		return err
	}

	return nil
}

// writeConfig sends the encoded config page through the given application's
// channel, framed per transport kind.
func (d *Device) writeConfig(app Application, page []byte) error {
	h, err := d.Resolve(app)
	if err != nil {
		return err
	}

	conn, err := h.Connect()
	if err != nil {
		return fmt.Errorf("failed to connect via %s: %w", h.Kind, err)
	}
	defer conn.Close() //nolint:errcheck

	switch h.Kind {
	case TransportSmartCard:
		if err := selectApplet(conn, app.aid()); err != nil {
			return err
		}

		var req []byte
		if app == AppManagement {
			req = buildAPDU(0x00, insWriteConfig, 0x00, 0x00, page)
		} else {
			req = buildAPDU(0x00, insOTP, slotDeviceConfig, 0x00, page)
		}

		resp, err := conn.Exchange(req)
		if err != nil {
			return err
		}
		if _, err := checkStatus(resp); err != nil {
			return err
		}

	case TransportHIDKeyboard:
		req := append([]byte{slotDeviceConfig}, page...)
		if _, err := conn.Exchange(req); err != nil {
			return err
		}
	}

	return nil
}

// ReadDeviceInfo fetches and parses the device info page via the
// management application. It requires a smart-card transport.
func (d *Device) ReadDeviceInfo() (DeviceInfo, error) {
	conn, err := d.Connect(AppManagement)
	if err != nil {
		return DeviceInfo{}, err
	}
	defer conn.Close() //nolint:errcheck

	resp, err := conn.Exchange(buildAPDU(0x00, insReadConfig, 0x00, 0x00, nil))
	if err != nil {
		return DeviceInfo{}, err
	}

	page, err := checkStatus(resp)
	if err != nil {
		return DeviceInfo{}, err
	}

	return ParseDeviceInfo(page)
}
