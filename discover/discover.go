// SPDX-FileCopyrightText: 2025-2026 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

// Package discover enumerates attached keys across all three transports
// and merges what the transports report into per-device identities.
package discover

import (
	"errors"
	"slices"

	yubikey "cunicu.li/go-yubikey"
	"cunicu.li/go-yubikey/transport/fidohid"
	"cunicu.li/go-yubikey/transport/otphid"
	"cunicu.li/go-yubikey/transport/pcsc"
)

// Devices enumerates all attached keys. Smart-card transports are scanned
// first since only they expose the full device info page including the
// serial number; HID discoveries are then folded into the matching
// identity. The result is sorted by identity order.
//
// Transport enumeration failures (e.g. no PC/SC daemon) do not abort the
// scan; they are joined into the returned error alongside the devices that
// could still be discovered.
func Devices() ([]*yubikey.Device, error) {
	var devices []*yubikey.Device
	var errs []error

	scHandles, err := pcsc.Handles()
	if err != nil {
		errs = append(errs, err)
	}
	for _, h := range scHandles {
		d := yubikey.NewDevice(h, yubikey.DeviceInfo{})
		if info, err := d.ReadDeviceInfo(); err != nil {
			errs = append(errs, err)
		} else {
			d.Merge(h, info)
		}

		devices = append(devices, d)
	}

	fidoHandles, err := fidohid.Handles()
	if err != nil {
		errs = append(errs, err)
	}
	for _, h := range fidoHandles {
		devices = merge(devices, h, fidoInfo(h, &errs))
	}

	otpHandles, err := otphid.Handles()
	if err != nil {
		errs = append(errs, err)
	}
	for _, h := range otpHandles {
		devices = merge(devices, h, otpInfo(h, &errs))
	}

	slices.SortFunc(devices, (*yubikey.Device).Compare)

	return devices, errors.Join(errs...)
}

// merge folds a HID discovery into the device list. HID transports carry
// no serial number, so pairing them with a smart-card identity is only
// unambiguous when a single device is attached; with several devices and
// no smart-card transport to anchor them, each HID handle keeps its own
// identity.
func merge(devices []*yubikey.Device, h yubikey.Handle, info yubikey.DeviceInfo) []*yubikey.Device {
	if len(devices) == 1 {
		if _, ok := devices[0].Handle(h.Kind); !ok {
			devices[0].Merge(h, info)
			return devices
		}
	}

	return append(devices, yubikey.NewDevice(h, info))
}

func fidoInfo(h yubikey.Handle, errs *[]error) yubikey.DeviceInfo {
	conn, err := h.Connect()
	if err != nil {
		*errs = append(*errs, err)
		return yubikey.DeviceInfo{}
	}
	defer conn.Close() //nolint:errcheck

	fc, ok := conn.(*fidohid.Connection)
	if !ok {
		return yubikey.DeviceInfo{}
	}

	info, err := fc.GetInfo()
	if err != nil {
		*errs = append(*errs, err)
		return yubikey.DeviceInfo{}
	}

	return info.DeviceInfo()
}

func otpInfo(h yubikey.Handle, errs *[]error) yubikey.DeviceInfo {
	conn, err := h.Connect()
	if err != nil {
		*errs = append(*errs, err)
		return yubikey.DeviceInfo{}
	}
	defer conn.Close() //nolint:errcheck

	oc, ok := conn.(*otphid.Connection)
	if !ok {
		return yubikey.DeviceInfo{}
	}

	status, err := oc.Status()
	if err != nil {
		*errs = append(*errs, err)
		return yubikey.DeviceInfo{}
	}

	return yubikey.DeviceInfo{
		Version:      status.Version,
		SupportedUSB: yubikey.CapOTP,
		EnabledUSB:   yubikey.CapOTP,
	}
}
