// SPDX-FileCopyrightText: 2025-2026 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package discover

import (
	"testing"

	iso "cunicu.li/go-iso7816"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	yubikey "cunicu.li/go-yubikey"
)

func handle(kind yubikey.TransportKind, path string) yubikey.Handle {
	return yubikey.Handle{Kind: kind, Path: path}
}

func TestMergeIntoEmptyList(t *testing.T) {
	devices := merge(nil, handle(yubikey.TransportHIDFIDO, "hidraw0"), yubikey.DeviceInfo{})

	require.Len(t, devices, 1)

	h, ok := devices[0].Handle(yubikey.TransportHIDFIDO)
	require.True(t, ok)
	assert.Equal(t, "hidraw0", h.Path)
}

func TestMergeFoldsIntoSingleDevice(t *testing.T) {
	serial := uint32(42)
	anchor := yubikey.NewDevice(handle(yubikey.TransportSmartCard, "reader-0"), yubikey.DeviceInfo{
		Serial:  &serial,
		Version: iso.Version{Major: 5, Minor: 4, Patch: 3},
	})

	devices := merge([]*yubikey.Device{anchor}, handle(yubikey.TransportHIDFIDO, "hidraw0"), yubikey.DeviceInfo{
		SupportedUSB: yubikey.CapFIDO2,
	})

	require.Len(t, devices, 1)
	assert.Len(t, devices[0].Handles(), 2)

	// The folded record contributes its fields without displacing the
	// smart-card ones.
	require.NotNil(t, devices[0].Info.Serial)
	assert.Equal(t, serial, *devices[0].Info.Serial)
	assert.Equal(t, yubikey.CapFIDO2, devices[0].Info.SupportedUSB)
}

func TestMergeDuplicateKindStaysSeparate(t *testing.T) {
	anchor := yubikey.NewDevice(handle(yubikey.TransportHIDFIDO, "hidraw0"), yubikey.DeviceInfo{})

	// A second handle of a kind the device already carries cannot belong
	// to the same physical key.
	devices := merge([]*yubikey.Device{anchor}, handle(yubikey.TransportHIDFIDO, "hidraw1"), yubikey.DeviceInfo{})

	require.Len(t, devices, 2)
	assert.Len(t, devices[0].Handles(), 1)
	assert.Len(t, devices[1].Handles(), 1)
}

func TestMergeMultipleDevicesStaysSeparate(t *testing.T) {
	serials := []uint32{1, 2}
	existing := []*yubikey.Device{
		yubikey.NewDevice(handle(yubikey.TransportSmartCard, "reader-0"), yubikey.DeviceInfo{Serial: &serials[0]}),
		yubikey.NewDevice(handle(yubikey.TransportSmartCard, "reader-1"), yubikey.DeviceInfo{Serial: &serials[1]}),
	}

	// With several candidates the pairing is ambiguous; the HID handle
	// keeps its own identity.
	devices := merge(existing, handle(yubikey.TransportHIDKeyboard, "hidraw2"), yubikey.DeviceInfo{})

	require.Len(t, devices, 3)
	assert.Len(t, devices[0].Handles(), 1)
	assert.Len(t, devices[1].Handles(), 1)
}
