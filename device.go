// SPDX-FileCopyrightText: 2025-2026 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

// Package yubikey merges the transports a single hardware key is discovered
// on into one device identity and dispatches configuration commands across
// whichever transport is available.
package yubikey

import (
	"cmp"
	"hash/fnv"

	iso "cunicu.li/go-iso7816"
)

// Device is one physical key as seen across up to three transports. It is
// created on first discovery and grown by Merge when the same key shows up
// on another transport. Command execution never mutates it; concurrent
// merges require external locking.
type Device struct {
	// Info is the merged descriptive record across all transports the
	// device was discovered on.
	Info DeviceInfo

	handles [numTransports]*Handle
}

// NewDevice creates a device identity from its first discovered transport.
// A handle whose kind is not one of the declared transports is dropped.
func NewDevice(h Handle, info DeviceInfo) *Device {
	d := &Device{Info: info}
	if h.Kind.valid() {
		d.handles[h.Kind-1] = &h
	}

	return d
}

// Handle returns the device's handle of the given transport kind.
func (d *Device) Handle(kind TransportKind) (Handle, bool) {
	if !kind.valid() {
		return Handle{}, false
	}

	if h := d.handles[kind-1]; h != nil {
		return *h, true
	}

	return Handle{}, false
}

// Handles returns all present handles, smart card first.
func (d *Device) Handles() []Handle {
	var hs []Handle
	for _, h := range d.handles {
		if h != nil {
			hs = append(hs, *h)
		}
	}

	return hs
}

// Merge records a rediscovery of the device on another (or the same)
// transport. The handle of the corresponding kind is replaced, since the
// operating system may have reissued it, and the info records are combined
// field by field with the newer record taking precedence. A handle whose
// kind is not one of the declared transports is dropped; its info record
// still contributes.
func (d *Device) Merge(h Handle, info DeviceInfo) {
	if h.Kind.valid() {
		d.handles[h.Kind-1] = &h
	}
	d.Info = d.Info.merge(info)
}

// fingerprint is the single comparison key shared by Equal, Compare and
// Hash, so the three cannot diverge. A missing serial number falls back to
// firmware version plus transport paths.
type fingerprint struct {
	hasSerial bool
	serial    uint32

	version iso.Version
	paths   [numTransports]string
}

func (d *Device) fingerprint() fingerprint {
	fp := fingerprint{version: d.Info.Version}

	if d.Info.Serial != nil {
		fp.hasSerial = true
		fp.serial = *d.Info.Serial
	}

	for i, h := range d.handles {
		if h != nil {
			fp.paths[i] = h.Path
		}
	}

	return fp
}

// Equal reports whether both identities describe the same physical device:
// identical serial numbers, or, when neither has one, identical firmware
// and identical (possibly absent) paths on all three transports.
func (d *Device) Equal(other *Device) bool {
	if d == other {
		return true
	}

	return d.Compare(other) == 0
}

// Compare orders device identities. Serial numbers take strict precedence:
// two serial-bearing devices compare by serial alone, and a serial-bearing
// device sorts after one without. Devices without serial numbers compare by
// firmware version, then lexicographically by smart-card, FIDO and keyboard
// path, an absent handle sorting below a present one.
//
// Two serial-less identities whose firmware matches and whose paths tie on
// all three transports compare as equal even if they are physically
// distinct devices; without a serial number the transports offer nothing
// further to tell them apart.
func (d *Device) Compare(other *Device) int {
	if d == other {
		return 0
	}

	a, b := d.fingerprint(), other.fingerprint()

	if a.hasSerial || b.hasSerial {
		if a.hasSerial != b.hasSerial {
			if a.hasSerial {
				return 1
			}
			return -1
		}

		return cmp.Compare(a.serial, b.serial)
	}

	if c := compareVersion(a.version, b.version); c != 0 {
		return c
	}

	if c := cmp.Compare(a.paths[TransportSmartCard-1], b.paths[TransportSmartCard-1]); c != 0 {
		return c
	}
	if c := cmp.Compare(a.paths[TransportHIDFIDO-1], b.paths[TransportHIDFIDO-1]); c != 0 {
		return c
	}

	return cmp.Compare(a.paths[TransportHIDKeyboard-1], b.paths[TransportHIDKeyboard-1])
}

// Hash returns a hash consistent with Equal.
func (d *Device) Hash() uint64 {
	fp := d.fingerprint()

	h := fnv.New64a()
	if fp.hasSerial {
		h.Write([]byte{
			byte(fp.serial >> 24), byte(fp.serial >> 16),
			byte(fp.serial >> 8), byte(fp.serial),
		})

		return h.Sum64()
	}

	h.Write([]byte{byte(fp.version.Major), byte(fp.version.Minor), byte(fp.version.Patch)})
	for _, p := range fp.paths {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}

	return h.Sum64()
}

func compareVersion(a, b iso.Version) int {
	if c := cmp.Compare(a.Major, b.Major); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Minor, b.Minor); c != 0 {
		return c
	}

	return cmp.Compare(a.Patch, b.Patch)
}
