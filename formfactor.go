// SPDX-FileCopyrightText: 2025-2026 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package yubikey

import "fmt"

// Formfactor enumerates the physical set of forms a key can take. USB-A vs.
// USB-C and Keychain vs. Nano, plus the Bio variants.
type Formfactor int

// Formfactors reported in the device info page. See the reference for more
// information:
// https://developers.yubico.com/yubikey-manager/Config_Reference.html#_form_factor
const (
	FormfactorUnknown               Formfactor = 0x0
	FormfactorUSBAKeychain          Formfactor = 0x1
	FormfactorUSBANano              Formfactor = 0x2
	FormfactorUSBCKeychain          Formfactor = 0x3
	FormfactorUSBCNano              Formfactor = 0x4
	FormfactorUSBCLightningKeychain Formfactor = 0x5
	FormfactorUSBABio               Formfactor = 0x6
	FormfactorUSBCBio               Formfactor = 0x7
)

// The device info page folds the FIPS and Security Key series bits into the
// form factor byte.
const (
	formFactorFIPSFlag = 0x80
	formFactorSkyFlag  = 0x40
)

// The mapping between known Formfactor values and their descriptions.
//
//nolint:gochecknoglobals
var formFactorStrings = map[Formfactor]string{
	FormfactorUSBAKeychain:          "USB-A Keychain",
	FormfactorUSBANano:              "USB-A Nano",
	FormfactorUSBCKeychain:          "USB-C Keychain",
	FormfactorUSBCNano:              "USB-C Nano",
	FormfactorUSBCLightningKeychain: "USB-C/Lightning Keychain",
	FormfactorUSBABio:               "USB-A Bio",
	FormfactorUSBCBio:               "USB-C Bio",
}

// String returns the human-readable description for the given form-factor
// value, or a fallback value for any other, unknown form-factor.
func (f Formfactor) String() string {
	if s, ok := formFactorStrings[f]; ok {
		return s
	}
	return fmt.Sprintf("unknown(0x%02x)", int(f))
}

// parseFormFactor splits the raw form-factor byte into the form factor
// proper and the FIPS / Security Key series flags.
func parseFormFactor(b byte) (ff Formfactor, fips, sky bool) {
	return Formfactor(b &^ (formFactorFIPSFlag | formFactorSkyFlag)),
		b&formFactorFIPSFlag != 0,
		b&formFactorSkyFlag != 0
}
