// SPDX-FileCopyrightText: 2025-2026 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package otphid

// crc16 computes the CRC-16/X.25 variant (ISO 13239) the OTP protocol uses
// for frame integrity: reflected polynomial 0x8408, initial value 0xffff.
func crc16(b []byte) uint16 {
	crc := uint16(0xffff)
	for _, v := range b {
		crc ^= uint16(v)
		for range 8 {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0x8408
			} else {
				crc >>= 1
			}
		}
	}

	return crc
}
