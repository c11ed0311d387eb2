// SPDX-FileCopyrightText: 2025-2026 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

// Package tlv implements the BER-style tag-length-value encoding used by
// YubiKey management and PIV payloads.
//
// Tags are kept in their raw encoded form, so the two-byte tag 0x7F49 is
// written as Tag(0x7f49). Lengths are always emitted in their most compact
// form; on the read side non-minimal lengths are rejected unless the reader
// was created with the lax policy.
package tlv

import "fmt"

// Tag is a BER tag in raw encoded form, one to three bytes.
type Tag uint32

const maxTagLen = 3

// Constructed reports whether the tag marks a constructed value, i.e. one
// whose value bytes are themselves a sequence of TLV nodes.
func (t Tag) Constructed() bool {
	return t.firstByte()&0x20 != 0
}

func (t Tag) firstByte() byte {
	switch {
	case t > 0xffff:
		return byte(t >> 16)
	case t > 0xff:
		return byte(t >> 8)
	default:
		return byte(t)
	}
}

func (t Tag) String() string {
	return fmt.Sprintf("0x%02x", uint32(t))
}

// appendTag appends the encoded form of t to b.
func appendTag(b []byte, t Tag) []byte {
	switch {
	case t > 0xffff:
		return append(b, byte(t>>16), byte(t>>8), byte(t))
	case t > 0xff:
		return append(b, byte(t>>8), byte(t))
	default:
		return append(b, byte(t))
	}
}

// appendLength appends the most compact length encoding of n to b.
func appendLength(b []byte, n int) ([]byte, error) {
	switch {
	case n < 0x80:
		return append(b, byte(n)), nil
	case n <= 0xff:
		return append(b, 0x81, byte(n)), nil
	case n <= 0xffff:
		return append(b, 0x82, byte(n>>8), byte(n)), nil
	default:
		return nil, fmt.Errorf("%w: %d bytes", errValueTooLarge, n)
	}
}

// parseTag decodes a tag starting at buf[off] and returns it together with
// the offset of the first byte after the tag.
func parseTag(buf []byte, off int) (Tag, int, error) {
	if off >= len(buf) {
		return 0, 0, &DecodeError{Offset: off, msg: "truncated tag"}
	}

	t := Tag(buf[off])
	next := off + 1
	if buf[off]&0x1f != 0x1f {
		return t, next, nil
	}

	// High-tag-number form: subsequent bytes carry the high bit while more
	// bytes follow.
	for {
		if next >= len(buf) {
			return 0, 0, &DecodeError{Offset: next, msg: "truncated tag"}
		}
		if next-off >= maxTagLen {
			return 0, 0, &DecodeError{Offset: off, msg: "tag longer than three bytes"}
		}

		b := buf[next]
		t = t<<8 | Tag(b)
		next++

		if b&0x80 == 0 {
			return t, next, nil
		}
	}
}

// parseLength decodes a length starting at buf[off]. With strict set,
// non-minimal encodings are a decode failure.
func parseLength(buf []byte, off int, strict bool) (int, int, error) {
	if off >= len(buf) {
		return 0, 0, &DecodeError{Offset: off, msg: "truncated length"}
	}

	b := buf[off]
	if b < 0x80 {
		return int(b), off + 1, nil
	}

	numBytes := int(b & 0x7f)
	if numBytes == 0 || numBytes > 2 {
		return 0, 0, &DecodeError{Offset: off, msg: fmt.Sprintf("unsupported length encoding 0x%02x", b)}
	}
	if off+1+numBytes > len(buf) {
		return 0, 0, &DecodeError{Offset: off, msg: "truncated length"}
	}

	n := 0
	for _, lb := range buf[off+1 : off+1+numBytes] {
		n = n<<8 | int(lb)
	}

	if strict {
		minimal := numBytes == 1 && n >= 0x80 || numBytes == 2 && n > 0xff
		if !minimal {
			return 0, 0, &DecodeError{Offset: off, msg: fmt.Sprintf("non-minimal length encoding for %d bytes", n)}
		}
	}

	return n, off + 1 + numBytes, nil
}
