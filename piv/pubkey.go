// SPDX-FileCopyrightText: 2025-2026 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

// Package piv implements the TLV encoding of RSA public keys as exchanged
// with the PIV and management applets.
package piv

import (
	"bytes"
	"crypto/rsa"
	"errors"
	"fmt"
	"math/big"

	"cunicu.li/go-yubikey/encoding/tlv"
)

const (
	// TagPublicKey wraps the modulus and exponent nodes in the on-wire
	// public key encoding.
	TagPublicKey tlv.Tag = 0x7f49

	tagModulus  tlv.Tag = 0x81
	tagExponent tlv.Tag = 0x82
)

// ErrUnsupportedKeyData is returned for well-formed TLV that does not carry
// a key this package supports: a modulus that is not exactly 1024 or 2048
// bits with its top bit set, or an exponent other than F4 (0x010001).
var ErrUnsupportedKeyData = errors.New("unsupported key data")

// ErrInvalidEncoding is returned for structurally broken key encodings that
// decode as TLV but do not form a public key: duplicate or unrecognized
// fields, or missing modulus/exponent.
var ErrInvalidEncoding = errors.New("invalid public key encoding")

// canonicalExponent is the only accepted public exponent, F4.
var canonicalExponent = []byte{0x01, 0x00, 0x01} //nolint:gochecknoglobals

// RSAPublicKey is a validated, canonically encoded RSA public key. Both the
// wrapped encoding (outer TagPublicKey node) and the unwrapped one (the
// same child nodes without the wrapper, used by the metadata channels) are
// views of one buffer.
type RSAPublicKey struct {
	modulus  []byte
	exponent []byte
	wrapped  []byte
}

// NewRSAPublicKey validates the given modulus and exponent and builds the
// canonical encoding. The exponent may carry extra leading zero bytes; it
// is stored in its canonical three-byte form.
func NewRSAPublicKey(modulus, exponent []byte) (*RSAPublicKey, error) {
	if err := validate(modulus, exponent); err != nil {
		return nil, err
	}

	w := tlv.NewWriter()
	ctx := w.Open(TagPublicKey)
	w.WriteValue(tagModulus, modulus)
	w.WriteValue(tagExponent, canonicalExponent)
	ctx.Close()

	wrapped, err := w.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode public key: %w", err)
	}

	return &RSAPublicKey{
		modulus:  bytes.Clone(modulus),
		exponent: canonicalExponent,
		wrapped:  wrapped,
	}, nil
}

// ParseRSAPublicKey decodes an RSA public key from its TLV encoding. Both
// the wrapped form and the bare concatenation of modulus and exponent nodes
// are accepted. The result is re-encoded canonically, so non-minimal
// exponent padding in the input does not survive a round trip.
func ParseRSAPublicKey(buf []byte) (*RSAPublicKey, error) {
	r := tlv.NewReader(buf)

	t, err := r.PeekTag()
	if err != nil {
		return nil, err
	}
	if t == TagPublicKey {
		if r, err = r.ReadNested(TagPublicKey); err != nil {
			return nil, err
		}
	}

	var modulus, exponent []byte
	for r.More() {
		if t, err = r.PeekTag(); err != nil {
			return nil, err
		}

		switch t {
		case tagModulus:
			if modulus != nil {
				return nil, fmt.Errorf("%w: duplicate modulus", ErrInvalidEncoding)
			}
			if modulus, err = r.ReadValue(tagModulus); err != nil {
				return nil, err
			}

		case tagExponent:
			if exponent != nil {
				return nil, fmt.Errorf("%w: duplicate exponent", ErrInvalidEncoding)
			}
			if exponent, err = r.ReadValue(tagExponent); err != nil {
				return nil, err
			}

		default:
			return nil, fmt.Errorf("%w: unrecognized tag %s", ErrInvalidEncoding, t)
		}
	}

	if modulus == nil {
		return nil, fmt.Errorf("%w: missing modulus", ErrInvalidEncoding)
	}
	if exponent == nil {
		return nil, fmt.Errorf("%w: missing exponent", ErrInvalidEncoding)
	}

	return NewRSAPublicKey(modulus, exponent)
}

func validate(modulus, exponent []byte) error {
	if n := len(modulus); n != 128 && n != 256 {
		return fmt.Errorf("%w: modulus length: got=%dB, want=128B or 256B", ErrUnsupportedKeyData, n)
	}

	// A top bit that is clear means the effective key size is smaller than
	// the padded length suggests.
	if modulus[0]&0x80 == 0 {
		return fmt.Errorf("%w: modulus shorter than its encoding", ErrUnsupportedKeyData)
	}

	// Accept zero padding in front of the canonical three bytes, nothing
	// else.
	e := exponent
	if n := len(e) - len(canonicalExponent); n > 0 {
		if len(bytes.TrimLeft(e[:n], "\x00")) != 0 {
			return fmt.Errorf("%w: public exponent must be 0x010001", ErrUnsupportedKeyData)
		}
		e = e[n:]
	}
	if !bytes.Equal(e, canonicalExponent) {
		return fmt.Errorf("%w: public exponent must be 0x010001", ErrUnsupportedKeyData)
	}

	return nil
}

// Modulus returns the raw modulus bytes, 128 or 256 of them.
func (k *RSAPublicKey) Modulus() []byte { return k.modulus }

// Exponent returns the canonical three-byte public exponent.
func (k *RSAPublicKey) Exponent() []byte { return k.exponent }

// BitLen returns the key size in bits, 1024 or 2048.
func (k *RSAPublicKey) BitLen() int { return len(k.modulus) * 8 }

// Wrapped returns the encoding including the outer TagPublicKey node.
func (k *RSAPublicKey) Wrapped() []byte { return k.wrapped }

// Unwrapped returns the modulus and exponent nodes without the outer
// wrapper, as expected by the metadata channels. It is a view into the
// wrapped encoding, sliced past the outer tag and length: two tag bytes
// plus a two-byte length for 1024-bit keys, plus a three-byte length for
// 2048-bit ones.
func (k *RSAPublicKey) Unwrapped() []byte {
	if len(k.modulus) == 128 {
		return k.wrapped[4:]
	}

	return k.wrapped[5:]
}

// PublicKey converts the key into its crypto/rsa representation.
func (k *RSAPublicKey) PublicKey() *rsa.PublicKey {
	var n, e big.Int
	n.SetBytes(k.modulus)
	e.SetBytes(k.exponent)

	return &rsa.PublicKey{N: &n, E: int(e.Int64())}
}
