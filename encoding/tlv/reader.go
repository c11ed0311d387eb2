// SPDX-FileCopyrightText: 2025-2026 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package tlv

import "fmt"

// Reader decodes a sequence of TLV nodes from an immutable buffer. A failed
// read never advances the cursor, so the caller can still report the offset
// and remaining bytes for diagnostics.
//
// Readers are single-owner and must not be shared across goroutines.
type Reader struct {
	buf []byte
	off int
	lax bool
}

// NewReader returns a strict reader over buf. Non-minimal length encodings
// are rejected.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// NewLaxReader returns a reader over buf that accepts non-minimal length
// encodings. Everything else is validated as in strict mode.
func NewLaxReader(buf []byte) *Reader {
	return &Reader{buf: buf, lax: true}
}

// More reports whether any bytes remain at the current nesting level.
func (r *Reader) More() bool {
	return r.off < len(r.buf)
}

// PeekTag decodes the next tag without consuming it.
func (r *Reader) PeekTag() (Tag, error) {
	t, _, err := parseTag(r.buf, r.off)
	return t, err
}

// header consumes tag and length and returns the value bounds, without
// committing the cursor.
func (r *Reader) header(want Tag) (start, end int, err error) {
	t, off, err := parseTag(r.buf, r.off)
	if err != nil {
		return 0, 0, err
	}
	if t != want {
		return 0, 0, &DecodeError{Offset: r.off, msg: fmt.Sprintf("unexpected tag: got=%s, want=%s", t, want)}
	}

	n, off, err := parseLength(r.buf, off, !r.lax)
	if err != nil {
		return 0, 0, err
	}
	if off+n > len(r.buf) {
		return 0, 0, &DecodeError{Offset: off, msg: fmt.Sprintf("declared length %d exceeds remaining %d bytes", n, len(r.buf)-off)}
	}

	return off, off + n, nil
}

// ReadValue consumes the next node, which must carry the given tag, and
// returns its value bytes.
func (r *Reader) ReadValue(t Tag) ([]byte, error) {
	start, end, err := r.header(t)
	if err != nil {
		return nil, err
	}

	r.off = end

	return r.buf[start:end], nil
}

// ReadNested consumes the next node, which must carry the given constructed
// tag, and returns a child reader scoped to exactly its value bytes. The
// child cannot read past the node's declared length.
func (r *Reader) ReadNested(t Tag) (*Reader, error) {
	if !t.Constructed() {
		return nil, fmt.Errorf("%w: %s", errNotConstructed, t)
	}

	start, end, err := r.header(t)
	if err != nil {
		return nil, err
	}

	r.off = end

	return &Reader{buf: r.buf[start:end], lax: r.lax}, nil
}
