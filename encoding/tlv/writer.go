// SPDX-FileCopyrightText: 2025-2026 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package tlv

import (
	"fmt"
	"slices"
)

// Writer builds a TLV encoding by appending to a single buffer. Nested
// nodes are written through Open/Close pairs: Open appends the tag and
// records where the value starts, Close backpatches the length once the
// value's size is known. The buffer is the sole mutable owner; no slices
// of it escape until Encode.
//
// Writers are single-owner and must not be shared across goroutines.
type Writer struct {
	buf   []byte
	stack []int // value start offset of each open context, innermost last
	err   error
}

// Context is an open nested node. It must be closed exactly once, and
// contexts must be closed in reverse order of opening; violating either is
// a programming error and panics.
type Context struct {
	w     *Writer
	depth int
}

func NewWriter() *Writer {
	return &Writer{}
}

// WriteValue appends a complete node with the given tag and value to the
// innermost open context, or to the root if none is open.
func (w *Writer) WriteValue(t Tag, value []byte) {
	if w.err != nil {
		return
	}

	w.buf = appendTag(w.buf, t)
	if w.buf, w.err = appendLength(w.buf, len(value)); w.err != nil {
		return
	}
	w.buf = append(w.buf, value...)
}

// Open starts a nested node with the given tag. The returned context must
// be closed before any enclosing context and before Encode. Closing a
// context into which nothing was written yields a zero-length value.
func (w *Writer) Open(t Tag) *Context {
	if w.err == nil {
		w.buf = appendTag(w.buf, t)
	}
	w.stack = append(w.stack, len(w.buf))

	return &Context{w: w, depth: len(w.stack)}
}

// Close finishes the nested node by inserting the length field in front of
// the bytes written since Open.
func (c *Context) Close() {
	w := c.w
	if c.depth == 0 || len(w.stack) != c.depth {
		panic("tlv: nested contexts must be closed exactly once, in reverse order of opening")
	}

	start := w.stack[len(w.stack)-1]
	w.stack = w.stack[:len(w.stack)-1]
	c.depth = 0

	if w.err != nil {
		return
	}

	length, err := appendLength(nil, len(w.buf)-start)
	if err != nil {
		w.err = err
		return
	}

	w.buf = slices.Insert(w.buf, start, length...)
}

// Encode returns the accumulated encoding. It fails if any nested context
// is still open or if an earlier write failed.
func (w *Writer) Encode() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	if len(w.stack) > 0 {
		return nil, fmt.Errorf("%w: %d still open", errUnclosedContext, len(w.stack))
	}

	return w.buf, nil
}
