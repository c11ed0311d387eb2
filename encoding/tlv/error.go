// SPDX-FileCopyrightText: 2025-2026 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package tlv

import (
	"errors"
	"fmt"
)

var (
	errValueTooLarge   = errors.New("value too large for length encoding")
	errUnclosedContext = errors.New("unclosed nested context")
	errNotConstructed  = errors.New("tag is not constructed")
)

// DecodeError is returned for any malformed input: truncated tags, lengths
// or values, lengths exceeding the enclosing buffer, and (under the strict
// policy) non-minimal length encodings. The reader it came from is left at
// the position it had before the failing call.
type DecodeError struct {
	// Offset is the byte offset into the reader's buffer at which decoding
	// failed.
	Offset int

	msg string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("tlv: %s at offset %d", e.msg, e.Offset)
}
