// SPDX-FileCopyrightText: 2025-2026 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

// Package pcsc provides the smart-card transport via the PC/SC interface.
package pcsc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ebfe/scard"

	yubikey "cunicu.li/go-yubikey"
)

const (
	insGetResponse = 0xc0

	// Longer payloads are split into command chaining APDUs.
	maxAPDUDataSize = 0xff
)

var errUnexpectedLength = errors.New("unexpected response length")

// Connection is an exclusive transaction-scoped connection to one card. It
// implements yubikey.Connection: Exchange takes a raw short-form APDU,
// transparently applies command chaining and GET RESPONSE continuation, and
// returns the reassembled payload with the final status word appended.
type Connection struct {
	ctx *scard.Context
	h   *scard.Card
}

// Connect opens the named reader exclusively and begins a transaction.
func Connect(reader string) (*Connection, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to smart card daemon: %w", err)
	}

	h, err := ctx.Connect(reader, scard.ShareExclusive, scard.ProtocolT1)
	if err != nil {
		if err := ctx.Release(); err != nil {
			return nil, fmt.Errorf("failed to release context: %w", err)
		}

		return nil, fmt.Errorf("failed to connect to smart card: %w", wrapTimeout(err))
	}

	if err := h.BeginTransaction(); err != nil {
		h.Disconnect(scard.LeaveCard) //nolint:errcheck
		ctx.Release()                 //nolint:errcheck

		return nil, fmt.Errorf("failed to begin smart card transaction: %w", err)
	}

	return &Connection{ctx: ctx, h: h}, nil
}

// Close ends the transaction and releases the card and context.
func (c *Connection) Close() error {
	err := c.h.EndTransaction(scard.LeaveCard)

	if dErr := c.h.Disconnect(scard.LeaveCard); err == nil {
		err = dErr
	}
	if rErr := c.ctx.Release(); err == nil {
		err = rErr
	}

	return err
}

func (c *Connection) transmit(req []byte) (payload []byte, sw1, sw2 byte, err error) {
	resp, err := c.h.Transmit(req)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to transmit request: %w", wrapTimeout(err))
	} else if len(resp) < 2 {
		return nil, 0, 0, fmt.Errorf("%w: want>=2B, got=%dB", errUnexpectedLength, len(resp))
	}

	return resp[:len(resp)-2], resp[len(resp)-2], resp[len(resp)-1], nil
}

// Exchange sends one command APDU and reads the complete response.
func (c *Connection) Exchange(req []byte) ([]byte, error) {
	if len(req) < 4 {
		return nil, fmt.Errorf("%w for APDU header: got=%dB, want>=4B", errUnexpectedLength, len(req))
	}

	cla, ins, p1, p2 := req[0], req[1], req[2], req[3]

	var data []byte
	if len(req) > 4 {
		lc := int(req[4])
		if len(req) < 5+lc {
			return nil, fmt.Errorf("%w for APDU body: got=%dB, want=%dB", errUnexpectedLength, len(req)-5, lc)
		}
		data = req[5 : 5+lc]
	}

	var resp []byte
	for len(data) > maxAPDUDataSize {
		chunk := make([]byte, 5+maxAPDUDataSize)
		chunk[0] = cla | 0x10 // ISO/IEC 7816-4 5.1.1
		chunk[1] = ins
		chunk[2] = p1
		chunk[3] = p2
		chunk[4] = maxAPDUDataSize
		copy(chunk[5:], data[:maxAPDUDataSize])
		data = data[maxAPDUDataSize:]

		r, sw1, sw2, err := c.transmit(chunk)
		if err != nil {
			return nil, fmt.Errorf("failed to transmit chunk: %w", err)
		}
		if sw1 != 0x90 || sw2 != 0x00 {
			return append(r, sw1, sw2), nil
		}
		resp = append(resp, r...)
	}

	final := make([]byte, 5+len(data))
	final[0] = cla
	final[1] = ins
	final[2] = p1
	final[3] = p2
	final[4] = byte(len(data))
	copy(final[5:], data)
	if len(data) == 0 {
		final = final[:4]
	}

	r, sw1, sw2, err := c.transmit(final)
	if err != nil {
		return nil, err
	}
	resp = append(resp, r...)

	for sw1 == 0x61 {
		if r, sw1, sw2, err = c.transmit([]byte{0x00, insGetResponse, 0x00, 0x00, 0x00}); err != nil {
			return nil, fmt.Errorf("failed to read further response: %w", err)
		}
		resp = append(resp, r...)
	}

	return append(resp, sw1, sw2), nil
}

// Readers lists all smart-card readers available via PC/SC. Reader names
// are strings describing the slot, such as "Yubico Yubikey NEO OTP+U2F+CCID
// 00 00".
func Readers() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PC/SC: %w", err)
	}

	readers, err := ctx.ListReaders()

	if rErr := ctx.Release(); rErr != nil {
		return nil, fmt.Errorf("failed to release context: %w", rErr)
	}

	if errors.Is(err, scard.ErrNoReadersAvailable) {
		return nil, nil
	}

	return readers, err
}

// Handles enumerates the smart-card transports of all attached keys.
func Handles() ([]yubikey.Handle, error) {
	readers, err := Readers()
	if err != nil {
		return nil, err
	}

	var handles []yubikey.Handle
	for _, r := range readers {
		if !strings.Contains(strings.ToLower(r), "yubikey") {
			continue
		}

		reader := r
		handles = append(handles, yubikey.Handle{
			Kind: yubikey.TransportSmartCard,
			Path: reader,
			Connect: func() (yubikey.Connection, error) {
				return Connect(reader)
			},
		})
	}

	return handles, nil
}

func wrapTimeout(err error) error {
	if errors.Is(err, scard.ErrTimeout) {
		return fmt.Errorf("%w: %w", yubikey.ErrTimeout, err)
	}

	return err
}
