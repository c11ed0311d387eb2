// SPDX-FileCopyrightText: 2025-2026 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

// Package fidohid provides the FIDO HID transport.
//
// The transport speaks the CTAPHID framing defined by the FIDO Alliance:
// messages are fragmented into 64 byte reports, the first carrying the
// channel ID, command and total length, continuations carrying a 7-bit
// sequence number.
//
// https://fidoalliance.org/specs/fido-v2.1-ps-20210615/fido-client-to-authenticator-protocol-v2.1-ps-20210615.html#usb
package fidohid

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/karalabe/hid"

	yubikey "cunicu.li/go-yubikey"
)

const (
	fidoUsagePage = 0xf1d0
	fidoUsage     = 0x01

	vendorYubico = 0x1050

	reportSize = 64

	cidBroadcast = 0xffffffff

	typeInit = 0x80

	cmdInit  = 0x06
	cmdCBOR  = 0x10
	cmdError = 0x3f

	// Stale responses from a previous channel may precede the init echo;
	// anything beyond a handful means we are not talking to our channel.
	initAttempts = 5
)

var (
	enc = binary.BigEndian //nolint:gochecknoglobals

	errShortResponse = errors.New("short response")
	errNonceMismatch = errors.New("no init response matching nonce")
)

// device is the slice of the hid.Device surface this transport needs; kept
// as an interface so tests can exchange frames without hardware.
type device interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

// Connection is an initialized CTAPHID channel to one key. Exchange takes
// a CTAP command byte followed by its CBOR-encoded body and returns the
// response status byte followed by the CBOR-encoded result.
type Connection struct {
	dev device
	cid uint32
}

func open(info hid.DeviceInfo) (*Connection, error) {
	dev, err := info.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open HID device: %w", err)
	}

	c := &Connection{dev: dev, cid: cidBroadcast}
	if err := c.init(); err != nil {
		dev.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to initialize CTAPHID channel: %w", err)
	}

	return c, nil
}

// init allocates a channel on the broadcast CID.
func (c *Connection) init() error {
	nonce := make([]byte, 8)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}

	if err := c.request(cmdInit, nonce); err != nil {
		return err
	}

	for range initAttempts {
		resp, err := c.response(cmdInit)
		if err != nil {
			return err
		}
		if len(resp) < 12 {
			return fmt.Errorf("%w for init: got=%dB, want>=12B", errShortResponse, len(resp))
		}

		if bytes.Equal(resp[:8], nonce) {
			c.cid = enc.Uint32(resp[8:12])
			return nil
		}
	}

	return errNonceMismatch
}

func (c *Connection) Exchange(req []byte) ([]byte, error) {
	if err := c.request(cmdCBOR, req); err != nil {
		return nil, err
	}

	return c.response(cmdCBOR)
}

func (c *Connection) Close() error {
	return c.dev.Close()
}

func (c *Connection) request(command byte, data []byte) error {
	first := min(len(data), reportSize-7)

	// The leading zero byte is the HID report number.
	buffer := make([]byte, reportSize+1)
	enc.PutUint32(buffer[1:], c.cid)
	buffer[5] = typeInit | command
	enc.PutUint16(buffer[6:], uint16(len(data)))
	copy(buffer[8:], data[:first])

	if _, err := c.dev.Write(buffer); err != nil {
		return err
	}

	offset := first
	for seq := byte(0); offset < len(data); seq++ {
		clear(buffer)

		n := min(len(data)-offset, reportSize-5)
		enc.PutUint32(buffer[1:], c.cid)
		buffer[5] = seq & 0x7f
		copy(buffer[6:], data[offset:offset+n])

		if _, err := c.dev.Write(buffer); err != nil {
			return err
		}

		offset += n
	}

	return nil
}

func (c *Connection) response(command byte) ([]byte, error) {
	header := make([]byte, 5)
	enc.PutUint32(header, c.cid)
	header[4] = typeInit | command

	report := make([]byte, reportSize)
	for !bytes.Equal(report[:5], header) {
		if _, err := c.dev.Read(report); err != nil {
			return nil, err
		}

		if bytes.Equal(report[:4], header[:4]) && report[4] == typeInit|cmdError {
			return nil, &yubikey.CommandError{Message: fmt.Sprintf("CTAPHID error 0x%02x", report[7])}
		}
	}

	total := int(enc.Uint16(report[5:7]))
	data := make([]byte, total)
	read := min(total, reportSize-7)
	copy(data, report[7:7+read])

	for seq := byte(0); read < total; seq++ {
		if _, err := c.dev.Read(report); err != nil {
			return nil, err
		}

		if !bytes.Equal(report[:4], header[:4]) {
			return nil, errors.New("received incorrect channel ID from device")
		}
		if report[4] != seq&0x7f {
			return nil, errors.New("received incorrect sequence number from device")
		}

		n := min(reportSize-5, total-read)
		copy(data[read:read+n], report[5:5+n])
		read += n
	}

	return data, nil
}

// Handles enumerates the FIDO HID transports of all attached keys.
func Handles() ([]yubikey.Handle, error) {
	devices, err := hid.Enumerate(vendorYubico, 0x00)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate HID devices: %w", err)
	}

	var handles []yubikey.Handle
	for _, d := range devices {
		if d.UsagePage != fidoUsagePage || d.Usage != fidoUsage {
			continue
		}

		info := d
		handles = append(handles, yubikey.Handle{
			Kind: yubikey.TransportHIDFIDO,
			Path: info.Path,
			Connect: func() (yubikey.Connection, error) {
				return open(info)
			},
		})
	}

	return handles, nil
}
