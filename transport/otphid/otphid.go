// SPDX-FileCopyrightText: 2025-2026 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

// Package otphid provides the keyboard-interface OTP transport.
//
// Commands travel in 70 byte frames (64 byte payload, slot command, CRC,
// filler) split over 8 byte feature reports whose trailing byte carries a
// sequence number and the write flag. The device acknowledges a command by
// advancing the program sequence counter of its status report.
package otphid

import (
	"errors"
	"fmt"
	"time"

	iso "cunicu.li/go-iso7816"
	"github.com/karalabe/hid"

	yubikey "cunicu.li/go-yubikey"
)

const (
	keyboardUsagePage = 0x01
	keyboardUsage     = 0x06

	vendorYubico = 0x1050

	payloadSize = 64
	frameSize   = payloadSize + 6 // slot, CRC16, filler

	reportSize    = 8
	reportPayload = reportSize - 1

	writeFlag = 0x80

	statusPollInterval = 10 * time.Millisecond
	statusPollAttempts = 100
)

var errNoFeatureReports = errors.New("HID backend does not support feature reports")

// featureDevice is the feature-report surface of an opened HID device.
type featureDevice interface {
	SendFeatureReport(b []byte) (int, error)
	GetFeatureReport(b []byte) (int, error)
	Close() error
}

// Status is the device status report: firmware version, the program
// sequence counter incremented on every accepted configuration write, and
// the touch level.
type Status struct {
	Version    iso.Version
	Sequence   byte
	TouchLevel uint16
}

// Connection is an open keyboard interface. Exchange takes a slot command
// byte followed by up to 64 payload bytes and returns the post-command
// status report; a command the device did not accept is reported as a
// CommandError.
type Connection struct {
	dev featureDevice
}

func open(info hid.DeviceInfo) (*Connection, error) {
	dev, err := info.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open HID device: %w", err)
	}

	fd, ok := dev.(featureDevice)
	if !ok {
		dev.Close() //nolint:errcheck
		return nil, errNoFeatureReports
	}

	return &Connection{dev: fd}, nil
}

func (c *Connection) Close() error {
	return c.dev.Close()
}

// Status reads the current status report.
func (c *Connection) Status() (*Status, error) {
	// The leading byte is the HID report number, still present on return.
	buf := make([]byte, reportSize+1)
	if _, err := c.dev.GetFeatureReport(buf); err != nil {
		return nil, fmt.Errorf("failed to read status report: %w", err)
	}

	r := buf[1:]

	return &Status{
		Version:    iso.Version{Major: int(r[0]), Minor: int(r[1]), Patch: int(r[2])},
		Sequence:   r[3],
		TouchLevel: uint16(r[5])<<8 | uint16(r[4]),
	}, nil
}

// Exchange writes one slot command frame and waits for the device to
// acknowledge it.
func (c *Connection) Exchange(req []byte) ([]byte, error) {
	if len(req) < 1 || len(req) > 1+payloadSize {
		return nil, fmt.Errorf("invalid slot command length: got=%dB, want=1..%dB", len(req), 1+payloadSize)
	}

	before, err := c.Status()
	if err != nil {
		return nil, err
	}

	if err := c.writeFrame(req[0], req[1:]); err != nil {
		return nil, err
	}

	after, err := c.awaitSequence(before.Sequence)
	if err != nil {
		return nil, err
	}

	return []byte{
		byte(after.Version.Major), byte(after.Version.Minor), byte(after.Version.Patch),
		after.Sequence, byte(after.TouchLevel), byte(after.TouchLevel >> 8),
	}, nil
}

// writeFrame assembles the frame and feeds it to the device report by
// report. All-zero reports are skipped except the first and last one; the
// device treats them as padding.
func (c *Connection) writeFrame(slot byte, payload []byte) error {
	frame := make([]byte, frameSize)
	copy(frame, payload)
	frame[payloadSize] = slot

	crc := crc16(frame[:payloadSize])
	frame[payloadSize+1] = byte(crc)
	frame[payloadSize+2] = byte(crc >> 8)

	numReports := frameSize / reportPayload
	for seq := 0; seq < numReports; seq++ {
		chunk := frame[seq*reportPayload : (seq+1)*reportPayload]

		if seq != 0 && seq != numReports-1 && allZero(chunk) {
			continue
		}

		report := make([]byte, reportSize+1)
		copy(report[1:], chunk)
		report[reportSize] = byte(seq) | writeFlag

		if _, err := c.dev.SendFeatureReport(report); err != nil {
			return fmt.Errorf("failed to write frame report %d: %w", seq, err)
		}
	}

	return nil
}

// awaitSequence polls the status report until the program sequence counter
// moves past prev.
func (c *Connection) awaitSequence(prev byte) (*Status, error) {
	for attempt := 0; attempt < statusPollAttempts; attempt++ {
		status, err := c.Status()
		if err != nil {
			return nil, err
		}

		if status.Sequence != prev {
			return status, nil
		}

		time.Sleep(statusPollInterval)
	}

	return nil, &yubikey.CommandError{Message: "configuration not applied: program sequence unchanged"}
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}

	return true
}

// Handles enumerates the keyboard transports of all attached keys.
func Handles() ([]yubikey.Handle, error) {
	devices, err := hid.Enumerate(vendorYubico, 0x00)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate HID devices: %w", err)
	}

	var handles []yubikey.Handle
	for _, d := range devices {
		if d.UsagePage != keyboardUsagePage || d.Usage != keyboardUsage {
			continue
		}

		info := d
		handles = append(handles, yubikey.Handle{
			Kind: yubikey.TransportHIDKeyboard,
			Path: info.Path,
			Connect: func() (yubikey.Connection, error) {
				return open(info)
			},
		})
	}

	return handles, nil
}
