// SPDX-FileCopyrightText: 2025-2026 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package otphid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	yubikey "cunicu.li/go-yubikey"
)

func TestCRC16(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected uint16
	}{
		{"empty", nil, 0xffff},
		{"single zero", []byte{0x00}, 0x0f87},
		{"check sequence", []byte("123456789"), 0x6f91},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, crc16(test.data))
		})
	}
}

// fakeFeatureDevice plays a device whose program sequence counter advances
// after the final frame report arrives.
type fakeFeatureDevice struct {
	reports  [][]byte
	sequence byte
	advance  bool
	closed   bool
}

func (d *fakeFeatureDevice) SendFeatureReport(b []byte) (int, error) {
	report := make([]byte, len(b))
	copy(report, b)
	d.reports = append(d.reports, report)

	if b[reportSize]&^writeFlag == byte(frameSize/reportPayload-1) && d.advance {
		d.sequence++
	}

	return len(b), nil
}

func (d *fakeFeatureDevice) GetFeatureReport(b []byte) (int, error) {
	copy(b[1:], []byte{5, 4, 3, d.sequence, 0x20, 0x00, 0x00, 0x00})
	return len(b), nil
}

func (d *fakeFeatureDevice) Close() error {
	d.closed = true
	return nil
}

func TestExchange(t *testing.T) {
	dev := &fakeFeatureDevice{sequence: 7, advance: true}
	conn := &Connection{dev: dev}

	resp, err := conn.Exchange([]byte{0x15, 0x03, 0x07, 0x01, 0x0f})
	require.NoError(t, err)

	// Post-command status: version, advanced sequence, touch level.
	assert.Equal(t, []byte{5, 4, 3, 8, 0x20, 0x00}, resp)

	// First and last report are always written, all-zero padding reports
	// in between are skipped.
	require.NotEmpty(t, dev.reports)

	first := dev.reports[0]
	assert.Equal(t, byte(0x00), first[0], "report number prefix")
	assert.Equal(t, []byte{0x03, 0x07, 0x01, 0x0f, 0x00, 0x00, 0x00}, first[1:reportSize])
	assert.Equal(t, byte(0)|writeFlag, first[reportSize])

	last := dev.reports[len(dev.reports)-1]
	assert.Equal(t, byte(frameSize/reportPayload-1)|writeFlag, last[reportSize])

	// The slot byte and frame CRC live in the tenth report's chunk.
	var slotReport []byte
	for _, r := range dev.reports {
		if r[reportSize]&^writeFlag == 9 {
			slotReport = r
		}
	}
	require.NotNil(t, slotReport)
	assert.Equal(t, byte(0x15), slotReport[1+payloadSize-9*reportPayload])
}

func TestExchangeNotApplied(t *testing.T) {
	dev := &fakeFeatureDevice{sequence: 7, advance: false}
	conn := &Connection{dev: dev}

	_, err := conn.Exchange([]byte{0x15})

	var cmdErr *yubikey.CommandError
	require.ErrorAs(t, err, &cmdErr)
}

func TestExchangeRejectsOversizedPayload(t *testing.T) {
	conn := &Connection{dev: &fakeFeatureDevice{}}

	_, err := conn.Exchange(make([]byte, 1+payloadSize+1))
	assert.Error(t, err)

	_, err = conn.Exchange(nil)
	assert.Error(t, err)
}
