// SPDX-FileCopyrightText: 2025-2026 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package fidohid

import (
	"encoding/binary"
	"testing"

	iso "cunicu.li/go-iso7816"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	yubikey "cunicu.li/go-yubikey"
)

const testCID = 0x00112233

// fakeDevice implements the CTAPHID device side: it answers INIT on the
// broadcast channel and plays back one canned payload for every other
// command, fragmented exactly as a real key would.
type fakeDevice struct {
	payload      []byte // response payload for non-init commands
	foreignNonce bool   // answer INIT with someone else's nonce
	pending      [][]byte
	written      [][]byte
	closed       bool
}

func (d *fakeDevice) Write(b []byte) (int, error) {
	report := make([]byte, len(b))
	copy(report, b)
	d.written = append(d.written, report)

	// Only initial packets start an exchange; continuations carry no
	// command bit.
	frame := b[1:]
	if frame[4]&typeInit == 0 {
		return len(b), nil
	}

	switch cmd := frame[4] &^ typeInit; cmd {
	case cmdInit:
		resp := make([]byte, 17)
		copy(resp, frame[7:15]) // echo nonce
		binary.BigEndian.PutUint32(resp[8:], testCID)

		if d.foreignNonce {
			resp[0] ^= 0xff
			for range initAttempts {
				d.queue(binary.BigEndian.Uint32(frame[:4]), cmdInit, resp)
			}
		}

		d.queue(binary.BigEndian.Uint32(frame[:4]), cmdInit, resp)

	default:
		d.queue(binary.BigEndian.Uint32(frame[:4]), cmd, d.payload)
	}

	return len(b), nil
}

func (d *fakeDevice) queue(cid uint32, cmd byte, payload []byte) {
	report := make([]byte, reportSize)
	binary.BigEndian.PutUint32(report, cid)
	report[4] = typeInit | cmd
	binary.BigEndian.PutUint16(report[5:], uint16(len(payload)))

	n := copy(report[7:], payload)
	d.pending = append(d.pending, report)

	for seq := byte(0); n < len(payload); seq++ {
		report = make([]byte, reportSize)
		binary.BigEndian.PutUint32(report, cid)
		report[4] = seq
		n += copy(report[5:], payload[n:])
		d.pending = append(d.pending, report)
	}
}

func (d *fakeDevice) Read(b []byte) (int, error) {
	report := d.pending[0]
	d.pending = d.pending[1:]

	return copy(b, report), nil
}

func (d *fakeDevice) Close() error {
	d.closed = true
	return nil
}

func newTestConnection(t *testing.T, payload []byte) *Connection {
	t.Helper()

	c := &Connection{dev: &fakeDevice{payload: payload}, cid: cidBroadcast}
	require.NoError(t, c.init())
	require.Equal(t, uint32(testCID), c.cid)

	return c
}

// A device that keeps answering with foreign nonces must not make init
// spin forever.
func TestInitGivesUpOnForeignNonces(t *testing.T) {
	c := &Connection{dev: &fakeDevice{foreignNonce: true}, cid: cidBroadcast}

	err := c.init()
	assert.ErrorIs(t, err, errNonceMismatch)
}

func TestExchangeReassemblesFragments(t *testing.T) {
	// Three reports worth of response data.
	payload := make([]byte, 150)
	for i := range payload {
		payload[i] = byte(i)
	}

	c := newTestConnection(t, payload)

	resp, err := c.Exchange([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	assert.Equal(t, payload, resp)
}

func TestExchangeFragmentsRequest(t *testing.T) {
	req := make([]byte, 200)
	for i := range req {
		req[i] = byte(i)
	}

	c := newTestConnection(t, []byte{0x00})
	dev := c.dev.(*fakeDevice)
	before := len(dev.written)

	_, err := c.Exchange(req)
	require.NoError(t, err)

	// 57 bytes fit the initial report, 59 each continuation.
	written := dev.written[before:]
	require.Len(t, written, 4)

	assert.Equal(t, byte(typeInit|cmdCBOR), written[0][5])
	assert.Equal(t, req[:57], written[0][8:8+57])
	for i, cont := range written[1:] {
		assert.Equal(t, byte(i), cont[5])
	}
	assert.Equal(t, req[57:57+59], written[1][6:6+59])
}

func TestGetInfo(t *testing.T) {
	body, err := cbor.Marshal(&Info{
		Versions:        []string{"U2F_V2", "FIDO_2_0"},
		AAGUID:          make([]byte, 16),
		Options:         map[string]bool{"rk": true},
		FirmwareVersion: 5<<16 | 4<<8 | 3,
	})
	require.NoError(t, err)

	c := newTestConnection(t, append([]byte{0x00}, body...))

	info, err := c.GetInfo()
	require.NoError(t, err)
	assert.Contains(t, info.Versions, "FIDO_2_0")

	di := info.DeviceInfo()
	assert.Equal(t, iso.Version{Major: 5, Minor: 4, Patch: 3}, di.Version)
	assert.Equal(t, yubikey.CapU2F|yubikey.CapFIDO2, di.SupportedUSB)
	assert.Nil(t, di.Serial)
}

func TestGetInfoCTAPError(t *testing.T) {
	c := newTestConnection(t, []byte{0x2c}) // CTAP2_ERR_PIN_AUTH_BLOCKED

	_, err := c.GetInfo()

	var cmdErr *yubikey.CommandError
	require.ErrorAs(t, err, &cmdErr)
}
