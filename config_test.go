// SPDX-FileCopyrightText: 2025-2026 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package yubikey

import (
	"errors"
	"fmt"
	"testing"

	iso "cunicu.li/go-iso7816"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn records exchanged requests and plays back canned responses.
type fakeConn struct {
	requests  [][]byte
	responses [][]byte
	err       error
	closed    bool
}

func (c *fakeConn) Exchange(req []byte) ([]byte, error) {
	c.requests = append(c.requests, req)

	if c.err != nil {
		return nil, c.err
	}
	if len(c.responses) == 0 {
		return []byte{0x90, 0x00}, nil
	}

	resp := c.responses[0]
	c.responses = c.responses[1:]

	return resp, nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func connHandle(kind TransportKind, conn *fakeConn) Handle {
	return Handle{
		Kind:    kind,
		Path:    kind.String(),
		Connect: func() (Connection, error) { return conn, nil },
	}
}

func someConfig() DeviceConfig {
	timeout := byte(15)
	return DeviceConfig{ChallengeResponseTimeout: &timeout}
}

func TestSetDeviceConfigManagement(t *testing.T) {
	conn := &fakeConn{}
	d := NewDevice(connHandle(TransportSmartCard, conn), DeviceInfo{})

	err := d.SetDeviceConfig(someConfig())
	require.NoError(t, err)

	require.Len(t, conn.requests, 2)
	assert.Equal(t, buildAPDU(0x00, 0xa4, 0x04, 0x00, aidManagement), conn.requests[0])
	assert.Equal(t, buildAPDU(0x00, insWriteConfig, 0x00, 0x00, []byte{0x03, 0x07, 0x01, 0x0f}), conn.requests[1])
	assert.True(t, conn.closed)
}

func TestSetDeviceConfigOTPFallback(t *testing.T) {
	conn := &fakeConn{responses: [][]byte{{0x05, 0x04, 0x03, 0x00, 0x00, 0x00}}}
	d := NewDevice(connHandle(TransportHIDKeyboard, conn), DeviceInfo{})

	err := d.SetDeviceConfig(someConfig())
	require.NoError(t, err)

	require.Len(t, conn.requests, 1)
	assert.Equal(t, append([]byte{slotDeviceConfig}, 0x03, 0x07, 0x01, 0x0f), conn.requests[0])
	assert.True(t, conn.closed)
}

func TestSetDeviceConfigNoInterface(t *testing.T) {
	d := NewDevice(Handle{Kind: TransportHIDFIDO, Path: "hidraw0"}, DeviceInfo{})

	err := d.SetDeviceConfig(someConfig())
	assert.ErrorIs(t, err, ErrNoInterface)
}

func TestSetDeviceConfigCommandError(t *testing.T) {
	conn := &fakeConn{responses: [][]byte{
		{0x90, 0x00}, // select
		{0x69, 0x82}, // write config rejected
	}}
	d := NewDevice(connHandle(TransportSmartCard, conn), DeviceInfo{})

	err := d.SetDeviceConfig(someConfig())

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, iso.Code{0x69, 0x82}, cmdErr.Status)
	assert.True(t, conn.closed, "connection leaked on command failure")
}

func TestSetDeviceConfigTransportError(t *testing.T) {
	transportErr := fmt.Errorf("exchange: %w", ErrTimeout)
	conn := &fakeConn{err: transportErr}
	d := NewDevice(connHandle(TransportSmartCard, conn), DeviceInfo{})

	err := d.SetDeviceConfig(someConfig())

	// Timeouts surface as themselves, not as a missing interface or a
	// device-reported failure.
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrNoInterface)

	var cmdErr *CommandError
	assert.False(t, errors.As(err, &cmdErr))
	assert.True(t, conn.closed, "connection leaked on transport failure")
}

// Older firmware carries the OTP applet but not the management one; the
// dispatcher retries the same card through the OTP applet.
func TestSetDeviceConfigOTPOverCCID(t *testing.T) {
	conn := &fakeConn{responses: [][]byte{{0x6a, 0x82}}} // no management applet
	d := NewDevice(connHandle(TransportSmartCard, conn), DeviceInfo{})

	err := d.SetDeviceConfig(someConfig())
	require.NoError(t, err)

	require.Len(t, conn.requests, 3)
	assert.Equal(t, buildAPDU(0x00, 0xa4, 0x04, 0x00, aidManagement), conn.requests[0])
	assert.Equal(t, buildAPDU(0x00, 0xa4, 0x04, 0x00, aidOTP), conn.requests[1])
	assert.Equal(t, buildAPDU(0x00, insOTP, slotDeviceConfig, 0x00, []byte{0x03, 0x07, 0x01, 0x0f}), conn.requests[2])
	assert.True(t, conn.closed)
}

func TestSetDeviceConfigNoAppletAnywhere(t *testing.T) {
	conn := &fakeConn{responses: [][]byte{{0x6a, 0x82}, {0x6a, 0x82}}}
	d := NewDevice(connHandle(TransportSmartCard, conn), DeviceInfo{})

	err := d.SetDeviceConfig(someConfig())
	assert.ErrorIs(t, err, ErrNoInterface)
	assert.True(t, conn.closed)
}

func TestSetDeviceConfigSelectFailureCloses(t *testing.T) {
	conn := &fakeConn{responses: [][]byte{{0x69, 0x82}}} // security status
	d := NewDevice(connHandle(TransportSmartCard, conn), DeviceInfo{})

	err := d.SetDeviceConfig(someConfig())

	// Anything but a missing applet does not trigger the fallback.
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	require.Len(t, conn.requests, 1)
	assert.True(t, conn.closed)
}

func TestReadDeviceInfo(t *testing.T) {
	serial := []byte{0x00, 0x00, 0x00, 0x2a}
	page := []byte{0x06, 0x02, 0x04}
	page = append(page, serial...)
	resp := append(page, 0x90, 0x00)

	conn := &fakeConn{responses: [][]byte{{0x90, 0x00}, resp}}
	d := NewDevice(connHandle(TransportSmartCard, conn), DeviceInfo{})

	info, err := d.ReadDeviceInfo()
	require.NoError(t, err)

	require.NotNil(t, info.Serial)
	assert.Equal(t, uint32(42), *info.Serial)
	assert.True(t, conn.closed)

	require.Len(t, conn.requests, 2)
	assert.Equal(t, buildAPDU(0x00, insReadConfig, 0x00, 0x00, nil), conn.requests[1])
}
