package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NWU-FAE/analogRead-SEK/pkg/bridge"
	"github.com/NWU-FAE/analogRead-SEK/pkg/channel"
)

var (
	port1 = channel.Channel{Name: "Port1", Index: 0, Active: true}
	port2 = channel.Channel{Name: "Port2", Index: 1, Active: true}
)

func mockDialer(dev *bridge.Mock) Dialer {
	return func(port string, baudRate int) (bridge.Device, error) {
		return dev, nil
	}
}

func newOpenSession(t *testing.T, dev *bridge.Mock, channels ...channel.Channel) *Session {
	t.Helper()
	s := New(mockDialer(dev), nil)
	require.NoError(t, s.Open("COM3", bridge.DefaultBaudRate, 3.3, channels))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_PowersChannelsInOrder(t *testing.T) {
	dev := bridge.NewMock(nil)
	s := newOpenSession(t, dev, port1, port2)

	assert.Equal(t, Open, s.State())
	assert.True(t, s.IsOpen())
	assert.Equal(t, 3.3, s.Supply())
	assert.Equal(t, []string{"supply 0 3.3", "supply 1 3.3"}, dev.Calls())
	assert.Equal(t, []channel.Channel{port1, port2}, s.Powered())
}

func TestOpen_NoChannels(t *testing.T) {
	dialed := false
	s := New(func(string, int) (bridge.Device, error) {
		dialed = true
		return bridge.NewMock(nil), nil
	}, nil)

	err := s.Open("COM3", bridge.DefaultBaudRate, 3.3, nil)
	assert.ErrorIs(t, err, channel.ErrNoChannelsSelected)
	assert.Equal(t, Closed, s.State())
	assert.False(t, dialed)
}

func TestOpen_InvalidSupply(t *testing.T) {
	s := New(mockDialer(bridge.NewMock(nil)), nil)
	err := s.Open("COM3", bridge.DefaultBaudRate, 12, []channel.Channel{port1})
	assert.ErrorIs(t, err, ErrInvalidSupply)
	assert.Equal(t, Closed, s.State())
}

func TestOpen_Twice(t *testing.T) {
	s := newOpenSession(t, bridge.NewMock(nil), port1)

	err := s.Open("COM3", bridge.DefaultBaudRate, 3.3, []channel.Channel{port1})
	assert.ErrorIs(t, err, ErrAlreadyOpen)
	assert.ErrorIs(t, err, channel.ErrInvalidState)
	assert.True(t, s.IsOpen())
}

func TestOpen_OnlyOneSessionPerProcess(t *testing.T) {
	newOpenSession(t, bridge.NewMock(nil), port1)

	other := New(mockDialer(bridge.NewMock(nil)), nil)
	err := other.Open("COM4", bridge.DefaultBaudRate, 3.3, []channel.Channel{port1})
	assert.ErrorIs(t, err, ErrAlreadyOpen)
	assert.Equal(t, Closed, other.State())
}

func TestOpen_DialFailure(t *testing.T) {
	s := New(func(string, int) (bridge.Device, error) {
		return nil, errors.New("no such port")
	}, nil)

	err := s.Open("COM9", bridge.DefaultBaudRate, 3.3, []channel.Channel{port1})
	assert.ErrorIs(t, err, ErrDeviceIO)
	assert.Equal(t, Closed, s.State())

	// Engine remains operable: a later open with a working dialer succeeds.
	s.dial = mockDialer(bridge.NewMock(nil))
	require.NoError(t, s.Open("COM3", bridge.DefaultBaudRate, 3.3, []channel.Channel{port1}))
	require.NoError(t, s.Close())
}

func TestOpen_SupplyFailureLeavesClosed(t *testing.T) {
	dev := bridge.NewMock(nil)
	dev.FailSupply(1, errors.New("nack"))
	s := New(mockDialer(dev), nil)

	err := s.Open("COM3", bridge.DefaultBaudRate, 5, []channel.Channel{port1, port2})
	assert.ErrorIs(t, err, ErrDeviceIO)
	assert.Equal(t, Closed, s.State())
	assert.Empty(t, s.Powered())

	// Port1 was powered before the failure and must be switched off again.
	assert.Equal(t, []string{"supply 0 5.0", "supply 1 5.0", "off 0", "close"}, dev.Calls())
	assert.True(t, dev.Closed())

	_, err = s.Measure(port1)
	assert.ErrorIs(t, err, ErrNotConnected)

	// Another session may open now.
	other := New(mockDialer(bridge.NewMock(nil)), nil)
	require.NoError(t, other.Open("COM3", bridge.DefaultBaudRate, 5, []channel.Channel{port1}))
	require.NoError(t, other.Close())
}

func TestMeasure(t *testing.T) {
	dev := bridge.NewMock(nil)
	dev.Hold(0, 1.5)
	s := newOpenSession(t, dev, port1, port2)

	v, err := s.Measure(port1)
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)

	dev.FailMeasure(1, errors.New("crc error"))
	_, err = s.Measure(port2)
	assert.ErrorIs(t, err, ErrDeviceIO)
	assert.True(t, s.IsOpen(), "measurement fault must not close the session")
}

func TestMeasure_Closed(t *testing.T) {
	s := New(mockDialer(bridge.NewMock(nil)), nil)
	_, err := s.Measure(port1)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestExtend(t *testing.T) {
	dev := bridge.NewMock(nil)
	s := newOpenSession(t, dev, port1)

	require.NoError(t, s.Extend([]channel.Channel{port1, port2}))
	assert.Equal(t, []channel.Channel{port1, port2}, s.Powered())
	assert.Equal(t, []string{"supply 0 3.3", "supply 1 3.3"}, dev.Calls())

	closed := New(mockDialer(bridge.NewMock(nil)), nil)
	assert.ErrorIs(t, closed.Extend([]channel.Channel{port1}), ErrNotConnected)
}

func TestClose_BestEffort(t *testing.T) {
	dev := bridge.NewMock(nil)
	s := New(mockDialer(dev), nil)
	require.NoError(t, s.Open("COM3", bridge.DefaultBaudRate, 3.3, []channel.Channel{port1, port2}))

	dev.FailSwitchOff(0, errors.New("timeout"))
	err := s.Close()
	assert.ErrorIs(t, err, ErrDeviceIO)
	assert.Equal(t, Closed, s.State())
	assert.True(t, dev.Closed())

	// Port2 was still switched off after Port1 failed.
	calls := dev.Calls()
	assert.Equal(t, []string{"off 0", "off 1", "close"}, calls[len(calls)-3:])
}

func TestClose_Idempotent(t *testing.T) {
	s := New(mockDialer(bridge.NewMock(nil)), nil)
	assert.NoError(t, s.Close())

	require.NoError(t, s.Open("COM3", bridge.DefaultBaudRate, 3.3, []channel.Channel{port1}))
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.Equal(t, Closed, s.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "closed", Closed.String())
}
