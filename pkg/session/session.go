package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/NWU-FAE/analogRead-SEK/pkg/bridge"
	"github.com/NWU-FAE/analogRead-SEK/pkg/channel"
	"github.com/NWU-FAE/analogRead-SEK/pkg/config"
	"github.com/NWU-FAE/analogRead-SEK/pkg/logging"
)

var (
	// ErrAlreadyOpen is returned by Open while this or another session is open.
	ErrAlreadyOpen = fmt.Errorf("%w: session already open", channel.ErrInvalidState)
	// ErrNotConnected is returned for device operations on a closed session.
	ErrNotConnected = errors.New("not connected")
	// ErrDeviceIO wraps transport faults.
	ErrDeviceIO = errors.New("device i/o error")
	// ErrInvalidSupply is returned for supply voltages the bridge cannot provide.
	ErrInvalidSupply = errors.New("invalid supply voltage")
)

// State of a device session.
type State int

const (
	Closed State = iota
	Open
)

func (s State) String() string {
	if s == Open {
		return "open"
	}
	return "closed"
}

// Dialer opens a device handle on a serial port.
type Dialer func(port string, baudRate int) (bridge.Device, error)

// openSession is the single session allowed to be open in the process.
var (
	openMu      sync.Mutex
	openSession *Session
)

// Session owns the connection to one sensor bridge and the supply state of
// the channels it powered.
type Session struct {
	dial Dialer
	log  logrus.FieldLogger

	mu      sync.Mutex
	state   State
	dev     bridge.Device
	port    string
	supply  float64
	powered []channel.Channel
}

// New creates a closed session that connects through dial.
func New(dial Dialer, log logrus.FieldLogger) *Session {
	return &Session{
		dial: dial,
		log:  logging.OrDiscard(log),
	}
}

// Open connects and powers every channel in order. Any failure leaves the
// session closed with the device released.
func (s *Session) Open(port string, baudRate int, supply float64, channels []channel.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Open {
		return ErrAlreadyOpen
	}
	if len(channels) == 0 {
		return channel.ErrNoChannelsSelected
	}
	if !config.ValidSupply(supply) {
		return fmt.Errorf("%w: %.2fV", ErrInvalidSupply, supply)
	}
	if !claim(s) {
		return ErrAlreadyOpen
	}

	dev, err := s.dial(port, baudRate)
	if err != nil {
		release(s)
		return fmt.Errorf("%w: %v", ErrDeviceIO, err)
	}

	powered := make([]channel.Channel, 0, len(channels))
	for _, ch := range channels {
		if err := dev.SetSupplyVoltage(ch.Index, supply); err != nil {
			s.abort(dev, powered)
			release(s)
			return fmt.Errorf("%w: set supply on %s: %v", ErrDeviceIO, ch.Name, err)
		}
		powered = append(powered, ch)
	}

	s.dev = dev
	s.port = port
	s.supply = supply
	s.powered = powered
	s.state = Open

	s.log.WithFields(logrus.Fields{
		"port":     port,
		"baud":     baudRate,
		"supply":   supply,
		"channels": len(powered),
	}).Info("device connected")

	return nil
}

// Extend powers channels that were activated after Open.
func (s *Session) Extend(channels []channel.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Open {
		return ErrNotConnected
	}

	for _, ch := range channels {
		if s.isPowered(ch.Index) {
			continue
		}
		if err := s.dev.SetSupplyVoltage(ch.Index, s.supply); err != nil {
			return fmt.Errorf("%w: set supply on %s: %v", ErrDeviceIO, ch.Name, err)
		}
		s.powered = append(s.powered, ch)
		s.log.WithField("channel", ch.Name).Info("channel powered")
	}
	return nil
}

// Measure reads the voltage of ch.
func (s *Session) Measure(ch channel.Channel) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Open {
		return 0, ErrNotConnected
	}

	v, err := s.dev.MeasureVoltage(ch.Index)
	if err != nil {
		return 0, fmt.Errorf("%w: measure %s: %v", ErrDeviceIO, ch.Name, err)
	}
	return v, nil
}

// Close switches every powered channel off, best effort, and releases the
// device. Closing a closed session is a no-op. Switch-off failures are
// returned joined, but never keep the session open.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Open {
		return nil
	}

	var errs []error
	for _, ch := range s.powered {
		if err := s.dev.SwitchSupplyOff(ch.Index); err != nil {
			s.log.WithError(err).WithField("channel", ch.Name).Warn("failed to switch supply off")
			errs = append(errs, fmt.Errorf("%w: switch off %s: %v", ErrDeviceIO, ch.Name, err))
		}
	}
	if err := s.dev.Close(); err != nil {
		errs = append(errs, fmt.Errorf("%w: close: %v", ErrDeviceIO, err))
	}

	s.dev = nil
	s.powered = nil
	s.state = Closed
	release(s)

	s.log.WithField("port", s.port).Info("device disconnected")
	return errors.Join(errs...)
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsOpen reports whether the session is open.
func (s *Session) IsOpen() bool {
	return s.State() == Open
}

// Supply returns the supply voltage applied at Open.
func (s *Session) Supply() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.supply
}

// Powered returns the channels currently powered, in power-on order.
func (s *Session) Powered() []channel.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]channel.Channel, len(s.powered))
	copy(result, s.powered)
	return result
}

func (s *Session) isPowered(index int) bool {
	for _, ch := range s.powered {
		if ch.Index == index {
			return true
		}
	}
	return false
}

// abort undoes a partial Open.
func (s *Session) abort(dev bridge.Device, powered []channel.Channel) {
	for _, ch := range powered {
		if err := dev.SwitchSupplyOff(ch.Index); err != nil {
			s.log.WithError(err).WithField("channel", ch.Name).Warn("failed to switch supply off after aborted open")
		}
	}
	if err := dev.Close(); err != nil {
		s.log.WithError(err).Warn("failed to close device after aborted open")
	}
}

func claim(s *Session) bool {
	openMu.Lock()
	defer openMu.Unlock()
	if openSession != nil && openSession != s {
		return false
	}
	openSession = s
	return true
}

func release(s *Session) {
	openMu.Lock()
	defer openMu.Unlock()
	if openSession == s {
		openSession = nil
	}
}
