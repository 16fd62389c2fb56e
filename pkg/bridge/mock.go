package bridge

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/NWU-FAE/analogRead-SEK/pkg/config"
)

// ErrSupplyOff is returned by Mock when measuring an unpowered port.
var ErrSupplyOff = errors.New("bridge: port supply is off")

// Mock simulates a sensor bridge for testing and development.
type Mock struct {
	cfg *config.MockConfig

	mu        sync.Mutex
	startTime time.Time
	closed    bool
	supply    map[int]float64

	// Failure injection and fixed readings
	measureErr map[int]error
	supplyErr  map[int]error
	offErr     map[int]error
	held       map[int]float64

	calls []string
}

// NewMock creates a new simulated bridge.
func NewMock(cfg *config.MockConfig) *Mock {
	if cfg == nil {
		cfg = &config.MockConfig{
			Offset:     0.5,
			Amplitude:  0.25,
			Period:     10 * time.Second,
			NoiseLevel: 0.005,
		}
	}

	return &Mock{
		cfg:        cfg,
		startTime:  time.Now(),
		supply:     make(map[int]float64),
		measureErr: make(map[int]error),
		supplyErr:  make(map[int]error),
		offErr:     make(map[int]error),
		held:       make(map[int]float64),
	}
}

// SetSupplyVoltage powers port at volts.
func (m *Mock) SetSupplyVoltage(port int, volts float64) error {
	m.latency()
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, fmt.Sprintf("supply %d %.1f", port, volts))
	if m.closed {
		return ErrClosed
	}
	if err := m.supplyErr[port]; err != nil {
		return err
	}
	m.supply[port] = volts
	return nil
}

// MeasureVoltage returns a simulated reading for port.
func (m *Mock) MeasureVoltage(port int) (float64, error) {
	m.latency()
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, fmt.Sprintf("measure %d", port))
	if m.closed {
		return 0, ErrClosed
	}
	if err := m.measureErr[port]; err != nil {
		return 0, err
	}
	supply, ok := m.supply[port]
	if !ok {
		return 0, ErrSupplyOff
	}
	if v, ok := m.held[port]; ok {
		return v, nil
	}

	return m.simulate(port, supply), nil
}

// SwitchSupplyOff unpowers port.
func (m *Mock) SwitchSupplyOff(port int) error {
	m.latency()
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, fmt.Sprintf("off %d", port))
	if m.closed {
		return ErrClosed
	}
	if err := m.offErr[port]; err != nil {
		return err
	}
	delete(m.supply, port)
	return nil
}

// Close marks the mock closed. Closing twice is a no-op.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.calls = append(m.calls, "close")
	}
	m.closed = true
	return nil
}

// FailMeasure makes MeasureVoltage on port fail with err until cleared with nil.
func (m *Mock) FailMeasure(port int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	setOrClear(m.measureErr, port, err)
}

// FailSupply makes SetSupplyVoltage on port fail with err until cleared with nil.
func (m *Mock) FailSupply(port int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	setOrClear(m.supplyErr, port, err)
}

// FailSwitchOff makes SwitchSupplyOff on port fail with err until cleared with nil.
func (m *Mock) FailSwitchOff(port int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	setOrClear(m.offErr, port, err)
}

// Hold pins the reading of port to volts.
func (m *Mock) Hold(port int, volts float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held[port] = volts
}

// Supply returns the supply voltage of port and whether it is powered.
func (m *Mock) Supply(port int) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.supply[port]
	return v, ok
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Calls returns the commands received so far, e.g. "supply 0 3.3".
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]string, len(m.calls))
	copy(result, m.calls)
	return result
}

// simulate produces a slow sine around Offset*supply with deterministic ripple.
func (m *Mock) simulate(port int, supply float64) float64 {
	elapsed := time.Since(m.startTime).Seconds()
	phase := float64(port) * math.Pi / 2

	v := m.cfg.Offset * supply
	if m.cfg.Period > 0 {
		v += m.cfg.Amplitude * math.Sin(2*math.Pi*elapsed/m.cfg.Period.Seconds()+phase)
	}

	noise := (math.Sin(elapsed*1000) + math.Cos(elapsed*1300)) * m.cfg.NoiseLevel * 0.5
	v += noise

	return math.Max(0, math.Min(v, supply))
}

func (m *Mock) latency() {
	if m.cfg.Latency > 0 {
		time.Sleep(m.cfg.Latency)
	}
}

func setOrClear(errs map[int]error, port int, err error) {
	if err == nil {
		delete(errs, port)
		return
	}
	errs[port] = err
}
