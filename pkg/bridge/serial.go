package bridge

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the baud rate of the SEK sensor bridge.
	DefaultBaudRate = 460800
	// DefaultTimeout bounds the wait for a single command response.
	DefaultTimeout = 500 * time.Millisecond
	// DefaultAddress is the SHDLC slave address of the bridge.
	DefaultAddress = 0x00

	// pollInterval is the serial read timeout; reads return empty after it.
	pollInterval = 20 * time.Millisecond
)

// Sensor bridge command ids.
const (
	cmdSetSupplyVoltage = 0x00
	cmdSupplySwitch     = 0x01
	cmdMeasureVoltage   = 0x02
)

var (
	// ErrTimeout is returned when the bridge does not answer in time.
	ErrTimeout = errors.New("bridge: response timeout")
	// ErrClosed is returned for commands on a closed device.
	ErrClosed = errors.New("bridge: device closed")
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// Serial is a sensor bridge reached over a serial port with SHDLC framing.
type Serial struct {
	mu      sync.Mutex
	conn    io.ReadWriteCloser
	address byte
	timeout time.Duration
	closed  bool
}

// Dial opens the serial port and returns a bridge handle on it.
func Dial(port string, baudRate int, timeout time.Duration) (*Serial, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}

	conn, err := serial.Open(port, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", port, err)
	}
	if err := conn.SetReadTimeout(pollInterval); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", port, err)
	}
	if err := conn.ResetInputBuffer(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to flush %s: %w", port, err)
	}

	return newSerial(conn, DefaultAddress, timeout), nil
}

// newSerial wraps an already open connection. The connection must return
// (0, nil) or an error from Read when no data is available.
func newSerial(conn io.ReadWriteCloser, address byte, timeout time.Duration) *Serial {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Serial{
		conn:    conn,
		address: address,
		timeout: timeout,
	}
}

// SetSupplyVoltage sets the supply voltage of port and switches it on.
func (d *Serial) SetSupplyVoltage(port int, volts float64) error {
	data := make([]byte, 5)
	data[0] = byte(port)
	binary.BigEndian.PutUint32(data[1:], math.Float32bits(float32(volts)))

	if _, err := d.transceive(cmdSetSupplyVoltage, data); err != nil {
		return fmt.Errorf("failed to set supply voltage on port %d: %w", port, err)
	}
	if _, err := d.transceive(cmdSupplySwitch, []byte{byte(port), 1}); err != nil {
		return fmt.Errorf("failed to switch supply on for port %d: %w", port, err)
	}
	return nil
}

// MeasureVoltage returns the analog voltage on port.
func (d *Serial) MeasureVoltage(port int) (float64, error) {
	resp, err := d.transceive(cmdMeasureVoltage, []byte{byte(port)})
	if err != nil {
		return 0, fmt.Errorf("failed to measure voltage on port %d: %w", port, err)
	}
	if len(resp.data) != 4 {
		return 0, fmt.Errorf("failed to measure voltage on port %d: expected 4 data bytes, got %d", port, len(resp.data))
	}
	return float64(math.Float32frombits(binary.BigEndian.Uint32(resp.data))), nil
}

// SwitchSupplyOff switches the supply of port off.
func (d *Serial) SwitchSupplyOff(port int) error {
	if _, err := d.transceive(cmdSupplySwitch, []byte{byte(port), 0}); err != nil {
		return fmt.Errorf("failed to switch supply off for port %d: %w", port, err)
	}
	return nil
}

// Close releases the serial port. Closing twice is a no-op.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	if err := d.conn.Close(); err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	return nil
}

// transceive sends one command and waits for its response.
func (d *Serial) transceive(cmd byte, data []byte) (response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return response{}, ErrClosed
	}

	frame, err := encodeFrame(d.address, cmd, data)
	if err != nil {
		return response{}, err
	}
	if _, err := d.conn.Write(frame); err != nil {
		return response{}, fmt.Errorf("write: %w", err)
	}

	body, err := d.readFrame(time.Now().Add(d.timeout))
	if err != nil {
		return response{}, err
	}

	resp, err := decodeResponse(body)
	if err != nil {
		return response{}, err
	}
	if resp.addr != d.address || resp.cmd != cmd {
		return response{}, fmt.Errorf("shdlc: unexpected response addr=0x%02X cmd=0x%02X", resp.addr, resp.cmd)
	}
	if code := resp.state & stateErrorMask; code != 0 {
		return response{}, &ExecutionError{Command: cmd, Code: code}
	}

	return resp, nil
}

// readFrame returns the stuffed bytes between the next pair of boundary bytes.
func (d *Serial) readFrame(deadline time.Time) ([]byte, error) {
	var (
		body    []byte
		started bool
		buf     [64]byte
		pending []byte
	)

	for {
		if len(pending) == 0 {
			if time.Now().After(deadline) {
				return nil, ErrTimeout
			}
			n, err := d.conn.Read(buf[:])
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("read: %w", err)
			}
			if n == 0 {
				if errors.Is(err, io.EOF) {
					time.Sleep(pollInterval)
				}
				continue
			}
			pending = buf[:n]
		}

		c := pending[0]
		pending = pending[1:]

		switch {
		case c == frameBoundary && !started:
			started = true
		case c == frameBoundary && len(body) == 0:
			// Back-to-back boundary bytes; the second one starts the frame.
		case c == frameBoundary:
			return body, nil
		case started:
			body = append(body, c)
		}
	}
}
