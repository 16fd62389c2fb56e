package bridge

// Device is the sensor-bridge capability the engine drives (real or mocked).
// Every call blocks until the bridge answers or the transport gives up.
type Device interface {
	SetSupplyVoltage(port int, volts float64) error
	MeasureVoltage(port int) (float64, error)
	SwitchSupplyOff(port int) error
	Close() error
}

// Ensure Serial implements Device.
var _ Device = (*Serial)(nil)

// Ensure Mock implements Device.
var _ Device = (*Mock)(nil)
