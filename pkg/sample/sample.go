package sample

import (
	"math"
	"time"

	"github.com/NWU-FAE/analogRead-SEK/pkg/channel"
)

// Evaluator computes the derived value of a voltage reading. ok is false when
// the result is not a finite number.
type Evaluator interface {
	Eval(x float64) (float64, bool)
}

// Reading is one channel's measurement within a tick.
type Reading struct {
	Channel string
	Index   int
	Voltage float64 // Measured voltage (V)
	Value   float64 // Formula result; NaN when !Valid
	Valid   bool
}

// Sample is the record of one tick. Channels whose measurement failed are
// absent from Readings.
type Sample struct {
	Time     time.Time
	Readings []Reading
}

// NewReading evaluates expr on volts for ch.
func NewReading(ch channel.Channel, volts float64, expr Evaluator) Reading {
	r := Reading{
		Channel: ch.Name,
		Index:   ch.Index,
		Voltage: volts,
		Value:   math.NaN(),
	}
	if expr == nil {
		r.Value, r.Valid = volts, true
		return r
	}
	if v, ok := expr.Eval(volts); ok {
		r.Value, r.Valid = v, true
	}
	return r
}

// Epoch returns the tick time as seconds since the Unix epoch.
func (s Sample) Epoch() float64 {
	return float64(s.Time.UnixNano()) / 1e9
}

// Reading returns the reading for the named channel.
func (s Sample) Reading(name string) (Reading, bool) {
	for _, r := range s.Readings {
		if r.Channel == name {
			return r, true
		}
	}
	return Reading{}, false
}

// Clone returns a copy that shares no memory with s.
func (s Sample) Clone() Sample {
	readings := make([]Reading, len(s.Readings))
	copy(readings, s.Readings)
	return Sample{Time: s.Time, Readings: readings}
}
