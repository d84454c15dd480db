// Package hw defines the capabilities the calibration engine needs from the
// bench: programmable attenuators, power and quality measurements, and the
// radio's bandwidth configuration. Concrete drivers live in internal/sim,
// internal/instrument/scpi and internal/rtlsdr.
package hw

import (
	"errors"
	"math"
)

var (
	// ErrInvalidReading is returned when an instrument answers with a sentinel
	// value (NaN, Inf, or a driver specific error code) instead of a reading.
	ErrInvalidReading = errors.New("invalid instrument reading")

	// ErrNotSupported is returned by drivers that cannot perform a measurement.
	ErrNotSupported = errors.New("measurement not supported by instrument")
)

// Attenuators programs the three attenuator stages of every transmit chain.
// Values are in dB.
type Attenuators interface {
	Set(stage Stage, chain int, valueDB float64) error
	Get(stage Stage, chain int) (float64, error)
}

// Analyzer is the external measurement instrument (spectrum analyzer or power
// meter on the antenna port).
type Analyzer interface {
	// Tune arms the instrument for a carrier at freqMHz.
	Tune(freqMHz float64) error
	ReadPowerOut(chain int) (float64, error)
	ReadACLR() (float64, error)
	ReadEVM() (float64, error)
	ReadFreqError() (float64, error)
}

// Sensors are the readbacks the unit under test provides itself.
type Sensors interface {
	ReadPowerIn(chain int) (float64, error)
	ReadPowerFeedback(chain int) (float64, error)
	ReadCurrent(chain int) (float64, error)
	ReadTemperature(chain int) (float64, error)
}

// PowerMeasurement is every reading the engine takes.
type PowerMeasurement interface {
	Analyzer
	Sensors
}

// Radio exposes the unit's bandwidth configuration.
type Radio interface {
	Bandwidth() (int, error)
	// ReconfigureBandwidth changes the LTE bandwidth and reboots the unit.
	ReconfigureBandwidth(mhz int) error
}

// Meter joins an external analyzer with the unit's own sensors.
type Meter struct {
	Analyzer
	Sensors
}

// Bench bundles the hardware a calibration run talks to.
type Bench struct {
	Attenuators Attenuators
	Meter       PowerMeasurement
	Radio       Radio
	closers     []func() error
}

// OnClose registers a release function run by Close in reverse order.
func (b *Bench) OnClose(fn func() error) {
	b.closers = append(b.closers, fn)
}

// Close releases every registered driver and returns the first error.
func (b *Bench) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	b.closers = nil
	return first
}

// CheckReading turns NaN and infinite readings into ErrInvalidReading.
func CheckReading(v float64, err error) (float64, error) {
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrInvalidReading
	}
	return v, nil
}
