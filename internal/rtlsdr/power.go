// Package rtlsdr turns an RTL2832 dongle on a coupler tap into a coarse power
// analyzer for bench setups without a spectrum analyzer.
package rtlsdr

import (
	"fmt"
	"math"
)

// Capture defaults.
const (
	DefaultSampleRate = 2400000
	DefaultSamples    = 16384 * 16
)

// Config selects and calibrates the dongle.
type Config struct {
	Index      int `yaml:"index"`
	SampleRate int `yaml:"sample_rate"`
	// Gain is in dB. Zero selects automatic gain.
	Gain int `yaml:"gain"`
	// OffsetDB maps dBFS at the dongle to dBm at the antenna port.
	OffsetDB float64 `yaml:"offset_db"`
	Samples  int     `yaml:"samples"`
}

// DefaultConfig returns the capture defaults for device 0.
func DefaultConfig() Config {
	return Config{
		SampleRate: DefaultSampleRate,
		Samples:    DefaultSamples,
	}
}

// Validate checks the capture parameters.
func (c Config) Validate() error {
	if c.Index < 0 {
		return fmt.Errorf("invalid device index %d", c.Index)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", c.SampleRate)
	}
	// ReadSync wants whole USB blocks
	if c.Samples <= 0 || (2*c.Samples)%512 != 0 {
		return fmt.Errorf("sample count %d must be a positive multiple of 256", c.Samples)
	}
	return nil
}

// PowerDBFS returns the mean power of interleaved unsigned 8-bit IQ samples
// relative to full scale.
func PowerDBFS(iq []byte) float64 {
	n := len(iq) / 2
	if n == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for k := 0; k < n; k++ {
		i := (float64(iq[2*k]) - 127.5) / 127.5
		q := (float64(iq[2*k+1]) - 127.5) / 127.5
		sum += i*i + q*q
	}
	return 10 * math.Log10(sum/float64(n))
}
