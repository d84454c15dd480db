// Package sim is an in-process model of a transmit chain and its test
// equipment. Each stage has an optimal attenuation per frequency; readings
// move one dB for every dB the programmed attenuation is off from optimum.
package sim

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"attencal/internal/hw"
)

// Curve returns the optimal attenuation (dB) of a stage at freqMHz.
type Curve func(freqMHz float64) float64

// Linear returns a curve with the given value at f0 and slope in dB/MHz.
func Linear(f0, atF0, slope float64) Curve {
	return func(f float64) float64 { return atF0 + slope*(f-f0) }
}

// Points returns a curve that is piecewise constant on the given frequencies,
// taking the value of the nearest listed frequency.
func Points(values map[float64]float64) Curve {
	return func(f float64) float64 {
		best, bestDist := 0.0, math.Inf(1)
		for freq, v := range values {
			if d := math.Abs(freq - f); d < bestDist {
				best, bestDist = v, d
			}
		}
		return best
	}
}

// Targets are the power setpoints the model is built around.
type Targets struct {
	PowerIn       float64
	PowerOut      float64
	PowerFeedback float64
}

// Bench simulates one radio with any number of chains.
type Bench struct {
	Targets Targets
	Optimal map[hw.Stage]Curve

	// Stuck makes a stage's reading ignore the programmed attenuation, so the
	// feedback loop can never settle.
	Stuck map[hw.Stage]bool
	// Fail makes every reading for a stage return the error.
	Fail map[hw.Stage]error
	// Noise is the standard deviation (dB) of Gaussian noise added to readings.
	Noise float64

	Current   float64
	ACLR      float64
	EVM       float64
	FreqError float64
	Temp      float64

	mu        sync.Mutex
	freq      float64
	bandwidth int
	reboots   int
	atten     map[int]map[hw.Stage]float64
	reads     map[hw.Stage]int
	rng       *rand.Rand
}

// NewBench creates a simulator with flat optimal curves and typical readings.
func NewBench(targets Targets, bandwidth int) *Bench {
	return &Bench{
		Targets: targets,
		Optimal: map[hw.Stage]Curve{
			hw.StageBB: Linear(0, 4, 0),
			hw.StageTX: Linear(0, 8, 0),
			hw.StageFB: Linear(0, 12, 0),
		},
		Current:   1.2,
		ACLR:      -48,
		EVM:       1.5,
		FreqError: 12,
		Temp:      30,
		bandwidth: bandwidth,
		atten:     make(map[int]map[hw.Stage]float64),
		reads:     make(map[hw.Stage]int),
		rng:       rand.New(rand.NewSource(1)),
	}
}

// Seed reseeds the noise source.
func (b *Bench) Seed(seed int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rng = rand.New(rand.NewSource(seed))
}

// Set implements hw.Attenuators.
func (b *Bench) Set(stage hw.Stage, chain int, valueDB float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.atten[chain] == nil {
		b.atten[chain] = make(map[hw.Stage]float64)
	}
	b.atten[chain][stage] = valueDB
	return nil
}

// Get implements hw.Attenuators.
func (b *Bench) Get(stage hw.Stage, chain int) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.atten[chain][stage], nil
}

// Tune implements hw.Analyzer.
func (b *Bench) Tune(freqMHz float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.freq = freqMHz
	return nil
}

// Frequency returns the last tuned frequency.
func (b *Bench) Frequency() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.freq
}

// offset is how far (dB) a stage's programmed attenuation is below optimum.
func (b *Bench) offset(stage hw.Stage, chain int) float64 {
	if b.Stuck[stage] {
		return 5
	}
	opt := b.Optimal[stage]
	if opt == nil {
		return 0
	}
	return opt(b.freq) - b.atten[chain][stage]
}

func (b *Bench) reading(stage hw.Stage, v float64) (float64, error) {
	b.reads[stage]++
	if err := b.Fail[stage]; err != nil {
		return 0, err
	}
	if b.Noise > 0 {
		v += b.rng.NormFloat64() * b.Noise
	}
	return v, nil
}

// ReadPowerIn implements hw.Sensors.
func (b *Bench) ReadPowerIn(chain int) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reading(hw.StageBB, b.Targets.PowerIn+b.offset(hw.StageBB, chain))
}

// ReadPowerOut implements hw.Analyzer.
func (b *Bench) ReadPowerOut(chain int) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reading(hw.StageTX, b.powerOut(chain))
}

func (b *Bench) powerOut(chain int) float64 {
	return b.Targets.PowerOut + b.offset(hw.StageBB, chain) + b.offset(hw.StageTX, chain)
}

// ReadPowerFeedback implements hw.Sensors.
func (b *Bench) ReadPowerFeedback(chain int) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.powerOut(chain) - b.Targets.PowerOut
	return b.reading(hw.StageFB, b.Targets.PowerFeedback+out+b.offset(hw.StageFB, chain))
}

// ReadCurrent implements hw.Sensors.
func (b *Bench) ReadCurrent(chain int) (float64, error) { return b.Current, nil }

// ReadTemperature implements hw.Sensors.
func (b *Bench) ReadTemperature(chain int) (float64, error) { return b.Temp, nil }

// ReadACLR implements hw.Analyzer.
func (b *Bench) ReadACLR() (float64, error) { return b.ACLR, nil }

// ReadEVM implements hw.Analyzer.
func (b *Bench) ReadEVM() (float64, error) { return b.EVM, nil }

// ReadFreqError implements hw.Analyzer.
func (b *Bench) ReadFreqError() (float64, error) { return b.FreqError, nil }

// Bandwidth implements hw.Radio.
func (b *Bench) Bandwidth() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bandwidth, nil
}

// ReconfigureBandwidth implements hw.Radio.
func (b *Bench) ReconfigureBandwidth(mhz int) error {
	if mhz <= 0 {
		return fmt.Errorf("invalid bandwidth %d MHz", mhz)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bandwidth = mhz
	b.reboots++
	return nil
}

// Reboots returns how many bandwidth reconfigurations happened.
func (b *Bench) Reboots() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reboots
}

// Reads returns how many readings were taken for a stage.
func (b *Bench) Reads(stage hw.Stage) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads[stage]
}

// HWBench wraps the simulator as an hw.Bench.
func (b *Bench) HWBench() *hw.Bench {
	return &hw.Bench{Attenuators: b, Meter: b, Radio: b}
}
