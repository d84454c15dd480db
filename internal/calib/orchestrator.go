package calib

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"attencal/internal/hw"
)

// Point is the cascaded BB/TX/FB result for one frequency.
type Point struct {
	FreqMHz float64
	BB      Result
	TX      Result
	FB      Result
}

// Results returns the stage results in calibration order.
func (p *Point) Results() [3]Result {
	return [3]Result{p.BB, p.TX, p.FB}
}

// Exhausted returns the first stage result that ran out of budget.
func (p *Point) Exhausted() (Result, bool) {
	for _, r := range p.Results() {
		if r.Outcome == ExhaustedBudget {
			return r, true
		}
	}
	return Result{}, false
}

// Orchestrator runs the three stages of one chain in order at one frequency,
// feeding each stage's residual into the next.
type Orchestrator struct {
	chain    int
	settings map[hw.Stage]StageSettings
	meter    hw.PowerMeasurement
	atten    *hw.Clamped
	loop     Loop
	sleep    SleepFunc
	logger   *logrus.Logger
}

// NewOrchestrator creates an orchestrator for one chain. settings must hold
// all three stages.
func NewOrchestrator(chain int, settings map[hw.Stage]StageSettings, meter hw.PowerMeasurement, atten *hw.Clamped, loop Loop, logger *logrus.Logger) (*Orchestrator, error) {
	for _, s := range hw.Stages {
		st, ok := settings[s]
		if !ok {
			return nil, fmt.Errorf("missing settings for %s stage", s)
		}
		if err := st.Validate(); err != nil {
			return nil, fmt.Errorf("invalid %s stage settings: %w", s, err)
		}
	}
	return &Orchestrator{
		chain:    chain,
		settings: settings,
		meter:    meter,
		atten:    atten,
		loop:     loop,
		sleep:    Sleep,
		logger:   logger,
	}, nil
}

// SetSleep replaces the settle wait, mainly for tests.
func (o *Orchestrator) SetSleep(fn SleepFunc) {
	o.sleep = fn
}

// Chain returns the chain index.
func (o *Orchestrator) Chain() int { return o.chain }

// Settings returns the settings of stage.
func (o *Orchestrator) Settings(stage hw.Stage) StageSettings { return o.settings[stage] }

// ApplyDefaults programs every stage of the chain to its init attenuation.
func (o *Orchestrator) ApplyDefaults() error {
	for _, stage := range hw.Stages {
		if _, err := o.atten.Apply(stage, o.chain, o.settings[stage].InitDB); err != nil {
			return err
		}
	}
	return nil
}

// Temperature reads the chain temperature in degrees Celsius.
func (o *Orchestrator) Temperature() (float64, error) {
	return hw.CheckReading(o.meter.ReadTemperature(o.chain))
}

// CalibratePoint calibrates BB, TX and FB at freqMHz. prev, when set, seeds
// each stage from the neighbouring frequency. Any stage failure aborts the
// whole point.
func (o *Orchestrator) CalibratePoint(ctx context.Context, freqMHz float64, prev *Point) (*Point, error) {
	if err := o.meter.Tune(freqMHz); err != nil {
		return nil, &HardwareResponseError{Stage: hw.StageBB, Chain: o.chain, FreqMHz: freqMHz, Op: "tune", Err: err}
	}

	point := &Point{FreqMHz: freqMHz}
	carry := 0.0

	for _, stage := range hw.Stages {
		var seed *float64
		if prev != nil {
			v := prev.result(stage).ValueDB + o.settings[stage].SeedStepDB
			seed = &v
		}

		r, err := o.calibrator(stage).CalibrateWithDiff(ctx, freqMHz, seed, carry)
		if err != nil {
			return nil, err
		}
		point.set(stage, r)
		carry = r.Residual
	}

	o.logger.WithFields(logrus.Fields{
		"chain":    o.chain,
		"freq_mhz": freqMHz,
		"bb_db":    point.BB.ValueDB,
		"tx_db":    point.TX.ValueDB,
		"fb_db":    point.FB.ValueDB,
	}).Info("Point calibrated")

	return point, nil
}

// calibrator builds a fresh calibrator, and with it a fresh PID, per call.
func (o *Orchestrator) calibrator(stage hw.Stage) *Calibrator {
	// NewRole only fails for stages outside hw.Stages.
	role, _ := NewRole(stage, o.chain, o.settings[stage], o.meter)
	return NewCalibrator(role, o.atten, o.chain, o.loop, o.sleep, o.logger)
}

func (p *Point) result(stage hw.Stage) Result {
	switch stage {
	case hw.StageTX:
		return p.TX
	case hw.StageFB:
		return p.FB
	}
	return p.BB
}

func (p *Point) set(stage hw.Stage, r Result) {
	switch stage {
	case hw.StageBB:
		p.BB = r
	case hw.StageTX:
		p.TX = r
	case hw.StageFB:
		p.FB = r
	}
}
