package calib

import (
	"fmt"
	"time"

	"attencal/internal/hw"
)

// StageSettings are the fixed per-stage constants of a calibration run.
type StageSettings struct {
	// ResolutionDivider is the number of hardware codes per dB.
	ResolutionDivider int `yaml:"resolution_divider"`
	// InitDB is the starting attenuation when no previous point exists.
	InitDB float64 `yaml:"init_db"`
	// TargetDBm is the power setpoint the stage drives its reading to.
	TargetDBm float64 `yaml:"target_dbm"`
	// SettleMs is the wait after programming the initial value.
	SettleMs int `yaml:"settle_ms"`
	// SeedStepDB is added to the previous frequency's result to seed the next.
	SeedStepDB float64 `yaml:"seed_step_db"`

	hw.Limits `yaml:",inline"`
}

// Settle returns the settle wait as a duration.
func (s StageSettings) Settle() time.Duration {
	return time.Duration(s.SettleMs) * time.Millisecond
}

// Validate checks the settings of one stage.
func (s StageSettings) Validate() error {
	if s.ResolutionDivider < 1 {
		return fmt.Errorf("resolution divider must be positive, got %d", s.ResolutionDivider)
	}
	if s.MaxDB < s.MinDB {
		return fmt.Errorf("max %.2f dB below min %.2f dB", s.MaxDB, s.MinDB)
	}
	if !s.Limits.Contains(s.InitDB) {
		return fmt.Errorf("init %.2f dB outside [%.2f, %.2f]", s.InitDB, s.MinDB, s.MaxDB)
	}
	if s.SettleMs < 0 {
		return fmt.Errorf("settle time must not be negative")
	}
	return nil
}

// Role is the stage-specific part of a calibrator: what it measures and what
// it aims for.
type Role interface {
	Stage() hw.Stage
	Settings() StageSettings
	// Arm prepares the measurement source for a carrier at freqMHz.
	Arm(freqMHz float64) error
	// Measure returns the stage's reading in dBm.
	Measure() (float64, error)
}

// NewRole returns the role for stage on the given chain.
func NewRole(stage hw.Stage, chain int, settings StageSettings, meter hw.PowerMeasurement) (Role, error) {
	base := role{chain: chain, settings: settings, meter: meter}
	switch stage {
	case hw.StageBB:
		return &bbRole{base}, nil
	case hw.StageTX:
		return &txRole{base}, nil
	case hw.StageFB:
		return &fbRole{base}, nil
	}
	return nil, fmt.Errorf("no calibrator for %s", stage)
}

type role struct {
	chain    int
	settings StageSettings
	meter    hw.PowerMeasurement
}

func (r role) Settings() StageSettings { return r.settings }

// bbRole reads the input power the unit reports itself.
type bbRole struct{ role }

func (r *bbRole) Stage() hw.Stage { return hw.StageBB }

func (r *bbRole) Arm(float64) error { return nil }

func (r *bbRole) Measure() (float64, error) {
	return hw.CheckReading(r.meter.ReadPowerIn(r.chain))
}

// txRole reads output power on the external analyzer.
type txRole struct{ role }

func (r *txRole) Stage() hw.Stage { return hw.StageTX }

func (r *txRole) Arm(freqMHz float64) error { return r.meter.Tune(freqMHz) }

func (r *txRole) Measure() (float64, error) {
	return hw.CheckReading(r.meter.ReadPowerOut(r.chain))
}

// fbRole reads the feedback receiver power.
type fbRole struct{ role }

func (r *fbRole) Stage() hw.Stage { return hw.StageFB }

func (r *fbRole) Arm(freqMHz float64) error { return r.meter.Tune(freqMHz) }

func (r *fbRole) Measure() (float64, error) {
	return hw.CheckReading(r.meter.ReadPowerFeedback(r.chain))
}
