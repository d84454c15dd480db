package calib

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"attencal/internal/hw"
	"attencal/internal/quant"
)

// Loop limits of the feedback search.
const (
	DefaultMaxIterations  = 10
	DefaultAcceptanceHits = 3
)

// Outcome tells a converged search apart from one that ran out of budget.
type Outcome int

const (
	Converged Outcome = iota
	ExhaustedBudget
)

func (o Outcome) String() string {
	if o == Converged {
		return "converged"
	}
	return "exhausted"
}

// Result is the output of one stage at one frequency.
type Result struct {
	Stage hw.Stage
	// ValueDB is the last attenuation applied to hardware.
	ValueDB float64
	// Code is ValueDB as a hardware code.
	Code int64
	// Residual is the last measured error (dB), measured minus target. The
	// carried-in term only steers the loop and is not part of it.
	Residual   float64
	Iterations int
	Outcome    Outcome
}

// Loop configures the feedback search shared by all stages.
type Loop struct {
	Gains          Gains
	MaxIterations  int
	AcceptanceHits int
}

// DefaultLoop returns the production loop settings.
func DefaultLoop() Loop {
	return Loop{
		Gains:          DefaultGains,
		MaxIterations:  DefaultMaxIterations,
		AcceptanceHits: DefaultAcceptanceHits,
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Calibrator converges one attenuator stage of one chain at one frequency.
type Calibrator struct {
	role   Role
	atten  *hw.Clamped
	chain  int
	loop   Loop
	sleep  SleepFunc
	logger *logrus.Logger
}

// NewCalibrator creates a calibrator for role.
func NewCalibrator(role Role, atten *hw.Clamped, chain int, loop Loop, sleep SleepFunc, logger *logrus.Logger) *Calibrator {
	if sleep == nil {
		sleep = Sleep
	}
	return &Calibrator{
		role:   role,
		atten:  atten,
		chain:  chain,
		loop:   loop,
		sleep:  sleep,
		logger: logger,
	}
}

// CalibrateWithDiff drives the stage reading to its target and returns the
// final applied attenuation and the last error. init seeds the search (nil
// uses the stage default). carry is the residual of the previous stage and is
// added to every error the loop corrects on; the returned residual excludes it.
func (c *Calibrator) CalibrateWithDiff(ctx context.Context, freqMHz float64, init *float64, carry float64) (Result, error) {
	settings := c.role.Settings()
	stage := c.role.Stage()
	divider := settings.ResolutionDivider

	log := c.logger.WithFields(logrus.Fields{
		"chain":    c.chain,
		"stage":    stage.String(),
		"freq_mhz": freqMHz,
	})

	start := settings.InitDB
	if init != nil {
		start = *init
	}

	current, err := c.atten.Apply(stage, c.chain, start)
	if err != nil {
		return Result{}, c.hwError(freqMHz, "set attenuation", err)
	}
	if err := c.role.Arm(freqMHz); err != nil {
		return Result{}, c.hwError(freqMHz, "arm signal", err)
	}
	if err := c.sleep(ctx, settings.Settle()); err != nil {
		return Result{}, err
	}

	pid := NewPID(c.loop.Gains)
	result := Result{Stage: stage, Outcome: ExhaustedBudget}
	hits := 0

	for result.Iterations < c.loop.MaxIterations {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		result.Iterations++

		measured, err := c.role.Measure()
		if err != nil {
			return Result{}, c.hwError(freqMHz, "read measurement", err)
		}

		result.Residual = measured - settings.TargetDBm
		diff := result.Residual + carry
		step := quant.Round(pid.Correct(diff), divider)

		log.WithFields(logrus.Fields{
			"iteration": result.Iterations,
			"measured":  measured,
			"target":    settings.TargetDBm,
			"error":     result.Residual,
			"carry":     carry,
			"integral":  pid.Integral(),
			"step":      step,
		}).Debug("Feedback iteration")

		if math.Abs(step) < quant.LooseAcceptance(divider) {
			hits++
			if hits >= c.loop.AcceptanceHits {
				result.Outcome = Converged
				break
			}
			continue
		}

		hits = 0
		current, err = c.atten.Apply(stage, c.chain, current+step)
		if err != nil {
			return Result{}, c.hwError(freqMHz, "set attenuation", err)
		}
	}

	result.ValueDB = current
	result.Code = quant.Code(current, divider)

	entry := log.WithFields(logrus.Fields{
		"atten_db":   result.ValueDB,
		"code":       result.Code,
		"residual":   result.Residual,
		"iterations": result.Iterations,
	})
	if result.Outcome == Converged {
		entry.Info("Stage converged")
	} else {
		entry.Warn("Stage stopped on iteration budget")
	}

	return result, nil
}

func (c *Calibrator) hwError(freqMHz float64, op string, err error) error {
	return &HardwareResponseError{
		Stage:   c.role.Stage(),
		Chain:   c.chain,
		FreqMHz: freqMHz,
		Op:      op,
		Err:     err,
	}
}
