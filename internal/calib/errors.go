package calib

import (
	"errors"
	"fmt"

	"attencal/internal/hw"
)

var (
	// ErrConvergenceExhausted means the loop used its whole iteration budget
	// without enough consecutive acceptance hits.
	ErrConvergenceExhausted = errors.New("convergence budget exhausted")

	// ErrHardwareResponse means a measurement or attenuator write failed.
	ErrHardwareResponse = errors.New("hardware response error")

	// ErrNoFrequencies is returned for an empty sweep plan.
	ErrNoFrequencies = errors.New("no frequencies to sweep")
)

// ConvergenceError reports a stage that stopped on its iteration budget.
type ConvergenceError struct {
	Chain   int
	FreqMHz float64
	Result  Result
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("chain %d %s stage at %.3f MHz: %v after %d iterations (last %.2f dB, error %.3f dB)",
		e.Chain, e.Result.Stage, e.FreqMHz, ErrConvergenceExhausted, e.Result.Iterations, e.Result.ValueDB, e.Result.Residual)
}

func (e *ConvergenceError) Unwrap() error { return ErrConvergenceExhausted }

// HardwareResponseError wraps a failed hardware access during calibration.
type HardwareResponseError struct {
	Stage   hw.Stage
	Chain   int
	FreqMHz float64
	Op      string
	Err     error
}

func (e *HardwareResponseError) Error() string {
	return fmt.Sprintf("chain %d %s stage at %.3f MHz: %s failed: %v", e.Chain, e.Stage, e.FreqMHz, e.Op, e.Err)
}

func (e *HardwareResponseError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrHardwareResponse.
func (e *HardwareResponseError) Is(target error) bool { return target == ErrHardwareResponse }
