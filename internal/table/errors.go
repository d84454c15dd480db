package table

import (
	"errors"
	"fmt"
)

var (
	// ErrSealed is returned when a table is modified after its interpolants
	// were generated.
	ErrSealed = errors.New("calibration table is sealed")

	// ErrNotGenerated is returned when resampling before GenerateInterpolation.
	ErrNotGenerated = errors.New("interpolation not generated")

	// ErrNoData is returned when generating from an empty table.
	ErrNoData = errors.New("calibration table has no measurements")

	// ErrOutOfDomain is matched by every *OutOfDomainError.
	ErrOutOfDomain = errors.New("frequency outside calibrated domain")
)

// OutOfDomainError reports a lookup outside the swept frequency range.
type OutOfDomainError struct {
	FreqMHz  float64
	StartMHz float64
	StopMHz  float64
}

func (e *OutOfDomainError) Error() string {
	return fmt.Sprintf("%.3f MHz outside calibrated domain [%.3f, %.3f] MHz", e.FreqMHz, e.StartMHz, e.StopMHz)
}

// Is lets errors.Is match ErrOutOfDomain.
func (e *OutOfDomainError) Is(target error) bool { return target == ErrOutOfDomain }
