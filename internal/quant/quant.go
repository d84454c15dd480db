// Package quant maps continuous attenuation values onto the discrete codes an
// attenuator register accepts.
//
// A resolution divider is the number of hardware codes per dB. A stage with a
// divider of 4 has 0.25 dB steps, so 1.8 dB is programmed as code 7 (1.75 dB)
// and leaves a residual of 0.05 dB for the next stage to absorb.
package quant

import (
	"fmt"
	"math"
)

// Quantize rounds value (dB) to the nearest code and returns the code together
// with the residual value - code/divider. |residual| never exceeds
// TightAcceptance(divider).
func Quantize(value float64, divider int) (code int64, residual float64) {
	mustDivider(divider)
	code = int64(math.Round(value * float64(divider)))
	residual = value - ToDB(code, divider)
	return code, residual
}

// Round returns the dB value of the nearest representable code.
func Round(value float64, divider int) float64 {
	code, _ := Quantize(value, divider)
	return ToDB(code, divider)
}

// Code converts a dB value to its nearest hardware code.
func Code(value float64, divider int) int64 {
	code, _ := Quantize(value, divider)
	return code
}

// ToDB converts a hardware code back to dB.
func ToDB(code int64, divider int) float64 {
	mustDivider(divider)
	return float64(code) / float64(divider)
}

// TightAcceptance is the largest rounding error nearest-code rounding can leave.
func TightAcceptance(divider int) float64 {
	mustDivider(divider)
	return 0.5 / float64(divider)
}

// LooseAcceptance is one full hardware step.
func LooseAcceptance(divider int) float64 {
	mustDivider(divider)
	return 1 / float64(divider)
}

func mustDivider(divider int) {
	if divider < 1 {
		panic(fmt.Sprintf("quant: resolution divider must be positive, got %d", divider))
	}
}
