package quant

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestQuantize tests nearest-code rounding on known values
func TestQuantize(t *testing.T) {
	tests := []struct {
		name         string
		value        float64
		divider      int
		wantCode     int64
		wantResidual float64
	}{
		{name: "Exact quarter dB", value: 2.0, divider: 4, wantCode: 8, wantResidual: 0},
		{name: "Exact 1.5 dB", value: 1.5, divider: 4, wantCode: 6, wantResidual: 0},
		{name: "Rounds down", value: 1.8, divider: 4, wantCode: 7, wantResidual: 0.05},
		{name: "Rounds up", value: 1.9, divider: 4, wantCode: 8, wantResidual: -0.1},
		{name: "Whole dB stage", value: 10.4, divider: 1, wantCode: 10, wantResidual: 0.4},
		{name: "Negative correction", value: -1.44, divider: 4, wantCode: -6, wantResidual: 0.06},
		{name: "Zero", value: 0, divider: 8, wantCode: 0, wantResidual: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, residual := Quantize(tt.value, tt.divider)
			assert.Equal(t, tt.wantCode, code)
			assert.InDelta(t, tt.wantResidual, residual, 1e-9)
		})
	}
}

// TestQuantize_RoundTripProperty checks the residual bound and reconstruction for random inputs
func TestQuantize_RoundTripProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	dividers := []int{1, 2, 4, 8, 10, 16}

	for i := 0; i < 5000; i++ {
		divider := dividers[rng.Intn(len(dividers))]
		value := (rng.Float64() - 0.5) * 200

		code, residual := Quantize(value, divider)

		assert.LessOrEqual(t, math.Abs(residual), TightAcceptance(divider)+1e-12,
			"value=%f divider=%d", value, divider)
		assert.InDelta(t, value, ToDB(code, divider)+residual, 1e-9)
	}
}

// TestRoundAndCode tests the convenience helpers
func TestRoundAndCode(t *testing.T) {
	assert.InDelta(t, 1.75, Round(1.8, 4), 1e-12)
	assert.Equal(t, int64(7), Code(1.75, 4))
	assert.InDelta(t, 0.125, TightAcceptance(4), 1e-12)
	assert.InDelta(t, 0.25, LooseAcceptance(4), 1e-12)
}

// TestQuantize_InvalidDivider tests that a non-positive divider is rejected
func TestQuantize_InvalidDivider(t *testing.T) {
	assert.Panics(t, func() { Quantize(1, 0) })
	assert.Panics(t, func() { ToDB(1, -4) })
}
