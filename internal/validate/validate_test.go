package validate

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attencal/internal/hw"
	"attencal/internal/sim"
	"attencal/internal/store"
	"attencal/internal/table"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func f(v float64) *float64 { return &v }

func testEntry() *store.Entry {
	d := &table.Dense{
		StepMHz:     1,
		Temperature: 30,
		Resolutions: table.Resolutions{BB: 4, TX: 4, FB: 4},
	}
	for freq := 1815.0; freq <= 1820; freq++ {
		d.Freqs = append(d.Freqs, freq)
		d.BB = append(d.BB, 16)
		d.TX = append(d.TX, 32)
		d.FB = append(d.FB, 48)
	}
	return &store.Entry{Key: store.Key{Chain: 0, BandwidthMHz: 20}, RunID: "run", Table: d}
}

// noEVM is a bench whose analyzer cannot demodulate.
type noEVM struct{ *sim.Bench }

func (noEVM) ReadEVM() (float64, error) { return 0, hw.ErrNotSupported }

func newValidator(meter hw.PowerMeasurement, atten hw.Attenuators, th Thresholds) *Validator {
	logger := testLogger()
	v := NewValidator(meter, hw.NewClamped(atten, nil, logger), th, logger)
	v.SetSleep(noSleep)
	return v
}

// TestSelectPoints tests spot-check frequency selection
func TestSelectPoints(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 50; i++ {
		pts, err := SelectPoints(1805, 1880, 0, rng)
		require.NoError(t, err)
		require.Len(t, pts, 5)

		assert.Equal(t, Point{Bottom, 1805}, pts[0])
		assert.Equal(t, Point{Middle, 1842.5}, pts[1])
		assert.Equal(t, Point{Top, 1880}, pts[2])

		assert.Equal(t, RandomBottom, pts[3].Kind)
		assert.GreaterOrEqual(t, pts[3].FreqMHz, 1805.0)
		assert.LessOrEqual(t, pts[3].FreqMHz, 1842.5)

		assert.Equal(t, RandomTop, pts[4].Kind)
		assert.GreaterOrEqual(t, pts[4].FreqMHz, 1842.5)
		assert.LessOrEqual(t, pts[4].FreqMHz, 1880.0)
	}

	pts, err := SelectPoints(1805, 1880, 1850, rng)
	require.NoError(t, err)
	assert.Equal(t, 1850.0, pts[1].FreqMHz)

	pts, err = SelectPoints(1815, 1815.5, 0, rng)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pts[3].FreqMHz, 1815.0)
	assert.LessOrEqual(t, pts[4].FreqMHz, 1815.5)

	_, err = SelectPoints(1880, 1805, 0, rng)
	assert.Error(t, err)
}

// TestLimit tests inclusive limits
func TestLimit(t *testing.T) {
	tests := []struct {
		name  string
		limit Limit
		v     float64
		want  bool
	}{
		{"open", Limit{}, 1e9, true},
		{"below min", Limit{Min: f(29)}, 28.9, false},
		{"at max", Limit{Max: f(31)}, 31, true},
		{"inside", Limit{Min: f(29), Max: f(31)}, 30, true},
		{"above max", Limit{Min: f(29), Max: f(31)}, 31.1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.limit.Check(tt.v))
		})
	}

	assert.Equal(t, "[29, +inf]", Limit{Min: f(29)}.String())
}

// TestThresholdsValidate tests threshold validation
func TestThresholdsValidate(t *testing.T) {
	assert.NoError(t, Thresholds{PowerOut: {Min: f(29), Max: f(31)}}.Validate())
	assert.Error(t, Thresholds{"gain": {}}.Validate())
	assert.Error(t, Thresholds{EVM: {Min: f(5), Max: f(1)}}.Validate())
}

// TestValidateLivePointsPass tests a passing live validation
func TestValidateLivePointsPass(t *testing.T) {
	b := sim.NewBench(sim.Targets{PowerIn: -16.5, PowerOut: 30, PowerFeedback: -16}, 20)
	b.FreqError = -12
	v := newValidator(b, b, Thresholds{
		PowerOut:  {Min: f(29.5), Max: f(30.5)},
		ACLR:      {Max: f(-45)},
		FreqError: {Max: f(50)},
	})
	v.SetDefaults(map[hw.Stage]float64{hw.StageBB: 0, hw.StageTX: 0, hw.StageFB: 0})

	pts, err := SelectPoints(1815, 1820, 0, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	report, err := v.ValidateLivePoints(context.Background(), testEntry(), pts)
	require.NoError(t, err)
	require.Len(t, report.Points, 5)
	assert.True(t, report.Passed())
	assert.Empty(t, report.Failures())

	top := report.Points[2]
	assert.Equal(t, 1820.0, top.GridMHz)
	assert.Equal(t, int64(16), top.BB)
	require.Len(t, top.Measurements, len(Metrics))
	assert.InDelta(t, 30.0, top.Measurements[0].Value, 1e-9)
	assert.Equal(t, 12.0, top.Measurements[3].Value)
	assert.False(t, top.Measurements[1].Judged)

	// Defaults restored afterwards.
	bb, err := b.Get(hw.StageBB, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, bb)
}

// TestValidateLivePointsFail tests a failing metric
func TestValidateLivePointsFail(t *testing.T) {
	b := sim.NewBench(sim.Targets{PowerIn: -16.5, PowerOut: 30, PowerFeedback: -16}, 20)
	v := newValidator(b, b, Thresholds{PowerOut: {Min: f(31)}})

	pts := []Point{{Bottom, 1815}, {Top, 1820}}
	report, err := v.ValidateLivePoints(context.Background(), testEntry(), pts)
	assert.ErrorIs(t, err, ErrLiveValidationFailed)
	require.NotNil(t, report)
	assert.False(t, report.Passed())
	assert.Len(t, report.Failures(), 2)
}

// TestValidateLivePointsUnsupported tests metrics the instrument cannot measure
func TestValidateLivePointsUnsupported(t *testing.T) {
	b := sim.NewBench(sim.Targets{PowerIn: -16.5, PowerOut: 30, PowerFeedback: -16}, 20)
	meter := noEVM{b}
	pts := []Point{{Middle, 1817}}

	report, err := newValidator(meter, b, nil).ValidateLivePoints(context.Background(), testEntry(), pts)
	require.NoError(t, err)
	evm := report.Points[0].Measurements[4]
	assert.Equal(t, EVM, evm.Metric)
	assert.False(t, evm.Supported)

	report, err = newValidator(meter, b, Thresholds{EVM: {Max: f(3)}}).ValidateLivePoints(context.Background(), testEntry(), pts)
	assert.ErrorIs(t, err, ErrLiveValidationFailed)
	assert.Contains(t, report.Failures()[0], "not measurable")
}

// TestValidateLivePointsErrors tests hardware errors during validation
func TestValidateLivePointsErrors(t *testing.T) {
	b := sim.NewBench(sim.Targets{PowerIn: -16.5, PowerOut: 30, PowerFeedback: -16}, 20)

	_, err := newValidator(b, b, nil).ValidateLivePoints(context.Background(), testEntry(), []Point{{Top, 1830}})
	assert.ErrorIs(t, err, table.ErrOutOfDomain)

	boom := errors.New("analyzer lost lock")
	b.Fail = map[hw.Stage]error{hw.StageTX: boom}
	_, err = newValidator(b, b, nil).ValidateLivePoints(context.Background(), testEntry(), []Point{{Top, 1820}})
	assert.ErrorIs(t, err, boom)
}

// TestPowerSweep tests the power sweep report
func TestPowerSweep(t *testing.T) {
	b := sim.NewBench(sim.Targets{PowerIn: -16.5, PowerOut: 30, PowerFeedback: -16}, 20)
	v := newValidator(noEVM{b}, b, nil)

	var buf bytes.Buffer
	entry := testEntry()
	require.NoError(t, v.PowerSweep(context.Background(), entry, &buf))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1+entry.Table.Len())
	assert.Equal(t, SweepHeader, records[0])
	assert.Equal(t, []string{"1815", "30.000", "-48.000", "1.200", ""}, records[1])
	assert.Equal(t, 1820.0, b.Frequency())

	assert.Equal(t, "pwr_sweep_bw20_ant0.csv", SweepFileName(entry.Key))
}
