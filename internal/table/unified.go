// Package table turns a sparse calibration sweep into a dense, deployable
// attenuator table.
//
// Three curves are kept per frequency: the desired BB attenuation, the desired
// combined BB+TX attenuation and the desired FB attenuation. Each is stored
// with the quantization slack measured during the sweep folded back in, so
// interpolation runs on continuous, error-corrected values. Resampling then
// quantizes the curves in cascade: whatever BB cannot represent is pushed into
// TX, and whatever TX cannot represent is pushed into FB.
package table

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/interp"

	"attencal/internal/quant"
)

// Kind selects the interpolant.
type Kind int

const (
	Linear Kind = iota
)

func (k Kind) String() string {
	if k == Linear {
		return "linear"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind parses an interpolation kind name.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "", "linear":
		return Linear, nil
	}
	return 0, fmt.Errorf("unsupported interpolation kind %q", s)
}

// Resolutions holds the resolution divider of each stage.
type Resolutions struct {
	BB int `json:"bb" yaml:"bb"`
	TX int `json:"tx" yaml:"tx"`
	FB int `json:"fb" yaml:"fb"`
}

// Validate checks every divider is positive.
func (r Resolutions) Validate() error {
	if r.BB < 1 || r.TX < 1 || r.FB < 1 {
		return fmt.Errorf("resolution dividers must be positive, got bb=%d tx=%d fb=%d", r.BB, r.TX, r.FB)
	}
	return nil
}

// Measure is the desired (pre-quantization) value of each curve at one frequency.
type Measure struct {
	FreqMHz     float64 `json:"freqMhz"`
	DesiredBB   float64 `json:"desiredBb"`
	DesiredBBTX float64 `json:"desiredBbTx"`
	DesiredFB   float64 `json:"desiredFb"`
}

// Unified accumulates sweep measurements for one (chain, bandwidth) pair.
// It accepts measurements until GenerateInterpolation is called and is read
// only afterwards.
type Unified struct {
	res         Resolutions
	temperature int
	measures    map[float64]Measure

	kind   Kind
	curves *[3]interp.Predictor
	start  float64
	stop   float64
}

// New creates an empty table.
func New(res Resolutions) *Unified {
	return &Unified{
		res:      res,
		measures: make(map[float64]Measure),
	}
}

// Resolutions returns the stage dividers.
func (u *Unified) Resolutions() Resolutions { return u.res }

// SetTemperature tags the table with the sweep temperature, rounded to a degree.
func (u *Unified) SetTemperature(celsius float64) {
	u.temperature = int(math.Round(celsius))
}

// Temperature returns the temperature tag.
func (u *Unified) Temperature() int { return u.temperature }

// AddMeasure records one calibrated frequency. The residuals are the
// measured errors of the BB, TX and FB stages. A repeated frequency replaces
// the earlier measurement.
func (u *Unified) AddMeasure(freqMHz, bb, tx, fb, rfInErr, pwrOutErr, fbInErr float64) error {
	if u.curves != nil {
		return ErrSealed
	}
	if math.IsNaN(freqMHz) || math.IsInf(freqMHz, 0) {
		return fmt.Errorf("invalid frequency %v", freqMHz)
	}
	u.measures[freqMHz] = Measure{
		FreqMHz:     freqMHz,
		DesiredBB:   bb + rfInErr,
		DesiredBBTX: bb + tx + pwrOutErr,
		DesiredFB:   fb + pwrOutErr + fbInErr,
	}
	return nil
}

// Measures returns the recorded measurements sorted by frequency.
func (u *Unified) Measures() []Measure {
	out := make([]Measure, 0, len(u.measures))
	for _, m := range u.measures {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FreqMHz < out[j].FreqMHz })
	return out
}

// Len returns the number of measured frequencies.
func (u *Unified) Len() int { return len(u.measures) }

// Generated reports whether the interpolants were built.
func (u *Unified) Generated() bool { return u.curves != nil }

// GenerateInterpolation builds one interpolant per curve over the measured
// frequencies and seals the table.
func (u *Unified) GenerateInterpolation(kind Kind) error {
	if u.curves != nil {
		return ErrSealed
	}
	if kind != Linear {
		return fmt.Errorf("unsupported interpolation kind %s", kind)
	}
	if err := u.res.Validate(); err != nil {
		return err
	}

	ms := u.Measures()
	if len(ms) == 0 {
		return ErrNoData
	}

	xs := make([]float64, len(ms))
	ys := [3][]float64{make([]float64, len(ms)), make([]float64, len(ms)), make([]float64, len(ms))}
	for i, m := range ms {
		xs[i] = m.FreqMHz
		ys[0][i] = m.DesiredBB
		ys[1][i] = m.DesiredBBTX
		ys[2][i] = m.DesiredFB
	}

	var curves [3]interp.Predictor
	for i := range curves {
		if len(xs) == 1 {
			curves[i] = constant(ys[i][0])
			continue
		}
		pl := &interp.PiecewiseLinear{}
		if err := pl.Fit(xs, ys[i]); err != nil {
			return fmt.Errorf("failed to fit curve %d: %w", i, err)
		}
		curves[i] = pl
	}

	u.kind = kind
	u.curves = &curves
	u.start = xs[0]
	u.stop = xs[len(xs)-1]
	return nil
}

// constant is the interpolant of a single-frequency sweep.
type constant float64

func (c constant) Predict(float64) float64 { return float64(c) }

// FreqStart returns the lowest swept frequency.
func (u *Unified) FreqStart() (float64, error) {
	if u.curves == nil {
		return 0, ErrNotGenerated
	}
	return u.start, nil
}

// FreqStop returns the highest swept frequency.
func (u *Unified) FreqStop() (float64, error) {
	if u.curves == nil {
		return 0, ErrNotGenerated
	}
	return u.stop, nil
}

// Row is the cascaded quantization of the three curves at one frequency.
type Row struct {
	FreqMHz float64

	DesiredBB   float64
	DesiredBBTX float64
	DesiredFB   float64

	// Committed attenuations in dB, each a multiple of its stage step.
	BB float64
	TX float64
	FB float64

	RFInErr   float64
	PwrOutErr float64
	FBInErr   float64
}

// Codes converts the committed attenuations to hardware codes.
func (r Row) Codes(res Resolutions) (bb, tx, fb int64) {
	return quant.Code(r.BB, res.BB), quant.Code(r.TX, res.TX), quant.Code(r.FB, res.FB)
}

// At returns the cascaded row at freqMHz. Frequencies outside the swept
// domain are rejected with an *OutOfDomainError.
func (u *Unified) At(freqMHz float64) (Row, error) {
	if u.curves == nil {
		return Row{}, ErrNotGenerated
	}
	if freqMHz < u.start || freqMHz > u.stop || math.IsNaN(freqMHz) {
		return Row{}, &OutOfDomainError{FreqMHz: freqMHz, StartMHz: u.start, StopMHz: u.stop}
	}
	return u.row(freqMHz), nil
}

func (u *Unified) row(freqMHz float64) Row {
	r := Row{
		FreqMHz:     freqMHz,
		DesiredBB:   u.curves[0].Predict(freqMHz),
		DesiredBBTX: u.curves[1].Predict(freqMHz),
		DesiredFB:   u.curves[2].Predict(freqMHz),
	}

	r.BB = quant.Round(r.DesiredBB, u.res.BB)
	r.RFInErr = r.DesiredBB - r.BB

	desiredTX := r.DesiredBBTX - r.BB
	r.TX = quant.Round(desiredTX, u.res.TX)
	r.PwrOutErr = desiredTX - r.TX

	desiredFB := r.DesiredFB - r.PwrOutErr
	r.FB = quant.Round(desiredFB, u.res.FB)
	r.FBInErr = desiredFB - r.FB

	return r
}

// Grid returns start, start+step, ... up to and including stop.
func Grid(start, stop, step float64) ([]float64, error) {
	if !(step > 0) {
		return nil, fmt.Errorf("step must be positive, got %v", step)
	}
	if stop < start {
		return nil, fmt.Errorf("stop %v below start %v", stop, start)
	}
	n := int(math.Floor((stop-start)/step+1e-9)) + 1
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out, nil
}

// Rows resamples the whole domain at stepMHz.
func (u *Unified) Rows(stepMHz float64) ([]Row, error) {
	if u.curves == nil {
		return nil, ErrNotGenerated
	}
	freqs, err := Grid(u.start, u.stop, stepMHz)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, len(freqs))
	for i, f := range freqs {
		rows[i] = u.row(f)
	}
	return rows, nil
}

// InterpolateStep resamples the domain at stepMHz and returns the committed
// BB, TX and FB values, as dB or, when raw is set, as hardware codes.
func (u *Unified) InterpolateStep(stepMHz float64, raw bool) (bb, tx, fb []float64, err error) {
	rows, err := u.Rows(stepMHz)
	if err != nil {
		return nil, nil, nil, err
	}
	bb = make([]float64, len(rows))
	tx = make([]float64, len(rows))
	fb = make([]float64, len(rows))
	for i, r := range rows {
		if raw {
			b, t, f := r.Codes(u.res)
			bb[i], tx[i], fb[i] = float64(b), float64(t), float64(f)
			continue
		}
		bb[i], tx[i], fb[i] = r.BB, r.TX, r.FB
	}
	return bb, tx, fb, nil
}

// Dense resamples the domain at stepMHz into a deployable code table.
func (u *Unified) Dense(stepMHz float64) (*Dense, error) {
	rows, err := u.Rows(stepMHz)
	if err != nil {
		return nil, err
	}
	d := &Dense{
		StepMHz:     stepMHz,
		Temperature: u.temperature,
		Resolutions: u.res,
		Freqs:       make([]float64, len(rows)),
		BB:          make([]int64, len(rows)),
		TX:          make([]int64, len(rows)),
		FB:          make([]int64, len(rows)),
	}
	for i, r := range rows {
		d.Freqs[i] = r.FreqMHz
		d.BB[i], d.TX[i], d.FB[i] = r.Codes(u.res)
	}
	return d, nil
}
