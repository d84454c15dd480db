package validate

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"attencal/internal/calib"
	"attencal/internal/hw"
	"attencal/internal/store"
)

// ErrLiveValidationFailed is returned when a judged metric is out of range.
var ErrLiveValidationFailed = errors.New("live validation failed")

// Measurement is one metric reading at one point.
type Measurement struct {
	Metric    Metric
	Value     float64
	Supported bool
	// Judged is set when a threshold exists for the metric.
	Judged bool
	Limit  Limit
	Passed bool
}

// PointResult holds every measurement taken at one spot-check point.
type PointResult struct {
	Point
	// GridMHz is the stored frequency the point was mapped to.
	GridMHz      float64
	BB, TX, FB   int64
	Measurements []Measurement
}

// Passed reports whether every judged metric passed.
func (p PointResult) Passed() bool {
	for _, m := range p.Measurements {
		if m.Judged && !m.Passed {
			return false
		}
	}
	return true
}

// Report is the outcome of a live validation run.
type Report struct {
	Key    store.Key
	Points []PointResult
}

// Passed reports whether every point passed.
func (r *Report) Passed() bool {
	for _, p := range r.Points {
		if !p.Passed() {
			return false
		}
	}
	return true
}

// Failures returns a line per failed metric.
func (r *Report) Failures() []string {
	var out []string
	for _, p := range r.Points {
		for _, m := range p.Measurements {
			if !m.Judged || m.Passed {
				continue
			}
			if !m.Supported {
				out = append(out, fmt.Sprintf("%s %.3f MHz: %s not measurable", p.Kind, p.GridMHz, m.Metric))
				continue
			}
			out = append(out, fmt.Sprintf("%s %.3f MHz: %s %.3f outside %s", p.Kind, p.GridMHz, m.Metric, m.Value, m.Limit))
		}
	}
	return out
}

// Validator programs stored codes on the live chain and measures the result.
type Validator struct {
	meter      hw.PowerMeasurement
	atten      *hw.Clamped
	thresholds Thresholds
	settle     time.Duration
	defaults   map[hw.Stage]float64
	sleep      calib.SleepFunc
	logger     *logrus.Logger
}

// NewValidator creates a validator.
func NewValidator(meter hw.PowerMeasurement, atten *hw.Clamped, thresholds Thresholds, logger *logrus.Logger) *Validator {
	return &Validator{
		meter:      meter,
		atten:      atten,
		thresholds: thresholds,
		sleep:      calib.Sleep,
		logger:     logger,
	}
}

// SetSettle sets the wait between programming a point and measuring it.
func (v *Validator) SetSettle(d time.Duration) { v.settle = d }

// SetSleep replaces the settle wait, mainly for tests.
func (v *Validator) SetSleep(fn calib.SleepFunc) { v.sleep = fn }

// SetDefaults sets the attenuations restored once validation finishes.
func (v *Validator) SetDefaults(defaults map[hw.Stage]float64) { v.defaults = defaults }

// ValidateLivePoints measures every point of the stored entry. It returns the
// report and ErrLiveValidationFailed when a judged metric is out of range.
func (v *Validator) ValidateLivePoints(ctx context.Context, entry *store.Entry, points []Point) (report *Report, err error) {
	chain := entry.Key.Chain
	report = &Report{Key: entry.Key}

	defer func() {
		if rerr := v.restoreDefaults(chain); rerr != nil && err == nil {
			err = rerr
		}
	}()

	for _, p := range points {
		res, err := v.measurePoint(ctx, entry, p)
		if err != nil {
			return report, err
		}
		report.Points = append(report.Points, *res)

		fields := logrus.Fields{
			"chain":    chain,
			"point":    string(p.Kind),
			"freq_mhz": res.GridMHz,
			"passed":   res.Passed(),
		}
		for _, m := range res.Measurements {
			if m.Supported {
				fields[string(m.Metric)] = m.Value
			}
		}
		v.logger.WithFields(fields).Info("Live point measured")
	}

	if !report.Passed() {
		return report, fmt.Errorf("%w: %s", ErrLiveValidationFailed, entry.Key)
	}
	return report, nil
}

func (v *Validator) program(ctx context.Context, entry *store.Entry, freqMHz float64) (int, error) {
	d := entry.Table
	i, err := d.Nearest(freqMHz)
	if err != nil {
		return 0, err
	}
	for _, stage := range hw.Stages {
		if _, err := v.atten.Apply(stage, entry.Key.Chain, d.AttenuationDB(stage, i)); err != nil {
			return 0, err
		}
	}
	if err := v.meter.Tune(d.Freqs[i]); err != nil {
		return 0, fmt.Errorf("failed to tune to %.3f MHz: %w", d.Freqs[i], err)
	}
	if err := v.sleep(ctx, v.settle); err != nil {
		return 0, err
	}
	return i, nil
}

func (v *Validator) measurePoint(ctx context.Context, entry *store.Entry, p Point) (*PointResult, error) {
	i, err := v.program(ctx, entry, p.FreqMHz)
	if err != nil {
		return nil, err
	}
	d := entry.Table
	bb, tx, fb := d.Codes(i)
	res := &PointResult{Point: p, GridMHz: d.Freqs[i], BB: bb, TX: tx, FB: fb}

	for _, metric := range Metrics {
		m := Measurement{Metric: metric}
		value, err := v.read(metric, entry.Key.Chain)
		switch {
		case errors.Is(err, hw.ErrNotSupported):
		case err != nil:
			return nil, fmt.Errorf("failed to read %s at %.3f MHz: %w", metric, res.GridMHz, err)
		default:
			m.Value = value
			m.Supported = true
		}

		if limit, ok := v.thresholds[metric]; ok {
			m.Judged = true
			m.Limit = limit
			m.Passed = m.Supported && limit.Check(m.Value)
		}
		res.Measurements = append(res.Measurements, m)
	}
	return res, nil
}

func (v *Validator) read(metric Metric, chain int) (float64, error) {
	switch metric {
	case PowerOut:
		return hw.CheckReading(v.meter.ReadPowerOut(chain))
	case PACurrent:
		return hw.CheckReading(v.meter.ReadCurrent(chain))
	case ACLR:
		return hw.CheckReading(v.meter.ReadACLR())
	case FreqError:
		f, err := hw.CheckReading(v.meter.ReadFreqError())
		return math.Abs(f), err
	case EVM:
		return hw.CheckReading(v.meter.ReadEVM())
	}
	return 0, fmt.Errorf("unknown metric %q", metric)
}

func (v *Validator) restoreDefaults(chain int) error {
	for _, stage := range hw.Stages {
		db, ok := v.defaults[stage]
		if !ok {
			continue
		}
		if _, err := v.atten.Apply(stage, chain, db); err != nil {
			return fmt.Errorf("failed to restore default attenuation: %w", err)
		}
	}
	return nil
}

// SweepFileName is the power sweep report name for key.
func SweepFileName(k store.Key) string {
	return fmt.Sprintf("pwr_sweep_bw%d_ant%d.csv", k.BandwidthMHz, k.Chain)
}

// SweepHeader is the column layout of the power sweep report.
var SweepHeader = []string{"freq", "power", "aclr", "current", "evm"}

// PowerSweep programs every stored frequency in turn and writes one CSV row
// of readings per frequency to w. Metrics the bench cannot measure are left
// empty.
func (v *Validator) PowerSweep(ctx context.Context, entry *store.Entry, w io.Writer) (err error) {
	chain := entry.Key.Chain
	defer func() {
		if rerr := v.restoreDefaults(chain); rerr != nil && err == nil {
			err = rerr
		}
	}()

	cw := csv.NewWriter(w)
	if err := cw.Write(SweepHeader); err != nil {
		return fmt.Errorf("failed to write power sweep: %w", err)
	}

	for _, f := range entry.Table.Freqs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := v.program(ctx, entry, f); err != nil {
			return err
		}

		row := []string{strconv.FormatFloat(f, 'f', -1, 64)}
		for _, metric := range []Metric{PowerOut, ACLR, PACurrent, EVM} {
			value, err := v.read(metric, chain)
			switch {
			case errors.Is(err, hw.ErrNotSupported):
				row = append(row, "")
			case err != nil:
				return fmt.Errorf("failed to read %s at %.3f MHz: %w", metric, f, err)
			default:
				row = append(row, strconv.FormatFloat(value, 'f', 3, 64))
			}
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write power sweep: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
