package calib

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/sirupsen/logrus"

	"attencal/internal/hw"
	"attencal/internal/table"
)

// DebugHeader is the column layout of the sweep debug log.
var DebugHeader = []string{
	"freq", "bb", "tx", "fb",
	"rf_in_err", "pwr_out_err", "fb_in_err",
	"bb_outcome", "tx_outcome", "fb_outcome",
}

// Sweeper calibrates one chain over a list of frequencies and collects the
// results into a unified table.
type Sweeper struct {
	orch            *Orchestrator
	radio           hw.Radio
	bandwidth       int
	failOnExhausted bool
	debug           io.Writer
	logger          *logrus.Logger
}

// NewSweeper creates a sweep driver. radio may be nil when the bench has no
// bandwidth control.
func NewSweeper(orch *Orchestrator, radio hw.Radio, bandwidthMHz int, logger *logrus.Logger) *Sweeper {
	return &Sweeper{
		orch:      orch,
		radio:     radio,
		bandwidth: bandwidthMHz,
		logger:    logger,
	}
}

// SetDebugLog sets the destination of the per-point CSV log.
func (s *Sweeper) SetDebugLog(w io.Writer) {
	s.debug = w
}

// SetFailOnExhausted makes a stage that runs out of iterations abort the
// sweep instead of being logged and kept.
func (s *Sweeper) SetFailOnExhausted(fail bool) {
	s.failOnExhausted = fail
}

// Resolutions returns the stage dividers of the swept chain.
func (s *Sweeper) Resolutions() table.Resolutions {
	return table.Resolutions{
		BB: s.orch.Settings(hw.StageBB).ResolutionDivider,
		TX: s.orch.Settings(hw.StageTX).ResolutionDivider,
		FB: s.orch.Settings(hw.StageFB).ResolutionDivider,
	}
}

// Sweep calibrates every frequency in order, seeding each point from the one
// before. Any point failure aborts the sweep and no table is returned.
func (s *Sweeper) Sweep(ctx context.Context, freqs []float64) (*table.Unified, error) {
	if len(freqs) == 0 {
		return nil, ErrNoFrequencies
	}

	log := s.logger.WithFields(logrus.Fields{
		"chain":         s.orch.Chain(),
		"bandwidth_mhz": s.bandwidth,
	})

	if err := s.ensureBandwidth(log); err != nil {
		return nil, err
	}
	if err := s.orch.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply default attenuations: %w", err)
	}

	tempBefore, haveTemp := s.temperature(log)

	var w *csv.Writer
	if s.debug != nil {
		w = csv.NewWriter(s.debug)
		if err := w.Write(DebugHeader); err != nil {
			return nil, fmt.Errorf("failed to write debug log: %w", err)
		}
		w.Flush()
	}

	log.WithField("points", len(freqs)).Info("Starting calibration sweep")

	tbl := table.New(s.Resolutions())
	var prev *Point

	for _, freq := range freqs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		point, err := s.orch.CalibratePoint(ctx, freq, prev)
		if err != nil {
			return nil, err
		}

		if r, ok := point.Exhausted(); ok {
			if s.failOnExhausted {
				return nil, &ConvergenceError{Chain: s.orch.Chain(), FreqMHz: freq, Result: r}
			}
			log.WithFields(logrus.Fields{
				"freq_mhz": freq,
				"stage":    r.Stage.String(),
			}).Warn("Keeping point with unconverged stage")
		}

		if w != nil {
			if err := writeDebugRow(w, point); err != nil {
				return nil, err
			}
		}

		if err := tbl.AddMeasure(freq,
			point.BB.ValueDB, point.TX.ValueDB, point.FB.ValueDB,
			point.BB.Residual, point.TX.Residual, point.FB.Residual); err != nil {
			return nil, fmt.Errorf("failed to add measurement at %.3f MHz: %w", freq, err)
		}
		prev = point
	}

	if tempAfter, ok := s.temperature(log); ok && haveTemp {
		tbl.SetTemperature((tempBefore + tempAfter) / 2)
	} else if haveTemp {
		tbl.SetTemperature(tempBefore)
	}

	log.WithFields(logrus.Fields{
		"points":      tbl.Len(),
		"temperature": tbl.Temperature(),
	}).Info("Calibration sweep complete")

	return tbl, nil
}

func (s *Sweeper) ensureBandwidth(log *logrus.Entry) error {
	if s.radio == nil || s.bandwidth <= 0 {
		return nil
	}
	current, err := s.radio.Bandwidth()
	if err != nil {
		return fmt.Errorf("failed to read bandwidth: %w", err)
	}
	if current == s.bandwidth {
		return nil
	}

	log.WithField("current_mhz", current).Info("Reconfiguring bandwidth")
	if err := s.radio.ReconfigureBandwidth(s.bandwidth); err != nil {
		return fmt.Errorf("failed to reconfigure bandwidth to %d MHz: %w", s.bandwidth, err)
	}
	return nil
}

func (s *Sweeper) temperature(log *logrus.Entry) (float64, bool) {
	t, err := s.orch.Temperature()
	if err != nil {
		if !errors.Is(err, hw.ErrNotSupported) {
			log.WithError(err).Warn("Failed to read temperature")
		}
		return 0, false
	}
	return t, true
}

func writeDebugRow(w *csv.Writer, p *Point) error {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
	err := w.Write([]string{
		f(p.FreqMHz), f(p.BB.ValueDB), f(p.TX.ValueDB), f(p.FB.ValueDB),
		f(p.BB.Residual), f(p.TX.Residual), f(p.FB.Residual),
		p.BB.Outcome.String(), p.TX.Outcome.String(), p.FB.Outcome.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to write debug log: %w", err)
	}
	w.Flush()
	return w.Error()
}
