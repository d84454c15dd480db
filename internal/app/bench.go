package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"attencal/internal/calib"
	"attencal/internal/hw"
	"attencal/internal/instrument/scpi"
	"attencal/internal/rtlsdr"
	"attencal/internal/sim"
)

// BenchOpener builds the hardware for a run.
type BenchOpener func(cfg Config, logger *logrus.Logger) (*hw.Bench, error)

// OpenBench connects the drivers selected by cfg.Instrument.Mode.
func OpenBench(cfg Config, logger *logrus.Logger) (*hw.Bench, error) {
	switch cfg.Instrument.Mode {
	case ModeSim:
		return simBench(cfg), nil
	case ModeSCPI, ModeRTLSDR:
	default:
		return nil, fmt.Errorf("invalid instrument mode %s", cfg.Instrument.Mode)
	}

	bench := &hw.Bench{}
	unitConn, err := scpi.Dial(cfg.Instrument.Unit, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to unit: %w", err)
	}
	unit := scpi.NewDevice(unitConn, cfg.Instrument.UnitCommands)
	bench.OnClose(unit.Close)
	bench.Attenuators = unit
	bench.Radio = unit

	var analyzer hw.Analyzer
	if cfg.Instrument.Mode == ModeRTLSDR {
		a, err := rtlsdr.Open(cfg.Instrument.RTLSDR, logger)
		if err != nil {
			bench.Close()
			return nil, fmt.Errorf("failed to initialize RTL-SDR: %w", err)
		}
		bench.OnClose(a.Close)
		analyzer = a
	} else {
		conn, err := scpi.Dial(cfg.Instrument.Analyzer, logger)
		if err != nil {
			bench.Close()
			return nil, fmt.Errorf("failed to connect to analyzer: %w", err)
		}
		a := scpi.NewDevice(conn, cfg.Instrument.AnalyzerCommands)
		bench.OnClose(a.Close)
		analyzer = a
	}
	bench.Meter = hw.Meter{Analyzer: analyzer, Sensors: unit}

	logger.WithFields(logrus.Fields{
		"mode":     cfg.Instrument.Mode,
		"unit":     cfg.Instrument.Unit,
		"analyzer": cfg.Instrument.Analyzer,
	}).Info("Bench connected")
	return bench, nil
}

// simBench builds a simulator whose setpoints are the configured targets.
func simBench(cfg Config) *hw.Bench {
	b := sim.NewBench(sim.Targets{
		PowerIn:       cfg.Stages.BB.TargetDBm,
		PowerOut:      cfg.Stages.TX.TargetDBm,
		PowerFeedback: cfg.Stages.FB.TargetDBm,
	}, cfg.BandwidthMHz)
	b.Noise = cfg.Instrument.SimNoise
	return b.HWBench()
}

// settleFunc returns the wait used between programming and measuring. A
// simulated bench settles instantly.
func settleFunc(cfg Config) calib.SleepFunc {
	if cfg.Instrument.Mode == ModeSim {
		return noSleep
	}
	return calib.Sleep
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }
