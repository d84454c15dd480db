package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"attencal/internal/calib"
	"attencal/internal/hw"
	"attencal/internal/logging"
	"attencal/internal/plot"
	"attencal/internal/server"
	"attencal/internal/store"
	"attencal/internal/table"
	"attencal/internal/validate"
)

// Application runs the calibration flows of one configured bench.
type Application struct {
	config    Config
	logger    *logrus.Logger
	runID     string
	openBench BenchOpener
	sleep     calib.SleepFunc
	rng       *rand.Rand
}

// NewApplication creates a new application instance
func NewApplication(config Config, logger *logrus.Logger) *Application {
	seed := config.Validation.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Application{
		config:    config,
		logger:    logger,
		runID:     uuid.New().String(),
		openBench: OpenBench,
		sleep:     settleFunc(config),
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// RunID identifies this run in logs and stored tables.
func (app *Application) RunID() string { return app.runID }

// SetBenchOpener replaces how the bench is built, mainly for tests.
func (app *Application) SetBenchOpener(open BenchOpener) { app.openBench = open }

func (app *Application) log() *logrus.Entry {
	return app.logger.WithFields(logrus.Fields{
		"run_id":        app.runID,
		"bandwidth_mhz": app.config.BandwidthMHz,
	})
}

func (app *Application) key(chain int) store.Key {
	return store.Key{Chain: chain, BandwidthMHz: app.config.BandwidthMHz}
}

func (app *Application) snapshotPath(chain int) string {
	return filepath.Join(app.config.Paths.Preprocess, table.FileName(app.config.BandwidthMHz, chain))
}

// Summary is the outcome of a run.
type Summary struct {
	RunID   string
	Entries []store.Entry
	Reports []*validate.Report
	// Clamps are the attenuation requests that fell outside a stage range.
	Clamps []hw.ClampWarning
}

// Passed reports whether every live validation passed.
func (s *Summary) Passed() bool {
	for _, r := range s.Reports {
		if !r.Passed() {
			return false
		}
	}
	return true
}

// Calibrate sweeps every configured chain, stores the dense tables, proves
// they read back unchanged and spot-checks them on the live chain.
func (app *Application) Calibrate(ctx context.Context) (*Summary, error) {
	freqs, err := app.config.Frequencies()
	if err != nil {
		return nil, err
	}

	app.log().WithFields(logrus.Fields{
		"version": Version,
		"chains":  app.config.Chains,
		"points":  len(freqs),
	}).Info("Starting calibration run")

	bench, err := app.openBench(app.config, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open bench: %w", err)
	}
	defer app.closeBench(bench)
	atten := hw.NewClamped(bench.Attenuators, app.config.Limits(), app.logger)

	summary := &Summary{RunID: app.runID}
	defer func() { summary.Clamps = atten.Warnings() }()
	for _, chain := range app.config.Chains {
		unified, err := app.sweepChain(ctx, bench, atten, chain, freqs)
		if err != nil {
			return summary, fmt.Errorf("chain %d: %w", chain, err)
		}
		if err := unified.Save(app.snapshotPath(chain)); err != nil {
			return summary, err
		}
		entry, err := app.entry(chain, unified)
		if err != nil {
			return summary, fmt.Errorf("chain %d: %w", chain, err)
		}
		summary.Entries = append(summary.Entries, *entry)
	}

	st, err := app.openStore()
	if err != nil {
		return summary, err
	}
	defer st.Close()

	if err := store.ValidateRoundTrip(ctx, st, summary.Entries, app.config.Paths.Staging, app.logger); err != nil {
		return summary, err
	}

	if app.config.Validation.Skip {
		app.log().Info("Live validation skipped")
		return summary, nil
	}
	reports, err := app.validateLive(ctx, bench, atten, st)
	summary.Reports = reports
	return summary, err
}

func (app *Application) sweepChain(ctx context.Context, bench *hw.Bench, atten *hw.Clamped, chain int, freqs []float64) (*table.Unified, error) {
	orch, err := calib.NewOrchestrator(chain, app.config.StageSettings(), bench.Meter, atten, app.config.CalibLoop(), app.logger)
	if err != nil {
		return nil, err
	}
	orch.SetSleep(app.sleep)

	debug, err := logging.NewCSVLog(app.config.Paths.Debug,
		fmt.Sprintf("sweep_bw%d_ant%d", app.config.BandwidthMHz, chain), true, app.logger)
	if err != nil {
		return nil, err
	}
	defer debug.Close()
	if days := app.config.Paths.DebugRetentionDays; days > 0 {
		if _, err := debug.CleanupOld(days); err != nil {
			app.logger.WithError(err).Warn("Failed to clean up old sweep logs")
		}
	}

	sweeper := calib.NewSweeper(orch, bench.Radio, app.config.BandwidthMHz, app.logger)
	sweeper.SetDebugLog(debug)
	sweeper.SetFailOnExhausted(app.config.Loop.FailOnExhausted)
	return sweeper.Sweep(ctx, freqs)
}

// entry builds the stored form of a sparse table.
func (app *Application) entry(chain int, unified *table.Unified) (*store.Entry, error) {
	kind, err := table.ParseKind(app.config.Sweep.Interpolation)
	if err != nil {
		return nil, err
	}
	if err := unified.GenerateInterpolation(kind); err != nil {
		return nil, err
	}
	dense, err := unified.Dense(app.config.Sweep.DenseStepMHz)
	if err != nil {
		return nil, err
	}

	app.log().WithFields(logrus.Fields{
		"chain":       chain,
		"points":      dense.Len(),
		"start_mhz":   dense.Start(),
		"stop_mhz":    dense.Stop(),
		"temperature": dense.Temperature,
	}).Info("Dense table generated")

	return &store.Entry{Key: app.key(chain), RunID: app.runID, Table: dense}, nil
}

// Postprocess rebuilds the dense tables from saved sparse snapshots and
// stores them, without touching the bench.
func (app *Application) Postprocess(ctx context.Context) (*Summary, error) {
	summary := &Summary{RunID: app.runID}
	for _, chain := range app.config.Chains {
		unified, err := table.Load(app.snapshotPath(chain))
		if err != nil {
			return summary, fmt.Errorf("chain %d: %w", chain, err)
		}
		if res := app.config.Resolutions(); unified.Resolutions() != res {
			return summary, fmt.Errorf("chain %d: snapshot resolutions %+v differ from configured %+v",
				chain, unified.Resolutions(), res)
		}
		entry, err := app.entry(chain, unified)
		if err != nil {
			return summary, fmt.Errorf("chain %d: %w", chain, err)
		}
		summary.Entries = append(summary.Entries, *entry)
	}

	st, err := app.openStore()
	if err != nil {
		return summary, err
	}
	defer st.Close()

	return summary, store.ValidateRoundTrip(ctx, st, summary.Entries, app.config.Paths.Staging, app.logger)
}

// Validate spot-checks the stored tables of every configured chain on the
// live bench. With sweep set it instead measures every stored frequency and
// writes one power sweep report per chain.
func (app *Application) Validate(ctx context.Context, sweep bool) (*Summary, error) {
	bench, err := app.openBench(app.config, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open bench: %w", err)
	}
	defer app.closeBench(bench)
	atten := hw.NewClamped(bench.Attenuators, app.config.Limits(), app.logger)

	st, err := app.openStore()
	if err != nil {
		return nil, err
	}
	defer st.Close()

	summary := &Summary{RunID: app.runID}
	defer func() { summary.Clamps = atten.Warnings() }()
	if !sweep {
		summary.Reports, err = app.validateLive(ctx, bench, atten, st)
		return summary, err
	}

	v := app.validator(bench, atten)
	for _, chain := range app.config.Chains {
		entry, err := st.Read(ctx, app.key(chain))
		if err != nil {
			return summary, err
		}
		if err := app.powerSweep(ctx, v, entry); err != nil {
			return summary, fmt.Errorf("chain %d: %w", chain, err)
		}
		summary.Entries = append(summary.Entries, *entry)
	}
	return summary, nil
}

func (app *Application) powerSweep(ctx context.Context, v *validate.Validator, entry *store.Entry) error {
	if err := os.MkdirAll(app.config.Paths.Reports, 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	path := filepath.Join(app.config.Paths.Reports, validate.SweepFileName(entry.Key))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create power sweep report: %w", err)
	}
	if err := v.PowerSweep(ctx, entry, f); err != nil {
		f.Close()
		return err
	}
	app.log().WithFields(logrus.Fields{"chain": entry.Key.Chain, "file": path}).Info("Power sweep written")
	return f.Close()
}

func (app *Application) validator(bench *hw.Bench, atten *hw.Clamped) *validate.Validator {
	v := validate.NewValidator(bench.Meter, atten, app.config.Validation.Thresholds, app.logger)
	v.SetSettle(time.Duration(app.config.Validation.SettleMs) * time.Millisecond)
	v.SetSleep(app.sleep)
	v.SetDefaults(app.config.Defaults())
	return v
}

// validateLive checks every configured chain. All chains are measured even
// when an earlier one fails.
func (app *Application) validateLive(ctx context.Context, bench *hw.Bench, atten *hw.Clamped, st store.Store) ([]*validate.Report, error) {
	v := app.validator(bench, atten)

	var reports []*validate.Report
	var failed []store.Key
	for _, chain := range app.config.Chains {
		entry, err := st.Read(ctx, app.key(chain))
		if err != nil {
			return reports, err
		}
		points, err := validate.SelectPoints(entry.Table.Start(), entry.Table.Stop(), app.config.Validation.MiddleMHz, app.rng)
		if err != nil {
			return reports, err
		}

		report, err := v.ValidateLivePoints(ctx, entry, points)
		if report != nil {
			reports = append(reports, report)
		}
		switch {
		case errors.Is(err, validate.ErrLiveValidationFailed):
			failed = append(failed, entry.Key)
			for _, f := range report.Failures() {
				app.log().WithField("chain", chain).Warn(f)
			}
		case err != nil:
			return reports, fmt.Errorf("chain %d: %w", chain, err)
		}
	}

	if len(failed) > 0 {
		return reports, fmt.Errorf("%w: %v", validate.ErrLiveValidationFailed, failed)
	}
	app.log().WithField("chains", len(reports)).Info("Live validation passed")
	return reports, nil
}

// Serve exposes the store over HTTP until ctx is cancelled.
func (app *Application) Serve(ctx context.Context) error {
	st, err := app.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	return server.New(st, app.logger).ListenAndRun(ctx, app.config.Listen)
}

// Plot renders every stored table of the configured bandwidth to a PNG in
// the report directory and returns the written paths.
func (app *Application) Plot(ctx context.Context) ([]string, error) {
	st, err := app.openStore()
	if err != nil {
		return nil, err
	}
	defer st.Close()

	keys, err := st.Keys(ctx)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, k := range keys {
		if k.BandwidthMHz != app.config.BandwidthMHz {
			continue
		}
		e, err := st.Read(ctx, k)
		if err != nil {
			return paths, err
		}
		path := filepath.Join(app.config.Paths.Reports, fmt.Sprintf("caltable_bw%d_ant%d.png", k.BandwidthMHz, k.Chain))
		title := fmt.Sprintf("%s (%d C)", k, e.Table.Temperature)
		if err := plot.SavePNG(path, e.Table, title); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (app *Application) openStore() (store.Store, error) {
	st, err := store.Open(app.config.Store.Driver, app.config.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", app.config.Store.Driver, err)
	}
	return st, nil
}

func (app *Application) closeBench(bench *hw.Bench) {
	if err := bench.Close(); err != nil {
		app.logger.WithError(err).Warn("Failed to close bench")
	}
}
