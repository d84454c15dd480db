package app

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attencal/internal/calib"
	"attencal/internal/hw"
	"attencal/internal/sim"
	"attencal/internal/store"
	"attencal/internal/table"
	"attencal/internal/validate"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func f(v float64) *float64 { return &v }

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	limits := hw.Limits{MinDB: 0, MaxDB: 31.75}

	cfg := DefaultConfig()
	cfg.Sweep.FreqsMHz = []float64{1815, 1820}
	cfg.Stages = StagesConfig{
		BB: calib.StageSettings{ResolutionDivider: 4, InitDB: 0, TargetDBm: -16.5, SeedStepDB: 1, Limits: limits},
		TX: calib.StageSettings{ResolutionDivider: 4, InitDB: 8, TargetDBm: 30, SeedStepDB: 1, Limits: limits},
		FB: calib.StageSettings{ResolutionDivider: 4, InitDB: 12, TargetDBm: -16, Limits: limits},
	}
	cfg.Store.DSN = filepath.Join(dir, "cal")
	cfg.Paths = PathsConfig{
		Staging:    filepath.Join(dir, "staging"),
		Preprocess: filepath.Join(dir, "preprocess"),
		Debug:      filepath.Join(dir, "logs"),
		Reports:    filepath.Join(dir, "reports"),

		DebugRetentionDays: 5,
	}
	cfg.Validation.Seed = 7
	cfg.Validation.SettleMs = 0
	cfg.Validation.Thresholds = validate.Thresholds{
		validate.PowerOut: {Min: f(29.5), Max: f(30.5)},
		validate.ACLR:     {Max: f(-45)},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func testBench() *sim.Bench {
	b := sim.NewBench(sim.Targets{PowerIn: -16.5, PowerOut: 30, PowerFeedback: -16}, 20)
	b.Optimal[hw.StageBB] = sim.Points(map[float64]float64{1815: 2.0, 1820: 1.5})
	return b
}

func newTestApp(cfg Config, b *sim.Bench) *Application {
	app := NewApplication(cfg, testLogger())
	app.SetBenchOpener(func(Config, *logrus.Logger) (*hw.Bench, error) {
		return b.HWBench(), nil
	})
	return app
}

// TestConstants tests the default configuration constants
func TestConstants(t *testing.T) {
	tests := []struct {
		name     string
		constant interface{}
		expected interface{}
	}{
		{name: "DefaultBandwidthMHz", constant: DefaultBandwidthMHz, expected: 20},
		{name: "DefaultDenseStepMHz", constant: DefaultDenseStepMHz, expected: 1.0},
		{name: "DefaultTXDivider", constant: DefaultTXDivider, expected: 4},
		{name: "DefaultStoreDriver", constant: DefaultStoreDriver, expected: "dir"},
		{name: "DefaultInstrumentMode", constant: DefaultInstrumentMode, expected: ModeSim},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.constant)
		})
	}
}

// TestDefaultConfig tests the built-in configuration
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, calib.DefaultLoop(), cfg.CalibLoop())
	assert.Equal(t, table.Resolutions{BB: 20, TX: 4, FB: 4}, cfg.Resolutions())
	assert.Equal(t, 15.0, cfg.Defaults()[hw.StageFB])
	assert.Equal(t, 31.75, cfg.Limits()[hw.StageTX].MaxDB)

	freqs, err := cfg.Frequencies()
	require.NoError(t, err)
	assert.Len(t, freqs, 16)
	assert.Equal(t, 1805.0, freqs[0])
	assert.Equal(t, 1880.0, freqs[len(freqs)-1])
}

// TestConfigValidate tests configuration validation errors
func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no chains", func(c *Config) { c.Chains = nil }},
		{"duplicate chain", func(c *Config) { c.Chains = []int{0, 0} }},
		{"bad bandwidth", func(c *Config) { c.BandwidthMHz = 0 }},
		{"inverted range", func(c *Config) { c.Sweep.StartMHz, c.Sweep.StopMHz = 1880, 1805 }},
		{"duplicate freq", func(c *Config) { c.Sweep.FreqsMHz = []float64{1815, 1815} }},
		{"repeated freq", func(c *Config) { c.Sweep.FreqsMHz = []float64{1815, 1820, 1815} }},
		{"dense step", func(c *Config) { c.Sweep.DenseStepMHz = 0 }},
		{"interpolation", func(c *Config) { c.Sweep.Interpolation = "cubic" }},
		{"divider", func(c *Config) { c.Stages.TX.ResolutionDivider = 0 }},
		{"init outside limits", func(c *Config) { c.Stages.FB.InitDB = 40 }},
		{"iterations", func(c *Config) { c.Loop.MaxIterations = 0 }},
		{"acceptance hits", func(c *Config) { c.Loop.AcceptanceHits = 11 }},
		{"store driver", func(c *Config) { c.Store.Driver = "postgres" }},
		{"store dsn", func(c *Config) { c.Store.DSN = "" }},
		{"threshold metric", func(c *Config) { c.Validation.Thresholds = validate.Thresholds{"gain": {}} }},
		{"instrument mode", func(c *Config) { c.Instrument.Mode = "gpib" }},
		{"scpi without unit", func(c *Config) { c.Instrument.Mode = ModeSCPI }},
		{"scpi without analyzer", func(c *Config) { c.Instrument.Mode, c.Instrument.Unit = ModeSCPI, "10.0.0.2:5025" }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"log retention", func(c *Config) { c.Paths.DebugRetentionDays = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// TestLoadConfig tests loading YAML with environment overrides
func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
chains: [1]
bandwidth_mhz: 10
sweep:
  freqs_mhz: [1815, 1820, 1830]
stages:
  tx:
    target_dbm: 33
loop:
  fail_on_exhausted: true
validation:
  thresholds:
    power_out: {min: 32, max: 34}
instrument:
  mode: scpi
  unit: 10.0.0.2:5025
  analyzer_commands:
    evm: ""
`), 0644))

	t.Setenv(EnvStoreDriver, "sqlite3")
	t.Setenv(EnvStoreDSN, "/tmp/cal.db")
	t.Setenv(EnvInstrumentAddress, "10.0.0.3:5025")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []int{1}, cfg.Chains)
	assert.Equal(t, 10, cfg.BandwidthMHz)
	assert.Equal(t, 33.0, cfg.Stages.TX.TargetDBm)
	assert.Equal(t, DefaultTXDivider, cfg.Stages.TX.ResolutionDivider)
	assert.Equal(t, 31.75, cfg.Stages.TX.MaxDB)
	assert.True(t, cfg.Loop.FailOnExhausted)
	assert.Equal(t, 34.0, *cfg.Validation.Thresholds[validate.PowerOut].Max)
	assert.Equal(t, "sqlite3", cfg.Store.Driver)
	assert.Equal(t, "/tmp/cal.db", cfg.Store.DSN)
	assert.Equal(t, "10.0.0.3:5025", cfg.Instrument.Analyzer)
	assert.Empty(t, cfg.Instrument.AnalyzerCommands.EVM)
	assert.NotEmpty(t, cfg.Instrument.AnalyzerCommands.ACLR)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// TestShowVersion tests the version banner
func TestShowVersion(t *testing.T) {
	var buf bytes.Buffer
	ShowVersion(&buf)
	assert.Contains(t, buf.String(), "Version: "+Version)
}

// TestOpenBenchSim tests building the simulated bench
func TestOpenBenchSim(t *testing.T) {
	cfg := DefaultConfig()
	bench, err := OpenBench(cfg, testLogger())
	require.NoError(t, err)
	defer bench.Close()

	bw, err := bench.Radio.Bandwidth()
	require.NoError(t, err)
	assert.Equal(t, cfg.BandwidthMHz, bw)

	cfg.Instrument.Mode = "gpib"
	_, err = OpenBench(cfg, testLogger())
	assert.Error(t, err)
}

// TestCalibrate tests a full calibration run on the simulator
func TestCalibrate(t *testing.T) {
	cfg := testConfig(t)
	app := newTestApp(cfg, testBench())

	require.NoError(t, os.MkdirAll(cfg.Paths.Debug, 0755))
	expired := filepath.Join(cfg.Paths.Debug, "sweep_bw20_ant0_2020-01-01.csv.gz")
	require.NoError(t, os.WriteFile(expired, []byte("old"), 0644))
	tenDaysAgo := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(expired, tenDaysAgo, tenDaysAgo))

	summary, err := app.Calibrate(context.Background())
	require.NoError(t, err)
	assert.NoFileExists(t, expired)
	assert.Equal(t, app.RunID(), summary.RunID)
	require.Len(t, summary.Entries, 2)
	require.Len(t, summary.Reports, 2)
	assert.True(t, summary.Passed())

	d := summary.Entries[0].Table
	assert.Equal(t, []float64{1815, 1816, 1817, 1818, 1819, 1820}, d.Freqs)
	assert.Equal(t, int64(8), d.BB[0])
	assert.Equal(t, int64(6), d.BB[5])
	assert.Equal(t, int64(32), d.TX[0])
	assert.Equal(t, int64(48), d.FB[0])
	assert.Equal(t, 30, d.Temperature)

	st, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
	require.NoError(t, err)
	defer st.Close()
	keys, err := st.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []store.Key{{Chain: 0, BandwidthMHz: 20}, {Chain: 1, BandwidthMHz: 20}}, keys)

	e, err := st.Read(context.Background(), keys[1])
	require.NoError(t, err)
	assert.Equal(t, app.RunID(), e.RunID)

	assert.FileExists(t, filepath.Join(cfg.Paths.Preprocess, table.FileName(20, 0)))
	assert.FileExists(t, filepath.Join(cfg.Paths.Staging, "write", store.FileName(hw.StageBB, keys[0])))

	logs, err := filepath.Glob(filepath.Join(cfg.Paths.Debug, "sweep_bw20_ant1_*.csv"))
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

// TestCalibrateLiveValidationFailure tests a run whose live checks fail
func TestCalibrateLiveValidationFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Validation.Thresholds = validate.Thresholds{validate.PowerOut: {Min: f(31)}}
	app := newTestApp(cfg, testBench())

	summary, err := app.Calibrate(context.Background())
	assert.ErrorIs(t, err, validate.ErrLiveValidationFailed)
	require.NotNil(t, summary)
	assert.Len(t, summary.Reports, 2)
	assert.False(t, summary.Passed())
}

// TestCalibrateStopsOnExhausted tests the fail-on-exhausted policy
func TestCalibrateStopsOnExhausted(t *testing.T) {
	cfg := testConfig(t)
	cfg.Loop.FailOnExhausted = true
	b := testBench()
	b.Stuck = map[hw.Stage]bool{hw.StageFB: true}

	_, err := newTestApp(cfg, b).Calibrate(context.Background())
	assert.ErrorIs(t, err, calib.ErrConvergenceExhausted)
}

// TestCalibrateReportsClamps tests that out of range requests end up in the
// run summary
func TestCalibrateReportsClamps(t *testing.T) {
	cfg := testConfig(t)
	cfg.Validation.Skip = true
	cfg.Stages.BB.MaxDB = 1.5

	summary, err := newTestApp(cfg, testBench()).Calibrate(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, summary.Clamps)
	for _, w := range summary.Clamps {
		assert.Equal(t, hw.StageBB, w.Stage)
		assert.Equal(t, 1.5, w.Applied)
		assert.Greater(t, w.Requested, 1.5)
	}
}

// TestPostprocess tests rebuilding tables from snapshots
func TestPostprocess(t *testing.T) {
	cfg := testConfig(t)
	cfg.Validation.Skip = true
	first, err := newTestApp(cfg, testBench()).Calibrate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, first.Reports)

	cfg.Store.Driver = "sqlite3"
	cfg.Store.DSN = filepath.Join(t.TempDir(), "cal.db")
	app := NewApplication(cfg, testLogger())
	second, err := app.Postprocess(context.Background())
	require.NoError(t, err)
	require.Len(t, second.Entries, 2)
	assert.Equal(t, first.Entries[0].Table, second.Entries[0].Table)

	changed := cfg
	changed.Stages.TX.ResolutionDivider = 8
	_, err = NewApplication(changed, testLogger()).Postprocess(context.Background())
	assert.ErrorContains(t, err, "differ from configured")

	cfg.Paths.Preprocess = t.TempDir()
	_, err = NewApplication(cfg, testLogger()).Postprocess(context.Background())
	assert.Error(t, err)
}

// TestValidatePowerSweep tests live validation and the power sweep report
func TestValidatePowerSweep(t *testing.T) {
	cfg := testConfig(t)
	cfg.Validation.Skip = true
	b := testBench()
	_, err := newTestApp(cfg, b).Calibrate(context.Background())
	require.NoError(t, err)

	summary, err := newTestApp(cfg, b).Validate(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, summary.Entries, 2)
	for _, e := range summary.Entries {
		assert.FileExists(t, filepath.Join(cfg.Paths.Reports, validate.SweepFileName(e.Key)))
	}

	summary, err = newTestApp(cfg, b).Validate(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, summary.Reports, 2)
}

// TestPlot tests rendering stored tables
func TestPlot(t *testing.T) {
	cfg := testConfig(t)
	cfg.Validation.Skip = true
	_, err := newTestApp(cfg, testBench()).Calibrate(context.Background())
	require.NoError(t, err)

	paths, err := NewApplication(cfg, testLogger()).Plot(context.Background())
	require.NoError(t, err)
	require.Len(t, paths, 2)
	for _, p := range paths {
		assert.FileExists(t, p)
	}
}
