package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"attencal/internal/calib"
	"attencal/internal/hw"
	"attencal/internal/instrument/scpi"
	"attencal/internal/rtlsdr"
	"attencal/internal/table"
	"attencal/internal/validate"
)

// Default configuration constants
const (
	DefaultBandwidthMHz = 20
	DefaultStartMHz     = 1805.0
	DefaultStopMHz      = 1880.0
	DefaultStepMHz      = 5.0
	DefaultDenseStepMHz = 1.0

	DefaultBBDivider = 20 // 0.05 dB per code
	DefaultTXDivider = 4  // 0.25 dB per code
	DefaultFBDivider = 4

	DefaultBBTargetDBm = -16.5 // RF PAL input
	DefaultTXTargetDBm = 30.0  // antenna port
	DefaultFBTargetDBm = -16.0 // RF PAL feedback

	DefaultStoreDriver = "dir"
	DefaultStoreDSN    = "./calibration"
	DefaultStagingDir  = "./staging"
	DefaultPreprocess  = "./preprocess"
	DefaultDebugDir    = "./logs"
	DefaultReportDir   = "./reports"

	DefaultDebugRetentionDays = 30

	DefaultInstrumentMode  = "sim"
	DefaultValidateSettle  = 2000 // ms
	DefaultListenAddress   = ":8080"
	DefaultRandomPointSeed = 0 // time based
)

// Instrument modes
const (
	ModeSim    = "sim"
	ModeSCPI   = "scpi"
	ModeRTLSDR = "rtlsdr"
)

// Environment overrides
const (
	EnvStoreDriver       = "ATTENCAL_STORE_DRIVER"
	EnvStoreDSN          = "ATTENCAL_STORE_DSN"
	EnvLogLevel          = "ATTENCAL_LOG_LEVEL"
	EnvInstrumentAddress = "ATTENCAL_INSTRUMENT_ADDRESS"
)

// Config holds application configuration
type Config struct {
	Chains       []int            `yaml:"chains"`
	BandwidthMHz int              `yaml:"bandwidth_mhz"`
	Sweep        SweepConfig      `yaml:"sweep"`
	Stages       StagesConfig     `yaml:"stages"`
	Loop         LoopConfig       `yaml:"loop"`
	Store        StoreConfig      `yaml:"store"`
	Paths        PathsConfig      `yaml:"paths"`
	Validation   ValidationConfig `yaml:"validation"`
	Instrument   InstrumentConfig `yaml:"instrument"`
	Log          LogConfig        `yaml:"log"`
	Listen       string           `yaml:"listen"`
}

// SweepConfig is the sparse sweep plan. An explicit frequency list wins
// over start/stop/step.
type SweepConfig struct {
	FreqsMHz      []float64 `yaml:"freqs_mhz"`
	StartMHz      float64   `yaml:"start_mhz"`
	StopMHz       float64   `yaml:"stop_mhz"`
	StepMHz       float64   `yaml:"step_mhz"`
	DenseStepMHz  float64   `yaml:"dense_step_mhz"`
	Interpolation string    `yaml:"interpolation"`
}

// StagesConfig holds the settings of each attenuator stage.
type StagesConfig struct {
	BB calib.StageSettings `yaml:"bb"`
	TX calib.StageSettings `yaml:"tx"`
	FB calib.StageSettings `yaml:"fb"`
}

// LoopConfig tunes the feedback search.
type LoopConfig struct {
	P               float64 `yaml:"p"`
	I               float64 `yaml:"i"`
	MaxIterations   int     `yaml:"max_iterations"`
	AcceptanceHits  int     `yaml:"acceptance_hits"`
	FailOnExhausted bool    `yaml:"fail_on_exhausted"`
}

// StoreConfig selects the calibration store backend.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// PathsConfig are the working directories of a run.
type PathsConfig struct {
	Staging    string `yaml:"staging"`
	Preprocess string `yaml:"preprocess"`
	Debug      string `yaml:"debug"`
	Reports    string `yaml:"reports"`
	// DebugRetentionDays removes sweep debug logs older than this many days
	// when a chain is swept. 0 keeps them all.
	DebugRetentionDays int `yaml:"debug_retention_days"`
}

// ValidationConfig drives live spot checks after a calibration is stored.
type ValidationConfig struct {
	Skip       bool                `yaml:"skip"`
	MiddleMHz  float64             `yaml:"middle_mhz"`
	Seed       int64               `yaml:"seed"`
	SettleMs   int                 `yaml:"settle_ms"`
	Thresholds validate.Thresholds `yaml:"thresholds"`
}

// InstrumentConfig selects the bench drivers.
type InstrumentConfig struct {
	Mode string `yaml:"mode"`
	// Analyzer is the SCPI address of the measurement instrument.
	Analyzer string `yaml:"analyzer"`
	// Unit is the SCPI address of the radio's control port.
	Unit             string        `yaml:"unit"`
	AnalyzerCommands scpi.Commands `yaml:"analyzer_commands"`
	UnitCommands     scpi.Commands `yaml:"unit_commands"`
	RTLSDR           rtlsdr.Config `yaml:"rtlsdr"`
	SimNoise         float64       `yaml:"sim_noise"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Verbose bool   `yaml:"verbose"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		Chains:       []int{0, 1},
		BandwidthMHz: DefaultBandwidthMHz,
		Sweep: SweepConfig{
			StartMHz:      DefaultStartMHz,
			StopMHz:       DefaultStopMHz,
			StepMHz:       DefaultStepMHz,
			DenseStepMHz:  DefaultDenseStepMHz,
			Interpolation: table.Linear.String(),
		},
		Stages: StagesConfig{
			BB: calib.StageSettings{
				ResolutionDivider: DefaultBBDivider,
				InitDB:            0,
				TargetDBm:         DefaultBBTargetDBm,
				SettleMs:          500,
				SeedStepDB:        1,
				Limits:            hw.Limits{MinDB: 0, MaxDB: 20},
			},
			TX: calib.StageSettings{
				ResolutionDivider: DefaultTXDivider,
				InitDB:            10,
				TargetDBm:         DefaultTXTargetDBm,
				SettleMs:          1000,
				SeedStepDB:        1,
				Limits:            hw.Limits{MinDB: 0, MaxDB: 31.75},
			},
			FB: calib.StageSettings{
				ResolutionDivider: DefaultFBDivider,
				InitDB:            15,
				TargetDBm:         DefaultFBTargetDBm,
				SettleMs:          1000,
				SeedStepDB:        0,
				Limits:            hw.Limits{MinDB: 0, MaxDB: 31.75},
			},
		},
		Loop: LoopConfig{
			P:              calib.DefaultGains.P,
			I:              calib.DefaultGains.I,
			MaxIterations:  calib.DefaultMaxIterations,
			AcceptanceHits: calib.DefaultAcceptanceHits,
		},
		Store: StoreConfig{
			Driver: DefaultStoreDriver,
			DSN:    DefaultStoreDSN,
		},
		Paths: PathsConfig{
			Staging:    DefaultStagingDir,
			Preprocess: DefaultPreprocess,
			Debug:      DefaultDebugDir,
			Reports:    DefaultReportDir,

			DebugRetentionDays: DefaultDebugRetentionDays,
		},
		Validation: ValidationConfig{
			Seed:     DefaultRandomPointSeed,
			SettleMs: DefaultValidateSettle,
		},
		Instrument: InstrumentConfig{
			Mode:             DefaultInstrumentMode,
			AnalyzerCommands: scpi.DefaultAnalyzerCommands(),
			UnitCommands:     scpi.DefaultUnitCommands(),
			RTLSDR:           rtlsdr.DefaultConfig(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Listen: DefaultListenAddress,
	}
}

// LoadConfig returns the defaults overlaid with the YAML file at path (when
// not empty) and the environment. Callers apply flag overrides and then
// call Validate.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvStoreDriver); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv(EnvStoreDSN); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(EnvInstrumentAddress); v != "" {
		cfg.Instrument.Analyzer = v
	}
}

// Validate checks the configuration is usable for any command.
func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one transmit chain must be configured")
	}
	seen := make(map[int]bool)
	for _, ch := range c.Chains {
		if ch < 0 || seen[ch] {
			return fmt.Errorf("invalid or duplicate chain %d", ch)
		}
		seen[ch] = true
	}
	if c.BandwidthMHz <= 0 {
		return fmt.Errorf("invalid bandwidth %d MHz", c.BandwidthMHz)
	}

	if _, err := c.Frequencies(); err != nil {
		return err
	}
	if c.Sweep.DenseStepMHz <= 0 {
		return fmt.Errorf("dense step must be positive, got %g MHz", c.Sweep.DenseStepMHz)
	}
	if _, err := table.ParseKind(c.Sweep.Interpolation); err != nil {
		return err
	}

	for stage, s := range c.StageSettings() {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("stage %s: %w", stage, err)
		}
	}

	if c.Loop.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be positive, got %d", c.Loop.MaxIterations)
	}
	if c.Loop.AcceptanceHits < 1 || c.Loop.AcceptanceHits > c.Loop.MaxIterations {
		return fmt.Errorf("acceptance hits must be in [1, %d], got %d", c.Loop.MaxIterations, c.Loop.AcceptanceHits)
	}

	validDrivers := []string{"dir", "sqlite3", "mysql"}
	if !contains(validDrivers, c.Store.Driver) {
		return fmt.Errorf("invalid store driver %s, must be one of: %v", c.Store.Driver, validDrivers)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store DSN must not be empty")
	}

	if c.Paths.DebugRetentionDays < 0 {
		return fmt.Errorf("debug log retention must not be negative")
	}

	if c.Validation.SettleMs < 0 {
		return fmt.Errorf("validation settle time must not be negative")
	}
	if err := c.Validation.Thresholds.Validate(); err != nil {
		return fmt.Errorf("validation thresholds: %w", err)
	}

	validModes := []string{ModeSim, ModeSCPI, ModeRTLSDR}
	if !contains(validModes, c.Instrument.Mode) {
		return fmt.Errorf("invalid instrument mode %s, must be one of: %v", c.Instrument.Mode, validModes)
	}
	if c.Instrument.Mode != ModeSim && c.Instrument.Unit == "" {
		return fmt.Errorf("instrument mode %s needs the unit control address", c.Instrument.Mode)
	}
	if c.Instrument.Mode == ModeSCPI && c.Instrument.Analyzer == "" {
		return fmt.Errorf("instrument mode %s needs the analyzer address", c.Instrument.Mode)
	}
	if c.Instrument.Mode == ModeRTLSDR {
		if err := c.Instrument.RTLSDR.Validate(); err != nil {
			return fmt.Errorf("rtlsdr: %w", err)
		}
	}

	if _, err := logLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Frequencies returns the sparse sweep plan in MHz.
func (c *Config) Frequencies() ([]float64, error) {
	if len(c.Sweep.FreqsMHz) > 0 {
		seen := make(map[float64]bool, len(c.Sweep.FreqsMHz))
		for _, f := range c.Sweep.FreqsMHz {
			if seen[f] {
				return nil, fmt.Errorf("duplicate sweep frequency %g MHz", f)
			}
			seen[f] = true
		}
		return c.Sweep.FreqsMHz, nil
	}
	freqs, err := table.Grid(c.Sweep.StartMHz, c.Sweep.StopMHz, c.Sweep.StepMHz)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep range: %w", err)
	}
	return freqs, nil
}

// StageSettings returns the per-stage settings keyed by stage.
func (c *Config) StageSettings() map[hw.Stage]calib.StageSettings {
	return map[hw.Stage]calib.StageSettings{
		hw.StageBB: c.Stages.BB,
		hw.StageTX: c.Stages.TX,
		hw.StageFB: c.Stages.FB,
	}
}

// Limits returns the programmable range of every stage.
func (c *Config) Limits() map[hw.Stage]hw.Limits {
	limits := make(map[hw.Stage]hw.Limits, len(hw.Stages))
	for stage, s := range c.StageSettings() {
		limits[stage] = s.Limits
	}
	return limits
}

// Defaults returns the init attenuation of every stage.
func (c *Config) Defaults() map[hw.Stage]float64 {
	defaults := make(map[hw.Stage]float64, len(hw.Stages))
	for stage, s := range c.StageSettings() {
		defaults[stage] = s.InitDB
	}
	return defaults
}

// Resolutions returns the resolution divider of every stage.
func (c *Config) Resolutions() table.Resolutions {
	return table.Resolutions{
		BB: c.Stages.BB.ResolutionDivider,
		TX: c.Stages.TX.ResolutionDivider,
		FB: c.Stages.FB.ResolutionDivider,
	}
}

// CalibLoop returns the feedback loop settings.
func (c *Config) CalibLoop() calib.Loop {
	return calib.Loop{
		Gains:          calib.Gains{P: c.Loop.P, I: c.Loop.I},
		MaxIterations:  c.Loop.MaxIterations,
		AcceptanceHits: c.Loop.AcceptanceHits,
	}
}

func logLevel(s string) (logrus.Level, error) {
	if s == "" {
		return logrus.InfoLevel, nil
	}
	return logrus.ParseLevel(s)
}

// contains checks if a string slice contains a specific string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == strings.TrimSpace(item) {
			return true
		}
	}
	return false
}
