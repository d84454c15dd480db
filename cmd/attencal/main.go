package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"attencal/internal/app"
	"attencal/internal/logging"
)

// rootOptions are the flags shared by every subcommand. Set flags win over
// the config file and the environment.
type rootOptions struct {
	configPath  string
	verbose     bool
	logFile     string
	logLevel    string
	mode        string
	bandwidth   int
	chains      []int
	storeDriver string
	storeDSN    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "attencal",
		Short: "RF attenuator calibration",
		Long: `Calibrates the three cascaded attenuators (BB, TX, FB) of a radio's
transmit chains across a frequency band.

Each sweep point is settled stage by stage with a feedback loop against the
bench instruments. The sparse results are interpolated into dense per-MHz code
tables, written to the calibration store, read back and spot-checked live.

Example usage:
  attencal calibrate --config bench.yaml
  attencal validate --sweep --chains 0
  attencal serve --listen :8080`,
		SilenceUsage: true,
	}
	rootCmd.SetOut(out)

	addRootFlags(rootCmd.PersistentFlags(), opts)

	rootCmd.AddCommand(
		newCalibrateCmd(opts),
		newPostprocessCmd(opts),
		newValidateCmd(opts),
		newServeCmd(opts),
		newPlotCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

func addRootFlags(flags *pflag.FlagSet, opts *rootOptions) {
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose logging")
	flags.StringVar(&opts.logFile, "log-file", "", "Also write logs to this file (rotated)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVarP(&opts.mode, "mode", "m", "", "Instrument mode (sim, scpi, rtlsdr)")
	flags.IntVarP(&opts.bandwidth, "bandwidth", "b", app.DefaultBandwidthMHz, "Channel bandwidth (MHz)")
	flags.IntSliceVar(&opts.chains, "chains", nil, "Transmit chains to process")
	flags.StringVar(&opts.storeDriver, "store-driver", "", "Calibration store driver (dir, sqlite3, mysql)")
	flags.StringVar(&opts.storeDSN, "store-dsn", "", "Calibration store directory or DSN")
}

// loadConfig resolves the configuration of a subcommand. adjust, when not
// nil, applies the subcommand's own flags before validation.
func loadConfig(cmd *cobra.Command, opts *rootOptions, adjust func(*app.Config)) (app.Config, error) {
	cfg, err := app.LoadConfig(opts.configPath)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("verbose") {
		cfg.Log.Verbose = opts.verbose
	}
	if flags.Changed("log-file") {
		cfg.Log.File = opts.logFile
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if flags.Changed("mode") {
		cfg.Instrument.Mode = opts.mode
	}
	if flags.Changed("bandwidth") {
		cfg.BandwidthMHz = opts.bandwidth
	}
	if flags.Changed("chains") {
		cfg.Chains = opts.chains
	}
	if flags.Changed("store-driver") {
		cfg.Store.Driver = opts.storeDriver
	}
	if flags.Changed("store-dsn") {
		cfg.Store.DSN = opts.storeDSN
	}

	if adjust != nil {
		adjust(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// withApplication builds the logger and application for a subcommand and
// runs fn with them.
func withApplication(cmd *cobra.Command, opts *rootOptions, adjust func(*app.Config), fn func(*app.Application, app.Config) error) error {
	cfg, err := loadConfig(cmd, opts, adjust)
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		Verbose: cfg.Log.Verbose,
		File:    cfg.Log.File,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	application := app.NewApplication(cfg, logger)
	logger.WithFields(logrus.Fields{
		"run_id":  application.RunID(),
		"command": cmd.Name(),
		"mode":    cfg.Instrument.Mode,
		"store":   cfg.Store.Driver,
	}).Debug("Configuration loaded")

	return fn(application, cfg)
}
