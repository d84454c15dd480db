package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"attencal/internal/app"
)

func newCalibrateCmd(opts *rootOptions) *cobra.Command {
	var skipValidation bool

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Sweep every chain, store the tables and validate them live",
		RunE: func(cmd *cobra.Command, _ []string) error {
			adjust := func(c *app.Config) {
				if skipValidation {
					c.Validation.Skip = true
				}
			}
			return withApplication(cmd, opts, adjust, func(application *app.Application, _ app.Config) error {
				summary, err := application.Calibrate(cmd.Context())
				printSummary(cmd.OutOrStdout(), summary)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&skipValidation, "skip-validation", false, "Do not spot-check the stored tables on the bench")
	return cmd
}

func newPostprocessCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "postprocess",
		Short: "Rebuild and store dense tables from saved sweep snapshots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApplication(cmd, opts, nil, func(application *app.Application, _ app.Config) error {
				summary, err := application.Postprocess(cmd.Context())
				printSummary(cmd.OutOrStdout(), summary)
				return err
			})
		},
	}
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	var sweep bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Spot-check stored tables on the live bench",
		Long: `Spot-checks the stored tables of every configured chain at the band
edges, the middle and one random frequency per half. With --sweep every stored
frequency is measured instead and written to a power sweep report.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApplication(cmd, opts, nil, func(application *app.Application, cfg app.Config) error {
				summary, err := application.Validate(cmd.Context(), sweep)
				printSummary(cmd.OutOrStdout(), summary)
				if sweep && err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Power sweep reports written to %s\n", cfg.Paths.Reports)
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&sweep, "sweep", false, "Measure output power at every stored frequency")
	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored tables over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			adjust := func(c *app.Config) {
				if cmd.Flags().Changed("listen") {
					c.Listen = listen
				}
			}
			return withApplication(cmd, opts, adjust, func(application *app.Application, _ app.Config) error {
				return application.Serve(cmd.Context())
			})
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", app.DefaultListenAddress, "HTTP listen address")
	return cmd
}

func newPlotCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plot",
		Short: "Render stored tables to PNG charts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApplication(cmd, opts, nil, func(application *app.Application, _ app.Config) error {
				paths, err := application.Plot(cmd.Context())
				for _, p := range paths {
					fmt.Fprintln(cmd.OutOrStdout(), p)
				}
				return err
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			app.ShowVersion(cmd.OutOrStdout())
		},
	}
}
