package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"attencal/internal/app"
	"attencal/internal/validate"
)

func passMark(ok bool) string {
	if ok {
		return color.New(color.Bold, color.FgGreen).Sprint("PASS")
	}
	return color.New(color.Bold, color.FgRed).Sprint("FAIL")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

// printSummary writes the stored tables and live validation outcome of a run.
func printSummary(w io.Writer, s *app.Summary) {
	if s == nil {
		return
	}

	fmt.Fprintf(w, "%s %s\n", bold("Run:"), s.RunID)
	for _, e := range s.Entries {
		fmt.Fprintf(w, "  %s  %d points  %.1f-%.1f MHz  %d C\n",
			e.Key, e.Table.Len(), e.Table.Start(), e.Table.Stop(), e.Table.Temperature)
	}

	if len(s.Clamps) > 0 {
		fmt.Fprintf(w, "%s %s\n", bold("Clamped requests:"), color.YellowString("%d", len(s.Clamps)))
		for i := range s.Clamps {
			fmt.Fprintf(w, "  %s\n", s.Clamps[i].Error())
		}
	}

	for _, r := range s.Reports {
		printReport(w, r)
	}
	if len(s.Reports) > 0 {
		fmt.Fprintf(w, "%s %s\n", bold("Live validation:"), passMark(s.Passed()))
	}
}

func printReport(w io.Writer, r *validate.Report) {
	fmt.Fprintf(w, "%s %s\n", bold("Validation"), r.Key)
	for _, p := range r.Points {
		fmt.Fprintf(w, "  %-13s %8.1f MHz  BB %3d  TX %3d  FB %3d  %s\n",
			p.Kind, p.GridMHz, p.BB, p.TX, p.FB, passMark(p.Passed()))
		for _, m := range p.Measurements {
			switch {
			case !m.Supported:
				fmt.Fprintf(w, "      %-10s %s\n", m.Metric, color.YellowString("not supported"))
			case m.Judged && !m.Passed:
				fmt.Fprintf(w, "      %-10s %8.2f  %s\n", m.Metric, m.Value, color.RedString("outside %s", m.Limit))
			}
		}
	}
}
