// Package plot renders dense calibration tables as attenuation curves.
package plot

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"attencal/internal/hw"
	"attencal/internal/table"
)

// Image size defaults.
const (
	DefaultWidth  = 20 * vg.Centimeter
	DefaultHeight = 10 * vg.Centimeter
)

var stageColors = map[hw.Stage]color.Color{
	hw.StageBB: color.RGBA{R: 31, G: 119, B: 180, A: 255},
	hw.StageTX: color.RGBA{R: 255, G: 127, B: 14, A: 255},
	hw.StageFB: color.RGBA{R: 44, G: 160, B: 44, A: 255},
}

// Curves builds a plot with one attenuation line per stage.
func Curves(d *table.Dense, title string) (*plot.Plot, error) {
	if d.Len() == 0 {
		return nil, errors.New("nothing to plot: table is empty")
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "MHz"
	p.Y.Label.Text = "attenuation (dB)"
	p.Add(plotter.NewGrid())

	for _, stage := range hw.Stages {
		xys := make(plotter.XYs, d.Len())
		for i, f := range d.Freqs {
			xys[i].X = f
			xys[i].Y = d.AttenuationDB(stage, i)
		}
		l, err := plotter.NewLine(xys)
		if err != nil {
			return nil, fmt.Errorf("failed to build %s curve: %w", stage, err)
		}
		l.Color = stageColors[stage]
		l.Width = vg.Points(1.5)
		p.Add(l)
		p.Legend.Add(stage.String(), l)
	}
	p.Legend.Top = true
	return p, nil
}

// WritePNG renders the curves of d as PNG into w.
func WritePNG(w io.Writer, d *table.Dense, title string, width, height vg.Length) error {
	p, err := Curves(d, title)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("failed to render plot: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write plot: %w", err)
	}
	return nil
}

// SavePNG writes the curves of d to path with the default size.
func SavePNG(path string, d *table.Dense, title string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create plot directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create plot file: %w", err)
	}
	if err := WritePNG(f, d, title, DefaultWidth, DefaultHeight); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
