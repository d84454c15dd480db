package table

import (
	"fmt"
	"math"

	"attencal/internal/hw"
	"attencal/internal/quant"
)

// Dense is a resampled table of hardware codes, one entry per grid frequency.
type Dense struct {
	StepMHz     float64     `json:"stepMhz"`
	Temperature int         `json:"temperature"`
	Resolutions Resolutions `json:"resolutions"`
	Freqs       []float64   `json:"freqs"`
	BB          []int64     `json:"bb"`
	TX          []int64     `json:"tx"`
	FB          []int64     `json:"fb"`
}

// Len returns the number of grid frequencies.
func (d *Dense) Len() int { return len(d.Freqs) }

// Start returns the first grid frequency.
func (d *Dense) Start() float64 {
	if len(d.Freqs) == 0 {
		return 0
	}
	return d.Freqs[0]
}

// Stop returns the last grid frequency.
func (d *Dense) Stop() float64 {
	if len(d.Freqs) == 0 {
		return 0
	}
	return d.Freqs[len(d.Freqs)-1]
}

// Validate checks the columns line up.
func (d *Dense) Validate() error {
	n := len(d.Freqs)
	if len(d.BB) != n || len(d.TX) != n || len(d.FB) != n {
		return fmt.Errorf("dense table columns differ in length: freqs=%d bb=%d tx=%d fb=%d",
			n, len(d.BB), len(d.TX), len(d.FB))
	}
	return d.Resolutions.Validate()
}

// Codes returns the stage codes at grid index i.
func (d *Dense) Codes(i int) (bb, tx, fb int64) {
	return d.BB[i], d.TX[i], d.FB[i]
}

// Column returns the codes of one stage.
func (d *Dense) Column(stage hw.Stage) []int64 {
	switch stage {
	case hw.StageTX:
		return d.TX
	case hw.StageFB:
		return d.FB
	}
	return d.BB
}

// Divider returns the resolution divider of one stage.
func (d *Dense) Divider(stage hw.Stage) int {
	switch stage {
	case hw.StageTX:
		return d.Resolutions.TX
	case hw.StageFB:
		return d.Resolutions.FB
	}
	return d.Resolutions.BB
}

// AttenuationDB returns the programmed dB of stage at grid index i.
func (d *Dense) AttenuationDB(stage hw.Stage, i int) float64 {
	return quant.ToDB(d.Column(stage)[i], d.Divider(stage))
}

// Nearest returns the grid index closest to freqMHz. Frequencies outside the
// grid are rejected with an *OutOfDomainError.
func (d *Dense) Nearest(freqMHz float64) (int, error) {
	if len(d.Freqs) == 0 {
		return 0, ErrNoData
	}
	if freqMHz < d.Start() || freqMHz > d.Stop() || math.IsNaN(freqMHz) {
		return 0, &OutOfDomainError{FreqMHz: freqMHz, StartMHz: d.Start(), StopMHz: d.Stop()}
	}

	best, bestDist := 0, math.Inf(1)
	for i, f := range d.Freqs {
		if dist := math.Abs(f - freqMHz); dist < bestDist {
			best, bestDist = i, dist
		}
	}
	return best, nil
}
