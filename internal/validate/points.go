// Package validate spot-checks a stored calibration table on live hardware.
package validate

import (
	"fmt"
	"math"
	"math/rand"
)

// PointKind names where in the band a spot check is taken.
type PointKind string

const (
	Bottom       PointKind = "BOTTOM"
	Middle       PointKind = "MIDDLE"
	Top          PointKind = "TOP"
	RandomBottom PointKind = "RANDOM_BOTTOM"
	RandomTop    PointKind = "RANDOM_TOP"
)

// Point is one spot-check frequency.
type Point struct {
	Kind    PointKind
	FreqMHz float64
}

// SelectPoints returns the band edges, the middle and one random frequency in
// each half of [start, stop]. A middle outside the band is replaced by the
// band centre. Random frequencies are whole MHz when the band allows it.
func SelectPoints(start, stop, middle float64, rng *rand.Rand) ([]Point, error) {
	if math.IsNaN(start) || math.IsNaN(stop) || stop < start {
		return nil, fmt.Errorf("invalid band [%v, %v] MHz", start, stop)
	}
	if middle <= start || middle >= stop {
		middle = (start + stop) / 2
	}

	return []Point{
		{Kind: Bottom, FreqMHz: start},
		{Kind: Middle, FreqMHz: middle},
		{Kind: Top, FreqMHz: stop},
		{Kind: RandomBottom, FreqMHz: randomIn(rng, start, middle)},
		{Kind: RandomTop, FreqMHz: randomIn(rng, middle, stop)},
	}, nil
}

func randomIn(rng *rand.Rand, lo, hi float64) float64 {
	a, b := math.Ceil(lo), math.Floor(hi)
	if b > a {
		return a + float64(rng.Intn(int(b-a)+1))
	}
	return lo + rng.Float64()*(hi-lo)
}
