package validate

import "fmt"

// Metric is one live measurement taken at a spot-check frequency.
type Metric string

const (
	PowerOut  Metric = "power_out"
	PACurrent Metric = "pa_current"
	ACLR      Metric = "aclr"
	FreqError Metric = "freq_error"
	EVM       Metric = "evm"
)

// Metrics lists every metric in report order.
var Metrics = []Metric{PowerOut, PACurrent, ACLR, FreqError, EVM}

// Limit is an inclusive range. A nil bound is open.
type Limit struct {
	Min *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty" json:"max,omitempty"`
}

// Check reports whether v is inside the limit.
func (l Limit) Check(v float64) bool {
	if l.Min != nil && v < *l.Min {
		return false
	}
	if l.Max != nil && v > *l.Max {
		return false
	}
	return true
}

func (l Limit) String() string {
	lo, hi := "-inf", "+inf"
	if l.Min != nil {
		lo = fmt.Sprintf("%g", *l.Min)
	}
	if l.Max != nil {
		hi = fmt.Sprintf("%g", *l.Max)
	}
	return "[" + lo + ", " + hi + "]"
}

// Thresholds maps metrics to their pass range. Metrics without an entry are
// recorded but not judged.
type Thresholds map[Metric]Limit

// Validate rejects unknown metrics and inverted ranges.
func (t Thresholds) Validate() error {
	for m, l := range t {
		known := false
		for _, k := range Metrics {
			if m == k {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("unknown metric %q", m)
		}
		if l.Min != nil && l.Max != nil && *l.Min > *l.Max {
			return fmt.Errorf("%s: min %g above max %g", m, *l.Min, *l.Max)
		}
	}
	return nil
}
