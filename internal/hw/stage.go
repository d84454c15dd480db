package hw

import (
	"fmt"
	"strings"
)

// Stage identifies one of the three cascaded attenuators of a transmit chain.
type Stage int

const (
	StageBB Stage = iota // baseband
	StageTX              // main transmit
	StageFB              // feedback sense
)

// Stages lists the stages in calibration order.
var Stages = [...]Stage{StageBB, StageTX, StageFB}

func (s Stage) String() string {
	switch s {
	case StageBB:
		return "BB"
	case StageTX:
		return "TX"
	case StageFB:
		return "FB"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// ParseStage parses "bb", "tx" or "fb" in any case.
func ParseStage(s string) (Stage, error) {
	switch strings.ToLower(s) {
	case "bb":
		return StageBB, nil
	case "tx":
		return StageTX, nil
	case "fb":
		return StageFB, nil
	}
	return 0, fmt.Errorf("unknown attenuator stage %q", s)
}

// Limits is the programmable range of a stage in dB.
type Limits struct {
	MinDB float64 `yaml:"min_db" json:"minDb"`
	MaxDB float64 `yaml:"max_db" json:"maxDb"`
}

// Clamp bounds n to [minn, maxn].
func Clamp(minn, n, maxn float64) float64 {
	if n > maxn {
		n = maxn
	}
	if n < minn {
		n = minn
	}
	return n
}

// Clamp bounds v to the stage range.
func (l Limits) Clamp(v float64) float64 {
	return Clamp(l.MinDB, v, l.MaxDB)
}

// Contains reports whether v is inside the range.
func (l Limits) Contains(v float64) bool {
	return v >= l.MinDB && v <= l.MaxDB
}
