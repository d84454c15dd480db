//go:build !cgo

package rtlsdr

import (
	"errors"

	"github.com/sirupsen/logrus"

	"attencal/internal/hw"
)

// ErrUnavailable is returned by builds without cgo.
var ErrUnavailable = errors.New("RTL-SDR support requires a cgo build with librtlsdr")

// Analyzer is unavailable without cgo.
type Analyzer struct{}

// Open always fails without cgo.
func Open(cfg Config, logger *logrus.Logger) (*Analyzer, error) {
	return nil, ErrUnavailable
}

func (a *Analyzer) Tune(freqMHz float64) error              { return ErrUnavailable }
func (a *Analyzer) ReadPowerOut(chain int) (float64, error) { return 0, ErrUnavailable }
func (a *Analyzer) ReadACLR() (float64, error)              { return 0, hw.ErrNotSupported }
func (a *Analyzer) ReadEVM() (float64, error)               { return 0, hw.ErrNotSupported }
func (a *Analyzer) ReadFreqError() (float64, error)         { return 0, hw.ErrNotSupported }
func (a *Analyzer) Close() error                            { return nil }
