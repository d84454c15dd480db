//go:build cgo

package rtlsdr

import (
	"errors"
	"fmt"
	"sync"

	rtlsdr "github.com/jpoirier/gortlsdr"
	"github.com/sirupsen/logrus"

	"attencal/internal/hw"
)

// Analyzer measures channel power with an RTL-SDR dongle. Only power is
// available; the quality metrics report hw.ErrNotSupported.
type Analyzer struct {
	device *rtlsdr.Context
	cfg    Config
	buf    []byte
	logger *logrus.Logger
	mu     sync.Mutex
}

// Open opens and configures the dongle.
func Open(cfg Config, logger *logrus.Logger) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	count := rtlsdr.GetDeviceCount()
	if count == 0 {
		return nil, errors.New("no RTL-SDR devices found")
	}
	if cfg.Index >= count {
		return nil, fmt.Errorf("device index %d out of range (0-%d)", cfg.Index, count-1)
	}

	dev, err := rtlsdr.Open(cfg.Index)
	if err != nil {
		return nil, fmt.Errorf("failed to open device: %w", err)
	}
	a := &Analyzer{device: dev, cfg: cfg, buf: make([]byte, 2*cfg.Samples), logger: logger}
	if err := a.configure(); err != nil {
		dev.Close()
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"device_index": cfg.Index,
		"sample_rate":  cfg.SampleRate,
		"gain":         cfg.Gain,
		"offset_db":    cfg.OffsetDB,
	}).Info("RTL-SDR power analyzer ready")
	return a, nil
}

func (a *Analyzer) configure() error {
	if err := a.device.SetSampleRate(a.cfg.SampleRate); err != nil {
		return fmt.Errorf("failed to set sample rate: %w", err)
	}
	if a.cfg.Gain == 0 {
		if err := a.device.SetTunerGainMode(false); err != nil {
			return fmt.Errorf("failed to set auto gain: %w", err)
		}
		return nil
	}
	if err := a.device.SetTunerGainMode(true); err != nil {
		return fmt.Errorf("failed to set manual gain mode: %w", err)
	}
	// tenths of dB
	if err := a.device.SetTunerGain(a.cfg.Gain * 10); err != nil {
		return fmt.Errorf("failed to set gain: %w", err)
	}
	return nil
}

// Tune implements hw.Analyzer.
func (a *Analyzer) Tune(freqMHz float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.device.SetCenterFreq(int(freqMHz * 1e6)); err != nil {
		return fmt.Errorf("failed to set frequency: %w", err)
	}
	if err := a.device.ResetBuffer(); err != nil {
		return fmt.Errorf("failed to reset buffer: %w", err)
	}
	return nil
}

// ReadPowerOut implements hw.Analyzer. The dongle sits on one coupler so the
// chain is ignored.
func (a *Analyzer) ReadPowerOut(chain int) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n, err := a.device.ReadSync(a.buf, len(a.buf))
	if err != nil {
		return 0, fmt.Errorf("failed to read samples: %w", err)
	}
	if n < len(a.buf) {
		a.logger.WithFields(logrus.Fields{"want": len(a.buf), "got": n}).Debug("Short RTL-SDR read")
	}
	return hw.CheckReading(PowerDBFS(a.buf[:n])+a.cfg.OffsetDB, nil)
}

// ReadACLR implements hw.Analyzer.
func (a *Analyzer) ReadACLR() (float64, error) { return 0, hw.ErrNotSupported }

// ReadEVM implements hw.Analyzer.
func (a *Analyzer) ReadEVM() (float64, error) { return 0, hw.ErrNotSupported }

// ReadFreqError implements hw.Analyzer.
func (a *Analyzer) ReadFreqError() (float64, error) { return 0, hw.ErrNotSupported }

// Close closes the dongle.
func (a *Analyzer) Close() error {
	if err := a.device.Close(); err != nil {
		return fmt.Errorf("failed to close device: %w", err)
	}
	a.logger.Info("RTL-SDR device closed")
	return nil
}
