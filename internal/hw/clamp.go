package hw

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// ClampWarning records an attenuation request that fell outside the stage
// range and was programmed at the nearest bound instead.
type ClampWarning struct {
	Stage     Stage
	Chain     int
	Requested float64
	Applied   float64
}

func (w *ClampWarning) Error() string {
	return fmt.Sprintf("%s attenuator on chain %d clamped: requested %.2f dB, applied %.2f dB",
		w.Stage, w.Chain, w.Requested, w.Applied)
}

// Clamped wraps an Attenuators driver and keeps every write inside the
// configured per-stage range. Out of range requests are never rejected.
type Clamped struct {
	next   Attenuators
	limits map[Stage]Limits
	logger *logrus.Logger

	mu       sync.Mutex
	warnings []ClampWarning
}

// NewClamped creates a clamping wrapper. Stages without limits pass through.
func NewClamped(next Attenuators, limits map[Stage]Limits, logger *logrus.Logger) *Clamped {
	return &Clamped{
		next:   next,
		limits: limits,
		logger: logger,
	}
}

// Apply clamps, programs and returns the value actually written.
func (c *Clamped) Apply(stage Stage, chain int, valueDB float64) (float64, error) {
	applied := valueDB
	if l, ok := c.limits[stage]; ok {
		applied = l.Clamp(valueDB)
	}

	if applied != valueDB {
		w := ClampWarning{Stage: stage, Chain: chain, Requested: valueDB, Applied: applied}
		c.mu.Lock()
		c.warnings = append(c.warnings, w)
		c.mu.Unlock()

		c.logger.WithFields(logrus.Fields{
			"stage":     stage.String(),
			"chain":     chain,
			"requested": valueDB,
			"applied":   applied,
		}).Warn("Attenuation value clamped")
	}

	if err := c.next.Set(stage, chain, applied); err != nil {
		return 0, fmt.Errorf("failed to set %s attenuation: %w", stage, err)
	}

	c.logger.WithFields(logrus.Fields{
		"stage": stage.String(),
		"chain": chain,
		"db":    applied,
	}).Debug("Attenuation set")

	return applied, nil
}

// Set implements Attenuators.
func (c *Clamped) Set(stage Stage, chain int, valueDB float64) error {
	_, err := c.Apply(stage, chain, valueDB)
	return err
}

// Get implements Attenuators.
func (c *Clamped) Get(stage Stage, chain int) (float64, error) {
	return c.next.Get(stage, chain)
}

// Warnings returns a copy of the clamp warnings recorded so far.
func (c *Clamped) Warnings() []ClampWarning {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ClampWarning, len(c.warnings))
	copy(out, c.warnings)
	return out
}
