package table

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// snapshot is the on-disk form of a table that has not been resampled yet.
type snapshot struct {
	Resolutions Resolutions `json:"resolutions"`
	Temperature int         `json:"temperature"`
	Measures    []Measure   `json:"measures"`
}

// FileName is the snapshot name for a chain and bandwidth.
func FileName(bandwidthMHz, chain int) string {
	return fmt.Sprintf("caltable_%dMHz_ant%d.json", bandwidthMHz, chain)
}

// Save writes the sparse measurements to path, creating parent directories.
func (u *Unified) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(snapshot{
		Resolutions: u.res,
		Temperature: u.temperature,
		Measures:    u.Measures(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal calibration table: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// Load reads a table saved with Save. The result accepts more measurements
// until GenerateInterpolation is called.
func Load(path string) (*Unified, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal calibration table: %w", err)
	}

	u := New(s.Resolutions)
	u.temperature = s.Temperature
	for _, m := range s.Measures {
		u.measures[m.FreqMHz] = m
	}
	return u, nil
}
