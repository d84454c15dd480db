// Package store persists dense calibration tables keyed by transmit chain and
// bandwidth, and proves a write survived by reading it back.
package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"attencal/internal/table"
)

// ErrNotFound is returned when a key has no stored table.
var ErrNotFound = errors.New("calibration entry not found")

// Key addresses one calibration table.
type Key struct {
	Chain        int `json:"chain"`
	BandwidthMHz int `json:"bandwidthMhz"`
}

func (k Key) String() string {
	return fmt.Sprintf("ant%d/%dMHz", k.Chain, k.BandwidthMHz)
}

// Entry is one stored table.
type Entry struct {
	Key   Key          `json:"key"`
	RunID string       `json:"runId"`
	Table *table.Dense `json:"table"`
}

// Store is the calibration persistence backend. A Write replaces the whole
// table of its key; partial updates are never visible.
type Store interface {
	Write(ctx context.Context, e Entry) error
	Read(ctx context.Context, k Key) (*Entry, error)
	Keys(ctx context.Context) ([]Key, error)
	Close() error
}

// Open returns the store for driver: "dir" (dsn is a directory), "sqlite3"
// (dsn is a database file) or "mysql" (dsn is a go-sql-driver DSN).
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "", "dir":
		s, err := NewDirStore(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite3", "mysql":
		s, err := OpenSQL(driver, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, errors.Errorf("unsupported store driver %q", driver)
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].BandwidthMHz != keys[j].BandwidthMHz {
			return keys[i].BandwidthMHz < keys[j].BandwidthMHz
		}
		return keys[i].Chain < keys[j].Chain
	})
}

func checkEntry(e Entry) error {
	if e.Table == nil {
		return errors.Errorf("entry %s has no table", e.Key)
	}
	return errors.Wrapf(e.Table.Validate(), "entry %s", e.Key)
}
