package store

import (
	"context"
	"os"

	"github.com/pkg/errors"
)

// DirStore keeps calibration tables as .cal files in one directory.
type DirStore struct {
	dir string
}

// NewDirStore creates the directory if needed.
func NewDirStore(dir string) (*DirStore, error) {
	if dir == "" {
		return nil, errors.New("calibration directory not set")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create calibration directory")
	}
	return &DirStore{dir: dir}, nil
}

// Dir returns the backing directory.
func (s *DirStore) Dir() string { return s.dir }

func (s *DirStore) Write(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return WriteFiles(s.dir, e)
}

func (s *DirStore) Read(ctx context.Context, k Key) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ReadFiles(s.dir, k)
}

func (s *DirStore) Keys(ctx context.Context) ([]Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ScanKeys(s.dir)
}

func (s *DirStore) Close() error { return nil }
