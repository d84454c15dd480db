package store

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrMissingOnReadback matches a round trip where a written file did not
	// come back.
	ErrMissingOnReadback = errors.New("written file missing on read-back")

	// ErrContentMismatch matches a round trip where a file came back changed.
	ErrContentMismatch = errors.New("read-back file content differs")
)

// Diff is the structural comparison of a write directory and its read-back.
type Diff struct {
	// Missing are written files absent from the read side.
	Missing []string
	// Mismatched are files present on both sides with different content.
	Mismatched []string
	// OnlyInRead are stale files found only on the read side. They are tolerated.
	OnlyInRead []string
}

// Failed reports whether the diff breaks the round trip.
func (d *Diff) Failed() bool {
	return len(d.Missing) > 0 || len(d.Mismatched) > 0
}

// RoundTripError is returned when a read-back does not match what was written.
type RoundTripError struct {
	Diff
}

func (e *RoundTripError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("%v: %s", ErrMissingOnReadback, strings.Join(e.Missing, ", ")))
	}
	if len(e.Mismatched) > 0 {
		parts = append(parts, fmt.Sprintf("%v: %s", ErrContentMismatch, strings.Join(e.Mismatched, ", ")))
	}
	return "round-trip validation failed: " + strings.Join(parts, "; ")
}

// Is matches ErrMissingOnReadback and ErrContentMismatch by failure kind.
func (e *RoundTripError) Is(target error) bool {
	switch target {
	case ErrMissingOnReadback:
		return len(e.Missing) > 0
	case ErrContentMismatch:
		return len(e.Mismatched) > 0
	}
	return false
}

// DiffDirs compares every regular file below writeDir with the file at the
// same relative path below readDir.
func DiffDirs(writeDir, readDir string) (*Diff, error) {
	written, err := listFiles(writeDir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", writeDir)
	}
	read, err := listFiles(readDir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", readDir)
	}

	d := &Diff{}
	for rel := range written {
		if !read[rel] {
			d.Missing = append(d.Missing, rel)
			continue
		}
		same, err := sameContent(filepath.Join(writeDir, rel), filepath.Join(readDir, rel))
		if err != nil {
			return nil, err
		}
		if !same {
			d.Mismatched = append(d.Mismatched, rel)
		}
	}
	for rel := range read {
		if !written[rel] {
			d.OnlyInRead = append(d.OnlyInRead, rel)
		}
	}

	sort.Strings(d.Missing)
	sort.Strings(d.Mismatched)
	sort.Strings(d.OnlyInRead)
	return d, nil
}

func listFiles(root string) (map[string]bool, error) {
	files := make(map[string]bool)
	err := filepath.WalkDir(root, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !de.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = true
		return nil
	})
	return files, err
}

func sameContent(a, b string) (bool, error) {
	da, err := os.ReadFile(a)
	if err != nil {
		return false, errors.Wrapf(err, "failed to read %s", a)
	}
	db, err := os.ReadFile(b)
	if err != nil {
		return false, errors.Wrapf(err, "failed to read %s", b)
	}
	return bytes.Equal(da, db), nil
}

// ValidateRoundTrip writes entries to st, reads back every key st holds and
// diffs the exported files. The written side goes to <stagingDir>/write and
// the read side to <stagingDir>/read. Keys found only on the read side are
// logged and tolerated.
func ValidateRoundTrip(ctx context.Context, st Store, entries []Entry, stagingDir string, logger *logrus.Logger) error {
	writeDir := filepath.Join(stagingDir, "write")
	readDir := filepath.Join(stagingDir, "read")
	for _, dir := range []string{writeDir, readDir} {
		if err := os.RemoveAll(dir); err != nil {
			return errors.Wrap(err, "failed to clear staging directory")
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "failed to create staging directory")
		}
	}

	for _, e := range entries {
		if err := WriteFiles(writeDir, e); err != nil {
			return err
		}
		if err := st.Write(ctx, e); err != nil {
			return errors.Wrapf(err, "failed to store %s", e.Key)
		}
		logger.WithFields(logrus.Fields{
			"chain":         e.Key.Chain,
			"bandwidth_mhz": e.Key.BandwidthMHz,
			"run_id":        e.RunID,
		}).Info("Calibration table written")
	}

	keys, err := st.Keys(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list stored tables")
	}
	for _, k := range keys {
		e, err := st.Read(ctx, k)
		if err != nil {
			return errors.Wrapf(err, "failed to read back %s", k)
		}
		if err := WriteFiles(readDir, *e); err != nil {
			return err
		}
	}

	diff, err := DiffDirs(writeDir, readDir)
	if err != nil {
		return err
	}

	if len(diff.OnlyInRead) > 0 {
		logger.WithField("files", diff.OnlyInRead).Info("Read-back contains tables that were not written in this run")
	}
	if diff.Failed() {
		return &RoundTripError{Diff: *diff}
	}

	logger.WithField("tables", len(entries)).Info("Calibration write validation successful")
	return nil
}
