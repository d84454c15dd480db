package logging

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const dateLayout = "2006-01-02"

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("csv log closed")

// CSVLog is a daily rotated append-only file for sweep debug rows. When the
// date changes the previous file is gzip compressed.
type CSVLog struct {
	dir         string
	prefix      string
	useUTC      bool
	logger      *logrus.Logger
	currentFile *os.File
	currentDate string
	closed      bool
	now         func() time.Time
	mutex       sync.Mutex
}

// NewCSVLog creates dir if needed and opens today's <prefix>_<date>.csv.
func NewCSVLog(dir, prefix string, useUTC bool, logger *logrus.Logger) (*CSVLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	l := &CSVLog{
		dir:    dir,
		prefix: prefix,
		useUTC: useUTC,
		logger: logger,
		now:    time.Now,
	}
	if err := l.rotate(l.date()); err != nil {
		return nil, fmt.Errorf("failed to initialize csv log: %w", err)
	}
	return l, nil
}

func (l *CSVLog) date() string {
	now := l.now()
	if l.useUTC {
		now = now.UTC()
	}
	return now.Format(dateLayout)
}

func (l *CSVLog) fileName(date string) string {
	return filepath.Join(l.dir, fmt.Sprintf("%s_%s.csv", l.prefix, date))
}

// Write appends p to the current day's file, rotating first when the date
// has changed since the last write.
func (l *CSVLog) Write(p []byte) (int, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.closed {
		return 0, ErrClosed
	}
	if date := l.date(); date != l.currentDate {
		l.logger.WithFields(logrus.Fields{
			"old_date": l.currentDate,
			"new_date": date,
		}).Info("Rotating csv log")
		if err := l.rotate(date); err != nil {
			return 0, err
		}
	}
	return l.currentFile.Write(p)
}

func (l *CSVLog) rotate(date string) error {
	if l.currentFile != nil {
		if err := l.currentFile.Close(); err != nil {
			l.logger.WithError(err).Error("Failed to close old csv log")
		}
		l.currentFile = nil
		if err := l.compress(l.currentDate); err != nil {
			l.logger.WithError(err).WithField("date", l.currentDate).Error("Failed to compress csv log")
		}
	}

	path := l.fileName(date)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create csv log %s: %w", path, err)
	}
	l.currentFile = file
	l.currentDate = date

	l.logger.WithField("file", path).Debug("Opened csv log")
	return nil
}

// compress replaces the file for date with a .gz copy.
func (l *CSVLog) compress(date string) error {
	src := l.fileName(date)
	dst := src + ".gz"

	in, err := os.Open(src)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	gz.Name = filepath.Base(src)
	gz.ModTime = l.now()
	if _, err := io.Copy(gz, in); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return err
	}

	l.logger.WithField("file", dst).Info("CSV log compressed")
	return nil
}

// CurrentFile returns the path being written, or "" once closed.
func (l *CSVLog) CurrentFile() string {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.currentFile == nil {
		return ""
	}
	return l.fileName(l.currentDate)
}

// Files lists every file of this log, compressed ones included.
func (l *CSVLog) Files() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(l.dir, l.prefix+"_*.csv*"))
	if err != nil {
		return nil, fmt.Errorf("failed to list csv logs: %w", err)
	}
	return files, nil
}

// CleanupOld removes files last modified more than maxDays ago and returns
// how many were removed. The current file is never removed.
func (l *CSVLog) CleanupOld(maxDays int) (int, error) {
	if maxDays <= 0 {
		return 0, fmt.Errorf("maxDays must be positive")
	}

	files, err := l.Files()
	if err != nil {
		return 0, err
	}
	cutoff := l.now().AddDate(0, 0, -maxDays)
	current := l.CurrentFile()

	removed := 0
	for _, file := range files {
		if file == current {
			continue
		}
		info, err := os.Stat(file)
		if err != nil {
			l.logger.WithError(err).WithField("file", file).Warn("Failed to stat csv log")
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(file); err != nil {
			l.logger.WithError(err).WithField("file", file).Error("Failed to remove old csv log")
			continue
		}
		removed++
	}

	l.logger.WithField("count", removed).Info("Cleaned up old csv logs")
	return removed, nil
}

// Close closes the current file. Later writes fail with ErrClosed.
func (l *CSVLog) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.closed = true
	if l.currentFile == nil {
		return nil
	}
	err := l.currentFile.Close()
	l.currentFile = nil
	return err
}
