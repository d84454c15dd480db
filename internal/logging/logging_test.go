package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeClock is a settable time source.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestCSVLog(t *testing.T, clock *fakeClock) (*CSVLog, string) {
	t.Helper()
	dir := t.TempDir()
	l, err := NewCSVLog(dir, "sweep", true, testLogger())
	require.NoError(t, err)
	if clock != nil {
		l.mutex.Lock()
		l.now = clock.now
		l.mutex.Unlock()
	}
	t.Cleanup(func() { l.Close() })
	return l, dir
}

// TestNewCSVLog tests creating the debug log
func TestNewCSVLog(t *testing.T) {
	tests := []struct {
		name   string
		dir    string
		useUTC bool
	}{
		{name: "Flat directory", dir: "logs", useUTC: false},
		{name: "UTC dates", dir: "logs_utc", useUTC: true},
		{name: "Nested directory", dir: "nested/debug/logs", useUTC: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), tt.dir)
			l, err := NewCSVLog(dir, "sweep", tt.useUTC, testLogger())
			require.NoError(t, err)
			defer l.Close()

			assert.DirExists(t, dir)
			current := l.CurrentFile()
			assert.FileExists(t, current)
			assert.True(t, strings.HasPrefix(filepath.Base(current), "sweep_"))
			assert.True(t, strings.HasSuffix(current, ".csv"))
		})
	}
}

// TestCSVLogWrite tests writing rows
func TestCSVLogWrite(t *testing.T) {
	l, _ := newTestCSVLog(t, nil)

	row := "1815,2,6,12,0,0,0,converged,converged,converged\n"
	n, err := l.Write([]byte(row))
	require.NoError(t, err)
	assert.Equal(t, len(row), n)

	content, err := os.ReadFile(l.CurrentFile())
	require.NoError(t, err)
	assert.Equal(t, row, string(content))
}

// TestCSVLogRotatesAndCompresses tests daily rotation and compression
func TestCSVLogRotatesAndCompresses(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)}
	l, dir := newTestCSVLog(t, clock)

	// The file opened by NewCSVLog carries today's real date; the first
	// write under the fake clock rotates onto 2026-03-01.
	_, err := l.Write([]byte("a\n"))
	require.NoError(t, err)
	first := filepath.Join(dir, "sweep_2026-03-01.csv")
	assert.Equal(t, first, l.CurrentFile())

	clock.t = clock.t.Add(2 * time.Minute)
	_, err = l.Write([]byte("b\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sweep_2026-03-02.csv"), l.CurrentFile())

	assert.NoFileExists(t, first)
	gzFile, err := os.Open(first + ".gz")
	require.NoError(t, err)
	defer gzFile.Close()

	gz, err := gzip.NewReader(gzFile)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "a\n", string(data))

	files, err := l.Files()
	require.NoError(t, err)
	assert.Contains(t, files, first+".gz")
}

// TestCSVLogCleanupOld tests removal of expired files
func TestCSVLogCleanupOld(t *testing.T) {
	l, dir := newTestCSVLog(t, nil)

	old := filepath.Join(dir, "sweep_2023-01-01.csv.gz")
	require.NoError(t, os.WriteFile(old, []byte("old"), 0644))
	tenDaysAgo := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(old, tenDaysAgo, tenDaysAgo))

	recent := filepath.Join(dir, "sweep_2023-12-31.csv")
	require.NoError(t, os.WriteFile(recent, []byte("recent"), 0644))

	removed, err := l.CleanupOld(5)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, old)
	assert.FileExists(t, recent)
	assert.FileExists(t, l.CurrentFile())

	_, err = l.CleanupOld(0)
	assert.ErrorContains(t, err, "maxDays must be positive")
}

// TestCSVLogClose tests writes after close
func TestCSVLogClose(t *testing.T) {
	l, _ := newTestCSVLog(t, nil)

	_, err := l.Write([]byte("row\n"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	assert.Empty(t, l.CurrentFile())
	_, err = l.Write([]byte("late\n"))
	assert.ErrorIs(t, err, ErrClosed)
}

// TestCSVLogConcurrentWrites tests concurrent writers
func TestCSVLogConcurrentWrites(t *testing.T) {
	l, _ := newTestCSVLog(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := fmt.Fprintf(l, "goroutine-%d-op-%d\n", id, j); err != nil {
					t.Errorf("Write failed: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	content, err := os.ReadFile(l.CurrentFile())
	require.NoError(t, err)
	assert.Equal(t, 500, strings.Count(string(content), "\n"))
	assert.Contains(t, string(content), "goroutine-9-op-49")
}

// TestNew tests logger construction
func TestNew(t *testing.T) {
	logger, closer, err := New(Options{Level: "warn"})
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	assert.NoError(t, closer.Close())

	logger, closer, err = New(Options{Level: "warn", Verbose: true})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	closer.Close()

	_, _, err = New(Options{Level: "loud"})
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "attencal.log")
	logger, closer, err = New(Options{File: file})
	require.NoError(t, err)
	logger.Info("hello")
	require.NoError(t, closer.Close())

	content, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(content), "hello")
}
