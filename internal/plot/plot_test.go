package plot

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attencal/internal/table"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func testDense() *table.Dense {
	return &table.Dense{
		StepMHz:     1,
		Temperature: 30,
		Resolutions: table.Resolutions{BB: 4, TX: 4, FB: 4},
		Freqs:       []float64{1815, 1816, 1817},
		BB:          []int64{8, 7, 6},
		TX:          []int64{24, 25, 26},
		FB:          []int64{48, 46, 44},
	}
}

// TestCurves tests the plotted curves and ranges
func TestCurves(t *testing.T) {
	p, err := Curves(testDense(), "ant0 20MHz")
	require.NoError(t, err)
	assert.Equal(t, "ant0 20MHz", p.Title.Text)
	assert.Equal(t, 1815.0, p.X.Min)
	assert.Equal(t, 1817.0, p.X.Max)
	assert.Equal(t, 1.5, p.Y.Min)
	assert.Equal(t, 12.0, p.Y.Max)
}

// TestCurvesRejectsBadTables tests invalid tables
func TestCurvesRejectsBadTables(t *testing.T) {
	_, err := Curves(&table.Dense{Resolutions: table.Resolutions{BB: 4, TX: 4, FB: 4}}, "")
	assert.Error(t, err)

	d := testDense()
	d.FB = d.FB[:2]
	_, err = Curves(d, "")
	assert.Error(t, err)
}

// TestWritePNG tests PNG encoding
func TestWritePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePNG(&buf, testDense(), "", DefaultWidth, DefaultHeight))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))
}

// TestSavePNG tests writing the chart to disk
func TestSavePNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plots", "ant0_20MHz.png")
	require.NoError(t, SavePNG(path, testDense(), "ant0"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, pngMagic))
}
