package store

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"attencal/internal/hw"
	"attencal/internal/table"
)

var calFilePrefix = [...]string{
	hw.StageBB: "bbtxatten",
	hw.StageTX: "fetxatten",
	hw.StageFB: "fefbatten",
}

// FileName returns the .cal file holding one stage of key.
func FileName(stage hw.Stage, k Key) string {
	return fmt.Sprintf("%s_%d_ant%d.cal", calFilePrefix[stage], k.BandwidthMHz, k.Chain)
}

// WriteFiles exports e as three .cal files in dir, one per stage.
func WriteFiles(dir string, e Entry) error {
	if err := checkEntry(e); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create calibration directory")
	}

	for _, stage := range hw.Stages {
		path := filepath.Join(dir, FileName(stage, e.Key))
		if err := writeAtomic(path, encodeStage(stage, e)); err != nil {
			return errors.Wrapf(err, "failed to write %s", path)
		}
	}
	return nil
}

// ReadFiles loads the three .cal files of k from dir.
func ReadFiles(dir string, k Key) (*Entry, error) {
	e := &Entry{Key: k, Table: &table.Dense{}}

	for i, stage := range hw.Stages {
		path := filepath.Join(dir, FileName(stage, k))
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "%s", k)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", path)
		}
		if err := decodeStage(stage, data, e, i == 0); err != nil {
			return nil, errors.Wrapf(err, "failed to parse %s", path)
		}
	}

	if err := e.Table.Validate(); err != nil {
		return nil, errors.Wrapf(err, "inconsistent calibration files for %s", k)
	}
	return e, nil
}

// ScanKeys lists the keys that have calibration files in dir.
func ScanKeys(dir string) ([]Key, error) {
	matches, err := filepath.Glob(filepath.Join(dir, calFilePrefix[hw.StageBB]+"_*_ant*.cal"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list calibration files")
	}

	keys := make([]Key, 0, len(matches))
	for _, m := range matches {
		var k Key
		if _, err := fmt.Sscanf(filepath.Base(m), calFilePrefix[hw.StageBB]+"_%d_ant%d.cal", &k.BandwidthMHz, &k.Chain); err != nil {
			continue
		}
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys, nil
}

func encodeStage(stage hw.Stage, e Entry) []byte {
	d := e.Table
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# stage=%s\n", stage)
	fmt.Fprintf(&buf, "# chain=%d\n", e.Key.Chain)
	fmt.Fprintf(&buf, "# bandwidth_mhz=%d\n", e.Key.BandwidthMHz)
	fmt.Fprintf(&buf, "# temperature=%d\n", d.Temperature)
	fmt.Fprintf(&buf, "# resolution=%d\n", d.Divider(stage))
	fmt.Fprintf(&buf, "# step_mhz=%s\n", formatFloat(d.StepMHz))
	fmt.Fprintf(&buf, "# run_id=%s\n", e.RunID)

	codes := d.Column(stage)
	for i, f := range d.Freqs {
		fmt.Fprintf(&buf, "%s %d\n", formatFloat(f), codes[i])
	}
	return buf.Bytes()
}

func decodeStage(stage hw.Stage, data []byte, e *Entry, first bool) error {
	d := e.Table
	var freqs []float64
	var codes []int64

	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}

		if strings.HasPrefix(text, "#") {
			key, value, ok := strings.Cut(strings.TrimSpace(strings.TrimPrefix(text, "#")), "=")
			if !ok {
				continue
			}
			if err := applyHeader(stage, key, value, e); err != nil {
				return errors.Wrapf(err, "line %d", line)
			}
			continue
		}

		fields := strings.Fields(text)
		if len(fields) != 2 {
			return errors.Errorf("line %d: expected \"freq code\", got %q", line, text)
		}
		f, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return errors.Wrapf(err, "line %d", line)
		}
		c, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return errors.Wrapf(err, "line %d", line)
		}
		freqs = append(freqs, f)
		codes = append(codes, c)
	}
	if err := sc.Err(); err != nil {
		return err
	}

	if first {
		d.Freqs = freqs
	} else if !equalFreqs(d.Freqs, freqs) {
		return errors.Errorf("%s frequencies differ from %s", stage, hw.StageBB)
	}

	switch stage {
	case hw.StageBB:
		d.BB = codes
	case hw.StageTX:
		d.TX = codes
	case hw.StageFB:
		d.FB = codes
	}
	return nil
}

func applyHeader(stage hw.Stage, key, value string, e *Entry) error {
	d := e.Table
	switch key {
	case "stage":
		s, err := hw.ParseStage(value)
		if err != nil {
			return err
		}
		if s != stage {
			return errors.Errorf("file holds %s codes, expected %s", s, stage)
		}
	case "run_id":
		e.RunID = value
	case "temperature":
		t, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrap(err, "temperature")
		}
		d.Temperature = t
	case "step_mhz":
		s, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return errors.Wrap(err, "step")
		}
		d.StepMHz = s
	case "resolution":
		r, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrap(err, "resolution")
		}
		switch stage {
		case hw.StageBB:
			d.Resolutions.BB = r
		case hw.StageTX:
			d.Resolutions.TX = r
		case hw.StageFB:
			d.Resolutions.FB = r
		}
	}
	return nil
}

func equalFreqs(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// writeAtomic replaces path so readers never see a partial file.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
