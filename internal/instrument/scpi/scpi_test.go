package scpi

import (
	"bufio"
	"io"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attencal/internal/hw"
)

// fakeInstrument answers queries from a fixed table and records every line.
type fakeInstrument struct {
	answers map[string]string
	mu      sync.Mutex
	lines   []string
}

func (f *fakeInstrument) serve(c net.Conn) {
	r := bufio.NewReader(c)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		f.mu.Lock()
		f.lines = append(f.lines, line)
		f.mu.Unlock()
		if strings.Contains(line, "?") {
			io.WriteString(c, f.answers[line]+"\r\n")
		}
	}
}

func (f *fakeInstrument) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func newTestDevice(t *testing.T, cmds Commands, answers map[string]string) (*Device, *fakeInstrument) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	client, server := net.Pipe()
	fake := &fakeInstrument{answers: answers}
	go fake.serve(server)
	t.Cleanup(func() { server.Close() })

	d := NewDevice(NewConn(client, logger), cmds)
	t.Cleanup(func() { d.Close() })
	return d, fake
}

// TestRender tests command template rendering
func TestRender(t *testing.T) {
	got := render("ATT:{stage} {chain},{value}", vars{"stage": "bb", "chain": "1", "value": "2.25"})
	assert.Equal(t, "ATT:bb 1,2.25", got)
	assert.Equal(t, "CONF:BW?", render("CONF:BW?", nil))
}

// TestDeviceAttenuators tests attenuator set and get commands
func TestDeviceAttenuators(t *testing.T) {
	d, fake := newTestDevice(t, DefaultUnitCommands(), map[string]string{
		"ATT:tx? 1": "2.75",
	})

	require.NoError(t, d.Set(hw.StageFB, 1, 12.5))
	v, err := d.Get(hw.StageTX, 1)
	require.NoError(t, err)
	assert.Equal(t, 2.75, v)

	assert.Equal(t, []string{"ATT:fb 1,12.5", "ATT:tx? 1"}, fake.received())
}

// TestDeviceReadings tests measurement queries and invalid values
func TestDeviceReadings(t *testing.T) {
	d, fake := newTestDevice(t, DefaultAnalyzerCommands(), map[string]string{
		"MEAS:CHP?":  "+2.9875E+01",
		"MEAS:ACP?":  "-47.5,-48.1",
		"FETC:EVM?":  "9.91E37",
		"FETC:FERR?": "garbage",
	})

	require.NoError(t, d.Tune(1842.5))

	p, err := d.ReadPowerOut(0)
	require.NoError(t, err)
	assert.InDelta(t, 29.875, p, 1e-9)

	aclr, err := d.ReadACLR()
	require.NoError(t, err)
	assert.Equal(t, -47.5, aclr)

	_, err = d.ReadEVM()
	assert.ErrorIs(t, err, hw.ErrInvalidReading)

	_, err = d.ReadFreqError()
	assert.ErrorIs(t, err, hw.ErrInvalidReading)

	_, err = d.ReadCurrent(0)
	assert.ErrorIs(t, err, hw.ErrNotSupported)

	assert.Equal(t, "FREQ:CENT 1842500000", fake.received()[0])
}

// TestQueryFloatNotANumber tests that both signs of the no-reading value are
// rejected
func TestQueryFloatNotANumber(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	client, server := net.Pipe()
	fake := &fakeInstrument{answers: map[string]string{
		"POS?":  "9.9E37",
		"NEG?":  "-9.9E37",
		"LOW?":  "-120.5",
		"JUNK?": "OVLD",
	}}
	go fake.serve(server)
	defer server.Close()
	conn := NewConn(client, logger)
	defer conn.Close()

	tests := []struct {
		cmd     string
		want    float64
		invalid bool
	}{
		{cmd: "POS?", invalid: true},
		{cmd: "NEG?", invalid: true},
		{cmd: "LOW?", want: -120.5},
		{cmd: "JUNK?", invalid: true},
	}

	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			v, err := conn.QueryFloat(tt.cmd)
			if tt.invalid {
				assert.ErrorIs(t, err, hw.ErrInvalidReading)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

// TestDeviceReconfigureBandwidth tests the bandwidth change and check
func TestDeviceReconfigureBandwidth(t *testing.T) {
	d, fake := newTestDevice(t, DefaultUnitCommands(), map[string]string{
		"CONF:BW?": "20",
	})

	require.NoError(t, d.ReconfigureBandwidth(20))
	assert.Equal(t, []string{"CONF:BW 20", "CONF:BW?"}, fake.received())

	assert.Error(t, d.ReconfigureBandwidth(10))
}

// TestDialRejectsUnknownTransport tests address scheme validation
func TestDialRejectsUnknownTransport(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	_, err := Dial("gpib://0/12", logger)
	assert.Error(t, err)
}

// TestDialTCP tests a TCP instrument session
func TestDialTCP(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	fake := &fakeInstrument{answers: map[string]string{"*IDN?": "ACME,SA1000,1,1.0"}}
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		fake.serve(c)
	}()

	conn, err := Dial(ln.Addr().String(), logger)
	require.NoError(t, err)
	defer conn.Close()

	idn, err := conn.Query("*IDN?")
	require.NoError(t, err)
	assert.Equal(t, "ACME,SA1000,1,1.0", idn)
}
