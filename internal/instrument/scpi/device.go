package scpi

import (
	"fmt"
	"strconv"
	"strings"

	"attencal/internal/hw"
)

// Commands are the templates a Device sends. Placeholders {stage}, {chain},
// {value}, {freq_hz}, {freq_mhz} and {bw} are substituted before sending. An
// empty template makes the operation return hw.ErrNotSupported.
type Commands struct {
	SetAttenuation string `yaml:"set_attenuation"`
	GetAttenuation string `yaml:"get_attenuation"`
	Tune           string `yaml:"tune"`
	PowerOut       string `yaml:"power_out"`
	ACLR           string `yaml:"aclr"`
	EVM            string `yaml:"evm"`
	FreqError      string `yaml:"freq_error"`
	PowerIn        string `yaml:"power_in"`
	PowerFeedback  string `yaml:"power_feedback"`
	Current        string `yaml:"current"`
	Temperature    string `yaml:"temperature"`
	Bandwidth      string `yaml:"bandwidth"`
	SetBandwidth   string `yaml:"set_bandwidth"`
}

// DefaultAnalyzerCommands covers a generic spectrum analyzer with an LTE
// measurement personality.
func DefaultAnalyzerCommands() Commands {
	return Commands{
		Tune:      "FREQ:CENT {freq_hz}",
		PowerOut:  "MEAS:CHP?",
		ACLR:      "MEAS:ACP?",
		EVM:       "FETC:EVM?",
		FreqError: "FETC:FERR?",
	}
}

// DefaultUnitCommands covers the unit's own control port.
func DefaultUnitCommands() Commands {
	return Commands{
		SetAttenuation: "ATT:{stage} {chain},{value}",
		GetAttenuation: "ATT:{stage}? {chain}",
		PowerIn:        "SENS:PIN? {chain}",
		PowerFeedback:  "SENS:PFB? {chain}",
		Current:        "SENS:CURR? {chain}",
		Temperature:    "SENS:TEMP? {chain}",
		Bandwidth:      "CONF:BW?",
		SetBandwidth:   "CONF:BW {bw}",
	}
}

// Device implements every hw capability over one Conn. Which capabilities
// are usable depends on the configured Commands.
type Device struct {
	conn *Conn
	cmds Commands
}

// NewDevice creates a device speaking cmds over conn.
func NewDevice(conn *Conn, cmds Commands) *Device {
	return &Device{conn: conn, cmds: cmds}
}

type vars map[string]string

func render(tmpl string, v vars) string {
	pairs := make([]string, 0, 2*len(v))
	for k, val := range v {
		pairs = append(pairs, "{"+k+"}", val)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func chainVars(chain int) vars {
	return vars{"chain": strconv.Itoa(chain)}
}

func (d *Device) command(tmpl string, v vars) error {
	if tmpl == "" {
		return hw.ErrNotSupported
	}
	return d.conn.Command(render(tmpl, v))
}

func (d *Device) float(tmpl string, v vars) (float64, error) {
	if tmpl == "" {
		return 0, hw.ErrNotSupported
	}
	return d.conn.QueryFloat(render(tmpl, v))
}

// Set implements hw.Attenuators.
func (d *Device) Set(stage hw.Stage, chain int, valueDB float64) error {
	return d.command(d.cmds.SetAttenuation, vars{
		"stage": strings.ToLower(stage.String()),
		"chain": strconv.Itoa(chain),
		"value": strconv.FormatFloat(valueDB, 'f', -1, 64),
	})
}

// Get implements hw.Attenuators.
func (d *Device) Get(stage hw.Stage, chain int) (float64, error) {
	return d.float(d.cmds.GetAttenuation, vars{
		"stage": strings.ToLower(stage.String()),
		"chain": strconv.Itoa(chain),
	})
}

// Tune implements hw.Analyzer.
func (d *Device) Tune(freqMHz float64) error {
	return d.command(d.cmds.Tune, vars{
		"freq_hz":  strconv.FormatInt(int64(freqMHz*1e6+0.5), 10),
		"freq_mhz": strconv.FormatFloat(freqMHz, 'f', -1, 64),
	})
}

// ReadPowerOut implements hw.Analyzer.
func (d *Device) ReadPowerOut(chain int) (float64, error) {
	return d.float(d.cmds.PowerOut, chainVars(chain))
}

// ReadACLR implements hw.Analyzer.
func (d *Device) ReadACLR() (float64, error) { return d.float(d.cmds.ACLR, nil) }

// ReadEVM implements hw.Analyzer.
func (d *Device) ReadEVM() (float64, error) { return d.float(d.cmds.EVM, nil) }

// ReadFreqError implements hw.Analyzer.
func (d *Device) ReadFreqError() (float64, error) { return d.float(d.cmds.FreqError, nil) }

// ReadPowerIn implements hw.Sensors.
func (d *Device) ReadPowerIn(chain int) (float64, error) {
	return d.float(d.cmds.PowerIn, chainVars(chain))
}

// ReadPowerFeedback implements hw.Sensors.
func (d *Device) ReadPowerFeedback(chain int) (float64, error) {
	return d.float(d.cmds.PowerFeedback, chainVars(chain))
}

// ReadCurrent implements hw.Sensors.
func (d *Device) ReadCurrent(chain int) (float64, error) {
	return d.float(d.cmds.Current, chainVars(chain))
}

// ReadTemperature implements hw.Sensors.
func (d *Device) ReadTemperature(chain int) (float64, error) {
	return d.float(d.cmds.Temperature, chainVars(chain))
}

// Bandwidth implements hw.Radio.
func (d *Device) Bandwidth() (int, error) {
	v, err := d.float(d.cmds.Bandwidth, nil)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// ReconfigureBandwidth implements hw.Radio. The unit reboots; the call
// returns once the control port answers a bandwidth query with mhz.
func (d *Device) ReconfigureBandwidth(mhz int) error {
	if err := d.command(d.cmds.SetBandwidth, vars{"bw": strconv.Itoa(mhz)}); err != nil {
		return err
	}
	got, err := d.Bandwidth()
	if err != nil {
		return fmt.Errorf("unit did not come back after bandwidth change: %w", err)
	}
	if got != mhz {
		return fmt.Errorf("unit reports %d MHz after requesting %d MHz", got, mhz)
	}
	return nil
}

// Close closes the session.
func (d *Device) Close() error {
	return d.conn.Close()
}
