package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/chrissnell/drynomore/internal/protocol"
)

// IO backends a node can drive its board with.
const (
	BackendSim    = "sim"
	BackendSerial = "serial"
	BackendTCP    = "tcp"
	BackendModbus = "modbus"
)

const (
	DefaultSleepPeriod = 6 * time.Hour
	DefaultStateDB     = "drynomore-node.db"
	DefaultBaud        = 115200
)

// NodeData is the configuration of an irrigation node
type NodeData struct {
	SupervisorAddr string        `json:"supervisor_addr"`
	SleepPeriod    time.Duration `json:"sleep_period"`
	StateDB        string        `json:"state_db"`
	IO             IOData        `json:"io"`
	Timing         TimingData    `json:"timing"`
	LinkTimeout    time.Duration `json:"link_timeout,omitempty"`
	Once           bool          `json:"once,omitempty"`
}

// IOData selects and configures the board backend
type IOData struct {
	Backend      string        `json:"backend"`
	SerialDevice string        `json:"serial_device,omitempty"`
	Baud         int           `json:"baud,omitempty"`
	Address      string        `json:"address,omitempty"`
	SlaveID      byte          `json:"slave_id,omitempty"`
	CoilBase     uint16        `json:"coil_base,omitempty"`
	RegisterBase uint16        `json:"register_base,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty"`
}

// TimingData holds the sampling and power-up delays. Zero values select the
// component defaults.
type TimingData struct {
	MeasureDelay    time.Duration `json:"measure_delay,omitempty"`
	PowerOnDelay    time.Duration `json:"power_on_delay,omitempty"`
	ADCMeasurements int           `json:"adc_measurements,omitempty"`
}

type nodeYAML struct {
	SupervisorAddr string     `yaml:"supervisor_addr"`
	SleepPeriod    string     `yaml:"sleep_period,omitempty"`
	StateDB        string     `yaml:"state_db,omitempty"`
	IO             IOYAML     `yaml:"io"`
	Timing         TimingYAML `yaml:"timing,omitempty"`
	LinkTimeout    string     `yaml:"link_timeout,omitempty"`
	Once           bool       `yaml:"once,omitempty"`
}

type IOYAML struct {
	Backend      string `yaml:"backend"`
	SerialDevice string `yaml:"serial_device,omitempty"`
	Baud         int    `yaml:"baud,omitempty"`
	Address      string `yaml:"address,omitempty"`
	SlaveID      byte   `yaml:"slave_id,omitempty"`
	CoilBase     uint16 `yaml:"coil_base,omitempty"`
	RegisterBase uint16 `yaml:"register_base,omitempty"`
	Timeout      string `yaml:"timeout,omitempty"`
}

type TimingYAML struct {
	MeasureDelay    string `yaml:"measure_delay,omitempty"`
	PowerOnDelay    string `yaml:"power_on_delay,omitempty"`
	ADCMeasurements int    `yaml:"adc_measurements,omitempty"`
}

// LoadNodeConfig reads a node configuration file.
func LoadNodeConfig(filename string) (*NodeData, error) {
	cfgFile, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	n, err := ParseNodeConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", filename, err)
	}
	return n, nil
}

// ParseNodeConfig decodes, defaults and validates a node configuration
// document.
func ParseNodeConfig(data []byte) (*NodeData, error) {
	var y nodeYAML
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, err
	}

	n := &NodeData{
		SupervisorAddr: y.SupervisorAddr,
		StateDB:        y.StateDB,
		Once:           y.Once,
		IO: IOData{
			Backend:      y.IO.Backend,
			SerialDevice: y.IO.SerialDevice,
			Baud:         y.IO.Baud,
			Address:      y.IO.Address,
			SlaveID:      y.IO.SlaveID,
			CoilBase:     y.IO.CoilBase,
			RegisterBase: y.IO.RegisterBase,
		},
		Timing: TimingData{ADCMeasurements: y.Timing.ADCMeasurements},
	}

	durations := []struct {
		key string
		src string
		dst *time.Duration
	}{
		{"sleep_period", y.SleepPeriod, &n.SleepPeriod},
		{"link_timeout", y.LinkTimeout, &n.LinkTimeout},
		{"io.timeout", y.IO.Timeout, &n.IO.Timeout},
		{"timing.measure_delay", y.Timing.MeasureDelay, &n.Timing.MeasureDelay},
		{"timing.power_on_delay", y.Timing.PowerOnDelay, &n.Timing.PowerOnDelay},
	}
	for _, d := range durations {
		if d.src == "" {
			continue
		}
		v, err := time.ParseDuration(d.src)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, d.key, err)
		}
		*d.dst = v
	}

	n.applyDefaults()
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *NodeData) applyDefaults() {
	if n.SleepPeriod == 0 {
		n.SleepPeriod = DefaultSleepPeriod
	}
	if n.StateDB == "" {
		n.StateDB = DefaultStateDB
	}
	if n.IO.Backend == "" {
		n.IO.Backend = BackendSim
	}
	if n.IO.Baud == 0 && (n.IO.Backend == BackendSerial || n.IO.Backend == BackendModbus) {
		n.IO.Baud = DefaultBaud
	}
	if n.IO.SlaveID == 0 {
		n.IO.SlaveID = 1
	}
}

// Validate checks the node configuration.
func (n *NodeData) Validate() error {
	if n.SupervisorAddr == "" {
		return fmt.Errorf("%w: missing supervisor_addr", ErrInvalidConfig)
	}
	if n.SleepPeriod < 0 || n.LinkTimeout < 0 || n.Timing.MeasureDelay < 0 || n.Timing.PowerOnDelay < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	if n.Timing.ADCMeasurements < 0 {
		return fmt.Errorf("%w: timing.adc_measurements must not be negative", ErrInvalidConfig)
	}

	switch n.IO.Backend {
	case BackendSim:
	case BackendSerial:
		if n.IO.SerialDevice == "" {
			return fmt.Errorf("%w: serial backend needs io.serial_device", ErrInvalidConfig)
		}
	case BackendTCP:
		if n.IO.Address == "" {
			return fmt.Errorf("%w: tcp backend needs io.address", ErrInvalidConfig)
		}
	case BackendModbus:
		if n.IO.Address == "" && n.IO.SerialDevice == "" {
			return fmt.Errorf("%w: modbus backend needs io.address or io.serial_device", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown io.backend %q", ErrInvalidConfig, n.IO.Backend)
	}
	return nil
}

// SupervisorAddress returns SupervisorAddr with the default port appended
// when it carries none.
func (n *NodeData) SupervisorAddress() string {
	return withDefaultPort(n.SupervisorAddr, protocol.DefaultPort)
}

func withDefaultPort(addr string, port int) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, strconv.Itoa(port))
}
