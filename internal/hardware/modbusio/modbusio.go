// Package modbusio drives an off-the-shelf Modbus IO module: the shift
// register control lines are coils and the analog channels are input
// registers.
package modbusio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/chrissnell/drynomore/internal/power"
)

const DefaultTimeout = 2 * time.Second

const (
	coilOn  uint16 = 0xFF00
	coilOff uint16 = 0x0000
)

// Config selects the module. Address means Modbus TCP, SerialDevice means
// Modbus RTU.
type Config struct {
	Address      string
	SerialDevice string
	Baud         int
	SlaveID      byte
	Timeout      time.Duration
	// CoilBase is the coil address of PinData; the other pins follow.
	CoilBase uint16
	// RegisterBase is the input register of ADC channel 0.
	RegisterBase uint16
}

// Registers is the part of a Modbus client the module needs.
type Registers interface {
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleCoil(address, value uint16) ([]byte, error)
}

// Module implements sensor.ADC and power.Pins.
type Module struct {
	mu      sync.Mutex
	regs    Registers
	closer  func() error
	coil    uint16
	regBase uint16
}

// New wraps an existing client.
func New(regs Registers, coilBase, registerBase uint16) *Module {
	return &Module{regs: regs, coil: coilBase, regBase: registerBase, closer: func() error { return nil }}
}

// Dial connects to the module described by cfg.
func Dial(cfg Config) (*Module, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	switch {
	case cfg.Address != "":
		h := modbus.NewTCPClientHandler(cfg.Address)
		h.Timeout = timeout
		h.SlaveId = cfg.SlaveID
		if err := h.Connect(); err != nil {
			return nil, fmt.Errorf("connecting to modbus module %v: %w", cfg.Address, err)
		}
		m := New(modbus.NewClient(h), cfg.CoilBase, cfg.RegisterBase)
		m.closer = h.Close
		return m, nil
	case cfg.SerialDevice != "":
		h := modbus.NewRTUClientHandler(cfg.SerialDevice)
		if cfg.Baud != 0 {
			h.BaudRate = cfg.Baud
		}
		h.Timeout = timeout
		h.SlaveId = cfg.SlaveID
		if err := h.Connect(); err != nil {
			return nil, fmt.Errorf("opening modbus module on %v: %w", cfg.SerialDevice, err)
		}
		m := New(modbus.NewClient(h), cfg.CoilBase, cfg.RegisterBase)
		m.closer = h.Close
		return m, nil
	}
	return nil, errors.New("modbus module needs an address or a serial device")
}

func (m *Module) Close() error {
	return m.closer()
}

// ReadRaw reads one input register.
func (m *Module) ReadRaw(channel int) (uint16, error) {
	if channel < 0 {
		return 0, fmt.Errorf("no ADC channel %d", channel)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.regs.ReadInputRegisters(m.regBase+uint16(channel), 1)
	if err != nil {
		return 0, fmt.Errorf("reading channel %d: %w", channel, err)
	}
	if len(b) != 2 {
		return 0, fmt.Errorf("channel %d returned %d bytes", channel, len(b))
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

// Write sets the coil wired to pin.
func (m *Module) Write(pin power.Pin, high bool) error {
	value := coilOff
	if high {
		value = coilOn
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.regs.WriteSingleCoil(m.coil+uint16(pin), value); err != nil {
		return fmt.Errorf("writing %v: %w", pin, err)
	}
	return nil
}
