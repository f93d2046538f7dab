// Package power drives the 16-bit shift register that switches every
// sensor, pump and the network adapter of a node.
package power

import (
	"fmt"
	"sync"
)

// ImageBits is the width of the power image.
const ImageBits = 16

// Pin is one of the control lines of the shift register.
type Pin int

const (
	PinData Pin = iota
	PinClock
	PinLatch
	// PinOutputEnable is active low.
	PinOutputEnable
)

func (p Pin) String() string {
	switch p {
	case PinData:
		return "data"
	case PinClock:
		return "clock"
	case PinLatch:
		return "latch"
	case PinOutputEnable:
		return "output-enable"
	default:
		return fmt.Sprintf("pin(%d)", int(p))
	}
}

// Pins sets the level of a control line.
type Pins interface {
	Write(pin Pin, high bool) error
}

// Multiplexer owns the live power image. Every change disables the outputs,
// shifts the whole image in, latches it and only then enables the outputs
// again, so no intermediate bit combination ever reaches the devices.
type Multiplexer struct {
	mu      sync.Mutex
	pins    Pins
	image   uint16
	enabled bool
}

// NewMultiplexer wraps the control lines. Call Init before use.
func NewMultiplexer(pins Pins) *Multiplexer {
	return &Multiplexer{pins: pins}
}

// Init switches everything off and enables the outputs.
func (m *Multiplexer) Init() error {
	return m.SetImage(0)
}

// SetImage replaces the live image.
func (m *Multiplexer) SetImage(image uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setImageLocked(image)
}

// Or switches on the bits of mask, keeping the rest of the image.
func (m *Multiplexer) Or(mask uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setImageLocked(m.image | mask)
}

// Clear switches off the bits of mask, keeping the rest of the image.
func (m *Multiplexer) Clear(mask uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setImageLocked(m.image &^ mask)
}

// Off switches every device off.
func (m *Multiplexer) Off() error {
	return m.SetImage(0)
}

// Image returns the live image.
func (m *Multiplexer) Image() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.image
}

// Enabled reports whether the outputs are currently gated on.
func (m *Multiplexer) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

func (m *Multiplexer) EnableOutputs() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setOutputsLocked(true)
}

func (m *Multiplexer) DisableOutputs() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setOutputsLocked(false)
}

func (m *Multiplexer) setOutputsLocked(on bool) error {
	if err := m.pins.Write(PinOutputEnable, !on); err != nil {
		return fmt.Errorf("setting output enable: %w", err)
	}
	m.enabled = on
	return nil
}

func (m *Multiplexer) setImageLocked(image uint16) error {
	if err := m.setOutputsLocked(false); err != nil {
		return err
	}
	if err := m.shift(image); err != nil {
		return err
	}
	m.image = image
	return m.setOutputsLocked(true)
}

// shift clocks the image in LSB first and pulses the latch.
func (m *Multiplexer) shift(image uint16) error {
	for i := 0; i < ImageBits; i++ {
		bit := image&(1<<uint(i)) != 0
		if err := m.pins.Write(PinData, bit); err != nil {
			return fmt.Errorf("shifting bit %d: %w", i, err)
		}
		if err := m.pins.Write(PinClock, true); err != nil {
			return fmt.Errorf("shifting bit %d: %w", i, err)
		}
		if err := m.pins.Write(PinClock, false); err != nil {
			return fmt.Errorf("shifting bit %d: %w", i, err)
		}
	}
	if err := m.pins.Write(PinLatch, true); err != nil {
		return fmt.Errorf("latching image: %w", err)
	}
	if err := m.pins.Write(PinLatch, false); err != nil {
		return fmt.Errorf("latching image: %w", err)
	}
	return nil
}

// LinkSwitch powers the network adapter through the multiplexer.
type LinkSwitch struct {
	Mux *Multiplexer
	Map Map
}

func (l LinkSwitch) PowerUp() error {
	return l.Mux.Or(l.Map.LinkBit())
}

func (l LinkSwitch) PowerDown() error {
	return l.Mux.Clear(l.Map.LinkBit())
}
