package power

import "sync"

// Register models a pair of cascaded 8-bit shift registers. It implements
// Pins, so simulated boards and tests can observe what actually reaches the
// devices.
type Register struct {
	mu       sync.Mutex
	shiftReg uint16
	latched  uint16
	data     bool
	clock    bool
	latch    bool
	oeHigh   bool
	shifted  int
	onLatch  func(uint16)
}

// NewRegister returns a register with outputs disabled. onLatch, when not
// nil, is called with every newly latched image.
func NewRegister(onLatch func(uint16)) *Register {
	return &Register{oeHigh: true, onLatch: onLatch}
}

func (r *Register) Write(pin Pin, high bool) error {
	r.mu.Lock()
	var latched func()
	switch pin {
	case PinData:
		r.data = high
	case PinClock:
		if high && !r.clock {
			// bits enter at the top so the first bit shifted ends up as bit 0
			r.shiftReg >>= 1
			if r.data {
				r.shiftReg |= 1 << (ImageBits - 1)
			}
			r.shifted++
		}
		r.clock = high
	case PinLatch:
		if high && !r.latch {
			r.latched = r.shiftReg
			if r.onLatch != nil {
				img, fn := r.latched, r.onLatch
				latched = func() { fn(img) }
			}
		}
		r.latch = high
	case PinOutputEnable:
		r.oeHigh = high
	}
	r.mu.Unlock()

	if latched != nil {
		latched()
	}
	return nil
}

// Outputs returns the image currently driven onto the devices, which is zero
// while the output gate is disabled.
func (r *Register) Outputs() uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.oeHigh {
		return 0
	}
	return r.latched
}

// Latched returns the latched image regardless of the output gate.
func (r *Register) Latched() uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latched
}

// Shifted returns the number of clock pulses seen.
func (r *Register) Shifted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shifted
}
