// Package sim is a simulated IO board: a 16-bit power shift register in
// front of six potted plants, six pumps and two reservoirs. Soil dries over
// time, a running pump wets its plant and drains its reservoir. Sensors only
// answer while powered.
package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/chrissnell/drynomore/internal/clock"
	"github.com/chrissnell/drynomore/internal/power"
	"github.com/chrissnell/drynomore/internal/protocol"
)

// Config sets the physics of the simulation. Raw values follow the sensors:
// a higher raw reading means drier soil or a lower reservoir.
type Config struct {
	Map power.Map

	// InitialMoisture and InitialWater are the raw readings at start.
	InitialMoisture [protocol.MaxPlants]uint16
	InitialWater    [protocol.WaterChannels]uint16

	// Reservoir maps each pump to the reservoir it draws from.
	Reservoir [protocol.MaxPlants]int

	// WetRate is how fast a pumping plant's raw reading drops, per second.
	WetRate float64
	// DrainRate is how fast a reservoir's raw reading rises while any of its
	// pumps run, per second.
	DrainRate float64
	// DryRate is how fast every plant's raw reading rises, per hour.
	DryRate float64

	// WetRaw and DryRaw bound the moisture readings; EmptyRaw is the reading
	// of a reservoir that cannot feed a pump any more.
	WetRaw   uint16
	DryRaw   uint16
	EmptyRaw uint16

	// Broken pumps run without moving water.
	Broken [protocol.MaxPlants]bool
}

// DefaultConfig is a board with moderately dry plants and full reservoirs,
// calibrated for the default settings ranges.
func DefaultConfig() Config {
	c := Config{
		Map:       power.DefaultMap,
		WetRate:   25,
		DrainRate: 1,
		DryRate:   10,
		WetRaw:    200,
		DryRaw:    500,
		EmptyRaw:  480,
	}
	for i := range c.InitialMoisture {
		c.InitialMoisture[i] = 400
	}
	for i := range c.InitialWater {
		c.InitialWater[i] = 200
	}
	return c
}

// Board implements sensor.ADC and power.Pins.
type Board struct {
	cfg Config
	clk clock.Clock
	reg *power.Register

	mu       sync.Mutex
	moisture [protocol.MaxPlants]float64
	water    [protocol.WaterChannels]float64
	image    uint16
	last     time.Time
	pumpTime [protocol.MaxPlants]time.Duration
}

func NewBoard(cfg Config, clk clock.Clock) *Board {
	b := &Board{cfg: cfg, clk: clk, last: clk.Now()}
	for i, v := range cfg.InitialMoisture {
		b.moisture[i] = float64(v)
	}
	for i, v := range cfg.InitialWater {
		b.water[i] = float64(v)
	}
	b.reg = power.NewRegister(b.onOutputs)
	return b
}

// Write drives one of the shift register pins.
func (b *Board) Write(pin power.Pin, high bool) error {
	return b.reg.Write(pin, high)
}

func (b *Board) onOutputs(image uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked()
	b.image = image
}

// ReadRaw returns the reading of an ADC channel: 0-5 are the moisture
// sensors, 6-7 the reservoirs. Unpowered sensors read 0.
func (b *Board) ReadRaw(channel int) (uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked()
	powered := b.reg.Outputs()

	switch {
	case channel >= 0 && channel < protocol.MaxPlants:
		if powered&b.cfg.Map.MoistureSensor(channel) == 0 {
			return 0, nil
		}
		return uint16(b.moisture[channel]), nil
	case channel >= protocol.MaxPlants && channel < protocol.SensorRangeCount:
		ch := channel - protocol.MaxPlants
		if powered&b.cfg.Map.WaterSensor(ch) == 0 {
			return 0, nil
		}
		return uint16(b.water[ch]), nil
	}
	return 0, fmt.Errorf("no ADC channel %d", channel)
}

// advanceLocked applies the physics for the time since the last call under
// the current power image.
func (b *Board) advanceLocked() {
	now := b.clk.Now()
	dt := now.Sub(b.last)
	b.last = now
	if dt <= 0 {
		return
	}
	secs := dt.Seconds()

	for p := range b.moisture {
		b.moisture[p] = min(b.moisture[p]+b.cfg.DryRate*secs/3600, float64(b.cfg.DryRaw))
	}

	for p := 0; p < protocol.MaxPlants; p++ {
		if b.image&b.cfg.Map.Pump(p) == 0 {
			continue
		}
		b.pumpTime[p] += dt
		res := b.cfg.Reservoir[p]
		if b.cfg.Broken[p] || b.water[res] >= float64(b.cfg.EmptyRaw) {
			continue
		}
		b.moisture[p] = max(b.moisture[p]-b.cfg.WetRate*secs, float64(b.cfg.WetRaw))
		b.water[res] = min(b.water[res]+b.cfg.DrainRate*secs, float64(b.cfg.EmptyRaw))
	}
}

// PumpTime returns how long pump p has run in total.
func (b *Board) PumpTime(p int) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked()
	return b.pumpTime[p]
}

// Outputs returns the power image currently driving the board.
func (b *Board) Outputs() uint16 {
	return b.reg.Outputs()
}

// SetMoisture overrides a plant's raw reading.
func (b *Board) SetMoisture(p int, raw uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked()
	b.moisture[p] = float64(raw)
}

// SetWater overrides a reservoir's raw reading.
func (b *Board) SetWater(ch int, raw uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked()
	b.water[ch] = float64(raw)
}
