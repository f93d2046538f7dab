package power

import (
	"fmt"

	"github.com/chrissnell/drynomore/internal/protocol"
)

// Map assigns every switched device a bit of the power image.
type Map struct {
	Pumps    [protocol.MaxPlants]uint8
	Moisture [protocol.MaxPlants]uint8
	Water    [protocol.WaterChannels]uint8
	Link     uint8
}

// DefaultMap is the wiring of the reference board.
var DefaultMap = Map{
	Pumps:    [protocol.MaxPlants]uint8{14, 9, 10, 11, 12, 13},
	Moisture: [protocol.MaxPlants]uint8{3, 4, 5, 1, 2, 7},
	Water:    [protocol.WaterChannels]uint8{6, 0},
	Link:     8,
}

// Validate checks that every bit fits the image and no two devices share one.
func (m Map) Validate() error {
	seen := make(map[uint8]string)
	check := func(bit uint8, name string) error {
		if bit >= ImageBits {
			return fmt.Errorf("%s uses bit %d outside the %d-bit image", name, bit, ImageBits)
		}
		if other, ok := seen[bit]; ok {
			return fmt.Errorf("%s and %s share bit %d", name, other, bit)
		}
		seen[bit] = name
		return nil
	}
	for i, b := range m.Pumps {
		if err := check(b, fmt.Sprintf("pump %d", i+1)); err != nil {
			return err
		}
	}
	for i, b := range m.Moisture {
		if err := check(b, fmt.Sprintf("moisture sensor %d", i+1)); err != nil {
			return err
		}
	}
	for i, b := range m.Water {
		if err := check(b, fmt.Sprintf("water sensor %d", i+1)); err != nil {
			return err
		}
	}
	return check(m.Link, "link")
}

func (m Map) Pump(plant int) uint16          { return 1 << m.Pumps[plant] }
func (m Map) MoistureSensor(plant int) uint16 { return 1 << m.Moisture[plant] }
func (m Map) WaterSensor(channel int) uint16  { return 1 << m.Water[channel] }
func (m Map) LinkBit() uint16                 { return 1 << m.Link }

// Sensors returns the mask powering plant's moisture sensor and the water
// sensor of channel.
func (m Map) Sensors(plant, channel int) uint16 {
	return m.MoistureSensor(plant) | m.WaterSensor(channel)
}
