// Package sensor turns raw analog readings into filtered values and
// calibrated percentages.
package sensor

import (
	"fmt"
	"slices"
	"time"

	"github.com/chrissnell/drynomore/internal/clock"
	"github.com/chrissnell/drynomore/internal/protocol"
)

const (
	// DefaultMeasurements is the number of readings per sample.
	DefaultMeasurements = 5
	// DefaultMeasureDelay separates consecutive readings of one sample.
	DefaultMeasureDelay = 200 * time.Millisecond
)

// ADC reads one raw conversion from an analog channel. Channels 0-5 are the
// moisture sensors, 6 and 7 the water level sensors.
type ADC interface {
	ReadRaw(channel int) (uint16, error)
}

// MoistureChannel is the ADC channel of a plant's moisture sensor.
func MoistureChannel(plant int) int { return plant }

// WaterChannel is the ADC channel of a reservoir level sensor.
func WaterChannel(channel int) int { return protocol.MaxPlants + channel }

// Level is a calibrated measurement.
type Level struct {
	Raw     uint16
	Percent uint8
}

// Sampler takes median filtered samples from an ADC.
type Sampler struct {
	adc          ADC
	clock        clock.Clock
	measurements int
	delay        time.Duration
}

// NewSampler creates a sampler. A non-positive measurement count falls back
// to DefaultMeasurements.
func NewSampler(adc ADC, clk clock.Clock, measurements int, delay time.Duration) *Sampler {
	if measurements <= 0 {
		measurements = DefaultMeasurements
	}
	if delay < 0 {
		delay = 0
	}
	return &Sampler{
		adc:          adc,
		clock:        clk,
		measurements: measurements,
		delay:        delay,
	}
}

// Sample reads the channel repeatedly, spacing readings by the measure delay,
// and returns their median.
func (s *Sampler) Sample(channel int) (uint16, error) {
	readings := make([]uint16, 0, s.measurements)
	for i := 0; i < s.measurements; i++ {
		if i > 0 {
			s.clock.Sleep(s.delay)
		}
		v, err := s.adc.ReadRaw(channel)
		if err != nil {
			return 0, fmt.Errorf("reading channel %d: %w", channel, err)
		}
		readings = append(readings, v)
	}
	return Median(readings), nil
}

// Duration is the time one Sample spends waiting between readings.
func (s *Sampler) Duration() time.Duration {
	return time.Duration(s.measurements-1) * s.delay
}

// Measure samples the channel and maps the result through r.
func (s *Sampler) Measure(channel int, r protocol.SensorRange) (Level, error) {
	raw, err := s.Sample(channel)
	if err != nil {
		return Level{}, err
	}
	return ToPercent(raw, r), nil
}

// Median returns the median of values, averaging the two middle values of an
// even count. The input is not modified. An empty slice yields 0.
func Median(values []uint16) uint16 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return uint16((uint32(sorted[n/2-1]) + uint32(sorted[n/2])) / 2)
}

// ToPercent clamps raw into r and maps it to 0-100 with inverted polarity:
// the range minimum reads 100%, the maximum 0%. Raw in the result is the
// clamped value.
//
// A degenerate range (min >= max) reads 0% at or above min and 100% below.
func ToPercent(raw uint16, r protocol.SensorRange) Level {
	if r.MinRaw >= r.MaxRaw {
		if raw >= r.MinRaw {
			return Level{Raw: raw, Percent: 0}
		}
		return Level{Raw: raw, Percent: 100}
	}

	clamped := min(max(raw, r.MinRaw), r.MaxRaw)
	span := uint32(r.MaxRaw - r.MinRaw)
	pct := uint32(r.MaxRaw-clamped) * 100 / span
	return Level{Raw: clamped, Percent: uint8(pct)}
}
