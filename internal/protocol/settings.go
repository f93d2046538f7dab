package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// SettingsSize is the encoded length of a Settings record.
//
//	sensor ranges      8 x (u16 min, u16 max)   32
//	water thresholds   2 x (u8 warn, u8 empty)   4
//	target moisture    6 x u8                    6
//	burst duration     6 x u8                    6
//	burst delay        6 x u8                    6
//	max bursts         6 x u8                    6
//	ticks between      6 x u8                    6
//	water channel map  u8                        1
//	skip map           u8                        1
//	plant count        u8                        1
//	hardware failure   u8                        1
//	debug              u8                        1
const SettingsSize = 71

// SensorRange holds the calibration bounds of one analog channel.
type SensorRange struct {
	MinRaw uint16 `json:"min_raw" yaml:"minValue"`
	MaxRaw uint16 `json:"max_raw" yaml:"maxValue"`
}

// WaterLevelThresholds holds the alert thresholds of one water channel, in percent.
type WaterLevelThresholds struct {
	WarnPercent  uint8 `json:"warn_percent" yaml:"warnThres"`
	EmptyPercent uint8 `json:"empty_percent" yaml:"emptyThres"`
}

// Settings is the node configuration. The node owns it; the supervisor holds
// a mirror that wins once it exists.
type Settings struct {
	SensorRanges           [SensorRangeCount]SensorRange        `json:"sensor_ranges"`
	WaterThresholds        [WaterChannels]WaterLevelThresholds `json:"water_thresholds"`
	TargetMoisture         [MaxPlants]uint8                    `json:"target_moisture"`
	BurstDuration          [MaxPlants]uint8                    `json:"burst_duration"`
	BurstDelay             [MaxPlants]uint8                    `json:"burst_delay"`
	MaxBursts              [MaxPlants]uint8                    `json:"max_bursts"`
	TicksBetweenIrrigation [MaxPlants]uint8                    `json:"ticks_between_irrigation"`
	WaterChannelMap        PlantSet                            `json:"water_channel_map"`
	Skip                   PlantSet                            `json:"skip"`
	NumPlants              uint8                               `json:"num_plants"`
	HardwareFailure        bool                                `json:"hardware_failure"`
	Debug                  bool                                `json:"debug"`
}

// DefaultSettings returns the settings a node boots with.
func DefaultSettings() Settings {
	var s Settings
	for i := 0; i < MaxPlants; i++ {
		s.SensorRanges[i] = SensorRange{MinRaw: 200, MaxRaw: 500}
		s.TargetMoisture[i] = 50
		s.BurstDuration[i] = 2
		s.BurstDelay[i] = 5
		s.MaxBursts[i] = 5
		s.Skip.Set(i, true)
	}
	for i := 0; i < WaterChannels; i++ {
		s.SensorRanges[MaxPlants+i] = SensorRange{MinRaw: 180, MaxRaw: 480}
		s.WaterThresholds[i] = WaterLevelThresholds{WarnPercent: 50, EmptyPercent: 20}
	}
	s.NumPlants = MaxPlants
	return s
}

// MoistureRange returns the calibration of plant i's moisture sensor.
func (s *Settings) MoistureRange(plant int) SensorRange {
	return s.SensorRanges[plant]
}

// WaterRange returns the calibration of a water channel.
func (s *Settings) WaterRange(channel int) SensorRange {
	return s.SensorRanges[MaxPlants+channel]
}

// WaterChannel returns the reservoir channel (0 or 1) feeding plant i.
func (s *Settings) WaterChannel(plant int) int {
	if s.WaterChannelMap.Has(plant) {
		return 1
	}
	return 0
}

// UsedWaterChannels is 2 when any active plant draws from the second
// reservoir, otherwise 1.
func (s *Settings) UsedWaterChannels() uint8 {
	for i := 0; i < int(s.ActivePlants()); i++ {
		if s.WaterChannelMap.Has(i) {
			return 2
		}
	}
	return 1
}

// ActivePlants is NumPlants capped at MaxPlants.
func (s *Settings) ActivePlants() uint8 {
	if s.NumPlants > MaxPlants {
		return MaxPlants
	}
	return s.NumPlants
}

// Validate checks the ranges the engine relies on.
func (s *Settings) Validate() error {
	if s.NumPlants > MaxPlants {
		return fmt.Errorf("%w: plant count %d exceeds %d", ErrInvalid, s.NumPlants, MaxPlants)
	}
	for i, r := range s.SensorRanges {
		if r.MinRaw >= r.MaxRaw {
			return fmt.Errorf("%w: sensor range %d has min %d >= max %d", ErrInvalid, i, r.MinRaw, r.MaxRaw)
		}
	}
	for i, t := range s.WaterThresholds {
		if t.WarnPercent > 99 || t.EmptyPercent > 99 {
			return fmt.Errorf("%w: water thresholds of channel %d out of range", ErrInvalid, i)
		}
	}
	for i, t := range s.TargetMoisture {
		if t > 100 {
			return fmt.Errorf("%w: target moisture %d of plant %d exceeds 100", ErrInvalid, t, i)
		}
	}
	return nil
}

// MarshalBinary encodes the record in its fixed little-endian layout.
func (s Settings) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, SettingsSize))

	fields := []any{
		s.SensorRanges,
		s.WaterThresholds,
		s.TargetMoisture,
		s.BurstDuration,
		s.BurstDelay,
		s.MaxBursts,
		s.TicksBetweenIrrigation,
		uint8(s.WaterChannelMap),
		uint8(s.Skip),
		s.NumPlants,
		s.HardwareFailure,
		s.Debug,
	}
	for _, f := range fields {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("encoding settings: %w", err)
		}
	}
	if buf.Len() != SettingsSize {
		return nil, fmt.Errorf("encoded settings are %d bytes, expected %d", buf.Len(), SettingsSize)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a record. The receiver is left untouched unless the
// whole payload has the exact record size.
func (s *Settings) UnmarshalBinary(p []byte) error {
	if len(p) != SettingsSize {
		return fmt.Errorf("%w: settings payload is %d bytes, expected %d", ErrPayloadSize, len(p), SettingsSize)
	}

	var out Settings
	var waterMap, skip uint8
	r := bytes.NewReader(p)

	fields := []any{
		&out.SensorRanges,
		&out.WaterThresholds,
		&out.TargetMoisture,
		&out.BurstDuration,
		&out.BurstDelay,
		&out.MaxBursts,
		&out.TicksBetweenIrrigation,
		&waterMap,
		&skip,
		&out.NumPlants,
		&out.HardwareFailure,
		&out.Debug,
	}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return fmt.Errorf("decoding settings: %w", err)
		}
	}
	out.WaterChannelMap = PlantSet(waterMap)
	out.Skip = PlantSet(skip)

	*s = out
	return nil
}
