package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// StatusSize is the encoded length of a Status record: five u8 arrays
// (6+6+6+2+2), four u16 arrays (6+6+2+2) and two trailing counts.
const StatusSize = 56

// Status is the per-cycle measurement report of a node.
type Status struct {
	TicksSinceIrrigation [MaxPlants]uint8      `json:"ticks_since_irrigation"`
	BeforeMoisture       [MaxPlants]uint8      `json:"before_moisture"`
	AfterMoisture        [MaxPlants]uint8      `json:"after_moisture"`
	BeforeWater          [WaterChannels]uint8  `json:"before_water"`
	AfterWater           [WaterChannels]uint8  `json:"after_water"`
	BeforeMoistureRaw    [MaxPlants]uint16     `json:"before_moisture_raw"`
	AfterMoistureRaw     [MaxPlants]uint16     `json:"after_moisture_raw"`
	BeforeWaterRaw       [WaterChannels]uint16 `json:"before_water_raw"`
	AfterWaterRaw        [WaterChannels]uint16 `json:"after_water_raw"`
	NumPlants            uint8                 `json:"num_plants"`
	NumWaterSensors      uint8                 `json:"num_water_sensors"`
}

// NewStatus returns a status as a node holds it after boot: every tick
// counter saturated so all plants are due, every level undefined.
func NewStatus() Status {
	var s Status
	for i := range s.TicksSinceIrrigation {
		s.TicksSinceIrrigation[i] = UndefinedLevel
	}
	s.ResetLevels()
	return s
}

// ResetLevels marks every measurement as undefined. Tick counters survive.
func (s *Status) ResetLevels() {
	for i := 0; i < MaxPlants; i++ {
		s.BeforeMoisture[i] = UndefinedLevel
		s.AfterMoisture[i] = UndefinedLevel
		s.BeforeMoistureRaw[i] = UndefinedRaw
		s.AfterMoistureRaw[i] = UndefinedRaw
	}
	for i := 0; i < WaterChannels; i++ {
		s.BeforeWater[i] = UndefinedLevel
		s.AfterWater[i] = UndefinedLevel
		s.BeforeWaterRaw[i] = UndefinedRaw
		s.AfterWaterRaw[i] = UndefinedRaw
	}
}

// ActivePlants is NumPlants capped at MaxPlants.
func (s *Status) ActivePlants() int {
	if s.NumPlants > MaxPlants {
		return MaxPlants
	}
	return int(s.NumPlants)
}

// ActiveWaterSensors is NumWaterSensors capped at WaterChannels.
func (s *Status) ActiveWaterSensors() int {
	if s.NumWaterSensors > WaterChannels {
		return WaterChannels
	}
	return int(s.NumWaterSensors)
}

// MoistureRose reports whether any active plant ended wetter than it started.
func (s *Status) MoistureRose() bool {
	for i := 0; i < s.ActivePlants(); i++ {
		if s.BeforeMoisture[i] < s.AfterMoisture[i] {
			return true
		}
	}
	return false
}

// SameMoisture reports whether both reports carry identical before/after
// moisture values for the active plants.
func (s *Status) SameMoisture(o *Status) bool {
	if s.ActivePlants() != o.ActivePlants() {
		return false
	}
	for i := 0; i < s.ActivePlants(); i++ {
		if s.BeforeMoisture[i] != o.BeforeMoisture[i] || s.AfterMoisture[i] != o.AfterMoisture[i] {
			return false
		}
	}
	return true
}

// MarshalBinary encodes the record in its fixed little-endian layout.
func (s Status) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, StatusSize))
	fields := []any{
		s.TicksSinceIrrigation,
		s.BeforeMoisture,
		s.AfterMoisture,
		s.BeforeWater,
		s.AfterWater,
		s.BeforeMoistureRaw,
		s.AfterMoistureRaw,
		s.BeforeWaterRaw,
		s.AfterWaterRaw,
		s.NumPlants,
		s.NumWaterSensors,
	}
	for _, f := range fields {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("encoding status: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a record, rejecting any payload whose length is
// not exactly StatusSize without touching the receiver.
func (s *Status) UnmarshalBinary(p []byte) error {
	if len(p) != StatusSize {
		return fmt.Errorf("%w: status payload is %d bytes, expected %d", ErrPayloadSize, len(p), StatusSize)
	}

	var out Status
	r := bytes.NewReader(p)
	fields := []any{
		&out.TicksSinceIrrigation,
		&out.BeforeMoisture,
		&out.AfterMoisture,
		&out.BeforeWater,
		&out.AfterWater,
		&out.BeforeMoistureRaw,
		&out.AfterMoistureRaw,
		&out.BeforeWaterRaw,
		&out.AfterWaterRaw,
		&out.NumPlants,
		&out.NumWaterSensors,
	}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return fmt.Errorf("decoding status: %w", err)
		}
	}

	*s = out
	return nil
}

// EncodeReport frames a status as a REPORT_STATUS packet.
func EncodeReport(s Status) ([]byte, error) {
	payload, err := s.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append([]byte{byte(TagReportStatus)}, payload...), nil
}
