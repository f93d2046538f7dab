package session

import (
	"fmt"
	"math"

	"github.com/chrissnell/drynomore/internal/protocol"
)

// Op names a settings edit.
type Op string

const (
	OpPlantMin          Op = "plant_min"
	OpPlantMax          Op = "plant_max"
	OpTargetMoisture    Op = "target_moisture"
	OpBurstDuration     Op = "burst_duration"
	OpBurstDelay        Op = "burst_delay"
	OpMaxBursts         Op = "max_bursts"
	OpTicksBetween      Op = "ticks_between_irrigation"
	OpToggleWaterSensor Op = "toggle_water_sensor"
	OpToggleSkip        Op = "toggle_skip"
	OpAddPlant          Op = "add_plant"
	OpRemovePlant       Op = "remove_plant"
	OpWaterMin          Op = "water_min"
	OpWaterMax          Op = "water_max"
	OpWaterWarn         Op = "water_warn"
	OpWaterEmpty        Op = "water_empty"
	OpClearFailure      Op = "clear_hardware_failure"
	OpToggleDebug       Op = "toggle_debug"
)

// Edit is one change to a session's settings. Plant and Channel are 1-based,
// the way plants (P1..P6) and reservoirs (W1, W2) are labelled.
type Edit struct {
	Op      Op  `json:"op"`
	Plant   int `json:"plant,omitempty"`
	Channel int `json:"channel,omitempty"`
	Value   int `json:"value,omitempty"`
}

// Apply performs the edit on set.
func (e Edit) Apply(set *protocol.Settings) error {
	switch e.Op {
	case OpPlantMin, OpPlantMax, OpTargetMoisture, OpBurstDuration, OpBurstDelay,
		OpMaxBursts, OpTicksBetween, OpToggleWaterSensor, OpToggleSkip:
		return e.applyPlant(set)
	case OpWaterMin, OpWaterMax, OpWaterWarn, OpWaterEmpty:
		return e.applyWater(set)
	case OpAddPlant:
		if set.NumPlants >= protocol.MaxPlants {
			return fmt.Errorf("%w: already %d plants", ErrBadEdit, protocol.MaxPlants)
		}
		set.NumPlants++
		p := int(set.NumPlants) - 1
		// a new plant starts skipped on reservoir W1 until calibrated
		set.TargetMoisture[p] = 0
		set.Skip.Set(p, true)
		set.WaterChannelMap.Set(p, false)
	case OpRemovePlant:
		if set.NumPlants == 0 {
			return fmt.Errorf("%w: no plants left", ErrBadEdit)
		}
		set.NumPlants--
	case OpClearFailure:
		set.HardwareFailure = false
	case OpToggleDebug:
		set.Debug = !set.Debug
	default:
		return fmt.Errorf("%w: unknown op %q", ErrBadEdit, e.Op)
	}
	return nil
}

func (e Edit) applyPlant(set *protocol.Settings) error {
	if e.Plant < 1 || e.Plant > int(set.ActivePlants()) {
		return fmt.Errorf("%w: plant %d is not configured", ErrBadEdit, e.Plant)
	}
	p := e.Plant - 1

	switch e.Op {
	case OpPlantMin:
		v, err := rawValue(e.Value)
		if err != nil {
			return err
		}
		set.SensorRanges[p].MinRaw = v
	case OpPlantMax:
		v, err := rawValue(e.Value)
		if err != nil {
			return err
		}
		set.SensorRanges[p].MaxRaw = v
	case OpTargetMoisture:
		v, err := percentValue(e.Value, 100)
		if err != nil {
			return err
		}
		set.TargetMoisture[p] = v
	case OpBurstDuration:
		return byteValue(e.Value, &set.BurstDuration[p])
	case OpBurstDelay:
		return byteValue(e.Value, &set.BurstDelay[p])
	case OpMaxBursts:
		return byteValue(e.Value, &set.MaxBursts[p])
	case OpTicksBetween:
		return byteValue(e.Value, &set.TicksBetweenIrrigation[p])
	case OpToggleWaterSensor:
		set.WaterChannelMap.Toggle(p)
	case OpToggleSkip:
		set.Skip.Toggle(p)
	}
	return nil
}

func (e Edit) applyWater(set *protocol.Settings) error {
	if e.Channel < 1 || e.Channel > protocol.WaterChannels {
		return fmt.Errorf("%w: no water sensor W%d", ErrBadEdit, e.Channel)
	}
	ch := e.Channel - 1
	r := &set.SensorRanges[protocol.MaxPlants+ch]

	switch e.Op {
	case OpWaterMin:
		v, err := rawValue(e.Value)
		if err != nil {
			return err
		}
		r.MinRaw = v
	case OpWaterMax:
		v, err := rawValue(e.Value)
		if err != nil {
			return err
		}
		r.MaxRaw = v
	case OpWaterWarn:
		v, err := percentValue(e.Value, 99)
		if err != nil {
			return err
		}
		set.WaterThresholds[ch].WarnPercent = v
	case OpWaterEmpty:
		v, err := percentValue(e.Value, 99)
		if err != nil {
			return err
		}
		set.WaterThresholds[ch].EmptyPercent = v
	}
	return nil
}

func rawValue(v int) (uint16, error) {
	if v < 0 || v > math.MaxUint16 {
		return 0, fmt.Errorf("%w: raw value %d out of range", ErrBadEdit, v)
	}
	return uint16(v), nil
}

func percentValue(v, limit int) (uint8, error) {
	if v < 0 || v > limit {
		return 0, fmt.Errorf("%w: %d %% outside 0..%d", ErrBadEdit, v, limit)
	}
	return uint8(v), nil
}

func byteValue(v int, dst *uint8) error {
	if v < 0 || v > math.MaxUint8 {
		return fmt.Errorf("%w: value %d outside 0..255", ErrBadEdit, v)
	}
	*dst = uint8(v)
	return nil
}
