package config

import (
	"fmt"

	"github.com/chrissnell/drynomore/internal/protocol"
)

// SettingsYAML is the on-disk form of the mirrored node settings. Per-plant
// values are lists indexed by plant and the two bitmaps are lists of flags.
type SettingsYAML struct {
	SensConf                   []protocol.SensorRange          `yaml:"sensConf"`
	WaterLvlThres              []protocol.WaterLevelThresholds `yaml:"waterLvlThres"`
	TargetMoisture             []uint8                         `yaml:"targetMoisture"`
	BurstDuration              []uint8                         `yaml:"burstDuration"`
	BurstDelay                 []uint8                         `yaml:"burstDelay"`
	MaxBursts                  []uint8                         `yaml:"maxBursts"`
	TicksBetweenIrrigation     []uint8                         `yaml:"ticksBetweenIrrigation"`
	MoistSensToWaterSensBitmap []bool                          `yaml:"moistSensToWaterSensBitmap"`
	SkipBitmap                 []bool                          `yaml:"skipBitmap"`
	NumPlants                  uint8                           `yaml:"numPlants"`
	HardwareFailure            bool                            `yaml:"hardwareFailure"`
	Debug                      bool                            `yaml:"debug"`
}

// EncodeSettings converts settings into their YAML form.
func EncodeSettings(s protocol.Settings) SettingsYAML {
	return SettingsYAML{
		SensConf:                   append([]protocol.SensorRange(nil), s.SensorRanges[:]...),
		WaterLvlThres:              append([]protocol.WaterLevelThresholds(nil), s.WaterThresholds[:]...),
		TargetMoisture:             append([]uint8(nil), s.TargetMoisture[:]...),
		BurstDuration:              append([]uint8(nil), s.BurstDuration[:]...),
		BurstDelay:                 append([]uint8(nil), s.BurstDelay[:]...),
		MaxBursts:                  append([]uint8(nil), s.MaxBursts[:]...),
		TicksBetweenIrrigation:     append([]uint8(nil), s.TicksBetweenIrrigation[:]...),
		MoistSensToWaterSensBitmap: s.WaterChannelMap.Bools(),
		SkipBitmap:                 s.Skip.Bools(),
		NumPlants:                  s.NumPlants,
		HardwareFailure:            s.HardwareFailure,
		Debug:                      s.Debug,
	}
}

// Decode converts the YAML form back into settings. Every list must have
// exactly one entry per sensor, threshold or plant.
func (y SettingsYAML) Decode() (protocol.Settings, error) {
	var s protocol.Settings

	if len(y.SensConf) != protocol.SensorRangeCount {
		return s, fmt.Errorf("sensConf has %d entries, expected %d", len(y.SensConf), protocol.SensorRangeCount)
	}
	copy(s.SensorRanges[:], y.SensConf)

	if len(y.WaterLvlThres) != protocol.WaterChannels {
		return s, fmt.Errorf("waterLvlThres has %d entries, expected %d", len(y.WaterLvlThres), protocol.WaterChannels)
	}
	copy(s.WaterThresholds[:], y.WaterLvlThres)

	perPlant := []struct {
		name string
		src  []uint8
		dst  *[protocol.MaxPlants]uint8
	}{
		{"targetMoisture", y.TargetMoisture, &s.TargetMoisture},
		{"burstDuration", y.BurstDuration, &s.BurstDuration},
		{"burstDelay", y.BurstDelay, &s.BurstDelay},
		{"maxBursts", y.MaxBursts, &s.MaxBursts},
		{"ticksBetweenIrrigation", y.TicksBetweenIrrigation, &s.TicksBetweenIrrigation},
	}
	for _, f := range perPlant {
		if len(f.src) != protocol.MaxPlants {
			return s, fmt.Errorf("%s has %d entries, expected %d", f.name, len(f.src), protocol.MaxPlants)
		}
		copy(f.dst[:], f.src)
	}

	if len(y.MoistSensToWaterSensBitmap) != protocol.MaxPlants {
		return s, fmt.Errorf("moistSensToWaterSensBitmap has %d entries, expected %d",
			len(y.MoistSensToWaterSensBitmap), protocol.MaxPlants)
	}
	if len(y.SkipBitmap) != protocol.MaxPlants {
		return s, fmt.Errorf("skipBitmap has %d entries, expected %d", len(y.SkipBitmap), protocol.MaxPlants)
	}
	s.WaterChannelMap = protocol.PlantSetFromBools(y.MoistSensToWaterSensBitmap)
	s.Skip = protocol.PlantSetFromBools(y.SkipBitmap)

	s.NumPlants = y.NumPlants
	s.HardwareFailure = y.HardwareFailure
	s.Debug = y.Debug
	return s, nil
}
