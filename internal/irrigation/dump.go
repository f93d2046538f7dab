package irrigation

import (
	"fmt"

	"github.com/chrissnell/drynomore/internal/protocol"
	"github.com/chrissnell/drynomore/internal/sensor"
)

// Reading is one calibration measurement taken in a setup mode.
type Reading struct {
	// Index is the plant for moisture readings, the reservoir for water readings.
	Index int
	Level sensor.Level
}

// DumpMoisture powers each active moisture sensor in turn and measures it.
// Nothing is irrigated.
func (e *Engine) DumpMoisture() ([]Reading, error) {
	var out []Reading
	for i := 0; i < int(e.settings.ActivePlants()); i++ {
		lvl, err := e.measureAlone(e.cfg.Map.MoistureSensor(i), sensor.MoistureChannel(i), e.settings.MoistureRange(i))
		if err != nil {
			return out, fmt.Errorf("measuring moisture of plant %d: %w", i+1, err)
		}
		e.log.Infow("moisture", "plant", i+1, "raw", lvl.Raw, "percent", lvl.Percent)
		out = append(out, Reading{Index: i, Level: lvl})
	}
	return out, nil
}

// DumpWater measures every reservoir used by an active plant.
func (e *Engine) DumpWater() ([]Reading, error) {
	var out []Reading
	for ch := 0; ch < int(e.settings.UsedWaterChannels()); ch++ {
		lvl, err := e.measureAlone(e.cfg.Map.WaterSensor(ch), sensor.WaterChannel(ch), e.settings.WaterRange(ch))
		if err != nil {
			return out, fmt.Errorf("measuring water level %d: %w", ch+1, err)
		}
		e.log.Infow("water level", "sensor", ch+1, "raw", lvl.Raw, "percent", lvl.Percent)
		out = append(out, Reading{Index: ch, Level: lvl})
	}
	return out, nil
}

func (e *Engine) measureAlone(mask uint16, channel int, r protocol.SensorRange) (sensor.Level, error) {
	if err := e.mux.SetImage(mask); err != nil {
		return sensor.Level{}, err
	}
	defer func() {
		if err := e.mux.Off(); err != nil {
			e.log.Errorf("switching sensor off: %v", err)
		}
	}()
	e.clock.Sleep(e.cfg.PowerOnDelay)
	return e.sampler.Measure(channel, r)
}
