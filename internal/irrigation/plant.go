package irrigation

import (
	"fmt"
	"time"

	"github.com/chrissnell/drynomore/internal/protocol"
	"github.com/chrissnell/drynomore/internal/sensor"
)

// State is a step of the per-plant irrigation state machine.
type State int

const (
	StateIdle State = iota
	StateMeasuring
	StateBurstActive
	StateBurstCooldown
	StateDone
	StateHardwareFailure
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMeasuring:
		return "measuring"
	case StateBurstActive:
		return "burst-active"
	case StateBurstCooldown:
		return "burst-cooldown"
	case StateDone:
		return "done"
	case StateHardwareFailure:
		return "hardware-failure"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Water result bits of one channel, shifted left by 2*channel in a result
// code.
const (
	WaterWarn  uint8 = 0x01
	WaterEmpty uint8 = 0x02
)

// PlantResult describes one run of the state machine for a plant.
type PlantResult struct {
	Plant          int
	WaterChannel   int
	BeforeMoisture sensor.Level
	AfterMoisture  sensor.Level
	BeforeWater    sensor.Level
	AfterWater     sensor.Level
	Bursts         int
	PumpTime       time.Duration
	Consumed       time.Duration
	Satisfied      bool
	HasWaterLeft   bool
	Failure        bool
	// Code holds the water result bits for WaterChannel, already shifted.
	Code  uint8
	State State
}

// WaterCode packs the water result bits of a channel into a result code.
func WaterCode(level uint8, t protocol.WaterLevelThresholds, channel int) uint8 {
	var code uint8
	if level <= t.WarnPercent {
		code |= WaterWarn
	}
	if level <= t.EmptyPercent {
		code |= WaterEmpty
	}
	return code << (2 * uint(channel))
}

// ChannelCode extracts the water result bits of channel from a result code.
func ChannelCode(code uint8, channel int) uint8 {
	return (code >> (2 * uint(channel))) & 0x03
}

// IrrigatePlant runs the burst state machine for one plant and records its
// measurements in the cycle status. A hardware failure sets the failure flag
// in the engine settings; the caller decides how to report it.
func (e *Engine) IrrigatePlant(plant int) (PlantResult, error) {
	s := &e.settings
	ch := s.WaterChannel(plant)
	res := PlantResult{Plant: plant, WaterChannel: ch, HasWaterLeft: true, State: StateIdle}

	moistRange := s.MoistureRange(plant)
	waterRange := s.WaterRange(ch)
	target := s.TargetMoisture[plant]
	thresholds := s.WaterThresholds[ch]
	burst := time.Duration(s.BurstDuration[plant]) * time.Second
	delay := time.Duration(s.BurstDelay[plant]) * time.Second
	maxBursts := int(s.MaxBursts[plant])

	sensors := e.cfg.Map.Sensors(plant, ch)
	pump := e.cfg.Map.Pump(plant)

	// every exit path switches the plant off
	defer func() {
		if err := e.mux.Off(); err != nil {
			e.log.Errorf("switching off plant %d: %v", plant+1, err)
		}
	}()

	res.State = StateMeasuring
	if err := e.mux.SetImage(sensors); err != nil {
		return res, fmt.Errorf("powering sensors of plant %d: %w", plant+1, err)
	}
	e.clock.Sleep(e.cfg.PowerOnDelay)

	water, err := e.sampler.Measure(sensor.WaterChannel(ch), waterRange)
	if err != nil {
		return res, err
	}
	res.BeforeWater = water
	res.HasWaterLeft = water.Percent > thresholds.EmptyPercent

	moist, err := e.sampler.Measure(sensor.MoistureChannel(plant), moistRange)
	if err != nil {
		return res, err
	}
	res.BeforeMoisture = moist

	for res.HasWaterLeft && res.Bursts < maxBursts {
		if moist.Percent >= target {
			res.Satisfied = true
			break
		}

		res.Bursts++
		res.State = StateBurstActive
		pumpTime, lastWater, hasWater, err := e.runBurst(burstPlan{
			channel:    ch,
			sensors:    sensors,
			pump:       pump,
			duration:   burst,
			waterRange: waterRange,
			thresholds: thresholds,
		})
		res.PumpTime += pumpTime
		res.Consumed += pumpTime
		if err != nil {
			return res, err
		}
		water = lastWater
		res.HasWaterLeft = hasWater
		if !hasWater {
			// reservoir empty: no cooldown, no further sampling
			break
		}

		res.State = StateBurstCooldown
		if delay > 0 {
			res.Consumed += delay
			e.clock.Sleep(delay)
		}

		if moist, err = e.sampler.Measure(sensor.MoistureChannel(plant), moistRange); err != nil {
			return res, err
		}
	}
	if moist.Percent >= target {
		res.Satisfied = true
	}

	res.AfterMoisture = moist
	res.AfterWater = water
	res.Code = WaterCode(water.Percent, thresholds, ch)
	e.record(res)

	if res.Bursts > 0 && !res.Satisfied && res.HasWaterLeft {
		res.Failure = true
		res.State = StateHardwareFailure
		s.HardwareFailure = true
		e.log.Errorf("plant %d still at %d%% after %d bursts with water left, assuming hardware failure",
			plant+1, moist.Percent, res.Bursts)
		return res, nil
	}

	res.State = StateDone
	return res, nil
}

type burstPlan struct {
	channel    int
	sensors    uint16
	pump       uint16
	duration   time.Duration
	waterRange protocol.SensorRange
	thresholds protocol.WaterLevelThresholds
}

// runBurst keeps the pump of a plant running for at most the planned
// duration, watching the reservoir. It returns the time the pump was on, the
// last water level seen and whether water was left when the burst ended.
// Sensors stay powered.
func (e *Engine) runBurst(p burstPlan) (time.Duration, sensor.Level, bool, error) {
	var (
		pumpOn  bool
		started time.Time
		water   sensor.Level
	)

	stop := func() (time.Duration, error) {
		if !pumpOn {
			return 0, nil
		}
		on := e.clock.Now().Sub(started)
		if err := e.mux.SetImage(p.sensors); err != nil {
			return on, fmt.Errorf("stopping pump: %w", err)
		}
		return on, nil
	}

	for {
		if pumpOn {
			remaining := p.duration - e.clock.Now().Sub(started)
			if remaining <= 0 {
				on, err := stop()
				return on, water, true, err
			}
			// never let a sample run the pump past its budget
			if remaining <= e.sampler.Duration() {
				e.clock.Sleep(remaining)
				on, err := stop()
				return on, water, true, err
			}
		}

		var err error
		water, err = e.sampler.Measure(sensor.WaterChannel(p.channel), p.waterRange)
		if err != nil {
			on, _ := stop()
			return on, water, true, err
		}
		if water.Percent <= p.thresholds.EmptyPercent {
			on, err := stop()
			return on, water, false, err
		}

		if !pumpOn {
			if err := e.mux.SetImage(p.sensors | p.pump); err != nil {
				return 0, water, true, fmt.Errorf("starting pump: %w", err)
			}
			pumpOn = true
			started = e.clock.Now()
			if p.duration <= 0 {
				on, err := stop()
				return on, water, true, err
			}
		}

		remaining := p.duration - e.clock.Now().Sub(started)
		e.clock.Sleep(min(e.cfg.BurstPoll, remaining))
	}
}

// record copies a plant result into the cycle status. Only the first water
// reading of a channel in a cycle counts as "before".
func (e *Engine) record(r PlantResult) {
	st := &e.status
	if st.BeforeMoisture[r.Plant] == protocol.UndefinedLevel {
		st.BeforeMoisture[r.Plant] = r.BeforeMoisture.Percent
		st.BeforeMoistureRaw[r.Plant] = r.BeforeMoisture.Raw
	}
	st.AfterMoisture[r.Plant] = r.AfterMoisture.Percent
	st.AfterMoistureRaw[r.Plant] = r.AfterMoisture.Raw

	ch := r.WaterChannel
	if st.BeforeWater[ch] == protocol.UndefinedLevel {
		st.BeforeWater[ch] = r.BeforeWater.Percent
		st.BeforeWaterRaw[ch] = r.BeforeWater.Raw
	}
	st.AfterWater[ch] = r.AfterWater.Percent
	st.AfterWaterRaw[ch] = r.AfterWater.Raw
}
