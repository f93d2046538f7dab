// Package irrigation runs the wake cycle of a node: settings sync, the
// per-plant burst irrigation state machine, tick bookkeeping, reporting and
// the sleep budget.
package irrigation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chrissnell/drynomore/internal/clock"
	"github.com/chrissnell/drynomore/internal/log"
	"github.com/chrissnell/drynomore/internal/power"
	"github.com/chrissnell/drynomore/internal/protocol"
	"github.com/chrissnell/drynomore/internal/sensor"
)

const (
	DefaultPowerOnDelay = 500 * time.Millisecond
	DefaultBurstPoll    = 200 * time.Millisecond
	DefaultSleepPeriod  = 6 * time.Hour
)

// Uplink is the node's connection to its supervisor.
type Uplink interface {
	// SyncSettings returns the authoritative settings. When the supervisor
	// has none yet, local is uploaded and returned.
	SyncSettings(ctx context.Context, local protocol.Settings) (protocol.Settings, error)
	// Report sends alerts followed by the status over one exchange.
	Report(ctx context.Context, msgs []protocol.Message, status protocol.Status) error
	// Alert sends a single message immediately.
	Alert(ctx context.Context, msg protocol.Message) error
}

// StateStore persists what a node must remember across restarts.
type StateStore interface {
	SaveState(settings protocol.Settings, ticks [protocol.MaxPlants]uint8) error
}

// Config holds the engine timing and wiring.
type Config struct {
	Map          power.Map
	PowerOnDelay time.Duration
	BurstPoll    time.Duration
	SleepPeriod  time.Duration
}

func (c *Config) applyDefaults() {
	if c.PowerOnDelay < 0 {
		c.PowerOnDelay = 0
	}
	if c.BurstPoll <= 0 {
		c.BurstPoll = DefaultBurstPoll
	}
	if c.SleepPeriod <= 0 {
		c.SleepPeriod = DefaultSleepPeriod
	}
}

// Engine owns the node's working Settings and Status.
type Engine struct {
	cfg     Config
	mux     *power.Multiplexer
	sampler *sensor.Sampler
	clock   clock.Clock
	uplink  Uplink
	state   StateStore
	log     *zap.SugaredLogger

	settings protocol.Settings
	status   protocol.Status

	// unsent holds a FAILURE alert the supervisor has not acknowledged.
	unsent *protocol.Message
}

// New creates an engine holding default settings and a fresh status. state
// and logger may be nil.
func New(cfg Config, mux *power.Multiplexer, sampler *sensor.Sampler, clk clock.Clock,
	uplink Uplink, state StateStore, logger *zap.SugaredLogger) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.Named("irrigation")
	}
	return &Engine{
		cfg:      cfg,
		mux:      mux,
		sampler:  sampler,
		clock:    clk,
		uplink:   uplink,
		state:    state,
		log:      logger,
		settings: protocol.DefaultSettings(),
		status:   protocol.NewStatus(),
	}
}

// Restore replaces the working settings and tick counters, typically with
// what the state store held at boot.
func (e *Engine) Restore(s protocol.Settings, ticks [protocol.MaxPlants]uint8) {
	e.settings = s
	e.status.TicksSinceIrrigation = ticks
}

func (e *Engine) Settings() protocol.Settings { return e.settings }
func (e *Engine) Status() protocol.Status     { return e.status }

// CycleResult summarises one wake cycle.
type CycleResult struct {
	Plants   []PlantResult
	Code     uint8
	Consumed time.Duration
	Changed  bool
	Failure  bool
	// SkippedForFailure is set when a pending hardware failure suppressed
	// irrigation altogether.
	SkippedForFailure bool
	Reported          bool
	Messages          []protocol.Message
}

// RunCycle performs one wake cycle. Transport errors are logged and do not
// fail the cycle; hardware IO errors abort it.
func (e *Engine) RunCycle(ctx context.Context) (CycleResult, error) {
	var res CycleResult

	if e.resendFailure(ctx) {
		e.syncSettings(ctx)
	}

	if e.settings.HardwareFailure {
		e.log.Warn("hardware failure pending, irrigation suppressed until cleared")
		e.tick(0)
		e.persist()
		res.SkippedForFailure = true
		return res, nil
	}

	e.status.ResetLevels()
	e.status.NumPlants = e.settings.ActivePlants()
	e.status.NumWaterSensors = e.settings.UsedWaterChannels()

	if err := e.mux.SetImage(0); err != nil {
		return res, fmt.Errorf("resetting power image: %w", err)
	}

	var irrigated protocol.PlantSet
	for i := 0; i < int(e.settings.ActivePlants()) && !e.settings.HardwareFailure; i++ {
		if e.status.TicksSinceIrrigation[i] < e.settings.TicksBetweenIrrigation[i] || e.settings.Skip.Has(i) {
			continue
		}
		res.Changed = true
		irrigated.Set(i, true)

		pr, err := e.IrrigatePlant(i)
		res.Plants = append(res.Plants, pr)
		res.Consumed += pr.Consumed
		if err != nil {
			e.tick(irrigated)
			e.persist()
			return res, fmt.Errorf("irrigating plant %d: %w", i+1, err)
		}
		res.Code |= pr.Code
		e.log.Infow("plant checked",
			"plant", i+1,
			"before", pr.BeforeMoisture.Percent,
			"after", pr.AfterMoisture.Percent,
			"bursts", pr.Bursts,
			"pump_time", pr.PumpTime,
			"state", pr.State.String())

		if pr.Failure {
			res.Failure = true
			msg := protocol.HardwareFailureMessage(i)
			if err := e.uplink.Alert(ctx, msg); err != nil {
				e.log.Errorf("sending hardware failure alert: %v", err)
				e.unsent = &msg
			}
		}
	}

	if err := e.mux.Off(); err != nil {
		e.log.Errorf("switching outputs off: %v", err)
	}
	if err := e.mux.DisableOutputs(); err != nil {
		e.log.Errorf("disabling outputs: %v", err)
	}

	e.tick(irrigated)
	e.persist()

	if res.Changed || e.settings.Debug || res.Failure {
		res.Messages = WaterMessages(res.Code)
		if err := e.uplink.Report(ctx, res.Messages, e.status); err != nil {
			e.log.Errorf("reporting status: %v", err)
		} else {
			res.Reported = true
		}
	}
	return res, nil
}

// WaterMessages turns a result code into one alert per affected channel: an
// error when empty, otherwise a warning when low.
func WaterMessages(code uint8) []protocol.Message {
	var msgs []protocol.Message
	for ch := 0; ch < protocol.WaterChannels; ch++ {
		c := ChannelCode(code, ch)
		switch {
		case c&WaterEmpty != 0:
			msgs = append(msgs, protocol.WaterEmptyMessage(ch))
		case c&WaterWarn != 0:
			msgs = append(msgs, protocol.WaterLowMessage(ch))
		}
	}
	return msgs
}

// Run repeats wake cycles, sleeping what is left of the period after each
// one, until ctx is cancelled. With once set it returns after the first
// cycle.
func (e *Engine) Run(ctx context.Context, once bool) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		res, err := e.RunCycle(ctx)
		if err != nil {
			e.log.Errorf("wake cycle failed: %v", err)
		}
		if once {
			return err
		}

		wait := e.cfg.SleepPeriod - res.Consumed
		if wait < 0 {
			wait = 0
		}
		e.log.Debugf("sleeping %v", wait)

		select {
		case <-ctx.Done():
			return nil
		case <-e.clock.After(wait):
		}
	}
}

// resendFailure retries an undelivered FAILURE alert while the local failure
// flag is still set. Until the supervisor has it, syncing would replace the
// flag with the supervisor's stale copy, so it reports whether to sync.
func (e *Engine) resendFailure(ctx context.Context) bool {
	if e.unsent == nil {
		return true
	}
	if !e.settings.HardwareFailure {
		e.unsent = nil
		return true
	}
	if err := e.uplink.Alert(ctx, *e.unsent); err != nil {
		e.log.Errorf("resending hardware failure alert, keeping local settings: %v", err)
		return false
	}
	e.unsent = nil
	return true
}

func (e *Engine) syncSettings(ctx context.Context) {
	s, err := e.uplink.SyncSettings(ctx, e.settings)
	if err != nil {
		e.log.Errorf("synchronizing settings: %v", err)
		return
	}
	if err := s.Validate(); err != nil {
		e.log.Errorf("rejecting settings from supervisor: %v", err)
		return
	}
	e.settings = s
}

// tick advances every tick counter. Counters of plants irrigated this cycle
// restart at zero, the others saturate.
func (e *Engine) tick(irrigated protocol.PlantSet) {
	for i := range e.status.TicksSinceIrrigation {
		switch {
		case irrigated.Has(i):
			e.status.TicksSinceIrrigation[i] = 0
		case e.status.TicksSinceIrrigation[i] < 255:
			e.status.TicksSinceIrrigation[i]++
		}
	}
}

func (e *Engine) persist() {
	if e.state == nil {
		return
	}
	if err := e.state.SaveState(e.settings, e.status.TicksSinceIrrigation); err != nil {
		e.log.Errorf("persisting node state: %v", err)
	}
}
