package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/chrissnell/drynomore/internal/clock"
	"github.com/chrissnell/drynomore/internal/devicelink"
	"github.com/chrissnell/drynomore/internal/irrigation"
	"github.com/chrissnell/drynomore/internal/managers"
	"github.com/chrissnell/drynomore/internal/nodestore"
	"github.com/chrissnell/drynomore/internal/power"
	"github.com/chrissnell/drynomore/internal/sensor"
	"github.com/chrissnell/drynomore/pkg/config"
)

// NodeMode selects what RunNode does once the board is up.
type NodeMode int

const (
	// NodeIrrigate runs wake cycles.
	NodeIrrigate NodeMode = iota
	// NodeDumpMoisture prints every active moisture sensor and exits.
	NodeDumpMoisture
	// NodeDumpWater prints every used water level sensor and exits.
	NodeDumpWater
)

// Node is an assembled irrigation node.
type Node struct {
	Engine *irrigation.Engine

	board managers.Board
	state *nodestore.Store
	mux   *power.Multiplexer
	log   *zap.SugaredLogger
}

// NewNode opens the board and the state file and restores the saved state.
func NewNode(ctx context.Context, c *config.NodeData, clk clock.Clock, logger *zap.SugaredLogger) (*Node, error) {
	board, err := managers.NewBoard(ctx, c.IO, clk, logger.Named("board"))
	if err != nil {
		return nil, fmt.Errorf("opening io board: %w", err)
	}

	mux := power.NewMultiplexer(board)
	if err := mux.Init(); err != nil {
		board.Close()
		return nil, fmt.Errorf("initializing power multiplexer: %w", err)
	}

	state, err := nodestore.Open(c.StateDB)
	if err != nil {
		board.Close()
		return nil, err
	}

	powerOnDelay := c.Timing.PowerOnDelay
	if powerOnDelay == 0 {
		powerOnDelay = irrigation.DefaultPowerOnDelay
	}

	link := devicelink.New(devicelink.Config{
		Address:   c.SupervisorAddress(),
		IOTimeout: c.LinkTimeout,
	}, power.LinkSwitch{Mux: mux, Map: power.DefaultMap}, logger.Named("devicelink"))

	sampler := sensor.NewSampler(board, clk, c.Timing.ADCMeasurements, c.Timing.MeasureDelay)
	engine := irrigation.New(irrigation.Config{
		Map:          power.DefaultMap,
		PowerOnDelay: powerOnDelay,
		SleepPeriod:  c.SleepPeriod,
	}, mux, sampler, clk, link, state, logger.Named("irrigation"))

	set, ticks, err := state.Load()
	switch {
	case err == nil:
		engine.Restore(set, ticks)
		logger.Info("restored node state")
	case errors.Is(err, nodestore.ErrNoState):
		logger.Info("no saved node state, starting with defaults")
	default:
		state.Close()
		board.Close()
		return nil, err
	}

	return &Node{
		Engine: engine,
		board:  board,
		state:  state,
		mux:    mux,
		log:    logger,
	}, nil
}

// Run performs the selected mode until ctx is cancelled or, with once set,
// after a single wake cycle.
func (n *Node) Run(ctx context.Context, mode NodeMode, once bool) error {
	switch mode {
	case NodeDumpMoisture:
		_, err := n.Engine.DumpMoisture()
		return err
	case NodeDumpWater:
		_, err := n.Engine.DumpWater()
		return err
	default:
		return n.Engine.Run(ctx, once)
	}
}

// Close switches every output off and releases the board and state file.
func (n *Node) Close() error {
	if err := n.mux.Off(); err != nil {
		n.log.Warnf("switching outputs off: %v", err)
	}
	return errors.Join(n.state.Close(), n.board.Close())
}
