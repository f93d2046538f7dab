package managers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chrissnell/drynomore/internal/clock"
	"github.com/chrissnell/drynomore/internal/hardware/modbusio"
	"github.com/chrissnell/drynomore/internal/hardware/serialio"
	"github.com/chrissnell/drynomore/internal/hardware/sim"
	"github.com/chrissnell/drynomore/internal/power"
	"github.com/chrissnell/drynomore/internal/sensor"
	"github.com/chrissnell/drynomore/pkg/config"
)

// Board is an IO backend: the analog inputs and the shift register pins of
// one node.
type Board interface {
	sensor.ADC
	power.Pins
	Close() error
}

type simBoard struct {
	*sim.Board
}

func (simBoard) Close() error { return nil }

// NewBoard creates the backend selected by c. Serial and TCP boards are
// retried until they answer or ctx is cancelled.
func NewBoard(ctx context.Context, c config.IOData, clk clock.Clock, logger *zap.SugaredLogger) (Board, error) {
	switch c.Backend {
	case config.BackendSim:
		logger.Info("using simulated io board")
		return simBoard{sim.NewBoard(sim.DefaultConfig(), clk)}, nil
	case config.BackendSerial, config.BackendTCP:
		cfg := serialio.Config{SerialDevice: c.SerialDevice, Baud: c.Baud}
		if c.Backend == config.BackendTCP {
			cfg = serialio.Config{Address: c.Address}
		}
		client, err := serialio.Connect(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.BackendModbus:
		m, err := modbusio.Dial(modbusio.Config{
			Address:      c.Address,
			SerialDevice: c.SerialDevice,
			Baud:         c.Baud,
			SlaveID:      c.SlaveID,
			Timeout:      c.Timeout,
			CoilBase:     c.CoilBase,
			RegisterBase: c.RegisterBase,
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown io backend %q", c.Backend)
	}
}
