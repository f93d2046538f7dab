// drynomore-emulator serves a simulated irrigation board over TCP so a node
// can be run with the tcp io backend against it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chrissnell/drynomore/internal/clock"
	"github.com/chrissnell/drynomore/internal/hardware/serialio"
	"github.com/chrissnell/drynomore/internal/hardware/sim"
	"github.com/chrissnell/drynomore/internal/log"
	"github.com/chrissnell/drynomore/internal/protocol"
)

func main() {
	listen := flag.String("listen", "127.0.0.1:4242", "Address to serve the simulated board on")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	broken := flag.Int("broken-pump", 0, "Plant (1-6) whose pump runs without moving water, 0 for none")
	dry := flag.Uint("dry", 0, "Initial raw moisture reading of every plant, 0 keeps the default")
	flag.Parse()

	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := sim.DefaultConfig()
	if *broken < 0 || *broken > protocol.MaxPlants {
		log.Errorf("-broken-pump must be between 0 and %d", protocol.MaxPlants)
		os.Exit(1)
	}
	if *broken > 0 {
		cfg.Broken[*broken-1] = true
	}
	if *dry > 0 {
		if *dry > 1023 {
			log.Error("-dry must be a raw reading between 1 and 1023")
			os.Exit(1)
		}
		for i := range cfg.InitialMoisture {
			cfg.InitialMoisture[i] = uint16(*dry)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	board := sim.NewBoard(cfg, clock.Real{})
	if err := serialio.ListenAndServe(ctx, *listen, board, log.Named("emulator")); err != nil {
		log.Errorf("Emulator error: %v", err)
		os.Exit(1)
	}
}
