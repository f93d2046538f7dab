package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/chrissnell/drynomore/internal/app"
	"github.com/chrissnell/drynomore/internal/constants"
	"github.com/chrissnell/drynomore/internal/clock"
	"github.com/chrissnell/drynomore/internal/log"
	"github.com/chrissnell/drynomore/pkg/config"
)

func main() {
	cfgFile := flag.String("config", "node.yaml", "Path to the node configuration file")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	once := flag.Bool("once", false, "Run a single wake cycle and exit")
	dumpMoisture := flag.Bool("dump-moisture", false, "Measure every active moisture sensor and exit")
	dumpWater := flag.Bool("dump-water", false, "Measure every used water level sensor and exit")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("drynomore-node %s\n", constants.Version)
		os.Exit(0)
	}

	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	filename, _ := filepath.Abs(*cfgFile)
	cfg, err := config.LoadNodeConfig(filename)
	if err != nil {
		log.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	mode := app.NodeIrrigate
	switch {
	case *dumpMoisture && *dumpWater:
		log.Error("-dump-moisture and -dump-water are mutually exclusive")
		os.Exit(1)
	case *dumpMoisture:
		mode = app.NodeDumpMoisture
	case *dumpWater:
		mode = app.NodeDumpWater
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node, err := app.NewNode(ctx, cfg, clock.Real{}, log.GetSugaredLogger())
	if err != nil {
		log.Errorf("Failed to start node: %v", err)
		os.Exit(1)
	}

	runErr := node.Run(ctx, mode, *once || cfg.Once)
	if err := node.Close(); err != nil {
		log.Errorf("Error closing node: %v", err)
	}
	if runErr != nil {
		log.Errorf("Node error: %v", runErr)
		os.Exit(1)
	}
}
