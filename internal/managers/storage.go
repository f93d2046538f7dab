package managers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chrissnell/drynomore/internal/log"
	"github.com/chrissnell/drynomore/internal/storage"
	"github.com/chrissnell/drynomore/internal/storage/influxdb"
	"github.com/chrissnell/drynomore/internal/storage/sqlite"
	"github.com/chrissnell/drynomore/internal/storage/timescaledb"
	"github.com/chrissnell/drynomore/internal/types"
	"github.com/chrissnell/drynomore/pkg/config"
)

const healthInterval = time.Minute

// StorageManager holds our active storage backends
type StorageManager struct {
	Engines          []StorageEngine
	EventDistributor chan types.Event
	Health           *storage.HealthManager

	// History answers queries; it is the first configured engine that can.
	History storage.HistoryReader
}

// StorageEngine holds a backend storage engine's interface as well as
// a channel for passing events to the engine
type StorageEngine struct {
	Name   string
	Engine storage.StorageEngineInterface
	C      chan<- types.Event
}

// NewStorageManager creates a StorageManager object, populated with all configured StorageEngines
func NewStorageManager(ctx context.Context, wg *sync.WaitGroup, c config.StorageData) (*StorageManager, error) {
	s := &StorageManager{
		EventDistributor: make(chan types.Event, 20),
		Health:           storage.NewHealthManager(),
	}

	if c.SQLite != nil && c.SQLite.Path != "" {
		engine, err := sqlite.New(ctx, sqlite.Config{Path: c.SQLite.Path})
		if err != nil {
			return s, fmt.Errorf("could not add SQLite storage backend: %w", err)
		}
		s.AddEngine(ctx, wg, "sqlite", engine)
	}

	if c.TimescaleDB != nil && c.TimescaleDB.ConnectionString != "" {
		engine, err := timescaledb.New(ctx, timescaledb.Config{ConnectionString: c.TimescaleDB.ConnectionString})
		if err != nil {
			return s, fmt.Errorf("could not add TimescaleDB storage backend: %w", err)
		}
		s.AddEngine(ctx, wg, "timescaledb", engine)
	}

	if c.InfluxDB != nil && c.InfluxDB.URL != "" {
		engine, err := influxdb.New(influxdb.Config{
			URL:    c.InfluxDB.URL,
			Token:  c.InfluxDB.Token,
			Org:    c.InfluxDB.Org,
			Bucket: c.InfluxDB.Bucket,
		})
		if err != nil {
			return s, fmt.Errorf("could not add InfluxDB storage backend: %w", err)
		}
		s.AddEngine(ctx, wg, "influxdb", engine)
	}

	// Start our event distributor to distribute listener events to storage
	// backends
	wg.Add(1)
	go s.startEventDistributor(ctx, wg)

	return s, nil
}

// GetEventDistributor returns the event distributor channel
func (s *StorageManager) GetEventDistributor() chan<- types.Event {
	return s.EventDistributor
}

// AddEngine starts engine and adds it to the fan-out. Engines that answer
// history queries or health checks are hooked up to those as well.
func (s *StorageManager) AddEngine(ctx context.Context, wg *sync.WaitGroup, name string, engine storage.StorageEngineInterface) {
	se := StorageEngine{Name: name, Engine: engine}
	se.C = engine.StartStorageEngine(ctx, wg)
	s.Engines = append(s.Engines, se)

	if r, ok := engine.(storage.HistoryReader); ok && s.History == nil {
		s.History = r
	}
	if hc, ok := engine.(storage.HealthChecker); ok {
		storage.StartHealthMonitor(ctx, s.Health, name, hc, healthInterval)
	}
	log.Infof("%s storage engine added", name)
}

// startEventDistributor receives events from the listener and fans them out
// to the various storage backends
func (s *StorageManager) startEventDistributor(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case e := <-s.EventDistributor:
			for _, engine := range s.Engines {
				select {
				case engine.C <- e:
				case <-ctx.Done():
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
