// Package timescaledb stores node history in TimescaleDB hypertables.
package timescaledb

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/chrissnell/drynomore/internal/database"
	"github.com/chrissnell/drynomore/internal/log"
	"github.com/chrissnell/drynomore/internal/storage"
	"github.com/chrissnell/drynomore/internal/types"
)

// Config holds the connection string of the database.
type Config struct {
	ConnectionString string
}

// Storage holds the configuration for a TimescaleDB storage backend
type Storage struct {
	TimescaleDBConn *gorm.DB
}

// StartStorageEngine creates a goroutine loop to receive events and send
// them off to TimescaleDB
func (t *Storage) StartStorageEngine(ctx context.Context, wg *sync.WaitGroup) chan<- types.Event {
	log.Info("starting TimescaleDB storage engine...")
	eventChan := make(chan types.Event, 10)
	wg.Add(1)
	go storage.ProcessEvents(ctx, wg, eventChan, func(e types.Event) error {
		return t.StoreEvent(ctx, e)
	}, "timescaledb")
	return eventChan
}

// StoreEvent stores an event in TimescaleDB
func (t *Storage) StoreEvent(ctx context.Context, e types.Event) error {
	db := t.TimescaleDBConn.WithContext(ctx)
	switch e.Kind {
	case types.EventAlert:
		a := e.Alert
		if err := db.Table("alerts").Create(&a).Error; err != nil {
			return fmt.Errorf("could not store alert: %w", err)
		}
	case types.EventStatus:
		return db.Transaction(func(tx *gorm.DB) error {
			if plants := e.PlantReadings(); len(plants) > 0 {
				if err := tx.Table("plant_readings").Create(&plants).Error; err != nil {
					return fmt.Errorf("could not store plant readings: %w", err)
				}
			}
			if water := e.WaterReadings(); len(water) > 0 {
				if err := tx.Table("water_readings").Create(&water).Error; err != nil {
					return fmt.Errorf("could not store water readings: %w", err)
				}
			}
			return nil
		})
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}

// PlantHistory implements storage.HistoryReader.
func (t *Storage) PlantHistory(ctx context.Context, plant, limit int) ([]types.PlantReading, error) {
	var out []types.PlantReading
	q := t.TimescaleDBConn.WithContext(ctx).Table("plant_readings")
	if plant > 0 {
		q = q.Where("plant = ?", plant)
	}
	if err := q.Order("time DESC").Order("plant").Limit(storage.ClampLimit(limit)).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("error querying plant history: %w", err)
	}
	return out, nil
}

// Alerts implements storage.HistoryReader.
func (t *Storage) Alerts(ctx context.Context, limit int) ([]types.Alert, error) {
	var out []types.Alert
	err := t.TimescaleDBConn.WithContext(ctx).Table("alerts").
		Order("time DESC").Limit(storage.ClampLimit(limit)).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("error querying alerts: %w", err)
	}
	return out, nil
}

// New sets up a new TimescaleDB storage backend
func New(ctx context.Context, cfg Config) (*Storage, error) {
	var err error
	t := Storage{}

	t.TimescaleDBConn, err = database.CreateConnection(ctx, cfg.ConnectionString)
	if err != nil {
		return nil, err
	}

	steps := []struct {
		name string
		sql  string
	}{
		{"TimescaleDB extension", createExtensionSQL},
		{"plant readings table", createPlantTableSQL},
		{"water readings table", createWaterTableSQL},
		{"alerts table", createAlertTableSQL},
		{"plant readings hypertable", createPlantHypertableSQL},
		{"water readings hypertable", createWaterHypertableSQL},
		{"alerts hypertable", createAlertHypertableSQL},
		{"daily moisture view", createDailyViewSQL},
		{"daily moisture aggregation policy", addDailyPolicySQL},
	}
	for _, s := range steps {
		log.Infof("creating %s...", s.name)
		if err := t.TimescaleDBConn.WithContext(ctx).Exec(s.sql).Error; err != nil {
			log.Warnf("warning: could not create %s", s.name)
			return nil, fmt.Errorf("creating %s: %w", s.name, err)
		}
	}

	return &t, nil
}
