// Package sqlite is a file-backed history engine for installations without
// a database server.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chrissnell/drynomore/internal/log"
	"github.com/chrissnell/drynomore/internal/protocol"
	"github.com/chrissnell/drynomore/internal/storage"
	"github.com/chrissnell/drynomore/internal/types"
	"github.com/chrissnell/drynomore/pkg/migrate"
)

// migrations is the history schema. Append new versions, never edit
// released ones.
var migrations = []migrate.Migration{
	{
		Version: 1,
		Name:    "create_history",
		Up: `
CREATE TABLE plant_readings (
    time INTEGER NOT NULL,
    node TEXT NOT NULL,
    plant INTEGER NOT NULL,
    ticks INTEGER NOT NULL,
    before_moisture INTEGER NOT NULL,
    after_moisture INTEGER NOT NULL,
    before_moisture_raw INTEGER NOT NULL,
    after_moisture_raw INTEGER NOT NULL
);
CREATE INDEX plant_readings_plant_time ON plant_readings (plant, time);

CREATE TABLE water_readings (
    time INTEGER NOT NULL,
    node TEXT NOT NULL,
    channel INTEGER NOT NULL,
    before_level INTEGER NOT NULL,
    after_level INTEGER NOT NULL,
    before_raw INTEGER NOT NULL,
    after_raw INTEGER NOT NULL
);

CREATE TABLE alerts (
    time INTEGER NOT NULL,
    node TEXT NOT NULL,
    tag INTEGER NOT NULL,
    text TEXT NOT NULL
);
CREATE INDEX alerts_time ON alerts (time);
`,
		Down: `
DROP TABLE alerts;
DROP TABLE water_readings;
DROP TABLE plant_readings;
`,
	},
	{
		Version: 2,
		Name:    "index_water_readings",
		Up:      `CREATE INDEX water_readings_channel_time ON water_readings (channel, time);`,
		Down:    `DROP INDEX water_readings_channel_time;`,
	},
}

// Config locates the database file.
type Config struct {
	Path string
}

// Storage holds the history database
type Storage struct {
	db *sql.DB
}

// New opens the database and creates the schema.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite history engine needs a path")
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// a single writer avoids SQLITE_BUSY between the engine and readers
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}
	m := migrate.NewMigrator(db, migrate.NewListProvider(migrate.DialectSQLite, "", migrations...),
		func(mg migrate.Migration, up bool) {
			log.Infof("applied history migration %d (%s)", mg.Version, mg.Name)
		})
	if err := m.MigrateUp(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating history schema: %w", err)
	}
	log.Infof("SQLite history database ready at %v", cfg.Path)
	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// StartStorageEngine creates a goroutine loop to receive events and write
// them to the database
func (s *Storage) StartStorageEngine(ctx context.Context, wg *sync.WaitGroup) chan<- types.Event {
	log.Info("starting SQLite storage engine...")
	eventChan := make(chan types.Event, 10)
	wg.Add(1)
	go storage.ProcessEvents(ctx, wg, eventChan, func(e types.Event) error {
		return s.StoreEvent(ctx, e)
	}, "sqlite")
	return eventChan
}

// StoreEvent writes one event in a transaction.
func (s *Storage) StoreEvent(ctx context.Context, e types.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	switch e.Kind {
	case types.EventAlert:
		a := e.Alert
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO alerts (time, node, tag, text) VALUES (?, ?, ?, ?)`,
			a.Timestamp.UnixMilli(), a.Node, int(a.Tag), a.Text); err != nil {
			return fmt.Errorf("storing alert: %w", err)
		}
	case types.EventStatus:
		for _, p := range e.PlantReadings() {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO plant_readings (time, node, plant, ticks, before_moisture, after_moisture,
				 before_moisture_raw, after_moisture_raw) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				p.Timestamp.UnixMilli(), p.Node, p.Plant, p.TicksSinceIrrigation,
				p.BeforeMoisture, p.AfterMoisture, p.BeforeMoistureRaw, p.AfterMoistureRaw); err != nil {
				return fmt.Errorf("storing plant reading: %w", err)
			}
		}
		for _, w := range e.WaterReadings() {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO water_readings (time, node, channel, before_level, after_level, before_raw, after_raw)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				w.Timestamp.UnixMilli(), w.Node, w.Channel, w.Before, w.After, w.BeforeRaw, w.AfterRaw); err != nil {
				return fmt.Errorf("storing water reading: %w", err)
			}
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return tx.Commit()
}

// PlantHistory implements storage.HistoryReader.
func (s *Storage) PlantHistory(ctx context.Context, plant, limit int) ([]types.PlantReading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT time, node, plant, ticks, before_moisture, after_moisture, before_moisture_raw, after_moisture_raw
		FROM plant_readings
		WHERE ? = 0 OR plant = ?
		ORDER BY time DESC, plant
		LIMIT ?`, plant, plant, storage.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query plant history: %w", err)
	}
	defer rows.Close()

	var out []types.PlantReading
	for rows.Next() {
		var p types.PlantReading
		var ms int64
		if err := rows.Scan(&ms, &p.Node, &p.Plant, &p.TicksSinceIrrigation, &p.BeforeMoisture,
			&p.AfterMoisture, &p.BeforeMoistureRaw, &p.AfterMoistureRaw); err != nil {
			return nil, fmt.Errorf("failed to scan plant reading: %w", err)
		}
		p.Timestamp = time.UnixMilli(ms)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Alerts implements storage.HistoryReader.
func (s *Storage) Alerts(ctx context.Context, limit int) ([]types.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT time, node, tag, text FROM alerts ORDER BY time DESC LIMIT ?`, storage.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var out []types.Alert
	for rows.Next() {
		var a types.Alert
		var ms int64
		var tag int
		if err := rows.Scan(&ms, &a.Node, &tag, &a.Text); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Timestamp = time.UnixMilli(ms)
		a.Tag = protocol.Tag(tag)
		out = append(out, a)
	}
	return out, rows.Err()
}

// CheckHealth implements storage.HealthChecker.
func (s *Storage) CheckHealth(ctx context.Context) *storage.HealthData {
	if err := s.db.PingContext(ctx); err != nil {
		return storage.CreateHealthData("unhealthy", "SQLite ping failed", err)
	}
	return storage.CreateHealthData("healthy", "SQLite operational", nil)
}
