// Package influxdb writes node history as InfluxDB points.
package influxdb

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/chrissnell/drynomore/internal/log"
	"github.com/chrissnell/drynomore/internal/protocol"
	"github.com/chrissnell/drynomore/internal/storage"
	"github.com/chrissnell/drynomore/internal/types"
)

// Config holds the InfluxDB v2 connection parameters.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Storage holds the client and blocking write API of an InfluxDB backend
type Storage struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// New sets up a new InfluxDB storage backend
func New(cfg Config) (*Storage, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influxdb config incomplete: url, org and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Storage{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// StartStorageEngine creates a goroutine loop to receive events and write
// them to InfluxDB
func (s *Storage) StartStorageEngine(ctx context.Context, wg *sync.WaitGroup) chan<- types.Event {
	log.Info("starting InfluxDB storage engine...")
	eventChan := make(chan types.Event, 10)
	wg.Add(1)
	go func() {
		storage.ProcessEvents(ctx, wg, eventChan, func(e types.Event) error {
			points := Points(e)
			if len(points) == 0 {
				return nil
			}
			return s.writeAPI.WritePoint(ctx, points...)
		}, "influxdb")
		s.client.Close()
	}()
	return eventChan
}

// Points converts an event into InfluxDB points. Unmeasured values are left
// out of the fields.
func Points(e types.Event) []*write.Point {
	switch e.Kind {
	case types.EventAlert:
		a := e.Alert
		return []*write.Point{influxdb2.NewPoint("alert",
			map[string]string{"node": a.Node, "level": a.Level()},
			map[string]interface{}{"text": a.Text},
			a.Timestamp)}
	case types.EventStatus:
		var points []*write.Point
		for _, p := range e.PlantReadings() {
			fields := map[string]interface{}{"ticks": int(p.TicksSinceIrrigation)}
			addLevel(fields, "before", p.BeforeMoisture, p.BeforeMoistureRaw)
			addLevel(fields, "after", p.AfterMoisture, p.AfterMoistureRaw)
			points = append(points, influxdb2.NewPoint("plant",
				map[string]string{"node": p.Node, "plant": "P" + strconv.Itoa(p.Plant)},
				fields, p.Timestamp))
		}
		for _, w := range e.WaterReadings() {
			fields := map[string]interface{}{}
			addLevel(fields, "before", w.Before, w.BeforeRaw)
			addLevel(fields, "after", w.After, w.AfterRaw)
			if len(fields) == 0 {
				continue
			}
			points = append(points, influxdb2.NewPoint("water",
				map[string]string{"node": w.Node, "channel": "W" + strconv.Itoa(w.Channel)},
				fields, w.Timestamp))
		}
		return points
	}
	return nil
}

func addLevel(fields map[string]interface{}, prefix string, level uint8, raw uint16) {
	if level != protocol.UndefinedLevel {
		fields[prefix+"_percent"] = int(level)
	}
	if raw != protocol.UndefinedRaw {
		fields[prefix+"_raw"] = int(raw)
	}
}

// CheckHealth implements storage.HealthChecker.
func (s *Storage) CheckHealth(ctx context.Context) *storage.HealthData {
	ok, err := s.client.Ping(ctx)
	if err != nil || !ok {
		return storage.CreateHealthData("unhealthy", "InfluxDB ping failed", err)
	}
	return storage.CreateHealthData("healthy", "InfluxDB reachable", nil)
}
