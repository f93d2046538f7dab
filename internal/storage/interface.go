// Package storage defines the history storage engines that keep accepted
// status reports and alerts.
package storage

import (
	"context"
	"sync"

	"github.com/chrissnell/drynomore/internal/types"
)

// StorageEngineInterface is an interface that provides a few standardized
// methods for various storage backends
type StorageEngineInterface interface {
	StartStorageEngine(context.Context, *sync.WaitGroup) chan<- types.Event
}

// HistoryReader is implemented by engines that can answer history queries.
type HistoryReader interface {
	// PlantHistory returns the newest readings of a plant (1-based), newest
	// first. Plant 0 means every plant.
	PlantHistory(ctx context.Context, plant, limit int) ([]types.PlantReading, error)
	// Alerts returns the newest alerts, newest first.
	Alerts(ctx context.Context, limit int) ([]types.Alert, error)
}
