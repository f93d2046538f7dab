package storage

import (
	"context"
	"sync"
	"time"

	"github.com/chrissnell/drynomore/internal/log"
	"github.com/chrissnell/drynomore/internal/metrics"
	"github.com/chrissnell/drynomore/internal/types"
)

const (
	// DefaultHistoryLimit caps history queries that do not set a limit.
	DefaultHistoryLimit = 100
	// MaxHistoryLimit is the largest limit a query may ask for.
	MaxHistoryLimit = 10 * DefaultHistoryLimit
)

// HealthChecker defines the interface for storage backends to implement health checks
type HealthChecker interface {
	CheckHealth(ctx context.Context) *HealthData
}

// StartHealthMonitor starts a generic health monitoring goroutine for any storage backend
func StartHealthMonitor(ctx context.Context, hm *HealthManager, storageType string, checker HealthChecker, interval time.Duration) {
	go func() {
		updateHealth := func() {
			health := checker.CheckHealth(ctx)
			hm.UpdateHealth(storageType, health)
			log.Debugf("updated %s health status: %s", storageType, health.Status)
		}

		updateHealth()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				updateHealth()
			case <-ctx.Done():
				log.Infof("stopping %s health monitor", storageType)
				return
			}
		}
	}()
}

// ProcessEvents provides a standard pattern for processing events from a
// channel. The caller registers it with wg before starting it.
func ProcessEvents(ctx context.Context, wg *sync.WaitGroup, eventChan <-chan types.Event, processor func(types.Event) error, name string) {
	defer wg.Done()

	for {
		select {
		case e := <-eventChan:
			if err := processor(e); err != nil {
				metrics.HistoryEvents.WithLabelValues(name, "error").Inc()
				log.Errorf("%s event processor error: %v", name, err)
				continue
			}
			metrics.HistoryEvents.WithLabelValues(name, "ok").Inc()
		case <-ctx.Done():
			log.Infof("cancellation request received. Cancelling %s event processor", name)
			return
		}
	}
}

// CreateHealthData creates a basic health data structure
func CreateHealthData(status, message string, err error) *HealthData {
	health := &HealthData{
		LastCheck: time.Now(),
		Status:    status,
		Message:   message,
	}

	if err != nil {
		health.Error = err.Error()
	}

	return health
}

// ClampLimit applies DefaultHistoryLimit to non-positive limits and caps
// the rest at MaxHistoryLimit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
