package timescaledb

import (
	"context"

	"github.com/chrissnell/drynomore/internal/storage"
)

// CheckHealth implements storage.HealthChecker.
func (t *Storage) CheckHealth(ctx context.Context) *storage.HealthData {
	if t.TimescaleDBConn == nil {
		return storage.CreateHealthData("unhealthy", "No database connection", nil)
	}

	sqlDB, err := t.TimescaleDBConn.DB()
	if err != nil {
		return storage.CreateHealthData("unhealthy", "Failed to get underlying database connection", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return storage.CreateHealthData("unhealthy", "Database ping failed", err)
	}

	var result int
	if err := t.TimescaleDBConn.WithContext(ctx).Raw("SELECT 1").Scan(&result).Error; err != nil {
		return storage.CreateHealthData("unhealthy", "Database query test failed", err)
	}
	return storage.CreateHealthData("healthy", "TimescaleDB operational - ping: OK, query test: OK", nil)
}
