package migrate

import (
	"context"
	"fmt"
)

// Dialects understood by ListProvider
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// ListProvider serves migrations compiled into the program
type ListProvider struct {
	migrations     []Migration
	migrationTable string
	dialect        string
}

// NewListProvider creates a provider for migrations. An empty table name
// selects schema_migrations.
func NewListProvider(dialect, migrationTable string, migrations ...Migration) *ListProvider {
	if migrationTable == "" {
		migrationTable = "schema_migrations"
	}
	return &ListProvider{
		migrations:     migrations,
		migrationTable: migrationTable,
		dialect:        dialect,
	}
}

func (lp *ListProvider) GetMigrations() ([]Migration, error) {
	seen := make(map[int]string, len(lp.migrations))
	for _, m := range lp.migrations {
		if m.Version <= 0 {
			return nil, fmt.Errorf("migration %q has non-positive version %d", m.Name, m.Version)
		}
		if prev, ok := seen[m.Version]; ok {
			return nil, fmt.Errorf("migrations %q and %q share version %d", prev, m.Name, m.Version)
		}
		seen[m.Version] = m.Name
	}
	return lp.migrations, nil
}

// CreateMigrationTable creates the migration tracking table
func (lp *ListProvider) CreateMigrationTable(ctx context.Context, db DB) error {
	stamp := "DATETIME"
	if lp.dialect == DialectPostgres {
		stamp = "TIMESTAMP"
	}
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			applied_at %s DEFAULT CURRENT_TIMESTAMP
		)`, lp.migrationTable, stamp)
	_, err := db.ExecContext(ctx, query)
	return err
}

// GetCurrentVersion returns the highest applied migration version
func (lp *ListProvider) GetCurrentVersion(ctx context.Context, db DB) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT COALESCE(MAX(version), 0) FROM %s", lp.migrationTable)).Scan(&version)
	return version, err
}

// SetVersion records version as the applied one
func (lp *ListProvider) SetVersion(ctx context.Context, db DB, version int) error {
	placeholder := "?"
	if lp.dialect == DialectPostgres {
		placeholder = "$1"
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE version > %s", lp.migrationTable, placeholder), version); err != nil {
		return fmt.Errorf("failed to set version: %w", err)
	}
	if version == 0 {
		return nil
	}

	query := fmt.Sprintf(`INSERT OR REPLACE INTO %s (version, applied_at) VALUES (?, CURRENT_TIMESTAMP)`, lp.migrationTable)
	if lp.dialect == DialectPostgres {
		query = fmt.Sprintf(`INSERT INTO %s (version, applied_at) VALUES ($1, CURRENT_TIMESTAMP)
			ON CONFLICT (version) DO UPDATE SET applied_at = CURRENT_TIMESTAMP`, lp.migrationTable)
	}
	if _, err := db.ExecContext(ctx, query, version); err != nil {
		return fmt.Errorf("failed to set version: %w", err)
	}
	return nil
}
