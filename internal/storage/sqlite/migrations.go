// Package sqlite - database migrations
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaVersion is recorded in metadata after a successful init so admin
// tooling can display which layout a database file carries.
const schemaVersion = "3"

// Migration is a single forward-only, idempotent migration. The full list
// runs on every startup; each step must be a no-op when already applied.
type Migration struct {
	Name string
	Func func(ctx context.Context, db *sql.DB) error
}

var migrationsList = []Migration{
	{"dedup_lookup_index", migrateDedupLookupIndex},
	{"idempotency_key_unique", migrateIdempotencyKeyUnique},
	{"schema_version_metadata", migrateSchemaVersionMetadata},
}

func (s *SQLiteStore) runMigrations(ctx context.Context) error {
	for _, m := range migrationsList {
		if err := m.Func(ctx, s.db); err != nil {
			return fmt.Errorf("migration %s: %w", m.Name, err)
		}
	}
	return nil
}

// migrateDedupLookupIndex backs the duplicate-window query: equality on
// (badge, station) plus a range on the serialized timestamp.
func migrateDedupLookupIndex(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_scans_badge_station_time ON scans(badge_id, station_name, scanned_at)`)
	return err
}

// migrateIdempotencyKeyUnique enforces key stability at the storage layer.
// The partial index skips the transient '' value present between the insert
// and the key update inside the same transaction.
func migrateIdempotencyKeyUnique(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_scans_idempotency_key ON scans(idempotency_key) WHERE idempotency_key != ''`)
	return err
}

func migrateSchemaVersionMetadata(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES ('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, schemaVersion)
	return err
}
