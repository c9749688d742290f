package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sagarc03/stowfs"

	_ "modernc.org/sqlite" // SQLite driver
)

// DB provides SQLite backed caches and preferences.
type DB struct {
	db     *sql.DB
	tables stowfs.Tables
}

// Connect opens the SQLite database at dsn.
// Tables should be validated before calling Connect.
func Connect(ctx context.Context, dsn string, tables stowfs.Tables) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}

	// A single connection serializes writers and keeps ":memory:" databases
	// alive for the lifetime of the pool.
	db.SetMaxOpenConns(1)

	return New(db, tables), nil
}

// New wraps an already opened database handle.
func New(db *sql.DB, tables stowfs.Tables) *DB {
	return &DB{
		db:     db,
		tables: tables,
	}
}

// Ping verifies the database connection is alive.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Migrate runs database migrations to create required tables.
func (d *DB) Migrate(ctx context.Context) error {
	if err := Migrate(ctx, d.db, d.tables); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Validate checks that the database schema matches expected structure.
func (d *DB) Validate(ctx context.Context) error {
	return ValidateSchema(ctx, d.db, d.tables)
}

// Cache returns the metadata cache of one storage.
func (d *DB) Cache(storageID string) stowfs.Cache {
	return &cache{db: d.db, tableName: d.tables.FileCache, storage: storageID}
}

// Preferences returns the per-user preference store.
func (d *DB) Preferences() stowfs.AssignmentStore {
	return &preferences{db: d.db, tableName: d.tables.Preferences}
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}
