package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sagarc03/stowfs"
)

// quoteIdentifier safely quotes a SQLite identifier
func quoteIdentifier(name string) string {
	return `"` + name + `"`
}

type TableMigration struct {
	TableName string
	Up        func(ctx context.Context, db *sql.DB) error
	Down      func(ctx context.Context, db *sql.DB) error
}

// getTableMigrations returns all table migrations for the app
func getTableMigrations(tables stowfs.Tables) []TableMigration {
	return []TableMigration{
		{
			TableName: tables.FileCache,
			Up:        createFileCacheTable(tables.FileCache),
			Down:      dropTable(tables.FileCache),
		},
		{
			TableName: tables.Preferences,
			Up:        createPreferencesTable(tables.Preferences),
			Down:      dropTable(tables.Preferences),
		},
	}
}

func Migrate(ctx context.Context, db *sql.DB, tables stowfs.Tables) error {
	migrations := getTableMigrations(tables)

	for _, migration := range migrations {
		if err := migration.Up(ctx, db); err != nil {
			return fmt.Errorf("migrate up %s: %w", migration.TableName, err)
		}
	}

	return nil
}

func DropTables(ctx context.Context, db *sql.DB, tables stowfs.Tables) error {
	migrations := getTableMigrations(tables)

	for i := len(migrations) - 1; i >= 0; i-- {
		migration := migrations[i]
		if err := migration.Down(ctx, db); err != nil {
			return fmt.Errorf("migrate down %s: %w", migration.TableName, err)
		}
	}

	return nil
}

func createFileCacheTable(tableName string) func(context.Context, *sql.DB) error {
	return func(ctx context.Context, db *sql.DB) error {
		quotedTable := quoteIdentifier(tableName)
		indexParent := quoteIdentifier(fmt.Sprintf("idx_%s_parent", tableName))
		indexSize := quoteIdentifier(fmt.Sprintf("idx_%s_size", tableName))

		createTableSQL := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
				storage TEXT NOT NULL,
				path TEXT NOT NULL,
				parent INTEGER NOT NULL,
				name TEXT NOT NULL,
				mimetype TEXT NOT NULL,
				size INTEGER NOT NULL,
				mtime INTEGER NOT NULL,
				storage_mtime INTEGER NOT NULL,
				permissions INTEGER NOT NULL,
				etag TEXT NOT NULL,
				UNIQUE (storage, path)
			)
		`, quotedTable)

		if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
			return fmt.Errorf("create table: %w", err)
		}

		indexSQL := fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s ON %s (storage, parent, name)
		`, indexParent, quotedTable)

		if _, err := db.ExecContext(ctx, indexSQL); err != nil {
			return fmt.Errorf("create index parent: %w", err)
		}

		indexSQL = fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s ON %s (storage, size, path)
		`, indexSize, quotedTable)

		if _, err := db.ExecContext(ctx, indexSQL); err != nil {
			return fmt.Errorf("create index size: %w", err)
		}

		return nil
	}
}

func createPreferencesTable(tableName string) func(context.Context, *sql.DB) error {
	return func(ctx context.Context, db *sql.DB) error {
		createTableSQL := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				user_id TEXT NOT NULL,
				app TEXT NOT NULL,
				config_key TEXT NOT NULL,
				value TEXT NOT NULL,
				PRIMARY KEY (user_id, app, config_key)
			)
		`, quoteIdentifier(tableName))

		if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
		return nil
	}
}

func dropTable(tableName string) func(context.Context, *sql.DB) error {
	return func(ctx context.Context, db *sql.DB) error {
		quotedTable := quoteIdentifier(tableName)
		dropSQL := fmt.Sprintf("DROP TABLE IF EXISTS %s", quotedTable)

		_, err := db.ExecContext(ctx, dropSQL)
		return err
	}
}
