package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sagarc03/stowfs"
)

type TableMigration struct {
	TableName string
	Up        func(ctx context.Context, pool *pgxpool.Pool) error
	Down      func(ctx context.Context, pool *pgxpool.Pool) error
}

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

func Migrate(ctx context.Context, pool *pgxpool.Pool, tables stowfs.Tables) error {
	for _, migration := range getTableMigrations(tables) {
		if err := migration.Up(ctx, pool); err != nil {
			return fmt.Errorf("migrate up %s: %w", migration.TableName, err)
		}
	}
	return nil
}

func DropTables(ctx context.Context, pool *pgxpool.Pool, tables stowfs.Tables) error {
	migrations := getTableMigrations(tables)

	for i := len(migrations) - 1; i >= 0; i-- {
		migration := migrations[i]
		if err := migration.Down(ctx, pool); err != nil {
			return fmt.Errorf("migrate down %s: %w", migration.TableName, err)
		}
	}
	return nil
}

func createFileCacheTable(tableName string) func(context.Context, *pgxpool.Pool) error {
	return func(ctx context.Context, pool *pgxpool.Pool) error {
		quotedTable := pgx.Identifier{tableName}.Sanitize()
		indexParent := pgx.Identifier{fmt.Sprintf("idx_%s_parent", tableName)}.Sanitize()
		indexIncomplete := pgx.Identifier{fmt.Sprintf("idx_%s_incomplete", tableName)}.Sanitize()

		sql := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
				storage TEXT NOT NULL,
				path TEXT NOT NULL,
				parent BIGINT NOT NULL,
				name TEXT NOT NULL,
				mimetype TEXT NOT NULL,
				size BIGINT NOT NULL,
				mtime TIMESTAMPTZ NOT NULL,
				storage_mtime TIMESTAMPTZ NOT NULL,
				permissions INTEGER NOT NULL,
				etag TEXT NOT NULL,
				UNIQUE (storage, path)
			);

			CREATE INDEX IF NOT EXISTS %s
			ON %s (storage, parent, name);

			CREATE INDEX IF NOT EXISTS %s
			ON %s (storage, path)
			WHERE (size < 0);
		`,
			quotedTable,
			indexParent, quotedTable,
			indexIncomplete, quotedTable,
		)

		if _, err := pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("create filecache table: %w", err)
		}
		return nil
	}
}

func createPreferencesTable(tableName string) func(context.Context, *pgxpool.Pool) error {
	return func(ctx context.Context, pool *pgxpool.Pool) error {
		sql := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				user_id TEXT NOT NULL,
				app TEXT NOT NULL,
				config_key TEXT NOT NULL,
				value TEXT NOT NULL,
				PRIMARY KEY (user_id, app, config_key)
			)
		`, pgx.Identifier{tableName}.Sanitize())

		if _, err := pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("create preferences table: %w", err)
		}
		return nil
	}
}

func dropTable(tableName string) func(context.Context, *pgxpool.Pool) error {
	return func(ctx context.Context, pool *pgxpool.Pool) error {
		sql := fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", pgx.Identifier{tableName}.Sanitize())
		_, err := pool.Exec(ctx, sql)
		return err
	}
}
