package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sagarc03/stowfs"
)

// column is an expected column and its information_schema data type.
// Every column the migrations create is NOT NULL.
type column struct {
	name string
	typ  string
}

var fileCacheColumns = []column{
	{"id", "bigint"},
	{"storage", "text"},
	{"path", "text"},
	{"parent", "bigint"},
	{"name", "text"},
	{"mimetype", "text"},
	{"size", "bigint"},
	{"mtime", "timestamp with time zone"},
	{"storage_mtime", "timestamp with time zone"},
	{"permissions", "integer"},
	{"etag", "text"},
}

var preferencesColumns = []column{
	{"user_id", "text"},
	{"app", "text"},
	{"config_key", "text"},
	{"value", "text"},
}

type declared struct {
	typ     string
	notNull bool
}

// ValidateSchema checks that the file cache and preference tables exist in
// the current schema with the columns the queries in this package rely on.
func ValidateSchema(ctx context.Context, pool *pgxpool.Pool, tables stowfs.Tables) error {
	for _, t := range []struct {
		name string
		want []column
	}{
		{tables.FileCache, fileCacheColumns},
		{tables.Preferences, preferencesColumns},
	} {
		if err := checkTable(ctx, pool, t.name, t.want); err != nil {
			return fmt.Errorf("validate schema %s: %w", t.name, err)
		}
	}
	return nil
}

func checkTable(ctx context.Context, pool *pgxpool.Pool, table string, want []column) error {
	if !stowfs.IsValidTableName(table) {
		return fmt.Errorf("invalid table name %q: %w", table, stowfs.ErrConfiguration)
	}

	got, err := tableColumns(ctx, pool, table)
	if err != nil {
		return err
	}
	if len(got) == 0 {
		return fmt.Errorf("table %s does not exist: %w", table, stowfs.ErrConfiguration)
	}
	return compareColumns(table, want, got)
}

func tableColumns(ctx context.Context, pool *pgxpool.Pool, table string) (map[string]declared, error) {
	rows, err := pool.Query(ctx, `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
	`, table)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	got := make(map[string]declared)
	for rows.Next() {
		var name, typ, nullable string
		if err := rows.Scan(&name, &typ, &nullable); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		got[name] = declared{typ: strings.ToLower(typ), notNull: nullable == "NO"}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	return got, nil
}

func compareColumns(table string, want []column, got map[string]declared) error {
	var problems []string
	for _, c := range want {
		d, ok := got[c.name]
		switch {
		case !ok:
			problems = append(problems, c.name+" missing")
		case d.typ != c.typ:
			problems = append(problems, fmt.Sprintf("%s is %s, want %s", c.name, d.typ, c.typ))
		case !d.notNull:
			problems = append(problems, c.name+" is nullable")
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("table %s: %s: %w", table, strings.Join(problems, "; "), stowfs.ErrConfiguration)
	}
	return nil
}
