package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sagarc03/stowfs"
)

// column is an expected column and its declared type. Every column the
// migrations create is NOT NULL.
type column struct {
	name string
	typ  string
}

var fileCacheColumns = []column{
	{"id", "integer"},
	{"storage", "text"},
	{"path", "text"},
	{"parent", "integer"},
	{"name", "text"},
	{"mimetype", "text"},
	{"size", "integer"},
	{"mtime", "integer"},
	{"storage_mtime", "integer"},
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

// ValidateSchema checks that the file cache and preference tables exist
// with the columns the queries in this package rely on.
func ValidateSchema(ctx context.Context, db *sql.DB, tables stowfs.Tables) error {
	for _, t := range []struct {
		name string
		want []column
	}{
		{tables.FileCache, fileCacheColumns},
		{tables.Preferences, preferencesColumns},
	} {
		if err := checkTable(ctx, db, t.name, t.want); err != nil {
			return fmt.Errorf("validate schema %s: %w", t.name, err)
		}
	}
	return nil
}

func checkTable(ctx context.Context, db *sql.DB, table string, want []column) error {
	if !stowfs.IsValidTableName(table) {
		return fmt.Errorf("invalid table name %q: %w", table, stowfs.ErrConfiguration)
	}

	got, err := tableColumns(ctx, db, table)
	if err != nil {
		return err
	}
	// table_info returns no rows for a missing table
	if len(got) == 0 {
		return fmt.Errorf("table %s does not exist: %w", table, stowfs.ErrConfiguration)
	}
	return compareColumns(table, want, got)
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]declared, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, quoteIdentifier(table)))
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	got := make(map[string]declared)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		got[name] = declared{typ: strings.ToLower(typ), notNull: notNull != 0}
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
