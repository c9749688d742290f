package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sagarc03/stowfs"
)

type preferences struct {
	db        *sql.DB
	tableName string
}

func (p *preferences) GetUserValue(ctx context.Context, userID, app, key string) (string, error) {
	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`SELECT value FROM %s WHERE user_id = ? AND app = ? AND config_key = ?`, quoteIdentifier(p.tableName))

	var value string
	err := p.db.QueryRowContext(ctx, query, userID, app, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("get user value %s/%s/%s: %w", userID, app, key, stowfs.ErrNotFound)
		}
		return "", fmt.Errorf("get user value: %w", err)
	}
	return value, nil
}

func (p *preferences) SetUserValue(ctx context.Context, userID, app, key, value string) error {
	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`INSERT INTO %s (user_id, app, config_key, value) VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, app, config_key) DO UPDATE SET value = excluded.value`, quoteIdentifier(p.tableName))

	if _, err := p.db.ExecContext(ctx, query, userID, app, key, value); err != nil {
		return fmt.Errorf("set user value: %w", err)
	}
	return nil
}
