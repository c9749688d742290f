package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sagarc03/stowfs"
)

type preferences struct {
	pool      *pgxpool.Pool
	tableName string
}

func (p *preferences) GetUserValue(ctx context.Context, userID, app, key string) (string, error) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE user_id = $1 AND app = $2 AND config_key = $3`,
		pgx.Identifier{p.tableName}.Sanitize())

	var value string
	if err := p.pool.QueryRow(ctx, query, userID, app, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("get user value %s/%s/%s: %w", userID, app, key, stowfs.ErrNotFound)
		}
		return "", fmt.Errorf("get user value: %w", err)
	}
	return value, nil
}

func (p *preferences) SetUserValue(ctx context.Context, userID, app, key, value string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (user_id, app, config_key, value) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, app, config_key) DO UPDATE SET value = EXCLUDED.value
	`, pgx.Identifier{p.tableName}.Sanitize())

	if _, err := p.pool.Exec(ctx, query, userID, app, key, value); err != nil {
		return fmt.Errorf("set user value: %w", err)
	}
	return nil
}
