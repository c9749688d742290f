// Package postgres implements the metadata cache and preference store using PostgreSQL
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sagarc03/stowfs"
)

const entryColumns = `id, parent, path, name, mimetype, size, mtime, storage_mtime, permissions, etag`

const uniqueViolation = "23505"

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type cache struct {
	pool      *pgxpool.Pool
	tableName string
	storage   string
}

func (c *cache) table() string {
	return pgx.Identifier{c.tableName}.Sanitize()
}

func scanEntry(row pgx.Row) (stowfs.Entry, error) {
	var e stowfs.Entry
	err := row.Scan(&e.ID, &e.Parent, &e.Path, &e.Name, &e.MimeType, &e.Size, &e.MTime, &e.StorageMTime, &e.Permissions, &e.ETag)
	if err != nil {
		return stowfs.Entry{}, err
	}
	e.MTime = e.MTime.UTC()
	e.StorageMTime = e.StorageMTime.UTC()
	return e, nil
}

func (c *cache) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (c *cache) get(ctx context.Context, q querier, path string) (stowfs.Entry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE storage = $1 AND path = $2`, entryColumns, c.table())

	e, err := scanEntry(q.QueryRow(ctx, query, c.storage, path))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return stowfs.Entry{}, fmt.Errorf("%q: %w", path, stowfs.ErrNotFound)
		}
		return stowfs.Entry{}, err
	}
	return e, nil
}

func (c *cache) Get(ctx context.Context, path string) (stowfs.Entry, error) {
	e, err := c.get(ctx, c.pool, path)
	if err != nil {
		return stowfs.Entry{}, fmt.Errorf("get: %w", err)
	}
	return e, nil
}

func (c *cache) GetByID(ctx context.Context, id int64) (stowfs.Entry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE storage = $1 AND id = $2`, entryColumns, c.table())

	e, err := scanEntry(c.pool.QueryRow(ctx, query, c.storage, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return stowfs.Entry{}, fmt.Errorf("get by id %d: %w", id, stowfs.ErrNotFound)
		}
		return stowfs.Entry{}, fmt.Errorf("get by id %d: %w", id, err)
	}
	return e, nil
}

func (c *cache) Put(ctx context.Context, path string, e stowfs.Entry) (int64, error) {
	var id int64
	err := c.withTx(ctx, func(tx pgx.Tx) error {
		existing, err := c.get(ctx, tx, path)
		switch {
		case err == nil:
			update := fmt.Sprintf(`
				UPDATE %s
				SET mimetype = $1, size = $2, mtime = $3, storage_mtime = $4, permissions = $5, etag = $6
				WHERE id = $7
			`, c.table())
			if _, err := tx.Exec(ctx, update,
				e.MimeType, e.Size, e.MTime.UTC(), e.StorageMTime.UTC(), e.Permissions, e.ETag, existing.ID,
			); err != nil {
				return fmt.Errorf("update: %w", err)
			}
			id = existing.ID
			return c.propagate(ctx, tx, existing.Parent)
		case !errors.Is(err, stowfs.ErrNotFound):
			return err
		}

		parent := stowfs.RootParent
		if path != "" {
			pe, err := c.get(ctx, tx, stowfs.ParentPath(path))
			if err != nil {
				return fmt.Errorf("parent: %w", err)
			}
			if !pe.IsDir() {
				return fmt.Errorf("parent %q: %w", pe.Path, stowfs.ErrNotDirectory)
			}
			parent = pe.ID
		}

		insert := fmt.Sprintf(`
			INSERT INTO %s (storage, path, parent, name, mimetype, size, mtime, storage_mtime, permissions, etag)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id
		`, c.table())
		err = tx.QueryRow(ctx, insert,
			c.storage, path, parent, stowfs.BaseName(path), e.MimeType, e.Size,
			e.MTime.UTC(), e.StorageMTime.UTC(), e.Permissions, e.ETag,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert: %w", translateError(err))
		}

		return c.propagate(ctx, tx, parent)
	})
	if err != nil {
		return 0, fmt.Errorf("put %q: %w", path, err)
	}
	return id, nil
}

func (c *cache) Update(ctx context.Context, id int64, u stowfs.EntryUpdate) error {
	var sets []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if u.MimeType != nil {
		add("mimetype", *u.MimeType)
	}
	if u.Size != nil {
		add("size", *u.Size)
	}
	if u.MTime != nil {
		add("mtime", u.MTime.UTC())
	}
	if u.StorageMTime != nil {
		add("storage_mtime", u.StorageMTime.UTC())
	}
	if u.Permissions != nil {
		add("permissions", *u.Permissions)
	}
	if u.ETag != nil {
		add("etag", *u.ETag)
	}
	if len(sets) == 0 {
		return nil
	}

	err := c.withTx(ctx, func(tx pgx.Tx) error {
		query := fmt.Sprintf(`UPDATE %s SET %s WHERE storage = $%d AND id = $%d RETURNING parent`,
			c.table(), strings.Join(sets, ", "), len(args)+1, len(args)+2)

		var parent int64
		if err := tx.QueryRow(ctx, query, append(args, c.storage, id)...).Scan(&parent); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return stowfs.ErrNotFound
			}
			return err
		}

		if u.Size == nil {
			return nil
		}
		return c.propagate(ctx, tx, parent)
	})
	if err != nil {
		return fmt.Errorf("update %d: %w", id, err)
	}
	return nil
}

func (c *cache) Move(ctx context.Context, src, dst string) error {
	if src == "" || dst == "" {
		return fmt.Errorf("move %q to %q: %w", src, dst, stowfs.ErrInvalidPath)
	}

	err := c.withTx(ctx, func(tx pgx.Tx) error {
		se, err := c.get(ctx, tx, src)
		if err != nil {
			return err
		}

		if _, err := c.get(ctx, tx, dst); err == nil {
			return fmt.Errorf("%q: %w", dst, stowfs.ErrExists)
		} else if !errors.Is(err, stowfs.ErrNotFound) {
			return err
		}

		pe, err := c.get(ctx, tx, stowfs.ParentPath(dst))
		if err != nil {
			return fmt.Errorf("parent: %w", err)
		}
		if !pe.IsDir() {
			return fmt.Errorf("parent %q: %w", pe.Path, stowfs.ErrNotDirectory)
		}

		children := fmt.Sprintf(`
			UPDATE %s SET path = $1 || substr(path, $2)
			WHERE storage = $3 AND path LIKE $4 ESCAPE '\'
		`, c.table())
		if _, err := tx.Exec(ctx, children,
			dst, utf8.RuneCountInString(src)+1, c.storage, stowfs.EscapeLikePattern(src)+"/%",
		); err != nil {
			return fmt.Errorf("move children: %w", translateError(err))
		}

		self := fmt.Sprintf(`UPDATE %s SET path = $1, name = $2, parent = $3 WHERE id = $4`, c.table())
		if _, err := tx.Exec(ctx, self, dst, stowfs.BaseName(dst), pe.ID, se.ID); err != nil {
			return fmt.Errorf("move: %w", translateError(err))
		}

		if err := c.propagate(ctx, tx, se.Parent); err != nil {
			return err
		}
		return c.propagate(ctx, tx, pe.ID)
	})
	if err != nil {
		return fmt.Errorf("move %q to %q: %w", src, dst, err)
	}
	return nil
}

func (c *cache) Remove(ctx context.Context, path string) error {
	err := c.withTx(ctx, func(tx pgx.Tx) error {
		e, err := c.get(ctx, tx, path)
		if errors.Is(err, stowfs.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if path == "" {
			_, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE storage = $1`, c.table()), c.storage)
			return err
		}

		query := fmt.Sprintf(`DELETE FROM %s WHERE storage = $1 AND (path = $2 OR path LIKE $3 ESCAPE '\')`, c.table())
		if _, err := tx.Exec(ctx, query, c.storage, path, stowfs.EscapeLikePattern(path)+"/%"); err != nil {
			return err
		}

		return c.propagate(ctx, tx, e.Parent)
	})
	if err != nil {
		return fmt.Errorf("remove %q: %w", path, err)
	}
	return nil
}

func (c *cache) GetFolderContents(ctx context.Context, path string) ([]stowfs.Entry, error) {
	dir, err := c.get(ctx, c.pool, path)
	if err != nil {
		return nil, fmt.Errorf("folder contents: %w", err)
	}
	if !dir.IsDir() {
		return nil, fmt.Errorf("folder contents %q: %w", path, stowfs.ErrNotDirectory)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE storage = $1 AND parent = $2 ORDER BY name COLLATE "C"`,
		entryColumns, c.table())

	entries, err := c.list(ctx, query, c.storage, dir.ID)
	if err != nil {
		return nil, fmt.Errorf("folder contents %q: %w", path, err)
	}
	return entries, nil
}

func (c *cache) ListIncomplete(ctx context.Context) ([]stowfs.Entry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE storage = $1 AND size < 0 ORDER BY path COLLATE "C" DESC`,
		entryColumns, c.table())

	entries, err := c.list(ctx, query, c.storage)
	if err != nil {
		return nil, fmt.Errorf("list incomplete: %w", err)
	}
	return entries, nil
}

func (c *cache) CorrectFolderSize(ctx context.Context, path string) error {
	err := c.withTx(ctx, func(tx pgx.Tx) error {
		e, err := c.get(ctx, tx, path)
		if err != nil {
			return err
		}
		if e.IsDir() {
			return c.propagate(ctx, tx, e.ID)
		}
		return c.propagate(ctx, tx, e.Parent)
	})
	if err != nil {
		return fmt.Errorf("correct folder size %q: %w", path, err)
	}
	return nil
}

func (c *cache) list(ctx context.Context, query string, args ...any) ([]stowfs.Entry, error) {
	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []stowfs.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return entries, nil
}

// propagate recomputes the size of directory id, and of each ancestor, as
// the sum of the known sizes of its children.
func (c *cache) propagate(ctx context.Context, tx pgx.Tx, id int64) error {
	sumQuery := fmt.Sprintf(
		`SELECT COALESCE(SUM(size), 0)::BIGINT FROM %s WHERE storage = $1 AND parent = $2 AND size >= 0`, c.table())
	updateQuery := fmt.Sprintf(`UPDATE %s SET size = $1 WHERE id = $2 RETURNING parent`, c.table())

	for id != stowfs.RootParent {
		var size int64
		if err := tx.QueryRow(ctx, sumQuery, c.storage, id).Scan(&size); err != nil {
			return fmt.Errorf("propagate size: %w", err)
		}
		if err := tx.QueryRow(ctx, updateQuery, size, id).Scan(&id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("propagate size: %w", err)
		}
	}
	return nil
}

func translateError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %w", stowfs.ErrExists, err)
	}
	return err
}
