// Package sqlite implements the metadata cache and preference store using SQLite
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sagarc03/stowfs"
)

const entryColumns = `id, parent, path, name, mimetype, size, mtime, storage_mtime, permissions, etag`

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type cache struct {
	db        *sql.DB
	tableName string
	storage   string
}

func scanEntry(row scanner) (stowfs.Entry, error) {
	var e stowfs.Entry
	var mtime, storageMTime int64
	err := row.Scan(&e.ID, &e.Parent, &e.Path, &e.Name, &e.MimeType, &e.Size, &mtime, &storageMTime, &e.Permissions, &e.ETag)
	if err != nil {
		return stowfs.Entry{}, err
	}
	e.MTime = time.Unix(mtime, 0).UTC()
	e.StorageMTime = time.Unix(storageMTime, 0).UTC()
	return e, nil
}

func (c *cache) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (c *cache) get(ctx context.Context, q querier, path string) (stowfs.Entry, error) {
	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`SELECT %s FROM %s WHERE storage = ? AND path = ?`, entryColumns, quoteIdentifier(c.tableName))

	e, err := scanEntry(q.QueryRowContext(ctx, query, c.storage, path))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return stowfs.Entry{}, fmt.Errorf("%q: %w", path, stowfs.ErrNotFound)
		}
		return stowfs.Entry{}, err
	}
	return e, nil
}

func (c *cache) Get(ctx context.Context, path string) (stowfs.Entry, error) {
	e, err := c.get(ctx, c.db, path)
	if err != nil {
		return stowfs.Entry{}, fmt.Errorf("get: %w", err)
	}
	return e, nil
}

func (c *cache) GetByID(ctx context.Context, id int64) (stowfs.Entry, error) {
	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`SELECT %s FROM %s WHERE storage = ? AND id = ?`, entryColumns, quoteIdentifier(c.tableName))

	e, err := scanEntry(c.db.QueryRowContext(ctx, query, c.storage, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return stowfs.Entry{}, fmt.Errorf("get by id %d: %w", id, stowfs.ErrNotFound)
		}
		return stowfs.Entry{}, fmt.Errorf("get by id %d: %w", id, err)
	}
	return e, nil
}

func (c *cache) Put(ctx context.Context, path string, e stowfs.Entry) (int64, error) {
	var id int64
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		table := quoteIdentifier(c.tableName)

		existing, err := c.get(ctx, tx, path)
		switch {
		case err == nil:
			update := fmt.Sprintf( //nolint:gosec // G201: table name is validated
				`UPDATE %s SET mimetype = ?, size = ?, mtime = ?, storage_mtime = ?, permissions = ?, etag = ?
				WHERE id = ?`, table)
			if _, err := tx.ExecContext(ctx, update,
				e.MimeType, e.Size, e.MTime.Unix(), e.StorageMTime.Unix(), e.Permissions, e.ETag, existing.ID,
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

		insert := fmt.Sprintf( //nolint:gosec // G201: table name is validated
			`INSERT INTO %s (storage, path, parent, name, mimetype, size, mtime, storage_mtime, permissions, etag)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, table)
		res, err := tx.ExecContext(ctx, insert,
			c.storage, path, parent, stowfs.BaseName(path), e.MimeType, e.Size,
			e.MTime.Unix(), e.StorageMTime.Unix(), e.Permissions, e.ETag,
		)
		if err != nil {
			return fmt.Errorf("insert: %w", translateError(err))
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("insert: %w", err)
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
	if u.MimeType != nil {
		sets, args = append(sets, "mimetype = ?"), append(args, *u.MimeType)
	}
	if u.Size != nil {
		sets, args = append(sets, "size = ?"), append(args, *u.Size)
	}
	if u.MTime != nil {
		sets, args = append(sets, "mtime = ?"), append(args, u.MTime.Unix())
	}
	if u.StorageMTime != nil {
		sets, args = append(sets, "storage_mtime = ?"), append(args, u.StorageMTime.Unix())
	}
	if u.Permissions != nil {
		sets, args = append(sets, "permissions = ?"), append(args, *u.Permissions)
	}
	if u.ETag != nil {
		sets, args = append(sets, "etag = ?"), append(args, *u.ETag)
	}
	if len(sets) == 0 {
		return nil
	}

	err := c.withTx(ctx, func(tx *sql.Tx) error {
		query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
			`UPDATE %s SET %s WHERE storage = ? AND id = ?`, quoteIdentifier(c.tableName), strings.Join(sets, ", "))

		res, err := tx.ExecContext(ctx, query, append(args, c.storage, id)...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return stowfs.ErrNotFound
		}

		if u.Size == nil {
			return nil
		}
		var parent int64
		parentQuery := fmt.Sprintf(`SELECT parent FROM %s WHERE id = ?`, quoteIdentifier(c.tableName)) //nolint:gosec // table name is validated
		if err := tx.QueryRowContext(ctx, parentQuery, id).Scan(&parent); err != nil {
			return err
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

	err := c.withTx(ctx, func(tx *sql.Tx) error {
		table := quoteIdentifier(c.tableName)

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

		children := fmt.Sprintf( //nolint:gosec // G201: table name is validated
			`UPDATE %s SET path = ? || substr(path, ?)
			WHERE storage = ? AND substr(path, 1, ?) = ?`, table)
		prefix := src + "/"
		n := utf8.RuneCountInString(prefix)
		if _, err := tx.ExecContext(ctx, children, dst, n, c.storage, n, prefix); err != nil {
			return fmt.Errorf("move children: %w", translateError(err))
		}

		self := fmt.Sprintf( //nolint:gosec // G201: table name is validated
			`UPDATE %s SET path = ?, name = ?, parent = ? WHERE id = ?`, table)
		if _, err := tx.ExecContext(ctx, self, dst, stowfs.BaseName(dst), pe.ID, se.ID); err != nil {
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
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		table := quoteIdentifier(c.tableName)

		e, err := c.get(ctx, tx, path)
		if errors.Is(err, stowfs.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if path == "" {
			query := fmt.Sprintf(`DELETE FROM %s WHERE storage = ?`, table) //nolint:gosec // table name is validated
			_, err := tx.ExecContext(ctx, query, c.storage)
			return err
		}

		query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
			`DELETE FROM %s WHERE storage = ? AND (path = ? OR substr(path, 1, ?) = ?)`, table)
		// LIKE folds ASCII case in sqlite, so subtrees are matched on an exact prefix.
		prefix := path + "/"
		if _, err := tx.ExecContext(ctx, query, c.storage, path, utf8.RuneCountInString(prefix), prefix); err != nil {
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
	dir, err := c.get(ctx, c.db, path)
	if err != nil {
		return nil, fmt.Errorf("folder contents: %w", err)
	}
	if !dir.IsDir() {
		return nil, fmt.Errorf("folder contents %q: %w", path, stowfs.ErrNotDirectory)
	}

	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`SELECT %s FROM %s WHERE storage = ? AND parent = ? ORDER BY name`, entryColumns, quoteIdentifier(c.tableName))

	entries, err := c.list(ctx, query, c.storage, dir.ID)
	if err != nil {
		return nil, fmt.Errorf("folder contents %q: %w", path, err)
	}
	return entries, nil
}

func (c *cache) ListIncomplete(ctx context.Context) ([]stowfs.Entry, error) {
	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`SELECT %s FROM %s WHERE storage = ? AND size < 0 ORDER BY path DESC`, entryColumns, quoteIdentifier(c.tableName))

	entries, err := c.list(ctx, query, c.storage)
	if err != nil {
		return nil, fmt.Errorf("list incomplete: %w", err)
	}
	return entries, nil
}

func (c *cache) CorrectFolderSize(ctx context.Context, path string) error {
	err := c.withTx(ctx, func(tx *sql.Tx) error {
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
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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
func (c *cache) propagate(ctx context.Context, tx *sql.Tx, id int64) error {
	table := quoteIdentifier(c.tableName)
	sumQuery := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`SELECT COALESCE(SUM(size), 0) FROM %s WHERE storage = ? AND parent = ? AND size >= 0`, table)
	updateQuery := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`UPDATE %s SET size = ? WHERE id = ? RETURNING parent`, table)

	for id != stowfs.RootParent {
		var size int64
		if err := tx.QueryRowContext(ctx, sumQuery, c.storage, id).Scan(&size); err != nil {
			return fmt.Errorf("propagate size: %w", err)
		}
		if err := tx.QueryRowContext(ctx, updateQuery, size, id).Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("propagate size: %w", err)
		}
	}
	return nil
}

func translateError(err error) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %w", stowfs.ErrExists, err)
	}
	return err
}
