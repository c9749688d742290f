// Package local stores objects as files in a directory. Writes are atomic
// through a temp file and rename, and keys are escaped into flat file names
// so any URN maps to exactly one file.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/sagarc03/stowfs"
	"github.com/sagarc03/stowfs/objectstore"
)

// Kind is the configuration kind of this backend.
const Kind = "local"

const tmpPrefix = ".tmp-"

// Config holds the arguments of a local store.
type Config struct {
	// Root is the directory holding every bucket.
	Root string `mapstructure:"root" validate:"required"`
	// Bucket is a subdirectory of Root. Empty stores objects in Root.
	Bucket     string `mapstructure:"bucket" validate:"omitempty,excludesall=/\\"`
	AutoCreate bool   `mapstructure:"autocreate"`
}

// Store provides object storage on the local file system.
type Store struct {
	root   *os.Root
	id     string
	logger *slog.Logger
}

var (
	_ stowfs.ObjectStore  = (*Store)(nil)
	_ stowfs.ObjectStater = (*Store)(nil)
	_ stowfs.ObjectLister = (*Store)(nil)
)

// Open opens the bucket directory, creating it when AutoCreate is set.
func Open(_ context.Context, c Config, deps objectstore.Deps) (stowfs.ObjectStore, error) {
	return New(c, deps.Logger)
}

// New returns a Store for c.
func New(c Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dir, err := filepath.Abs(filepath.Join(c.Root, c.Bucket))
	if err != nil {
		return nil, fmt.Errorf("local store: %w", err)
	}

	if c.AutoCreate {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("local store: create %s: %w", dir, err)
		}
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("local store: %s does not exist: %w", dir, stowfs.ErrNotFound)
		}
		return nil, fmt.Errorf("local store: %w", err)
	}

	return &Store{root: root, id: "local::" + dir, logger: logger}, nil
}

func (s *Store) StorageID() string { return s.id }

// Close releases the directory handle.
func (s *Store) Close() error { return s.root.Close() }

func fileName(urn string) (string, error) {
	if urn == "" {
		return "", fmt.Errorf("empty object key: %w", stowfs.ErrInvalidPath)
	}
	name := url.PathEscape(urn)
	if strings.HasPrefix(name, ".") {
		name = "%2E" + name[1:]
	}
	return name, nil
}

func (s *Store) ReadObject(ctx context.Context, urn string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name, err := fileName(urn)
	if err != nil {
		return nil, err
	}

	f, err := s.root.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", urn, stowfs.ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", urn, err)
	}

	return f, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (n int, err error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

// WriteObject atomically replaces the object through a temp file and
// rename. The operation respects context cancellation.
func (s *Store) WriteObject(ctx context.Context, urn string, r io.Reader, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name, err := fileName(urn)
	if err != nil {
		return err
	}

	return s.writeAtomic(name, &ctxReader{ctx: ctx, r: r})
}

func (s *Store) writeAtomic(name string, r io.Reader) error {
	tmpFile := tmpFileName()
	t, err := s.root.Create(tmpFile)
	if err != nil {
		return fmt.Errorf("could not open temp file: %w", err)
	}

	success := false
	defer func() {
		if closeErr := t.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			s.logger.Warn("failed to close tmp file", "err", closeErr)
		}
		if !success {
			if rmErr := s.root.Remove(tmpFile); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				s.logger.Warn("failed to remove tmp file", "err", rmErr)
			}
		}
	}()

	if _, err := io.Copy(t, r); err != nil {
		return fmt.Errorf("could not copy object contents: %w", err)
	}

	if err := t.Sync(); err != nil {
		return fmt.Errorf("could not sync written object: %w", err)
	}

	if err := t.Close(); err != nil {
		return fmt.Errorf("could not close written object: %w", err)
	}

	if err := s.root.Rename(tmpFile, name); err != nil {
		return fmt.Errorf("failed to rename object: %w", err)
	}

	success = true
	return nil
}

// DeleteObject removes the object. Returns stowfs.ErrNotFound if it does
// not exist.
func (s *Store) DeleteObject(ctx context.Context, urn string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name, err := fileName(urn)
	if err != nil {
		return err
	}

	if err := s.root.Remove(name); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("delete %s: %w", urn, stowfs.ErrNotFound)
		}
		return fmt.Errorf("delete %s: %w", urn, err)
	}
	return nil
}

func (s *Store) ObjectExists(ctx context.Context, urn string) (bool, error) {
	_, err := s.StatObject(ctx, urn)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, stowfs.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *Store) CopyObject(ctx context.Context, from, to string) error {
	src, err := s.ReadObject(ctx, from)
	if err != nil {
		return fmt.Errorf("copy %s to %s: %w", from, to, err)
	}
	defer func() { _ = src.Close() }()

	name, err := fileName(to)
	if err != nil {
		return err
	}

	if err := s.writeAtomic(name, &ctxReader{ctx: ctx, r: src}); err != nil {
		return fmt.Errorf("copy %s to %s: %w", from, to, err)
	}
	return nil
}

func (s *Store) StatObject(ctx context.Context, urn string) (stowfs.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return stowfs.ObjectInfo{}, err
	}

	name, err := fileName(urn)
	if err != nil {
		return stowfs.ObjectInfo{}, err
	}

	fi, err := s.root.Stat(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return stowfs.ObjectInfo{}, fmt.Errorf("stat %s: %w", urn, stowfs.ErrNotFound)
		}
		return stowfs.ObjectInfo{}, fmt.Errorf("stat %s: %w", urn, err)
	}
	if fi.IsDir() {
		return stowfs.ObjectInfo{}, fmt.Errorf("stat %s: %w", urn, stowfs.ErrNotFound)
	}

	return stowfs.ObjectInfo{URN: urn, Size: fi.Size(), LastModified: fi.ModTime()}, nil
}

// ListObjects returns every object whose key starts with prefix. Temp files
// of in-flight writes are skipped.
func (s *Store) ListObjects(ctx context.Context, prefix string) ([]stowfs.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dirEntries, err := fs.ReadDir(s.root.FS(), ".")
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}

	var objects []stowfs.ObjectInfo
	for _, entry := range dirEntries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), tmpPrefix) {
			continue
		}

		urn, err := url.PathUnescape(entry.Name())
		if err != nil {
			s.logger.Warn("skipping unrecognized file", "name", entry.Name(), "err", err)
			continue
		}
		if !strings.HasPrefix(urn, prefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		objects = append(objects, stowfs.ObjectInfo{URN: urn, Size: info.Size(), LastModified: info.ModTime()})
	}

	return objects, nil
}

func tmpFileName() string {
	return tmpPrefix + uuid.New().String()
}
