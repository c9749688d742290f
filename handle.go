package stowfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// File is a handle returned by Storage.Open.
type File interface {
	io.Reader
	io.Writer
	io.Closer
}

type openMode struct {
	read     bool
	truncate bool
	append   bool
	// exclusive fails when the path already exists.
	exclusive bool
}

// parseMode accepts fopen style modes. The "b" flag is ignored.
func parseMode(mode string) (openMode, error) {
	switch strings.ReplaceAll(mode, "b", "") {
	case "r":
		return openMode{read: true}, nil
	case "w", "w+":
		return openMode{truncate: true}, nil
	case "a", "a+":
		return openMode{append: true}, nil
	case "r+", "c", "c+":
		return openMode{}, nil
	case "x", "x+":
		return openMode{exclusive: true}, nil
	default:
		return openMode{}, fmt.Errorf("open: unsupported mode %q: %w", mode, ErrNotSupported)
	}
}

// Open opens path with an fopen style mode. Read modes stream from the
// backend; every other mode returns a WriteHandle.
func (s *Storage) Open(ctx context.Context, path, mode string) (File, error) {
	m, err := parseMode(mode)
	if err != nil {
		return nil, err
	}
	if m.read {
		rc, err := s.OpenRead(ctx, path)
		if err != nil {
			return nil, err
		}
		return readOnlyFile{rc}, nil
	}
	return s.openWrite(ctx, path, m)
}

// OpenRead streams the content of a file. Empty files are served without a
// backend call.
func (s *Storage) OpenRead(ctx context.Context, path string) (io.ReadCloser, error) {
	e, err := s.Stat(ctx, path)
	if err != nil {
		return nil, err
	}
	if e.IsDir() {
		return nil, fmt.Errorf("open %s: %w", e.Path, ErrIsDirectory)
	}
	if e.Size == 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}

	rc, err := s.store.ReadObject(ctx, s.urn(e.ID))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", e.Path, err)
	}
	return rc, nil
}

// OpenWrite returns a handle for path using an fopen style write mode.
func (s *Storage) OpenWrite(ctx context.Context, path, mode string) (*WriteHandle, error) {
	m, err := parseMode(mode)
	if err != nil {
		return nil, err
	}
	if m.read {
		return nil, fmt.Errorf("open %s: mode %q is read only: %w", path, mode, ErrNotSupported)
	}
	return s.openWrite(ctx, path, m)
}

func (s *Storage) openWrite(ctx context.Context, path string, m openMode) (*WriteHandle, error) {
	p, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	if p == "" {
		return nil, fmt.Errorf("open: %w", ErrIsDirectory)
	}

	pe, err := s.cache.Get(ctx, ParentPath(p))
	if err != nil {
		return nil, fmt.Errorf("open %s: parent: %w", p, err)
	}
	if !pe.IsDir() {
		return nil, fmt.Errorf("open %s: parent: %w", p, ErrNotDirectory)
	}

	e, err := s.cache.Get(ctx, p)
	exists := err == nil
	switch {
	case err != nil && !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("open %s: %w", p, err)
	case exists && e.IsDir():
		return nil, fmt.Errorf("open %s: %w", p, ErrIsDirectory)
	case exists && m.exclusive:
		return nil, fmt.Errorf("open %s: %w", p, ErrExists)
	}

	f, err := afero.TempFile(s.tempFs, s.tempDir, "stowfs-*"+filepath.Ext(p))
	if err != nil {
		return nil, fmt.Errorf("open %s: create temp file: %w", p, err)
	}

	h := &WriteHandle{ctx: ctx, storage: s, path: p, fs: s.tempFs, file: f}

	if exists && !m.truncate {
		if err := h.populate(ctx); err != nil {
			h.Discard()
			return nil, err
		}
	}

	if m.append {
		name := f.Name()
		if err := f.Close(); err != nil {
			h.Discard()
			return nil, fmt.Errorf("open %s: %w", p, err)
		}
		af, err := s.tempFs.OpenFile(name, os.O_RDWR|os.O_APPEND, 0o600)
		if err != nil {
			_ = s.tempFs.Remove(name)
			return nil, fmt.Errorf("open %s: reopen temp file: %w", p, err)
		}
		h.file = af
	}

	return h, nil
}

// WriteHandle buffers writes in a local temporary file. Close uploads the
// content and commits the cache row; the temporary file is removed on
// every path.
type WriteHandle struct {
	ctx     context.Context
	storage *Storage
	path    string
	fs      afero.Fs
	file    afero.File

	once sync.Once
	err  error
}

func (h *WriteHandle) Path() string { return h.path }

func (h *WriteHandle) Read(p []byte) (int, error)  { return h.file.Read(p) }
func (h *WriteHandle) Write(p []byte) (int, error) { return h.file.Write(p) }

func (h *WriteHandle) Seek(offset int64, whence int) (int64, error) {
	return h.file.Seek(offset, whence)
}

// Close uploads the buffered content. Calling it again returns the first
// result.
func (h *WriteHandle) Close() error {
	h.once.Do(func() {
		h.err = h.commit()
	})
	return h.err
}

func (h *WriteHandle) commit() error {
	defer h.removeTemp()

	info, err := h.file.Stat()
	if err != nil {
		_ = h.file.Close()
		return fmt.Errorf("write back %s: %w", h.path, err)
	}
	if _, err := h.file.Seek(0, io.SeekStart); err != nil {
		_ = h.file.Close()
		return fmt.Errorf("write back %s: %w", h.path, err)
	}

	werr := h.storage.writeBack(h.ctx, h.path, h.file, info.Size())
	if err := h.file.Close(); err != nil {
		h.storage.logger.Warn("failed to close tmp file", "err", err)
	}
	return werr
}

func (h *WriteHandle) populate(ctx context.Context) error {
	rc, err := h.storage.OpenRead(ctx, h.path)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	if _, err := io.Copy(h.file, rc); err != nil {
		return fmt.Errorf("open %s: copy existing content: %w", h.path, err)
	}
	if _, err := h.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("open %s: %w", h.path, err)
	}
	return nil
}

// Discard drops the handle without uploading anything. A later Close
// reports os.ErrClosed.
func (h *WriteHandle) Discard() {
	h.once.Do(func() {
		_ = h.file.Close()
		h.removeTemp()
		h.err = fmt.Errorf("write handle %s: %w", h.path, os.ErrClosed)
	})
}

func (h *WriteHandle) removeTemp() {
	if err := h.fs.Remove(h.file.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		h.storage.logger.Warn("failed to remove tmp file", "file", h.file.Name(), "err", err)
	}
}

// writeBack stores the content of r at path. The row is committed with an
// incomplete size before the upload so a crash leaves something the
// background scan can repair; a failed upload removes the row again.
func (s *Storage) writeBack(ctx context.Context, p string, r io.ReadSeeker, size int64) error {
	mimeType, err := s.detector.Detect(p, r)
	if err != nil {
		mimeType = s.detector.DetectPath(p)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("write back %s: %w", p, err)
	}

	perms := PermissionFile
	existing, err := s.cache.Get(ctx, p)
	switch {
	case err == nil:
		perms = existing.Permissions
	case !errors.Is(err, ErrNotFound):
		return fmt.Errorf("write back %s: %w", p, err)
	}

	now := s.now()
	id, err := s.cache.Put(ctx, p, Entry{
		MimeType:     mimeType,
		Size:         SizeIncomplete,
		MTime:        now,
		StorageMTime: now,
		Permissions:  perms,
		ETag:         newETag(),
	})
	if err != nil {
		return fmt.Errorf("write back %s: %w", p, err)
	}

	urn := s.urn(id)
	if err := s.store.WriteObject(ctx, urn, r, mimeType); err != nil {
		s.logger.Error("failed to write object", "path", p, "urn", urn, "err", err)
		s.rollbackWrite(p, urn)
		return fmt.Errorf("write back %s: %w", p, err)
	}

	if s.validate {
		ok, err := s.store.ObjectExists(ctx, urn)
		if err != nil || !ok {
			s.rollbackWrite(p, urn)
			return fmt.Errorf("write back %s: object %s not found after writing: %w", p, urn, errors.Join(ErrConsistency, err))
		}
	}

	if err := s.cache.Update(ctx, id, EntryUpdate{Size: &size}); err != nil {
		return fmt.Errorf("write back %s: record size: %w", p, err)
	}
	return nil
}

func (s *Storage) rollbackWrite(p, urn string) {
	s.removeRow(p)

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := s.store.DeleteObject(ctx, urn); err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Warn("failed to delete object after failed write", "urn", urn, "err", err)
	}
}

type readOnlyFile struct {
	io.ReadCloser
}

func (readOnlyFile) Write([]byte) (int, error) {
	return 0, ErrReadOnly
}
