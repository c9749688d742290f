package stowfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const cleanupTimeout = 30 * time.Second

const (
	storageIDUserPrefix  = "object::user:"
	storageIDStorePrefix = "object::store:"
)

// Options configure a Storage.
type Options struct {
	// ObjectPrefix is prepended to file ids when URN is nil.
	ObjectPrefix string
	// URN overrides the id to object key mapping.
	URN URNFunc
	// UserID marks a home storage. Empty means a system storage.
	UserID string
	// TempFs holds local write handles; defaults to the OS filesystem.
	TempFs  afero.Fs
	TempDir string

	Detector MimeDetector
	// ValidateWrites checks that an object exists after writing it.
	ValidateWrites bool
	Logger         *slog.Logger
	Now            func() time.Time
}

// Storage presents an ObjectStore as a hierarchical filesystem. Paths,
// directories and sizes live in the Cache; the store only sees id derived
// keys, so renames never touch the backend.
type Storage struct {
	id       string
	store    ObjectStore
	cache    Cache
	urn      URNFunc
	tempFs   afero.Fs
	tempDir  string
	detector MimeDetector
	validate bool
	logger   *slog.Logger
	now      func() time.Time
}

// StorageID returns the cache namespace for a storage: one per user for
// home storages, one per backend otherwise.
func StorageID(store ObjectStore, userID string) string {
	if userID != "" {
		return storageIDUserPrefix + userID
	}
	return storageIDStorePrefix + store.StorageID()
}

// IsHomeStorageID reports whether id belongs to a user home storage and
// returns the user.
func IsHomeStorageID(id string) (string, bool) {
	return strings.CutPrefix(id, storageIDUserPrefix)
}

// NewStorage binds store to its cache and makes sure the root directory
// row exists.
func NewStorage(ctx context.Context, store ObjectStore, caches CacheProvider, opts Options) (*Storage, error) {
	if store == nil || caches == nil {
		return nil, errors.New("new storage: store and cache provider are required")
	}

	s := &Storage{
		id:       StorageID(store, opts.UserID),
		store:    store,
		urn:      opts.URN,
		tempFs:   opts.TempFs,
		tempDir:  opts.TempDir,
		detector: opts.Detector,
		validate: opts.ValidateWrites,
		logger:   opts.Logger,
		now:      opts.Now,
	}

	if s.urn == nil {
		prefix := opts.ObjectPrefix
		if prefix == "" {
			prefix = DefaultObjectPrefix
		}
		s.urn = PrefixURN(prefix)
	}
	if s.tempFs == nil {
		s.tempFs = afero.NewOsFs()
	}
	if s.detector == nil {
		s.detector = DefaultMimeDetector{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("storage", s.id)
	if s.now == nil {
		s.now = time.Now
	}

	s.cache = caches.Cache(s.id)

	_, err := s.cache.Get(ctx, "")
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		if err := s.mkdir(ctx, ""); err != nil && !errors.Is(err, ErrExists) {
			return nil, fmt.Errorf("new storage %s: create root: %w", s.id, err)
		}
	default:
		return nil, fmt.Errorf("new storage %s: %w", s.id, err)
	}

	return s, nil
}

func (s *Storage) ID() string          { return s.id }
func (s *Storage) Store() ObjectStore  { return s.store }
func (s *Storage) Cache() Cache        { return s.cache }
func (s *Storage) URN(id int64) string { return s.urn(id) }

// Updater returns the cache updater to use for this storage.
func (s *Storage) Updater() *ObjectStoreUpdater {
	return NewObjectStoreUpdater(s.cache, s.logger)
}

// Scanner returns the scanner to use for this storage.
func (s *Storage) Scanner() *Scanner {
	return NewScanner(s, s.logger)
}

// HasUpdated always reports false. The cache is authoritative for this
// storage, so there is no outside change to detect.
func (s *Storage) HasUpdated(string, time.Time) bool {
	return false
}

func (s *Storage) Stat(ctx context.Context, path string) (Entry, error) {
	p, err := NormalizePath(path)
	if err != nil {
		return Entry{}, err
	}
	return s.cache.Get(ctx, p)
}

func (s *Storage) FileExists(ctx context.Context, path string) (bool, error) {
	_, err := s.Stat(ctx, path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *Storage) FileType(ctx context.Context, path string) (FileType, error) {
	e, err := s.Stat(ctx, path)
	if err != nil {
		return "", err
	}
	return e.Type(), nil
}

func (s *Storage) MimeType(ctx context.Context, path string) (string, error) {
	e, err := s.Stat(ctx, path)
	if err != nil {
		return "", err
	}
	return e.MimeType, nil
}

// OpenDir lists the names of the direct children of a directory.
func (s *Storage) OpenDir(ctx context.Context, path string) ([]string, error) {
	children, err := s.ReadDir(ctx, path)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(children))
	for _, c := range children {
		names = append(names, c.Name)
	}
	return names, nil
}

// ReadDir returns the direct children of a directory, ordered by name.
func (s *Storage) ReadDir(ctx context.Context, path string) ([]Entry, error) {
	e, err := s.Stat(ctx, path)
	if err != nil {
		return nil, err
	}
	if !e.IsDir() {
		return nil, fmt.Errorf("opendir %s: %w", e.Path, ErrNotDirectory)
	}

	children, err := s.cache.GetFolderContents(ctx, e.Path)
	if err != nil {
		return nil, fmt.Errorf("opendir %s: %w", e.Path, err)
	}
	return children, nil
}

// Mkdir creates a directory row, creating missing parents on the way. No
// backend call is made.
func (s *Storage) Mkdir(ctx context.Context, path string) error {
	p, err := NormalizePath(path)
	if err != nil {
		return err
	}
	return s.mkdir(ctx, p)
}

func (s *Storage) mkdir(ctx context.Context, p string) error {
	_, err := s.cache.Get(ctx, p)
	switch {
	case err == nil:
		return fmt.Errorf("mkdir %s: %w", p, ErrExists)
	case !errors.Is(err, ErrNotFound):
		return fmt.Errorf("mkdir %s: %w", p, err)
	}

	if p != "" {
		parent := ParentPath(p)
		pe, err := s.cache.Get(ctx, parent)
		switch {
		case errors.Is(err, ErrNotFound):
			if err := s.mkdir(ctx, parent); err != nil && !errors.Is(err, ErrExists) {
				return err
			}
		case err != nil:
			return fmt.Errorf("mkdir %s: %w", p, err)
		case !pe.IsDir():
			return fmt.Errorf("mkdir %s: parent %s: %w", p, parent, ErrNotDirectory)
		}
	}

	now := s.now()
	_, err = s.cache.Put(ctx, p, Entry{
		MimeType:     MimeTypeDirectory,
		Size:         0,
		MTime:        now,
		StorageMTime: now,
		Permissions:  PermissionAll,
		ETag:         newETag(),
	})
	if err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	}
	return nil
}

// Rmdir deletes every object below the directory, then its rows.
func (s *Storage) Rmdir(ctx context.Context, path string) error {
	p, err := NormalizePath(path)
	if err != nil {
		return err
	}
	if p == "" {
		return fmt.Errorf("rmdir: cannot remove the root: %w", ErrInvalidPath)
	}

	e, err := s.cache.Get(ctx, p)
	if err != nil {
		return fmt.Errorf("rmdir %s: %w", p, err)
	}
	if !e.IsDir() {
		return fmt.Errorf("rmdir %s: %w", p, ErrNotDirectory)
	}

	return s.rmdir(ctx, p)
}

func (s *Storage) rmdir(ctx context.Context, p string) error {
	children, err := s.cache.GetFolderContents(ctx, p)
	if err != nil {
		return fmt.Errorf("rmdir %s: %w", p, err)
	}

	for _, c := range children {
		if c.IsDir() {
			err = s.rmdir(ctx, c.Path)
		} else {
			err = s.unlinkEntry(ctx, c)
		}
		if err != nil {
			return err
		}
	}

	if err := s.cache.Remove(ctx, p); err != nil {
		return fmt.Errorf("rmdir %s: %w", p, err)
	}
	return nil
}

// Unlink deletes a file, or a directory with everything in it. The object
// is deleted before the row; an object that is already gone still lets the
// row go.
func (s *Storage) Unlink(ctx context.Context, path string) error {
	p, err := NormalizePath(path)
	if err != nil {
		return err
	}

	e, err := s.cache.Get(ctx, p)
	if err != nil {
		return fmt.Errorf("unlink %s: %w", p, err)
	}
	if e.IsDir() {
		if p == "" {
			return fmt.Errorf("unlink: cannot remove the root: %w", ErrInvalidPath)
		}
		return s.rmdir(ctx, p)
	}

	return s.unlinkEntry(ctx, e)
}

func (s *Storage) unlinkEntry(ctx context.Context, e Entry) error {
	urn := s.urn(e.ID)
	if err := s.store.DeleteObject(ctx, urn); err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Error("failed to delete object", "path", e.Path, "urn", urn, "err", err)
			return fmt.Errorf("unlink %s: %w", e.Path, err)
		}
		s.logger.Warn("object already gone, removing cache entry", "path", e.Path, "urn", urn)
	}

	if err := s.cache.Remove(ctx, e.Path); err != nil {
		return fmt.Errorf("unlink %s: %w", e.Path, err)
	}
	return nil
}

// Rename moves rows only; object keys derive from ids, which a move keeps.
// An existing target is removed first.
func (s *Storage) Rename(ctx context.Context, src, dst string) error {
	sp, dp, err := s.transferPaths(ctx, "rename", src, dst)
	if err != nil || sp == dp {
		return err
	}

	if err := s.removeTarget(ctx, dp); err != nil {
		return fmt.Errorf("rename %s: %w", dp, err)
	}

	if err := s.cache.Move(ctx, sp, dp); err != nil {
		return fmt.Errorf("rename %s to %s: %w", sp, dp, err)
	}

	return s.touchDir(ctx, ParentPath(dp))
}

// Copy duplicates a file or a directory tree. Each copied file gets its
// own row, then its object is copied on the backend.
func (s *Storage) Copy(ctx context.Context, src, dst string) error {
	sp, dp, err := s.transferPaths(ctx, "copy", src, dst)
	if err != nil || sp == dp {
		return err
	}

	e, err := s.cache.Get(ctx, sp)
	if err != nil {
		return fmt.Errorf("copy %s: %w", sp, err)
	}

	if err := s.removeTarget(ctx, dp); err != nil {
		return fmt.Errorf("copy %s: %w", dp, err)
	}

	return s.copyInner(ctx, e, dp)
}

func (s *Storage) copyInner(ctx context.Context, e Entry, dst string) error {
	if !e.IsDir() {
		return s.copyFile(ctx, e, dst)
	}

	if err := s.mkdir(ctx, dst); err != nil {
		return fmt.Errorf("copy %s: %w", e.Path, err)
	}

	children, err := s.cache.GetFolderContents(ctx, e.Path)
	if err != nil {
		return fmt.Errorf("copy %s: %w", e.Path, err)
	}
	for _, c := range children {
		if err := s.copyInner(ctx, c, dst+"/"+c.Name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) copyFile(ctx context.Context, e Entry, dst string) error {
	id, err := s.cache.Put(ctx, dst, Entry{
		MimeType:     e.MimeType,
		Size:         e.Size,
		MTime:        e.MTime,
		StorageMTime: e.StorageMTime,
		Permissions:  e.Permissions,
		ETag:         newETag(),
	})
	if err != nil {
		return fmt.Errorf("copy %s: %w", e.Path, err)
	}

	from, to := s.urn(e.ID), s.urn(id)
	if err := s.store.CopyObject(ctx, from, to); err != nil {
		s.removeRow(dst)
		return fmt.Errorf("copy %s to %s: %w", e.Path, dst, err)
	}
	return nil
}

// transferPaths validates the source and target of a rename or copy.
func (s *Storage) transferPaths(ctx context.Context, op, src, dst string) (string, string, error) {
	sp, err := NormalizePath(src)
	if err != nil {
		return "", "", err
	}
	dp, err := NormalizePath(dst)
	if err != nil {
		return "", "", err
	}
	if sp == "" || dp == "" {
		return "", "", fmt.Errorf("%s: root cannot be a source or target: %w", op, ErrInvalidPath)
	}

	if _, err := s.cache.Get(ctx, sp); err != nil {
		return "", "", fmt.Errorf("%s %s: %w", op, sp, err)
	}
	if sp == dp {
		return sp, dp, nil
	}
	if IsWithin(dp, sp) {
		return "", "", fmt.Errorf("%s %s into itself: %w", op, sp, ErrInvalidPath)
	}
	if IsWithin(sp, dp) {
		return "", "", fmt.Errorf("%s %s onto its ancestor %s: %w", op, sp, dp, ErrInvalidPath)
	}

	pe, err := s.cache.Get(ctx, ParentPath(dp))
	if err != nil {
		return "", "", fmt.Errorf("%s %s: parent: %w", op, dp, err)
	}
	if !pe.IsDir() {
		return "", "", fmt.Errorf("%s %s: parent: %w", op, dp, ErrNotDirectory)
	}

	return sp, dp, nil
}

func (s *Storage) removeTarget(ctx context.Context, p string) error {
	e, err := s.cache.Get(ctx, p)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return err
	case e.IsDir():
		return s.rmdir(ctx, p)
	default:
		return s.unlinkEntry(ctx, e)
	}
}

// Touch sets the mtime of an existing entry, or creates an empty file. A
// zero mtime means now.
func (s *Storage) Touch(ctx context.Context, path string, mtime time.Time) error {
	p, err := NormalizePath(path)
	if err != nil {
		return err
	}
	if mtime.IsZero() {
		mtime = s.now()
	}

	if p != "" {
		pe, err := s.cache.Get(ctx, ParentPath(p))
		if err != nil {
			return fmt.Errorf("touch %s: parent: %w", p, err)
		}
		if !pe.IsDir() {
			return fmt.Errorf("touch %s: parent: %w", p, ErrNotDirectory)
		}
	}

	e, err := s.cache.Get(ctx, p)
	switch {
	case err == nil:
		if err := s.cache.Update(ctx, e.ID, EntryUpdate{MTime: &mtime}); err != nil {
			return fmt.Errorf("touch %s: %w", p, err)
		}
		return nil
	case !errors.Is(err, ErrNotFound):
		return fmt.Errorf("touch %s: %w", p, err)
	}

	mimeType := s.detector.DetectPath(p)
	id, err := s.cache.Put(ctx, p, Entry{
		MimeType:     mimeType,
		Size:         0,
		MTime:        mtime,
		StorageMTime: mtime,
		Permissions:  PermissionFile,
		ETag:         newETag(),
	})
	if err != nil {
		return fmt.Errorf("touch %s: %w", p, err)
	}

	if err := s.store.WriteObject(ctx, s.urn(id), bytes.NewReader(nil), mimeType); err != nil {
		s.removeRow(p)
		return fmt.Errorf("touch %s: %w", p, err)
	}
	return nil
}

func (s *Storage) touchDir(ctx context.Context, p string) error {
	e, err := s.cache.Get(ctx, p)
	if err != nil {
		return fmt.Errorf("touch %s: %w", p, err)
	}
	now := s.now()
	return s.cache.Update(ctx, e.ID, EntryUpdate{MTime: &now})
}

// removeRow drops a row that no longer matches the backend. It runs on a
// fresh context so a canceled request still cleans up.
func (s *Storage) removeRow(p string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := s.cache.Remove(ctx, p); err != nil {
		s.logger.Error("failed to remove cache entry after backend failure", "path", p, "err", err)
	}
}

func newETag() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
