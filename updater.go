package stowfs

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Updater keeps the cache in step after changes made through a storage.
type Updater interface {
	Update(ctx context.Context, path string, mtime time.Time) error
	Remove(ctx context.Context, path string) error
	RenameFromStorage(ctx context.Context, src, dst string) error
}

// CacheUpdater is the generic updater: it refreshes the mtime of a changed
// entry and recomputes the sizes of its parents.
type CacheUpdater struct {
	cache  Cache
	logger *slog.Logger
}

func NewCacheUpdater(cache Cache, logger *slog.Logger) *CacheUpdater {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheUpdater{cache: cache, logger: logger}
}

func (u *CacheUpdater) Update(ctx context.Context, path string, mtime time.Time) error {
	p, err := NormalizePath(path)
	if err != nil {
		return err
	}

	e, err := u.cache.Get(ctx, p)
	if err != nil {
		return err
	}
	if !mtime.IsZero() {
		if err := u.cache.Update(ctx, e.ID, EntryUpdate{MTime: &mtime}); err != nil {
			return err
		}
	}
	return u.cache.CorrectFolderSize(ctx, ParentPath(p))
}

func (u *CacheUpdater) Remove(ctx context.Context, path string) error {
	p, err := NormalizePath(path)
	if err != nil {
		return err
	}
	return u.cache.Remove(ctx, p)
}

func (u *CacheUpdater) RenameFromStorage(ctx context.Context, src, dst string) error {
	sp, err := NormalizePath(src)
	if err != nil {
		return err
	}
	dp, err := NormalizePath(dst)
	if err != nil {
		return err
	}

	err = u.cache.Move(ctx, sp, dp)
	if errors.Is(err, ErrNotFound) {
		// Already moved by the storage itself.
		if _, gerr := u.cache.Get(ctx, dp); gerr == nil {
			return nil
		}
	}
	return err
}

// ObjectStoreUpdater suppresses the generic size and mtime refresh; the
// storage adapter records both itself.
type ObjectStoreUpdater struct {
	*CacheUpdater
}

func NewObjectStoreUpdater(cache Cache, logger *slog.Logger) *ObjectStoreUpdater {
	return &ObjectStoreUpdater{CacheUpdater: NewCacheUpdater(cache, logger)}
}

// Update does nothing.
func (u *ObjectStoreUpdater) Update(context.Context, string, time.Time) error {
	return nil
}

var (
	_ Updater = (*CacheUpdater)(nil)
	_ Updater = (*ObjectStoreUpdater)(nil)
)
