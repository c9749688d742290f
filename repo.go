package stowfs

import (
	"context"
	"strings"
)

// Cache is the metadata cache of one storage. It maps paths to entries
// whose ids derive the backend object keys, so the namespace lives here
// and nowhere else.
//
// Implementations are bound to a single storage id and must be safe for
// concurrent use. Directory sizes are maintained as the sum of their
// children; a directory with any incomplete child is itself incomplete.
type Cache interface {
	// Get returns the entry at path or ErrNotFound. The root is "".
	Get(ctx context.Context, path string) (Entry, error)

	// GetByID returns the entry with the given id or ErrNotFound.
	GetByID(ctx context.Context, id int64) (Entry, error)

	// Put creates or replaces the row at path and returns its id. An
	// existing row keeps its id. The parent directory must exist, except
	// for the root itself.
	Put(ctx context.Context, path string, e Entry) (int64, error)

	// Update applies a partial update to the row with the given id.
	Update(ctx context.Context, id int64, u EntryUpdate) error

	// Move renames src, and everything under it, to dst. Ids are kept.
	// It returns ErrNotFound when src or the parent of dst is missing and
	// ErrExists when dst is taken.
	Move(ctx context.Context, src, dst string) error

	// Remove deletes the row at path and all rows under it. Removing a
	// missing path is not an error.
	Remove(ctx context.Context, path string) error

	// GetFolderContents returns the direct children of the directory at
	// path, ordered by name.
	GetFolderContents(ctx context.Context, path string) ([]Entry, error)

	// ListIncomplete returns every row with an incomplete size, ordered
	// by path descending so children come before their parents.
	ListIncomplete(ctx context.Context) ([]Entry, error)

	// CorrectFolderSize recomputes the size of the directory at path and
	// of its ancestors from their children.
	CorrectFolderSize(ctx context.Context, path string) error
}

// CacheProvider hands out caches bound to one storage id.
type CacheProvider interface {
	Cache(storageID string) Cache
}

// AssignmentStore persists per-user preferences. The store resolver keeps
// the sticky user to store and user to bucket assignments here.
type AssignmentStore interface {
	// GetUserValue returns the stored value or ErrNotFound.
	GetUserValue(ctx context.Context, userID, app, key string) (string, error)
	// SetUserValue creates or replaces a value.
	SetUserValue(ctx context.Context, userID, app, key, value string) error
}

// TokenCache keeps authentication tokens between backend instances.
type TokenCache interface {
	Get(key string) (Token, bool)
	Set(key string, token Token)
}

// EscapeLikePattern escapes special LIKE characters (%, _, \) to prevent SQL injection.
func EscapeLikePattern(pattern string) string {
	pattern = strings.ReplaceAll(pattern, `\`, `\\`)
	pattern = strings.ReplaceAll(pattern, `%`, `\%`)
	pattern = strings.ReplaceAll(pattern, `_`, `\_`)
	return pattern
}
