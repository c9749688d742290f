package sqlite_test

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"testing"

	"github.com/sagarc03/stowfs"
	"github.com/sagarc03/stowfs/database/sqlite"
	"github.com/stretchr/testify/require"
)

func getRandomString(t *testing.T) string {
	t.Helper()
	n, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	require.NoError(t, err, "random string")
	return fmt.Sprintf("test%x", n.Int64())
}

// setupTestDB creates a migrated in-memory database with unique table names
func setupTestDB(t *testing.T) *sqlite.DB {
	t.Helper()

	ctx := context.Background()
	suffix := getRandomString(t)
	tables := stowfs.Tables{
		FileCache:   fmt.Sprintf("filecache_%s", suffix),
		Preferences: fmt.Sprintf("preferences_%s", suffix),
	}

	db, err := sqlite.Connect(ctx, ":memory:", tables)
	require.NoError(t, err, "failed to connect")

	err = db.Migrate(ctx)
	require.NoError(t, err, "failed to migrate")

	t.Cleanup(func() { _ = db.Close() })
	return db
}

// setupTestCache returns a cache with an initialized root directory
func setupTestCache(t *testing.T) stowfs.Cache {
	t.Helper()

	c := setupTestDB(t).Cache("object::user:alice")
	putDir(t, c, "")
	return c
}

func putDir(t *testing.T, c stowfs.Cache, path string) int64 {
	t.Helper()
	id, err := c.Put(context.Background(), path, stowfs.Entry{
		MimeType:    stowfs.MimeTypeDirectory,
		Permissions: stowfs.PermissionAll,
		ETag:        "e-" + path,
	})
	require.NoError(t, err, "put dir %q", path)
	return id
}

func putFile(t *testing.T, c stowfs.Cache, path string, size int64) int64 {
	t.Helper()
	id, err := c.Put(context.Background(), path, stowfs.Entry{
		MimeType:    "text/plain",
		Size:        size,
		Permissions: stowfs.PermissionFile,
		ETag:        "e-" + path,
	})
	require.NoError(t, err, "put file %q", path)
	return id
}
