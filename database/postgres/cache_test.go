package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/sagarc03/stowfs"
	"github.com/sagarc03/stowfs/database/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_PutGet(t *testing.T) {
	ctx := context.Background()
	c := setupTestCache(t)

	docs := putDir(t, c, "docs")
	mtime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id, err := c.Put(ctx, "docs/a.txt", stowfs.Entry{
		MimeType:     "text/plain",
		Size:         5,
		MTime:        mtime,
		StorageMTime: mtime,
		Permissions:  stowfs.PermissionFile,
		ETag:         "abc",
	})
	require.NoError(t, err)

	e, err := c.Get(ctx, "docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, id, e.ID)
	assert.Equal(t, docs, e.Parent)
	assert.Equal(t, "a.txt", e.Name)
	assert.Equal(t, "text/plain", e.MimeType)
	assert.Equal(t, int64(5), e.Size)
	assert.True(t, mtime.Equal(e.MTime))
	assert.Equal(t, stowfs.PermissionFile, e.Permissions)

	byID, err := c.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, e, byID)

	root, err := c.Get(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, stowfs.RootParent, root.Parent)
	assert.True(t, root.IsDir())
}

func TestCache_PutValidatesParent(t *testing.T) {
	ctx := context.Background()
	c := setupTestCache(t)

	_, err := c.Put(ctx, "missing/a.txt", stowfs.Entry{MimeType: "text/plain"})
	assert.ErrorIs(t, err, stowfs.ErrNotFound)

	putFile(t, c, "file.txt", 1)
	_, err = c.Put(ctx, "file.txt/child", stowfs.Entry{MimeType: "text/plain"})
	assert.ErrorIs(t, err, stowfs.ErrNotDirectory)
}

func TestCache_PutExistingKeepsID(t *testing.T) {
	ctx := context.Background()
	c := setupTestCache(t)

	first := putFile(t, c, "a.txt", 1)
	second, err := c.Put(ctx, "a.txt", stowfs.Entry{MimeType: "text/markdown", Size: 9, ETag: "new"})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	e, err := c.Get(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "text/markdown", e.MimeType)
	assert.Equal(t, int64(9), e.Size)
}

func TestCache_GetMissing(t *testing.T) {
	c := setupTestCache(t)

	_, err := c.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, stowfs.ErrNotFound)

	_, err = c.GetByID(context.Background(), 999)
	assert.ErrorIs(t, err, stowfs.ErrNotFound)
}

func TestCache_SizePropagation(t *testing.T) {
	ctx := context.Background()
	c := setupTestCache(t)

	putDir(t, c, "docs")
	putDir(t, c, "docs/sub")
	putFile(t, c, "docs/a.txt", 5)
	b := putFile(t, c, "docs/sub/b.txt", 7)
	putFile(t, c, "docs/sub/partial.bin", stowfs.SizeIncomplete)

	assertSize(t, c, "docs/sub", 7)
	assertSize(t, c, "docs", 12)
	assertSize(t, c, "", 12)

	size := int64(10)
	require.NoError(t, c.Update(ctx, b, stowfs.EntryUpdate{Size: &size}))
	assertSize(t, c, "docs/sub", 10)
	assertSize(t, c, "", 15)

	require.NoError(t, c.Remove(ctx, "docs/sub"))
	assertSize(t, c, "docs", 5)
	assertSize(t, c, "", 5)
}

func assertSize(t *testing.T, c stowfs.Cache, path string, want int64) {
	t.Helper()
	e, err := c.Get(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, want, e.Size, "size of %q", path)
}

func TestCache_Update(t *testing.T) {
	ctx := context.Background()
	c := setupTestCache(t)

	id := putFile(t, c, "a.txt", 3)
	mtime := time.Date(2025, 12, 24, 8, 0, 0, 0, time.UTC)
	etag := "changed"
	require.NoError(t, c.Update(ctx, id, stowfs.EntryUpdate{MTime: &mtime, ETag: &etag}))

	e, err := c.Get(ctx, "a.txt")
	require.NoError(t, err)
	assert.True(t, mtime.Equal(e.MTime))
	assert.Equal(t, "changed", e.ETag)
	assert.Equal(t, int64(3), e.Size)

	assert.NoError(t, c.Update(ctx, id, stowfs.EntryUpdate{}))
	assert.ErrorIs(t, c.Update(ctx, 12345, stowfs.EntryUpdate{ETag: &etag}), stowfs.ErrNotFound)
}

func TestCache_MoveSubtree(t *testing.T) {
	ctx := context.Background()
	c := setupTestCache(t)

	putDir(t, c, "docs")
	putDir(t, c, "docs/sub")
	a := putFile(t, c, "docs/sub/a.txt", 4)
	putDir(t, c, "archive")
	docsx := putFile(t, c, "docsx", 1)

	require.NoError(t, c.Move(ctx, "docs", "archive/2026"))

	moved, err := c.Get(ctx, "archive/2026/sub/a.txt")
	require.NoError(t, err)
	assert.Equal(t, a, moved.ID)

	_, err = c.Get(ctx, "docs/sub/a.txt")
	assert.ErrorIs(t, err, stowfs.ErrNotFound)

	sibling, err := c.Get(ctx, "docsx")
	require.NoError(t, err)
	assert.Equal(t, docsx, sibling.ID, "prefix sibling must not move")

	renamed, err := c.Get(ctx, "archive/2026")
	require.NoError(t, err)
	assert.Equal(t, "2026", renamed.Name)

	assertSize(t, c, "archive", 4)
	assertSize(t, c, "", 5)
}

func TestCache_MoveUnicode(t *testing.T) {
	ctx := context.Background()
	c := setupTestCache(t)

	putDir(t, c, "Übersicht")
	id := putFile(t, c, "Übersicht/年报.pdf", 2)

	require.NoError(t, c.Move(ctx, "Übersicht", "Résumé"))

	e, err := c.Get(ctx, "Résumé/年报.pdf")
	require.NoError(t, err)
	assert.Equal(t, id, e.ID)
}

func TestCache_MoveErrors(t *testing.T) {
	ctx := context.Background()
	c := setupTestCache(t)

	putFile(t, c, "a.txt", 1)
	putFile(t, c, "b.txt", 1)

	assert.ErrorIs(t, c.Move(ctx, "missing", "x"), stowfs.ErrNotFound)
	assert.ErrorIs(t, c.Move(ctx, "a.txt", "b.txt"), stowfs.ErrExists)
	assert.ErrorIs(t, c.Move(ctx, "a.txt", "nodir/a.txt"), stowfs.ErrNotFound)
	assert.ErrorIs(t, c.Move(ctx, "a.txt", "b.txt/a.txt"), stowfs.ErrNotDirectory)
	assert.ErrorIs(t, c.Move(ctx, "", "x"), stowfs.ErrInvalidPath)
}

func TestCache_Remove(t *testing.T) {
	ctx := context.Background()
	c := setupTestCache(t)

	putDir(t, c, "a_b")
	putFile(t, c, "a_b/f", 1)
	putDir(t, c, "axb")
	putFile(t, c, "axb/f", 1)

	require.NoError(t, c.Remove(ctx, "a_b"))

	_, err := c.Get(ctx, "a_b/f")
	assert.ErrorIs(t, err, stowfs.ErrNotFound)
	_, err = c.Get(ctx, "axb/f")
	assert.NoError(t, err, "LIKE wildcards must be escaped")

	assert.NoError(t, c.Remove(ctx, "a_b"), "removing a missing path is not an error")
}

func TestCache_GetFolderContents(t *testing.T) {
	ctx := context.Background()
	c := setupTestCache(t)

	putDir(t, c, "docs")
	putFile(t, c, "docs/b.txt", 1)
	putFile(t, c, "docs/a.txt", 1)
	putDir(t, c, "docs/c")
	putFile(t, c, "docs/c/deep.txt", 1)

	children, err := c.GetFolderContents(ctx, "docs")
	require.NoError(t, err)

	var names []string
	for _, ch := range children {
		names = append(names, ch.Name)
	}
	assert.Equal(t, []string{"a.txt", "b.txt", "c"}, names)

	_, err = c.GetFolderContents(ctx, "docs/a.txt")
	assert.ErrorIs(t, err, stowfs.ErrNotDirectory)

	empty, err := c.GetFolderContents(ctx, "docs/c/..missing")
	assert.ErrorIs(t, err, stowfs.ErrNotFound)
	assert.Nil(t, empty)
}

func TestCache_ListIncomplete(t *testing.T) {
	ctx := context.Background()
	c := setupTestCache(t)

	putDir(t, c, "a")
	putFile(t, c, "a/x", stowfs.SizeIncomplete)
	putFile(t, c, "a/y", 3)
	putFile(t, c, "b", stowfs.SizeIncomplete)
	putDir(t, c, "a/z")
	putFile(t, c, "a/z/q", stowfs.SizeIncomplete)

	entries, err := c.ListIncomplete(ctx)
	require.NoError(t, err)

	var paths []string
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"b", "a/z/q", "a/x"}, paths)
}

func TestCache_CorrectFolderSize(t *testing.T) {
	ctx := context.Background()
	c := setupTestCache(t)

	dir := putDir(t, c, "docs")
	putFile(t, c, "docs/a.txt", 6)

	broken := stowfs.SizeIncomplete
	require.NoError(t, c.Update(ctx, dir, stowfs.EntryUpdate{Size: &broken}))
	assertSize(t, c, "docs", stowfs.SizeIncomplete)

	require.NoError(t, c.CorrectFolderSize(ctx, "docs"))
	assertSize(t, c, "docs", 6)
	assertSize(t, c, "", 6)
}

func TestCache_StorageIsolation(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	alice := db.Cache("object::user:alice")
	bob := db.Cache("object::user:bob")
	putDir(t, alice, "")
	putDir(t, bob, "")

	putFile(t, alice, "a.txt", 1)

	_, err := bob.Get(ctx, "a.txt")
	assert.ErrorIs(t, err, stowfs.ErrNotFound)

	putFile(t, bob, "a.txt", 2)
	assertSize(t, alice, "", 1)
	assertSize(t, bob, "", 2)
}

func TestPreferences(t *testing.T) {
	ctx := context.Background()
	prefs := setupTestDB(t).Preferences()

	_, err := prefs.GetUserValue(ctx, "alice", "homeobjectstore", "objectstore")
	assert.ErrorIs(t, err, stowfs.ErrNotFound)

	require.NoError(t, prefs.SetUserValue(ctx, "alice", "homeobjectstore", "objectstore", "s3-eu"))
	v, err := prefs.GetUserValue(ctx, "alice", "homeobjectstore", "objectstore")
	require.NoError(t, err)
	assert.Equal(t, "s3-eu", v)

	require.NoError(t, prefs.SetUserValue(ctx, "alice", "homeobjectstore", "objectstore", "s3-us"))
	v, err = prefs.GetUserValue(ctx, "alice", "homeobjectstore", "objectstore")
	require.NoError(t, err)
	assert.Equal(t, "s3-us", v)

	_, err = prefs.GetUserValue(ctx, "bob", "homeobjectstore", "objectstore")
	assert.ErrorIs(t, err, stowfs.ErrNotFound)
}

func TestDB_ValidateSchema(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, db.Validate(context.Background()))
	assert.NoError(t, db.Ping(context.Background()))
}

func TestDropTables(t *testing.T) {
	ctx := context.Background()
	pool := getSharedTestDatabase(t)

	suffix := getRandomString(t)
	tables := stowfs.Tables{FileCache: "fc_" + suffix, Preferences: "pref_" + suffix}
	require.NoError(t, postgres.Migrate(ctx, pool, tables))
	require.NoError(t, postgres.ValidateSchema(ctx, pool, tables))

	require.NoError(t, postgres.DropTables(ctx, pool, tables))
	assert.Error(t, postgres.ValidateSchema(ctx, pool, tables), "dropped tables must fail validation")

	require.NoError(t, postgres.Migrate(ctx, pool, tables), "migrate after drop")
	require.NoError(t, postgres.Migrate(ctx, pool, tables), "migrate is idempotent")
	require.NoError(t, postgres.DropTables(ctx, pool, tables))
}
