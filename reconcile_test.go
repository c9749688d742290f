package stowfs_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/sagarc03/stowfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	ts := setupStorage(t)

	require.NoError(t, ts.Mkdir(ctx, "docs"))
	ts.writeFile(t, "docs/a.txt", "a")
	gone := ts.writeFile(t, "docs/b.txt", "b")
	require.NoError(t, ts.store.DeleteObject(ctx, ts.URN(gone.ID)))
	require.NoError(t, ts.store.WriteObject(ctx, "urn:oid:9999", bytes.NewReader([]byte("orphan")), ""))
	require.NoError(t, ts.store.WriteObject(ctx, "other/1", bytes.NewReader([]byte("elsewhere")), ""))

	report, err := stowfs.Reconcile(ctx, ts.Storage, "urn:oid:")
	require.NoError(t, err)

	assert.Equal(t, 2, report.Checked)
	require.Len(t, report.Dangling, 1)
	assert.Equal(t, "docs/b.txt", report.Dangling[0].Path)
	require.Len(t, report.Orphans, 1)
	assert.Equal(t, "urn:oid:9999", report.Orphans[0].URN)
	assert.Equal(t, int64(6), report.Orphans[0].Size)

	ok, err := ts.FileExists(ctx, "docs/b.txt")
	require.NoError(t, err)
	assert.True(t, ok, "reconcile only reports")
}

func TestReconcile_Clean(t *testing.T) {
	ctx := context.Background()
	ts := setupStorage(t)
	ts.writeFile(t, "a.txt", "a")

	report, err := stowfs.Reconcile(ctx, ts.Storage, "urn:oid:")
	require.NoError(t, err)
	assert.Empty(t, report.Orphans)
	assert.Empty(t, report.Dangling)
	assert.Equal(t, 1, report.Checked)
}

func TestReconcile_RequiresLister(t *testing.T) {
	ctx := context.Background()
	st, err := stowfs.NewStorage(ctx, streamOnly{newMemStore()}, newTestDB(t), stowfs.Options{UserID: "alice"})
	require.NoError(t, err)

	_, err = stowfs.Reconcile(ctx, st, "")
	assert.ErrorIs(t, err, stowfs.ErrNotSupported)
}
