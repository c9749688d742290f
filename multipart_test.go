package stowfs_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sagarc03/stowfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mib = 1 << 20

func newUploader(store *memStore, opts stowfs.UploadOptions) *stowfs.MultipartUploader {
	return &stowfs.MultipartUploader{Store: store, Put: store.put, Options: opts}
}

func TestMultipartUploader_SplitsIntoParts(t *testing.T) {
	store := newMemStore()
	u := newUploader(store, stowfs.UploadOptions{PartSize: 4 * mib, Concurrency: 2})

	payload := bytes.Repeat([]byte("0123456789abcdef"), 10*mib/16)
	require.Len(t, payload, 10485760)

	size, err := u.Upload(context.Background(), "urn:oid:1", bytes.NewReader(payload), "application/octet-stream")
	require.NoError(t, err)
	assert.Equal(t, int64(10485760), size)

	got, ok := store.Object("urn:oid:1")
	require.True(t, ok)
	assert.Equal(t, payload, got)
	assert.Contains(t, store.Calls(), "complete urn:oid:1 3")
}

func TestMultipartUploader_SinglePutBelowThreshold(t *testing.T) {
	store := newMemStore()
	u := newUploader(store, stowfs.UploadOptions{PartSize: 4 * mib})

	size, err := u.Upload(context.Background(), "urn:oid:2", bytes.NewReader([]byte("hello")), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)
	assert.Equal(t, []string{"write urn:oid:2"}, store.Calls())
}

func TestMultipartUploader_ExactPartBoundary(t *testing.T) {
	store := newMemStore()
	u := newUploader(store, stowfs.UploadOptions{PartSize: mib, SinglePutThreshold: -1})

	payload := bytes.Repeat([]byte{7}, 2*mib)
	size, err := u.Upload(context.Background(), "urn:oid:3", bytes.NewReader(payload), "")
	require.NoError(t, err)
	assert.Equal(t, int64(2*mib), size)
	assert.Contains(t, store.Calls(), "complete urn:oid:3 2")
}

func TestMultipartUploader_EmptyStreamFallsBackToPut(t *testing.T) {
	store := newMemStore()
	u := newUploader(store, stowfs.UploadOptions{PartSize: mib, SinglePutThreshold: -1})

	size, err := u.Upload(context.Background(), "urn:oid:4", bytes.NewReader(nil), "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)

	got, ok := store.Object("urn:oid:4")
	require.True(t, ok)
	assert.Empty(t, got)
	assert.Len(t, store.aborted, 1)
}

func TestMultipartUploader_PartFailureAborts(t *testing.T) {
	store := newMemStore()
	store.failPart = map[int]error{2: errors.New("connection reset")}
	u := newUploader(store, stowfs.UploadOptions{PartSize: mib, Concurrency: 1})

	_, err := u.Upload(context.Background(), "urn:oid:5", bytes.NewReader(make([]byte, 3*mib)), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "part 2")

	_, ok := store.Object("urn:oid:5")
	assert.False(t, ok)
	assert.Len(t, store.aborted, 1)
}

func TestMultipartUploader_SizeMismatchIsConsistencyError(t *testing.T) {
	store := newMemStore()
	wrong := int64(1)
	store.completeSize = &wrong
	u := newUploader(store, stowfs.UploadOptions{PartSize: mib})

	_, err := u.Upload(context.Background(), "urn:oid:6", bytes.NewReader(make([]byte, 2*mib)), "")
	assert.ErrorIs(t, err, stowfs.ErrConsistency)
}

type failingReader struct {
	data []byte
	err  error
}

func (f *failingReader) Read(p []byte) (int, error) {
	if len(f.data) == 0 {
		return 0, f.err
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

func TestMultipartUploader_ReadErrorAborts(t *testing.T) {
	store := newMemStore()
	u := newUploader(store, stowfs.UploadOptions{PartSize: mib})

	r := &failingReader{data: make([]byte, mib+10), err: io.ErrClosedPipe}
	_, err := u.Upload(context.Background(), "urn:oid:7", r, "")
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.Len(t, store.aborted, 1)
}

func TestUploadSession(t *testing.T) {
	t.Run("parts are sorted", func(t *testing.T) {
		s := stowfs.NewUploadSession("id", "urn:oid:1", "")
		require.NoError(t, s.Record(stowfs.Part{Number: 3}))
		require.NoError(t, s.Record(stowfs.Part{Number: 1}))
		require.NoError(t, s.Record(stowfs.Part{Number: 2}))

		parts, err := s.Parts()
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3}, []int{parts[0].Number, parts[1].Number, parts[2].Number})
		assert.Equal(t, stowfs.UploadInProgress, s.State())
	})

	t.Run("duplicate part numbers rejected", func(t *testing.T) {
		s := stowfs.NewUploadSession("id", "urn:oid:1", "")
		require.NoError(t, s.Record(stowfs.Part{Number: 1}))
		require.NoError(t, s.Record(stowfs.Part{Number: 1}))

		_, err := s.Parts()
		assert.ErrorIs(t, err, stowfs.ErrConsistency)
	})

	t.Run("non-positive part number rejected", func(t *testing.T) {
		s := stowfs.NewUploadSession("id", "urn:oid:1", "")
		assert.Error(t, s.Record(stowfs.Part{Number: 0}))
	})

	t.Run("no parts after completion", func(t *testing.T) {
		s := stowfs.NewUploadSession("id", "urn:oid:1", "")
		s.MarkCompleted()
		assert.Error(t, s.Record(stowfs.Part{Number: 1}))
	})

	t.Run("encryption fingerprint must match", func(t *testing.T) {
		s := stowfs.NewUploadSession("id", "urn:oid:1", "md5-a")
		assert.NoError(t, s.CheckEncryption("md5-a"))
		assert.ErrorIs(t, s.CheckEncryption("md5-b"), stowfs.ErrConfiguration)
	})
}
