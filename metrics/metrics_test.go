package metrics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagarc03/stowfs"
)

type mapStore struct {
	objects map[string][]byte
}

func newMapStore() *mapStore { return &mapStore{objects: make(map[string][]byte)} }

func (s *mapStore) StorageID() string { return "map::test" }

func (s *mapStore) ReadObject(_ context.Context, urn string) (io.ReadCloser, error) {
	b, ok := s.objects[urn]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", urn, stowfs.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *mapStore) WriteObject(_ context.Context, urn string, r io.Reader, _ string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.objects[urn] = b
	return nil
}

func (s *mapStore) DeleteObject(_ context.Context, urn string) error {
	if _, ok := s.objects[urn]; !ok {
		return fmt.Errorf("delete %s: %w", urn, stowfs.ErrNotFound)
	}
	delete(s.objects, urn)
	return nil
}

func (s *mapStore) ObjectExists(_ context.Context, urn string) (bool, error) {
	_, ok := s.objects[urn]
	return ok, nil
}

func (s *mapStore) CopyObject(_ context.Context, from, to string) error {
	b, ok := s.objects[from]
	if !ok {
		return fmt.Errorf("copy %s: %w", from, stowfs.ErrNotFound)
	}
	s.objects[to] = bytes.Clone(b)
	return nil
}

type statMapStore struct{ *mapStore }

func (s statMapStore) StatObject(_ context.Context, urn string) (stowfs.ObjectInfo, error) {
	b, ok := s.objects[urn]
	if !ok {
		return stowfs.ObjectInfo{}, stowfs.ErrNotFound
	}
	return stowfs.ObjectInfo{URN: urn, Size: int64(len(b))}, nil
}

func TestInstrument_CountsOperations(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := New(reg)
	store := m.Instrument(newMapStore(), "memory")

	require.NoError(t, store.WriteObject(ctx, "urn:oid:1", strings.NewReader("hello"), "text/plain"))
	require.NoError(t, store.CopyObject(ctx, "urn:oid:1", "urn:oid:2"))

	rc, err := store.ReadObject(ctx, "urn:oid:2")
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "hello", string(b))

	err = store.DeleteObject(ctx, "urn:oid:9")
	assert.ErrorIs(t, err, stowfs.ErrNotFound)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("memory", "write", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("memory", "copy", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("memory", "read", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("memory", "delete", "not_found")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.bytes.WithLabelValues("memory", "write")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.bytes.WithLabelValues("memory", "read")))
	assert.Equal(t, 4, testutil.CollectAndCount(m.duration))
}

func TestInstrument_OptionalInterfaces(t *testing.T) {
	ctx := context.Background()
	m := New(prometheus.NewRegistry())

	t.Run("unsupported", func(t *testing.T) {
		store := m.Instrument(newMapStore(), "memory")

		_, err := store.(stowfs.ObjectStater).StatObject(ctx, "urn:oid:1")
		assert.ErrorIs(t, err, stowfs.ErrNotSupported)
		_, err = store.(stowfs.ObjectLister).ListObjects(ctx, "")
		assert.ErrorIs(t, err, stowfs.ErrNotSupported)
		_, err = store.(stowfs.MultipartStore).InitiateMultipartUpload(ctx, "urn:oid:1", "")
		assert.ErrorIs(t, err, stowfs.ErrNotSupported)
	})

	t.Run("passes through", func(t *testing.T) {
		inner := statMapStore{newMapStore()}
		inner.objects["urn:oid:1"] = []byte("abc")
		store := m.Instrument(inner, "stat")

		info, err := store.(stowfs.ObjectStater).StatObject(ctx, "urn:oid:1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), info.Size)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("stat", "stat", "ok")))
	})
}

func TestInstrument_NoDoubleWrap(t *testing.T) {
	m := New(prometheus.NewRegistry())
	inner := newMapStore()

	once := m.Instrument(inner, "memory")
	twice := m.Instrument(once, "memory")

	assert.Same(t, inner, twice.(*instrumented).Unwrap())
	assert.Equal(t, "map::test", twice.StorageID())
}

func TestResult(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("x: %w", stowfs.ErrNotFound), "not_found"},
		{fmt.Errorf("x: %w", stowfs.ErrAuthFailure), "auth_failure"},
		{fmt.Errorf("x: %w", stowfs.ErrUnavailable), "unavailable"},
		{context.DeadlineExceeded, "canceled"},
		{io.ErrUnexpectedEOF, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, result(tt.err))
		})
	}
}
