package stowfs_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sagarc03/stowfs"
)

// memStore is an in-memory ObjectStore that records every call and can be
// told to fail selected operations.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	calls   []string

	failWrite  error
	failRead   error
	failDelete error
	failCopy   error

	uploads  map[string]*memUpload
	nextID   int
	failPart map[int]error
	// completeSize overrides the size returned by CompleteMultipartUpload.
	completeSize *int64
	failComplete error
	aborted      []string
}

type memUpload struct {
	urn   string
	parts map[int][]byte
}

func newMemStore() *memStore {
	return &memStore{
		objects: make(map[string][]byte),
		uploads: make(map[string]*memUpload),
	}
}

func (m *memStore) record(call string) {
	m.calls = append(m.calls, call)
}

func (m *memStore) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

func (m *memStore) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *memStore) Object(urn string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[urn]
	return b, ok
}

func (m *memStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

func (m *memStore) StorageID() string { return "memory::test" }

func (m *memStore) ReadObject(_ context.Context, urn string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("read " + urn)
	if m.failRead != nil {
		return nil, m.failRead
	}
	b, ok := m.objects[urn]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", urn, stowfs.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memStore) WriteObject(_ context.Context, urn string, r io.Reader, _ string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("write " + urn)
	if m.failWrite != nil {
		return m.failWrite
	}
	m.objects[urn] = b
	return nil
}

func (m *memStore) DeleteObject(_ context.Context, urn string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("delete " + urn)
	if m.failDelete != nil {
		return m.failDelete
	}
	if _, ok := m.objects[urn]; !ok {
		return fmt.Errorf("delete %s: %w", urn, stowfs.ErrNotFound)
	}
	delete(m.objects, urn)
	return nil
}

func (m *memStore) ObjectExists(_ context.Context, urn string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("exists " + urn)
	_, ok := m.objects[urn]
	return ok, nil
}

func (m *memStore) CopyObject(_ context.Context, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("copy " + from + " " + to)
	if m.failCopy != nil {
		return m.failCopy
	}
	b, ok := m.objects[from]
	if !ok {
		return fmt.Errorf("copy %s: %w", from, stowfs.ErrNotFound)
	}
	m.objects[to] = slices.Clone(b)
	return nil
}

func (m *memStore) StatObject(_ context.Context, urn string) (stowfs.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("stat " + urn)
	b, ok := m.objects[urn]
	if !ok {
		return stowfs.ObjectInfo{}, fmt.Errorf("stat %s: %w", urn, stowfs.ErrNotFound)
	}
	return stowfs.ObjectInfo{URN: urn, Size: int64(len(b)), LastModified: time.Now()}, nil
}

func (m *memStore) ListObjects(_ context.Context, prefix string) ([]stowfs.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []stowfs.ObjectInfo
	for urn, b := range m.objects {
		if strings.HasPrefix(urn, prefix) {
			out = append(out, stowfs.ObjectInfo{URN: urn, Size: int64(len(b))})
		}
	}
	slices.SortFunc(out, func(a, b stowfs.ObjectInfo) int { return strings.Compare(a.URN, b.URN) })
	return out, nil
}

func (m *memStore) InitiateMultipartUpload(_ context.Context, urn, _ string) (*stowfs.UploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("upload-%d", m.nextID)
	m.uploads[id] = &memUpload{urn: urn, parts: make(map[int][]byte)}
	m.record("initiate " + urn)
	return stowfs.NewUploadSession(id, urn, ""), nil
}

func (m *memStore) UploadPart(_ context.Context, s *stowfs.UploadSession, number int, body io.ReadSeeker, size int64) (stowfs.Part, error) {
	b, err := io.ReadAll(body)
	if err != nil {
		return stowfs.Part{}, err
	}
	if int64(len(b)) != size {
		return stowfs.Part{}, fmt.Errorf("part %d: got %d bytes, want %d", number, len(b), size)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failPart[number]; err != nil {
		return stowfs.Part{}, err
	}
	up, ok := m.uploads[s.UploadID]
	if !ok {
		return stowfs.Part{}, fmt.Errorf("upload %s: %w", s.UploadID, stowfs.ErrNotFound)
	}
	up.parts[number] = b
	return stowfs.Part{Number: number, Size: size, ETag: fmt.Sprintf("etag-%d", number)}, nil
}

func (m *memStore) CompleteMultipartUpload(_ context.Context, s *stowfs.UploadSession) (int64, error) {
	parts, err := s.Parts()
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(fmt.Sprintf("complete %s %d", s.URN, len(parts)))
	if m.failComplete != nil {
		return 0, m.failComplete
	}
	if len(parts) == 0 {
		return 0, errors.New("MalformedXML: at least one part required")
	}
	up := m.uploads[s.UploadID]
	var buf bytes.Buffer
	for _, p := range parts {
		buf.Write(up.parts[p.Number])
	}
	m.objects[up.urn] = buf.Bytes()
	delete(m.uploads, s.UploadID)
	if m.completeSize != nil {
		return *m.completeSize, nil
	}
	return int64(buf.Len()), nil
}

func (m *memStore) AbortMultipartUpload(_ context.Context, s *stowfs.UploadSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aborted = append(m.aborted, s.UploadID)
	delete(m.uploads, s.UploadID)
	return nil
}

func (m *memStore) ListParts(_ context.Context, s *stowfs.UploadSession) ([]stowfs.Part, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.uploads[s.UploadID]
	if !ok {
		return nil, fmt.Errorf("upload %s: %w", s.UploadID, stowfs.ErrNotFound)
	}
	var out []stowfs.Part
	for n, b := range up.parts {
		out = append(out, stowfs.Part{Number: n, Size: int64(len(b))})
	}
	slices.SortFunc(out, func(a, b stowfs.Part) int { return a.Number - b.Number })
	return out, nil
}

func (m *memStore) put(ctx context.Context, urn string, body io.ReadSeeker, _ int64, mimeType string) error {
	return m.WriteObject(ctx, urn, body, mimeType)
}

// streamOnly hides the optional interfaces of the wrapped store.
type streamOnly struct {
	stowfs.ObjectStore
}
