// Package metrics provides Prometheus instrumentation for object stores.
package metrics

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sagarc03/stowfs"
)

const namespace = "stowfs"

// Metrics holds the collectors shared by every instrumented store.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	bytes      *prometheus.CounterVec
}

// New registers the object store collectors with reg. Passing
// prometheus.DefaultRegisterer exposes them on the default /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		operations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "objectstore_operations_total",
				Help:      "Total number of object store operations",
			},
			[]string{"kind", "op", "result"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "objectstore_operation_duration_seconds",
				Help:      "Object store operation latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind", "op"},
		),
		bytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "objectstore_bytes_total",
				Help:      "Bytes transferred to and from object stores",
			},
			[]string{"kind", "direction"},
		),
	}
}

// result buckets an error into a low cardinality label.
func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, stowfs.ErrNotFound):
		return "not_found"
	case errors.Is(err, stowfs.ErrAuthFailure):
		return "auth_failure"
	case errors.Is(err, stowfs.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, stowfs.ErrNotSupported):
		return "not_supported"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

func (m *Metrics) observe(kind, op string, start time.Time, err error) {
	m.duration.WithLabelValues(kind, op).Observe(time.Since(start).Seconds())
	m.operations.WithLabelValues(kind, op, result(err)).Inc()
}

// Instrument wraps store so every call is counted and timed under kind.
// The wrapper implements the optional ObjectStater, ObjectLister and
// MultipartStore interfaces; when store does not, those methods return
// stowfs.ErrNotSupported.
func (m *Metrics) Instrument(store stowfs.ObjectStore, kind string) stowfs.ObjectStore {
	if is, ok := store.(*instrumented); ok {
		store = is.next
	}
	return &instrumented{next: store, kind: kind, m: m}
}

type instrumented struct {
	next stowfs.ObjectStore
	kind string
	m    *Metrics
}

var (
	_ stowfs.ObjectStore    = (*instrumented)(nil)
	_ stowfs.ObjectStater   = (*instrumented)(nil)
	_ stowfs.ObjectLister   = (*instrumented)(nil)
	_ stowfs.MultipartStore = (*instrumented)(nil)
)

// Unwrap returns the instrumented store.
func (s *instrumented) Unwrap() stowfs.ObjectStore { return s.next }

func (s *instrumented) StorageID() string { return s.next.StorageID() }

func (s *instrumented) ReadObject(ctx context.Context, urn string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := s.next.ReadObject(ctx, urn)
	s.m.observe(s.kind, "read", start, err)
	if err != nil {
		return nil, err
	}
	return &countingReader{ReadCloser: rc, counter: s.m.bytes.WithLabelValues(s.kind, "read")}, nil
}

func (s *instrumented) WriteObject(ctx context.Context, urn string, r io.Reader, mimeType string) error {
	start := time.Now()
	cr := &countingReader{ReadCloser: io.NopCloser(r), counter: s.m.bytes.WithLabelValues(s.kind, "write")}
	err := s.next.WriteObject(ctx, urn, cr, mimeType)
	s.m.observe(s.kind, "write", start, err)
	return err
}

func (s *instrumented) DeleteObject(ctx context.Context, urn string) error {
	start := time.Now()
	err := s.next.DeleteObject(ctx, urn)
	s.m.observe(s.kind, "delete", start, err)
	return err
}

func (s *instrumented) ObjectExists(ctx context.Context, urn string) (bool, error) {
	start := time.Now()
	ok, err := s.next.ObjectExists(ctx, urn)
	s.m.observe(s.kind, "exists", start, err)
	return ok, err
}

func (s *instrumented) CopyObject(ctx context.Context, from, to string) error {
	start := time.Now()
	err := s.next.CopyObject(ctx, from, to)
	s.m.observe(s.kind, "copy", start, err)
	return err
}

func (s *instrumented) StatObject(ctx context.Context, urn string) (stowfs.ObjectInfo, error) {
	st, ok := s.next.(stowfs.ObjectStater)
	if !ok {
		return stowfs.ObjectInfo{}, stowfs.ErrNotSupported
	}
	start := time.Now()
	info, err := st.StatObject(ctx, urn)
	s.m.observe(s.kind, "stat", start, err)
	return info, err
}

func (s *instrumented) ListObjects(ctx context.Context, prefix string) ([]stowfs.ObjectInfo, error) {
	l, ok := s.next.(stowfs.ObjectLister)
	if !ok {
		return nil, stowfs.ErrNotSupported
	}
	start := time.Now()
	objs, err := l.ListObjects(ctx, prefix)
	s.m.observe(s.kind, "list", start, err)
	return objs, err
}

func (s *instrumented) multipart() (stowfs.MultipartStore, error) {
	mp, ok := s.next.(stowfs.MultipartStore)
	if !ok {
		return nil, stowfs.ErrNotSupported
	}
	return mp, nil
}

func (s *instrumented) InitiateMultipartUpload(ctx context.Context, urn, mimeType string) (*stowfs.UploadSession, error) {
	mp, err := s.multipart()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	sess, err := mp.InitiateMultipartUpload(ctx, urn, mimeType)
	s.m.observe(s.kind, "multipart_initiate", start, err)
	return sess, err
}

func (s *instrumented) UploadPart(ctx context.Context, sess *stowfs.UploadSession, number int, body io.ReadSeeker, size int64) (stowfs.Part, error) {
	mp, err := s.multipart()
	if err != nil {
		return stowfs.Part{}, err
	}
	start := time.Now()
	p, err := mp.UploadPart(ctx, sess, number, body, size)
	s.m.observe(s.kind, "multipart_part", start, err)
	if err == nil {
		s.m.bytes.WithLabelValues(s.kind, "write").Add(float64(size))
	}
	return p, err
}

func (s *instrumented) CompleteMultipartUpload(ctx context.Context, sess *stowfs.UploadSession) (int64, error) {
	mp, err := s.multipart()
	if err != nil {
		return 0, err
	}
	start := time.Now()
	n, err := mp.CompleteMultipartUpload(ctx, sess)
	s.m.observe(s.kind, "multipart_complete", start, err)
	return n, err
}

func (s *instrumented) AbortMultipartUpload(ctx context.Context, sess *stowfs.UploadSession) error {
	mp, err := s.multipart()
	if err != nil {
		return err
	}
	start := time.Now()
	err = mp.AbortMultipartUpload(ctx, sess)
	s.m.observe(s.kind, "multipart_abort", start, err)
	return err
}

func (s *instrumented) ListParts(ctx context.Context, sess *stowfs.UploadSession) ([]stowfs.Part, error) {
	mp, err := s.multipart()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	parts, err := mp.ListParts(ctx, sess)
	s.m.observe(s.kind, "multipart_list_parts", start, err)
	return parts, err
}

type countingReader struct {
	io.ReadCloser
	counter prometheus.Counter
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	if n > 0 {
		r.counter.Add(float64(n))
	}
	return n, err
}
