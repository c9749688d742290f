package stowfs

import (
	"context"
	"errors"
	"io"
)

// ObjectStore is a flat key to blob store. Keys are opaque URNs; the store
// knows nothing about paths or directories.
//
// Errors wrap one of ErrNotFound, ErrUnavailable, ErrAuthFailure or
// ErrConfiguration so callers can branch with errors.Is.
type ObjectStore interface {
	// StorageID identifies the physical storage, for example
	// "amazon::bucket". It namespaces cache rows.
	StorageID() string

	// ReadObject opens the object for streaming. The caller closes the
	// returned reader.
	ReadObject(ctx context.Context, urn string) (io.ReadCloser, error)

	// WriteObject stores everything read from r under urn, replacing any
	// previous object. Implementations stream r and never hold more than
	// a bounded chunk in memory.
	WriteObject(ctx context.Context, urn string, r io.Reader, mimeType string) error

	// DeleteObject removes the object. Deleting a missing object returns
	// ErrNotFound, or nil on backends whose delete is idempotent.
	DeleteObject(ctx context.Context, urn string) error

	// ObjectExists reports whether the object is present.
	ObjectExists(ctx context.Context, urn string) (bool, error)

	// CopyObject duplicates from into to on the backend side.
	CopyObject(ctx context.Context, from, to string) error
}

// ObjectStater is implemented by stores that can report object metadata
// without reading the content.
type ObjectStater interface {
	StatObject(ctx context.Context, urn string) (ObjectInfo, error)
}

// ObjectLister is implemented by stores that can enumerate their keys.
type ObjectLister interface {
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// MultipartStore is implemented by stores that upload large objects in
// parts. MultipartUploader drives it.
type MultipartStore interface {
	InitiateMultipartUpload(ctx context.Context, urn, mimeType string) (*UploadSession, error)
	UploadPart(ctx context.Context, s *UploadSession, number int, body io.ReadSeeker, size int64) (Part, error)
	// CompleteMultipartUpload assembles the recorded parts and returns the
	// object size confirmed by the backend.
	CompleteMultipartUpload(ctx context.Context, s *UploadSession) (int64, error)
	AbortMultipartUpload(ctx context.Context, s *UploadSession) error
	ListParts(ctx context.Context, s *UploadSession) ([]Part, error)
}

// statObject returns the object size through ObjectStater when the store
// supports it, otherwise by counting the streamed content.
func statObject(ctx context.Context, store ObjectStore, urn string) (int64, error) {
	if st, ok := store.(ObjectStater); ok {
		info, err := st.StatObject(ctx, urn)
		if err == nil {
			return info.Size, nil
		}
		if !errors.Is(err, ErrNotSupported) {
			return 0, err
		}
	}

	rc, err := store.ReadObject(ctx, urn)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rc.Close() }()

	return io.Copy(io.Discard, rc)
}
