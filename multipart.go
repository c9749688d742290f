package stowfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultPartSize    int64 = 64 << 20
	DefaultConcurrency       = 5

	abortTimeout = 30 * time.Second
)

// UploadState is the lifecycle of a multipart upload session.
type UploadState int

const (
	UploadInitiated UploadState = iota
	UploadInProgress
	UploadCompleted
	UploadAborted
	UploadFailed
)

func (s UploadState) String() string {
	switch s {
	case UploadInitiated:
		return "initiated"
	case UploadInProgress:
		return "in_progress"
	case UploadCompleted:
		return "completed"
	case UploadAborted:
		return "aborted"
	case UploadFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Part is one uploaded chunk of a multipart upload.
type Part struct {
	Number int
	Size   int64
	ETag   string
}

// UploadSession tracks one multipart upload. It is safe for concurrent
// use by the workers uploading parts.
//
// Encryption is a fingerprint of the server side encryption parameters the
// session was started with; every part has to be sent with the same ones.
type UploadSession struct {
	UploadID   string
	URN        string
	Encryption string

	mu    sync.Mutex
	state UploadState
	parts []Part
}

func NewUploadSession(uploadID, urn, encryption string) *UploadSession {
	return &UploadSession{UploadID: uploadID, URN: urn, Encryption: encryption, state: UploadInitiated}
}

func (s *UploadSession) State() UploadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Record stores a finished part. Parts may arrive in any order.
func (s *UploadSession) Record(p Part) error {
	if p.Number < 1 {
		return fmt.Errorf("record part %d of %s: part numbers start at 1", p.Number, s.URN)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case UploadInitiated, UploadInProgress:
	default:
		return fmt.Errorf("record part %d of %s: upload is %s", p.Number, s.URN, s.state)
	}

	s.state = UploadInProgress
	s.parts = append(s.parts, p)
	return nil
}

// Parts returns the recorded parts sorted by part number. Duplicate part
// numbers are an error because the assembled object would be ambiguous.
func (s *UploadSession) Parts() ([]Part, error) {
	s.mu.Lock()
	parts := slices.Clone(s.parts)
	s.mu.Unlock()

	slices.SortFunc(parts, func(a, b Part) int { return a.Number - b.Number })
	for i := 1; i < len(parts); i++ {
		if parts[i].Number == parts[i-1].Number {
			return nil, fmt.Errorf("upload %s: duplicate part %d: %w", s.URN, parts[i].Number, ErrConsistency)
		}
	}
	return parts, nil
}

// CheckEncryption fails when fingerprint differs from the one the session
// was started with.
func (s *UploadSession) CheckEncryption(fingerprint string) error {
	if s.Encryption != fingerprint {
		return fmt.Errorf("upload %s: encryption parameters changed mid upload: %w", s.URN, ErrConfiguration)
	}
	return nil
}

func (s *UploadSession) setState(state UploadState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *UploadSession) MarkCompleted() { s.setState(UploadCompleted) }
func (s *UploadSession) MarkAborted()   { s.setState(UploadAborted) }
func (s *UploadSession) MarkFailed()    { s.setState(UploadFailed) }

// PutFunc stores a payload small enough for a single request.
type PutFunc func(ctx context.Context, urn string, body io.ReadSeeker, size int64, mimeType string) error

// UploadOptions tune MultipartUploader. Zero values pick the defaults.
type UploadOptions struct {
	PartSize    int64
	Concurrency int
	// SinglePutThreshold is the largest payload sent with one request.
	// Zero means PartSize; a negative value always uses multipart.
	SinglePutThreshold int64
}

func (o UploadOptions) partSize() int64 {
	if o.PartSize <= 0 {
		return DefaultPartSize
	}
	return o.PartSize
}

func (o UploadOptions) concurrency() int {
	if o.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return o.Concurrency
}

func (o UploadOptions) threshold() int64 {
	if o.SinglePutThreshold == 0 {
		return o.partSize()
	}
	return o.SinglePutThreshold
}

// MultipartUploader streams a reader of unknown length to a MultipartStore.
// At most Concurrency parts are in flight, so memory stays bounded by
// (Concurrency+1) * PartSize.
type MultipartUploader struct {
	Store   MultipartStore
	Put     PutFunc
	Options UploadOptions
	Logger  *slog.Logger
}

// Upload stores r under urn and returns the number of bytes written.
//
// Payloads that fit in SinglePutThreshold go through Put. Larger ones are
// split into parts. If the multipart path fails before any byte was read
// and r is exhausted, the object is stored empty through Put instead,
// because some backends reject multipart uploads without parts.
func (u *MultipartUploader) Upload(ctx context.Context, urn string, r io.Reader, mimeType string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	partSize := u.Options.partSize()
	first, exhausted, err := readChunk(r, partSize)
	if err != nil {
		return 0, fmt.Errorf("upload %s: read: %w", urn, err)
	}

	threshold := u.Options.threshold()
	if exhausted && threshold >= 0 && int64(len(first)) <= threshold {
		if err := u.Put(ctx, urn, bytes.NewReader(first), int64(len(first)), mimeType); err != nil {
			return 0, err
		}
		return int64(len(first)), nil
	}

	size, total, err := u.multipart(ctx, urn, first, exhausted, r, mimeType)
	if err == nil {
		return size, nil
	}

	if total == 0 && exhausted {
		u.logger().Warn("multipart upload failed for empty stream, storing empty object", "urn", urn, "err", err)
		if perr := u.Put(ctx, urn, bytes.NewReader(nil), 0, mimeType); perr != nil {
			return 0, errors.Join(err, perr)
		}
		return 0, nil
	}

	return 0, err
}

func (u *MultipartUploader) multipart(ctx context.Context, urn string, first []byte, exhausted bool, r io.Reader, mimeType string) (int64, int64, error) {
	session, err := u.Store.InitiateMultipartUpload(ctx, urn, mimeType)
	if err != nil {
		return 0, 0, fmt.Errorf("upload %s: initiate: %w", urn, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.Options.concurrency())

	var (
		total   int64
		readErr error
	)
	chunk := first
	number := 1
	for {
		if len(chunk) > 0 {
			n, body := number, chunk
			g.Go(func() error {
				p, err := u.Store.UploadPart(gctx, session, n, bytes.NewReader(body), int64(len(body)))
				if err != nil {
					return fmt.Errorf("upload %s: part %d: %w", urn, n, err)
				}
				return session.Record(p)
			})
			number++
			total += int64(len(chunk))
		}

		if exhausted || gctx.Err() != nil {
			break
		}

		chunk, exhausted, readErr = readChunk(r, u.Options.partSize())
		if readErr != nil {
			readErr = fmt.Errorf("upload %s: read: %w", urn, readErr)
			break
		}
	}

	werr := g.Wait()
	if err := errors.Join(readErr, werr); err != nil {
		u.abort(session)
		return 0, total, err
	}
	if err := ctx.Err(); err != nil {
		u.abort(session)
		return 0, total, err
	}

	size, err := u.Store.CompleteMultipartUpload(ctx, session)
	if err != nil {
		u.abort(session)
		return 0, total, fmt.Errorf("upload %s: complete: %w", urn, err)
	}

	session.MarkCompleted()

	if size != total {
		return 0, total, fmt.Errorf("upload %s: backend reports %d bytes, sent %d: %w", urn, size, total, ErrConsistency)
	}

	return size, total, nil
}

func (u *MultipartUploader) abort(session *UploadSession) {
	session.MarkFailed()

	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()

	if err := u.Store.AbortMultipartUpload(ctx, session); err != nil {
		u.logger().Warn("failed to abort multipart upload", "urn", session.URN, "upload_id", session.UploadID, "err", err)
		return
	}
	session.MarkAborted()
}

func (u *MultipartUploader) logger() *slog.Logger {
	if u.Logger != nil {
		return u.Logger
	}
	return slog.Default()
}

// readChunk reads up to size bytes. exhausted is true once r hit EOF.
func readChunk(r io.Reader, size int64) ([]byte, bool, error) {
	var buf bytes.Buffer
	_, err := io.CopyN(&buf, r, size)
	switch {
	case err == nil:
		return buf.Bytes(), false, nil
	case errors.Is(err, io.EOF):
		return buf.Bytes(), true, nil
	default:
		return nil, false, err
	}
}
