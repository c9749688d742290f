// Package s3legacy stores objects in S3 compatible services that only
// accept version 2 request signatures. It speaks the REST API directly with
// path style URLs, signing each request with stowfs.LegacySigner.
package s3legacy

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sagarc03/stowfs"
	"github.com/sagarc03/stowfs/objectstore"
)

// Store provides object storage on a bucket of a legacy S3 service.
type Store struct {
	client   *client
	uploader *stowfs.MultipartUploader
	ready    *stowfs.Lazy[struct{}]
	logger   *slog.Logger
}

var (
	_ stowfs.ObjectStore    = (*Store)(nil)
	_ stowfs.ObjectStater   = (*Store)(nil)
	_ stowfs.ObjectLister   = (*Store)(nil)
	_ stowfs.MultipartStore = (*Store)(nil)
)

// Open returns a Store for c. No request is made until the first operation.
func Open(_ context.Context, c Config, deps objectstore.Deps) (stowfs.ObjectStore, error) {
	return New(c, deps.Logger)
}

// New returns a Store for c.
func New(c Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cl, err := newClient(c)
	if err != nil {
		return nil, err
	}

	s := &Store{
		client: cl,
		logger: logger.With("backend", Kind, "bucket", c.Bucket),
	}
	s.uploader = &stowfs.MultipartUploader{
		Store:   s,
		Put:     s.putObject,
		Options: c.uploadOptions(),
		Logger:  s.logger,
	}

	autoCreate := c.AutoCreate
	s.ready = stowfs.NewLazy(func(ctx context.Context) (struct{}, error) {
		if !autoCreate {
			return struct{}{}, nil
		}
		return struct{}{}, s.ensureBucket(ctx)
	})
	return s, nil
}

func (s *Store) StorageID() string { return "amazon::" + s.client.bucket }

func (s *Store) ensureBucket(ctx context.Context) error {
	resp, err := s.client.do(ctx, request{method: http.MethodHead})
	if err == nil {
		drain(resp)
		return nil
	}
	if !isNotFound(err) {
		return translate("head bucket", s.client.bucket, err)
	}

	resp, err = s.client.do(ctx, request{method: http.MethodPut})
	if err != nil {
		var rerr *ResponseError
		if errors.As(err, &rerr) && (rerr.Code == "BucketAlreadyOwnedByYou" || rerr.Code == "BucketAlreadyExists") {
			return nil
		}
		return translate("create bucket", s.client.bucket, err)
	}
	drain(resp)
	s.logger.Info("created bucket")
	return nil
}

func (s *Store) ReadObject(ctx context.Context, urn string) (io.ReadCloser, error) {
	if _, err := s.ready.Get(ctx); err != nil {
		return nil, err
	}
	resp, err := s.client.do(ctx, request{method: http.MethodGet, key: urn})
	if err != nil {
		return nil, translate("get", urn, err)
	}
	return resp.Body, nil
}

func (s *Store) WriteObject(ctx context.Context, urn string, r io.Reader, mimeType string) error {
	if _, err := s.ready.Get(ctx); err != nil {
		return err
	}
	n, err := s.uploader.Upload(ctx, urn, r, mimeType)
	if err != nil {
		return err
	}
	s.logger.Debug("wrote object", "urn", urn, "size", n)
	return nil
}

func (s *Store) putObject(ctx context.Context, urn string, body io.ReadSeeker, size int64, mimeType string) error {
	header := http.Header{}
	if mimeType != "" {
		header.Set("Content-Type", mimeType)
	}
	resp, err := s.client.do(ctx, request{method: http.MethodPut, key: urn, header: header, body: body, size: size})
	if err != nil {
		return translate("put", urn, err)
	}
	drain(resp)
	return nil
}

func (s *Store) DeleteObject(ctx context.Context, urn string) error {
	if _, err := s.ready.Get(ctx); err != nil {
		return err
	}
	resp, err := s.client.do(ctx, request{method: http.MethodDelete, key: urn})
	if err != nil {
		return translate("delete", urn, err)
	}
	drain(resp)
	return nil
}

func (s *Store) ObjectExists(ctx context.Context, urn string) (bool, error) {
	_, err := s.StatObject(ctx, urn)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, stowfs.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (s *Store) StatObject(ctx context.Context, urn string) (stowfs.ObjectInfo, error) {
	if _, err := s.ready.Get(ctx); err != nil {
		return stowfs.ObjectInfo{}, err
	}
	resp, err := s.client.do(ctx, request{method: http.MethodHead, key: urn})
	if err != nil {
		return stowfs.ObjectInfo{}, translate("head", urn, err)
	}
	drain(resp)

	info := stowfs.ObjectInfo{
		URN:  urn,
		Size: resp.ContentLength,
		ETag: strings.Trim(resp.Header.Get("ETag"), `"`),
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			info.LastModified = t
		}
	}
	return info, nil
}

// copyResult is the body of a successful copy. Services may answer 200 with
// an Error document instead.
type copyResult struct {
	XMLName xml.Name
	ETag    string `xml:"ETag"`
	Code    string `xml:"Code"`
	Message string `xml:"Message"`
}

func (r copyResult) err() error {
	if r.XMLName.Local != "Error" {
		return nil
	}
	return &ResponseError{StatusCode: http.StatusOK, Code: r.Code, Message: r.Message}
}

func (s *Store) copySource(urn string) string {
	return "/" + s.client.bucket + "/" + url.PathEscape(urn)
}

func (s *Store) CopyObject(ctx context.Context, from, to string) error {
	if _, err := s.ready.Get(ctx); err != nil {
		return err
	}

	header := http.Header{}
	header.Set("X-Amz-Copy-Source", s.copySource(from))

	var res copyResult
	if err := s.client.doXML(ctx, request{method: http.MethodPut, key: to, header: header}, &res); err != nil {
		return translate("copy", from, err)
	}
	return translate("copy", from, res.err())
}

type listResult struct {
	IsTruncated bool   `xml:"IsTruncated"`
	NextMarker  string `xml:"NextMarker"`
	Contents    []struct {
		Key          string    `xml:"Key"`
		Size         int64     `xml:"Size"`
		LastModified time.Time `xml:"LastModified"`
		ETag         string    `xml:"ETag"`
	} `xml:"Contents"`
}

// ListObjects pages through the version 1 listing with markers, which every
// legacy service supports.
func (s *Store) ListObjects(ctx context.Context, prefix string) ([]stowfs.ObjectInfo, error) {
	if _, err := s.ready.Get(ctx); err != nil {
		return nil, err
	}

	var objects []stowfs.ObjectInfo
	marker := ""
	for {
		q := url.Values{}
		if prefix != "" {
			q.Set("prefix", prefix)
		}
		if marker != "" {
			q.Set("marker", marker)
		}

		var page listResult
		if err := s.client.doXML(ctx, request{method: http.MethodGet, query: q}, &page); err != nil {
			return nil, translate("list", prefix, err)
		}
		for _, o := range page.Contents {
			objects = append(objects, stowfs.ObjectInfo{
				URN:          o.Key,
				Size:         o.Size,
				LastModified: o.LastModified,
				ETag:         strings.Trim(o.ETag, `"`),
			})
		}

		if !page.IsTruncated {
			return objects, nil
		}
		next := page.NextMarker
		if next == "" && len(page.Contents) > 0 {
			next = page.Contents[len(page.Contents)-1].Key
		}
		if next == "" || next == marker {
			return nil, fmt.Errorf("s3legacy list %s: truncated listing without progress: %w", prefix, stowfs.ErrConsistency)
		}
		marker = next
	}
}

func partQuery(uploadID string, number int) url.Values {
	q := url.Values{"uploadId": {uploadID}}
	if number > 0 {
		q.Set("partNumber", strconv.Itoa(number))
	}
	return q
}
