// Package s3 stores objects in Amazon S3 or any S3 compatible service.
//
// Objects up to the put size limit go up in one PutObject; larger ones are
// streamed as a multipart upload. Customer supplied encryption keys are
// sent with every request, including each part of a multipart upload.
package s3

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/sagarc03/stowfs"
	"github.com/sagarc03/stowfs/objectstore"
)

// maxCopySize is the largest object CopyObject accepts; bigger objects are
// copied part by part.
const maxCopySize int64 = 5 << 30

// s3API is the subset of *s3.Client the store uses.
type s3API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, opts ...func(*s3.Options)) (*s3.CreateBucketOutput, error)

	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)

	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	UploadPartCopy(ctx context.Context, in *s3.UploadPartCopyInput, opts ...func(*s3.Options)) (*s3.UploadPartCopyOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	ListParts(ctx context.Context, in *s3.ListPartsInput, opts ...func(*s3.Options)) (*s3.ListPartsOutput, error)
}

var _ s3API = (*s3.Client)(nil)

// Store provides object storage on an S3 bucket.
type Store struct {
	client     s3API
	bucket     string
	region     string
	sse        *sseCustomer
	uploader   *stowfs.MultipartUploader
	ready      *stowfs.Lazy[struct{}]
	copyLimit  int64
	copyPartSz int64
	logger     *slog.Logger
}

var (
	_ stowfs.ObjectStore    = (*Store)(nil)
	_ stowfs.ObjectStater   = (*Store)(nil)
	_ stowfs.ObjectLister   = (*Store)(nil)
	_ stowfs.MultipartStore = (*Store)(nil)
)

// Open builds the SDK client for c. The bucket is checked, and created when
// AutoCreate is set, on the first operation.
func Open(ctx context.Context, c Config, deps objectstore.Deps) (stowfs.ObjectStore, error) {
	client, err := newClient(ctx, c)
	if err != nil {
		return nil, err
	}
	return newStore(client, c, deps.Logger)
}

func newStore(client s3API, c Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sse, err := parseSSECKey(c.SSECKey)
	if err != nil {
		return nil, err
	}

	s := &Store{
		client:     client,
		bucket:     c.Bucket,
		region:     c.region(),
		sse:        sse,
		copyLimit:  maxCopySize,
		copyPartSz: 512 << 20,
		logger:     logger.With("backend", Kind, "bucket", c.Bucket),
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

func (s *Store) StorageID() string { return "amazon::" + s.bucket }

// ensureBucket creates the bucket when it is missing. A concurrent creation
// by another process is not an error.
func (s *Store) ensureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return translate("head bucket", s.bucket, err)
	}

	in := &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}
	if s.region != defaultRegion {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}

	if _, err := s.client.CreateBucket(ctx, in); err != nil {
		if isAlreadyOwned(err) {
			return nil
		}
		return translate("create bucket", s.bucket, err)
	}

	s.logger.Info("created bucket")
	return nil
}

func (s *Store) ReadObject(ctx context.Context, urn string) (io.ReadCloser, error) {
	if _, err := s.ready.Get(ctx); err != nil {
		return nil, err
	}

	in := &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(urn)}
	in.SSECustomerAlgorithm, in.SSECustomerKey, in.SSECustomerKeyMD5 = s.sse.params()

	out, err := s.client.GetObject(ctx, in)
	if err != nil {
		return nil, translate("get", urn, err)
	}
	return out.Body, nil
}

// WriteObject streams r to the bucket, switching to a multipart upload once
// the payload passes the put size limit.
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
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(urn),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if mimeType != "" {
		in.ContentType = aws.String(mimeType)
	}
	in.SSECustomerAlgorithm, in.SSECustomerKey, in.SSECustomerKeyMD5 = s.sse.params()

	if _, err := s.client.PutObject(ctx, in); err != nil {
		return translate("put", urn, err)
	}
	return nil
}

// DeleteObject removes the object. S3 reports success for missing keys.
func (s *Store) DeleteObject(ctx context.Context, urn string) error {
	if _, err := s.ready.Get(ctx); err != nil {
		return err
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(urn)})
	return translate("delete", urn, err)
}

func (s *Store) ObjectExists(ctx context.Context, urn string) (bool, error) {
	_, err := s.head(ctx, urn)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, translate("head", urn, err)
}

func (s *Store) StatObject(ctx context.Context, urn string) (stowfs.ObjectInfo, error) {
	out, err := s.head(ctx, urn)
	if err != nil {
		return stowfs.ObjectInfo{}, translate("head", urn, err)
	}
	return stowfs.ObjectInfo{
		URN:          urn,
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
		ETag:         strings.Trim(aws.ToString(out.ETag), `"`),
	}, nil
}

func (s *Store) head(ctx context.Context, urn string) (*s3.HeadObjectOutput, error) {
	if _, err := s.ready.Get(ctx); err != nil {
		return nil, err
	}

	in := &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(urn)}
	in.SSECustomerAlgorithm, in.SSECustomerKey, in.SSECustomerKeyMD5 = s.sse.params()
	return s.client.HeadObject(ctx, in)
}

func (s *Store) copySource(urn string) *string {
	return aws.String(s.bucket + "/" + url.PathEscape(urn))
}

// CopyObject copies on the server side. Objects larger than CopyObject
// allows are assembled from ranged part copies.
func (s *Store) CopyObject(ctx context.Context, from, to string) error {
	info, err := s.StatObject(ctx, from)
	if err != nil {
		return fmt.Errorf("copy %s to %s: %w", from, to, err)
	}

	if info.Size > s.copyLimit {
		return s.copyMultipart(ctx, from, to, info.Size)
	}

	in := &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(to),
		CopySource: s.copySource(from),
	}
	in.SSECustomerAlgorithm, in.SSECustomerKey, in.SSECustomerKeyMD5 = s.sse.params()
	in.CopySourceSSECustomerAlgorithm, in.CopySourceSSECustomerKey, in.CopySourceSSECustomerKeyMD5 = s.sse.params()

	if _, err := s.client.CopyObject(ctx, in); err != nil {
		return translate("copy", from, err)
	}
	return nil
}

// ListObjects pages through every key starting with prefix.
func (s *Store) ListObjects(ctx context.Context, prefix string) ([]stowfs.ObjectInfo, error) {
	if _, err := s.ready.Get(ctx); err != nil {
		return nil, err
	}

	in := &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket)}
	if prefix != "" {
		in.Prefix = aws.String(prefix)
	}

	var objects []stowfs.ObjectInfo
	p := s3.NewListObjectsV2Paginator(s.client, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, translate("list", prefix, err)
		}
		for _, o := range page.Contents {
			objects = append(objects, stowfs.ObjectInfo{
				URN:          aws.ToString(o.Key),
				Size:         aws.ToInt64(o.Size),
				LastModified: aws.ToTime(o.LastModified),
				ETag:         strings.Trim(aws.ToString(o.ETag), `"`),
			})
		}
	}
	return objects, nil
}
