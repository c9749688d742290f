// Package azure stores objects as block blobs in an Azure Storage
// container, authenticated with the account's shared key.
package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/sagarc03/stowfs"
	"github.com/sagarc03/stowfs/objectstore"
)

// Kind is the configuration kind of this backend.
const Kind = "azure"

const (
	defaultBlockSize   = 4 << 20
	defaultConcurrency = 4
)

// Config holds the arguments of an Azure Blob store.
type Config struct {
	Account string `mapstructure:"account_name" validate:"required"`
	Key     string `mapstructure:"account_key" validate:"required,base64"`
	// Bucket is the container name.
	Bucket  string `mapstructure:"bucket" validate:"required"`
	// Endpoint overrides https://<account>.blob.core.windows.net, for
	// sovereign clouds and emulators.
	Endpoint   string `mapstructure:"endpoint" validate:"omitempty,url"`
	AutoCreate bool   `mapstructure:"autocreate"`

	BlockSize   int64 `mapstructure:"upload_part_size" validate:"min=0"`
	Concurrency int   `mapstructure:"concurrent_uploads" validate:"min=0"`

	// Timeouts in seconds. Zero leaves the SDK defaults.
	RequestTimeout int `mapstructure:"request_timeout" validate:"min=0"`
	MaxRetries     int `mapstructure:"max_retries" validate:"min=0"`
}

func (c Config) containerURL() string {
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", c.Account)
	}
	return strings.TrimRight(endpoint, "/") + "/" + c.Bucket
}

// Store provides object storage on an Azure Blob container.
type Store struct {
	client       *container.Client
	name         string
	blockSize    int64
	concurrency  int
	pollInterval time.Duration
	ready        *stowfs.Lazy[struct{}]
	logger       *slog.Logger
}

var (
	_ stowfs.ObjectStore  = (*Store)(nil)
	_ stowfs.ObjectStater = (*Store)(nil)
	_ stowfs.ObjectLister = (*Store)(nil)
)

// Open returns a Store for c. The container is checked on first use.
func Open(_ context.Context, c Config, deps objectstore.Deps) (stowfs.ObjectStore, error) {
	return newStore(c, nil, deps.Logger)
}

// newStore builds the container client. transport replaces the HTTP
// pipeline's sender when set.
func newStore(c Config, transport policy.Transporter, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cred, err := azblob.NewSharedKeyCredential(c.Account, c.Key)
	if err != nil {
		return nil, fmt.Errorf("azure: account key: %w: %w", err, stowfs.ErrConfiguration)
	}

	opts := &container.ClientOptions{}
	if transport != nil {
		opts.Transport = transport
	}
	if c.RequestTimeout > 0 {
		opts.Retry.TryTimeout = time.Duration(c.RequestTimeout) * time.Second
	}
	if c.MaxRetries > 0 {
		opts.Retry.MaxRetries = int32(c.MaxRetries)
	}

	client, err := container.NewClientWithSharedKeyCredential(c.containerURL(), cred, opts)
	if err != nil {
		return nil, fmt.Errorf("azure: %w: %w", err, stowfs.ErrConfiguration)
	}

	s := &Store{
		client:       client,
		name:         c.Bucket,
		blockSize:    c.BlockSize,
		concurrency:  c.Concurrency,
		pollInterval: time.Second,
		logger:       logger.With("backend", Kind, "container", c.Bucket),
	}
	if s.blockSize <= 0 {
		s.blockSize = defaultBlockSize
	}
	if s.concurrency <= 0 {
		s.concurrency = defaultConcurrency
	}

	autoCreate := c.AutoCreate
	s.ready = stowfs.NewLazy(func(ctx context.Context) (struct{}, error) {
		if !autoCreate {
			return struct{}{}, nil
		}
		return struct{}{}, s.ensureContainer(ctx)
	})
	return s, nil
}

func (s *Store) StorageID() string { return "azure::" + s.name }

func (s *Store) ensureContainer(ctx context.Context) error {
	_, err := s.client.Create(ctx, nil)
	if err == nil {
		s.logger.Info("created container")
		return nil
	}
	if bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil
	}
	return translate("create container", s.name, err)
}

func (s *Store) blob(urn string) *blockblob.Client {
	return s.client.NewBlockBlobClient(urn)
}

func (s *Store) ReadObject(ctx context.Context, urn string) (io.ReadCloser, error) {
	if _, err := s.ready.Get(ctx); err != nil {
		return nil, err
	}
	resp, err := s.blob(urn).DownloadStream(ctx, nil)
	if err != nil {
		return nil, translate("get", urn, err)
	}
	return resp.Body, nil
}

// WriteObject stages r as blocks of BlockSize, at most Concurrency in
// flight, and commits the block list.
func (s *Store) WriteObject(ctx context.Context, urn string, r io.Reader, mimeType string) error {
	if _, err := s.ready.Get(ctx); err != nil {
		return err
	}

	opts := &blockblob.UploadStreamOptions{
		BlockSize:   s.blockSize,
		Concurrency: s.concurrency,
	}
	if mimeType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: to.Ptr(mimeType)}
	}
	if _, err := s.blob(urn).UploadStream(ctx, r, opts); err != nil {
		return translate("put", urn, err)
	}
	return nil
}

func (s *Store) DeleteObject(ctx context.Context, urn string) error {
	if _, err := s.ready.Get(ctx); err != nil {
		return err
	}
	_, err := s.blob(urn).Delete(ctx, nil)
	return translate("delete", urn, err)
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
	props, err := s.blob(urn).GetProperties(ctx, nil)
	if err != nil {
		return stowfs.ObjectInfo{}, translate("head", urn, err)
	}
	info := stowfs.ObjectInfo{URN: urn}
	if props.ContentLength != nil {
		info.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		info.LastModified = *props.LastModified
	}
	if props.ETag != nil {
		info.ETag = strings.Trim(string(*props.ETag), `"`)
	}
	return info, nil
}

// CopyObject starts a server side copy and polls until it settles. A copy
// inside one account is authorised by the shared key.
func (s *Store) CopyObject(ctx context.Context, from, dest string) error {
	if _, err := s.ready.Get(ctx); err != nil {
		return err
	}

	src := s.client.NewBlobClient(from).URL()
	dst := s.blob(dest)
	resp, err := dst.StartCopyFromURL(ctx, src, nil)
	if err != nil {
		return translate("copy", from, err)
	}

	status := resp.CopyStatus
	for status != nil && *status == blob.CopyStatusTypePending {
		select {
		case <-ctx.Done():
			if resp.CopyID != nil {
				_, _ = dst.AbortCopyFromURL(context.WithoutCancel(ctx), *resp.CopyID, nil)
			}
			return fmt.Errorf("azure copy %s: %w", from, ctx.Err())
		case <-time.After(s.pollInterval):
		}

		props, err := dst.GetProperties(ctx, nil)
		if err != nil {
			return translate("copy status", dest, err)
		}
		status = props.CopyStatus
	}

	if status != nil && *status != blob.CopyStatusTypeSuccess {
		return fmt.Errorf("azure copy %s to %s: copy %s: %w", from, dest, *status, stowfs.ErrConsistency)
	}
	return nil
}

func (s *Store) ListObjects(ctx context.Context, prefix string) ([]stowfs.ObjectInfo, error) {
	if _, err := s.ready.Get(ctx); err != nil {
		return nil, err
	}

	opts := &container.ListBlobsFlatOptions{}
	if prefix != "" {
		opts.Prefix = to.Ptr(prefix)
	}

	var out []stowfs.ObjectInfo
	pager := s.client.NewListBlobsFlatPager(opts)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, translate("list", prefix, err)
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			info := stowfs.ObjectInfo{URN: *item.Name}
			if p := item.Properties; p != nil {
				if p.ContentLength != nil {
					info.Size = *p.ContentLength
				}
				if p.LastModified != nil {
					info.LastModified = *p.LastModified
				}
				if p.ETag != nil {
					info.ETag = strings.Trim(string(*p.ETag), `"`)
				}
			}
			out = append(out, info)
		}
	}
	return out, nil
}

func translate(op, urn string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("azure %s %s: %w", op, urn, err)
	}

	var sentinel error
	var respErr *azcore.ResponseError
	switch {
	case bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ResourceNotFound):
		sentinel = stowfs.ErrNotFound
	case bloberror.HasCode(err, bloberror.AuthenticationFailed, bloberror.AuthorizationFailure, bloberror.InsufficientAccountPermissions):
		sentinel = stowfs.ErrAuthFailure
	case errors.As(err, &respErr):
		switch {
		case respErr.StatusCode == http.StatusNotFound:
			sentinel = stowfs.ErrNotFound
		case respErr.StatusCode == http.StatusUnauthorized, respErr.StatusCode == http.StatusForbidden:
			sentinel = stowfs.ErrAuthFailure
		case respErr.StatusCode >= http.StatusInternalServerError, respErr.StatusCode == http.StatusTooManyRequests:
			sentinel = stowfs.ErrUnavailable
		}
	}

	if sentinel == nil {
		return fmt.Errorf("azure %s %s: %w", op, urn, err)
	}
	return fmt.Errorf("azure %s %s: %w: %w", op, urn, sentinel, err)
}
