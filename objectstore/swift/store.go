// Package swift stores objects in an OpenStack Swift container.
//
// Authentication tokens are shared through a stowfs.TokenCache keyed by
// user, auth URL and container, so processes opening the same store skip
// the keystone round trip while the token is valid.
package swift

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ncw/swift/v2"

	"github.com/sagarc03/stowfs"
	"github.com/sagarc03/stowfs/credcache"
	"github.com/sagarc03/stowfs/objectstore"
)

// Kind is the configuration kind of this backend.
const Kind = "swift"

// Config holds the arguments of a Swift store.
type Config struct {
	User    string `mapstructure:"user" validate:"required"`
	Key     string `mapstructure:"key" validate:"required"`
	AuthURL string `mapstructure:"auth_url" validate:"required,url"`
	Bucket  string `mapstructure:"bucket" validate:"required"`

	Domain      string `mapstructure:"domain"`
	Tenant      string `mapstructure:"tenant"`
	TenantID    string `mapstructure:"tenant_id"`
	Region      string `mapstructure:"region"`
	AuthVersion int    `mapstructure:"auth_version" validate:"min=0,max=3"`
	AutoCreate  bool   `mapstructure:"autocreate"`

	// Timeouts in seconds. Zero leaves the client defaults.
	ConnectTimeout int `mapstructure:"connect_timeout" validate:"min=0"`
	RequestTimeout int `mapstructure:"request_timeout" validate:"min=0"`
}

func (c Config) connection() *swift.Connection {
	conn := &swift.Connection{
		UserName:    c.User,
		ApiKey:      c.Key,
		AuthUrl:     c.AuthURL,
		Domain:      c.Domain,
		Tenant:      c.Tenant,
		TenantId:    c.TenantID,
		Region:      c.Region,
		AuthVersion: c.AuthVersion,
	}
	if c.ConnectTimeout > 0 {
		conn.ConnectTimeout = time.Duration(c.ConnectTimeout) * time.Second
	}
	if c.RequestTimeout > 0 {
		conn.Timeout = time.Duration(c.RequestTimeout) * time.Second
	}
	return conn
}

// Store provides object storage on a Swift container.
type Store struct {
	conn      *swift.Connection
	container string
	tokens    stowfs.TokenCache
	tokenKey  string
	ready     *stowfs.Lazy[struct{}]
	logger    *slog.Logger
}

var (
	_ stowfs.ObjectStore  = (*Store)(nil)
	_ stowfs.ObjectStater = (*Store)(nil)
	_ stowfs.ObjectLister = (*Store)(nil)
)

// Open returns a Store for c. Authentication happens on first use.
func Open(_ context.Context, c Config, deps objectstore.Deps) (stowfs.ObjectStore, error) {
	return New(c, deps.Tokens, deps.Logger), nil
}

// New returns a Store for c. tokens may be nil.
func New(c Config, tokens stowfs.TokenCache, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		conn:      c.connection(),
		container: c.Bucket,
		tokens:    tokens,
		tokenKey:  credcache.Key(Kind, c.User, c.AuthURL, c.Bucket),
		logger:    logger.With("backend", Kind, "container", c.Bucket),
	}
	autoCreate := c.AutoCreate
	s.ready = stowfs.NewLazy(func(ctx context.Context) (struct{}, error) {
		if err := s.authenticate(ctx); err != nil {
			return struct{}{}, err
		}
		if !autoCreate {
			return struct{}{}, nil
		}
		return struct{}{}, s.ensureContainer(ctx)
	})
	return s
}

func (s *Store) StorageID() string { return "swift::" + s.container }

// authenticate reuses a cached token when one is valid and stores a fresh
// one otherwise. The client re-authenticates by itself when a cached token
// is rejected.
func (s *Store) authenticate(ctx context.Context) error {
	if s.tokens != nil {
		if tok, ok := s.tokens.Get(s.tokenKey); ok {
			s.conn.AuthToken = tok.Value
			s.conn.StorageUrl = tok.Endpoint
			s.conn.Expires = tok.Expires
			s.logger.Debug("using cached swift token")
			return nil
		}
	}

	if err := s.conn.Authenticate(ctx); err != nil {
		return translate("authenticate", s.conn.AuthUrl, err)
	}

	if s.tokens != nil {
		expires := s.conn.Expires
		if expires.IsZero() {
			expires = time.Now().Add(credcache.DefaultTTL)
		}
		s.tokens.Set(s.tokenKey, stowfs.Token{
			Value:    s.conn.AuthToken,
			Endpoint: s.conn.StorageUrl,
			Expires:  expires,
		})
	}
	return nil
}

func (s *Store) ensureContainer(ctx context.Context) error {
	_, _, err := s.conn.Container(ctx, s.container)
	if err == nil {
		return nil
	}
	if !errors.Is(err, swift.ContainerNotFound) {
		return translate("head container", s.container, err)
	}
	if err := s.conn.ContainerCreate(ctx, s.container, nil); err != nil {
		return translate("create container", s.container, err)
	}
	s.logger.Info("created container")
	return nil
}

func (s *Store) ReadObject(ctx context.Context, urn string) (io.ReadCloser, error) {
	if _, err := s.ready.Get(ctx); err != nil {
		return nil, err
	}
	f, _, err := s.conn.ObjectOpen(ctx, s.container, urn, false, nil)
	if err != nil {
		return nil, translate("get", urn, err)
	}
	return f, nil
}

// WriteObject streams r with chunked transfer encoding, so the size need
// not be known up front.
func (s *Store) WriteObject(ctx context.Context, urn string, r io.Reader, mimeType string) error {
	if _, err := s.ready.Get(ctx); err != nil {
		return err
	}
	if _, err := s.conn.ObjectPut(ctx, s.container, urn, r, false, "", mimeType, nil); err != nil {
		return translate("put", urn, err)
	}
	return nil
}

func (s *Store) DeleteObject(ctx context.Context, urn string) error {
	if _, err := s.ready.Get(ctx); err != nil {
		return err
	}
	return translate("delete", urn, s.conn.ObjectDelete(ctx, s.container, urn))
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
	info, _, err := s.conn.Object(ctx, s.container, urn)
	if err != nil {
		return stowfs.ObjectInfo{}, translate("head", urn, err)
	}
	return stowfs.ObjectInfo{URN: urn, Size: info.Bytes, LastModified: info.LastModified, ETag: info.Hash}, nil
}

func (s *Store) CopyObject(ctx context.Context, from, to string) error {
	if _, err := s.ready.Get(ctx); err != nil {
		return err
	}
	if _, err := s.conn.ObjectCopy(ctx, s.container, from, s.container, to, nil); err != nil {
		return translate("copy", from, err)
	}
	return nil
}

func (s *Store) ListObjects(ctx context.Context, prefix string) ([]stowfs.ObjectInfo, error) {
	if _, err := s.ready.Get(ctx); err != nil {
		return nil, err
	}
	objs, err := s.conn.ObjectsAll(ctx, s.container, &swift.ObjectsOpts{Prefix: prefix})
	if err != nil {
		return nil, translate("list", prefix, err)
	}
	out := make([]stowfs.ObjectInfo, 0, len(objs))
	for _, o := range objs {
		out = append(out, stowfs.ObjectInfo{URN: o.Name, Size: o.Bytes, LastModified: o.LastModified, ETag: o.Hash})
	}
	return out, nil
}

func translate(op, urn string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("swift %s %s: %w", op, urn, err)
	}

	var sentinel error
	var serr *swift.Error
	var netErr net.Error
	switch {
	case errors.Is(err, swift.ObjectNotFound), errors.Is(err, swift.ContainerNotFound):
		sentinel = stowfs.ErrNotFound
	case errors.As(err, &serr):
		switch {
		case serr.StatusCode == http.StatusNotFound:
			sentinel = stowfs.ErrNotFound
		case serr.StatusCode == http.StatusUnauthorized, serr.StatusCode == http.StatusForbidden:
			sentinel = stowfs.ErrAuthFailure
		case serr.StatusCode >= http.StatusInternalServerError, serr.StatusCode == http.StatusTooManyRequests:
			sentinel = stowfs.ErrUnavailable
		}
	case errors.As(err, &netErr):
		sentinel = stowfs.ErrUnavailable
	}

	if sentinel == nil {
		return fmt.Errorf("swift %s %s: %w", op, urn, err)
	}
	return fmt.Errorf("swift %s %s: %w: %w", op, urn, sentinel, err)
}
