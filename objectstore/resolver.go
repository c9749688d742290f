package objectstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/sagarc03/stowfs"
)

const (
	// PreferenceApp namespaces the resolver's keys in the assignment store.
	PreferenceApp = "homeobjectstore"
	prefStore     = "objectstore"
	prefBucket    = "bucket:"
)

// Resolver decides which store configuration and bucket back a user.
// Assignments are sticky: once persisted they are returned unchanged even
// when the configured shard count changes later.
//
// Concurrent first resolutions for the same user compute the same value, so
// the unsynchronized read-then-write is harmless.
type Resolver struct {
	stores *Stores
	prefs  stowfs.AssignmentStore
	logger *slog.Logger
}

// NewResolver returns a resolver over stores, which may be nil when no
// object store is configured.
func NewResolver(stores *Stores, prefs stowfs.AssignmentStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{stores: stores, prefs: prefs, logger: logger}
}

// Stores returns the configured store set, or nil.
func (r *Resolver) Stores() *Stores { return r.stores }

// ForUser returns the store configuration for uid. ok is false when no
// object store is configured, in which case the caller falls back to
// regular storage.
func (r *Resolver) ForUser(ctx context.Context, uid string) (Config, bool, error) {
	if r.stores == nil {
		return Config{}, false, nil
	}

	name, err := r.storeName(ctx, uid)
	if err != nil {
		return Config{}, false, err
	}

	cfg, err := r.stores.Get(name)
	if err != nil {
		return Config{}, false, err
	}
	cfg.Name = name

	if !cfg.Multibucket {
		return cfg, true, nil
	}

	bucket, err := r.bucket(ctx, uid, cfg)
	if err != nil {
		return Config{}, false, err
	}
	return cfg.withArgument(argBucket, bucket), true, nil
}

// Placement is the store a user resolves to. Assigned is false while the
// store or bucket is only computed and has not been persisted yet.
type Placement struct {
	Config
	Assigned bool
}

// Lookup reports what ForUser would return for uid without persisting an
// assignment, so inspecting a user leaves them free to be assigned later.
func (r *Resolver) Lookup(ctx context.Context, uid string) (Placement, bool, error) {
	if r.stores == nil {
		return Placement{}, false, nil
	}

	name, assigned, err := r.lookupStore(ctx, uid)
	if err != nil {
		return Placement{}, false, err
	}

	cfg, err := r.stores.Get(name)
	if err != nil {
		return Placement{}, false, err
	}
	cfg.Name = name

	if cfg.Multibucket {
		bucket, persisted, err := r.lookupBucket(ctx, uid, cfg)
		if err != nil {
			return Placement{}, false, err
		}
		cfg = cfg.withArgument(argBucket, bucket)
		assigned = assigned && persisted
	}
	return Placement{Config: cfg, Assigned: assigned}, true, nil
}

// ForRoot returns the store configuration for system owned storage. A
// multibucket root always uses shard 0.
func (r *Resolver) ForRoot() (Config, bool, error) {
	if r.stores == nil {
		return Config{}, false, nil
	}

	cfg, err := r.stores.Get(RootStore)
	if err != nil {
		return Config{}, false, err
	}
	cfg.Name = RootStore

	if cfg.Multibucket {
		prefix, _, _, err := shardArgs(cfg)
		if err != nil {
			return Config{}, false, err
		}
		cfg = cfg.withArgument(argBucket, prefix+"0")
	}
	return cfg, true, nil
}

// Assign pins uid to a named store. It refuses to move a user who is
// already assigned elsewhere, since their objects would be left behind.
func (r *Resolver) Assign(ctx context.Context, uid, name string) error {
	if r.stores == nil {
		return fmt.Errorf("assign %s: no object store configured: %w", uid, stowfs.ErrConfiguration)
	}
	if _, err := r.stores.Get(name); err != nil {
		return err
	}

	cur, err := r.prefs.GetUserValue(ctx, uid, PreferenceApp, prefStore)
	switch {
	case err == nil && cur != name:
		return fmt.Errorf("assign %s to %q: already assigned to %q: %w", uid, name, cur, stowfs.ErrExists)
	case err == nil:
		return nil
	case !errors.Is(err, stowfs.ErrNotFound):
		return fmt.Errorf("assign %s: %w", uid, err)
	}

	return r.prefs.SetUserValue(ctx, uid, PreferenceApp, prefStore, name)
}

func (r *Resolver) lookupStore(ctx context.Context, uid string) (string, bool, error) {
	if !r.stores.HasMultiple() {
		return DefaultStore, true, nil
	}

	name, err := r.prefs.GetUserValue(ctx, uid, PreferenceApp, prefStore)
	switch {
	case err == nil:
		return name, true, nil
	case errors.Is(err, stowfs.ErrNotFound):
		return DefaultStore, false, nil
	default:
		return "", false, fmt.Errorf("resolve store for %s: %w", uid, err)
	}
}

func (r *Resolver) storeName(ctx context.Context, uid string) (string, error) {
	name, persisted, err := r.lookupStore(ctx, uid)
	if err != nil || persisted {
		return name, err
	}

	if err := r.prefs.SetUserValue(ctx, uid, PreferenceApp, prefStore, name); err != nil {
		return "", fmt.Errorf("persist store for %s: %w", uid, err)
	}
	r.logger.Info("assigned object store", "user", uid, "store", name)
	return name, nil
}

func (r *Resolver) lookupBucket(ctx context.Context, uid string, cfg Config) (string, bool, error) {
	bucket, err := r.prefs.GetUserValue(ctx, uid, PreferenceApp, prefBucket+cfg.Name)
	if err == nil {
		return bucket, true, nil
	}
	if !errors.Is(err, stowfs.ErrNotFound) {
		return "", false, fmt.Errorf("resolve bucket for %s: %w", uid, err)
	}

	prefix, numBuckets, minBucket, err := shardArgs(cfg)
	if err != nil {
		return "", false, err
	}
	idx, err := BucketIndex(uid, numBuckets, minBucket)
	if err != nil {
		return "", false, configErr(cfg.Name, err.Error())
	}
	return prefix + strconv.Itoa(idx), false, nil
}

func (r *Resolver) bucket(ctx context.Context, uid string, cfg Config) (string, error) {
	bucket, persisted, err := r.lookupBucket(ctx, uid, cfg)
	if err != nil || persisted {
		return bucket, err
	}

	if err := r.prefs.SetUserValue(ctx, uid, PreferenceApp, prefBucket+cfg.Name, bucket); err != nil {
		return "", fmt.Errorf("persist bucket for %s: %w", uid, err)
	}
	r.logger.Info("assigned bucket", "user", uid, "store", cfg.Name, "bucket", bucket)
	return bucket, nil
}
