package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"

	"github.com/sagarc03/stowfs"
	"github.com/sagarc03/stowfs/metrics"
)

// Deps are the shared collaborators handed to every backend constructor.
type Deps struct {
	Logger *slog.Logger
	// Tokens caches negotiated credentials across store instances. Optional.
	Tokens stowfs.TokenCache
	// Metrics instruments opened stores when set.
	Metrics *metrics.Metrics
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

type kind struct {
	validate func(args map[string]any) error
	open     func(ctx context.Context, cfg Config, deps Deps) (stowfs.ObjectStore, error)
}

// Registry maps a configuration kind to its backend constructor.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]kind
}

func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]kind)}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Register adds a backend kind. The arguments of a configuration are decoded
// into C through its mapstructure tags and checked against its validate
// tags, both when the configuration is parsed and again before open runs.
// Registering the same kind twice panics.
func Register[C any](r *Registry, name string, open func(ctx context.Context, c C, deps Deps) (stowfs.ObjectStore, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.kinds[name]; ok {
		panic(fmt.Sprintf("objectstore: kind %q registered twice", name))
	}

	r.kinds[name] = kind{
		validate: func(args map[string]any) error {
			_, err := Decode[C](args)
			return err
		},
		open: func(ctx context.Context, cfg Config, deps Deps) (stowfs.ObjectStore, error) {
			c, err := Decode[C](cfg.Arguments)
			if err != nil {
				return nil, configErr(cfg.Name, err.Error())
			}
			return open(ctx, c, deps)
		},
	}
}

// Decode converts a loosely typed argument map into C and validates it.
// Numeric and boolean arguments may be given as strings, which is how
// environment variables arrive.
func Decode[C any](args map[string]any) (C, error) {
	var c C
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &c,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return c, err
	}
	if err := dec.Decode(args); err != nil {
		return c, fmt.Errorf("arguments: %w", err)
	}
	if err := validate.Struct(c); err != nil {
		return c, fmt.Errorf("arguments: %w", err)
	}
	return c, nil
}

// Has reports whether kind is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.kinds[name]
	return ok
}

// Kinds lists the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.kinds))
}

// Validate checks that cfg names a registered kind with acceptable
// arguments. It performs no I/O.
func (r *Registry) Validate(cfg Config) error {
	k, err := r.lookup(cfg)
	if err != nil {
		return err
	}
	if err := k.validate(withoutResolverArgs(cfg.Arguments)); err != nil {
		return configErr(cfg.Name, err.Error())
	}
	return nil
}

// Open constructs the store for cfg, wrapping it with instrumentation when
// deps carries metrics.
func (r *Registry) Open(ctx context.Context, cfg Config, deps Deps) (stowfs.ObjectStore, error) {
	k, err := r.lookup(cfg)
	if err != nil {
		return nil, err
	}

	backendCfg := cfg
	backendCfg.Arguments = withoutResolverArgs(cfg.Arguments)

	store, err := k.open(ctx, backendCfg, deps)
	if err != nil {
		return nil, fmt.Errorf("open objectstore %q: %w", cfg.Name, err)
	}

	deps.logger().Debug("opened object store", "name", cfg.Name, "kind", cfg.Kind, "storage_id", store.StorageID())

	if deps.Metrics != nil {
		store = deps.Metrics.Instrument(store, cfg.Kind)
	}
	return store, nil
}

func (r *Registry) lookup(cfg Config) (kind, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kinds[cfg.Kind]
	if !ok {
		return kind{}, configErr(cfg.Name, fmt.Sprintf("unknown kind %q", cfg.Kind))
	}
	return k, nil
}

// resolverArgs are consumed by the bucket resolver and never reach a
// backend.
var resolverArgs = []string{argNumBuckets, argMinBucket}

func withoutResolverArgs(args map[string]any) map[string]any {
	out := maps.Clone(args)
	if out == nil {
		return map[string]any{}
	}
	for _, k := range resolverArgs {
		delete(out, k)
	}
	return out
}
