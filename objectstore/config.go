package objectstore

import (
	"fmt"
	"maps"
	"slices"

	"github.com/sagarc03/stowfs"
)

const (
	// DefaultStore serves users without an explicit assignment.
	DefaultStore = "default"
	// RootStore serves system owned storage.
	RootStore = "root"
)

// Config is one concrete object store configuration.
type Config struct {
	// Name is the store name the configuration was resolved for.
	Name        string         `json:"name" yaml:"name"`
	Kind        string         `json:"kind" yaml:"kind"`
	Arguments   map[string]any `json:"arguments" yaml:"arguments"`
	Multibucket bool           `json:"multibucket" yaml:"multibucket"`
}

// Bucket returns the bucket argument, or "" when none is set.
func (c Config) Bucket() string {
	b, _ := c.Arguments["bucket"].(string)
	return b
}

// withArgument returns a copy of c with key set; the receiver's argument map
// is never modified.
func (c Config) withArgument(key string, value any) Config {
	args := maps.Clone(c.Arguments)
	if args == nil {
		args = make(map[string]any)
	}
	args[key] = value
	c.Arguments = args
	return c
}

// Stores is a validated set of named object store configurations. Entries
// are either concrete configurations or aliases naming another entry.
type Stores struct {
	concrete map[string]Config
	aliases  map[string]string
}

// Parse validates raw configuration and returns the store set. raw is the
// "objectstore" value: either a single {kind, arguments} map or a map of
// named entries, where a string entry aliases another name. multibucket is
// the "objectstore_multibucket" value, a single entry that becomes the
// default store with sharding enabled.
//
// Parse returns nil, nil when neither value is set. Every violation wraps
// stowfs.ErrConfiguration and names the offending store.
func Parse(raw, multibucket any, registry *Registry) (*Stores, error) {
	if isEmpty(raw) && isEmpty(multibucket) {
		return nil, nil
	}

	s := &Stores{
		concrete: make(map[string]Config),
		aliases:  make(map[string]string),
	}

	switch {
	case !isEmpty(multibucket):
		cfg, err := parseEntry(DefaultStore, multibucket)
		if err != nil {
			return nil, err
		}
		cfg.Multibucket = true
		s.concrete[DefaultStore] = cfg

		if isEmpty(raw) {
			s.aliases[RootStore] = DefaultStore
			break
		}
		m, err := asMap(RootStore, raw)
		if err != nil {
			return nil, err
		}
		if !isSingle(m) {
			return nil, configErr(RootStore, "objectstore_multibucket cannot be combined with named object stores")
		}
		root, err := parseEntry(RootStore, m)
		if err != nil {
			return nil, err
		}
		s.concrete[RootStore] = root

	default:
		m, err := asMap(DefaultStore, raw)
		if err != nil {
			return nil, err
		}
		if isSingle(m) {
			cfg, err := parseEntry(DefaultStore, m)
			if err != nil {
				return nil, err
			}
			s.concrete[DefaultStore] = cfg
			s.aliases[RootStore] = DefaultStore
			break
		}

		for name, v := range m {
			if alias, ok := v.(string); ok {
				s.aliases[name] = alias
				continue
			}
			cfg, err := parseEntry(name, v)
			if err != nil {
				return nil, err
			}
			s.concrete[name] = cfg
		}
		if !s.has(DefaultStore) {
			return nil, configErr(DefaultStore, "a default object store is required")
		}
		if !s.has(RootStore) {
			s.aliases[RootStore] = DefaultStore
		}
	}

	if err := s.validate(registry); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Stores) has(name string) bool {
	if _, ok := s.concrete[name]; ok {
		return true
	}
	_, ok := s.aliases[name]
	return ok
}

func (s *Stores) validate(registry *Registry) error {
	for _, name := range slices.Sorted(maps.Keys(s.aliases)) {
		if _, err := s.Get(name); err != nil {
			return err
		}
	}

	buckets := make(map[string]string)
	for _, name := range slices.Sorted(maps.Keys(s.concrete)) {
		cfg := s.concrete[name]

		if registry != nil {
			if err := registry.Validate(cfg); err != nil {
				return err
			}
		}

		if cfg.Multibucket {
			if _, _, _, err := shardArgs(cfg); err != nil {
				return err
			}
		}

		bucket := cfg.Bucket()
		if bucket == "" {
			continue
		}
		if other, ok := buckets[bucket]; ok {
			return configErr(name, fmt.Sprintf("bucket %q is already used by object store %q", bucket, other))
		}
		buckets[bucket] = name
	}
	return nil
}

// Get resolves name through any aliases to its concrete configuration.
func (s *Stores) Get(name string) (Config, error) {
	seen := make(map[string]bool)
	cur := name
	for {
		if cfg, ok := s.concrete[cur]; ok {
			return cfg, nil
		}
		next, ok := s.aliases[cur]
		if !ok {
			if cur == name {
				return Config{}, configErr(name, "no such object store")
			}
			return Config{}, configErr(name, fmt.Sprintf("alias points to unknown object store %q", cur))
		}
		if seen[cur] {
			return Config{}, configErr(name, "alias cycle")
		}
		seen[cur] = true
		cur = next
	}
}

// Names lists every configured name, aliases included, sorted.
func (s *Stores) Names() []string {
	names := slices.Collect(maps.Keys(s.concrete))
	names = append(names, slices.Collect(maps.Keys(s.aliases))...)
	slices.Sort(names)
	return names
}

// HasMultiple reports whether anything besides the default and root entries
// is configured, in which case users get a sticky store assignment.
func (s *Stores) HasMultiple() bool {
	for _, n := range s.Names() {
		if n != DefaultStore && n != RootStore {
			return true
		}
	}
	return false
}

func parseEntry(name string, v any) (Config, error) {
	m, err := asMap(name, v)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{Name: name}

	kind, ok := m["kind"].(string)
	if !ok || kind == "" {
		return Config{}, configErr(name, "kind is required")
	}
	cfg.Kind = kind

	if args, ok := m["arguments"]; ok && args != nil {
		am, ok := toStringMap(args)
		if !ok {
			return Config{}, configErr(name, "arguments must be a map")
		}
		cfg.Arguments = am
	} else {
		cfg.Arguments = make(map[string]any)
	}

	if mb, ok := m["multibucket"]; ok {
		b, ok := mb.(bool)
		if !ok {
			return Config{}, configErr(name, "multibucket must be a boolean")
		}
		cfg.Multibucket = b
	}

	return cfg, nil
}

func isSingle(m map[string]any) bool {
	_, ok := m["kind"]
	return ok
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	m, ok := toStringMap(v)
	return ok && len(m) == 0
}

func asMap(name string, v any) (map[string]any, error) {
	m, ok := toStringMap(v)
	if !ok {
		return nil, configErr(name, fmt.Sprintf("expected a map, got %T", v))
	}
	return m, nil
}

// toStringMap accepts the map shapes produced by viper and yaml decoders.
func toStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func configErr(name, msg string) error {
	return fmt.Errorf("objectstore %q: %s: %w", name, msg, stowfs.ErrConfiguration)
}
