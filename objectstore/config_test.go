package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagarc03/stowfs"
)

type testArgs struct {
	Bucket   string `mapstructure:"bucket" validate:"required"`
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,url"`
	Retries  int    `mapstructure:"retries" validate:"min=0"`
}

func testRegistry() *Registry {
	r := NewRegistry()
	Register(r, "memory", func(_ context.Context, c testArgs, _ Deps) (stowfs.ObjectStore, error) {
		return nil, nil
	})
	Register(r, "other", func(_ context.Context, c testArgs, _ Deps) (stowfs.ObjectStore, error) {
		return nil, nil
	})
	return r
}

func store(kind, bucket string) map[string]any {
	return map[string]any{
		"kind":      kind,
		"arguments": map[string]any{"bucket": bucket},
	}
}

func TestParse_Empty(t *testing.T) {
	s, err := Parse(nil, nil, testRegistry())
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = Parse(map[string]any{}, nil, testRegistry())
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestParse_Single(t *testing.T) {
	s, err := Parse(store("memory", "files"), nil, testRegistry())
	require.NoError(t, err)

	def, err := s.Get(DefaultStore)
	require.NoError(t, err)
	assert.Equal(t, "memory", def.Kind)
	assert.Equal(t, "files", def.Bucket())
	assert.False(t, def.Multibucket)

	root, err := s.Get(RootStore)
	require.NoError(t, err)
	assert.Equal(t, def, root, "root aliases default")
	assert.False(t, s.HasMultiple())
}

func TestParse_Named(t *testing.T) {
	raw := map[string]any{
		"default": "primary",
		"primary": store("memory", "a"),
		"archive": store("memory", "b"),
		"cold":    "archive",
	}

	s, err := Parse(raw, nil, testRegistry())
	require.NoError(t, err)

	assert.Equal(t, []string{"archive", "cold", "default", "primary", "root"}, s.Names())
	assert.True(t, s.HasMultiple())

	cold, err := s.Get("cold")
	require.NoError(t, err)
	assert.Equal(t, "b", cold.Bucket())

	root, err := s.Get(RootStore)
	require.NoError(t, err)
	assert.Equal(t, "a", root.Bucket())
}

func TestParse_Multibucket(t *testing.T) {
	t.Run("root aliases default", func(t *testing.T) {
		s, err := Parse(nil, store("memory", "shard-"), testRegistry())
		require.NoError(t, err)

		def, err := s.Get(DefaultStore)
		require.NoError(t, err)
		assert.True(t, def.Multibucket, "forced on")

		root, err := s.Get(RootStore)
		require.NoError(t, err)
		assert.Equal(t, "shard-", root.Bucket())
	})

	t.Run("objectstore becomes root", func(t *testing.T) {
		s, err := Parse(store("memory", "system"), store("memory", "shard-"), testRegistry())
		require.NoError(t, err)

		root, err := s.Get(RootStore)
		require.NoError(t, err)
		assert.Equal(t, "system", root.Bucket())
		assert.False(t, root.Multibucket)
	})

	t.Run("named objectstore conflicts", func(t *testing.T) {
		raw := map[string]any{"default": store("memory", "x")}
		_, err := Parse(raw, store("memory", "shard-"), testRegistry())
		assert.ErrorIs(t, err, stowfs.ErrConfiguration)
	})
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		raw     any
		wantMsg string
	}{
		{
			name:    "not a map",
			raw:     "s3",
			wantMsg: `objectstore "default": expected a map`,
		},
		{
			name:    "missing kind",
			raw:     map[string]any{"default": map[string]any{"arguments": map[string]any{}}},
			wantMsg: `objectstore "default": kind is required`,
		},
		{
			name:    "unknown kind",
			raw:     map[string]any{"default": store("ftp", "x")},
			wantMsg: `objectstore "default": unknown kind "ftp"`,
		},
		{
			name:    "arguments not a map",
			raw:     map[string]any{"default": map[string]any{"kind": "memory", "arguments": []any{"x"}}},
			wantMsg: `objectstore "default": arguments must be a map`,
		},
		{
			name: "multibucket not bool",
			raw: map[string]any{"default": map[string]any{
				"kind": "memory", "arguments": map[string]any{"bucket": "x"}, "multibucket": "yes",
			}},
			wantMsg: `objectstore "default": multibucket must be a boolean`,
		},
		{
			name:    "missing default",
			raw:     map[string]any{"primary": store("memory", "x")},
			wantMsg: "a default object store is required",
		},
		{
			name:    "alias cycle",
			raw:     map[string]any{"default": "a", "a": "b", "b": "a"},
			wantMsg: "alias cycle",
		},
		{
			name:    "dangling alias",
			raw:     map[string]any{"default": "nowhere"},
			wantMsg: `alias points to unknown object store "nowhere"`,
		},
		{
			name: "duplicate bucket",
			raw: map[string]any{
				"default": store("memory", "same"),
				"spare":   store("memory", "same"),
			},
			wantMsg: `objectstore "spare": bucket "same" is already used by object store "default"`,
		},
		{
			name:    "invalid argument",
			raw:     map[string]any{"default": store("memory", "")},
			wantMsg: `objectstore "default": arguments:`,
		},
		{
			name: "unknown argument",
			raw: map[string]any{"default": map[string]any{
				"kind": "memory", "arguments": map[string]any{"bucket": "x", "colour": "red"},
			}},
			wantMsg: "colour",
		},
		{
			name: "bad shard range",
			raw: map[string]any{"default": map[string]any{
				"kind":        "memory",
				"multibucket": true,
				"arguments":   map[string]any{"bucket": "s-", "num_buckets": 4, "min_bucket": 4},
			}},
			wantMsg: "min_bucket 4 must be in [0, 4)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw, nil, testRegistry())
			require.Error(t, err)
			assert.ErrorIs(t, err, stowfs.ErrConfiguration)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestParse_SameBucketDifferentKind(t *testing.T) {
	raw := map[string]any{
		"default": store("memory", "same"),
		"spare":   store("other", "same"),
	}
	_, err := Parse(raw, nil, testRegistry())
	require.Error(t, err)
	assert.ErrorIs(t, err, stowfs.ErrConfiguration)
	assert.Contains(t, err.Error(), `bucket "same" is already used by object store "default"`)
}

func TestParse_YAMLShapedMaps(t *testing.T) {
	raw := map[any]any{
		"kind":      "memory",
		"arguments": map[any]any{"bucket": "files", "retries": "3"},
	}
	s, err := Parse(raw, nil, testRegistry())
	require.NoError(t, err)

	cfg, err := s.Get(DefaultStore)
	require.NoError(t, err)
	assert.Equal(t, "files", cfg.Bucket())
}

func TestParse_WithoutRegistry(t *testing.T) {
	s, err := Parse(store("anything", "x"), nil, nil)
	require.NoError(t, err)
	cfg, err := s.Get(DefaultStore)
	require.NoError(t, err)
	assert.Equal(t, "anything", cfg.Kind)
}
