package backends

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagarc03/stowfs"
	"github.com/sagarc03/stowfs/objectstore"
)

func TestDefault_Kinds(t *testing.T) {
	assert.Equal(t, []string{"azure", "local", "s3", "s3legacy", "swift"}, Default().Kinds())
}

func TestDefault_ValidatesArguments(t *testing.T) {
	r := Default()

	tests := []struct {
		name    string
		cfg     objectstore.Config
		wantErr bool
	}{
		{"s3", objectstore.Config{Name: "a", Kind: "s3", Arguments: map[string]any{"bucket": "b", "region": "eu-west-1"}}, false},
		{"s3 key without secret", objectstore.Config{Name: "a", Kind: "s3", Arguments: map[string]any{"bucket": "b", "key": "k"}}, true},
		{"s3 part size too small", objectstore.Config{Name: "a", Kind: "s3", Arguments: map[string]any{"bucket": "b", "upload_part_size": "1024"}}, true},
		{"s3legacy", objectstore.Config{Name: "a", Kind: "s3legacy", Arguments: map[string]any{"bucket": "b", "endpoint": "http://s3.local", "key": "k", "secret": "s"}}, false},
		{"s3legacy needs endpoint", objectstore.Config{Name: "a", Kind: "s3legacy", Arguments: map[string]any{"bucket": "b", "key": "k", "secret": "s"}}, true},
		{"swift", objectstore.Config{Name: "a", Kind: "swift", Arguments: map[string]any{"bucket": "c", "user": "u", "key": "k", "auth_url": "https://keystone.local/v3", "auth_version": 3}}, false},
		{"swift bad auth version", objectstore.Config{Name: "a", Kind: "swift", Arguments: map[string]any{"bucket": "c", "user": "u", "key": "k", "auth_url": "https://keystone.local", "auth_version": 9}}, true},
		{"azure", objectstore.Config{Name: "a", Kind: "azure", Arguments: map[string]any{"bucket": "c", "account_name": "acct", "account_key": "a2V5"}}, false},
		{"azure bad key", objectstore.Config{Name: "a", Kind: "azure", Arguments: map[string]any{"bucket": "c", "account_name": "acct", "account_key": "not base64!"}}, true},
		{"local", objectstore.Config{Name: "a", Kind: "local", Arguments: map[string]any{"root": "/srv/objects"}}, false},
		{"unknown argument", objectstore.Config{Name: "a", Kind: "local", Arguments: map[string]any{"root": "/srv", "colour": "blue"}}, true},
		{"sharding arguments pass", objectstore.Config{Name: "a", Kind: "local", Arguments: map[string]any{"root": "/srv", "bucket": "b", "num_buckets": 8}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Validate(tt.cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, stowfs.ErrConfiguration)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDefault_OpenLocal(t *testing.T) {
	ctx := context.Background()
	store, err := Default().Open(ctx, objectstore.Config{
		Name:      "default",
		Kind:      "local",
		Arguments: map[string]any{"root": t.TempDir(), "bucket": "files", "autocreate": true},
	}, objectstore.Deps{})
	require.NoError(t, err)
	assert.Contains(t, store.StorageID(), "local::")
}
