package state

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
)

func TestNewWorkflowStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	tests := []struct {
		name string
		opts Options
		want interface{}
	}{
		{"default is sqlite", Options{Path: filepath.Join(t.TempDir(), "state.db")}, &SQLiteStore{}},
		{"sqlite adds extension", Options{Backend: "SQLite", Path: filepath.Join(t.TempDir(), "state.json")}, &SQLiteStore{}},
		{"json", Options{Backend: BackendJSON, Path: t.TempDir()}, &JSONStore{}},
		{"redis", Options{Backend: BackendRedis, URL: "redis://" + mr.Addr(), Prefix: "factory"}, &RedisStore{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewWorkflowStore(ctx, tt.opts)
			require.NoError(t, err)
			defer func() { _ = CloseWorkflowStore(store) }()
			assert.IsType(t, tt.want, store)
		})
	}
}

func TestNewWorkflowStore_SQLitePath(t *testing.T) {
	dir := t.TempDir()
	store, err := NewWorkflowStore(context.Background(), Options{Path: filepath.Join(dir, "state.json")})
	require.NoError(t, err)
	defer CloseWorkflowStore(store)
	assert.Equal(t, filepath.Join(dir, "state.db"), store.(*SQLiteStore).dbPath)
}

func TestNewWorkflowStore_Errors(t *testing.T) {
	ctx := context.Background()

	store, err := NewWorkflowStore(ctx, Options{Backend: "etcd"})
	assert.Nil(t, store)
	assert.True(t, core.IsCode(err, core.CodeInvalidConfig))

	store, err = NewWorkflowStore(ctx, Options{Backend: BackendRedis, URL: "::bad::"})
	assert.Nil(t, store)
	assert.Error(t, err)
}

func TestCloseWorkflowStore_NotCloseable(t *testing.T) {
	assert.NoError(t, CloseWorkflowStore(nil))
}
