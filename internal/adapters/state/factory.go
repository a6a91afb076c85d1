package state

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
)

// Backend names accepted by NewWorkflowStore.
const (
	BackendSQLite   = "sqlite"
	BackendJSON     = "json"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Options selects and configures a workflow store backend.
type Options struct {
	// Backend is one of sqlite, json, redis or postgres. Empty means sqlite.
	Backend string

	// Path is the SQLite database file or the JSON directory.
	Path string

	// URL is the redis:// URL or the Postgres DSN.
	URL string

	// Prefix namespaces Redis keys.
	Prefix string
}

// NewWorkflowStore creates the configured backend.
func NewWorkflowStore(ctx context.Context, opts Options) (core.WorkflowStore, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendSQLite:
		path := opts.Path
		if !strings.HasSuffix(path, ".db") {
			path = strings.TrimSuffix(path, filepath.Ext(path)) + ".db"
		}
		s, err := NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendJSON:
		s, err := NewJSONStore(opts.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendRedis:
		var ropts []RedisOption
		if opts.Prefix != "" {
			ropts = append(ropts, WithRedisPrefix(opts.Prefix))
		}
		s, err := NewRedisStoreFromURL(ctx, opts.URL, ropts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendPostgres:
		s, err := NewPostgresStoreFromDSN(ctx, opts.URL)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, core.ErrValidation(core.CodeInvalidConfig, "unknown store backend: "+opts.Backend)
	}
}

// Closeable is an optional interface for stores that need cleanup.
type Closeable interface {
	Close() error
}

// CloseWorkflowStore closes a store if it implements Closeable.
func CloseWorkflowStore(store core.WorkflowStore) error {
	if c, ok := store.(Closeable); ok {
		return c.Close()
	}
	return nil
}
