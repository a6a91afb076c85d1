package chat

import (
	"path/filepath"
	"strings"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
)

// NewThreadStore creates a ThreadStore (SQLite) at the specified path.
func NewThreadStore(path string) (core.ThreadStore, error) {
	if !strings.HasSuffix(path, ".db") {
		path = strings.TrimSuffix(path, filepath.Ext(path)) + ".db"
	}
	store, err := NewSQLiteThreadStore(path)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// Closeable is an optional interface for stores that need cleanup.
type Closeable interface {
	Close() error
}

// CloseThreadStore closes a ThreadStore if it implements Closeable.
func CloseThreadStore(store core.ThreadStore) error {
	if closeable, ok := store.(Closeable); ok {
		return closeable.Close()
	}
	return nil
}
