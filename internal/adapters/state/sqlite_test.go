package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "workflows.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_Contract(t *testing.T) {
	testWorkflowStore(t, newTestSQLiteStore(t))
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "workflows.db")

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	id, err := store.Save(ctx, sampleRecord("persistent"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "persistent", got.Name)
	assert.Len(t, got.Steps, 3)

	var version int
	require.NoError(t, reopened.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version))
	assert.Equal(t, 2, version)
}

func TestSQLiteStore_DetectsTampering(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	id, err := store.Save(ctx, sampleRecord("tampered"))
	require.NoError(t, err)

	_, err = store.db.Exec("UPDATE steps SET text = 'changed' WHERE workflow_id = ? AND position = 0", string(id))
	require.NoError(t, err)

	_, err = store.Load(ctx, id)
	require.Error(t, err)
	assert.True(t, core.IsCode(err, core.CodeStateCorrupted))
}

func TestSQLiteStore_DeleteCascadesSteps(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	id, err := store.Save(ctx, sampleRecord("cascade"))
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, id))

	var n int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM steps WHERE workflow_id = ?", string(id)).Scan(&n))
	assert.Zero(t, n)
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("-- header\nCREATE TABLE a (x INT);\n\n-- note\nCREATE INDEX i ON a(x);\n")
	require.Len(t, got, 2)
	assert.Equal(t, "CREATE TABLE a (x INT)", got[0])
	assert.Equal(t, "CREATE INDEX i ON a(x)", got[1])
}

func TestIsSQLiteBusy(t *testing.T) {
	assert.False(t, isSQLiteBusy(nil))
	assert.False(t, isSQLiteBusy(errors.New("no such table: workflows")))
	assert.True(t, isSQLiteBusy(errors.New("database is locked (5) (SQLITE_BUSY)")))
}
