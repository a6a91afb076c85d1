package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
)

func TestJSONStore_Contract(t *testing.T) {
	store, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)
	testWorkflowStore(t, store)
}

func TestJSONStore_FileLayout(t *testing.T) {
	dir := t.TempDir()
	store, err := NewJSONStore(dir)
	require.NoError(t, err)

	id, err := store.Save(context.Background(), sampleRecord("layout"))
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, string(id)+".json"))
	require.NoError(t, err)
	if filepath.Separator == '/' {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

func TestJSONStore_DetectsTampering(t *testing.T) {
	dir := t.TempDir()
	store, err := NewJSONStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	id, err := store.Save(ctx, sampleRecord("tampered"))
	require.NoError(t, err)

	path := filepath.Join(dir, string(id)+".json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(replaceOnce(string(data), "Say hi", "Say bye")), 0o600))

	_, err = store.Load(ctx, id)
	assert.True(t, core.IsCode(err, core.CodeStateCorrupted))

	list, err := store.List(ctx)
	require.NoError(t, err)
	for _, s := range list {
		assert.NotEqual(t, id, s.ID, "corrupted workflow must be skipped in listings")
	}
}

func TestJSONStore_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewJSONStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o600))

	_, err = store.Load(context.Background(), "broken")
	assert.True(t, core.IsCode(err, core.CodeStateCorrupted))
}

func TestJSONStore_RejectsPathLikeIDs(t *testing.T) {
	store, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)

	for _, id := range []core.WorkflowID{"../escape", `a\b`, ".."} {
		_, err := store.Load(context.Background(), id)
		assert.True(t, core.IsCode(err, core.CodeInvalidRecord), "id %q", id)
	}
}

func replaceOnce(s, old, repl string) string {
	for i := 0; i+len(old) <= len(s); i++ {
		if s[i:i+len(old)] == old {
			return s[:i] + repl + s[i+len(old):]
		}
	}
	return s
}
