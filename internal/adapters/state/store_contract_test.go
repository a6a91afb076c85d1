package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
)

func sampleRecord(name string) *core.WorkflowRecord {
	return &core.WorkflowRecord{
		Name:        name,
		Description: "three step chain",
		Steps: []core.StepRecord{
			{ID: "step-1", Text: "Summarize 🗄️notes.txt", OutputID: "output-1", Inputs: []core.Reference{core.FileRef("notes.txt")}},
			{ID: "step-2", Text: "Translate 📄output-1", OutputID: "output-2", Inputs: []core.Reference{core.OutputRef("output-1")}},
			{ID: "step-3", Text: "Say hi", OutputID: "output-3"},
		},
		NextSeq: 4,
	}
}

// testWorkflowStore exercises the behaviour every backend must share.
func testWorkflowStore(t *testing.T, store core.WorkflowStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("save assigns id and round trips", func(t *testing.T) {
		rec := sampleRecord("roundtrip")
		id, err := store.Save(ctx, rec)
		require.NoError(t, err)
		assert.NotEmpty(t, id)
		assert.Empty(t, rec.ID, "caller record must not be mutated")

		got, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, string(id), got.ID)
		assert.Equal(t, "roundtrip", got.Name)
		assert.Equal(t, "three step chain", got.Description)
		assert.Equal(t, 4, got.NextSeq)
		require.Len(t, got.Steps, 3)
		assert.Equal(t, "output-2", got.Steps[1].OutputID)
		assert.Equal(t, []core.Reference{core.OutputRef("output-1")}, got.Steps[1].Inputs)
		assert.Empty(t, got.Steps[2].Inputs)

		wf, err := core.FromRecord(got)
		require.NoError(t, err)
		assert.Equal(t, 3, wf.Len())
	})

	t.Run("save overwrites existing id", func(t *testing.T) {
		rec := sampleRecord("before")
		id, err := store.Save(ctx, rec)
		require.NoError(t, err)

		rec.ID = string(id)
		rec.Name = "after"
		rec.Steps = rec.Steps[2:]
		id2, err := store.Save(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, id, id2)

		got, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "after", got.Name)
		assert.Len(t, got.Steps, 1)
	})

	t.Run("load missing", func(t *testing.T) {
		_, err := store.Load(ctx, "does-not-exist")
		require.Error(t, err)
		assert.True(t, core.IsCode(err, core.CodeWorkflowNotFound))
	})

	t.Run("list newest first with step counts", func(t *testing.T) {
		first, err := store.Save(ctx, sampleRecord("list-a"))
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
		second, err := store.Save(ctx, &core.WorkflowRecord{Name: "list-b"})
		require.NoError(t, err)

		list, err := store.List(ctx)
		require.NoError(t, err)
		pos := map[core.WorkflowID]int{}
		counts := map[core.WorkflowID]int{}
		for i, s := range list {
			pos[s.ID] = i
			counts[s.ID] = s.StepCount
		}
		require.Contains(t, pos, first)
		require.Contains(t, pos, second)
		assert.Less(t, pos[second], pos[first])
		assert.Equal(t, 3, counts[first])
		assert.Equal(t, 0, counts[second])
	})

	t.Run("delete", func(t *testing.T) {
		id, err := store.Save(ctx, sampleRecord("doomed"))
		require.NoError(t, err)
		require.NoError(t, store.Delete(ctx, id))

		_, err = store.Load(ctx, id)
		assert.True(t, core.IsCode(err, core.CodeWorkflowNotFound))

		err = store.Delete(ctx, id)
		assert.True(t, core.IsCode(err, core.CodeWorkflowNotFound))
	})

	t.Run("nil record", func(t *testing.T) {
		_, err := store.Save(ctx, nil)
		assert.True(t, core.IsCode(err, core.CodeInvalidRecord))
	})
}
