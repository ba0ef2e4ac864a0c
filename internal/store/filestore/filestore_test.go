package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/workflowcore/internal/types"
)

func newStore(t *testing.T) *FileStore {
	t.Helper()
	fs, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	return fs
}

func TestSaveAndLoadWorkflowRoundTrips(t *testing.T) {
	t.Parallel()
	fs := newStore(t)
	ctx := context.Background()
	wf := types.Workflow{ID: "wf-1", Name: "demo", Status: types.StatusRunning}

	require.NoError(t, fs.SaveWorkflow(ctx, wf))
	got, err := fs.LoadWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, wf.ID, got.ID)
	assert.Equal(t, wf.Status, got.Status)
}

func TestLoadWorkflowMissingReturnsError(t *testing.T) {
	t.Parallel()
	fs := newStore(t)
	_, err := fs.LoadWorkflow(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestListWorkflowIDsSorted(t *testing.T) {
	t.Parallel()
	fs := newStore(t)
	ctx := context.Background()
	require.NoError(t, fs.SaveWorkflow(ctx, types.Workflow{ID: "b"}))
	require.NoError(t, fs.SaveWorkflow(ctx, types.Workflow{ID: "a"}))

	ids, err := fs.ListWorkflowIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestSaveCheckpointAndLoadOrdersByTimestamp(t *testing.T) {
	t.Parallel()
	fs := newStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, fs.SaveCheckpoint(ctx, "wf-1", types.Checkpoint{ID: "c2", Timestamp: now.Add(time.Minute)}))
	require.NoError(t, fs.SaveCheckpoint(ctx, "wf-1", types.Checkpoint{ID: "c1", Timestamp: now}))

	cks, err := fs.LoadCheckpoints(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, cks, 2)
	assert.Equal(t, "c1", cks[0].ID)
	assert.Equal(t, "c2", cks[1].ID)
}

func TestLoadCheckpointsSkipsCorruptFiles(t *testing.T) {
	t.Parallel()
	fs := newStore(t)
	ctx := context.Background()
	require.NoError(t, fs.SaveCheckpoint(ctx, "wf-1", types.Checkpoint{ID: "good", Timestamp: time.Now()}))

	corruptPath := filepath.Join(fs.checkpointDir("wf-1"), "bad.json")
	require.NoError(t, os.WriteFile(corruptPath, []byte("{not json"), 0o644))

	cks, err := fs.LoadCheckpoints(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, cks, 1)
	assert.Equal(t, "good", cks[0].ID)
}

func TestEvictCheckpointsRemovesOldestBeyondLimit(t *testing.T) {
	t.Parallel()
	fs := newStore(t)
	ctx := context.Background()
	base := time.Now()
	for i, id := range []string{"c1", "c2", "c3"} {
		require.NoError(t, fs.SaveCheckpoint(ctx, "wf-1", types.Checkpoint{
			ID: id, Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	require.NoError(t, fs.EvictCheckpoints(ctx, "wf-1", 2))

	cks, err := fs.LoadCheckpoints(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, cks, 2)
	assert.Equal(t, "c2", cks[0].ID)
	assert.Equal(t, "c3", cks[1].ID)
}
