package rollback

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/workflowcore/internal/jsonvalue"
	"goa.design/workflowcore/internal/registry"
	"goa.design/workflowcore/internal/registry/demotools"
	"goa.design/workflowcore/internal/store/filestore"
	"goa.design/workflowcore/internal/types"
)

type fakeVCS struct {
	state         *types.GitState
	stateErr      error
	checkoutCalls []string
	softResets    int
	hardResets    int
}

func (f *fakeVCS) State(workingDirectory string) (*types.GitState, error) { return f.state, f.stateErr }
func (f *fakeVCS) StashAndCheckout(workingDirectory, branch, commitHash string) error {
	f.checkoutCalls = append(f.checkoutCalls, branch+"@"+commitHash)
	return nil
}
func (f *fakeVCS) SoftResetHEAD1(workingDirectory string) error { f.softResets++; return nil }
func (f *fakeVCS) ResetHEAD(workingDirectory string) error      { f.hardResets++; return nil }

func newController(t *testing.T, vcs VCS) *Controller {
	t.Helper()
	st, err := filestore.New(t.TempDir(), nil)
	require.NoError(t, err)
	reg := registry.NewInMemory()
	require.NoError(t, reg.Register(demotools.Echo{}))
	return New(st, reg, vcs, 10)
}

func TestCreateCheckpointCapturesFileContent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("original"), 0o644))

	c := newController(t, nil)
	wfCtx := types.NewContext(dir)
	wfCtx.CodeChanges = []types.CodeChange{{File: "a.txt", Type: types.ChangeModify}}

	ck, err := c.CreateCheckpoint(context.Background(), "wf1", "step1", wfCtx)
	require.NoError(t, err)
	require.Len(t, ck.FileSnapshots, 1)
	assert.Equal(t, "a.txt", ck.FileSnapshots[0].Path)
	assert.Equal(t, "original", ck.FileSnapshots[0].Content)
	assert.True(t, ck.FileSnapshots[0].Exists)
}

func TestCreateCheckpointRecordsGitState(t *testing.T) {
	t.Parallel()
	vcs := &fakeVCS{state: &types.GitState{Branch: "main", CommitHash: "abc123"}}
	c := newController(t, vcs)
	wfCtx := types.NewContext(t.TempDir())

	ck, err := c.CreateCheckpoint(context.Background(), "wf1", "step1", wfCtx)
	require.NoError(t, err)
	require.NotNil(t, ck.GitState)
	assert.Equal(t, "main", ck.GitState.Branch)
}

func TestRollbackToCheckpointRestoresSnapshottedFileContent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	existingPath := filepath.Join(dir, "existing.txt")
	createdPath := filepath.Join(dir, "created.txt")
	require.NoError(t, os.WriteFile(existingPath, []byte("original"), 0o644))

	c := newController(t, nil)
	wfCtx := types.NewContext(dir)
	wfCtx.CodeChanges = []types.CodeChange{{File: "existing.txt", Type: types.ChangeModify}}
	ck, err := c.CreateCheckpoint(context.Background(), "wf1", "step1", wfCtx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(existingPath, []byte("mutated"), 0o644))
	require.NoError(t, os.WriteFile(createdPath, []byte("new"), 0o644))
	wfCtx.CodeChanges = append(wfCtx.CodeChanges, types.CodeChange{File: "created.txt", Type: types.ChangeCreate})

	err = c.RollbackToCheckpoint(context.Background(), "wf1", ck, &wfCtx)
	require.NoError(t, err)

	content, err := os.ReadFile(existingPath)
	require.NoError(t, err)
	assert.Equal(t, "original", string(content))
}

func TestRollbackToCheckpointFailsWithoutVCSWhenGitStateCaptured(t *testing.T) {
	t.Parallel()
	c := newController(t, nil)
	wfCtx := types.NewContext(t.TempDir())
	ck := types.Checkpoint{ID: "c1", Context: wfCtx, GitState: &types.GitState{Branch: "main", CommitHash: "x"}}

	err := c.RollbackToCheckpoint(context.Background(), "wf1", ck, &wfCtx)
	assert.Error(t, err)
}

func TestExecuteRollbackActionRunsToolAction(t *testing.T) {
	t.Parallel()
	c := newController(t, nil)
	wfCtx := types.NewContext(t.TempDir())
	action := &types.RollbackAction{
		Type: types.RollbackTool,
		Tool: &types.ToolRollbackSpec{Name: "echo", Parameters: map[string]jsonvalue.Value{"message": jsonvalue.Of("undo")}},
	}

	err := c.ExecuteRollbackAction(context.Background(), action, types.Step{}, &wfCtx)
	assert.NoError(t, err)
}

func TestExecuteRollbackActionRejectsUnregisteredTool(t *testing.T) {
	t.Parallel()
	c := newController(t, nil)
	wfCtx := types.NewContext(t.TempDir())
	action := &types.RollbackAction{Type: types.RollbackTool, Tool: &types.ToolRollbackSpec{Name: "ghost"}}

	err := c.ExecuteRollbackAction(context.Background(), action, types.Step{}, &wfCtx)
	assert.Error(t, err)
}

func TestExecuteRollbackActionDispatchesUndoGitCommit(t *testing.T) {
	t.Parallel()
	vcs := &fakeVCS{}
	c := newController(t, vcs)
	wfCtx := types.NewContext(t.TempDir())
	action := &types.RollbackAction{Type: types.RollbackCustom, CustomHandler: "undoGitCommit"}

	err := c.ExecuteRollbackAction(context.Background(), action, types.Step{}, &wfCtx)
	require.NoError(t, err)
	assert.Equal(t, 1, vcs.softResets)
}

func TestExecuteRollbackActionUndoFileCreationRemovesFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "made.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	c := newController(t, nil)
	wfCtx := types.NewContext(dir)
	step := types.Step{Tool: &types.ToolPayload{Parameters: map[string]jsonvalue.Value{"path": jsonvalue.Of("made.txt")}}}
	action := &types.RollbackAction{Type: types.RollbackCustom, CustomHandler: "undoFileCreation"}

	err := c.ExecuteRollbackAction(context.Background(), action, step, &wfCtx)
	require.NoError(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRollbackCodeChangesSkipsUnrecoverableDeletesAndModifies(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	createdPath := filepath.Join(dir, "created.txt")
	require.NoError(t, os.WriteFile(createdPath, []byte("x"), 0o644))

	c := newController(t, nil)
	changes := []types.CodeChange{
		{File: "created.txt", Type: types.ChangeCreate},
		{File: "deleted.txt", Type: types.ChangeDelete},
		{File: "modified.txt", Type: types.ChangeModify},
	}

	warnings := c.RollbackCodeChanges(changes, dir)
	require.Len(t, warnings, 2)
	_, statErr := os.Stat(createdPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestGitRollbackRequiresVCS(t *testing.T) {
	t.Parallel()
	c := newController(t, nil)
	err := c.GitRollback(t.TempDir(), "abc123", "revert")
	assert.Error(t, err)
}

func TestGitRollbackDelegatesToVCS(t *testing.T) {
	t.Parallel()
	vcs := &fakeVCS{}
	c := newController(t, vcs)
	err := c.GitRollback(t.TempDir(), "abc123", "revert")
	require.NoError(t, err)
	require.Len(t, vcs.checkoutCalls, 1)
	assert.Contains(t, vcs.checkoutCalls[0], "abc123")
}
