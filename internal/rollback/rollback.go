// Package rollback implements the Rollback Controller (spec §4.3):
// checkpoint/restore of file and VCS state, and per-step compensation
// actions.
package rollback

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"goa.design/workflowcore/internal/registry"
	"goa.design/workflowcore/internal/store"
	"goa.design/workflowcore/internal/types"
	"goa.design/workflowcore/internal/workflowerrors"
)

// VCS shells out to git for the subset of operations the controller needs.
// A nil VCS disables all VCS-state recording/restoring (non-repo working
// directories, or tests that don't want to touch git).
type VCS interface {
	State(workingDirectory string) (*types.GitState, error)
	StashAndCheckout(workingDirectory, branch, commitHash string) error
	SoftResetHEAD1(workingDirectory string) error
	ResetHEAD(workingDirectory string) error
}

// Controller is the Rollback Controller.
type Controller struct {
	store        store.CheckpointStore
	registry     registry.Registry
	vcs          VCS
	maxSnapshots int
}

// New constructs a Controller. maxSnapshots bounds the on-disk checkpoint
// retention per workflow (§4.3, default 50).
func New(st store.CheckpointStore, reg registry.Registry, vcs VCS, maxSnapshots int) *Controller {
	if maxSnapshots <= 0 {
		maxSnapshots = 50
	}
	return &Controller{store: st, registry: reg, vcs: vcs, maxSnapshots: maxSnapshots}
}

// CreateCheckpoint implements createCheckpoint(workflowId, stepId, context).
func (c *Controller) CreateCheckpoint(ctx context.Context, workflowID, stepID string, wfCtx types.Context) (types.Checkpoint, error) {
	paths := distinctPaths(wfCtx.CodeChanges)
	snapshots := make([]types.FileSnapshot, 0, len(paths))
	for _, p := range paths {
		full := resolvePath(wfCtx.WorkingDirectory, p)
		content, exists, err := readFileIfExists(full)
		if err != nil {
			return types.Checkpoint{}, &workflowerrors.SnapshotError{Message: fmt.Sprintf("reading %s", p), Cause: err}
		}
		snapshots = append(snapshots, types.FileSnapshot{Path: p, Content: content, Exists: exists})
	}

	var gitState *types.GitState
	if c.vcs != nil {
		gs, err := c.vcs.State(wfCtx.WorkingDirectory)
		if err != nil {
			return types.Checkpoint{}, &workflowerrors.SnapshotError{Message: "reading git state", Cause: err}
		}
		gitState = gs
	}

	ck := types.Checkpoint{
		ID:            types.NewID(),
		StepID:        stepID,
		Timestamp:     time.Now(),
		Context:       wfCtx.Deepcopy(),
		FileSnapshots: snapshots,
		GitState:      gitState,
	}

	if err := c.store.SaveCheckpoint(ctx, workflowID, ck); err != nil {
		return types.Checkpoint{}, &workflowerrors.SnapshotError{Message: "persisting checkpoint", Cause: err}
	}
	if err := c.store.EvictCheckpoints(ctx, workflowID, c.maxSnapshots); err != nil {
		return types.Checkpoint{}, &workflowerrors.SnapshotError{Message: "evicting old checkpoints", Cause: err}
	}
	return ck, nil
}

// RollbackToCheckpoint implements rollbackToCheckpoint(workflowId, checkpoint, context).
func (c *Controller) RollbackToCheckpoint(ctx context.Context, workflowID string, ck types.Checkpoint, wfCtx *types.Context) error {
	for _, fs := range ck.FileSnapshots {
		full := resolvePath(ck.Context.WorkingDirectory, fs.Path)
		if fs.Exists {
			if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
				logSkip(full, err)
				continue
			}
			if err := os.WriteFile(full, []byte(fs.Content), 0o644); err != nil {
				logSkip(full, err)
				continue
			}
		} else {
			if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
				logSkip(full, err)
			}
		}
	}

	if ck.GitState != nil {
		if c.vcs == nil {
			return &workflowerrors.RestoreError{Message: "checkpoint carries git state but no VCS is configured"}
		}
		if err := c.vcs.StashAndCheckout(ck.Context.WorkingDirectory, ck.GitState.Branch, ck.GitState.CommitHash); err != nil {
			return &workflowerrors.RestoreError{Message: "restoring git state", Cause: err}
		}
	}

	*wfCtx = ck.Context.Deepcopy()

	kept := wfCtx.CodeChanges[:0:0]
	for _, cc := range wfCtx.CodeChanges {
		if cc.Timestamp.Before(ck.Timestamp) {
			kept = append(kept, cc)
		}
	}
	wfCtx.CodeChanges = kept
	return nil
}

// ExecuteRollbackAction implements executeRollbackAction(action, step, context).
func (c *Controller) ExecuteRollbackAction(ctx context.Context, action *types.RollbackAction, step types.Step, wfCtx *types.Context) error {
	if action == nil {
		return nil
	}
	switch action.Type {
	case types.RollbackTool:
		if action.Tool == nil {
			return nil
		}
		tool, ok := c.registry.Lookup(action.Tool.Name)
		if !ok {
			return &workflowerrors.ToolError{Message: fmt.Sprintf("rollback tool %q not registered", action.Tool.Name), Recoverable: false}
		}
		_, err := tool.Execute(ctx, action.Tool.Parameters, registry.ExecContext{WorkingDirectory: wfCtx.WorkingDirectory})
		return err
	case types.RollbackCustom:
		return c.dispatchCustomHandler(action.CustomHandler, step, wfCtx)
	default:
		return nil
	}
}

func (c *Controller) dispatchCustomHandler(handler string, step types.Step, wfCtx *types.Context) error {
	switch handler {
	case "undoFileCreation":
		return c.undoFileCreation(step, wfCtx)
	case "undoGitCommit":
		if c.vcs == nil {
			return nil
		}
		return c.vcs.SoftResetHEAD1(wfCtx.WorkingDirectory)
	case "unstageFiles":
		if c.vcs == nil {
			return nil
		}
		return c.vcs.ResetHEAD(wfCtx.WorkingDirectory)
	default:
		// Unknown handler: continue without error; nothing is logged.
		return nil
	}
}

func (c *Controller) undoFileCreation(step types.Step, wfCtx *types.Context) error {
	if step.Tool == nil {
		return nil
	}
	pathVal, ok := step.Tool.Parameters["path"]
	if !ok {
		return nil
	}
	p, ok := pathVal.String()
	if !ok {
		return nil
	}
	full := resolvePath(wfCtx.WorkingDirectory, p)
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RollbackCodeChanges implements rollbackCodeChanges(changes, workingDirectory):
// a reverse-order, best-effort restore. Deletes/modifies without captured
// original content cannot be undone by the controller alone and are skipped
// with a warning (the checkpoint mechanism is the primary recovery path).
func (c *Controller) RollbackCodeChanges(changes []types.CodeChange, workingDirectory string) []string {
	var warnings []string
	for i := len(changes) - 1; i >= 0; i-- {
		ch := changes[i]
		full := resolvePath(workingDirectory, ch.File)
		switch ch.Type {
		case types.ChangeCreate:
			if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
				warnings = append(warnings, fmt.Sprintf("undo create %s: %v", ch.File, err))
			}
		case types.ChangeDelete, types.ChangeModify:
			warnings = append(warnings, fmt.Sprintf("cannot undo %s of %s without a captured original", ch.Type, ch.File))
		case types.ChangeRename:
			if ch.OriginalPath != "" {
				origFull := resolvePath(workingDirectory, ch.OriginalPath)
				if err := os.Rename(full, origFull); err != nil {
					warnings = append(warnings, fmt.Sprintf("undo rename %s: %v", ch.File, err))
				}
			}
		}
	}
	return warnings
}

// GitRollback implements gitRollback(workingDirectory, commitHash, message?):
// the VCS-only recovery path, independent of a file checkpoint.
func (c *Controller) GitRollback(workingDirectory, commitHash, message string) error {
	if c.vcs == nil {
		return &workflowerrors.RestoreError{Message: "no VCS configured"}
	}
	if err := c.vcs.StashAndCheckout(workingDirectory, "", commitHash); err != nil {
		return &workflowerrors.RestoreError{Message: "git rollback", Cause: err}
	}
	return nil
}

func distinctPaths(changes []types.CodeChange) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range changes {
		if !seen[c.File] {
			seen[c.File] = true
			out = append(out, c.File)
		}
	}
	sort.Strings(out)
	return out
}

func resolvePath(workingDirectory, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workingDirectory, p)
}

func readFileIfExists(path string) (content string, exists bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(data), true, nil
}

func logSkip(path string, err error) {
	// Per-file restore failures are skipped and not reported anywhere; the
	// restore is considered complete if it runs to the end.
	_ = path
	_ = err
}

// execGitVCS is the default VCS implementation, shelling out to the git
// binary on PATH.
type execGitVCS struct{}

// NewExecGitVCS returns a VCS backed by the git CLI.
func NewExecGitVCS() VCS { return execGitVCS{} }

func (execGitVCS) State(workingDirectory string) (*types.GitState, error) {
	branch, err := runGit(workingDirectory, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, nil // not a git repository; no VCS state to record
	}
	commit, err := runGit(workingDirectory, "rev-parse", "HEAD")
	if err != nil {
		return nil, err
	}
	status, err := runGit(workingDirectory, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	return &types.GitState{
		Branch:                strings.TrimSpace(branch),
		CommitHash:            strings.TrimSpace(commit),
		HasUncommittedChanges: strings.TrimSpace(status) != "",
	}, nil
}

func (execGitVCS) StashAndCheckout(workingDirectory, branch, commitHash string) error {
	_, _ = runGit(workingDirectory, "stash")
	if branch != "" {
		if _, err := runGit(workingDirectory, "checkout", branch); err != nil {
			return err
		}
	}
	if commitHash != "" {
		if _, err := runGit(workingDirectory, "reset", "--hard", commitHash); err != nil {
			return err
		}
	}
	return nil
}

func (execGitVCS) SoftResetHEAD1(workingDirectory string) error {
	_, err := runGit(workingDirectory, "reset", "--soft", "HEAD~1")
	return err
}

func (execGitVCS) ResetHEAD(workingDirectory string) error {
	_, err := runGit(workingDirectory, "reset", "HEAD")
	return err
}

func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
