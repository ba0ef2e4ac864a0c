// Package filestore implements the default on-disk layout for the Store
// contract (spec §6): workflows/<id>.json and
// checkpoints/<workflowId>/<checkpointId>.json, written atomically via
// write-to-temp-then-rename and read tolerantly (partial files are skipped
// with a warning rather than failing the whole load).
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"goa.design/workflowcore/internal/telemetry"
	"goa.design/workflowcore/internal/types"
)

// FileStore persists workflows and checkpoints under a root directory.
type FileStore struct {
	root   string
	logger telemetry.Logger
}

// New constructs a FileStore rooted at dir, creating the workflows/ and
// checkpoints/ subdirectories if absent.
func New(dir string, logger telemetry.Logger) (*FileStore, error) {
	if logger == nil {
		logger = telemetry.Noop().Logger
	}
	for _, sub := range []string{"workflows", "checkpoints"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", sub, err)
		}
	}
	return &FileStore{root: dir, logger: logger}, nil
}

func (f *FileStore) workflowPath(id string) string {
	return filepath.Join(f.root, "workflows", id+".json")
}

func (f *FileStore) checkpointDir(workflowID string) string {
	return filepath.Join(f.root, "checkpoints", workflowID)
}

func (f *FileStore) checkpointPath(workflowID, checkpointID string) string {
	return filepath.Join(f.checkpointDir(workflowID), checkpointID+".json")
}

// SaveWorkflow writes wf to workflows/<id>.json atomically.
func (f *FileStore) SaveWorkflow(ctx context.Context, wf types.Workflow) error {
	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow %s: %w", wf.ID, err)
	}
	return writeFileAtomic(f.workflowPath(wf.ID), data, 0o644)
}

// LoadWorkflow reads workflows/<id>.json.
func (f *FileStore) LoadWorkflow(ctx context.Context, workflowID string) (types.Workflow, error) {
	data, err := os.ReadFile(f.workflowPath(workflowID))
	if err != nil {
		if os.IsNotExist(err) {
			return types.Workflow{}, fmt.Errorf("workflow %s not found", workflowID)
		}
		return types.Workflow{}, err
	}
	var wf types.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return types.Workflow{}, fmt.Errorf("unmarshal workflow %s: %w", workflowID, err)
	}
	return wf, nil
}

// ListWorkflowIDs enumerates every persisted workflow id.
func (f *FileStore) ListWorkflowIDs(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(f.root, "workflows"))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// SaveCheckpoint writes checkpoints/<workflowId>/<checkpointId>.json atomically.
func (f *FileStore) SaveCheckpoint(ctx context.Context, workflowID string, ck types.Checkpoint) error {
	if err := os.MkdirAll(f.checkpointDir(workflowID), 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	data, err := json.Marshal(ck)
	if err != nil {
		return fmt.Errorf("marshal checkpoint %s: %w", ck.ID, err)
	}
	return writeFileAtomic(f.checkpointPath(workflowID, ck.ID), data, 0o644)
}

// LoadCheckpoints reads every checkpoint for workflowID, ordered by
// timestamp. Partial/corrupt files are skipped with a warning rather than
// failing the whole load (§5 shared resources: reads are tolerant of
// partial files).
func (f *FileStore) LoadCheckpoints(ctx context.Context, workflowID string) ([]types.Checkpoint, error) {
	entries, err := os.ReadDir(f.checkpointDir(workflowID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []types.Checkpoint
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(f.checkpointDir(workflowID), e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			f.logger.Warn(ctx, "skipping unreadable checkpoint file", "path", path, "error", err)
			continue
		}
		var ck types.Checkpoint
		if err := json.Unmarshal(data, &ck); err != nil {
			f.logger.Warn(ctx, "skipping corrupt checkpoint file", "path", path, "error", err)
			continue
		}
		out = append(out, ck)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// EvictCheckpoints deletes the oldest checkpoints beyond maxSnapshots,
// oldest-first (§4.3).
func (f *FileStore) EvictCheckpoints(ctx context.Context, workflowID string, maxSnapshots int) error {
	cks, err := f.LoadCheckpoints(ctx, workflowID)
	if err != nil {
		return err
	}
	if len(cks) <= maxSnapshots {
		return nil
	}
	toEvict := cks[:len(cks)-maxSnapshots]
	for _, ck := range toEvict {
		if err := os.Remove(f.checkpointPath(workflowID, ck.ID)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("evict checkpoint %s: %w", ck.ID, err)
		}
	}
	return nil
}

// writeFileAtomic writes data to path by first writing a sibling .tmp file
// and renaming it into place, so a crash mid-write never leaves a partial
// file at the real path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
