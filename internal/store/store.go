// Package store defines the persistence contract for Workflows and
// Checkpoints (spec §6): atomic durability, not a particular format.
// filestore implements the default write-to-temp-then-rename layout on
// disk; redisstore offers a multi-process alternative.
package store

import (
	"context"

	"goa.design/workflowcore/internal/types"
)

// WorkflowStore persists full Workflow state, keyed by workflow id.
type WorkflowStore interface {
	SaveWorkflow(ctx context.Context, wf types.Workflow) error
	LoadWorkflow(ctx context.Context, workflowID string) (types.Workflow, error)
	ListWorkflowIDs(ctx context.Context) ([]string, error)
}

// CheckpointStore persists Checkpoints, keyed by workflow id then checkpoint
// id, with FIFO eviction beyond a caller-supplied bound.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, workflowID string, ck types.Checkpoint) error
	LoadCheckpoints(ctx context.Context, workflowID string) ([]types.Checkpoint, error)
	// EvictCheckpoints deletes the oldest checkpoints for workflowID beyond
	// maxSnapshots, oldest-first.
	EvictCheckpoints(ctx context.Context, workflowID string, maxSnapshots int) error
}

// Store bundles both persistence surfaces the Executor and Rollback
// Controller depend on.
type Store interface {
	WorkflowStore
	CheckpointStore
}
