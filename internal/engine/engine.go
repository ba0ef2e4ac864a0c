// Package engine abstracts how a workflow's execution is hosted so the same
// Executor can run single-process (inmem, for dev/test) or atop a durable
// workflow system (temporal, for production crash recovery) without the
// scheduler itself knowing which backend is in play.
package engine

import "context"

type (
	// Engine starts and supervises workflow executions on a given backend.
	Engine interface {
		// StartWorkflow launches execution of the workflow identified by
		// workflowID and returns a handle for interacting with the run.
		// The workflow and its steps must already be persisted in the
		// store the Executor was constructed with.
		StartWorkflow(ctx context.Context, workflowID string) (Handle, error)
	}

	// Handle lets callers wait on, signal, or cancel a started execution.
	Handle interface {
		// Wait blocks until the workflow reaches a terminal status and
		// returns the final status string (e.g. "completed", "failed").
		Wait(ctx context.Context) (string, error)

		// Cancel requests cancellation of the running workflow.
		Cancel(ctx context.Context) error
	}
)
