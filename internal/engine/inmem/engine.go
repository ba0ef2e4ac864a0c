// Package inmem runs workflow executions directly against an Executor in
// the current process. It is not crash-safe: a process restart loses any
// workflow that had not yet reached a checkpoint. Suitable for local
// development, tests, and single-process deployments.
package inmem

import (
	"context"
	"fmt"

	"goa.design/workflowcore/internal/engine"
	"goa.design/workflowcore/internal/types"
)

// Executor is the subset of executor.Executor this engine drives.
type Executor interface {
	ExecuteWorkflow(ctx context.Context, workflowID string) (types.Workflow, error)
	Cancel(ctx context.Context, workflowID string) error
}

type eng struct {
	exec Executor
}

// New returns an Engine that runs each workflow against exec on its own
// goroutine: StartWorkflow spawns it and returns without waiting.
func New(exec Executor) engine.Engine {
	return &eng{exec: exec}
}

func (e *eng) StartWorkflow(ctx context.Context, workflowID string) (engine.Handle, error) {
	if workflowID == "" {
		return nil, fmt.Errorf("inmem: workflow id required")
	}
	done := make(chan struct{})
	h := &handle{exec: e.exec, workflowID: workflowID, done: done}
	go func() {
		defer close(done)
		var wf types.Workflow
		wf, h.err = e.exec.ExecuteWorkflow(ctx, workflowID)
		h.status = string(wf.Status)
	}()
	return h, nil
}

type handle struct {
	exec       Executor
	workflowID string
	done       chan struct{}
	status     string
	err        error
}

func (h *handle) Wait(ctx context.Context) (string, error) {
	select {
	case <-h.done:
		return h.status, h.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (h *handle) Cancel(ctx context.Context) error {
	return h.exec.Cancel(ctx, h.workflowID)
}
