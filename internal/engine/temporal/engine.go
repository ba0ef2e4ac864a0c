// Package temporal adapts a workflowcore Executor to run atop Temporal so
// that workflow executions survive process restarts. Each SPEC_FULL workflow
// run is hosted as a single Temporal workflow that invokes one durable
// activity, ExecuteWorkflowActivity, which delegates to the in-process
// Executor's own scheduler. Temporal gives us the outer crash-recovery and
// retry envelope; step-level concurrency, checkpointing, and rollback remain
// the Executor's responsibility, unchanged from the inmem backend.
package temporal

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"goa.design/workflowcore/internal/engine"
	"goa.design/workflowcore/internal/telemetry"
	"goa.design/workflowcore/internal/types"
)

const workflowName = "WorkflowExecution"
const activityName = "ExecuteWorkflowActivity"

// Executor is the subset of executor.Executor the activity delegates to.
type Executor interface {
	ExecuteWorkflow(ctx context.Context, workflowID string) (types.Workflow, error)
}

// Options configures the Temporal engine adapter. Either Client or
// ClientOptions must be set; a nil Client causes New to dial one from
// ClientOptions before starting the worker.
type Options struct {
	// Client is a pre-configured Temporal client. If nil, New dials one
	// with ClientOptions.
	Client client.Client
	// ClientOptions configures the client New dials when Client is nil.
	ClientOptions client.Options
	// TaskQueue is the queue workers poll and StartWorkflow schedules onto.
	TaskQueue string
	// ActivityTimeout is not read by the adapter: the single durable
	// activity that runs the workflow's scheduler loop always gets a 24h
	// start-to-close timeout, whatever this field holds.
	ActivityTimeout time.Duration
	// Logger receives adapter diagnostics. Defaults to a no-op logger.
	Logger telemetry.Logger
}

type eng struct {
	opts    Options
	cli     client.Client
	worker  worker.Worker
	started bool
}

// New returns an Engine backed by Temporal. It registers workflowName and
// activityName with a worker on opts.TaskQueue and starts that worker; call
// the returned stop function to release it.
func New(exec Executor, opts Options) (engine.Engine, func(), error) {
	if opts.TaskQueue == "" {
		return nil, nil, fmt.Errorf("temporal: TaskQueue required")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.Noop().Logger
	}
	cli := opts.Client
	var err error
	if cli == nil {
		cli, err = client.Dial(opts.ClientOptions)
		if err != nil {
			return nil, nil, fmt.Errorf("temporal: dial client: %w", err)
		}
	}

	w := worker.New(cli, opts.TaskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(runWorkflow, workflow.RegisterOptions{Name: workflowName})
	w.RegisterActivityWithOptions(makeActivity(exec), activity.RegisterOptions{Name: activityName})

	if err := w.Start(); err != nil {
		return nil, nil, fmt.Errorf("temporal: start worker: %w", err)
	}

	e := &eng{opts: opts, cli: cli, worker: w, started: true}
	stop := func() {
		if e.started {
			e.worker.Stop()
			e.started = false
		}
	}
	return e, stop, nil
}

func (e *eng) StartWorkflow(ctx context.Context, workflowID string) (engine.Handle, error) {
	run, err := e.cli.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: e.opts.TaskQueue,
	}, workflowName, workflowID)
	if err != nil {
		return nil, fmt.Errorf("temporal: start workflow %s: %w", workflowID, err)
	}
	return &handle{cli: e.cli, run: run}, nil
}

type handle struct {
	cli client.Client
	run client.WorkflowRun
}

func (h *handle) Wait(ctx context.Context) (string, error) {
	var status string
	if err := h.run.Get(ctx, &status); err != nil {
		return "", err
	}
	return status, nil
}

func (h *handle) Cancel(ctx context.Context) error {
	return h.cli.CancelWorkflow(ctx, h.run.GetID(), h.run.GetRunID())
}

// runWorkflow is the Temporal workflow function. It is deterministic: all it
// does is schedule the single durable activity and return its result.
func runWorkflow(ctx workflow.Context, workflowID string) (string, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 24 * time.Hour,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: int32(1), // the Executor owns its own step-level retries
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var status string
	err := workflow.ExecuteActivity(ctx, activityName, workflowID).Get(ctx, &status)
	return status, err
}

func makeActivity(exec Executor) func(ctx context.Context, workflowID string) (string, error) {
	return func(ctx context.Context, workflowID string) (string, error) {
		wf, err := exec.ExecuteWorkflow(ctx, workflowID)
		return string(wf.Status), err
	}
}
