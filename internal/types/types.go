// Package types defines the data model shared by the Task Planner, Step
// Runner, Rollback Controller, and Workflow Executor (spec §3): Workflow,
// Step, Workflow Context, and Checkpoint.
package types

import (
	"time"

	"github.com/google/uuid"
	"goa.design/workflowcore/internal/jsonvalue"
)

// WorkflowStatus is the lifecycle status of a Workflow (Invariant W2).
type WorkflowStatus string

const (
	StatusPending     WorkflowStatus = "pending"
	StatusPlanning    WorkflowStatus = "planning"
	StatusRunning     WorkflowStatus = "running"
	StatusPaused      WorkflowStatus = "paused"
	StatusCompleted   WorkflowStatus = "completed"
	StatusFailed      WorkflowStatus = "failed"
	StatusCancelled   WorkflowStatus = "cancelled"
	StatusRollingBack WorkflowStatus = "rolling-back"
)

// StepType enumerates the seven supported step variants.
type StepType string

const (
	StepTool        StepType = "tool"
	StepOracle      StepType = "oracle"
	StepConditional StepType = "conditional"
	StepParallel    StepType = "parallel"
	StepLoop        StepType = "loop"
	StepHumanInput  StepType = "humanInput"
	StepCheckpoint  StepType = "checkpoint"
)

// StepStatus is the lifecycle status of a single Step.
type StepStatus string

const (
	StepPending     StepStatus = "pending"
	StepRunning     StepStatus = "running"
	StepCompleted   StepStatus = "completed"
	StepFailed      StepStatus = "failed"
	StepSkipped     StepStatus = "skipped"
	StepRolledBack  StepStatus = "rolled-back"
)

// HumanInputType constrains the shape of a humanInput step's expected value.
type HumanInputType string

const (
	InputText    HumanInputType = "text"
	InputChoice  HumanInputType = "choice"
	InputConfirm HumanInputType = "confirm"
)

// RollbackActionType selects how a per-step rollback compensation executes.
type RollbackActionType string

const (
	RollbackTool   RollbackActionType = "tool"
	RollbackCustom RollbackActionType = "custom"
)

// ChangeType enumerates the kinds of file mutation recorded in codeChanges.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeModify ChangeType = "modify"
	ChangeDelete ChangeType = "delete"
	ChangeRename ChangeType = "rename"
)

// NewID returns a fresh opaque identifier suitable for a workflow, step, or
// checkpoint id.
func NewID() string { return uuid.NewString() }

type (
	// ToolPayload is the variant payload for StepTool.
	ToolPayload struct {
		Name       string
		Parameters map[string]jsonvalue.Value
	}

	// OraclePayload is the variant payload for StepOracle.
	OraclePayload struct {
		Prompt       string
		SystemPrompt string
		OutputKey    string
	}

	// ConditionalPayload is the variant payload for StepConditional.
	ConditionalPayload struct {
		Expression string
		ThenSteps  []string
		ElseSteps  []string
	}

	// ParallelPayload is the variant payload for StepParallel.
	ParallelPayload struct {
		StepIDs    []string
		WaitForAll bool
	}

	// LoopPayload is the variant payload for StepLoop.
	LoopPayload struct {
		ItemsKey  string
		ItemKey   string
		BodySteps []string
	}

	// HumanInputPayload is the variant payload for StepHumanInput.
	HumanInputPayload struct {
		Prompt    string
		InputType HumanInputType
		Choices   []string
		OutputKey string
	}

	// RetryConfig controls retry behavior for a step (§4.2).
	RetryConfig struct {
		MaxAttempts       int
		DelayMs           int
		BackoffMultiplier float64
		// RetryableErrors, when non-empty, is a negative list: codes present
		// here are treated as NOT retryable even if otherwise recoverable.
		RetryableErrors []string
	}

	// ToolRollbackSpec parameterizes a RollbackTool action.
	ToolRollbackSpec struct {
		Name       string
		Parameters map[string]jsonvalue.Value
	}

	// RollbackAction is the per-step compensation invoked on failure or
	// checkpoint restore (§4.3).
	RollbackAction struct {
		Type           RollbackActionType
		Tool           *ToolRollbackSpec
		CustomHandler  string
	}

	// Step is one node of the dependency DAG (spec §3). Exactly one variant
	// payload is populated, matching Type (Invariant S1).
	Step struct {
		ID           string
		Type         StepType
		Dependencies []string

		Status StepStatus

		Tool        *ToolPayload
		Oracle      *OraclePayload
		Conditional *ConditionalPayload
		Parallel    *ParallelPayload
		Loop        *LoopPayload
		HumanInput  *HumanInputPayload
		// Checkpoint steps carry no payload.

		RetryConfig    *RetryConfig
		RollbackAction *RollbackAction

		StartedAt   *time.Time
		CompletedAt *time.Time
		Duration    *time.Duration
	}

	// FileState describes a path the workflow has touched, tracked in
	// Workflow Context.
	FileState struct {
		Path            string
		Content         *string
		Language        string
		OriginalContent *string
	}

	// CodeChange is one append-only entry in Workflow Context.codeChanges
	// (Invariant C1).
	CodeChange struct {
		File         string
		Type         ChangeType
		OriginalPath string
		Diff         string
		Timestamp    time.Time
	}

	// GitOperation is one append-only entry in Workflow Context.gitOperations.
	GitOperation struct {
		Type       string
		Details    string
		Timestamp  time.Time
		CommitHash string
	}

	// Context is the shared key-value state threaded through steps (§3).
	Context struct {
		UserInput       map[string]jsonvalue.Value
		StepOutputs     map[string]jsonvalue.Value
		Files           []FileState
		CodeChanges     []CodeChange
		GitOperations   []GitOperation
		WorkingDirectory string
		Environment     map[string]string
	}

	// LogEntry is one structured log line recorded on a StepResult.
	LogEntry struct {
		Timestamp time.Time
		Level     string
		Message   string
		Data      map[string]any
	}

	// StepResult is the outcome of one attempted step execution.
	StepResult struct {
		StepID     string
		Status     StepStatus
		Output     *jsonvalue.Value
		Error      error
		Duration   time.Duration
		RetryCount int
		Logs       []LogEntry
	}

	// FileSnapshot captures one path's content at checkpoint time.
	FileSnapshot struct {
		Path    string
		Content string
		Exists  bool
	}

	// GitState captures the VCS position at checkpoint time, when the
	// working directory is a repository.
	GitState struct {
		Branch                string
		CommitHash            string
		HasUncommittedChanges bool
	}

	// Checkpoint is a restorable snapshot taken after a specific step (§3).
	Checkpoint struct {
		ID            string
		StepID        string
		Timestamp     time.Time
		Context       Context
		FileSnapshots []FileSnapshot
		GitState      *GitState
	}

	// WorkflowErrorInfo is the structured error attached to a terminally
	// failed Workflow.
	WorkflowErrorInfo struct {
		StepID            string
		Code              string
		Message           string
		Stack             string
		Timestamp         time.Time
		RecoveryAttempted bool
		RecoverySucceeded bool
	}

	// Workflow is the unit of persistent state for one request (§3).
	Workflow struct {
		ID              string
		Name            string
		Description     string
		OriginalRequest string

		Status WorkflowStatus

		Steps             []Step
		CurrentStepIndex  int

		Context Context

		Results []StepResult

		Checkpoints []Checkpoint

		Error *WorkflowErrorInfo

		CanRollback bool

		CreatedAt   time.Time
		UpdatedAt   time.Time
		StartedAt   *time.Time
		CompletedAt *time.Time
	}
)

// NewContext returns a zero-valued, fully initialized Workflow Context
// rooted at workingDirectory.
func NewContext(workingDirectory string) Context {
	return Context{
		UserInput:       map[string]jsonvalue.Value{},
		StepOutputs:     map[string]jsonvalue.Value{},
		WorkingDirectory: workingDirectory,
		Environment:     map[string]string{},
	}
}

// Deepcopy returns an independent copy of c, so snapshots taken for a
// Checkpoint are unaffected by later mutation of the live context
// (restoring a Checkpoint must not alias the live workflow state).
func (c Context) Deepcopy() Context {
	out := Context{
		WorkingDirectory: c.WorkingDirectory,
	}
	out.UserInput = make(map[string]jsonvalue.Value, len(c.UserInput))
	for k, v := range c.UserInput {
		out.UserInput[k] = v
	}
	out.StepOutputs = make(map[string]jsonvalue.Value, len(c.StepOutputs))
	for k, v := range c.StepOutputs {
		out.StepOutputs[k] = v
	}
	out.Environment = make(map[string]string, len(c.Environment))
	for k, v := range c.Environment {
		out.Environment[k] = v
	}
	out.Files = append([]FileState(nil), c.Files...)
	out.CodeChanges = append([]CodeChange(nil), c.CodeChanges...)
	out.GitOperations = append([]GitOperation(nil), c.GitOperations...)
	return out
}

// StepByID returns the step with the given id and whether it was found.
func (w *Workflow) StepByID(id string) (*Step, bool) {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i], true
		}
	}
	return nil, false
}

// SetResult appends result, replacing any prior entry with the same step id
// (Invariant W1).
func (w *Workflow) SetResult(result StepResult) {
	for i := range w.Results {
		if w.Results[i].StepID == result.StepID {
			w.Results[i] = result
			return
		}
	}
	w.Results = append(w.Results, result)
}
