// Package workflowerrors defines the structured error taxonomy shared by the
// planner, step runner, scheduler, and rollback controller. Each error type
// preserves message and causal context while implementing the standard error
// interface, so callers can use errors.Is/As across retries and recovery.
package workflowerrors

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable error identifier attached to workflow
// errors and step results, matching the "stable error code" requirement in
// §7.
type Code string

const (
	// Planner error codes.
	CodeOracleError       Code = "ORACLE_ERROR"
	CodePlanValidation    Code = "PLAN_VALIDATION_ERROR"
	CodePlannerBlocked    Code = "PLANNER_BLOCKED"
	CodeMaxStepsExceeded  Code = "MAX_STEPS_EXCEEDED"

	// Step error codes.
	CodeToolError       Code = "TOOL_ERROR"
	CodeExpressionError Code = "EXPRESSION_ERROR"
	CodeHumanInputError Code = "HUMAN_INPUT_ERROR"
	CodeCancelled       Code = "CANCELLED"
	CodeTimeout         Code = "TIMEOUT"

	// Scheduler error codes.
	CodeDeadlock               Code = "DEADLOCK"
	CodeWorkflowNotFound       Code = "WORKFLOW_NOT_FOUND"
	CodeIllegalStateTransition Code = "ILLEGAL_STATE_TRANSITION"

	// Rollback error codes.
	CodeSnapshotError Code = "SNAPSHOT_ERROR"
	CodeRestoreError  Code = "RESTORE_ERROR"
)

// WorkflowError is the structured error attached to Workflow.Error on
// terminal failure and to the workflow:failed / step:failed events.
type WorkflowError struct {
	StepID             string
	Code               Code
	Message            string
	Stack              string
	RecoveryAttempted  bool
	RecoverySucceeded  bool
	Cause              error
}

func (e *WorkflowError) Error() string {
	if e == nil {
		return ""
	}
	if e.StepID != "" {
		return fmt.Sprintf("%s: step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *WorkflowError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// OracleError indicates the reasoning oracle was unavailable or returned an
// unusable response.
type OracleError struct {
	Message string
	Cause   error
}

func (e *OracleError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("oracle error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("oracle error: %s", e.Message)
}
func (e *OracleError) Unwrap() error { return e.Cause }

// PlanValidationError reports a structurally invalid plan (unknown
// dependency id, self-loop, or dependency cycle).
type PlanValidationError struct {
	Message string
	Cycle   []string
}

func (e *PlanValidationError) Error() string {
	if len(e.Cycle) > 0 {
		return fmt.Sprintf("plan validation error: %s: cycle %v", e.Message, e.Cycle)
	}
	return fmt.Sprintf("plan validation error: %s", e.Message)
}

// PlannerBlockedError reports that the plan has unsatisfied blocking
// requirements and must not be executed.
type PlannerBlockedError struct {
	Missing []string
}

func (e *PlannerBlockedError) Error() string {
	return fmt.Sprintf("planner blocked: missing requirements: %v", e.Missing)
}

// MaxStepsExceededError reports that a synthesized plan produced more steps
// than the configured maxSteps, per §6's configuration table.
type MaxStepsExceededError struct {
	StepCount int
	MaxSteps  int
}

func (e *MaxStepsExceededError) Error() string {
	return fmt.Sprintf("plan produced %d steps, exceeding maxSteps %d", e.StepCount, e.MaxSteps)
}

// ToolError wraps a tool invocation failure, carrying whether the failure is
// recoverable (eligible for retry).
type ToolError struct {
	Message     string
	Recoverable bool
	Cause       error
}

func (e *ToolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("tool error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("tool error: %s", e.Message)
}
func (e *ToolError) Unwrap() error { return e.Cause }

// ExpressionError reports a failure evaluating a conditional step's
// expression in the sandbox (parse error, disallowed construct, type
// mismatch).
type ExpressionError struct {
	Expression string
	Message    string
}

func (e *ExpressionError) Error() string {
	return fmt.Sprintf("expression error: %s: %s", e.Expression, e.Message)
}

// HumanInputError reports an invalid or out-of-range human-provided value
// (wrong type for inputType, choice not in the declared set).
type HumanInputError struct {
	StepID  string
	Message string
}

func (e *HumanInputError) Error() string {
	return fmt.Sprintf("human input error: step %s: %s", e.StepID, e.Message)
}

// CancelledError is returned when a step or workflow terminates because of
// cooperative cancellation. It is never retried and never triggers recovery.
type CancelledError struct{ StepID string }

func (e *CancelledError) Error() string { return fmt.Sprintf("step %s cancelled", e.StepID) }

// TimeoutError is raised by the scheduler when a workflow exceeds
// maxDurationMs.
type TimeoutError struct{ Elapsed string }

func (e *TimeoutError) Error() string { return fmt.Sprintf("workflow timed out after %s", e.Elapsed) }

// DeadlockError is raised when the scheduler finds a non-empty pending set
// with no in-flight steps and an empty ready set.
type DeadlockError struct{ Stuck []string }

func (e *DeadlockError) Error() string { return fmt.Sprintf("deadlock: stuck steps %v", e.Stuck) }

// WorkflowNotFoundError is returned by store/executor lookups for an unknown
// workflow id.
type WorkflowNotFoundError struct{ WorkflowID string }

func (e *WorkflowNotFoundError) Error() string {
	return fmt.Sprintf("workflow %s not found", e.WorkflowID)
}

// IllegalStateTransitionError is returned when pause/resume/cancel is
// requested from a status that doesn't permit it (Invariant W2).
type IllegalStateTransitionError struct {
	From, To string
}

func (e *IllegalStateTransitionError) Error() string {
	return fmt.Sprintf("illegal state transition: %s -> %s", e.From, e.To)
}

// SnapshotError is fatal to the checkpoint operation that requested it.
type SnapshotError struct {
	Message string
	Cause   error
}

func (e *SnapshotError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("snapshot error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("snapshot error: %s", e.Message)
}
func (e *SnapshotError) Unwrap() error { return e.Cause }

// RestoreError is fatal to the restore operation that encountered it (VCS
// restore failures only; per-file restore failures are skipped).
type RestoreError struct {
	Message string
	Cause   error
}

func (e *RestoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("restore error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("restore error: %s", e.Message)
}
func (e *RestoreError) Unwrap() error { return e.Cause }

// IsRecoverable reports whether err should be retried under a step's
// retryConfig: CANCELLED is never recoverable, and any error explicitly
// marked non-recoverable is excluded. Every other error defaults to
// recoverable, matching the teacher's default-permissive tool.recoverable
// handling.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var cancelled *CancelledError
	if errors.As(err, &cancelled) {
		return false
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te.Recoverable
	}
	return true
}
