package workflowerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRecoverableDefaultsPermissive(t *testing.T) {
	t.Parallel()
	assert.True(t, IsRecoverable(errors.New("boom")))
}

func TestIsRecoverableCancelledIsNever(t *testing.T) {
	t.Parallel()
	assert.False(t, IsRecoverable(&CancelledError{StepID: "s1"}))
}

func TestIsRecoverableHonorsToolErrorFlag(t *testing.T) {
	t.Parallel()
	assert.False(t, IsRecoverable(&ToolError{Message: "denied", Recoverable: false}))
	assert.True(t, IsRecoverable(&ToolError{Message: "timeout", Recoverable: true}))
}

func TestIsRecoverableNilError(t *testing.T) {
	t.Parallel()
	assert.False(t, IsRecoverable(nil))
}

func TestWorkflowErrorUnwrap(t *testing.T) {
	t.Parallel()
	cause := errors.New("root cause")
	we := &WorkflowError{Code: CodeToolError, Message: "wrapped", Cause: cause}
	assert.ErrorIs(t, we, cause)
	assert.Contains(t, we.Error(), "TOOL_ERROR")
}

func TestPlanValidationErrorMessage(t *testing.T) {
	t.Parallel()
	e := &PlanValidationError{Message: "cycle", Cycle: []string{"a", "b"}}
	assert.Contains(t, e.Error(), "a")
	assert.Contains(t, e.Error(), "b")
}
