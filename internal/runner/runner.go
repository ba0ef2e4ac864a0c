// Package runner implements the Step Runner (spec §4.2): execution of a
// single step of any variant, with retry, cooperative cancellation, and
// placeholder substitution against the workflow context.
package runner

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"goa.design/workflowcore/internal/expr"
	"goa.design/workflowcore/internal/hooks"
	"goa.design/workflowcore/internal/jsonvalue"
	"goa.design/workflowcore/internal/oracle"
	"goa.design/workflowcore/internal/registry"
	"goa.design/workflowcore/internal/telemetry"
	"goa.design/workflowcore/internal/types"
	"goa.design/workflowcore/internal/workflowerrors"
)

const maxBackoff = 60 * time.Second

var placeholderPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// Rollback is the subset of the Rollback Controller the runner invokes
// directly, for checkpoint-variant steps.
type Rollback interface {
	CreateCheckpoint(ctx context.Context, workflowID, stepID string, wfCtx types.Context) (types.Checkpoint, error)
}

// HumanInputGate delivers and waits for human-provided values, decoupling the
// runner from however the host surfaces the prompt to a person.
type HumanInputGate interface {
	// RequestInput emits the prompt and blocks until provideInput arrives for
	// stepID or ctx is cancelled.
	RequestInput(ctx context.Context, workflowID, stepID string, payload types.HumanInputPayload) (jsonvalue.Value, error)
}

// Runner executes one Step at a time on behalf of the Executor.
type Runner struct {
	registry  registry.Registry
	oracle    oracle.Oracle
	rollback  Rollback
	humanGate HumanInputGate
	telemetry telemetry.Bundle
	limiter   *rate.Limiter
	bus       hooks.Bus
}

// New constructs a Runner. limiter bounds the combined rate of tool and
// oracle calls the runner issues; pass nil to disable limiting. bus may be
// nil, in which case step:retrying events are not published (the Executor
// still observes terminal step results regardless). gate may be nil and
// supplied later via SetHumanInputGate, since the Executor (the usual gate
// implementation) is itself constructed with this Runner as a dependency —
// breaking that cycle the same way the Rollback Controller and Executor
// break theirs, via a small interface supplied after construction.
func New(reg registry.Registry, o oracle.Oracle, rb Rollback, gate HumanInputGate, tel telemetry.Bundle, limiter *rate.Limiter, bus hooks.Bus) *Runner {
	return &Runner{registry: reg, oracle: o, rollback: rb, humanGate: gate, telemetry: tel, limiter: limiter, bus: bus}
}

// SetHumanInputGate wires the gate after construction, for callers (the
// Executor) that must be constructed with the Runner as a dependency.
func (r *Runner) SetHumanInputGate(gate HumanInputGate) { r.humanGate = gate }

// ExecuteStep implements the §4.2 contract, driving retry around a single
// dispatch attempt. The caller (Executor) guarantees no concurrent
// invocation for the same step id (single-writer on step and context).
func (r *Runner) ExecuteStep(ctx context.Context, workflowID string, step *types.Step, wfCtx *types.Context) types.StepResult {
	cfg := step.RetryConfig
	maxAttempts := 1
	if cfg != nil && cfg.MaxAttempts > 0 {
		maxAttempts = cfg.MaxAttempts
	}

	var lastResult types.StepResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		result := r.dispatch(ctx, workflowID, step, wfCtx)
		result.Duration = time.Since(start)
		result.RetryCount = attempt - 1
		lastResult = result

		if result.Status != types.StepFailed {
			return result
		}
		if attempt == maxAttempts {
			return result
		}
		if !retryEligible(result.Error, cfg) {
			return result
		}

		delay := backoffDelay(cfg, attempt)
		r.publishRetrying(ctx, workflowID, step.ID, attempt+1)
		select {
		case <-ctx.Done():
			return failureResult(step.ID, &workflowerrors.CancelledError{StepID: step.ID}, start)
		case <-time.After(delay):
		}
	}
	return lastResult
}

func (r *Runner) publishRetrying(ctx context.Context, workflowID, stepID string, nextAttempt int) {
	if r.bus == nil {
		return
	}
	_ = r.bus.Publish(ctx, hooks.Event{
		Type:       hooks.StepRetrying,
		WorkflowID: workflowID,
		Payload:    map[string]any{"stepId": stepID, "attempt": nextAttempt},
	})
}

func retryEligible(err error, cfg *types.RetryConfig) bool {
	if !workflowerrors.IsRecoverable(err) {
		return false
	}
	if cfg == nil {
		return false
	}
	code := errorCode(err)
	for _, blocked := range cfg.RetryableErrors {
		if blocked == code {
			return false
		}
	}
	return true
}

func errorCode(err error) string {
	switch err.(type) {
	case *workflowerrors.ToolError:
		return string(workflowerrors.CodeToolError)
	case *workflowerrors.ExpressionError:
		return string(workflowerrors.CodeExpressionError)
	case *workflowerrors.HumanInputError:
		return string(workflowerrors.CodeHumanInputError)
	case *workflowerrors.CancelledError:
		return string(workflowerrors.CodeCancelled)
	case *workflowerrors.OracleError:
		return string(workflowerrors.CodeOracleError)
	default:
		return ""
	}
}

func backoffDelay(cfg *types.RetryConfig, attempt int) time.Duration {
	if cfg == nil {
		return 0
	}
	mult := cfg.BackoffMultiplier
	if mult <= 0 {
		mult = 1
	}
	ms := float64(cfg.DelayMs) * math.Pow(mult, float64(attempt-1))
	d := time.Duration(ms) * time.Millisecond
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func (r *Runner) dispatch(ctx context.Context, workflowID string, step *types.Step, wfCtx *types.Context) types.StepResult {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return failureResult(step.ID, &workflowerrors.CancelledError{StepID: step.ID}, start)
	}

	switch step.Type {
	case types.StepTool:
		return r.dispatchTool(ctx, step, wfCtx, start)
	case types.StepOracle:
		return r.dispatchOracle(ctx, step, wfCtx, start)
	case types.StepConditional:
		return r.dispatchConditional(step, wfCtx, start)
	case types.StepParallel:
		return r.dispatchParallel(step, start)
	case types.StepLoop:
		return r.dispatchLoop(step, wfCtx, start)
	case types.StepHumanInput:
		return r.dispatchHumanInput(ctx, workflowID, step, wfCtx, start)
	case types.StepCheckpoint:
		return r.dispatchCheckpoint(ctx, workflowID, step, wfCtx, start)
	default:
		return failureResult(step.ID, fmt.Errorf("unknown step type %q", step.Type), start)
	}
}

func (r *Runner) dispatchTool(ctx context.Context, step *types.Step, wfCtx *types.Context, start time.Time) types.StepResult {
	tool, ok := r.registry.Lookup(step.Tool.Name)
	if !ok {
		err := &workflowerrors.ToolError{Message: fmt.Sprintf("tool %q not registered", step.Tool.Name), Recoverable: false}
		return failureResult(step.ID, err, start)
	}

	params := substituteParams(step.Tool.Parameters, wfCtx)

	if err := r.await(ctx); err != nil {
		return failureResult(step.ID, err, start)
	}

	execCtx := registry.ExecContext{
		WorkingDirectory: wfCtx.WorkingDirectory,
		CancelSignal:     ctx.Done(),
		IdempotencyKey:   idempotencyKey(step.ID, 0),
	}
	res, err := tool.Execute(ctx, params, execCtx)
	if err != nil {
		return failureResult(step.ID, &workflowerrors.ToolError{Message: err.Error(), Recoverable: true, Cause: err}, start)
	}
	if !res.Success {
		recoverable := true
		if res.Recoverable != nil {
			recoverable = *res.Recoverable
		}
		return failureResult(step.ID, &workflowerrors.ToolError{Message: res.Error, Recoverable: recoverable}, start)
	}
	return successResult(step.ID, res.Data, start)
}

func (r *Runner) dispatchOracle(ctx context.Context, step *types.Step, wfCtx *types.Context, start time.Time) types.StepResult {
	prompt := substituteString(step.Oracle.Prompt, wfCtx)
	sys := substituteString(step.Oracle.SystemPrompt, wfCtx)

	if err := r.await(ctx); err != nil {
		return failureResult(step.ID, err, start)
	}

	text, err := r.oracle.Chat(ctx, prompt, sys, oracle.Options{})
	if err != nil {
		return failureResult(step.ID, &workflowerrors.OracleError{Message: err.Error(), Cause: err}, start)
	}
	if step.Oracle.OutputKey != "" {
		wfCtx.StepOutputs[step.Oracle.OutputKey] = jsonvalue.Of(text)
	}
	return successResult(step.ID, jsonvalue.Of(text), start)
}

func (r *Runner) dispatchConditional(step *types.Step, wfCtx *types.Context, start time.Time) types.StepResult {
	scope := expr.Scope{StepOutputs: wfCtx.StepOutputs, UserInput: wfCtx.UserInput}
	v, err := expr.Eval(step.Conditional.Expression, scope)
	if err != nil {
		return failureResult(step.ID, &workflowerrors.ExpressionError{Expression: step.Conditional.Expression, Message: err.Error()}, start)
	}
	branch := "else"
	chosen := step.Conditional.ElseSteps
	if expr.Truthy(v) {
		branch = "then"
		chosen = step.Conditional.ThenSteps
	}
	out := jsonvalue.Object(map[string]any{
		"branch": branch,
		"steps":  toAnySlice(chosen),
	})
	return successResult(step.ID, out, start)
}

func (r *Runner) dispatchParallel(step *types.Step, start time.Time) types.StepResult {
	out := jsonvalue.Object(map[string]any{"stepIds": toAnySlice(step.Parallel.StepIDs)})
	return successResult(step.ID, out, start)
}

// dispatchLoop implements the loop variant's own execution (§4.2): it
// resolves itemsKey against the workflow context and reports the item count
// plus the items themselves. It does not execute bodySteps itself — per-item
// expansion of bodySteps into suffixed body_i steps is the Executor's job
// (postProcess's StepLoop case), triggered off this step's completion.
func (r *Runner) dispatchLoop(step *types.Step, wfCtx *types.Context, start time.Time) types.StepResult {
	items, ok := wfCtx.StepOutputs[step.Loop.ItemsKey]
	if !ok {
		items, ok = wfCtx.UserInput[step.Loop.ItemsKey]
	}
	var raw []any
	n := 0
	if ok {
		if arr, isArr := items.Array(); isArr {
			n = len(arr)
			raw = make([]any, len(arr))
			for i, v := range arr {
				raw[i] = v.Raw()
			}
		}
	}
	out := jsonvalue.Object(map[string]any{
		"iterations": float64(n),
		"items":      raw,
	})
	return successResult(step.ID, out, start)
}

func (r *Runner) dispatchHumanInput(ctx context.Context, workflowID string, step *types.Step, wfCtx *types.Context, start time.Time) types.StepResult {
	if r.humanGate == nil {
		return failureResult(step.ID, &workflowerrors.HumanInputError{StepID: step.ID, Message: "no human input gate configured"}, start)
	}
	value, err := r.humanGate.RequestInput(ctx, workflowID, step.ID, *step.HumanInput)
	if err != nil {
		if ctx.Err() != nil {
			return failureResult(step.ID, &workflowerrors.CancelledError{StepID: step.ID}, start)
		}
		return failureResult(step.ID, &workflowerrors.HumanInputError{StepID: step.ID, Message: err.Error()}, start)
	}
	if err := validateHumanInput(step.HumanInput, value); err != nil {
		return failureResult(step.ID, err, start)
	}
	if step.HumanInput.OutputKey != "" {
		wfCtx.StepOutputs[step.HumanInput.OutputKey] = value
	}
	return successResult(step.ID, value, start)
}

func validateHumanInput(payload *types.HumanInputPayload, value jsonvalue.Value) error {
	switch payload.InputType {
	case types.InputChoice:
		s, ok := value.String()
		if !ok {
			return &workflowerrors.HumanInputError{Message: "choice input must be a string"}
		}
		for _, c := range payload.Choices {
			if c == s {
				return nil
			}
		}
		return &workflowerrors.HumanInputError{Message: fmt.Sprintf("%q is not among the declared choices", s)}
	case types.InputConfirm:
		if _, ok := value.Bool(); !ok {
			return &workflowerrors.HumanInputError{Message: "confirm input must be a boolean"}
		}
	case types.InputText:
		if _, ok := value.String(); !ok {
			return &workflowerrors.HumanInputError{Message: "text input must be a string"}
		}
	}
	return nil
}

func (r *Runner) dispatchCheckpoint(ctx context.Context, workflowID string, step *types.Step, wfCtx *types.Context, start time.Time) types.StepResult {
	if r.rollback == nil {
		return failureResult(step.ID, &workflowerrors.SnapshotError{Message: "no rollback controller configured"}, start)
	}
	ck, err := r.rollback.CreateCheckpoint(ctx, workflowID, step.ID, *wfCtx)
	if err != nil {
		return failureResult(step.ID, err, start)
	}
	out := jsonvalue.Object(map[string]any{"checkpointId": ck.ID})
	return successResult(step.ID, out, start)
}

// await blocks on the runner's rate limiter, if configured, respecting ctx
// cancellation.
func (r *Runner) await(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return &workflowerrors.CancelledError{}
	}
	return nil
}

// substituteParams renders {{key}} placeholders in every string-valued leaf
// of params from context.stepOutputs and context.userInput (§4.2).
func substituteParams(params map[string]jsonvalue.Value, wfCtx *types.Context) map[string]jsonvalue.Value {
	out := make(map[string]jsonvalue.Value, len(params))
	for k, v := range params {
		out[k] = substituteValue(v, wfCtx)
	}
	return out
}

func substituteValue(v jsonvalue.Value, wfCtx *types.Context) jsonvalue.Value {
	if s, ok := v.String(); ok {
		return jsonvalue.Of(substituteString(s, wfCtx))
	}
	if arr, ok := v.Array(); ok {
		out := make([]any, len(arr))
		for i, e := range arr {
			out[i] = substituteValue(e, wfCtx).Raw()
		}
		return jsonvalue.Array(out)
	}
	if obj, ok := v.Object(); ok {
		out := make(map[string]any, len(obj))
		for k, e := range obj {
			out[k] = substituteValue(e, wfCtx).Raw()
		}
		return jsonvalue.Object(out)
	}
	return v
}

func substituteString(s string, wfCtx *types.Context) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
		key := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(m, "{{"), "}}"))
		if v, ok := wfCtx.StepOutputs[key]; ok {
			return valueAsString(v)
		}
		if v, ok := wfCtx.UserInput[key]; ok {
			return valueAsString(v)
		}
		return m
	})
}

func valueAsString(v jsonvalue.Value) string {
	if s, ok := v.String(); ok {
		return s
	}
	return fmt.Sprintf("%v", v.Raw())
}

func idempotencyKey(stepID string, attempt int) string {
	return fmt.Sprintf("%s:%d", stepID, attempt)
}

func toAnySlice(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func successResult(stepID string, out jsonvalue.Value, start time.Time) types.StepResult {
	return types.StepResult{
		StepID:   stepID,
		Status:   types.StepCompleted,
		Output:   &out,
		Duration: time.Since(start),
	}
}

func failureResult(stepID string, err error, start time.Time) types.StepResult {
	return types.StepResult{
		StepID:   stepID,
		Status:   types.StepFailed,
		Error:    err,
		Duration: time.Since(start),
	}
}
