// Package executor implements the Workflow Executor (spec §4.4): a
// dependency-driven scheduler that dispatches ready steps under a
// parallelism bound, auto-checkpoints, persists state after every
// transition, and recovers via the Rollback Controller on failure.
package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"goa.design/workflowcore/internal/config"
	"goa.design/workflowcore/internal/hooks"
	"goa.design/workflowcore/internal/jsonvalue"
	"goa.design/workflowcore/internal/store"
	"goa.design/workflowcore/internal/telemetry"
	"goa.design/workflowcore/internal/types"
	"goa.design/workflowcore/internal/workflowerrors"
)

// StepRunner is the narrow surface the Executor depends on (Design Note:
// break the Executor/Runner/Rollback cyclic reference by dependency
// inversion). Concrete *runner.Runner satisfies it.
type StepRunner interface {
	ExecuteStep(ctx context.Context, workflowID string, step *types.Step, wfCtx *types.Context) types.StepResult
}

// RollbackCtrl is the narrow surface the Executor depends on for recovery.
// Concrete *rollback.Controller satisfies it.
type RollbackCtrl interface {
	CreateCheckpoint(ctx context.Context, workflowID, stepID string, wfCtx types.Context) (types.Checkpoint, error)
	RollbackToCheckpoint(ctx context.Context, workflowID string, ck types.Checkpoint, wfCtx *types.Context) error
	ExecuteRollbackAction(ctx context.Context, action *types.RollbackAction, step types.Step, wfCtx *types.Context) error
}

// Executor drives one or more Workflows' scheduler loops concurrently,
// each workflow owning its own run state.
type Executor struct {
	cfg      config.Config
	store    store.Store
	runner   StepRunner
	rollback RollbackCtrl
	bus      hooks.Bus
	tel      telemetry.Bundle

	mu    sync.Mutex
	runs  map[string]*run
}

// New constructs an Executor.
func New(cfg config.Config, st store.Store, runner StepRunner, rb RollbackCtrl, bus hooks.Bus, tel telemetry.Bundle) *Executor {
	if bus == nil {
		bus = hooks.NewBus()
	}
	return &Executor{cfg: cfg, store: st, runner: runner, rollback: rb, bus: bus, tel: tel, runs: make(map[string]*run)}
}

// run holds the live, in-memory execution state for one workflow: the
// cancellation signal propagated to in-flight steps, and the pending
// human-input delivery channels keyed by step id.
type run struct {
	mu          sync.Mutex
	cancel      context.CancelFunc
	humanInputs map[string]chan jsonvalue.Value
	paused      chan struct{} // allocated per run; the scheduler neither closes nor reads it
}

func newRun(cancel context.CancelFunc) *run {
	return &run{cancel: cancel, humanInputs: make(map[string]chan jsonvalue.Value), paused: make(chan struct{})}
}

// ExecuteWorkflow implements executeWorkflow(id) → Workflow (§4.4). It
// blocks until the workflow reaches a terminal status or is paused.
func (e *Executor) ExecuteWorkflow(ctx context.Context, workflowID string) (types.Workflow, error) {
	wf, err := e.store.LoadWorkflow(ctx, workflowID)
	if err != nil {
		return types.Workflow{}, &workflowerrors.WorkflowNotFoundError{WorkflowID: workflowID}
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := newRun(cancel)
	e.mu.Lock()
	e.runs[workflowID] = r
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.runs, workflowID)
		e.mu.Unlock()
	}()

	if wf.Status == types.StatusPending {
		wf.Status = types.StatusPlanning
		e.persist(ctx, &wf)
		wf.Status = types.StatusRunning
		now := time.Now()
		wf.StartedAt = &now
		e.persist(ctx, &wf)
		e.publish(ctx, hooks.WorkflowStarted, wf.ID, map[string]any{"workflowId": wf.ID})
	} else if wf.Status == types.StatusPaused {
		wf.Status = types.StatusRunning
		e.persist(ctx, &wf)
		e.publish(ctx, hooks.WorkflowResumed, wf.ID, map[string]any{"workflowId": wf.ID})
	}

	e.schedulerLoop(runCtx, r, &wf)
	return wf, nil
}

// schedulerLoop is the dependency-driven scheduler (§4.4).
func (e *Executor) schedulerLoop(ctx context.Context, r *run, wf *types.Workflow) {
	start := time.Now()
	if wf.StartedAt != nil {
		start = *wf.StartedAt
	}

	type outcome struct {
		step   *types.Step
		result types.StepResult
	}
	resultCh := make(chan outcome, len(wf.Steps))
	inFlight := make(map[string]bool)

	pending := func() map[string]bool {
		p := make(map[string]bool)
		for i := range wf.Steps {
			s := &wf.Steps[i]
			if s.Status == types.StepPending || s.Status == types.StepRunning {
				p[s.ID] = true
			}
		}
		return p
	}

	completed := func() map[string]bool {
		c := make(map[string]bool)
		for _, s := range wf.Steps {
			if s.Status == types.StepCompleted || s.Status == types.StepSkipped {
				c[s.ID] = true
			}
		}
		return c
	}

	for {
		if time.Since(start) > e.cfg.MaxDuration() {
			e.recover(ctx, wf, "", &workflowerrors.TimeoutError{Elapsed: time.Since(start).String()})
			return
		}
		if wf.Status == types.StatusPaused || wf.Status == types.StatusCancelled {
			return
		}
		if ctx.Err() != nil {
			// Cancel() signalled this run: drain whatever is already
			// in flight, record their outcomes, and land on Cancelled
			// rather than letting a racing step failure push the
			// workflow to Failed via recover().
			for len(inFlight) > 0 {
				out := <-resultCh
				delete(inFlight, out.step.ID)
				now := time.Now()
				out.step.CompletedAt = &now
				out.step.Status = out.result.Status
				if out.step.StartedAt != nil {
					d := now.Sub(*out.step.StartedAt)
					out.step.Duration = &d
				}
				wf.SetResult(out.result)
				if out.result.Status == types.StepCompleted && out.result.Output != nil {
					wf.Context.StepOutputs[out.step.ID] = *out.result.Output
				}
			}
			wf.Status = types.StatusCancelled
			now := time.Now()
			wf.CompletedAt = &now
			e.persist(context.Background(), wf)
			return
		}

		pend := pending()
		comp := completed()

		var ready []*types.Step
		for i := range wf.Steps {
			s := &wf.Steps[i]
			if !pend[s.ID] || inFlight[s.ID] {
				continue
			}
			if dependenciesSatisfied(s, comp) {
				ready = append(ready, s)
			}
		}

		if len(ready) == 0 {
			if len(pend) == len(inFlight) {
				if len(pend) == 0 {
					break // nothing pending, nothing in flight: done
				}
				out := <-resultCh
				delete(inFlight, out.step.ID)
				if ctx.Err() != nil {
					// Cancelled while waiting: record the outcome without the
					// failure/recovery path; the next iteration drains the rest.
					now := time.Now()
					out.step.CompletedAt = &now
					out.step.Status = out.result.Status
					wf.SetResult(out.result)
					if out.result.Status == types.StepCompleted && out.result.Output != nil {
						wf.Context.StepOutputs[out.step.ID] = *out.result.Output
					}
					continue
				}
				e.applyResult(ctx, wf, out.step, out.result)
				continue
			}
			if len(pend) > 0 && len(inFlight) == 0 {
				stuck := make([]string, 0, len(pend))
				for id := range pend {
					stuck = append(stuck, id)
				}
				sort.Strings(stuck)
				e.recover(ctx, wf, "", &workflowerrors.DeadlockError{Stuck: stuck})
				return
			}
			break
		}

		sort.Slice(ready, func(i, j int) bool { return stepIndex(wf, ready[i].ID) < stepIndex(wf, ready[j].ID) })
		slots := e.cfg.MaxParallelSteps - len(inFlight)
		if slots > len(ready) {
			slots = len(ready)
		}
		for i := 0; i < slots; i++ {
			s := ready[i]
			if e.cfg.AutoCheckpoint && len(wf.Results) > 0 && len(wf.Results)%e.cfg.CheckpointInterval == 0 {
				e.autoCheckpoint(ctx, wf)
			}

			now := time.Now()
			s.Status = types.StepRunning
			s.StartedAt = &now
			wf.CurrentStepIndex = stepIndex(wf, s.ID)
			inFlight[s.ID] = true
			e.persist(ctx, wf)
			e.publish(ctx, hooks.StepStarted, wf.ID, map[string]any{"workflowId": wf.ID, "stepId": s.ID})

			stepCopy := s
			go func() {
				res := e.runner.ExecuteStep(ctx, wf.ID, stepCopy, &wf.Context)
				resultCh <- outcome{step: stepCopy, result: res}
			}()
		}
	}

	e.finalizeIfDone(ctx, wf)
}

func dependenciesSatisfied(s *types.Step, completed map[string]bool) bool {
	for _, d := range s.Dependencies {
		if !completed[d] {
			return false
		}
	}
	return true
}

func stepIndex(wf *types.Workflow, id string) int {
	for i, s := range wf.Steps {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// applyResult performs the per-step orchestration described in §4.4: record
// the result, write outputs, run variant-specific post-processing, and on
// failure invoke rollback then recovery.
func (e *Executor) applyResult(ctx context.Context, wf *types.Workflow, step *types.Step, result types.StepResult) {
	now := time.Now()
	step.CompletedAt = &now
	step.Status = result.Status
	if step.StartedAt != nil {
		d := now.Sub(*step.StartedAt)
		step.Duration = &d
	}
	wf.SetResult(result)
	e.persist(ctx, wf)

	if result.Status == types.StepCompleted {
		if result.Output != nil {
			wf.Context.StepOutputs[step.ID] = *result.Output
		}
		e.publish(ctx, hooks.StepCompleted, wf.ID, map[string]any{"workflowId": wf.ID, "stepId": step.ID})
		e.postProcess(ctx, wf, step, result)
		return
	}

	e.publish(ctx, hooks.StepFailed, wf.ID, map[string]any{"workflowId": wf.ID, "stepId": step.ID, "error": result.Error.Error()})

	if step.RollbackAction != nil && e.rollback != nil {
		_ = e.rollback.ExecuteRollbackAction(ctx, step.RollbackAction, *step, &wf.Context)
	}

	e.recover(ctx, wf, step.ID, result.Error)
}

func (e *Executor) postProcess(ctx context.Context, wf *types.Workflow, step *types.Step, result types.StepResult) {
	switch step.Type {
	case types.StepConditional:
		if result.Output == nil {
			return
		}
		branchVal, _ := result.Output.Get("branch")
		branch, _ := branchVal.String()
		unselected := step.Conditional.ElseSteps
		if branch == "else" {
			unselected = step.Conditional.ThenSteps
		}
		for _, id := range unselected {
			if s, ok := wf.StepByID(id); ok {
				s.Status = types.StepSkipped
			}
		}
	case types.StepCheckpoint:
		if result.Output == nil || e.rollback == nil {
			return
		}
		idVal, _ := result.Output.Get("checkpointId")
		id, _ := idVal.String()
		ck := types.Checkpoint{ID: id, StepID: step.ID, Timestamp: time.Now()}
		// Record the stored checkpoint (file snapshots, context, git state)
		// so recover() restores from it, not from a bare id.
		if stored, err := e.store.LoadCheckpoints(ctx, wf.ID); err == nil {
			for _, c := range stored {
				if c.ID == id {
					ck = c
				}
			}
		}
		e.recordCheckpoint(ctx, wf, ck)
		e.publish(ctx, hooks.CheckpointCreated, wf.ID, map[string]any{"workflowId": wf.ID, "checkpointId": id})
	case types.StepHumanInput:
		if step.HumanInput == nil || step.HumanInput.InputType != types.InputConfirm || result.Output == nil {
			return
		}
		confirmed, ok := result.Output.Bool()
		if !ok || confirmed {
			return
		}
		// A declined confirm gate aborts whatever it was guarding: skip the
		// steps that depend directly on it rather than letting them run.
		for i := range wf.Steps {
			for _, d := range wf.Steps[i].Dependencies {
				if d == step.ID {
					wf.Steps[i].Status = types.StepSkipped
				}
			}
		}
	case types.StepLoop:
		if step.Loop == nil || result.Output == nil {
			return
		}
		itemsVal, _ := result.Output.Get("items")
		items, _ := itemsVal.Array()
		e.expandLoopBody(wf, step, items)
	}
}

// expandLoopBody implements the loop variant's per-item expansion (§4.2):
// iteration i gets a distinct logical copy of bodySteps, with ids suffixed
// "_i", dependencies copied from the template, and rewritten so any reference to the
// loop's itemKey placeholder resolves to that iteration's own scoped copy of
// the item instead of a single shared key. The un-suffixed template steps
// the Planner synthesized are never themselves scheduled, so they're marked
// skipped once their clones exist.
func (e *Executor) expandLoopBody(wf *types.Workflow, loopStep *types.Step, items []jsonvalue.Value) {
	for i, item := range items {
		scopedKey := fmt.Sprintf("%s_%d", loopStep.Loop.ItemKey, i)
		wf.Context.StepOutputs[scopedKey] = item

		for _, bodyID := range loopStep.Loop.BodySteps {
			tmpl, ok := wf.StepByID(bodyID)
			if !ok || tmpl.Status == types.StepSkipped {
				continue
			}
			clone := cloneLoopBodyStep(*tmpl, i, loopStep.Loop.ItemKey, loopStep.Loop.BodySteps)
			wf.Steps = append(wf.Steps, clone)
		}
	}
	for _, bodyID := range loopStep.Loop.BodySteps {
		if tmpl, ok := wf.StepByID(bodyID); ok {
			tmpl.Status = types.StepSkipped
		}
	}
}

// cloneLoopBodyStep copies tmpl into iteration i's own step, suffixing its id
// and any dependency on a sibling body step so the per-iteration copies stay
// wired to each other rather than to the shared templates, and rewriting
// "{{itemKey}}" placeholders in tool parameters / oracle prompts to the
// iteration-scoped key.
func cloneLoopBodyStep(tmpl types.Step, i int, itemKey string, bodySteps []string) types.Step {
	isBodyStep := make(map[string]bool, len(bodySteps))
	for _, id := range bodySteps {
		isBodyStep[id] = true
	}
	suffix := func(id string) string {
		if isBodyStep[id] {
			return fmt.Sprintf("%s_%d", id, i)
		}
		return id
	}

	clone := tmpl
	clone.ID = fmt.Sprintf("%s_%d", tmpl.ID, i)
	clone.Status = types.StepPending
	clone.StartedAt = nil
	clone.CompletedAt = nil
	clone.Duration = nil
	deps := make([]string, len(tmpl.Dependencies))
	for j, d := range tmpl.Dependencies {
		deps[j] = suffix(d)
	}
	clone.Dependencies = deps

	scopedKey := fmt.Sprintf("%s_%d", itemKey, i)
	rebind := func(s string) string {
		return strings.ReplaceAll(s, "{{"+itemKey+"}}", "{{"+scopedKey+"}}")
	}
	if tmpl.Tool != nil {
		params := make(map[string]jsonvalue.Value, len(tmpl.Tool.Parameters))
		for k, v := range tmpl.Tool.Parameters {
			params[k] = rebindPlaceholder(v, rebind)
		}
		clone.Tool = &types.ToolPayload{Name: tmpl.Tool.Name, Parameters: params}
	}
	if tmpl.Oracle != nil {
		o := *tmpl.Oracle
		o.Prompt = rebind(o.Prompt)
		o.SystemPrompt = rebind(o.SystemPrompt)
		clone.Oracle = &o
	}
	return clone
}

// rebindPlaceholder applies rebind to v's string contents, recursing through
// arrays and objects the same way substituteValue resolves them at dispatch
// time.
func rebindPlaceholder(v jsonvalue.Value, rebind func(string) string) jsonvalue.Value {
	if s, ok := v.String(); ok {
		return jsonvalue.Of(rebind(s))
	}
	if arr, ok := v.Array(); ok {
		out := make([]any, len(arr))
		for i, e := range arr {
			out[i] = rebindPlaceholder(e, rebind).Raw()
		}
		return jsonvalue.Array(out)
	}
	if obj, ok := v.Object(); ok {
		out := make(map[string]any, len(obj))
		for k, e := range obj {
			out[k] = rebindPlaceholder(e, rebind).Raw()
		}
		return jsonvalue.Object(out)
	}
	return v
}

// autoCheckpoint implements the interval-based checkpoint policy (§4.4),
// distinct from an explicit checkpoint-type step.
func (e *Executor) autoCheckpoint(ctx context.Context, wf *types.Workflow) {
	if e.rollback == nil {
		return
	}
	lastStepID := ""
	if len(wf.Results) > 0 {
		lastStepID = wf.Results[len(wf.Results)-1].StepID
	}
	ck, err := e.rollback.CreateCheckpoint(ctx, wf.ID, lastStepID, wf.Context)
	if err != nil {
		e.tel.Logger.Warn(ctx, "auto-checkpoint failed", "workflowId", wf.ID, "error", err)
		return
	}
	e.recordCheckpoint(ctx, wf, ck)
	e.publish(ctx, hooks.CheckpointCreated, wf.ID, map[string]any{"workflowId": wf.ID, "checkpointId": ck.ID})
}

// recordCheckpoint appends ck to wf.Checkpoints with FIFO eviction at
// maxCheckpoints (distinct from the Rollback Controller's on-disk
// maxSnapshots bound).
func (e *Executor) recordCheckpoint(ctx context.Context, wf *types.Workflow, ck types.Checkpoint) {
	wf.Checkpoints = append(wf.Checkpoints, ck)
	if len(wf.Checkpoints) > e.cfg.MaxCheckpoints {
		wf.Checkpoints = wf.Checkpoints[len(wf.Checkpoints)-e.cfg.MaxCheckpoints:]
	}
	e.persist(ctx, wf)
}

// recover implements the §4.4 recovery path: record the WorkflowError and,
// if possible, roll back to the most recent checkpoint before declaring the
// workflow failed.
func (e *Executor) recover(ctx context.Context, wf *types.Workflow, stepID string, cause error) {
	code := errorCodeOf(cause)
	wf.Error = &types.WorkflowErrorInfo{
		StepID:            stepID,
		Code:              string(code),
		Message:           cause.Error(),
		Timestamp:         time.Now(),
		RecoveryAttempted: false,
	}

	if wf.CanRollback && len(wf.Checkpoints) > 0 && e.rollback != nil {
		wf.Status = types.StatusRollingBack
		e.persist(ctx, wf)
		e.publish(ctx, hooks.RollbackStarted, wf.ID, map[string]any{"workflowId": wf.ID, "toCheckpoint": wf.Checkpoints[len(wf.Checkpoints)-1].ID})

		latest := wf.Checkpoints[len(wf.Checkpoints)-1]
		err := e.rollback.RollbackToCheckpoint(ctx, wf.ID, latest, &wf.Context)
		wf.Error.RecoveryAttempted = true
		wf.Error.RecoverySucceeded = err == nil
		if err == nil {
			e.publish(ctx, hooks.RollbackCompleted, wf.ID, map[string]any{"workflowId": wf.ID})
		}
	}

	wf.Status = types.StatusFailed
	now := time.Now()
	wf.CompletedAt = &now
	e.persist(ctx, wf)
	e.publish(ctx, hooks.WorkflowFailed, wf.ID, map[string]any{"workflowId": wf.ID, "error": wf.Error})
}

func errorCodeOf(err error) workflowerrors.Code {
	switch err.(type) {
	case *workflowerrors.ToolError:
		return workflowerrors.CodeToolError
	case *workflowerrors.ExpressionError:
		return workflowerrors.CodeExpressionError
	case *workflowerrors.HumanInputError:
		return workflowerrors.CodeHumanInputError
	case *workflowerrors.CancelledError:
		return workflowerrors.CodeCancelled
	case *workflowerrors.TimeoutError:
		return workflowerrors.CodeTimeout
	case *workflowerrors.DeadlockError:
		return workflowerrors.CodeDeadlock
	case *workflowerrors.OracleError:
		return workflowerrors.CodeOracleError
	default:
		return workflowerrors.CodeToolError
	}
}

// finalizeIfDone marks the workflow completed if every step reached a
// terminal status and no failure/recovery path was taken.
func (e *Executor) finalizeIfDone(ctx context.Context, wf *types.Workflow) {
	if wf.Status != types.StatusRunning {
		return
	}
	for _, s := range wf.Steps {
		if s.Status != types.StepCompleted && s.Status != types.StepSkipped && s.Status != types.StepFailed && s.Status != types.StepRolledBack {
			return
		}
	}
	wf.Status = types.StatusCompleted
	now := time.Now()
	wf.CompletedAt = &now
	e.persist(ctx, wf)
	e.publish(ctx, hooks.WorkflowCompleted, wf.ID, map[string]any{"workflowId": wf.ID})
}

// Snapshot is a point-in-time, read-only view of a running workflow,
// derived from the latest persisted state rather than the live scheduler
// goroutine's stack — so it never blocks or pauses the run.
type Snapshot struct {
	WorkflowID string
	Status     types.WorkflowStatus
	Ready      []string
	InFlight   []string
	Log        []types.LogEntry
}

// Snapshot implements the run-level observability hook: status, ready set,
// in-flight set, and the last N log lines, all read from the store's
// latest persisted transition.
func (e *Executor) Snapshot(ctx context.Context, workflowID string, lastNLogLines int) (Snapshot, error) {
	wf, err := e.store.LoadWorkflow(ctx, workflowID)
	if err != nil {
		return Snapshot{}, &workflowerrors.WorkflowNotFoundError{WorkflowID: workflowID}
	}

	comp := make(map[string]bool)
	for _, s := range wf.Steps {
		if s.Status == types.StepCompleted || s.Status == types.StepSkipped {
			comp[s.ID] = true
		}
	}

	snap := Snapshot{WorkflowID: wf.ID, Status: wf.Status}
	for i := range wf.Steps {
		s := &wf.Steps[i]
		switch s.Status {
		case types.StepRunning:
			snap.InFlight = append(snap.InFlight, s.ID)
		case types.StepPending:
			if dependenciesSatisfied(s, comp) {
				snap.Ready = append(snap.Ready, s.ID)
			}
		}
	}

	if lastNLogLines > 0 {
		var all []types.LogEntry
		for _, r := range wf.Results {
			all = append(all, r.Logs...)
		}
		start := len(all) - lastNLogLines
		if start < 0 {
			start = 0
		}
		snap.Log = append(snap.Log, all[start:]...)
	}
	return snap, nil
}

// Pause implements pause(workflowId): requires status running (§4.4).
func (e *Executor) Pause(ctx context.Context, workflowID string) error {
	wf, err := e.store.LoadWorkflow(ctx, workflowID)
	if err != nil {
		return &workflowerrors.WorkflowNotFoundError{WorkflowID: workflowID}
	}
	if wf.Status != types.StatusRunning {
		return &workflowerrors.IllegalStateTransitionError{From: string(wf.Status), To: string(types.StatusPaused)}
	}
	wf.Status = types.StatusPaused
	e.persist(ctx, &wf)
	e.publish(ctx, hooks.WorkflowPaused, wf.ID, map[string]any{"workflowId": wf.ID})
	return nil
}

// Cancel implements cancel(workflowId): signals every in-flight step.
func (e *Executor) Cancel(ctx context.Context, workflowID string) error {
	wf, err := e.store.LoadWorkflow(ctx, workflowID)
	if err != nil {
		return &workflowerrors.WorkflowNotFoundError{WorkflowID: workflowID}
	}
	wf.Status = types.StatusCancelled
	e.persist(ctx, &wf)
	e.publish(ctx, hooks.WorkflowCancelled, wf.ID, map[string]any{"workflowId": wf.ID})

	e.mu.Lock()
	r := e.runs[workflowID]
	e.mu.Unlock()
	if r != nil {
		r.cancel()
	}
	return nil
}

// ProvideInput implements provideInput(wfId, stepId, value), forwarding a
// human-supplied value to the suspended humanInput step.
func (e *Executor) ProvideInput(ctx context.Context, workflowID, stepID string, value jsonvalue.Value) error {
	e.mu.Lock()
	r := e.runs[workflowID]
	e.mu.Unlock()
	if r == nil {
		return &workflowerrors.WorkflowNotFoundError{WorkflowID: workflowID}
	}
	r.mu.Lock()
	ch, ok := r.humanInputs[stepID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending human input for step %s", stepID)
	}
	select {
	case ch <- value:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestInput implements runner.HumanInputGate, letting the Executor own
// the suspend/resume channel for humanInput steps while the Step Runner
// stays agnostic of how values are delivered.
func (e *Executor) RequestInput(ctx context.Context, workflowID, stepID string, payload types.HumanInputPayload) (jsonvalue.Value, error) {
	e.mu.Lock()
	r := e.runs[workflowID]
	e.mu.Unlock()
	if r == nil {
		return jsonvalue.Null(), fmt.Errorf("workflow %s has no active run", workflowID)
	}

	ch := make(chan jsonvalue.Value, 1)
	r.mu.Lock()
	r.humanInputs[stepID] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.humanInputs, stepID)
		r.mu.Unlock()
	}()

	e.publish(ctx, hooks.HumanInputRequired, workflowID, map[string]any{
		"workflowId": workflowID, "stepId": stepID, "prompt": payload.Prompt,
		"inputType": string(payload.InputType), "choices": payload.Choices,
	})

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		return jsonvalue.Null(), ctx.Err()
	}
}

func (e *Executor) persist(ctx context.Context, wf *types.Workflow) {
	wf.UpdatedAt = time.Now()
	if err := e.store.SaveWorkflow(ctx, *wf); err != nil {
		e.tel.Logger.Error(ctx, "failed to persist workflow", "workflowId", wf.ID, "error", err)
	}
}

func (e *Executor) publish(ctx context.Context, t hooks.EventType, workflowID string, payload map[string]any) {
	_ = e.bus.Publish(ctx, hooks.Event{Type: t, WorkflowID: workflowID, Payload: payload})
}
