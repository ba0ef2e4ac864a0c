package planner

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/workflowcore/internal/config"
	"goa.design/workflowcore/internal/oracle"
	"goa.design/workflowcore/internal/registry"
	"goa.design/workflowcore/internal/registry/demotools"
	"goa.design/workflowcore/internal/types"
	"goa.design/workflowcore/internal/workflowerrors"
)

func twoCallOracle(planJSON, stepsJSON string) oracle.Oracle {
	return oracle.Func(func(ctx context.Context, userPrompt, systemPrompt string, opts oracle.Options) (string, error) {
		if strings.Contains(systemPrompt, "Convert the following task plan") {
			return stepsJSON, nil
		}
		return planJSON, nil
	})
}

func newRegistry(t *testing.T) registry.Registry {
	t.Helper()
	reg := registry.NewInMemory()
	require.NoError(t, reg.Register(demotools.Echo{}))
	return reg
}

func TestPlanHappyPathProducesPendingWorkflow(t *testing.T) {
	t.Parallel()
	planJSON := `{"interpretation":"say hi","confidence":0.9,"tasks":[{"id":"t1","description":"greet","toolsRequired":["echo"],"dependencies":[]}],"requirements":[],"risks":[],"complexity":"simple"}`
	stepsJSON := `[{"id":"greet","type":"tool","dependencies":[],"tool":{"name":"echo","parameters":{"message":"hi"}}}]`

	p := New(twoCallOracle(planJSON, stepsJSON), newRegistry(t), config.Default())
	wf, err := p.Plan(context.Background(), "say hi", "/tmp/work")
	require.NoError(t, err)

	assert.Equal(t, types.StatusPending, wf.Status)
	require.Len(t, wf.Steps, 1)
	assert.Equal(t, "greet", wf.Steps[0].ID)
	assert.Equal(t, types.StepTool, wf.Steps[0].Type)
	assert.True(t, wf.CanRollback)
}

func TestPlanBlocksOnMissingTool(t *testing.T) {
	t.Parallel()
	planJSON := `{"interpretation":"deploy","confidence":0.8,"tasks":[{"id":"t1","description":"deploy","toolsRequired":["kubectl"],"dependencies":[]}],"requirements":[],"risks":[],"complexity":"complex"}`
	stepsJSON := `[]`

	p := New(twoCallOracle(planJSON, stepsJSON), newRegistry(t), config.Default())
	_, err := p.Plan(context.Background(), "deploy", "")

	require.Error(t, err)
	var blocked *workflowerrors.PlannerBlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Contains(t, blocked.Missing[0], "kubectl")
}

func TestPlanFallsBackOnUnparseableOracleResponse(t *testing.T) {
	t.Parallel()
	garbled := oracle.Func(func(ctx context.Context, userPrompt, systemPrompt string, opts oracle.Options) (string, error) {
		return "not json at all", nil
	})

	p := New(garbled, newRegistry(t), config.Default())
	wf, err := p.Plan(context.Background(), "do something", "")
	require.NoError(t, err)
	assert.Equal(t, "not json at all", wf.Name)
	assert.Empty(t, wf.Steps)
}

func TestPlanFallsBackOnSchemaViolatingPlan(t *testing.T) {
	t.Parallel()
	// Well-formed JSON, but confidence is out of [0,1] and complexity isn't
	// one of the enumerated values: a schema violation, not a parse error.
	badPlan := oracle.Func(func(ctx context.Context, userPrompt, systemPrompt string, opts oracle.Options) (string, error) {
		return `{"interpretation":"do it","confidence":7,"tasks":[],"complexity":"extreme"}`, nil
	})

	p := New(badPlan, newRegistry(t), config.Default())
	wf, err := p.Plan(context.Background(), "do something", "")
	require.NoError(t, err)
	assert.Contains(t, wf.Name, "do it")
	assert.Empty(t, wf.Steps)
}

func TestPlanRejectsDependencyCycleFromSynthesizedSteps(t *testing.T) {
	t.Parallel()
	planJSON := `{"interpretation":"cycle","confidence":0.5,"tasks":[],"requirements":[],"risks":[],"complexity":"simple"}`
	stepsJSON := `[{"id":"a","type":"tool","dependencies":["b"],"tool":{"name":"echo","parameters":{}}},` +
		`{"id":"b","type":"tool","dependencies":["a"],"tool":{"name":"echo","parameters":{}}}]`

	p := New(twoCallOracle(planJSON, stepsJSON), newRegistry(t), config.Default())
	_, err := p.Plan(context.Background(), "cycle", "")
	require.Error(t, err)
	var pv *workflowerrors.PlanValidationError
	require.ErrorAs(t, err, &pv)
}

func TestPlanRejectsStepCountExceedingMaxSteps(t *testing.T) {
	t.Parallel()
	planJSON := `{"interpretation":"many","confidence":0.9,"tasks":[],"requirements":[],"risks":[],"complexity":"simple"}`
	var stepsJSON strings.Builder
	stepsJSON.WriteByte('[')
	for i := 0; i < 3; i++ {
		if i > 0 {
			stepsJSON.WriteByte(',')
		}
		stepsJSON.WriteString(fmt.Sprintf(`{"id":"s%d","type":"tool","dependencies":[],"tool":{"name":"echo","parameters":{}}}`, i))
	}
	stepsJSON.WriteByte(']')

	cfg := config.Default()
	cfg.MaxSteps = 2
	p := New(twoCallOracle(planJSON, stepsJSON.String()), newRegistry(t), cfg)
	_, err := p.Plan(context.Background(), "many steps", "")

	require.Error(t, err)
	var tooMany *workflowerrors.MaxStepsExceededError
	require.ErrorAs(t, err, &tooMany)
	assert.Equal(t, 2, tooMany.MaxSteps)
}

func TestInjectCheckpointsInsertsBeforeDestructiveTool(t *testing.T) {
	t.Parallel()
	steps := []types.Step{
		{ID: "a", Type: types.StepTool, Tool: &types.ToolPayload{Name: "write_file"}},
	}
	out := injectCheckpoints(steps, 5, false)
	require.Len(t, out, 2)
	assert.Equal(t, types.StepCheckpoint, out[0].Type)
	assert.Equal(t, []string{out[0].ID}, out[1].Dependencies)
}

func TestInjectCheckpointsRespectsMaxCheckpoints(t *testing.T) {
	t.Parallel()
	steps := []types.Step{
		{ID: "a", Type: types.StepTool, Tool: &types.ToolPayload{Name: "write_file"}},
		{ID: "b", Type: types.StepTool, Tool: &types.ToolPayload{Name: "delete_file"}},
	}
	out := injectCheckpoints(steps, 1, false)
	checkpointCount := 0
	for _, s := range out {
		if s.Type == types.StepCheckpoint {
			checkpointCount++
		}
	}
	assert.Equal(t, 1, checkpointCount)
}

func TestInjectCheckpointsInsertsConfirmGateWhenRequired(t *testing.T) {
	t.Parallel()
	steps := []types.Step{
		{ID: "a", Type: types.StepTool, Tool: &types.ToolPayload{Name: "delete_file"}},
	}
	out := injectCheckpoints(steps, 5, true)
	require.Len(t, out, 3)
	assert.Equal(t, types.StepCheckpoint, out[0].Type)
	assert.Equal(t, types.StepHumanInput, out[1].Type)
	require.NotNil(t, out[1].HumanInput)
	assert.Equal(t, types.InputConfirm, out[1].HumanInput.InputType)
	assert.Equal(t, []string{out[0].ID}, out[1].Dependencies)
	assert.Equal(t, []string{out[1].ID}, out[2].Dependencies)
}

func TestExtractBalancedArrayIgnoresLeadingObject(t *testing.T) {
	t.Parallel()
	s := `prefix {"a":1} and then [{"id":"x"}] suffix`
	assert.Equal(t, `[{"id":"x"}]`, extractBalancedArray(s))
}
