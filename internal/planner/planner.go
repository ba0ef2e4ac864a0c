// Package planner implements the Task Planner (spec §4.1): it turns a
// free-form request into a validated Workflow, treating the oracle as a
// black box and the registry as the source of truth for available tools.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/workflowcore/internal/config"
	"goa.design/workflowcore/internal/jsonvalue"
	"goa.design/workflowcore/internal/oracle"
	"goa.design/workflowcore/internal/registry"
	"goa.design/workflowcore/internal/types"
	"goa.design/workflowcore/internal/workflowerrors"
)

// planSchema describes the exact plan shape §4.1 step 1 asks the oracle for.
// A schema violation is treated the same as unparseable output: both fall
// back to a trivial single-interpretation plan rather than propagating a
// malformed Workflow downstream.
var planSchema = mustCompilePlanSchema(`{
	"type": "object",
	"properties": {
		"interpretation": {"type": "string"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"tasks": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"id": {"type": "string"},
					"description": {"type": "string"},
					"toolsRequired": {"type": "array", "items": {"type": "string"}},
					"dependencies": {"type": "array", "items": {"type": "string"}},
					"optional": {"type": "boolean"},
					"estimatedDuration": {"type": "number"}
				},
				"required": ["id"]
			}
		},
		"requirements": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"type": {"type": "string"},
					"description": {"type": "string"},
					"satisfied": {"type": "boolean"},
					"blocksExecution": {"type": "boolean"}
				}
			}
		},
		"risks": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"type": {"type": "string"},
					"severity": {"type": "string"},
					"description": {"type": "string"},
					"mitigation": {"type": "string"}
				}
			}
		},
		"complexity": {"type": "string", "enum": ["simple", "moderate", "complex"]}
	},
	"required": ["interpretation", "confidence", "tasks", "complexity"]
}`)

func mustCompilePlanSchema(schemaJSON string) *jsonschema.Schema {
	var doc any
	if err := json.Unmarshal([]byte(schemaJSON), &doc); err != nil {
		panic(err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("plan.json", doc); err != nil {
		panic(err)
	}
	s, err := c.Compile("plan.json")
	if err != nil {
		panic(err)
	}
	return s
}

// toJSONValueMap wraps a plain decoded-JSON map (as produced by
// encoding/json.Unmarshal into map[string]interface{}) into the
// jsonvalue.Value map tool parameters are stored as.
func toJSONValueMap(m map[string]interface{}) map[string]jsonvalue.Value {
	out := make(map[string]jsonvalue.Value, len(m))
	for k, v := range m {
		out[k] = jsonvalue.Of(v)
	}
	return out
}

// rawPlan mirrors the JSON schema the planning call asks the oracle for.
type rawPlan struct {
	Interpretation string         `json:"interpretation"`
	Confidence     float64        `json:"confidence"`
	Tasks          []rawTask      `json:"tasks"`
	Requirements   []rawRequire   `json:"requirements"`
	Risks          []rawRisk      `json:"risks"`
	Complexity     string         `json:"complexity"`
}

type rawTask struct {
	ID                 string   `json:"id"`
	Description        string   `json:"description"`
	ToolsRequired      []string `json:"toolsRequired"`
	Dependencies       []string `json:"dependencies"`
	Optional           bool     `json:"optional"`
	EstimatedDurationMs int     `json:"estimatedDuration"`
}

type rawRequire struct {
	Type            string `json:"type"`
	Description     string `json:"description"`
	Satisfied       bool   `json:"satisfied"`
	BlocksExecution bool   `json:"blocksExecution"`
}

type rawRisk struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Mitigation  string `json:"mitigation,omitempty"`
}

// rawStep mirrors the JSON shape the step-synthesis call returns; fields are
// defensively typed per §4.1 step 3 (unknown variant → tool, missing
// dependency arrays → []).
type rawStep struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Dependencies []string        `json:"dependencies"`
	Tool         *rawToolPayload `json:"tool,omitempty"`
	Oracle       *rawOraclePayload `json:"oracle,omitempty"`
	Conditional  *rawCondPayload `json:"conditional,omitempty"`
	Parallel     *rawParallelPayload `json:"parallel,omitempty"`
	Loop         *rawLoopPayload `json:"loop,omitempty"`
	HumanInput   *rawHumanPayload `json:"humanInput,omitempty"`
}

type rawToolPayload struct {
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

type rawOraclePayload struct {
	Prompt       string `json:"prompt"`
	SystemPrompt string `json:"systemPrompt"`
	OutputKey    string `json:"outputKey"`
}

type rawCondPayload struct {
	Expression string   `json:"expression"`
	ThenSteps  []string `json:"thenSteps"`
	ElseSteps  []string `json:"elseSteps"`
}

type rawParallelPayload struct {
	StepIDs    []string `json:"stepIds"`
	WaitForAll bool     `json:"waitForAll"`
}

type rawLoopPayload struct {
	ItemsKey  string   `json:"itemsKey"`
	ItemKey   string   `json:"itemKey"`
	BodySteps []string `json:"bodySteps"`
}

type rawHumanPayload struct {
	Prompt    string   `json:"prompt"`
	InputType string   `json:"inputType"`
	Choices   []string `json:"choices"`
	OutputKey string   `json:"outputKey"`
}

// Planner turns requests into Workflows.
type Planner struct {
	oracle   oracle.Oracle
	registry registry.Registry
	cfg      config.Config
}

// New constructs a Planner.
func New(o oracle.Oracle, reg registry.Registry, cfg config.Config) *Planner {
	return &Planner{oracle: o, registry: reg, cfg: cfg}
}

// Plan implements the §4.1 contract: plan(request, workingDirectory?) → Workflow.
func (p *Planner) Plan(ctx context.Context, request, workingDirectory string) (types.Workflow, error) {
	plan, err := p.planningCall(ctx, request)
	if err != nil {
		return types.Workflow{}, err
	}

	plan = validatePlan(plan, p.registry)

	steps, err := p.synthesizeSteps(ctx, request, plan)
	if err != nil {
		return types.Workflow{}, err
	}

	steps = injectCheckpoints(steps, p.cfg.MaxCheckpoints, p.cfg.RequireConfirmationForDestructive)

	if p.cfg.MaxSteps > 0 && len(steps) > p.cfg.MaxSteps {
		return types.Workflow{}, &workflowerrors.MaxStepsExceededError{StepCount: len(steps), MaxSteps: p.cfg.MaxSteps}
	}

	if err := types.ValidateDAG(steps); err != nil {
		return types.Workflow{}, err
	}

	for _, r := range plan.Requirements {
		if !r.Satisfied && r.BlocksExecution {
			missing := make([]string, 0, len(plan.Requirements))
			for _, rr := range plan.Requirements {
				if !rr.Satisfied && rr.BlocksExecution {
					missing = append(missing, rr.Description)
				}
			}
			return types.Workflow{}, &workflowerrors.PlannerBlockedError{Missing: missing}
		}
	}

	now := time.Now()
	wf := types.Workflow{
		ID:              types.NewID(),
		Name:            plan.Interpretation,
		Description:     plan.Interpretation,
		OriginalRequest: request,
		Status:          types.StatusPending,
		Steps:           steps,
		Context:         types.NewContext(workingDirectory),
		CanRollback:     true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return wf, nil
}

// planningCall performs §4.1 step 1.
func (p *Planner) planningCall(ctx context.Context, request string) (rawPlan, error) {
	sysPrompt := buildPlanningSystemPrompt(p.registry)
	resp, err := p.oracle.Chat(ctx, request, sysPrompt, oracle.Options{Temperature: 0.0})
	if err != nil {
		return rawPlan{}, &workflowerrors.OracleError{Message: err.Error(), Cause: err}
	}

	block := extractBalancedJSON(resp)
	if block == "" {
		return fallbackPlan(resp), nil
	}
	var doc any
	if err := json.Unmarshal([]byte(block), &doc); err != nil {
		return fallbackPlan(resp), nil
	}
	if err := planSchema.Validate(doc); err != nil {
		// A schema violation (wrong types, missing required fields) is
		// treated the same as unparseable output.
		return fallbackPlan(resp), nil
	}
	var plan rawPlan
	if err := json.Unmarshal([]byte(block), &plan); err != nil {
		return fallbackPlan(resp), nil
	}
	return plan, nil
}

func fallbackPlan(resp string) rawPlan {
	interp := resp
	if len(interp) > 200 {
		interp = interp[:200]
	}
	return rawPlan{
		Interpretation: interp,
		Confidence:     0.5,
		Tasks:          nil,
		Complexity:     "moderate",
	}
}

// validatePlan implements §4.1 step 2.
func validatePlan(plan rawPlan, reg registry.Registry) rawPlan {
	ids := make(map[string]bool, len(plan.Tasks))
	for _, t := range plan.Tasks {
		ids[t.ID] = true
	}

	missingTools := make(map[string]bool)
	for i := range plan.Tasks {
		deps := make([]string, 0, len(plan.Tasks[i].Dependencies))
		for _, d := range plan.Tasks[i].Dependencies {
			if d == plan.Tasks[i].ID {
				continue // direct self-loop rejected
			}
			if !ids[d] {
				continue // dangling dependency ignored; transitive cycle is deferred to the executor
			}
			deps = append(deps, d)
		}
		plan.Tasks[i].Dependencies = deps

		for _, toolName := range plan.Tasks[i].ToolsRequired {
			if _, ok := reg.Lookup(toolName); !ok {
				missingTools[toolName] = true
			}
		}
	}

	names := make([]string, 0, len(missingTools))
	for n := range missingTools {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		plan.Requirements = append(plan.Requirements, rawRequire{
			Type:            "tool",
			Description:     fmt.Sprintf("tool %q is not registered", n),
			Satisfied:       false,
			BlocksExecution: true,
		})
	}
	return plan
}

// synthesizeSteps implements §4.1 step 3.
func (p *Planner) synthesizeSteps(ctx context.Context, request string, plan rawPlan) ([]types.Step, error) {
	sysPrompt := buildStepSynthesisSystemPrompt(plan)
	resp, err := p.oracle.Chat(ctx, request, sysPrompt, oracle.Options{Temperature: 0.0})
	if err != nil {
		return nil, &workflowerrors.OracleError{Message: err.Error(), Cause: err}
	}

	block := extractBalancedArray(resp)
	var rawSteps []rawStep
	if block != "" {
		_ = json.Unmarshal([]byte(block), &rawSteps)
	}

	steps := make([]types.Step, 0, len(rawSteps))
	for _, rs := range rawSteps {
		steps = append(steps, toStep(rs))
	}
	return steps, nil
}

func toStep(rs rawStep) types.Step {
	st := types.Step{
		ID:           rs.ID,
		Dependencies: orEmpty(rs.Dependencies),
		Status:       types.StepPending,
	}

	switch types.StepType(rs.Type) {
	case types.StepOracle:
		st.Type = types.StepOracle
		if rs.Oracle != nil {
			st.Oracle = &types.OraclePayload{
				Prompt:       rs.Oracle.Prompt,
				SystemPrompt: rs.Oracle.SystemPrompt,
				OutputKey:    rs.Oracle.OutputKey,
			}
		} else {
			st.Oracle = &types.OraclePayload{}
		}
	case types.StepConditional:
		st.Type = types.StepConditional
		if rs.Conditional != nil {
			st.Conditional = &types.ConditionalPayload{
				Expression: rs.Conditional.Expression,
				ThenSteps:  orEmpty(rs.Conditional.ThenSteps),
				ElseSteps:  orEmpty(rs.Conditional.ElseSteps),
			}
		} else {
			st.Conditional = &types.ConditionalPayload{}
		}
	case types.StepParallel:
		st.Type = types.StepParallel
		if rs.Parallel != nil {
			st.Parallel = &types.ParallelPayload{
				StepIDs:    orEmpty(rs.Parallel.StepIDs),
				WaitForAll: rs.Parallel.WaitForAll,
			}
		} else {
			st.Parallel = &types.ParallelPayload{}
		}
	case types.StepLoop:
		st.Type = types.StepLoop
		if rs.Loop != nil {
			st.Loop = &types.LoopPayload{
				ItemsKey:  rs.Loop.ItemsKey,
				ItemKey:   rs.Loop.ItemKey,
				BodySteps: orEmpty(rs.Loop.BodySteps),
			}
		} else {
			st.Loop = &types.LoopPayload{}
		}
	case types.StepHumanInput:
		st.Type = types.StepHumanInput
		if rs.HumanInput != nil {
			st.HumanInput = &types.HumanInputPayload{
				Prompt:    rs.HumanInput.Prompt,
				InputType: types.HumanInputType(rs.HumanInput.InputType),
				Choices:   rs.HumanInput.Choices,
				OutputKey: rs.HumanInput.OutputKey,
			}
		} else {
			st.HumanInput = &types.HumanInputPayload{}
		}
	case types.StepCheckpoint:
		st.Type = types.StepCheckpoint
	default:
		// Unknown variant defaults to tool, per §4.1 step 3.
		st.Type = types.StepTool
		params := map[string]interface{}{}
		name := ""
		if rs.Tool != nil {
			name = rs.Tool.Name
			params = rs.Tool.Parameters
		}
		st.Tool = &types.ToolPayload{Name: name, Parameters: toJSONValueMap(params)}
	}
	return st
}

func orEmpty(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// injectCheckpoints implements §4.1 step 4. When requireConfirmation is set
// (cfg.RequireConfirmationForDestructive), a humanInput step of
// inputType=confirm is also inserted between the checkpoint and the
// flagged step, generalizing the teacher's pause-for-approval pattern from
// tool calls to destructive workflow steps.
func injectCheckpoints(steps []types.Step, maxCheckpoints int, requireConfirmation bool) []types.Step {
	flagged := []string{"write", "delete", "commit", "push"}
	out := make([]types.Step, 0, len(steps)+2*maxCheckpoints)
	inserted := 0
	for _, s := range steps {
		if inserted < maxCheckpoints && s.Type == types.StepTool && s.Tool != nil && matchesFlagged(s.Tool.Name, flagged) {
			inserted++
			ckID := fmt.Sprintf("checkpoint_%d", inserted)
			out = append(out, types.Step{
				ID:           ckID,
				Type:         types.StepCheckpoint,
				Dependencies: s.Dependencies,
				Status:       types.StepPending,
			})
			gate := ckID
			if requireConfirmation {
				confirmID := fmt.Sprintf("confirm_%d", inserted)
				out = append(out, types.Step{
					ID:           confirmID,
					Type:         types.StepHumanInput,
					Dependencies: []string{ckID},
					Status:       types.StepPending,
					HumanInput: &types.HumanInputPayload{
						Prompt:    fmt.Sprintf("confirm destructive step %q before it runs", s.ID),
						InputType: types.InputConfirm,
					},
				})
				gate = confirmID
			}
			s.Dependencies = []string{gate}
		}
		out = append(out, s)
	}
	return out
}

func matchesFlagged(name string, flagged []string) bool {
	lower := strings.ToLower(name)
	for _, f := range flagged {
		if strings.Contains(lower, f) {
			return true
		}
	}
	return false
}

func buildPlanningSystemPrompt(reg registry.Registry) string {
	var b strings.Builder
	b.WriteString("You are a planning assistant. Respond with a single JSON object matching:\n")
	b.WriteString(`{"interpretation":"...","confidence":0.0,"tasks":[{"id":"...","description":"...","toolsRequired":["..."],"dependencies":["..."],"optional":false,"estimatedDuration":0}],"requirements":[{"type":"file|api|permission|tool","description":"...","satisfied":false,"blocksExecution":false}],"risks":[{"type":"...","severity":"...","description":"..."}],"complexity":"simple|moderate|complex"}`)
	b.WriteString("\n\nAvailable tools:\n")
	for _, d := range reg.Descriptors() {
		fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
	}
	return b.String()
}

func buildStepSynthesisSystemPrompt(plan rawPlan) string {
	var b strings.Builder
	b.WriteString("Convert the following task plan into a JSON array of executable steps. ")
	b.WriteString("Each step has an id, a type (tool|oracle|conditional|parallel|loop|humanInput|checkpoint), ")
	b.WriteString("a dependencies array, and exactly one variant payload matching its type.\n\nTasks:\n")
	for _, t := range plan.Tasks {
		fmt.Fprintf(&b, "- %s: %s (tools: %v, deps: %v)\n", t.ID, t.Description, t.ToolsRequired, t.Dependencies)
	}
	return b.String()
}

// extractBalancedJSON returns the first balanced {...} block in s, or "".
func extractBalancedJSON(s string) string {
	return extractBalanced(s, '{', '}')
}

// extractBalancedArray returns the first balanced [...] block in s, or "".
func extractBalancedArray(s string) string {
	return extractBalanced(s, '[', ']')
}

func extractBalanced(s string, open, close byte) string {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
