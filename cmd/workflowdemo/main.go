// Command workflowdemo wires the planner, step runner, rollback controller,
// and executor together against an in-memory oracle stub and the file-based
// store, then runs a trivial one-step workflow end to end.
package main

import (
	"context"
	"fmt"
	"os"

	"goa.design/workflowcore/internal/config"
	"goa.design/workflowcore/internal/executor"
	"goa.design/workflowcore/internal/hooks"
	"goa.design/workflowcore/internal/jsonvalue"
	"goa.design/workflowcore/internal/oracle"
	"goa.design/workflowcore/internal/planner"
	"goa.design/workflowcore/internal/registry"
	"goa.design/workflowcore/internal/registry/demotools"
	"goa.design/workflowcore/internal/rollback"
	"goa.design/workflowcore/internal/runner"
	"goa.design/workflowcore/internal/store/filestore"
	"goa.design/workflowcore/internal/telemetry"
)

// stubOracle returns a canned plan and step array, good enough to exercise
// the scheduler without a live API key.
func stubOracle() oracle.Oracle {
	return oracle.Func(func(ctx context.Context, userPrompt, systemPrompt string, opts oracle.Options) (string, error) {
		if containsSteps(systemPrompt) {
			return `[
				{"id":"greet","type":"tool","dependencies":[],"tool":{"name":"echo","parameters":{"message":"hello from the workflow"}}}
			]`, nil
		}
		return `{"interpretation":"say hello","confidence":0.9,"tasks":[{"id":"greet","description":"greet the user","toolsRequired":["echo"],"dependencies":[]}],"requirements":[],"risks":[],"complexity":"simple"}`, nil
	})
}

func containsSteps(s string) bool {
	for _, want := range []string{"Convert the following task plan"} {
		if len(s) >= len(want) && contains(s, want) {
			return true
		}
	}
	return false
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func main() {
	ctx := context.Background()
	tel := telemetry.Noop()

	reg := registry.NewInMemory()
	_ = reg.Register(demotools.Echo{})
	_ = reg.Register(demotools.WriteFile{})

	cfg := config.Default()

	dir, err := os.MkdirTemp("", "workflowdemo-*")
	if err != nil {
		panic(err)
	}
	st, err := filestore.New(dir, tel.Logger)
	if err != nil {
		panic(err)
	}

	bus := hooks.NewBus()
	_, _ = bus.Register(hooks.SubscriberFunc(func(ctx context.Context, ev hooks.Event) error {
		fmt.Printf("[event] %s %s %v\n", ev.Type, ev.WorkflowID, ev.Payload)
		return nil
	}))

	vcs := rollback.NewExecGitVCS()
	rb := rollback.New(st, reg, vcs, cfg.MaxSnapshots)

	rn := runner.New(reg, stubOracle(), rb, nil, tel, nil, bus)

	ex := executor.New(cfg, st, rn, rb, bus, tel)
	rn.SetHumanInputGate(ex)

	pl := planner.New(stubOracle(), reg, cfg)

	wf, err := pl.Plan(ctx, "say hello", dir)
	if err != nil {
		panic(err)
	}
	if err := st.SaveWorkflow(ctx, wf); err != nil {
		panic(err)
	}

	final, err := ex.ExecuteWorkflow(ctx, wf.ID)
	if err != nil {
		panic(err)
	}

	fmt.Println("final status:", final.Status)
	for _, r := range final.Results {
		fmt.Printf("step %s: %s\n", r.StepID, r.Status)
	}
	if v, ok := final.Context.StepOutputs["greet"]; ok {
		fmt.Println("greet output:", valueString(v))
	}
}

func valueString(v jsonvalue.Value) string {
	if s, ok := v.String(); ok {
		return s
	}
	return fmt.Sprintf("%v", v.Raw())
}
