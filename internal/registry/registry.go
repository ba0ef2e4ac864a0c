// Package registry defines the Tool Registry contract the core consumes as
// an external collaborator (spec §1, §6): name-based lookup of tool
// descriptors plus side-effecting execution. The concrete tool library
// (browser automation, email, git, filesystem, ...) lives outside this
// module; this package only specifies the boundary and ships an in-memory
// registry implementation suitable for tests, demos, and simple embeddings.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"goa.design/workflowcore/internal/jsonvalue"
)

// ExecContext is the execution-scoped context handed to a tool invocation.
type ExecContext struct {
	WorkingDirectory string
	CancelSignal     <-chan struct{}
	IdempotencyKey   string
}

// Result is a tool's self-reported outcome (§6): tools signal failure by
// returning success=false rather than by returning a Go error, so the Step
// Runner can distinguish "the tool ran and reported failure" (tool-recoverable
// per Recoverable) from "the tool invocation itself errored" (always
// recoverable, since that's typically a transport/infra fault).
type Result struct {
	Success     bool
	Data        jsonvalue.Value
	Error       string
	Recoverable *bool
}

// Tool is one named, side-effecting operation exposed by the external tool
// library.
type Tool interface {
	// Name is the tool's globally unique identifier.
	Name() string
	// Description is human-readable context surfaced to the oracle when the
	// Planner builds its system prompt.
	Description() string
	// ParameterSchema is the JSON Schema document describing the shape of
	// Execute's params argument.
	ParameterSchema() *jsonschema.Schema
	// Execute invokes the tool. A returned error indicates the invocation
	// itself failed (always treated as recoverable); Result.Success=false
	// indicates the tool ran and reported a domain-level failure.
	Execute(ctx context.Context, params map[string]jsonvalue.Value, execCtx ExecContext) (Result, error)
}

// Descriptor is the read-only metadata the Planner needs to describe a tool
// in its system prompt, without depending on the Tool interface's Execute
// method.
type Descriptor struct {
	Name            string
	Description     string
	ParameterSchema *jsonschema.Schema
}

// Registry is the external Tool Registry contract consumed throughout the
// core (§1, §6): lookup by name, enumerate for prompt construction, and
// invoke.
type Registry interface {
	// Lookup returns the named tool and whether it is registered.
	Lookup(name string) (Tool, bool)
	// Descriptors returns the metadata for every registered tool, used by
	// the Planner to build its system prompt.
	Descriptors() []Descriptor
}

// InMemory is a simple Registry backed by a map, suitable for tests, demos,
// and single-process embeddings that register tools at startup.
type InMemory struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewInMemory constructs an empty in-memory registry.
func NewInMemory() *InMemory {
	return &InMemory{tools: make(map[string]Tool)}
}

// Register adds a tool, returning an error if its name is already taken.
func (r *InMemory) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[t.Name()]; dup {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

func (r *InMemory) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *InMemory) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, Descriptor{Name: t.Name(), Description: t.Description(), ParameterSchema: t.ParameterSchema()})
	}
	return out
}
