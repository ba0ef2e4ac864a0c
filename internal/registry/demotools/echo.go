// Package demotools ships a couple of trivial Tool implementations used by
// the demo command and by tests that need a registered tool without pulling
// in the external tool library the core treats as out of scope.
package demotools

import (
	"context"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/workflowcore/internal/jsonvalue"
	"goa.design/workflowcore/internal/registry"
)

var echoSchema = mustCompile(`{
	"type": "object",
	"properties": {"message": {"type": "string"}},
	"required": ["message"]
}`)

// Echo returns its "message" parameter verbatim as its output.
type Echo struct{}

func (Echo) Name() string        { return "echo" }
func (Echo) Description() string { return "Returns the message parameter verbatim." }
func (Echo) ParameterSchema() *jsonschema.Schema { return echoSchema }

func (Echo) Execute(ctx context.Context, params map[string]jsonvalue.Value, execCtx registry.ExecContext) (registry.Result, error) {
	msg, _ := params["message"]
	return registry.Result{Success: true, Data: msg}, nil
}

var writeFileSchema = mustCompile(`{
	"type": "object",
	"properties": {"path": {"type": "string"}, "content": {"type": "string"}},
	"required": ["path", "content"]
}`)

// WriteFile writes its "content" parameter to "path", relative to the
// execution context's working directory.
type WriteFile struct{}

func (WriteFile) Name() string        { return "write_file" }
func (WriteFile) Description() string { return "Writes content to a file path." }
func (WriteFile) ParameterSchema() *jsonschema.Schema { return writeFileSchema }

func (WriteFile) Execute(ctx context.Context, params map[string]jsonvalue.Value, execCtx registry.ExecContext) (registry.Result, error) {
	path, _ := params["path"].String()
	content, _ := params["content"].String()
	full := path
	if execCtx.WorkingDirectory != "" {
		full = execCtx.WorkingDirectory + "/" + path
	}
	if err := writeFile(full, content); err != nil {
		return registry.Result{Success: false, Error: err.Error()}, nil
	}
	return registry.Result{Success: true, Data: jsonvalue.Of(map[string]any{"path": path})}, nil
}

func mustCompile(schemaJSON string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", mustUnmarshal(schemaJSON)); err != nil {
		panic(err)
	}
	s, err := c.Compile("schema.json")
	if err != nil {
		panic(err)
	}
	return s
}
