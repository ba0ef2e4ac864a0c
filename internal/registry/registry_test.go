package registry_test

import (
	"context"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/workflowcore/internal/jsonvalue"
	"goa.design/workflowcore/internal/registry"
)

type stubTool struct{ name string }

func (s stubTool) Name() string                           { return s.name }
func (s stubTool) Description() string                    { return "stub" }
func (s stubTool) ParameterSchema() *jsonschema.Schema     { return nil }
func (s stubTool) Execute(ctx context.Context, params map[string]jsonvalue.Value, execCtx registry.ExecContext) (registry.Result, error) {
	return registry.Result{Success: true}, nil
}

func TestRegisterAndLookup(t *testing.T) {
	t.Parallel()
	reg := registry.NewInMemory()
	require.NoError(t, reg.Register(stubTool{name: "echo"}))

	tool, ok := reg.Lookup("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", tool.Name())

	_, ok = reg.Lookup("missing")
	assert.False(t, ok)
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	t.Parallel()
	reg := registry.NewInMemory()
	require.NoError(t, reg.Register(stubTool{name: "echo"}))
	assert.Error(t, reg.Register(stubTool{name: "echo"}))
}

func TestDescriptorsListsEveryTool(t *testing.T) {
	t.Parallel()
	reg := registry.NewInMemory()
	require.NoError(t, reg.Register(stubTool{name: "a"}))
	require.NoError(t, reg.Register(stubTool{name: "b"}))

	descs := reg.Descriptors()
	names := make([]string, 0, len(descs))
	for _, d := range descs {
		names = append(names, d.Name)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}
