package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/workflowcore/internal/jsonvalue"
)

func scopeWith(stepOutputs map[string]jsonvalue.Value) Scope {
	return Scope{StepOutputs: stepOutputs, UserInput: map[string]jsonvalue.Value{}}
}

func TestEvalComparisons(t *testing.T) {
	t.Parallel()
	cases := []struct {
		expr string
		want bool
	}{
		{"1 == 1", true},
		{"1 != 2", true},
		{"2 > 1", true},
		{"1 >= 1", true},
		{"'a' == 'a'", true},
		{"'a' != 'b'", true},
		{"true && true", true},
		{"true && false", false},
		{"false || true", true},
		{"!false", true},
		{"(1 == 1) && (2 == 2)", true},
	}
	for _, c := range cases {
		v, err := Eval(c.expr, scopeWith(nil))
		require.NoError(t, err, c.expr)
		assert.Equal(t, c.want, Truthy(v), c.expr)
	}
}

func TestEvalStepOutputsLookup(t *testing.T) {
	t.Parallel()
	scope := scopeWith(map[string]jsonvalue.Value{
		"build": jsonvalue.Object(map[string]any{"success": true}),
	})
	v, err := Eval("stepOutputs.build.success == true", scope)
	require.NoError(t, err)
	assert.True(t, Truthy(v))
}

func TestEvalMissingIdentifierIsNullNotError(t *testing.T) {
	t.Parallel()
	v, err := Eval("stepOutputs.missing.field", scopeWith(nil))
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestEvalArrayIndexing(t *testing.T) {
	t.Parallel()
	scope := Scope{Files: []jsonvalue.Value{jsonvalue.Of("a.go"), jsonvalue.Of("b.go")}}
	v, err := Eval("files[1]", scope)
	require.NoError(t, err)
	s, ok := v.String()
	require.True(t, ok)
	assert.Equal(t, "b.go", s)
}

func TestEvalRejectsTrailingInput(t *testing.T) {
	t.Parallel()
	_, err := Eval("true true", scopeWith(nil))
	assert.Error(t, err)
}

func TestEvalRejectsUnterminatedParen(t *testing.T) {
	t.Parallel()
	_, err := Eval("(true", scopeWith(nil))
	assert.Error(t, err)
}

func TestTruthyCoercion(t *testing.T) {
	t.Parallel()
	assert.False(t, Truthy(jsonvalue.Null()))
	assert.False(t, Truthy(jsonvalue.Of("")))
	assert.True(t, Truthy(jsonvalue.Of("x")))
	assert.False(t, Truthy(jsonvalue.Of(0.0)))
	assert.True(t, Truthy(jsonvalue.Of(1.0)))
}
