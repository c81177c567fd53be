package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"
)

func TestAll_EmptyIsVacuouslyTrue(t *testing.T) {
	f := Assert(All(map[string]any{"status": "Ready"}), nil, nil)
	assert.Nil(t, f)
}

func TestOne_EmptyIsFalse(t *testing.T) {
	f := Assert(One(map[string]any{"status": "Ready"}), nil, nil)
	require.NotNil(t, f)
}

func TestNot_SizeZero_OnSingleElement(t *testing.T) {
	f := Assert(Not(Size(0)), []any{map[string]any{"a": float64(1)}}, nil)
	assert.Nil(t, f)
}

func TestAnd_ComplexSuccess(t *testing.T) {
	values := []any{
		map[string]any{"status": "Ready"},
		map[string]any{"status": "NotReady"},
	}
	e := And(
		Size(2),
		One(map[string]any{"status": "Ready"}),
		One(map[string]any{"status": "NotReady"}),
	)
	assert.Nil(t, Assert(e, values, nil))
}

func TestSize_FailureDiagnosticCarriesObservedCount(t *testing.T) {
	f := Assert(Size(3), []any{map[string]any{}}, nil)
	require.NotNil(t, f)
	assert.Equal(t, []any{1}, f.Values)
	assert.Equal(t, "size == 3", f.Expr)
}

func TestOr_FailureCarriesFullValuesAndOuterExpr(t *testing.T) {
	values := []any{map[string]any{"status": "Failed"}}
	e := Or(One(map[string]any{"status": "Ready"}), One(map[string]any{"status": "NotReady"}))
	f := Assert(e, values, nil)
	require.NotNil(t, f)
	assert.Equal(t, values, f.Values)
	assert.Equal(t, `OR(ANY({"status":"Ready"}), ANY({"status":"NotReady"}))`, f.Expr)
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, "size == 1", Size(1).Display())
	assert.Equal(t, `ANY({"status":"Running"})`, One(map[string]any{"status": "Running"}).Display())
	assert.Equal(t, `ALL({"status":"Running"})`, All(map[string]any{"status": "Running"}).Display())
	assert.Equal(t, "NOT(size == 0)", Not(Size(0)).Display())
}

func TestUnmarshalYAML_UntaggedVariants(t *testing.T) {
	var e Expr
	require.NoError(t, yaml.Unmarshal([]byte(`one: {status: {phase: Running}}`), &e))
	assert.Equal(t, kindOne, e.kind)

	var e2 Expr
	require.NoError(t, yaml.Unmarshal([]byte(`
and:
  - size: 2
  - one: {status: Ready}
`), &e2))
	assert.Equal(t, kindAnd, e2.kind)
	assert.Len(t, e2.and, 2)
}

func TestUnmarshalYAML_RejectsObjectWithoutVariantKey(t *testing.T) {
	var e Expr
	err := yaml.Unmarshal([]byte(`{}`), &e)
	assert.Error(t, err)
}
