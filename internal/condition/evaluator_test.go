package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kocayazbey/AyazTrade-sub008/pkg/schema"
)

func TestEvaluate_Equals(t *testing.T) {
	e := NewEvaluator()
	execCtx := map[string]any{"status": "shipped", "amount": float64(150)}

	got, err := e.Evaluate(&schema.Condition{
		Field: "status", Operator: schema.OperatorEquals, Value: "shipped",
	}, execCtx)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = e.Evaluate(&schema.Condition{
		Field: "status", Operator: schema.OperatorEquals, Value: "pending",
	}, execCtx)
	require.NoError(t, err)
	assert.False(t, got)

	// Numeric equality is type-loose: a decoded 150 equals an int 150.
	got, err = e.Evaluate(&schema.Condition{
		Field: "amount", Operator: schema.OperatorEquals, Value: 150,
	}, execCtx)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvaluate_NumericComparison(t *testing.T) {
	e := NewEvaluator()
	execCtx := map[string]any{"amount": float64(150)}

	got, err := e.Evaluate(&schema.Condition{
		Field: "amount", Operator: schema.OperatorGreaterThan, Value: 100,
	}, execCtx)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = e.Evaluate(&schema.Condition{
		Field: "amount", Operator: schema.OperatorLessThan, Value: 100,
	}, execCtx)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestEvaluate_StringComparison(t *testing.T) {
	e := NewEvaluator()
	execCtx := map[string]any{"tier": "gold"}

	got, err := e.Evaluate(&schema.Condition{
		Field: "tier", Operator: schema.OperatorGreaterThan, Value: "bronze",
	}, execCtx)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvaluate_Contains(t *testing.T) {
	e := NewEvaluator()
	execCtx := map[string]any{
		"description": "express shipping requested",
		"tags":        []any{"priority", "fragile"},
	}

	got, err := e.Evaluate(&schema.Condition{
		Field: "description", Operator: schema.OperatorContains, Value: "express",
	}, execCtx)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = e.Evaluate(&schema.Condition{
		Field: "tags", Operator: schema.OperatorContains, Value: "fragile",
	}, execCtx)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = e.Evaluate(&schema.Condition{
		Field: "tags", Operator: schema.OperatorContains, Value: "bulk",
	}, execCtx)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestEvaluate_UndefinedField(t *testing.T) {
	e := NewEvaluator()
	execCtx := map[string]any{"present": 1}

	// Every operator is false against an undefined field except not_equals.
	for _, op := range []schema.ConditionOperator{
		schema.OperatorEquals,
		schema.OperatorGreaterThan,
		schema.OperatorLessThan,
		schema.OperatorContains,
	} {
		got, err := e.Evaluate(&schema.Condition{
			Field: "missing", Operator: op, Value: 1,
		}, execCtx)
		require.NoError(t, err)
		assert.False(t, got, "operator %s", op)
	}

	got, err := e.Evaluate(&schema.Condition{
		Field: "missing", Operator: schema.OperatorNotEquals, Value: 1,
	}, execCtx)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvaluate_DotPath(t *testing.T) {
	e := NewEvaluator()
	execCtx := map[string]any{
		"order": map[string]any{
			"customer": map[string]any{"tier": "gold"},
		},
	}

	got, err := e.Evaluate(&schema.Condition{
		Field: "order.customer.tier", Operator: schema.OperatorEquals, Value: "gold",
	}, execCtx)
	require.NoError(t, err)
	assert.True(t, got)

	// Path through a non-map value is undefined, not an error.
	got, err = e.Evaluate(&schema.Condition{
		Field: "order.customer.tier.level", Operator: schema.OperatorEquals, Value: "x",
	}, execCtx)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestEvaluate_Expression(t *testing.T) {
	e := NewEvaluator()
	execCtx := map[string]any{"amount": float64(150), "vip": true}

	got, err := e.Evaluate(&schema.Condition{
		Expression: "amount > 100 && vip",
	}, execCtx)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = e.Evaluate(&schema.Condition{
		Expression: "amount > 1000",
	}, execCtx)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestEvaluate_ExpressionErrors(t *testing.T) {
	e := NewEvaluator()

	_, err := e.Evaluate(&schema.Condition{Expression: "1 +"}, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	// Non-bool results are rejected.
	_, err = e.Evaluate(&schema.Condition{Expression: "1 + 1"}, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestEvaluate_ExpressionCache(t *testing.T) {
	e := NewEvaluator()
	execCtx := map[string]any{"n": float64(2)}

	for i := 0; i < 3; i++ {
		got, err := e.Evaluate(&schema.Condition{Expression: "n == 2"}, execCtx)
		require.NoError(t, err)
		assert.True(t, got)
	}
	assert.Len(t, e.cache, 1)
}

func TestEvaluate_Invalid(t *testing.T) {
	e := NewEvaluator()

	_, err := e.Evaluate(nil, nil)
	require.Error(t, err)

	_, err = e.Evaluate(&schema.Condition{}, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	_, err = e.Evaluate(&schema.Condition{Field: "x", Operator: "matches", Value: 1},
		map[string]any{"x": 1})
	require.Error(t, err)
}
