package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentweave/types"
)

func TestParseCondition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		expr  string
		op    ConditionOp
		left  string
		right string
	}{
		{"a > b", OpGreater, "a", "b"},
		{"a<b", OpLess, "a", "b"},
		{" score.value ==  limit ", OpEqual, "score.value", "limit"},
		{"a > b == c", OpGreater, "a", "b == c"},
		{"a == b > c", OpGreater, "a == b", "c"},
		{"a >= b", OpGreater, "a", "= b"},
		{"ready", OpTruthy, "ready", ""},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			c := ParseCondition(tt.expr)
			assert.Equal(t, tt.op, c.Op)
			assert.Equal(t, tt.left, c.Left)
			assert.Equal(t, tt.right, c.Right)
			assert.Equal(t, tt.expr, c.Raw)
		})
	}
}

func TestEvaluateCondition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		expr string
		data any
		want bool
	}{
		{"empty is true", "", nil, true},
		{"greater true", "a > b", map[string]any{"a": 5, "b": 3}, true},
		{"greater false", "a > b", map[string]any{"a": 3, "b": 5}, false},
		{"greater equal values", "a > b", map[string]any{"a": 4, "b": 4}, false},
		{"less true", "a < b", map[string]any{"a": 1.5, "b": 2}, true},
		{"equal numbers", "a == b", map[string]any{"a": 2, "b": 2.0}, true},
		{"equal numeric string", "a == b", map[string]any{"a": "7", "b": 7}, true},
		{"equal strings", "a == b", map[string]any{"a": "x", "b": "x"}, true},
		{"unequal strings", "a == b", map[string]any{"a": "x", "b": "y"}, false},
		{"equal nulls", "a == b", map[string]any{"a": nil, "b": nil}, true},
		{"null vs zero", "a == b", map[string]any{"a": nil, "b": 0}, false},
		{"bool vs number", "a == b", map[string]any{"a": true, "b": 1}, true},
		{"both unresolved equality", "a == b", map[string]any{}, false},
		{"numeric literal is a path", "x > 3", map[string]any{"x": 5}, false},
		{"numeric key resolves", "x > 3", map[string]any{"x": 5, "3": 1}, true},
		{"strings compare lexically", "a > b", map[string]any{"a": "b", "b": "a"}, true},
		{"non numeric string vs number", "a > b", map[string]any{"a": "abc", "b": 1}, false},
		{"numeric string vs number", "a > b", map[string]any{"a": "10", "b": 9}, true},
		{"nested paths", "user.age > rules.min", map[string]any{
			"user":  map[string]any{"age": 30},
			"rules": map[string]any{"min": 18},
		}, true},
		{"array index", "items.0 == first", map[string]any{
			"items": []any{"a", "b"},
			"first": "a",
		}, true},
		{"array index out of range", "items.5 == first", map[string]any{
			"items": []any{"a"},
			"first": "a",
		}, false},
		{"greater-equal is not supported", "a >= b", map[string]any{"a": 5, "b": 3}, false},
		{"truthy true", "ready", map[string]any{"ready": true}, true},
		{"truthy zero", "count", map[string]any{"count": 0}, false},
		{"truthy non empty string", "name", map[string]any{"name": "x"}, true},
		{"truthy empty string", "name", map[string]any{"name": ""}, false},
		{"truthy empty object", "meta", map[string]any{"meta": map[string]any{}}, true},
		{"truthy missing", "ready", map[string]any{}, false},
		{"truthy untrimmed path", " ready", map[string]any{"ready": true}, false},
		{"scalar data", "a > b", "hello", false},
		{"nil data", "a == b", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EvaluateCondition(tt.expr, tt.data))
		})
	}
}

func TestCondition_TypedDataIsNormalized(t *testing.T) {
	t.Parallel()

	type scores struct {
		A int `json:"a"`
		B int `json:"b"`
	}
	assert.True(t, EvaluateCondition("a > b", scores{A: 9, B: 2}))
	assert.True(t, EvaluateCondition("a > b", map[string]int{"a": 9, "b": 2}))
	assert.False(t, EvaluateCondition("a > b", &scores{A: 1, B: 2}))
}

func TestCondition_UnresolvedReportsError(t *testing.T) {
	t.Parallel()

	ok, err := ParseCondition("a > missing").Evaluate(map[string]any{"a": 1})
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrConditionEvaluation))
	assert.Contains(t, err.Error(), "missing")
}

func TestCondition_UnmarshalableDataIsFalse(t *testing.T) {
	t.Parallel()

	data := map[string]any{"fn": func() {}}
	assert.False(t, EvaluateCondition("fn == fn", data))
	assert.False(t, EvaluateCondition("a > b", make(chan int)))
}
