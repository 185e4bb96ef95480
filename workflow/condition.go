package workflow

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/BaSui01/agentweave/types"
)

// ConditionOp is the operator of a parsed condition.
type ConditionOp string

const (
	// OpTruthy tests the truthiness of a single path.
	OpTruthy  ConditionOp = "truthy"
	OpGreater ConditionOp = ">"
	OpLess    ConditionOp = "<"
	OpEqual   ConditionOp = "=="
)

// Operators are tried in this order and the expression is split on the
// first occurrence of the first one present.
var conditionOperators = []ConditionOp{OpGreater, OpLess, OpEqual}

// Condition is a parsed branch condition. Both operands are dotted paths
// into the evaluated data; literals are not recognised, so "x > 3" looks up
// a key literally named "3".
type Condition struct {
	Raw   string
	Op    ConditionOp
	Left  string
	Right string
}

// ParseCondition splits expr into operator and operand paths. It never fails.
func ParseCondition(expr string) Condition {
	for _, op := range conditionOperators {
		if idx := strings.Index(expr, string(op)); idx >= 0 {
			return Condition{
				Raw:   expr,
				Op:    op,
				Left:  strings.TrimSpace(expr[:idx]),
				Right: strings.TrimSpace(expr[idx+len(op):]),
			}
		}
	}
	return Condition{Raw: expr, Op: OpTruthy, Left: expr}
}

// Evaluate applies the condition to data. An empty condition is true. A
// comparison whose operand path does not resolve is false and reports a
// CONDITION_EVALUATION_ERROR; callers treat any error as false.
func (c Condition) Evaluate(data any) (ok bool, err error) {
	if c.Raw == "" {
		return true, nil
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = types.NewError(types.ErrConditionEvaluation, fmt.Sprintf("condition %q panicked: %v", c.Raw, r))
		}
	}()

	data = normalizeData(data)

	if c.Op == OpTruthy {
		v, found := lookupPath(data, c.Left)
		return found && truthy(v), nil
	}

	left, lok := lookupPath(data, c.Left)
	right, rok := lookupPath(data, c.Right)
	if !lok || !rok {
		missing := c.Left
		if lok {
			missing = c.Right
		}
		return false, types.NewError(types.ErrConditionEvaluation,
			fmt.Sprintf("condition %q: path %q did not resolve", c.Raw, missing))
	}

	switch c.Op {
	case OpGreater:
		return compareOrdered(left, right, func(cmp int) bool { return cmp > 0 }), nil
	case OpLess:
		return compareOrdered(left, right, func(cmp int) bool { return cmp < 0 }), nil
	case OpEqual:
		return looseEqual(left, right), nil
	}
	return false, types.NewError(types.ErrConditionEvaluation, fmt.Sprintf("unknown operator %q", c.Op))
}

// EvaluateCondition parses and evaluates expr, treating any failure as false.
func EvaluateCondition(expr string, data any) bool {
	ok, err := ParseCondition(expr).Evaluate(data)
	return err == nil && ok
}

// normalizeData converts typed values (structs, typed maps) to the generic
// shape produced by encoding/json so path lookups see plain maps and slices.
func normalizeData(data any) any {
	switch data.(type) {
	case nil, map[string]any, []any, string, bool, float64, int, int64, json.Number:
		return data
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return data
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return data
	}
	return out
}

// lookupPath walks a dotted path through maps and slices. The second return
// is false when any segment is missing.
func lookupPath(data any, path string) (any, bool) {
	current := data
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			current = v
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	}
	if f, ok := numericValue(v); ok {
		return f != 0 && !math.IsNaN(f)
	}
	return true
}

// compareOrdered compares strings lexically and everything else numerically.
// Any NaN operand makes the comparison false.
func compareOrdered(left, right any, accept func(int) bool) bool {
	ls, lIsStr := left.(string)
	rs, rIsStr := right.(string)
	if lIsStr && rIsStr {
		return accept(strings.Compare(ls, rs))
	}
	lf, rf := toNumber(left), toNumber(right)
	if math.IsNaN(lf) || math.IsNaN(rf) {
		return false
	}
	switch {
	case lf > rf:
		return accept(1)
	case lf < rf:
		return accept(-1)
	}
	return accept(0)
}

// looseEqual mirrors dynamic-language equality: nil only equals nil,
// numbers and numeric strings compare by value, booleans coerce to 0/1.
func looseEqual(left, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	lf, lNum := numericValue(left)
	rf, rNum := numericValue(right)
	ls, lStr := left.(string)
	rs, rStr := right.(string)
	lb, lBool := left.(bool)
	rb, rBool := right.(bool)

	switch {
	case lNum && rNum:
		return lf == rf
	case lStr && rStr:
		return ls == rs
	case lBool && rBool:
		return lb == rb
	case lBool:
		return looseEqual(boolNumber(lb), right)
	case rBool:
		return looseEqual(left, boolNumber(rb))
	case lNum && rStr:
		return lf == toNumber(rs)
	case lStr && rNum:
		return toNumber(ls) == rf
	}
	return false
}

func boolNumber(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func numericValue(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return math.NaN(), true
		}
		return f, true
	}
	return 0, false
}

// toNumber coerces a value to float64, yielding NaN where no coercion exists.
func toNumber(v any) float64 {
	if f, ok := numericValue(v); ok {
		return f
	}
	switch val := v.(type) {
	case nil:
		return 0
	case bool:
		return boolNumber(val)
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	}
	return math.NaN()
}
