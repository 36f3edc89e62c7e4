package expr

import (
	"encoding/json"
	"fmt"
	"reflect"
)

func (l *literal) eval(map[string]interface{}) (interface{}, error) {
	return l.value, nil
}

func (l *lookup) eval(env map[string]interface{}) (interface{}, error) {
	var current interface{} = env
	for _, key := range l.path {
		m, ok := asMap(current)
		if !ok {
			return nil, nil
		}
		current, ok = m[key]
		if !ok {
			return nil, nil
		}
	}
	return normalize(current), nil
}

func (n *negation) eval(env map[string]interface{}) (interface{}, error) {
	v, err := n.operand.eval(env)
	if err != nil {
		return nil, err
	}
	return !Truthy(v), nil
}

func (l *logical) eval(env map[string]interface{}) (interface{}, error) {
	left, err := l.left.eval(env)
	if err != nil {
		return nil, err
	}
	if l.op == tokAnd && !Truthy(left) {
		return false, nil
	}
	if l.op == tokOr && Truthy(left) {
		return true, nil
	}
	right, err := l.right.eval(env)
	if err != nil {
		return nil, err
	}
	return Truthy(right), nil
}

func (c *comparison) eval(env map[string]interface{}) (interface{}, error) {
	left, err := c.left.eval(env)
	if err != nil {
		return nil, err
	}
	right, err := c.right.eval(env)
	if err != nil {
		return nil, err
	}

	switch c.op {
	case tokEq:
		return equal(left, right), nil
	case tokNeq:
		return !equal(left, right), nil
	}

	if lf, ok := toFloat(left); ok {
		if rf, ok := toFloat(right); ok {
			return order(c.op, compareFloat(lf, rf)), nil
		}
	}
	if ls, ok := left.(string); ok {
		if rs, ok := right.(string); ok {
			return order(c.op, compareString(ls, rs)), nil
		}
	}
	return nil, fmt.Errorf("cannot order %T and %T", left, right)
}

func order(op tokenKind, cmp int) bool {
	switch op {
	case tokLt:
		return cmp < 0
	case tokLte:
		return cmp <= 0
	case tokGt:
		return cmp > 0
	case tokGte:
		return cmp >= 0
	}
	return false
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func equal(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

// Truthy reports the boolean meaning of a value: nil, false, zero, the empty
// string and empty collections are false.
func Truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() > 0
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func normalize(v interface{}) interface{} {
	if n, ok := v.(json.Number); ok {
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return v
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[string]string:
		out := make(map[string]interface{}, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	}
	return nil, false
}
