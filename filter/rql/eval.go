package rql

import (
	"fmt"
	"strings"
)

// Evaluate applies the expression to a field tree, typically the decoded
// signal value merged with pre-fetched extra fields. Missing fields make
// comparison conditions false rather than erroring, matching the fail-closed
// filter semantics.
func (n *Node) Evaluate(fields map[string]any) (bool, error) {
	switch n.Op {
	case OpAnd:
		for _, arg := range n.Args {
			ok, err := arg.Evaluate(fields)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case OpOr:
		for _, arg := range n.Args {
			ok, err := arg.Evaluate(fields)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case OpNot:
		ok, err := n.Args[0].Evaluate(fields)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case OpExists:
		_, exists := lookup(fields, n.Field)
		return exists, nil
	case OpEq, OpNe, OpGt, OpGe, OpLt, OpLe, OpLike, OpIn:
		return n.evaluateComparison(fields)
	default:
		return false, fmt.Errorf("rql: unknown operator %q", n.Op)
	}
}

func (n *Node) evaluateComparison(fields map[string]any) (bool, error) {
	actual, exists := lookup(fields, n.Field)
	if !exists {
		// ne over a missing field is true: the field provably differs.
		return n.Op == OpNe, nil
	}

	switch n.Op {
	case OpEq:
		return equal(actual, n.Value), nil
	case OpNe:
		return !equal(actual, n.Value), nil
	case OpGt, OpGe, OpLt, OpLe:
		return order(n.Op, actual, n.Value)
	case OpLike:
		pattern, ok := n.Value.(string)
		if !ok {
			return false, fmt.Errorf("rql: like needs a string pattern")
		}
		s, ok := actual.(string)
		if !ok {
			return false, nil
		}
		return globMatch(pattern, s), nil
	case OpIn:
		values, ok := n.Value.([]any)
		if !ok {
			return false, fmt.Errorf("rql: in needs a value list")
		}
		for _, candidate := range values {
			if equal(actual, candidate) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("rql: unknown comparison %q", n.Op)
	}
}

// lookup navigates a slash-separated path through nested maps.
func lookup(fields map[string]any, path string) (any, bool) {
	current := any(fields)
	for _, segment := range strings.Split(path, "/") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func equal(actual, expected any) bool {
	if af, aok := toFloat(actual); aok {
		if ef, eok := toFloat(expected); eok {
			return af == ef
		}
		return false
	}
	return actual == expected
}

func order(op string, actual, expected any) (bool, error) {
	af, aok := toFloat(actual)
	ef, eok := toFloat(expected)
	if aok && eok {
		switch op {
		case OpGt:
			return af > ef, nil
		case OpGe:
			return af >= ef, nil
		case OpLt:
			return af < ef, nil
		case OpLe:
			return af <= ef, nil
		}
	}

	as, aok := actual.(string)
	es, eok := expected.(string)
	if aok && eok {
		switch op {
		case OpGt:
			return as > es, nil
		case OpGe:
			return as >= es, nil
		case OpLt:
			return as < es, nil
		case OpLe:
			return as <= es, nil
		}
	}

	// Incomparable types never match.
	return false, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// globMatch matches s against pattern where '*' matches any run of
// characters.
func globMatch(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}

	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]

	last := parts[len(parts)-1]
	middle := parts[1 : len(parts)-1]

	for _, part := range middle {
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}

	return strings.HasSuffix(s, last)
}
