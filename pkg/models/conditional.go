package models

import (
	"fmt"
	"strconv"
	"strings"
)

// SimpleConditionalInterpreter turns resolved decision conditions into booleans.
// Strings may be boolean literals, "yes"/"no", or a single "a == b" / "a != b"
// comparison of already-resolved operands.
type SimpleConditionalInterpreter struct{}

func (s SimpleConditionalInterpreter) Evaluate(exp any) (bool, error) {
	if exp == nil {
		return false, nil
	}

	switch v := exp.(type) {
	case bool:
		return v, nil
	case string:
		return s.evaluateString(strings.TrimSpace(v))
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case []any:
		return len(v) > 0, nil
	case map[string]any:
		return len(v) > 0, nil
	default:
		return false, fmt.Errorf("cannot convert %T to boolean", exp)
	}
}

func (s SimpleConditionalInterpreter) evaluateString(v string) (bool, error) {
	if v == "" {
		return false, nil
	}

	if left, right, ok := strings.Cut(v, "!="); ok {
		return unquote(left) != unquote(right), nil
	}

	if left, right, ok := strings.Cut(v, "=="); ok {
		return unquote(left) == unquote(right), nil
	}

	switch strings.ToLower(v) {
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off", "null", "none":
		return false, nil
	}

	result, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("cannot convert string %q to boolean: %w", v, err)
	}

	return result, nil
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'') {
		return s[1 : len(s)-1]
	}

	return s
}
