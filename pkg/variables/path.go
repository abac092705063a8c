package variables

import (
	"reflect"
	"strconv"
	"strings"
)

// lookupPath walks a dotted path ("email.subject", "items.0.id") through maps,
// slices and structs. Map keys containing dots are matched whole first.
func lookupPath(root map[string]any, path string) (any, bool) {
	if root == nil {
		return nil, false
	}

	if v, ok := root[path]; ok {
		return v, true
	}

	head, rest, found := strings.Cut(path, ".")
	v, ok := root[head]
	if !ok {
		return nil, false
	}

	if !found {
		return v, true
	}

	return walk(v, strings.Split(rest, "."))
}

func walk(v any, parts []string) (any, bool) {
	for _, part := range parts {
		next, ok := step(v, part)
		if !ok {
			return nil, false
		}

		v = next
	}

	return v, true
}

func step(v any, key string) (any, bool) {
	switch c := v.(type) {
	case map[string]any:
		next, ok := c[key]
		return next, ok
	case map[string]string:
		next, ok := c[key]
		return next, ok
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(c) {
			return nil, false
		}

		return c[i], true
	case []string:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(c) {
			return nil, false
		}

		return c[i], true
	}

	return reflectStep(reflect.ValueOf(v), key)
}

func reflectStep(rv reflect.Value, key string) (any, bool) {
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}

		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}

		mv := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if !mv.IsValid() {
			return nil, false
		}

		return mv.Interface(), true
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= rv.Len() {
			return nil, false
		}

		return rv.Index(i).Interface(), true
	case reflect.Struct:
		f := rv.FieldByNameFunc(func(name string) bool { return strings.EqualFold(name, key) })
		if !f.IsValid() || !f.CanInterface() {
			return nil, false
		}

		return f.Interface(), true
	}

	return nil, false
}
