// Package variables resolves {{name}} placeholders against a layered scope stack,
// computed built-ins and a context object.
package variables

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CredentialNamespace prefixes placeholders owned by the credential injector.
const CredentialNamespace = "credentials."

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

type Option func(*Resolver)

// WithClock replaces time.Now for the date built-ins.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithContext sets the lowest-precedence lookup layer.
func WithContext(ctx map[string]any) Option {
	return func(r *Resolver) { r.context = ctx }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// Resolver looks names up in the scope stack (newest first), then built-ins,
// then the context object. The bottom scope is global and is never popped.
type Resolver struct {
	mu      sync.RWMutex
	scopes  []map[string]any
	context map[string]any
	now     func() time.Time
	logger  *slog.Logger
	warned  map[string]struct{}
}

func New(globals map[string]any, opts ...Option) *Resolver {
	global := make(map[string]any, len(globals))
	maps.Copy(global, globals)

	r := &Resolver{
		scopes: []map[string]any{global},
		now:    time.Now,
		logger: slog.Default(),
		warned: map[string]struct{}{},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *Resolver) PushScope(vars map[string]any) {
	scope := make(map[string]any, len(vars))
	maps.Copy(scope, vars)

	r.mu.Lock()
	r.scopes = append(r.scopes, scope)
	r.mu.Unlock()
}

// PopScope removes the newest scope and returns it. The global scope stays.
func (r *Resolver) PopScope() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.scopes) == 1 {
		return nil
	}

	top := r.scopes[len(r.scopes)-1]
	r.scopes = r.scopes[:len(r.scopes)-1]

	return top
}

func (r *Resolver) Depth() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.scopes)
}

// Set stores a value in the newest scope.
func (r *Resolver) Set(name string, value any) {
	r.mu.Lock()
	r.scopes[len(r.scopes)-1][name] = value
	r.mu.Unlock()
}

// SetGlobal stores a value in the global scope so it outlives loop iterations.
func (r *Resolver) SetGlobal(name string, value any) {
	r.mu.Lock()
	r.scopes[0][name] = value
	r.mu.Unlock()
}

// Globals returns a copy of the global scope.
func (r *Resolver) Globals() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return maps.Clone(r.scopes[0])
}

func (r *Resolver) Lookup(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.scopes) - 1; i >= 0; i-- {
		if v, ok := lookupPath(r.scopes[i], name); ok {
			return v, true
		}
	}

	if fn, ok := builtins[name]; ok {
		return fn(r.now()), true
	}

	return lookupPath(r.context, name)
}

// ResolveString substitutes every placeholder in s. Unknown names are left
// untouched and reported once through the logger.
func (r *Resolver) ResolveString(s string) string {
	if !strings.Contains(s, "{{") {
		return s
	}

	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholderName(match)
		if strings.HasPrefix(name, CredentialNamespace) {
			return match
		}

		v, ok := r.Lookup(name)
		if !ok {
			r.warnUnresolved(name)
			return match
		}

		return Stringify(v)
	})
}

// ResolveValue resolves placeholders recursively through maps and slices.
// A string consisting of exactly one placeholder resolves to the raw value.
func (r *Resolver) ResolveValue(v any) any {
	switch val := v.(type) {
	case string:
		if name, whole := wholePlaceholder(val); whole && !strings.HasPrefix(name, CredentialNamespace) {
			if resolved, ok := r.Lookup(name); ok {
				return resolved
			}

			r.warnUnresolved(name)

			return val
		}

		return r.ResolveString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = r.ResolveValue(item)
		}

		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, item := range val {
			out[k] = r.ResolveString(item)
		}

		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.ResolveValue(item)
		}

		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = r.ResolveString(item)
		}

		return out
	default:
		return v
	}
}

// Unresolved lists placeholder names in s that no layer can satisfy.
func (r *Resolver) Unresolved(s string) []string {
	var names []string

	for _, match := range placeholderPattern.FindAllString(s, -1) {
		name := placeholderName(match)
		if strings.HasPrefix(name, CredentialNamespace) {
			continue
		}

		if _, ok := r.Lookup(name); !ok {
			names = append(names, name)
		}
	}

	return names
}

func (r *Resolver) warnUnresolved(name string) {
	r.mu.Lock()
	_, seen := r.warned[name]
	r.warned[name] = struct{}{}
	r.mu.Unlock()

	if !seen {
		r.logger.Warn("Unresolved variable left in place", "variable", name)
	}
}

// Placeholders returns the names referenced in s, in order of appearance.
func Placeholders(s string) []string {
	matches := placeholderPattern.FindAllString(s, -1)
	names := make([]string, 0, len(matches))

	for _, m := range matches {
		names = append(names, placeholderName(m))
	}

	return names
}

// Stringify renders a resolved value for inclusion in text.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", val)
	case time.Time:
		return val.Format(time.RFC3339)
	case fmt.Stringer:
		return val.String()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}

		return string(b)
	}
}

func placeholderName(match string) string {
	return strings.TrimSpace(match[2 : len(match)-2])
}

func wholePlaceholder(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)

	loc := placeholderPattern.FindStringIndex(trimmed)
	if loc == nil || loc[0] != 0 || loc[1] != len(trimmed) {
		return "", false
	}

	return placeholderName(trimmed), true
}
