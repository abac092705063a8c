package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/dukex/aef/pkg/models"
	"github.com/dukex/aef/pkg/persistence"
)

var (
	ErrCredentialMissing = errors.New("required credential is missing")
	ErrFieldMissing      = errors.New("credential field is missing")
)

const redacted = "***"

var credentialPattern = regexp.MustCompile(`\{\{\s*credentials\.([A-Za-z0-9_\-]+)\.([A-Za-z0-9_\-]+)\s*\}\}`)

// Source yields decrypted secrets; *Store is the production implementation.
type Source interface {
	Get(ctx context.Context, service string) (*Secret, error)
}

// Injection is an action with secrets substituted. Release must be called
// right after the action ran.
//
// Wiping is best-effort: the decrypted []byte buffers are zeroed, but the
// injected action and the driver command carry Go strings, which cannot be
// cleared. Release drops every reference it holds to them so they become
// garbage; copies made by the caller (request bodies, logs) are not covered.
type Injection struct {
	Action  models.Action
	secrets []*Secret
	values  []string
}

// Release zeroes the decrypted buffers and forgets the injected action.
func (in *Injection) Release() {
	for _, s := range in.secrets {
		s.Wipe()
	}

	in.Action = models.Action{}
	in.secrets = nil
	in.values = nil
}

// Redact masks every injected value found in s, e.g. in driver error messages.
func (in *Injection) Redact(s string) string {
	for _, v := range in.values {
		if v != "" {
			s = strings.ReplaceAll(s, v, redacted)
		}
	}

	return s
}

type Injector struct {
	source Source
	logger *slog.Logger
}

func NewInjector(source Source, logger *slog.Logger) *Injector {
	return &Injector{source: source, logger: logger}
}

// Inject substitutes {{credentials.<service>.<field>}} placeholders in the
// action's strings and fills data.text from credentialField ("service.field").
// required lists services the node declares; a missing required service fails.
func (i *Injector) Inject(ctx context.Context, action models.Action, required map[string][]string) (*Injection, error) {
	refs := references(action)
	if len(refs) == 0 {
		return &Injection{Action: action}, nil
	}

	injection := &Injection{}
	secrets := map[string]*Secret{}

	for _, service := range sortedKeys(refs) {
		if i.source == nil {
			injection.Release()
			return nil, fmt.Errorf("%w: %s (no credential store configured)", ErrCredentialMissing, service)
		}

		secret, err := i.source.Get(ctx, service)
		if err != nil {
			injection.Release()

			if persistence.IsCredentialNotFound(err) {
				if _, declared := required[service]; declared || len(required) == 0 {
					return nil, fmt.Errorf("%w: %s", ErrCredentialMissing, service)
				}

				return nil, fmt.Errorf("%w: %s (not declared by node)", ErrCredentialMissing, service)
			}

			return nil, fmt.Errorf("failed to load credential %s: %w", service, err)
		}

		secrets[service] = secret
		injection.secrets = append(injection.secrets, secret)
	}

	var missing error

	lookup := func(service, field string) string {
		v, ok := secrets[service].Field(field)
		if !ok {
			missing = fmt.Errorf("%w: %s.%s", ErrFieldMissing, service, field)
			return ""
		}

		injection.values = append(injection.values, v)

		return v
	}

	out := copyAction(action)
	replace := func(s string) string {
		return credentialPattern.ReplaceAllStringFunc(s, func(m string) string {
			parts := credentialPattern.FindStringSubmatch(m)
			return lookup(parts[1], parts[2])
		})
	}

	out.Instruction = replace(out.Instruction)
	if out.Target != nil {
		out.Target.Selector = replace(out.Target.Selector)
		out.Target.URL = replace(out.Target.URL)
	}

	out.Data = replaceData(out.Data, replace)

	if out.CredentialField != "" {
		service, field, _ := strings.Cut(out.CredentialField, ".")
		if out.Data == nil {
			out.Data = map[string]any{}
		}

		out.Data["text"] = lookup(service, field)
	}

	if missing != nil {
		injection.Release()
		return nil, missing
	}

	injection.Action = out

	i.logger.DebugContext(ctx, "Injected credentials", "services", sortedKeys(refs), "action", action.Type)

	return injection, nil
}

// references returns services referenced by the action.
func references(action models.Action) map[string]struct{} {
	refs := map[string]struct{}{}

	collect := func(s string) {
		for _, m := range credentialPattern.FindAllStringSubmatch(s, -1) {
			refs[m[1]] = struct{}{}
		}
	}

	collect(action.Instruction)

	if action.Target != nil {
		collect(action.Target.Selector)
		collect(action.Target.URL)
	}

	walkStrings(action.Data, collect)

	if action.CredentialField != "" {
		service, _, _ := strings.Cut(action.CredentialField, ".")
		refs[service] = struct{}{}
	}

	return refs
}

func walkStrings(v any, fn func(string)) {
	switch val := v.(type) {
	case string:
		fn(val)
	case map[string]any:
		for _, item := range val {
			walkStrings(item, fn)
		}
	case []any:
		for _, item := range val {
			walkStrings(item, fn)
		}
	}
}

func replaceData(data map[string]any, replace func(string) string) map[string]any {
	if data == nil {
		return nil
	}

	out, _ := replaceValue(data, replace).(map[string]any)

	return out
}

func replaceValue(v any, replace func(string) string) any {
	switch val := v.(type) {
	case string:
		return replace(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = replaceValue(item, replace)
		}

		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = replaceValue(item, replace)
		}

		return out
	default:
		return v
	}
}

func copyAction(a models.Action) models.Action {
	out := a
	if a.Target != nil {
		target := *a.Target
		out.Target = &target
	}

	return out
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
