package expressions

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/okibo/skein/pkg/schema"
)

// Interpolator resolves ${{...}} references in node configs against a Scope.
// References are dotted paths into trigger.*, nodes.*, workflow.*, global.*.
type Interpolator struct {
	paths *PathEngine
}

// NewInterpolator creates an Interpolator backed by the given path engine.
func NewInterpolator(paths *PathEngine) *Interpolator {
	return &Interpolator{paths: paths}
}

// HasInterpolation reports whether raw contains a ${{ marker. Cheap check
// used to skip the resolve pass for static configs.
func HasInterpolation(raw []byte) bool {
	return strings.Contains(string(raw), "${{")
}

// Resolve interpolates ${{...}} references in raw JSON config bytes.
// A JSON string consisting solely of one reference ("${{ nodes.a.results }}")
// is replaced by the referenced value with its type preserved; references
// embedded in longer strings are stringified in place.
func (interp *Interpolator) Resolve(raw json.RawMessage, scope *Scope) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "config is not valid JSON: %s", err.Error()).WithCause(err)
	}

	resolved, err := interp.resolveValue(doc, scope)
	if err != nil {
		return nil, err
	}

	out, err := json.Marshal(resolved)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "marshal interpolated config: %s", err.Error()).WithCause(err)
	}
	return out, nil
}

func (interp *Interpolator) resolveValue(v any, scope *Scope) (any, error) {
	switch t := v.(type) {
	case string:
		return interp.resolveString(t, scope)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			r, err := interp.resolveValue(e, scope)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			r, err := interp.resolveValue(e, scope)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolveString handles one string value. Whole-token strings keep the
// referenced value's type; mixed strings concatenate stringified pieces.
func (interp *Interpolator) resolveString(s string, scope *Scope) (any, error) {
	if !strings.Contains(s, "${{") {
		return s, nil
	}

	// Whole-token fast path: "${{ path }}" with nothing around it.
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "${{") && strings.HasSuffix(trimmed, "}}") {
		inner := strings.TrimSpace(trimmed[3 : len(trimmed)-2])
		if inner != "" && !strings.Contains(inner, "${{") && !strings.Contains(inner, "}}") {
			val, ok := interp.paths.Lookup(inner, scope)
			if !ok {
				return nil, schema.NewErrorf(schema.ErrCodeDependencyMissing,
					"unresolvable reference %q", inner)
			}
			return val, nil
		}
	}

	var result strings.Builder
	result.Grow(len(s))
	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], "${{")
		if idx == -1 {
			result.WriteString(s[i:])
			break
		}
		result.WriteString(s[i : i+idx])
		start := i + idx + 3

		end := strings.Index(s[start:], "}}")
		if end == -1 {
			return nil, schema.NewError(schema.ErrCodeConfig, "unclosed ${{ expression")
		}
		end += start

		expr := strings.TrimSpace(s[start:end])
		if strings.Contains(expr, "${{") {
			return nil, schema.NewError(schema.ErrCodeConfig,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		}

		val, ok := interp.paths.Lookup(expr, scope)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeDependencyMissing,
				"unresolvable reference %q", expr)
		}
		result.WriteString(stringify(val))

		i = end + 2
	}
	return result.String(), nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", t)
	}
}
