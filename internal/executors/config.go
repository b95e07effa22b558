package executors

import (
	"encoding/json"
	"strconv"

	"github.com/okibo/skein/pkg/schema"
)

// decodeConfig unmarshals a node's config blob into the executor's typed
// struct. An absent blob decodes as the zero value.
func decodeConfig(nodeID string, raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return schema.NewErrorf(schema.ErrCodeConfig, "invalid config: %v", err).
			WithNode(nodeID).WithCause(err)
	}
	return nil
}

// flexFloat accepts a JSON number or a numeric string. Interpolated
// references can surface either form.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// flexInt accepts a JSON integer or a numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var ff flexFloat
	if err := ff.UnmarshalJSON(b); err != nil {
		return err
	}
	*f = flexInt(ff)
	return nil
}

// asList normalizes a payload field to a slice, treating nil as empty.
func asList(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case nil:
		return nil
	default:
		return []any{t}
	}
}

// asStrings coerces a list-valued field to strings, dropping non-strings.
func asStrings(v any) []string {
	var out []string
	for _, e := range asList(v) {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
