package expressions

import (
	"strconv"
	"strings"

	"github.com/itchyny/gojq"

	"github.com/okibo/skein/pkg/schema"
)

// PathEngine resolves dotted variable paths (e.g. "nodes.detect.summary.count",
// "trigger.images.0") against a Scope using gojq. The single getpath query is
// compiled once and reused; paths arrive as bound variables, so user input is
// never parsed as jq source.
type PathEngine struct {
	code *gojq.Code
}

// NewPathEngine compiles the shared getpath query.
func NewPathEngine() (*PathEngine, error) {
	q, err := gojq.Parse("getpath($p)")
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "parse path query: %s", err.Error()).WithCause(err)
	}
	code, err := gojq.Compile(q, gojq.WithVariables([]string{"$p"}))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "compile path query: %s", err.Error()).WithCause(err)
	}
	return &PathEngine{code: code}, nil
}

// Lookup resolves a dotted path against the scope. The second return is
// false when the path is empty, escapes the known namespaces, or resolves
// to nothing — a missing variable is a normal outcome, not an error.
func (e *PathEngine) Lookup(path string, scope *Scope) (any, bool) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return nil, false
	}

	iter := e.code.Run(scope.root(), segs)
	val, ok := iter.Next()
	if !ok {
		return nil, false
	}
	if _, isErr := val.(error); isErr {
		// Path shape incompatible with the data (e.g. indexing a scalar).
		return nil, false
	}
	if val == nil {
		return nil, false
	}
	return val, true
}

// splitPath converts "nodes.detect.predictions.0" into a getpath argument,
// turning purely numeric segments into array indices.
func splitPath(path string) []any {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	parts := strings.Split(path, ".")
	segs := make([]any, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			return nil
		}
		if n, err := strconv.Atoi(p); err == nil {
			segs = append(segs, n)
			continue
		}
		segs = append(segs, p)
	}
	return segs
}
