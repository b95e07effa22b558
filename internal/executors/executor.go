// Package executors implements the per-node-type execution variants and the
// registry the scheduler resolves them through. Executors receive an
// already-interpolated config blob and a frozen context view; they return
// their own output and never mutate scheduler bookkeeping.
package executors

import (
	"context"
	"encoding/json"

	"github.com/okibo/skein/pkg/schema"
)

// Executor is the contract every node-type variant implements. Failures are
// typed EngineErrors (CONFIG_ERROR, DEPENDENCY_MISSING, EXTERNAL_CALL),
// never silent nil outputs.
type Executor interface {
	Type() schema.NodeType
	Execute(ctx context.Context, nodeID string, config json.RawMessage, view *schema.ContextView) (schema.NodeOutput, error)
}

// Registry maps node types to executors. It is populated at startup and
// read-only afterwards, so concurrent lookups need no locking.
type Registry struct {
	byType map[schema.NodeType]Executor
}

func NewRegistry(execs ...Executor) *Registry {
	r := &Registry{byType: make(map[schema.NodeType]Executor, len(execs))}
	for _, e := range execs {
		r.byType[e.Type()] = e
	}
	return r
}

// Get resolves the executor for a node type. Lookup is total: an unknown
// type is a configuration error, not a crash.
func (r *Registry) Get(nt schema.NodeType) (Executor, error) {
	e, ok := r.byType[nt]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "no executor registered for node type %q", nt)
	}
	return e, nil
}

// Types returns the registered node types, for startup logging.
func (r *Registry) Types() []schema.NodeType {
	out := make([]schema.NodeType, 0, len(r.byType))
	for nt := range r.byType {
		out = append(out, nt)
	}
	return out
}
