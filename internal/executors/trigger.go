package executors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/okibo/skein/pkg/schema"
)

// TriggerExecutor validates the run's trigger payload against the field set
// declared on the api_trigger node. A graph without declared fields accepts
// any payload. Compiled field schemas are cached per declared set, so
// repeated runs of the same workflow never recompile.
type TriggerExecutor struct {
	mu    sync.Mutex
	cache map[string]*jsonschema.Schema
}

func NewTriggerExecutor() *TriggerExecutor {
	return &TriggerExecutor{cache: make(map[string]*jsonschema.Schema)}
}

func (e *TriggerExecutor) Type() schema.NodeType { return schema.NodeTypeAPITrigger }

type triggerConfig struct {
	Fields []triggerField `json:"fields"`
}

type triggerField struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

func (e *TriggerExecutor) Execute(_ context.Context, nodeID string, config json.RawMessage, view *schema.ContextView) (schema.NodeOutput, error) {
	var cfg triggerConfig
	if err := decodeConfig(nodeID, config, &cfg); err != nil {
		return nil, err
	}

	if len(cfg.Fields) > 0 {
		compiled, err := e.schemaFor(nodeID, cfg.Fields)
		if err != nil {
			return nil, err
		}
		payload := view.TriggerData
		if payload == nil {
			payload = map[string]any{}
		}
		if err := compiled.Validate(normalizeForSchema(payload)); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeConfig,
				"trigger payload rejected: %v", err).WithNode(nodeID).WithCause(err)
		}
	}

	return schema.SuccessOutput(map[string]any{
		"fields_validated": len(cfg.Fields),
		"trigger":          view.TriggerData,
	}), nil
}

// schemaFor returns the compiled schema for a declared field set, compiling
// at most once per distinct set.
func (e *TriggerExecutor) schemaFor(nodeID string, fields []triggerField) (*jsonschema.Schema, error) {
	key, err := json.Marshal(fields)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig,
			"marshal trigger fields: %v", err).WithNode(nodeID).WithCause(err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if compiled, ok := e.cache[string(key)]; ok {
		return compiled, nil
	}
	compiled, err := compileTriggerSchema(nodeID, fields)
	if err != nil {
		return nil, err
	}
	e.cache[string(key)] = compiled
	return compiled, nil
}

// compileTriggerSchema builds a JSON Schema document from the declared
// fields. Declared types map straight onto JSON Schema type names, with
// "number" widened to accept integers.
func compileTriggerSchema(nodeID string, fields []triggerField) (*jsonschema.Schema, error) {
	props := make(map[string]any, len(fields))
	var required []any
	for _, f := range fields {
		var typ any = f.Type
		if f.Type == "number" {
			typ = []any{"number", "integer"}
		}
		props[f.Name] = map[string]any{"type": typ}
		if f.Required {
			required = append(required, f.Name)
		}
	}
	doc := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		doc["required"] = required
	}

	url := fmt.Sprintf("skein://trigger/%s.json", nodeID)
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig,
			"build trigger schema: %v", err).WithNode(nodeID).WithCause(err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig,
			"compile trigger schema: %v", err).WithNode(nodeID).WithCause(err)
	}
	return compiled, nil
}

// normalizeForSchema round-trips the payload through JSON so the validator
// sees canonical types regardless of how the trigger map was built.
func normalizeForSchema(payload map[string]any) any {
	b, err := json.Marshal(payload)
	if err != nil {
		return payload
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return payload
	}
	return doc
}
