package graph

import (
	"encoding/json"

	"github.com/okibo/skein/pkg/schema"
)

// validNodeTypes is the set of recognized node types.
var validNodeTypes = map[schema.NodeType]bool{
	schema.NodeTypeAPITrigger:     true,
	schema.NodeTypeInput:          true,
	schema.NodeTypeDetection:      true,
	schema.NodeTypeBatchDetection: true,
	schema.NodeTypeVideoDetection: true,
	schema.NodeTypeTraining:       true,
	schema.NodeTypeExport:         true,
	schema.NodeTypeConditional:    true,
	schema.NodeTypeAPIResponse:    true,
	schema.NodeTypeEmail:          true,
	schema.NodeTypeWebhook:        true,
}

// triggerFields mirrors the api_trigger config for field-level checks that
// JSON Schema cannot express (uniqueness).
type triggerFields struct {
	Fields []struct {
		Name     string `json:"name"`
		Type     string `json:"type"`
		Required bool   `json:"required,omitempty"`
	} `json:"fields"`
}

// Validator performs the static structural and config-schema checks on a
// submitted node/edge set. Validation is pure: it never mutates the graph
// and has no side effects.
type Validator struct {
	configs *configSchemas
}

// NewValidator compiles the per-node-type config schemas.
func NewValidator() (*Validator, error) {
	cs, err := compileConfigSchemas()
	if err != nil {
		return nil, err
	}
	return &Validator{configs: cs}, nil
}

// Validate checks the node/edge set against all structural rules:
// unique node IDs, known types, edge endpoints, at most one api_response
// with allow-listed producers, api_trigger field declarations, labeled
// edges only out of conditionals, and per-type config schemas.
// Cycle detection happens in Build.
func (v *Validator) Validate(nodes []schema.Node, edges []schema.Edge) error {
	if len(nodes) == 0 {
		return schema.NewError(schema.ErrCodeGraphValidation, "workflow has no nodes")
	}

	byID := make(map[string]*schema.Node, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		if n.ID == "" {
			return schema.NewErrorf(schema.ErrCodeGraphValidation, "node at index %d has empty ID", i)
		}
		if _, exists := byID[n.ID]; exists {
			return schema.NewErrorf(schema.ErrCodeGraphValidation, "duplicate node ID: %s", n.ID)
		}
		if !validNodeTypes[n.Type] {
			return schema.NewErrorf(schema.ErrCodeGraphValidation, "node %s has unknown type: %s", n.ID, n.Type)
		}
		byID[n.ID] = n
	}

	for _, e := range edges {
		src, ok := byID[e.Source]
		if !ok {
			return schema.NewErrorf(schema.ErrCodeGraphValidation, "edge references non-existent source node: %s", e.Source)
		}
		if _, ok := byID[e.Target]; !ok {
			return schema.NewErrorf(schema.ErrCodeGraphValidation, "edge references non-existent target node: %s", e.Target)
		}
		if e.Source == e.Target {
			return schema.NewErrorf(schema.ErrCodeGraphValidation, "node %s has an edge to itself", e.Source)
		}
		if src.Type == schema.NodeTypeConditional {
			if e.Label != "true" && e.Label != "false" {
				return schema.NewErrorf(schema.ErrCodeGraphValidation,
					"edge %s -> %s leaves a conditional node and must be labeled \"true\" or \"false\"", e.Source, e.Target)
			}
		} else if e.Label != "" {
			return schema.NewErrorf(schema.ErrCodeGraphValidation,
				"edge %s -> %s carries label %q but only conditional nodes emit labeled edges", e.Source, e.Target, e.Label)
		}
	}

	if err := v.checkResponder(byID, edges); err != nil {
		return err
	}

	for _, n := range nodes {
		if n.Type == schema.NodeTypeAPITrigger {
			if err := checkTriggerFields(&n); err != nil {
				return err
			}
		}
		if err := v.configs.validate(&n); err != nil {
			return err
		}
	}

	return nil
}

// checkResponder enforces the api_response rules: at most one instance,
// at least one incoming edge, and every producer type on the allow-list.
func (v *Validator) checkResponder(byID map[string]*schema.Node, edges []schema.Edge) error {
	var responder *schema.Node
	for _, n := range byID {
		if n.Type != schema.NodeTypeAPIResponse {
			continue
		}
		if responder != nil {
			return schema.NewError(schema.ErrCodeGraphValidation,
				"workflow declares more than one api_response node")
		}
		responder = n
	}
	if responder == nil {
		return nil
	}

	incoming := 0
	for _, e := range edges {
		if e.Target != responder.ID {
			continue
		}
		incoming++
		src := byID[e.Source]
		if !schema.ResponderSources[src.Type] {
			return schema.NewErrorf(schema.ErrCodeGraphValidation,
				"api_response node %s cannot consume output from node %s of type %s",
				responder.ID, src.ID, src.Type)
		}
	}
	if incoming == 0 {
		return schema.NewErrorf(schema.ErrCodeGraphValidation,
			"api_response node %s has no incoming edges", responder.ID)
	}
	return nil
}

// checkTriggerFields validates the declared input fields of an api_trigger
// node: unique names and a declared type from the allowed set.
func checkTriggerFields(n *schema.Node) error {
	if len(n.Config) == 0 {
		return nil
	}
	var cfg triggerFields
	if err := json.Unmarshal(n.Config, &cfg); err != nil {
		return schema.NewErrorf(schema.ErrCodeGraphValidation,
			"api_trigger node %s has invalid config: %v", n.ID, err)
	}
	seen := make(map[string]bool, len(cfg.Fields))
	for _, f := range cfg.Fields {
		if f.Name == "" {
			return schema.NewErrorf(schema.ErrCodeGraphValidation,
				"api_trigger node %s declares a field with empty name", n.ID)
		}
		if seen[f.Name] {
			return schema.NewErrorf(schema.ErrCodeGraphValidation,
				"api_trigger node %s declares duplicate field %q", n.ID, f.Name)
		}
		seen[f.Name] = true
		if !schema.TriggerFieldTypes[f.Type] {
			return schema.NewErrorf(schema.ErrCodeGraphValidation,
				"api_trigger node %s field %q has unsupported type %q (want %s)",
				n.ID, f.Name, f.Type, "string|number|boolean|array|object")
		}
	}
	return nil
}
