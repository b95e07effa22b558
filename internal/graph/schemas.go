package graph

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/okibo/skein/pkg/schema"
)

// Per-node-type config schemas, JSON Schema Draft 2020-12. Embedded as
// constants to avoid filesystem dependencies. Numeric fields also accept
// strings so that ${{ }} references survive submission-time validation;
// executors re-check types after interpolation.
var nodeConfigSchemas = map[schema.NodeType]string{
	schema.NodeTypeAPITrigger: `{
	  "type": "object",
	  "properties": {
	    "fields": {
	      "type": "array",
	      "items": {
	        "type": "object",
	        "required": ["name", "type"],
	        "properties": {
	          "name": {"type": "string", "minLength": 1},
	          "type": {"type": "string", "enum": ["string", "number", "boolean", "array", "object"]},
	          "required": {"type": "boolean"}
	        }
	      }
	    }
	  }
	}`,

	schema.NodeTypeInput: `{
	  "type": "object",
	  "required": ["mode"],
	  "properties": {
	    "mode": {"type": "string", "enum": ["single", "batch", "folder_images", "folder_videos", "rtsp", "webcam"]},
	    "source": {"type": "string"},
	    "sources": {"type": "array", "items": {"type": "string"}},
	    "folder": {"type": "string"},
	    "extensions": {"type": "array", "items": {"type": "string"}},
	    "recursive": {"type": "boolean"},
	    "device": {"type": ["integer", "string"]}
	  }
	}`,

	schema.NodeTypeDetection: `{
	  "type": "object",
	  "required": ["model_id"],
	  "properties": {
	    "model_id": {"type": "string", "minLength": 1},
	    "source": {"type": "string"},
	    "confidence": {"type": ["number", "string"]},
	    "max_detections": {"type": ["integer", "string"]}
	  }
	}`,

	schema.NodeTypeBatchDetection: `{
	  "type": "object",
	  "required": ["model_id"],
	  "properties": {
	    "model_id": {"type": "string", "minLength": 1},
	    "sources": {"type": ["array", "string"]},
	    "confidence": {"type": ["number", "string"]},
	    "batch_size": {"type": ["integer", "string"]}
	  }
	}`,

	schema.NodeTypeVideoDetection: `{
	  "type": "object",
	  "required": ["model_id"],
	  "properties": {
	    "model_id": {"type": "string", "minLength": 1},
	    "source": {"type": "string"},
	    "frame_rate": {"type": ["number", "string"]},
	    "max_frames": {"type": ["integer", "string"]},
	    "confidence": {"type": ["number", "string"]}
	  }
	}`,

	schema.NodeTypeTraining: `{
	  "type": "object",
	  "required": ["dataset_id"],
	  "properties": {
	    "dataset_id": {"type": "string", "minLength": 1},
	    "model_type": {"type": "string"},
	    "base_model_id": {"type": "string"},
	    "epochs": {"type": ["integer", "string"]}
	  }
	}`,

	schema.NodeTypeExport: `{
	  "type": "object",
	  "properties": {
	    "format": {"type": "string", "enum": ["json", "csv"]},
	    "destination": {"type": "string"}
	  }
	}`,

	schema.NodeTypeConditional: `{
	  "type": "object",
	  "required": ["conditions"],
	  "properties": {
	    "conditions": {
	      "type": "array",
	      "minItems": 1,
	      "items": {
	        "type": "object",
	        "required": ["variable", "operator"],
	        "properties": {
	          "variable": {"type": "string", "minLength": 1},
	          "operator": {"type": "string", "enum": [
	            "equals", "not_equals",
	            "greater_than", "greater_or_equal",
	            "less_than", "less_or_equal",
	            "contains", "not_contains"
	          ]},
	          "value": {}
	        }
	      }
	    }
	  }
	}`,

	schema.NodeTypeAPIResponse: `{
	  "type": "object",
	  "properties": {
	    "error_handling": {"type": "string", "enum": ["fail_on_any", "partial_results"]},
	    "response_mode": {"type": "string", "enum": ["array", "merged"]},
	    "max_images": {"type": ["integer", "string"]}
	  }
	}`,

	schema.NodeTypeEmail: `{
	  "type": "object",
	  "required": ["recipients"],
	  "properties": {
	    "recipients": {"type": "array", "minItems": 1, "items": {"type": "string"}},
	    "subject": {"type": "string"},
	    "body": {"type": "string"},
	    "attachments": {"type": "array", "items": {"type": "string"}}
	  }
	}`,

	schema.NodeTypeWebhook: `{
	  "type": "object",
	  "required": ["url"],
	  "properties": {
	    "url": {"type": "string", "minLength": 1},
	    "method": {"type": "string", "enum": ["POST", "PUT", "PATCH"]},
	    "headers": {"type": "object", "additionalProperties": {"type": "string"}},
	    "custom_payload": {"type": "object"},
	    "include_context": {"type": "boolean"},
	    "max_retries": {"type": ["integer", "string"]},
	    "backoff_factor": {"type": ["number", "string"]}
	  }
	}`,
}

// configSchemas holds the compiled per-type schemas; compiled once at
// startup, read-only afterwards and safe for concurrent use.
type configSchemas struct {
	byType map[schema.NodeType]*jsonschema.Schema
}

func compileConfigSchemas() (*configSchemas, error) {
	cs := &configSchemas{byType: make(map[schema.NodeType]*jsonschema.Schema, len(nodeConfigSchemas))}
	for nt, raw := range nodeConfigSchemas {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s config schema: %w", nt, err)
		}
		url := fmt.Sprintf("skein://node-config/%s.json", nt)
		c := jsonschema.NewCompiler()
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add %s config schema: %w", nt, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile %s config schema: %w", nt, err)
		}
		cs.byType[nt] = compiled
	}
	return cs, nil
}

// validate checks a node's config blob against its type schema. An absent
// config is validated as an empty object so required fields still apply.
func (cs *configSchemas) validate(n *schema.Node) error {
	compiled, ok := cs.byType[n.Type]
	if !ok {
		return nil
	}

	raw := n.Config
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeConfig,
			"node %s config is not valid JSON: %v", n.ID, err).WithNode(n.ID)
	}
	if err := compiled.Validate(doc); err != nil {
		return schema.NewErrorf(schema.ErrCodeConfig,
			"node %s config rejected: %v", n.ID, err).WithNode(n.ID).WithCause(err)
	}
	return nil
}
