package executors

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/okibo/skein/pkg/schema"
)

// ExportExecutor serializes upstream producer outputs to JSON or CSV.
// With a destination it writes into the configured export root; without
// one the serialized document is returned inline in the node output.
type ExportExecutor struct {
	// Root is the directory destinations are confined to. Empty disables
	// file destinations; inline export still works.
	Root string
}

func NewExportExecutor(root string) *ExportExecutor {
	return &ExportExecutor{Root: root}
}

func (e *ExportExecutor) Type() schema.NodeType { return schema.NodeTypeExport }

type exportConfig struct {
	Format      string `json:"format"`
	Destination string `json:"destination"`
}

func (e *ExportExecutor) Execute(_ context.Context, nodeID string, config json.RawMessage, view *schema.ContextView) (schema.NodeOutput, error) {
	var cfg exportConfig
	if err := decodeConfig(nodeID, config, &cfg); err != nil {
		return nil, err
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}

	sources := 0
	doc := make(map[string]any)
	for _, id := range view.Predecessors {
		out, ok := view.Dependency(id)
		if !ok || out.Status() == schema.NodeStatusSkipped {
			continue
		}
		doc[id] = map[string]any(out)
		sources++
	}
	if sources == 0 {
		return nil, schema.NewError(schema.ErrCodeDependencyMissing,
			"export has no completed upstream outputs").WithNode(nodeID)
	}

	var content []byte
	var err error
	switch cfg.Format {
	case "csv":
		content, err = renderCSV(view.Predecessors, doc)
	default:
		content, err = json.MarshalIndent(doc, "", "  ")
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "serialize export: %v", err).
			WithNode(nodeID).WithCause(err)
	}

	fields := map[string]any{
		"format":  cfg.Format,
		"sources": sources,
		"bytes":   len(content),
	}
	if cfg.Destination == "" {
		fields["content"] = string(content)
		return schema.SuccessOutput(fields), nil
	}

	path, err := e.resolveDestination(cfg.Destination)
	if err != nil {
		if ee, ok := err.(*schema.EngineError); ok {
			return nil, ee.WithNode(nodeID)
		}
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExternalCall, "create export directory: %v", err).
			WithNode(nodeID).WithCause(err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExternalCall, "write export file: %v", err).
			WithNode(nodeID).WithCause(err)
	}
	fields["path"] = path
	return schema.SuccessOutput(fields), nil
}

func (e *ExportExecutor) resolveDestination(dest string) (string, error) {
	if e.Root == "" {
		return "", schema.NewError(schema.ErrCodeConfig, "file destinations are disabled: no export root configured")
	}
	root, err := filepath.Abs(e.Root)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeConfig, "resolve export root: %v", err)
	}
	path := dest
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)
	if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
		return "", schema.NewErrorf(schema.ErrCodeConfig, "destination %q escapes the export root", dest)
	}
	return path, nil
}

// renderCSV flattens each producer's predictions into source,prediction
// rows. Non-list outputs export as a single row with the whole output.
func renderCSV(order []string, doc map[string]any) ([]byte, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.Write([]string{"source", "prediction"}); err != nil {
		return nil, err
	}
	for _, id := range order {
		out, ok := doc[id].(map[string]any)
		if !ok {
			continue
		}
		preds := asList(out["predictions"])
		if preds == nil {
			preds = asList(out["results"])
		}
		if preds == nil {
			row, err := json.Marshal(out)
			if err != nil {
				return nil, err
			}
			if err := w.Write([]string{id, string(row)}); err != nil {
				return nil, err
			}
			continue
		}
		for _, p := range preds {
			cell, err := json.Marshal(p)
			if err != nil {
				return nil, fmt.Errorf("marshal prediction: %w", err)
			}
			if err := w.Write([]string{id, string(cell)}); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}
