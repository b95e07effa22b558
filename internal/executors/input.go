package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/okibo/skein/pkg/schema"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}
var videoExtensions = []string{".mp4", ".avi", ".mov", ".mkv", ".webm"}

// InputExecutor resolves a declared source mode into a concrete list of
// source references. Folder modes are confined to the configured root.
type InputExecutor struct {
	// Root is the only subtree folder modes may scan. Empty disables
	// folder modes entirely.
	Root string
}

func NewInputExecutor(root string) *InputExecutor {
	return &InputExecutor{Root: root}
}

func (e *InputExecutor) Type() schema.NodeType { return schema.NodeTypeInput }

type inputConfig struct {
	Mode       string   `json:"mode"`
	Source     string   `json:"source"`
	Sources    []string `json:"sources"`
	Folder     string   `json:"folder"`
	Extensions []string `json:"extensions"`
	Recursive  bool     `json:"recursive"`
	Device     any      `json:"device"`
}

func (e *InputExecutor) Execute(_ context.Context, nodeID string, config json.RawMessage, _ *schema.ContextView) (schema.NodeOutput, error) {
	var cfg inputConfig
	if err := decodeConfig(nodeID, config, &cfg); err != nil {
		return nil, err
	}

	var sources []string
	var err error
	switch cfg.Mode {
	case "single":
		if cfg.Source == "" {
			err = schema.NewError(schema.ErrCodeConfig, "single mode requires a source")
		} else {
			sources = []string{cfg.Source}
		}
	case "batch":
		if len(cfg.Sources) == 0 {
			err = schema.NewError(schema.ErrCodeConfig, "batch mode requires a non-empty sources list")
		} else {
			sources = cfg.Sources
		}
	case "folder_images":
		sources, err = e.scanFolder(cfg.Folder, cfg.Extensions, imageExtensions, cfg.Recursive)
	case "folder_videos":
		sources, err = e.scanFolder(cfg.Folder, cfg.Extensions, videoExtensions, cfg.Recursive)
	case "rtsp":
		if !strings.HasPrefix(cfg.Source, "rtsp://") {
			err = schema.NewError(schema.ErrCodeConfig, "rtsp mode requires an rtsp:// source URL")
		} else {
			sources = []string{cfg.Source}
		}
	case "webcam":
		device := cfg.Device
		if device == nil {
			device = 0
		}
		sources = []string{fmt.Sprintf("webcam:%v", device)}
	default:
		err = schema.NewErrorf(schema.ErrCodeConfig, "unknown input mode %q", cfg.Mode)
	}
	if err != nil {
		if ee, ok := err.(*schema.EngineError); ok {
			return nil, ee.WithNode(nodeID)
		}
		return nil, err
	}

	return schema.SuccessOutput(map[string]any{
		"mode":    cfg.Mode,
		"sources": sources,
		"count":   len(sources),
	}), nil
}

// scanFolder lists matching files under folder, which must resolve inside
// the configured root.
func (e *InputExecutor) scanFolder(folder string, extensions, defaults []string, recursive bool) ([]string, error) {
	if e.Root == "" {
		return nil, schema.NewError(schema.ErrCodeConfig, "folder modes are disabled: no input root configured")
	}
	if folder == "" {
		return nil, schema.NewError(schema.ErrCodeConfig, "folder mode requires a folder")
	}

	root, err := filepath.Abs(e.Root)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "resolve input root: %v", err)
	}
	target := folder
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	target = filepath.Clean(target)
	if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "folder %q escapes the allowed input root", folder)
	}

	allowed := make(map[string]bool)
	if len(extensions) > 0 {
		for _, ext := range extensions {
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			allowed[strings.ToLower(ext)] = true
		}
	} else {
		for _, ext := range defaults {
			allowed[ext] = true
		}
	}

	var sources []string
	walkErr := filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !recursive && path != target {
				return filepath.SkipDir
			}
			return nil
		}
		if allowed[strings.ToLower(filepath.Ext(path))] {
			sources = append(sources, path)
		}
		return nil
	})
	if walkErr != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "scan folder %q: %v", folder, walkErr).WithCause(walkErr)
	}
	sort.Strings(sources)
	return sources, nil
}
