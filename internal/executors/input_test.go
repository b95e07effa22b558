package executors

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okibo/skein/pkg/schema"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func runInput(t *testing.T, root, config string) (schema.NodeOutput, error) {
	t.Helper()
	e := NewInputExecutor(root)
	return e.Execute(context.Background(), "in", json.RawMessage(config), nil)
}

func TestInputSingleAndBatch(t *testing.T) {
	out, err := runInput(t, "", `{"mode":"single","source":"img.jpg"}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"img.jpg"}, out["sources"])
	assert.Equal(t, 1, out["count"])

	out, err = runInput(t, "", `{"mode":"batch","sources":["a.jpg","b.jpg"]}`)
	require.NoError(t, err)
	assert.Equal(t, 2, out["count"])

	_, err = runInput(t, "", `{"mode":"single"}`)
	require.Error(t, err)
}

func TestInputFolderImagesFiltersAndRecurses(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "cam1", "a.jpg"))
	touch(t, filepath.Join(root, "cam1", "b.PNG"))
	touch(t, filepath.Join(root, "cam1", "notes.txt"))
	touch(t, filepath.Join(root, "cam1", "sub", "c.jpeg"))

	// non-recursive: top-level images only
	out, err := runInput(t, root, `{"mode":"folder_images","folder":"cam1"}`)
	require.NoError(t, err)
	assert.Equal(t, 2, out["count"])

	// recursive picks up the subdirectory
	out, err = runInput(t, root, `{"mode":"folder_images","folder":"cam1","recursive":true}`)
	require.NoError(t, err)
	assert.Equal(t, 3, out["count"])

	// explicit extension filter
	out, err = runInput(t, root, `{"mode":"folder_images","folder":"cam1","extensions":["jpg"],"recursive":true}`)
	require.NoError(t, err)
	assert.Equal(t, 1, out["count"])
}

func TestInputFolderConfinedToRoot(t *testing.T) {
	root := t.TempDir()
	_, err := runInput(t, root, `{"mode":"folder_images","folder":"../outside"}`)
	require.Error(t, err)
	ee := err.(*schema.EngineError)
	assert.Equal(t, schema.ErrCodeConfig, ee.Code)

	// folder modes disabled entirely without a root
	_, err = runInput(t, "", `{"mode":"folder_images","folder":"cam1"}`)
	require.Error(t, err)
}

func TestInputStreamModes(t *testing.T) {
	out, err := runInput(t, "", `{"mode":"rtsp","source":"rtsp://cam.local/stream"}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"rtsp://cam.local/stream"}, out["sources"])

	_, err = runInput(t, "", `{"mode":"rtsp","source":"http://nope"}`)
	require.Error(t, err)

	out, err = runInput(t, "", `{"mode":"webcam","device":2}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"webcam:2"}, out["sources"])
}
