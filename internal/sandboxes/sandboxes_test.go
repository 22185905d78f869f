package sandboxes

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frak-id/atelier-sub002/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const twoSandboxes = `sandboxes:
  - id: sbx_2
    workspaceId: ws_1
    status: stopped
    opencodeUrl: http://10.0.0.6:3000
  - id: sbx_1
    workspaceId: ws_1
    status: running
    opencodeUrl: http://10.0.0.5:3000
  - id: sbx_3
    workspaceId: ws_2
    status: running
    opencodeUrl: http://10.0.0.5:3000
  - id: ""
    status: running
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	// Write to a temp file and rename, the way the provisioner does.
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

func TestDirectoryLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sandboxes.yaml")
	d := NewDirectory(path, testLogger())

	t.Run("missing file is empty", func(t *testing.T) {
		require.NoError(t, d.Load())
		assert.Empty(t, d.List())
	})

	t.Run("parses entries", func(t *testing.T) {
		writeFile(t, path, twoSandboxes)
		require.NoError(t, d.Load())

		list := d.List()
		require.Len(t, list, 3)
		assert.Equal(t, "sbx_1", list[0].ID)

		sb, ok := d.Get("sbx_2")
		require.True(t, ok)
		assert.Equal(t, models.SandboxStatusStopped, sb.Status)
		assert.False(t, sb.Running())

		assert.Equal(t, []string{"http://10.0.0.5:3000"}, d.RunningURLs())
	})

	t.Run("malformed file keeps previous contents", func(t *testing.T) {
		writeFile(t, path, "sandboxes: [ {id: broken")
		assert.Error(t, d.Load())
		assert.Len(t, d.List(), 3)
	})
}

func TestDirectoryWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sandboxes.yaml")
	d := NewDirectory(path, testLogger())
	require.NoError(t, d.Load())

	var mu sync.Mutex
	var seen [][]models.Sandbox
	d.OnChange(func(list []models.Sandbox) {
		mu.Lock()
		seen = append(seen, list)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Watch(ctx))

	writeFile(t, path, twoSandboxes)
	require.Eventually(t, func() bool {
		_, ok := d.Get("sbx_1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	require.NotEmpty(t, seen)
	assert.Len(t, seen[len(seen)-1], 3)
	mu.Unlock()

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool { return len(d.List()) == 0 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	d.Wait()
}

func TestHTTPController(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path)
		mu.Unlock()
		if r.URL.Path == "/sandboxes/sbx_bad/stop" {
			http.Error(w, "sandbox busy", http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewHTTPController(srv.URL+"/", testLogger())
	ctx := context.Background()

	require.NoError(t, c.Apply(ctx, "sbx_1", models.SandboxActionStop))
	require.NoError(t, c.Apply(ctx, "sbx_1", models.SandboxActionDestroy))
	require.NoError(t, c.Apply(ctx, "sbx_1", models.SandboxActionDetach))
	require.NoError(t, c.Apply(ctx, "", models.SandboxActionDestroy))

	err := c.Apply(ctx, "sbx_bad", models.SandboxActionStop)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sandbox busy")

	assert.Error(t, c.Apply(ctx, "sbx_1", "explode"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"POST /sandboxes/sbx_1/stop",
		"DELETE /sandboxes/sbx_1",
		"POST /sandboxes/sbx_bad/stop",
	}, calls)
}

func TestLogController(t *testing.T) {
	c := NewLogController(testLogger())
	assert.NoError(t, c.Apply(context.Background(), "sbx_1", models.SandboxActionDestroy))
}
