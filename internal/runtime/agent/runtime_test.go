package agent

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acpcore/internal/acp"
	"github.com/kandev/acpcore/internal/runtime/ids"
	"github.com/kandev/acpcore/internal/runtime/permission"
	"github.com/kandev/acpcore/pkg/acp/jsonrpc"
)

// fakeAdapterSrc is a minimal ACP agent: it speaks just enough of the
// initialize/session/new/session/prompt handshake over stdio for
// ensureStarted to complete, and records each process launch to a marker
// file so a test can tell how many adapter processes actually started.
const fakeAdapterSrc = `
import json
import sys

with open(sys.argv[1], "a") as f:
    f.write("started\n")

for line in sys.stdin:
    line = line.strip()
    if not line:
        continue
    msg = json.loads(line)
    method = msg.get("method")
    msg_id = msg.get("id")
    if msg_id is None:
        continue
    if method == "initialize":
        result = {"protocolVersion": 1}
    elif method == "session/new":
        result = {"sessionId": "fake-session-1"}
    elif method == "session/prompt":
        result = {"stopReason": "end_turn"}
    else:
        continue
    resp = {"jsonrpc": "2.0", "id": msg_id, "result": result}
    sys.stdout.write(json.dumps(resp) + "\n")
    sys.stdout.flush()
`

func requirePython3(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not available, skipping fake-adapter runtime test")
	}
	return path
}

func newFakeAdapterRuntime(t *testing.T) (*Runtime, string) {
	t.Helper()
	python3 := requirePython3(t)

	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "fake_adapter.py")
	require.NoError(t, os.WriteFile(scriptPath, []byte(fakeAdapterSrc), 0o644))
	markerPath := filepath.Join(dir, "marker.log")

	record := Record{
		ID:          ids.NewAgentID(),
		WorkspaceID: ids.NewWorkspaceID(),
		PluginID:    "fake-adapter",
		Command: acp.AdapterCommand{
			Path: python3,
			Args: []string{scriptPath, markerPath},
		},
		Cwd: dir,
	}

	hub := permission.NewHub(nil)
	rt := NewRuntime(record, hub, nil, nil, nil, nil)
	return rt, markerPath
}

func TestEnsureStartedCoalescesConcurrentCallers(t *testing.T) {
	rt, markerPath := newFakeAdapterRuntime(t)
	defer rt.Shutdown(context.Background(), time.Second)

	const callers = 8
	var wg sync.WaitGroup
	stopReasons := make([]string, callers)
	errs := make([]error, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		i := i
		go func() {
			defer wg.Done()
			stopReasons[i], errs[i] = rt.Prompt(context.Background(), []jsonrpc.ContentBlock{{Type: "text", Text: "hi"}})
		}()
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "end_turn", stopReasons[i])
	}

	assert.Equal(t, StatusRunning, rt.Status())
	assert.Equal(t, "fake-session-1", rt.SessionID())

	started, err := os.ReadFile(markerPath)
	require.NoError(t, err)
	assert.Equal(t, "started\n", string(started), "exactly one adapter process should have been spawned for all concurrent callers")
}

func TestPromptAfterAlreadyRunningReusesConnection(t *testing.T) {
	rt, markerPath := newFakeAdapterRuntime(t)
	defer rt.Shutdown(context.Background(), time.Second)

	_, err := rt.Prompt(context.Background(), []jsonrpc.ContentBlock{{Type: "text", Text: "first"}})
	require.NoError(t, err)

	_, err = rt.Prompt(context.Background(), []jsonrpc.ContentBlock{{Type: "text", Text: "second"}})
	require.NoError(t, err)

	started, err := os.ReadFile(markerPath)
	require.NoError(t, err)
	assert.Equal(t, "started\n", string(started))
}

func TestShutdownStopsAdapterAndResetsStatus(t *testing.T) {
	rt, _ := newFakeAdapterRuntime(t)

	_, err := rt.Prompt(context.Background(), []jsonrpc.ContentBlock{{Type: "text", Text: "hi"}})
	require.NoError(t, err)
	require.Equal(t, StatusRunning, rt.Status())

	require.NoError(t, rt.Shutdown(context.Background(), time.Second))
	assert.Equal(t, StatusStopped, rt.Status())
}
