package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acpcore/internal/plugin"
	"github.com/kandev/acpcore/internal/runtime/ids"
	"github.com/kandev/acpcore/internal/runtime/permission"
	"github.com/kandev/acpcore/internal/runtime/rterr"
	"github.com/kandev/acpcore/pkg/acp/jsonrpc"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	catalog := &plugin.Catalog{Plugins: []plugin.CatalogEntry{
		{ID: "no-install-plugin", DisplayName: "No Install", Command: "/bin/echo", Args: []string{"hi"}},
	}}
	pluginManager := plugin.NewManager(t.TempDir(), catalog)
	hub := permission.NewHub(nil)
	installer := plugin.NewInstaller(pluginManager, hub, nil, nil)
	return NewManager(hub, pluginManager, installer, nil, nil)
}

func permOptions() []jsonrpc.PermissionOption {
	return []jsonrpc.PermissionOption{
		{OptionID: "allow", Name: "Allow", Kind: "allow_once"},
		{OptionID: "deny", Name: "Deny", Kind: "reject_once"},
	}
}

func TestOpenGivesEachWorkspaceAnIndependentFsRoot(t *testing.T) {
	m := newTestManager(t)

	ws1, err := m.Open(t.TempDir())
	require.NoError(t, err)
	ws2, err := m.Open(t.TempDir())
	require.NoError(t, err)

	require.NotEqual(t, ws1.Root, ws2.Root)

	ctx := context.Background()
	require.NoError(t, ws1.fsManager.WriteTextFile(ctx, "secret.txt", "ws1 only"))

	_, err = ws2.fsManager.ReadTextFile(ctx, "secret.txt", nil, nil)
	require.Error(t, err, "a file written in one workspace must not be visible from another")

	_, err = os.Stat(filepath.Join(ws2.Root, "secret.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestStartAgentWithNoInstallStepDoesNotRequireInstaller(t *testing.T) {
	m := newTestManager(t)
	ws, err := m.Open(t.TempDir())
	require.NoError(t, err)

	rt, err := ws.StartAgent(context.Background(), "no-install-plugin", nil)
	require.NoError(t, err)
	assert.Equal(t, "no-install-plugin", rt.PluginID())

	agents := ws.Agents()
	require.Len(t, agents, 1)
	assert.Equal(t, rt.ID(), agents[0].ID())
}

func TestStartAgentWithUnknownPluginReturnsNotInstalled(t *testing.T) {
	m := newTestManager(t)
	ws, err := m.Open(t.TempDir())
	require.NoError(t, err)

	_, err = ws.StartAgent(context.Background(), "does-not-exist", nil)
	require.Error(t, err)
	var notInstalled *rterr.PluginNotInstalled
	assert.ErrorAs(t, err, &notInstalled)
}

func TestCloseCancelsOnlyItsOwnWorkspacesPermissionWaiters(t *testing.T) {
	m := newTestManager(t)
	ws1, err := m.Open(t.TempDir())
	require.NoError(t, err)
	ws2, err := m.Open(t.TempDir())
	require.NoError(t, err)

	sub, unsubscribe := m.hub.Subscribe(8)
	defer unsubscribe()

	outcome1Ch := make(chan string, 1)
	outcome2Ch := make(chan string, 1)
	go func() {
		outcome, _ := m.hub.Request(context.Background(), permission.Scope{WorkspaceID: string(ws1.ID)}, "s1", "tc1", "t1", permOptions())
		outcome1Ch <- outcome.Outcome
	}()
	go func() {
		outcome, _ := m.hub.Request(context.Background(), permission.Scope{WorkspaceID: string(ws2.ID)}, "s2", "tc2", "t2", permOptions())
		outcome2Ch <- outcome.Outcome
	}()

	first := <-sub
	second := <-sub
	var ws2ReqID string
	if first.Scope.WorkspaceID == string(ws2.ID) {
		ws2ReqID = first.ID
	} else {
		ws2ReqID = second.ID
	}

	require.NoError(t, m.Close(context.Background(), ws1.ID, time.Second))

	select {
	case outcome := <-outcome1Ch:
		assert.Equal(t, "cancelled", outcome)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ws1's permission request to cancel")
	}

	select {
	case outcome := <-outcome2Ch:
		t.Fatalf("ws2's permission request resolved unexpectedly with %q; closing ws1 must not affect ws2", outcome)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, m.hub.Respond(ws2ReqID, jsonrpc.PermissionAllowOnce))
	select {
	case outcome := <-outcome2Ch:
		assert.Equal(t, "selected", outcome)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ws2's permission request to resolve after explicit respond")
	}
}

func TestCloseUnknownWorkspaceReturnsNotFound(t *testing.T) {
	m := newTestManager(t)
	err := m.Close(context.Background(), ids.NewWorkspaceID(), time.Second)
	assert.Equal(t, rterr.ErrWorkspaceNotFound, err)
}
