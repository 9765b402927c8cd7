package plugin

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acpcore/internal/events/bus"
	"github.com/kandev/acpcore/internal/runtime/permission"
	"github.com/kandev/acpcore/internal/runtime/rterr"
	"github.com/kandev/acpcore/pkg/acp/jsonrpc"
)

func newTestInstaller(t *testing.T, installScript string) (*Installer, *Manager, *permission.Hub, string) {
	t.Helper()
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "install.sh")
	require.NoError(t, os.WriteFile(scriptPath, []byte(installScript), 0o755))
	markerPath := filepath.Join(dir, "marker.log")

	catalog := &Catalog{Plugins: []CatalogEntry{
		{ID: "plug", DisplayName: "Plug", InstallCommand: "sh", InstallArgs: []string{scriptPath, markerPath}},
	}}
	manager := NewManager(dir, catalog)
	hub := permission.NewHub(nil)
	installer := NewInstaller(manager, hub, nil, nil)
	return installer, manager, hub, markerPath
}

// autoRespond serves every permission request arriving on the hub with
// decision, until stopped.
func autoRespond(hub *permission.Hub, decision jsonrpc.PermissionDecision) func() {
	sub, unsubscribe := hub.Subscribe(8)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case req := <-sub:
				_ = hub.Respond(req.ID, decision)
			case <-stop:
				return
			}
		}
	}()
	return func() {
		close(stop)
		unsubscribe()
	}
}

func TestEnsureInstalledCoalescesConcurrentCallers(t *testing.T) {
	installer, manager, hub, markerPath := newTestInstaller(t, "#!/bin/sh\necho installed >> \"$1\"\necho /usr/local/bin/plug\n")
	defer autoRespond(hub, jsonrpc.PermissionAllowOnce)()

	const callers = 6
	var wg sync.WaitGroup
	errs := make([]error, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		i := i
		go func() {
			defer wg.Done()
			errs[i] = installer.EnsureInstalled(context.Background(), "w1", "plug")
		}()
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		assert.NoError(t, errs[i])
	}

	data, err := os.ReadFile(markerPath)
	require.NoError(t, err)
	assert.Equal(t, "installed\n", string(data), "install command should run exactly once for coalesced callers")
	assert.True(t, manager.IsInstalled("plug"))
}

func TestEnsureInstalledSkipsWhenAlreadyInstalled(t *testing.T) {
	installer, manager, _, _ := newTestInstaller(t, "#!/bin/sh\necho installed >> \"$1\"\necho /usr/local/bin/plug\n")
	require.NoError(t, manager.RecordInstalled("plug", "/usr/local/bin/plug"))

	require.NoError(t, installer.EnsureInstalled(context.Background(), "w1", "plug"))
}

func TestEnsureInstalledReturnsDeniedWhenPermissionRejected(t *testing.T) {
	installer, manager, hub, _ := newTestInstaller(t, "#!/bin/sh\necho installed >> \"$1\"\necho /usr/local/bin/plug\n")
	defer autoRespond(hub, jsonrpc.PermissionDeny)()

	err := installer.EnsureInstalled(context.Background(), "w1", "plug")
	require.Error(t, err)
	assert.Equal(t, rterr.ErrDenied, err)
	assert.False(t, manager.IsInstalled("plug"))
}

func TestEnsureInstalledPropagatesInstallCommandFailure(t *testing.T) {
	installer, manager, hub, _ := newTestInstaller(t, "#!/bin/sh\nexit 1\n")
	defer autoRespond(hub, jsonrpc.PermissionAllowOnce)()

	err := installer.EnsureInstalled(context.Background(), "w1", "plug")
	require.Error(t, err)
	assert.False(t, manager.IsInstalled("plug"))
}

func TestEnsureInstalledUnknownPluginReturnsNotInstalled(t *testing.T) {
	dir := t.TempDir()
	catalog := &Catalog{}
	manager := NewManager(dir, catalog)
	hub := permission.NewHub(nil)
	installer := NewInstaller(manager, hub, nil, nil)
	defer autoRespond(hub, jsonrpc.PermissionAllowOnce)()

	err := installer.EnsureInstalled(context.Background(), "w1", "does-not-exist")
	require.Error(t, err)
	var notInstalled *rterr.PluginNotInstalled
	assert.ErrorAs(t, err, &notInstalled)
}

func TestInstallReturnsOperationIDImmediatelyAndPublishesStatusChanged(t *testing.T) {
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "install.sh")
	require.NoError(t, os.WriteFile(scriptPath, []byte("#!/bin/sh\nsleep 0.2\necho /usr/local/bin/plug\n"), 0o755))

	catalog := &Catalog{Plugins: []CatalogEntry{
		{ID: "plug", DisplayName: "Plug", Version: "1.2.0", InstallCommand: "sh", InstallArgs: []string{scriptPath}},
	}}
	manager := NewManager(dir, catalog)
	hub := permission.NewHub(nil)
	eventBus := bus.NewMemoryEventBus(nil)
	defer eventBus.Close()
	installer := NewInstaller(manager, hub, eventBus, nil)
	defer autoRespond(hub, jsonrpc.PermissionAllowOnce)()

	statusChanged := make(chan *bus.Event, 1)
	sub, err := eventBus.Subscribe("workspace.>", func(_ context.Context, event *bus.Event) error {
		statusChanged <- event
		return nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	operationID := installer.Install("w1", "plug")
	require.NotEmpty(t, operationID, "Install must mint an operation id and return before the install finishes")
	assert.False(t, manager.IsInstalled("plug"), "install command sleeps 200ms; Install must not block on it")

	select {
	case event := <-statusChanged:
		assert.Equal(t, "acp/plugin_status_changed", event.Type)
		assert.Equal(t, operationID, event.Data["operationId"])
		assert.Equal(t, true, event.Data["installed"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for acp/plugin_status_changed")
	}
	assert.True(t, manager.IsInstalled("plug"))

	status, err := manager.GetStatus("plug", true)
	require.NoError(t, err)
	assert.True(t, status.Installed)
	assert.Equal(t, "1.2.0", status.InstalledVersion)
	assert.Equal(t, "1.2.0", status.LatestVersion)
}

func TestInstallOfAlreadyInstalledPluginReturnsEmptyOperationID(t *testing.T) {
	installer, manager, _, _ := newTestInstaller(t, "#!/bin/sh\necho installed >> \"$1\"\necho /usr/local/bin/plug\n")
	require.NoError(t, manager.RecordInstalled("plug", "/usr/local/bin/plug"))

	assert.Empty(t, installer.Install("w1", "plug"))
}
