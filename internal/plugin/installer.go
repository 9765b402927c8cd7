package plugin

import (
	"context"
	"os/exec"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/acpcore/internal/common/logger"
	"github.com/kandev/acpcore/internal/events/bus"
	"github.com/kandev/acpcore/internal/runtime/permission"
	"github.com/kandev/acpcore/internal/runtime/rterr"
	"github.com/kandev/acpcore/pkg/acp/jsonrpc"
)

// Installer fetches a plugin's adapter binary on first use. Every install
// requires an explicit permission grant through the shared Hub, even when
// the UI that triggered it already confirmed with the user — a stale or
// forged command-surface call must not be able to run an install command
// without going through arbitration.
type Installer struct {
	manager  *Manager
	hub      *permission.Hub
	eventBus bus.EventBus
	log      *logger.Logger

	mu       sync.Mutex
	inflight map[string]*installOp
}

// installOp tracks one in-progress install, keyed by plugin id so
// concurrent callers for the same plugin share it.
type installOp struct {
	operationID string
	done        chan struct{}
	err         error
}

func NewInstaller(manager *Manager, hub *permission.Hub, eventBus bus.EventBus, log *logger.Logger) *Installer {
	if log == nil {
		log = logger.Default()
	}
	return &Installer{
		manager:  manager,
		hub:      hub,
		eventBus: eventBus,
		log:      log.WithFields(zap.String("component", "plugin-installer")),
		inflight: make(map[string]*installOp),
	}
}

// Install mints an operation id for installing pluginID and returns
// immediately; the permission wait, the install command, and recording the
// result all run in the background. Concurrent installs of the same plugin
// id share one operation. Returns "" if pluginID is already installed, in
// which case no operation is started and no event is published.
func (i *Installer) Install(workspaceID, pluginID string) string {
	if i.manager.IsInstalled(pluginID) {
		return ""
	}
	return i.startInstall(workspaceID, pluginID).operationID
}

// EnsureInstalled blocks until pluginID is installed, denied, or the
// install command fails. Used by the agent-start path, which cannot
// resolve an executable to spawn until installation is settled.
func (i *Installer) EnsureInstalled(ctx context.Context, workspaceID, pluginID string) error {
	if i.manager.IsInstalled(pluginID) {
		return nil
	}
	op := i.startInstall(workspaceID, pluginID)
	select {
	case <-op.done:
		return op.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (i *Installer) startInstall(workspaceID, pluginID string) *installOp {
	i.mu.Lock()
	if op, ok := i.inflight[pluginID]; ok {
		i.mu.Unlock()
		return op
	}
	op := &installOp{operationID: uuid.NewString(), done: make(chan struct{})}
	i.inflight[pluginID] = op
	i.mu.Unlock()

	go i.run(workspaceID, pluginID, op)
	return op
}

// run performs the permission wait, install command, and bookkeeping for
// one operation, using a background context so a caller giving up on
// EnsureInstalled doesn't cancel an install other callers are still
// waiting on.
func (i *Installer) run(workspaceID, pluginID string, op *installOp) {
	op.err = i.install(context.Background(), workspaceID, pluginID)
	i.publishStatusChanged(workspaceID, pluginID, op.operationID, op.err)

	i.mu.Lock()
	delete(i.inflight, pluginID)
	i.mu.Unlock()

	close(op.done)
}

func (i *Installer) install(ctx context.Context, workspaceID, pluginID string) error {
	entry, ok := i.manager.catalog.Lookup(pluginID)
	if !ok || entry.InstallCommand == "" {
		return &rterr.PluginNotInstalled{PluginID: pluginID}
	}

	outcome, err := i.hub.Request(ctx, permission.Scope{WorkspaceID: workspaceID}, "", pluginID,
		"install plugin "+pluginID,
		[]jsonrpc.PermissionOption{
			{OptionID: string(jsonrpc.PermissionAllowOnce), Name: "Install", Kind: "allow_once"},
			{OptionID: string(jsonrpc.PermissionDeny), Name: "Deny", Kind: "reject_once"},
		})
	if err != nil {
		return err
	}
	if outcome.Outcome != "selected" || outcome.Decision != jsonrpc.PermissionAllowOnce {
		return rterr.ErrDenied
	}

	i.log.Info("installing plugin", zap.String("plugin_id", pluginID))

	cmd := exec.CommandContext(ctx, entry.InstallCommand, entry.InstallArgs...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		i.log.Error("plugin install failed", zap.String("plugin_id", pluginID), zap.Error(err), zap.String("output", strings.TrimSpace(string(output))))
		return &rterr.IoError{Op: "install plugin " + pluginID, Err: err}
	}

	binPath := entry.Command
	if binPath == "" {
		binPath = strings.TrimSpace(string(output))
	}
	if err := i.manager.RecordInstalled(pluginID, binPath); err != nil {
		return err
	}
	return i.manager.RecordVersion(pluginID, entry.Version)
}

func (i *Installer) publishStatusChanged(workspaceID, pluginID, operationID string, installErr error) {
	if i.eventBus == nil {
		return
	}
	data := map[string]interface{}{
		"workspaceId": workspaceID,
		"pluginId":    pluginID,
		"operationId": operationID,
		"installed":   installErr == nil,
	}
	if installErr != nil {
		data["error"] = installErr.Error()
	}
	event := bus.NewEvent("acp/plugin_status_changed", "acpcore", data)
	subject := "workspace." + workspaceID + ".plugin"
	if err := i.eventBus.Publish(context.Background(), subject, event); err != nil {
		i.log.Warn("dropping plugin_status_changed publish failure", zap.Error(err))
	}
}
