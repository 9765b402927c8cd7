// Package workspace implements WorkspaceManager: the top-level
// container that owns one workspace's isolated fs root, terminal set,
// and agent registry. Agents in different workspaces never share state;
// the only process-wide shared component is the PermissionHub, which
// tags every request with the workspace and agent it came from.
package workspace

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/acpcore/internal/acp"
	"github.com/kandev/acpcore/internal/common/logger"
	"github.com/kandev/acpcore/internal/events/bus"
	"github.com/kandev/acpcore/internal/plugin"
	"github.com/kandev/acpcore/internal/runtime/agent"
	rfs "github.com/kandev/acpcore/internal/runtime/fs"
	"github.com/kandev/acpcore/internal/runtime/ids"
	"github.com/kandev/acpcore/internal/runtime/permission"
	"github.com/kandev/acpcore/internal/runtime/rterr"
	"github.com/kandev/acpcore/internal/runtime/terminal"
)

// Workspace is one isolated root directory and the agents/terminals
// running against it.
type Workspace struct {
	ID   ids.WorkspaceID
	Root string

	fsManager   *rfs.Manager
	termManager *terminal.Manager
	agents      *agent.Registry

	hub      *permission.Hub
	plugins  *plugin.Manager
	installer *plugin.Installer
	eventBus bus.EventBus
	log      *logger.Logger
}

// Manager owns every live Workspace in the process.
type Manager struct {
	hub       *permission.Hub
	plugins   *plugin.Manager
	installer *plugin.Installer
	eventBus  bus.EventBus
	log       *logger.Logger

	mu         sync.RWMutex
	workspaces map[ids.WorkspaceID]*Workspace
}

func NewManager(hub *permission.Hub, plugins *plugin.Manager, installer *plugin.Installer, eventBus bus.EventBus, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	return &Manager{
		hub:        hub,
		plugins:    plugins,
		installer:  installer,
		eventBus:   eventBus,
		log:        log.WithFields(zap.String("component", "workspace-manager")),
		workspaces: make(map[ids.WorkspaceID]*Workspace),
	}
}

// Open creates and registers a new workspace rooted at root.
func (m *Manager) Open(root string) (*Workspace, error) {
	fsManager, err := rfs.NewManager(root)
	if err != nil {
		return nil, err
	}

	id := ids.NewWorkspaceID()
	ws := &Workspace{
		ID:          id,
		Root:        fsManager.Root(),
		fsManager:   fsManager,
		termManager: terminal.NewManager(fsManager.Root(), string(id), m.eventBus, m.log),
		agents:      agent.NewRegistry(),
		hub:         m.hub,
		plugins:     m.plugins,
		installer:   m.installer,
		eventBus:    m.eventBus,
		log:         m.log.WithFields(zap.String("workspace_id", string(id))),
	}

	m.mu.Lock()
	m.workspaces[id] = ws
	m.mu.Unlock()

	m.publish(ws.ID, "workspace.opened", map[string]interface{}{"root": ws.Root})
	return ws, nil
}

func (m *Manager) Get(id ids.WorkspaceID) (*Workspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ws, ok := m.workspaces[id]
	if !ok {
		return nil, rterr.ErrWorkspaceNotFound
	}
	return ws, nil
}

func (m *Manager) List() []*Workspace {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Workspace, 0, len(m.workspaces))
	for _, ws := range m.workspaces {
		out = append(out, ws)
	}
	return out
}

// Close tears down a workspace: every agent is shut down, every terminal
// killed, and any in-flight permission request scoped to the workspace is
// cancelled so nothing is left waiting on a vanished caller.
func (m *Manager) Close(ctx context.Context, id ids.WorkspaceID, shutdownTimeout time.Duration) error {
	m.mu.Lock()
	ws, ok := m.workspaces[id]
	if ok {
		delete(m.workspaces, id)
	}
	m.mu.Unlock()
	if !ok {
		return rterr.ErrWorkspaceNotFound
	}

	for _, rt := range ws.agents.List() {
		if err := rt.Shutdown(ctx, shutdownTimeout); err != nil {
			ws.log.Warn("agent shutdown error during workspace close", zap.Error(err))
		}
	}
	ws.termManager.CloseAll()
	m.hub.CancelAll(permission.Scope{WorkspaceID: string(id)})

	m.publish(id, "workspace.closed", nil)
	return nil
}

// CloseAll tears down every open workspace, used on process shutdown.
func (m *Manager) CloseAll(ctx context.Context, shutdownTimeout time.Duration) {
	for _, ws := range m.List() {
		if err := m.Close(ctx, ws.ID, shutdownTimeout); err != nil {
			m.log.Warn("error closing workspace during shutdown", zap.Error(err))
		}
	}
}

func (m *Manager) publish(workspaceID ids.WorkspaceID, eventType string, data map[string]interface{}) {
	if m.eventBus == nil {
		return
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["workspaceId"] = string(workspaceID)
	event := bus.NewEvent(eventType, "acpcore", data)
	if err := m.eventBus.Publish(context.Background(), "workspace."+string(workspaceID), event); err != nil {
		m.log.Warn("dropping event publish failure", zap.String("event_type", eventType), zap.Error(err))
	}
}

// StartAgent resolves pluginID to an executable (installing it first if
// necessary), spawns an AgentRuntime for it, and registers it on the
// workspace. The agent is not connected yet: connection happens lazily on
// the first Prompt call.
func (ws *Workspace) StartAgent(ctx context.Context, pluginID string, envOverrides map[string]string) (*agent.Runtime, error) {
	if !ws.plugins.IsInstalled(pluginID) {
		if err := ws.installer.EnsureInstalled(ctx, string(ws.ID), pluginID); err != nil {
			return nil, err
		}
	}

	binPath, args, err := ws.plugins.ResolveBin(pluginID)
	if err != nil {
		return nil, err
	}

	record := agent.Record{
		ID:          ids.NewAgentID(),
		WorkspaceID: ws.ID,
		PluginID:    pluginID,
		Cwd:         ws.Root,
		Command: acp.AdapterCommand{
			Path:         binPath,
			Args:         args,
			EnvOverrides: envOverrides,
		},
	}

	rt := agent.NewRuntime(record, ws.hub, ws.fsManager, ws.termManager, ws.eventBus, ws.log)
	ws.agents.Add(rt)
	return rt, nil
}

func (ws *Workspace) Agent(id ids.AgentID) (*agent.Runtime, error) {
	return ws.agents.Get(id)
}

func (ws *Workspace) Agents() []*agent.Runtime {
	return ws.agents.List()
}

// TerminalOutput, TerminalKill, TerminalRelease, and TerminalWaitForExit
// expose the workspace's terminal set to the command surface directly,
// since a terminal outlives the agent turn that created it.
func (ws *Workspace) TerminalOutput(ctx context.Context, terminalID string) (string, bool, string, error) {
	return ws.termManager.Output(ctx, terminalID)
}

func (ws *Workspace) TerminalKill(ctx context.Context, terminalID string) error {
	return ws.termManager.Kill(ctx, terminalID)
}

func (ws *Workspace) TerminalRelease(ctx context.Context, terminalID string) error {
	return ws.termManager.Release(ctx, terminalID)
}

func (ws *Workspace) TerminalWaitForExit(ctx context.Context, terminalID string) (string, *int, bool, error) {
	return ws.termManager.WaitForExit(ctx, terminalID)
}

// StopAgent shuts down and unregisters one agent.
func (ws *Workspace) StopAgent(ctx context.Context, id ids.AgentID, shutdownTimeout time.Duration) error {
	rt, err := ws.agents.Get(id)
	if err != nil {
		return err
	}
	ws.agents.Remove(id)
	return rt.Shutdown(ctx, shutdownTimeout)
}
