// Package agent implements AgentRuntime: the lazy-start state
// machine wrapped around one AcpAgent connection, plus the AgentHost
// implementation that wires an agent's inbound requests to the
// workspace's fs, terminal, and permission subsystems.
package agent

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kandev/acpcore/internal/acp"
	"github.com/kandev/acpcore/internal/common/logger"
	"github.com/kandev/acpcore/internal/events/bus"
	"github.com/kandev/acpcore/internal/runtime/fs"
	"github.com/kandev/acpcore/internal/runtime/ids"
	"github.com/kandev/acpcore/internal/runtime/permission"
	"github.com/kandev/acpcore/internal/runtime/rterr"
	"github.com/kandev/acpcore/internal/runtime/terminal"
	"github.com/kandev/acpcore/pkg/acp/jsonrpc"
)

// Status is one state in the AgentRuntime state machine:
// Stopped -> Starting -> Running(sessionId), with Errored entered from
// Starting when the connect attempt fails. An adapter process that exits
// after reaching Running leaves the status at Running.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusErrored  Status = "errored"
)

// Record is the static description of an agent: which plugin backs it,
// which workspace it belongs to, and how to spawn its adapter.
type Record struct {
	ID          ids.AgentID
	WorkspaceID ids.WorkspaceID
	PluginID    string
	Command     acp.AdapterCommand
	Cwd         string
}

type startResult struct {
	agent     *acp.AcpAgent
	sessionID string
}

// Runtime owns the lazy lifecycle of one agent's adapter process.
// ensureStarted coalesces concurrent callers with singleflight so N
// simultaneous prompts against a Stopped agent spawn exactly one adapter
// process and share its session.
type Runtime struct {
	record Record
	log    *logger.Logger

	hub         *permission.Hub
	fsManager   *fs.Manager
	termManager *terminal.Manager
	eventBus    bus.EventBus

	group singleflight.Group

	mu        sync.RWMutex
	status    Status
	sessionID string
	agent     *acp.AcpAgent
	lastErr   string
}

func NewRuntime(record Record, hub *permission.Hub, fsManager *fs.Manager, termManager *terminal.Manager, eventBus bus.EventBus, log *logger.Logger) *Runtime {
	if log == nil {
		log = logger.Default()
	}
	r := &Runtime{
		record:      record,
		log:         log.WithFields(zap.String("component", "agent-runtime"), zap.String("agent_id", string(record.ID))),
		hub:         hub,
		fsManager:   fsManager,
		termManager: termManager,
		eventBus:    eventBus,
	}
	r.status = StatusStopped
	return r
}

func (r *Runtime) ID() ids.AgentID { return r.record.ID }

func (r *Runtime) PluginID() string { return r.record.PluginID }

func (r *Runtime) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *Runtime) SessionID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessionID
}

func (r *Runtime) LastError() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// ensureStarted connects the adapter if it isn't already running. Every
// concurrent caller observes the same outcome: either they all get the
// one connection that succeeded, or they all get the one error that
// failed it.
func (r *Runtime) ensureStarted(ctx context.Context) (*acp.AcpAgent, string, error) {
	v, err, _ := r.group.Do("connect", func() (interface{}, error) {
		r.mu.RLock()
		if r.status == StatusRunning && r.agent != nil {
			res := startResult{agent: r.agent, sessionID: r.sessionID}
			r.mu.RUnlock()
			return res, nil
		}
		r.mu.RUnlock()

		r.mu.Lock()
		r.status = StatusStarting
		r.mu.Unlock()
		r.publish("agent.starting", nil)

		agentConn, sessionID, _, err := acp.Connect(ctx, r.record.Command, r.record.Cwd, r, r.log)
		if err != nil {
			r.mu.Lock()
			r.status = StatusErrored
			r.lastErr = err.Error()
			r.mu.Unlock()
			r.publish("agent.errored", map[string]interface{}{"error": err.Error()})
			return nil, err
		}

		r.mu.Lock()
		r.agent = agentConn
		r.sessionID = sessionID
		r.status = StatusRunning
		r.mu.Unlock()
		r.publish("agent.running", map[string]interface{}{"sessionId": sessionID})

		return startResult{agent: agentConn, sessionID: sessionID}, nil
	})
	if err != nil {
		return nil, "", err
	}
	res := v.(startResult)
	return res.agent, res.sessionID, nil
}

// Prompt starts the agent if necessary and forwards a prompt, blocking
// until the turn completes.
func (r *Runtime) Prompt(ctx context.Context, content []jsonrpc.ContentBlock) (string, error) {
	agentConn, sessionID, err := r.ensureStarted(ctx)
	if err != nil {
		return "", err
	}
	return agentConn.SendPrompt(ctx, sessionID, content)
}

// Cancel best-effort cancels the in-flight turn. It is a no-op if the
// agent was never started.
func (r *Runtime) Cancel() {
	r.mu.RLock()
	agentConn, sessionID := r.agent, r.sessionID
	r.mu.RUnlock()
	if agentConn != nil {
		agentConn.CancelTurn(sessionID)
	}
}

// Shutdown tears down the adapter process (if running) and cancels any
// permission request still in flight for this agent, so a caller waiting
// on RequestPermission never hangs past the agent's own lifetime.
func (r *Runtime) Shutdown(ctx context.Context, timeout time.Duration) error {
	r.mu.Lock()
	agentConn := r.agent
	r.agent = nil
	r.status = StatusStopped
	r.mu.Unlock()

	r.hub.CancelAll(permission.Scope{AgentID: string(r.record.ID)})

	if agentConn == nil {
		return nil
	}
	r.publish("agent.stopped", nil)
	return agentConn.Shutdown(ctx, timeout)
}

func (r *Runtime) publish(eventType string, data map[string]interface{}) {
	if r.eventBus == nil {
		return
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["workspaceId"] = string(r.record.WorkspaceID)
	data["agentId"] = string(r.record.ID)

	event := bus.NewEvent(eventType, "acpcore", data)
	subject := "workspace." + string(r.record.WorkspaceID) + ".agent." + string(r.record.ID)
	if err := r.eventBus.Publish(context.Background(), subject, event); err != nil {
		r.log.Warn("dropping event publish failure", zap.String("event_type", eventType), zap.Error(err))
	}
}

// The following methods implement acp.AgentHost, dispatching an adapter's
// inbound requests to this runtime's workspace-scoped subsystems.

func (r *Runtime) OnSessionUpdate(sessionID string, normalized map[string]interface{}) {
	r.publish("agent.session_update", map[string]interface{}{
		"sessionId": sessionID,
		"update":    normalized,
	})
}

func (r *Runtime) RequestPermission(ctx context.Context, req acp.PermissionRequest) (jsonrpc.PermissionOutcome, error) {
	scope := permission.Scope{WorkspaceID: string(r.record.WorkspaceID), AgentID: string(r.record.ID)}
	return r.hub.Request(ctx, scope, req.SessionID, req.ToolCallID, req.Title, req.Options)
}

func (r *Runtime) FsReadTextFile(ctx context.Context, sessionID, path string, line, limit *int) (string, error) {
	if r.fsManager == nil {
		return "", rterr.ErrInvalidInput
	}
	if err := r.requestFsPermission(ctx, sessionID, "read "+path); err != nil {
		return "", err
	}
	return r.fsManager.ReadTextFile(ctx, path, line, limit)
}

func (r *Runtime) FsWriteTextFile(ctx context.Context, sessionID, path, content string) error {
	if r.fsManager == nil {
		return rterr.ErrInvalidInput
	}
	if err := r.requestFsPermission(ctx, sessionID, "write "+path); err != nil {
		return err
	}
	return r.fsManager.WriteTextFile(ctx, path, content)
}

// requestFsPermission arbitrates one filesystem access through the hub
// before the caller touches disk. Both reads and writes are gated: an
// adapter that only reads a file still learns its contents, so a read gets
// the same arbitration as a write.
func (r *Runtime) requestFsPermission(ctx context.Context, sessionID, title string) error {
	scope := permission.Scope{WorkspaceID: string(r.record.WorkspaceID), AgentID: string(r.record.ID)}
	outcome, err := r.hub.Request(ctx, scope, sessionID, "", title, fsPermissionOptions())
	if err != nil {
		return err
	}
	if outcome.Outcome != "selected" || outcome.Decision != jsonrpc.PermissionAllowOnce {
		return rterr.ErrDenied
	}
	return nil
}

func fsPermissionOptions() []jsonrpc.PermissionOption {
	return []jsonrpc.PermissionOption{
		{OptionID: string(jsonrpc.PermissionAllowOnce), Name: "Allow", Kind: "allow_once"},
		{OptionID: string(jsonrpc.PermissionDeny), Name: "Deny", Kind: "reject_once"},
	}
}

func (r *Runtime) TerminalCreate(ctx context.Context, sessionID, command string) (string, error) {
	return r.termManager.Create(ctx, command)
}

func (r *Runtime) TerminalKill(ctx context.Context, terminalID string) error {
	return r.termManager.Kill(ctx, terminalID)
}

func (r *Runtime) TerminalRelease(ctx context.Context, terminalID string) error {
	return r.termManager.Release(ctx, terminalID)
}

func (r *Runtime) TerminalOutput(ctx context.Context, terminalID string) (string, bool, string, error) {
	return r.termManager.Output(ctx, terminalID)
}

func (r *Runtime) TerminalWaitForExit(ctx context.Context, terminalID string) (string, *int, bool, error) {
	return r.termManager.WaitForExit(ctx, terminalID)
}

var _ acp.AgentHost = (*Runtime)(nil)
