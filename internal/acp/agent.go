package acp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/acpcore/internal/common/logger"
	"github.com/kandev/acpcore/internal/runtime/ringbuf"
	"github.com/kandev/acpcore/internal/runtime/rterr"
	"github.com/kandev/acpcore/pkg/acp/jsonrpc"
)

const stderrTailCapacity = 16 * 1024

// AdapterCommand describes how to spawn the agent's ACP adapter process.
type AdapterCommand struct {
	Path         string
	Args         []string
	EnvOverrides map[string]string
}

// PermissionRequest is the inbound session/request_permission call, reduced
// to what AgentHost needs to surface it to the permission hub.
type PermissionRequest struct {
	SessionID  string
	ToolCallID string
	Title      string
	Options    []jsonrpc.PermissionOption
}

// AgentHost serves the requests and notifications an adapter pushes at the
// client side of the connection: file I/O, terminal control, permission
// arbitration, and streamed session updates. One AcpAgent is bound to
// exactly one AgentHost for its lifetime.
type AgentHost interface {
	OnSessionUpdate(sessionID string, normalized map[string]interface{})
	RequestPermission(ctx context.Context, req PermissionRequest) (jsonrpc.PermissionOutcome, error)
	FsReadTextFile(ctx context.Context, sessionID, path string, line, limit *int) (string, error)
	FsWriteTextFile(ctx context.Context, sessionID, path, content string) error
	TerminalCreate(ctx context.Context, sessionID, command string) (terminalID string, err error)
	TerminalKill(ctx context.Context, terminalID string) error
	TerminalRelease(ctx context.Context, terminalID string) error
	TerminalOutput(ctx context.Context, terminalID string) (output string, truncated bool, exitStatus string, err error)
	TerminalWaitForExit(ctx context.Context, terminalID string) (exitStatus string, exitCode *int, signalled bool, err error)
}

// AcpAgent owns one adapter subprocess and the JSON-RPC connection to it. It
// is the south-bound half of AgentRuntime: the runtime layer owns the
// state machine, AcpAgent owns the wire protocol.
type AcpAgent struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	client *jsonrpc.Client
	host   AgentHost
	log    *logger.Logger

	stderrTail *ringbuf.Buffer

	mu        sync.Mutex
	sessionID string
}

// Connect spawns the adapter, performs the initialize+session/new handshake,
// and returns a ready AcpAgent bound to host. The returned sessionID is the
// one to use for subsequent SendPrompt/CancelTurn calls.
func Connect(ctx context.Context, ac AdapterCommand, cwd string, host AgentHost, log *logger.Logger) (agent *AcpAgent, sessionID string, authMethods []jsonrpc.AuthMethod, err error) {
	if log == nil {
		log = logger.Default()
	}
	log = log.WithFields(zap.String("component", "acp-agent"))

	cmd := exec.CommandContext(ctx, ac.Path, ac.Args...)
	cmd.Dir = cwd
	cmd.Env = composeEnv(os.Environ(), ac.EnvOverrides)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, "", nil, &rterr.IoError{Op: "stdin pipe", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, "", nil, &rterr.IoError{Op: "stdout pipe", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, "", nil, &rterr.IoError{Op: "stderr pipe", Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, "", nil, &rterr.IoError{Op: "start adapter", Err: err}
	}

	a := &AcpAgent{
		cmd:        cmd,
		stdin:      stdin,
		host:       host,
		log:        log,
		stderrTail: ringbuf.New(stderrTailCapacity),
	}

	a.client = jsonrpc.NewClient(stdout, stdin, log)
	a.client.SetNotificationHandler(a.handleNotification)
	a.client.SetRequestHandler(a.handleRequest)
	a.client.SetRawLineHandler(a.handleRawLine)

	go io.Copy(a.stderrTail, stderr)

	if err := a.client.Start(ctx); err != nil {
		a.killProcess()
		return nil, "", nil, err
	}

	initResult, err := a.initialize(ctx)
	if err != nil {
		a.killProcess()
		return nil, "", nil, a.wrapHandshakeErr("initialize", err)
	}

	newSession, err := a.newSession(ctx, cwd)
	if err != nil {
		a.killProcess()
		return nil, "", nil, a.wrapHandshakeErr("session/new", err)
	}

	a.mu.Lock()
	a.sessionID = newSession.SessionID
	a.mu.Unlock()

	return a, newSession.SessionID, initResult.AuthMethods, nil
}

func (a *AcpAgent) wrapHandshakeErr(step string, err error) error {
	tail := a.stderrTail.String()
	if tail == "" {
		return fmt.Errorf("%s: %w", step, err)
	}
	return fmt.Errorf("%s: %w (stderr: %s)", step, err, tail)
}

func (a *AcpAgent) initialize(ctx context.Context) (*jsonrpc.InitializeResult, error) {
	raw, err := a.client.Call(ctx, jsonrpc.MethodInitialize, jsonrpc.InitializeParams{
		ProtocolVersion: jsonrpc.ProtocolVersion,
		ClientInfo:      jsonrpc.ClientInfo{Name: "acpcore", Version: "0.1.0"},
		Capabilities: jsonrpc.ClientCapabilities{
			Fs:       jsonrpc.FsCapabilities{ReadTextFile: true, WriteTextFile: true},
			Terminal: true,
		},
	})
	if err != nil {
		return nil, err
	}
	var result jsonrpc.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &rterr.ProtocolError{Reason: "malformed initialize result: " + err.Error()}
	}
	return &result, nil
}

func (a *AcpAgent) newSession(ctx context.Context, cwd string) (*jsonrpc.SessionNewResult, error) {
	raw, err := a.client.Call(ctx, jsonrpc.MethodSessionNew, jsonrpc.SessionNewParams{Cwd: cwd})
	if err != nil {
		return nil, err
	}
	var result jsonrpc.SessionNewResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &rterr.ProtocolError{Reason: "malformed session/new result: " + err.Error()}
	}
	return &result, nil
}

// SendPrompt blocks until the turn completes (or ctx is cancelled) and
// returns the stop reason the agent reported. Streamed content arrives on
// AgentHost.OnSessionUpdate before this returns.
func (a *AcpAgent) SendPrompt(ctx context.Context, sessionID string, prompt []jsonrpc.ContentBlock) (string, error) {
	raw, err := a.client.Call(ctx, jsonrpc.MethodSessionPrompt, jsonrpc.SessionPromptParams{
		SessionID: sessionID,
		Prompt:    prompt,
	})
	if err != nil {
		return "", err
	}
	var result jsonrpc.SessionPromptResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", &rterr.ProtocolError{Reason: "malformed session/prompt result: " + err.Error()}
	}
	if result.StopReason == "" {
		result.StopReason = "end_turn"
	}
	return result.StopReason, nil
}

// CancelTurn is fire-and-forget: the runtime layer does not block a cancel
// request on the agent's acknowledgement, since a hung adapter must never
// prevent the user from reclaiming control of a session.
func (a *AcpAgent) CancelTurn(sessionID string) {
	if err := a.client.Notify(jsonrpc.MethodSessionCancel, jsonrpc.SessionCancelParams{SessionID: sessionID}); err != nil {
		a.log.Warn("session/cancel notify failed", zap.Error(err))
	}
}

// Shutdown closes stdin (most adapters exit on EOF), waits up to timeout for
// the process to exit, and escalates to killing it if it doesn't.
func (a *AcpAgent) Shutdown(ctx context.Context, timeout time.Duration) error {
	_ = a.client.Stop()
	_ = a.stdin.Close()

	waitCh := make(chan error, 1)
	go func() { waitCh <- a.cmd.Wait() }()

	select {
	case <-waitCh:
		return nil
	case <-time.After(timeout):
		a.killProcess()
		<-waitCh
		return nil
	case <-ctx.Done():
		a.killProcess()
		<-waitCh
		return ctx.Err()
	}
}

func (a *AcpAgent) killProcess() {
	if a.cmd.Process != nil {
		_ = a.cmd.Process.Kill()
	}
}

// StderrTail returns the bounded stderr capture for attaching to an Errored
// runtime status.
func (a *AcpAgent) StderrTail() string {
	return a.stderrTail.String()
}

func composeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(overrides))
	seen := make(map[string]bool, len(overrides))
	for k := range overrides {
		seen[k] = true
	}
	for _, kv := range base {
		key := kv
		if idx := indexByte(kv, '='); idx >= 0 {
			key = kv[:idx]
		}
		if seen[key] {
			continue
		}
		out = append(out, kv)
	}
	for k, v := range overrides {
		out = append(out, k+"="+v)
	}
	return out
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
