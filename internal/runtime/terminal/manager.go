// Package terminal implements TerminalManager: agent-requested
// subprocess execution with ring-buffered output capture, independent from
// the ACP connection so a slow consumer of terminal/output never backs up
// the reader draining the child process's stdout/stderr.
package terminal

import (
	"context"
	"io"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/acpcore/internal/common/logger"
	"github.com/kandev/acpcore/internal/events/bus"
	"github.com/kandev/acpcore/internal/runtime/ids"
	"github.com/kandev/acpcore/internal/runtime/ringbuf"
	"github.com/kandev/acpcore/internal/runtime/rterr"
)

const outputBufferCapacity = 256 * 1024

type terminalState struct {
	mu         sync.Mutex
	cmd        *exec.Cmd
	output     *ringbuf.Buffer
	exitStatus string // "", "running", "exited", "killed"
	exitCode   *int
	signalled  bool
	exitedCh   chan struct{}
	released   bool
}

// Manager owns the terminals created for one workspace. Each terminal's
// reader goroutine runs independent of any ACP request/response in flight,
// so output keeps accumulating even while no one is polling it.
type Manager struct {
	log         *logger.Logger
	cwd         string
	workspaceID string
	eventBus    bus.EventBus

	mu        sync.Mutex
	terminals map[string]*terminalState
}

func NewManager(cwd, workspaceID string, eventBus bus.EventBus, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	return &Manager{
		log:         log.WithFields(zap.String("component", "terminal-manager")),
		cwd:         cwd,
		workspaceID: workspaceID,
		eventBus:    eventBus,
		terminals:   make(map[string]*terminalState),
	}
}

func (m *Manager) publish(eventType string, data map[string]interface{}) {
	if m.eventBus == nil {
		return
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["workspaceId"] = m.workspaceID

	event := bus.NewEvent(eventType, "acpcore", data)
	subject := "workspace." + m.workspaceID + ".terminal"
	if err := m.eventBus.Publish(context.Background(), subject, event); err != nil {
		m.log.Warn("dropping event publish failure", zap.String("event_type", eventType), zap.Error(err))
	}
}

// Create spawns command via the shell and returns a fresh terminal id. The
// reader goroutine starts immediately; output accumulates in a bounded
// ring buffer regardless of whether anyone ever calls Output.
func (m *Manager) Create(ctx context.Context, command string) (string, error) {
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = m.cwd

	st := &terminalState{
		output:     ringbuf.New(outputBufferCapacity),
		exitStatus: "running",
		exitedCh:   make(chan struct{}),
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", &rterr.IoError{Op: "terminal stdout pipe", Err: err}
	}
	cmd.Stderr = cmd.Stdout // interleave combined output, ACP terminal output is a single stream

	if err := cmd.Start(); err != nil {
		return "", &rterr.IoError{Op: "start terminal command", Err: err}
	}
	st.cmd = cmd

	terminalID := string(ids.NewTerminalID())

	m.mu.Lock()
	m.terminals[terminalID] = st
	m.mu.Unlock()

	go m.streamOutput(terminalID, st, stdout)
	go m.waitAndFinalize(terminalID, st)

	return terminalID, nil
}

// streamOutput drains stdout in chunks, appending each to the retained ring
// buffer and publishing it as terminal/output, so a subscriber sees output
// as it arrives instead of only once the process exits.
func (m *Manager) streamOutput(terminalID string, st *terminalState, stdout io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			st.output.Append(chunk)
			m.publish("terminal/output", map[string]interface{}{
				"terminalId": terminalID,
				"chunk":      string(chunk),
			})
		}
		if err != nil {
			return
		}
	}
}

func (m *Manager) waitAndFinalize(terminalID string, st *terminalState) {
	err := st.cmd.Wait()

	st.mu.Lock()
	if st.exitStatus == "killed" {
		close(st.exitedCh)
		st.mu.Unlock()
		m.publish("terminal/exited", map[string]interface{}{
			"terminalId":  terminalID,
			"exitStatus":  "killed",
			"userStopped": true,
		})
		return
	}

	st.exitStatus = "exited"
	if err == nil {
		code := 0
		st.exitCode = &code
	} else if exitErr, ok := err.(*exec.ExitError); ok {
		code := exitErr.ExitCode()
		st.exitCode = &code
		st.signalled = code == -1
	}
	exitCode, signalled := st.exitCode, st.signalled
	close(st.exitedCh)
	st.mu.Unlock()

	m.publish("terminal/exited", map[string]interface{}{
		"terminalId":  terminalID,
		"exitStatus":  "exited",
		"exitCode":    exitCode,
		"signalled":   signalled,
		"userStopped": false,
	})
}

func (m *Manager) get(terminalID string) (*terminalState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.terminals[terminalID]
	if !ok {
		return nil, rterr.ErrTerminalNotFound
	}
	return st, nil
}

// Kill sends the process SIGKILL. Killing a terminal does not release it:
// its output remains queryable until Release is called.
func (m *Manager) Kill(ctx context.Context, terminalID string) error {
	st, err := m.get(terminalID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.exitStatus != "running" {
		return nil
	}
	if st.cmd.Process != nil {
		_ = st.cmd.Process.Kill()
	}
	st.exitStatus = "killed"
	return nil
}

// Release discards a terminal's state. The terminal must not be referenced
// afterward; a second Release or any further Output/WaitForExit call
// returns ErrTerminalNotFound.
func (m *Manager) Release(ctx context.Context, terminalID string) error {
	m.mu.Lock()
	st, ok := m.terminals[terminalID]
	if ok {
		delete(m.terminals, terminalID)
	}
	m.mu.Unlock()
	if !ok {
		return rterr.ErrTerminalNotFound
	}
	st.mu.Lock()
	st.released = true
	st.mu.Unlock()
	return nil
}

// Output returns everything captured so far. truncated reports whether the
// ring buffer has evicted earlier output.
func (m *Manager) Output(ctx context.Context, terminalID string) (output string, truncated bool, exitStatus string, err error) {
	st, err := m.get(terminalID)
	if err != nil {
		return "", false, "", err
	}
	st.mu.Lock()
	status := st.exitStatus
	st.mu.Unlock()
	return st.output.String(), st.output.Truncated(), status, nil
}

// WaitForExit blocks until the terminal's process exits, is killed, or ctx
// is cancelled.
func (m *Manager) WaitForExit(ctx context.Context, terminalID string) (exitStatus string, exitCode *int, signalled bool, err error) {
	st, err := m.get(terminalID)
	if err != nil {
		return "", nil, false, err
	}

	select {
	case <-st.exitedCh:
	case <-ctx.Done():
		return "", nil, false, ctx.Err()
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.exitStatus, st.exitCode, st.signalled, nil
}

// CloseAll kills and releases every terminal in the manager, used during
// workspace teardown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	terminals := m.terminals
	m.terminals = make(map[string]*terminalState)
	m.mu.Unlock()

	for id, st := range terminals {
		st.mu.Lock()
		if st.exitStatus == "running" && st.cmd.Process != nil {
			_ = st.cmd.Process.Kill()
		}
		st.mu.Unlock()
		m.log.Debug("closed terminal on teardown", zap.String("terminal_id", id))
	}
}
