// Package rterr defines the error taxonomy shared across the command
// surface, the runtime layer, and the protocol layer.
package rterr

import (
	"errors"
	"fmt"
)

// Sentinel errors for plain id-lookup failures. These carry no payload
// beyond their message, matching the style of internal/agent/controller's
// sentinel errors.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrWorkspaceNotFound = errors.New("workspace not found")
	ErrAgentNotFound     = errors.New("agent not found")
	ErrTerminalNotFound  = errors.New("terminal not found")
	ErrOperationNotFound = errors.New("operation not found")
	ErrDenied            = errors.New("permission denied")
	ErrCancelled         = errors.New("operation cancelled")
)

// PathEscape indicates path resolution landed outside the workspace root.
type PathEscape struct {
	Path string
	Root string
}

func (e *PathEscape) Error() string {
	return fmt.Sprintf("path %q resolves outside workspace root %q", e.Path, e.Root)
}

// IoError wraps an OS-level failure.
type IoError struct {
	Op  string
	Err error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("io error during %s: %v", e.Op, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// PluginNotInstalled indicates resolveBin was called for a plugin with no
// cached install.
type PluginNotInstalled struct {
	PluginID string
}

func (e *PluginNotInstalled) Error() string {
	return fmt.Sprintf("plugin %q is not installed", e.PluginID)
}

// PluginMissingBinPath indicates the plugin's cache entry exists but has no
// recorded executable.
type PluginMissingBinPath struct {
	PluginID string
}

func (e *PluginMissingBinPath) Error() string {
	return fmt.Sprintf("plugin %q has no recorded bin path", e.PluginID)
}

// ProtocolError indicates malformed inbound JSON-RPC framing or an
// unexpected peer-ended stream.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

// RpcError carries a JSON-RPC error object returned by the agent, verbatim.
type RpcError struct {
	Code    int
	Message string
}

func (e *RpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// CodeOf maps any error in this taxonomy to a stable string identifier used
// on the command surface and in JSON-RPC error responses. Unrecognized
// errors map to "IoError" since they are, from the caller's perspective,
// an opaque underlying failure.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	case errors.Is(err, ErrWorkspaceNotFound):
		return "WorkspaceNotFound"
	case errors.Is(err, ErrAgentNotFound):
		return "AgentNotFound"
	case errors.Is(err, ErrTerminalNotFound):
		return "TerminalNotFound"
	case errors.Is(err, ErrOperationNotFound):
		return "OperationNotFound"
	case errors.Is(err, ErrDenied):
		return "Denied"
	case errors.Is(err, ErrCancelled):
		return "Cancelled"
	}
	var pathEscape *PathEscape
	var ioErr *IoError
	var notInstalled *PluginNotInstalled
	var missingBin *PluginMissingBinPath
	var protoErr *ProtocolError
	var rpcErr *RpcError
	switch {
	case errors.As(err, &pathEscape):
		return "PathEscape"
	case errors.As(err, &notInstalled):
		return "PluginNotInstalled"
	case errors.As(err, &missingBin):
		return "PluginMissingBinPath"
	case errors.As(err, &protoErr):
		return "ProtocolError"
	case errors.As(err, &rpcErr):
		return "RpcError"
	case errors.As(err, &ioErr):
		return "IoError"
	}
	return "IoError"
}
