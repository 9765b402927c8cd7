package api

import (
	"fmt"

	"github.com/kandev/acpcore/internal/runtime/rterr"
	"github.com/kandev/acpcore/pkg/acp/jsonrpc"
)

// envelope is the uniform response shape for every command-surface
// endpoint: Success plus either a payload or an Error/Code pair.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

func ok(data interface{}) envelope {
	return envelope{Success: true, Data: data}
}

func fail(err error) envelope {
	return envelope{Success: false, Error: err.Error(), Code: rterr.CodeOf(err)}
}

// httpStatusFor maps a taxonomy code to the HTTP status the command
// surface answers with.
func httpStatusFor(code string) int {
	switch code {
	case "InvalidInput", "ProtocolError":
		return 400
	case "WorkspaceNotFound", "AgentNotFound", "TerminalNotFound", "OperationNotFound", "PluginNotInstalled":
		return 404
	case "Denied":
		return 403
	case "Cancelled":
		return 409
	default:
		return 500
	}
}

type createWorkspaceRequest struct {
	Root string `json:"root" binding:"required"`
}

type startAgentRequest struct {
	PluginID     string            `json:"pluginId" binding:"required"`
	EnvOverrides map[string]string `json:"envOverrides,omitempty"`
}

type promptRequest struct {
	Text string `json:"text" binding:"required"`
}

type respondPermissionRequest struct {
	Decision jsonrpc.PermissionDecision `json:"decision" binding:"required,oneof=allow_once deny"`
}

// badRequest wraps a request-binding failure with the InvalidInput code.
func badRequest(err error) error {
	return fmt.Errorf("%w: %v", rterr.ErrInvalidInput, err)
}
