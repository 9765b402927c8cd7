package acp

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kandev/acpcore/internal/runtime/rterr"
	"github.com/kandev/acpcore/internal/tracing"
	"github.com/kandev/acpcore/pkg/acp/jsonrpc"
)

func traceEventAttrs(payload json.RawMessage) trace.EventOption {
	return trace.WithAttributes(attribute.String("payload", tracing.TruncateAttr(string(payload))))
}

// handleNotification is the jsonrpc.NotificationHandler. It only recognizes
// session/update; anything else is logged and otherwise ignored, since no
// other notification is part of the protocol surface this core speaks.
func (a *AcpAgent) handleNotification(method string, params json.RawMessage) {
	_, span := tracing.Tracer().Start(context.Background(), "acp.inbound_notification")
	defer span.End()
	span.SetAttributes(attribute.String("acp.method", method))
	span.AddEvent("params", traceEventAttrs(params))

	if method != jsonrpc.MethodSessionUpdate {
		a.log.Warn("unrecognized notification method", zap.String("method", method))
		return
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(params, &raw); err != nil {
		a.log.Warn("malformed session/update params", zap.Error(err))
		a.host.OnSessionUpdate(a.currentSessionID(), map[string]interface{}{
			"type": "raw",
			"json": string(params),
		})
		return
	}

	sessionID, _ := raw["sessionId"].(string)
	if sessionID == "" {
		sessionID = a.currentSessionID()
	}
	a.host.OnSessionUpdate(sessionID, Normalize(raw))
}

// handleRawLine is the jsonrpc.RawLineHandler. A line that failed to
// classify as a response, request, or notification is still forwarded
// upward rather than discarded, per the never-fail normalization rule.
func (a *AcpAgent) handleRawLine(line []byte, decodeErr error) {
	a.log.Warn("undecodable line from adapter", zap.Error(decodeErr), zap.ByteString("line", line))
	a.host.OnSessionUpdate(a.currentSessionID(), map[string]interface{}{
		"type": "raw",
		"json": string(line),
	})
}

func (a *AcpAgent) currentSessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// handleRequest is the jsonrpc.RequestHandler: it serves the calls an
// adapter issues back to the client (permission arbitration, file I/O,
// terminal control), delegating each to AgentHost.
func (a *AcpAgent) handleRequest(ctx context.Context, method string, params json.RawMessage) (interface{}, *jsonrpc.Error) {
	ctx, span := tracing.Tracer().Start(ctx, "acp.inbound_request")
	defer span.End()
	span.SetAttributes(
		attribute.String("acp.method", method),
		attribute.String("acp.session_id", a.currentSessionID()),
	)

	switch method {
	case jsonrpc.MethodRequestPermission:
		return a.serveRequestPermission(ctx, params)
	case jsonrpc.MethodFsReadTextFile:
		return a.serveFsReadTextFile(ctx, params)
	case jsonrpc.MethodFsWriteTextFile:
		return a.serveFsWriteTextFile(ctx, params)
	case jsonrpc.MethodTerminalCreate:
		return a.serveTerminalCreate(ctx, params)
	case jsonrpc.MethodTerminalKill:
		return a.serveTerminalKill(ctx, params)
	case jsonrpc.MethodTerminalRelease:
		return a.serveTerminalRelease(ctx, params)
	case jsonrpc.MethodTerminalOutput:
		return a.serveTerminalOutput(ctx, params)
	case jsonrpc.MethodTerminalWaitForExit:
		return a.serveTerminalWaitForExit(ctx, params)
	default:
		return nil, &jsonrpc.Error{Code: jsonrpc.MethodNotFound, Message: "unsupported method: " + method}
	}
}

func rpcErrorFor(err error) *jsonrpc.Error {
	return &jsonrpc.Error{Code: jsonrpc.InternalError, Message: rterr.CodeOf(err) + ": " + err.Error()}
}

func (a *AcpAgent) serveRequestPermission(ctx context.Context, params json.RawMessage) (interface{}, *jsonrpc.Error) {
	var p jsonrpc.RequestPermissionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: err.Error()}
	}
	outcome, err := a.host.RequestPermission(ctx, PermissionRequest{
		SessionID:  p.SessionID,
		ToolCallID: p.ToolCall.ToolCallID,
		Title:      p.ToolCall.Title,
		Options:    p.Options,
	})
	if err != nil {
		return nil, rpcErrorFor(err)
	}
	return jsonrpc.RequestPermissionResult{Outcome: outcome}, nil
}

func (a *AcpAgent) serveFsReadTextFile(ctx context.Context, params json.RawMessage) (interface{}, *jsonrpc.Error) {
	var p jsonrpc.FsReadTextFileParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: err.Error()}
	}
	content, err := a.host.FsReadTextFile(ctx, p.SessionID, p.Path, p.Line, p.Limit)
	if err != nil {
		return nil, rpcErrorFor(err)
	}
	return jsonrpc.FsReadTextFileResult{Content: content}, nil
}

func (a *AcpAgent) serveFsWriteTextFile(ctx context.Context, params json.RawMessage) (interface{}, *jsonrpc.Error) {
	var p jsonrpc.FsWriteTextFileParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: err.Error()}
	}
	if err := a.host.FsWriteTextFile(ctx, p.SessionID, p.Path, p.Content); err != nil {
		return nil, rpcErrorFor(err)
	}
	return jsonrpc.FsWriteTextFileResult{}, nil
}

func (a *AcpAgent) serveTerminalCreate(ctx context.Context, params json.RawMessage) (interface{}, *jsonrpc.Error) {
	var p jsonrpc.TerminalCreateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: err.Error()}
	}
	terminalID, err := a.host.TerminalCreate(ctx, p.SessionID, p.Command)
	if err != nil {
		return nil, rpcErrorFor(err)
	}
	return jsonrpc.TerminalCreateResult{TerminalID: terminalID}, nil
}

func (a *AcpAgent) serveTerminalKill(ctx context.Context, params json.RawMessage) (interface{}, *jsonrpc.Error) {
	var p jsonrpc.TerminalKillParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: err.Error()}
	}
	if err := a.host.TerminalKill(ctx, p.TerminalID); err != nil {
		return nil, rpcErrorFor(err)
	}
	return struct{}{}, nil
}

func (a *AcpAgent) serveTerminalRelease(ctx context.Context, params json.RawMessage) (interface{}, *jsonrpc.Error) {
	var p jsonrpc.TerminalReleaseParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: err.Error()}
	}
	if err := a.host.TerminalRelease(ctx, p.TerminalID); err != nil {
		return nil, rpcErrorFor(err)
	}
	return struct{}{}, nil
}

func (a *AcpAgent) serveTerminalOutput(ctx context.Context, params json.RawMessage) (interface{}, *jsonrpc.Error) {
	var p jsonrpc.TerminalOutputParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: err.Error()}
	}
	output, truncated, exitStatus, err := a.host.TerminalOutput(ctx, p.TerminalID)
	if err != nil {
		return nil, rpcErrorFor(err)
	}
	return jsonrpc.TerminalOutputResult{Output: output, Truncated: truncated, ExitStatus: exitStatus}, nil
}

func (a *AcpAgent) serveTerminalWaitForExit(ctx context.Context, params json.RawMessage) (interface{}, *jsonrpc.Error) {
	var p jsonrpc.TerminalWaitForExitParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: err.Error()}
	}
	exitStatus, exitCode, signalled, err := a.host.TerminalWaitForExit(ctx, p.TerminalID)
	if err != nil {
		return nil, rpcErrorFor(err)
	}
	return jsonrpc.TerminalWaitForExitResult{ExitStatus: exitStatus, ExitCode: exitCode, Signalled: signalled}, nil
}
