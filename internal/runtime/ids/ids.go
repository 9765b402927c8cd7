// Package ids mints the opaque identifiers the core owns: WorkspaceId,
// AgentId, OperationId, TerminalId. SessionId and ToolCallId are minted by
// the agent and are plain strings received over the wire, not generated
// here.
package ids

import "github.com/google/uuid"

// New mints a fresh UUIDv4 string. All four id spaces the core owns share
// this generator; they are kept as distinct Go types only at the call site
// via named string types below, so a WorkspaceId can't be silently passed
// where an AgentId is expected.
func New() string {
	return uuid.NewString()
}

// WorkspaceID identifies a workspace.
type WorkspaceID string

// AgentID identifies an AgentRecord/AgentRuntime pair.
type AgentID string

// OperationID identifies a pending permission request.
type OperationID string

// TerminalID identifies a terminal execution.
type TerminalID string

func NewWorkspaceID() WorkspaceID { return WorkspaceID(New()) }
func NewAgentID() AgentID         { return AgentID(New()) }
func NewOperationID() OperationID { return OperationID(New()) }
func NewTerminalID() TerminalID   { return TerminalID(New()) }
