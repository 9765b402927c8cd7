// Package permission implements the global, scope-tagged permission
// arbitration point: every agent-initiated permission
// request, regardless of which workspace or agent it came from, is
// delivered to exactly one waiter, exactly once.
package permission

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/kandev/acpcore/internal/common/logger"
	"github.com/kandev/acpcore/internal/events/bus"
	"github.com/kandev/acpcore/internal/runtime/rterr"
	"github.com/kandev/acpcore/internal/tracing"
	"github.com/kandev/acpcore/pkg/acp/jsonrpc"
)

// Scope identifies where a permission request originated, so a listener can
// filter to the workspace or agent it cares about without missing requests
// that arrive for a different one.
type Scope struct {
	WorkspaceID string
	AgentID     string
}

// Request is one pending permission decision.
type Request struct {
	ID         string
	Scope      Scope
	SessionID  string
	ToolCallID string
	Title      string
	Options    []jsonrpc.PermissionOption
}

type waiter struct {
	req    Request
	result chan jsonrpc.PermissionOutcome
	once   sync.Once
}

func (w *waiter) deliver(outcome jsonrpc.PermissionOutcome) bool {
	delivered := false
	w.once.Do(func() {
		w.result <- outcome
		delivered = true
	})
	return delivered
}

// Hub arbitrates permission requests across all workspaces and agents. It
// is a singleton in the process: one Hub backs every AcpAgent's
// RequestPermission call.
type Hub struct {
	log *logger.Logger

	mu      sync.Mutex
	waiters map[string]*waiter

	// subscribers receive every newly-registered Request so a north-bound
	// listener (the event stream) can surface it to a user.
	subscribers map[string]chan Request
}

func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Default()
	}
	return &Hub{
		log:         log.WithFields(zap.String("component", "permission-hub")),
		waiters:     make(map[string]*waiter),
		subscribers: make(map[string]chan Request),
	}
}

// Request registers a new permission request and blocks until Respond,
// Cancel, or ctx cancellation resolves it. It never loses a decision: once
// a waiter is registered, exactly one of Respond/Cancel/ctx-expiry resolves
// it, and only one of them wins the delivery race.
func (h *Hub) Request(ctx context.Context, scope Scope, sessionID, toolCallID, title string, options []jsonrpc.PermissionOption) (jsonrpc.PermissionOutcome, error) {
	ctx, span := tracing.Tracer().Start(ctx, "permission.request")
	defer span.End()
	span.SetAttributes(
		attribute.String("permission.workspace_id", scope.WorkspaceID),
		attribute.String("permission.agent_id", scope.AgentID),
		attribute.String("permission.title", title),
	)

	req := Request{
		ID:         uuid.NewString(),
		Scope:      scope,
		SessionID:  sessionID,
		ToolCallID: toolCallID,
		Title:      title,
		Options:    options,
	}
	w := &waiter{req: req, result: make(chan jsonrpc.PermissionOutcome, 1)}

	h.mu.Lock()
	h.waiters[req.ID] = w
	h.mu.Unlock()

	h.broadcast(req)

	defer func() {
		h.mu.Lock()
		delete(h.waiters, req.ID)
		h.mu.Unlock()
	}()

	select {
	case outcome := <-w.result:
		span.SetAttributes(attribute.String("permission.outcome", outcome.Outcome))
		return outcome, nil
	case <-ctx.Done():
		if !w.deliver(jsonrpc.PermissionOutcome{Outcome: "cancelled"}) {
			// Respond or CancelAll won the delivery race; report its outcome.
			outcome := <-w.result
			span.SetAttributes(attribute.String("permission.outcome", outcome.Outcome))
			return outcome, nil
		}
		span.SetAttributes(attribute.String("permission.outcome", "cancelled"))
		return jsonrpc.PermissionOutcome{Outcome: "cancelled"}, ctx.Err()
	}
}

// Respond resolves a pending request by id with a decision from the closed
// {AllowOnce, Deny} vocabulary. It returns ErrOperationNotFound if the
// request is unknown or was already resolved (double-respond,
// respond-after-cancel, or respond-after-timeout all land here), and
// ErrInvalidInput if decision isn't one of the two allowed values.
func (h *Hub) Respond(requestID string, decision jsonrpc.PermissionDecision) error {
	if decision != jsonrpc.PermissionAllowOnce && decision != jsonrpc.PermissionDeny {
		return rterr.ErrInvalidInput
	}
	h.mu.Lock()
	w, ok := h.waiters[requestID]
	h.mu.Unlock()
	if !ok {
		return rterr.ErrOperationNotFound
	}
	if !w.deliver(jsonrpc.PermissionOutcome{Outcome: "selected", Decision: decision}) {
		return rterr.ErrOperationNotFound
	}
	return nil
}

// CancelAll resolves every pending request scoped to a workspace or agent
// (whichever is non-empty) with the cancelled outcome. Used when a
// workspace or agent is torn down while a permission decision is in flight
// so the corresponding AcpAgent request doesn't hang forever.
func (h *Hub) CancelAll(scope Scope) {
	h.mu.Lock()
	var matched []*waiter
	for _, w := range h.waiters {
		if scopeMatches(w.req.Scope, scope) {
			matched = append(matched, w)
		}
	}
	h.mu.Unlock()

	for _, w := range matched {
		w.deliver(jsonrpc.PermissionOutcome{Outcome: "cancelled"})
	}
}

func scopeMatches(have, want Scope) bool {
	if want.WorkspaceID != "" && have.WorkspaceID != want.WorkspaceID {
		return false
	}
	if want.AgentID != "" && have.AgentID != want.AgentID {
		return false
	}
	return true
}

// Subscribe registers a listener for newly-created requests, used by the
// event stream to push permission prompts to connected clients. The
// returned function unsubscribes.
func (h *Hub) Subscribe(bufSize int) (<-chan Request, func()) {
	id := uuid.NewString()
	ch := make(chan Request, bufSize)

	h.mu.Lock()
	h.subscribers[id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.subscribers, id)
		h.mu.Unlock()
		close(ch)
	}
}

func (h *Hub) broadcast(req Request) {
	h.mu.Lock()
	subs := make([]chan Request, 0, len(h.subscribers))
	for _, ch := range h.subscribers {
		subs = append(subs, ch)
	}
	h.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- req:
		default:
			h.log.Warn("dropping permission broadcast, subscriber backlog full")
		}
	}
}

// PublishRequestsTo subscribes to every newly-registered request and
// republishes it on eventBus as acp/permission_requested, so the north-bound
// event stream can surface a pending decision without a client already
// knowing its operation id out-of-band. It runs until ctx is cancelled.
func (h *Hub) PublishRequestsTo(ctx context.Context, eventBus bus.EventBus) {
	sub, unsubscribe := h.Subscribe(32)
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case req, ok := <-sub:
				if !ok {
					return
				}
				h.publishPermissionRequested(eventBus, req)
			}
		}
	}()
}

func (h *Hub) publishPermissionRequested(eventBus bus.EventBus, req Request) {
	optionIDs := make([]string, 0, len(req.Options))
	for _, opt := range req.Options {
		optionIDs = append(optionIDs, opt.OptionID)
	}

	data := map[string]interface{}{
		"operationId": req.ID,
		"workspaceId": req.Scope.WorkspaceID,
		"agentId":     req.Scope.AgentID,
		"sessionId":   req.SessionID,
		"toolCallId":  req.ToolCallID,
		"title":       req.Title,
		"options":     optionIDs,
	}
	event := bus.NewEvent("acp/permission_requested", "acpcore", data)
	subject := "workspace." + req.Scope.WorkspaceID + ".permission"
	if err := eventBus.Publish(context.Background(), subject, event); err != nil {
		h.log.Warn("dropping permission_requested publish failure", zap.Error(err))
	}
}
