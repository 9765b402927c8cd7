package permission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acpcore/internal/events/bus"
	"github.com/kandev/acpcore/internal/runtime/rterr"
	"github.com/kandev/acpcore/pkg/acp/jsonrpc"
)

func optionSet() []jsonrpc.PermissionOption {
	return []jsonrpc.PermissionOption{
		{OptionID: "allow", Name: "Allow", Kind: "allow_once"},
		{OptionID: "deny", Name: "Deny", Kind: "reject_once"},
	}
}

func TestRequestResolvedByRespond(t *testing.T) {
	h := NewHub(nil)
	sub, unsubscribe := h.Subscribe(4)
	defer unsubscribe()

	resultCh := make(chan jsonrpc.PermissionOutcome, 1)
	go func() {
		outcome, err := h.Request(context.Background(), Scope{WorkspaceID: "w1"}, "s1", "tc1", "run rm -rf", optionSet())
		require.NoError(t, err)
		resultCh <- outcome
	}()

	req := <-sub
	assert.Equal(t, "w1", req.Scope.WorkspaceID)
	require.NoError(t, h.Respond(req.ID, jsonrpc.PermissionAllowOnce))

	select {
	case outcome := <-resultCh:
		assert.Equal(t, "selected", outcome.Outcome)
		assert.Equal(t, jsonrpc.PermissionAllowOnce, outcome.Decision)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Request to resolve")
	}
}

func TestRespondUnknownIDReturnsOperationNotFound(t *testing.T) {
	h := NewHub(nil)
	err := h.Respond("does-not-exist", jsonrpc.PermissionAllowOnce)
	require.Error(t, err)
	assert.Equal(t, rterr.ErrOperationNotFound, err)
}

func TestRespondRejectsDecisionOutsideClosedVocabulary(t *testing.T) {
	h := NewHub(nil)
	sub, unsubscribe := h.Subscribe(4)
	defer unsubscribe()

	go h.Request(context.Background(), Scope{WorkspaceID: "w1"}, "s1", "tc1", "t", optionSet())
	req := <-sub

	err := h.Respond(req.ID, jsonrpc.PermissionDecision("maybe"))
	require.Error(t, err)
	assert.Equal(t, rterr.ErrInvalidInput, err)
}

func TestDoubleRespondOnlyDeliversOnce(t *testing.T) {
	h := NewHub(nil)
	sub, unsubscribe := h.Subscribe(4)
	defer unsubscribe()

	go h.Request(context.Background(), Scope{WorkspaceID: "w1"}, "s1", "tc1", "t", optionSet())
	req := <-sub

	require.NoError(t, h.Respond(req.ID, jsonrpc.PermissionAllowOnce))
	err := h.Respond(req.ID, jsonrpc.PermissionDeny)
	require.Error(t, err)
	assert.Equal(t, rterr.ErrOperationNotFound, err)
}

func TestCancelAllResolvesScopedWaiters(t *testing.T) {
	h := NewHub(nil)
	sub, unsubscribe := h.Subscribe(8)
	defer unsubscribe()

	var wg sync.WaitGroup
	outcomes := make([]jsonrpc.PermissionOutcome, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		outcomes[0], _ = h.Request(context.Background(), Scope{WorkspaceID: "w1", AgentID: "a1"}, "s1", "tc1", "t1", optionSet())
	}()
	go func() {
		defer wg.Done()
		outcomes[1], _ = h.Request(context.Background(), Scope{WorkspaceID: "w2", AgentID: "a2"}, "s2", "tc2", "t2", optionSet())
	}()

	first := <-sub
	second := <-sub
	var w2Req Request
	if first.Scope.WorkspaceID == "w2" {
		w2Req = first
	} else {
		w2Req = second
	}

	h.CancelAll(Scope{WorkspaceID: "w1"})
	require.NoError(t, h.Respond(w2Req.ID, jsonrpc.PermissionAllowOnce))
	wg.Wait()

	assert.Equal(t, "cancelled", outcomes[0].Outcome)
	assert.Equal(t, "selected", outcomes[1].Outcome)
	assert.Equal(t, jsonrpc.PermissionAllowOnce, outcomes[1].Decision)
}

func TestRequestCancelledByContext(t *testing.T) {
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())

	resultCh := make(chan error, 1)
	go func() {
		_, err := h.Request(ctx, Scope{WorkspaceID: "w1"}, "s1", "tc1", "t", optionSet())
		resultCh <- err
	}()

	cancel()

	select {
	case err := <-resultCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for context-cancelled Request to return")
	}
}

func TestPublishRequestsToForwardsPermissionRequestedEvent(t *testing.T) {
	h := NewHub(nil)
	eventBus := bus.NewMemoryEventBus(nil)
	defer eventBus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.PublishRequestsTo(ctx, eventBus)

	received := make(chan *bus.Event, 1)
	sub, err := eventBus.Subscribe("workspace.>", func(_ context.Context, event *bus.Event) error {
		received <- event
		return nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	go h.Request(context.Background(), Scope{WorkspaceID: "w1", AgentID: "a1"}, "s1", "tc1", "run rm -rf", optionSet())

	select {
	case event := <-received:
		assert.Equal(t, "acp/permission_requested", event.Type)
		assert.Equal(t, "w1", event.Data["workspaceId"])
		assert.Equal(t, "a1", event.Data["agentId"])
		assert.NotEmpty(t, event.Data["operationId"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for acp/permission_requested to reach the event bus")
	}
}
