package terminal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acpcore/internal/events/bus"
	"github.com/kandev/acpcore/internal/runtime/rterr"
)

func TestCreateCapturesOutputAndExitsCleanly(t *testing.T) {
	m := NewManager(t.TempDir(), "ws-test", nil, nil)
	ctx := context.Background()

	id, err := m.Create(ctx, "echo hello")
	require.NoError(t, err)

	exitStatus, exitCode, signalled, err := m.WaitForExit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "exited", exitStatus)
	require.NotNil(t, exitCode)
	assert.Equal(t, 0, *exitCode)
	assert.False(t, signalled)

	output, truncated, status, err := m.Output(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", output)
	assert.False(t, truncated)
	assert.Equal(t, "exited", status)
}

func TestCreateCapturesNonZeroExit(t *testing.T) {
	m := NewManager(t.TempDir(), "ws-test", nil, nil)
	ctx := context.Background()

	id, err := m.Create(ctx, "exit 3")
	require.NoError(t, err)

	exitStatus, exitCode, signalled, err := m.WaitForExit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "exited", exitStatus)
	require.NotNil(t, exitCode)
	assert.Equal(t, 3, *exitCode)
	assert.False(t, signalled)
}

func TestKillStopsRunningProcess(t *testing.T) {
	m := NewManager(t.TempDir(), "ws-test", nil, nil)
	ctx := context.Background()

	id, err := m.Create(ctx, "sleep 30")
	require.NoError(t, err)

	require.NoError(t, m.Kill(ctx, id))

	exitStatus, _, _, err := m.WaitForExit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "killed", exitStatus)
}

func TestReleaseThenAnyCallReturnsNotFound(t *testing.T) {
	m := NewManager(t.TempDir(), "ws-test", nil, nil)
	ctx := context.Background()

	id, err := m.Create(ctx, "echo done")
	require.NoError(t, err)
	_, _, _, err = m.WaitForExit(ctx, id)
	require.NoError(t, err)

	require.NoError(t, m.Release(ctx, id))

	err = m.Release(ctx, id)
	assert.Equal(t, rterr.ErrTerminalNotFound, err)

	_, _, _, err = m.Output(ctx, id)
	assert.Equal(t, rterr.ErrTerminalNotFound, err)
}

func TestWaitForExitRespectsContextCancellation(t *testing.T) {
	m := NewManager(t.TempDir(), "ws-test", nil, nil)

	id, err := m.Create(context.Background(), "sleep 30")
	require.NoError(t, err)
	defer m.Kill(context.Background(), id)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, _, err = m.WaitForExit(ctx, id)
	require.Error(t, err)
}

func TestOutputOnUnknownTerminalReturnsNotFound(t *testing.T) {
	m := NewManager(t.TempDir(), "ws-test", nil, nil)
	_, _, _, err := m.Output(context.Background(), "does-not-exist")
	assert.Equal(t, rterr.ErrTerminalNotFound, err)
}

func TestCreatePublishesOutputChunksAndExitedEvent(t *testing.T) {
	eventBus := bus.NewMemoryEventBus(nil)
	defer eventBus.Close()
	m := NewManager(t.TempDir(), "ws-test", eventBus, nil)
	ctx := context.Background()

	events := make(chan *bus.Event, 16)
	sub, err := eventBus.Subscribe("workspace.>", func(_ context.Context, event *bus.Event) error {
		events <- event
		return nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	id, err := m.Create(ctx, "echo hello")
	require.NoError(t, err)
	_, _, _, err = m.WaitForExit(ctx, id)
	require.NoError(t, err)

	var sawOutput, sawExited bool
	deadline := time.After(time.Second)
	for !sawOutput || !sawExited {
		select {
		case event := <-events:
			switch event.Type {
			case "terminal/output":
				assert.Equal(t, "ws-test", event.Data["workspaceId"])
				assert.Equal(t, "hello\n", event.Data["chunk"])
				sawOutput = true
			case "terminal/exited":
				assert.Equal(t, false, event.Data["userStopped"])
				sawExited = true
			}
		case <-deadline:
			t.Fatalf("timed out waiting for terminal events, sawOutput=%v sawExited=%v", sawOutput, sawExited)
		}
	}
}

func TestKillPublishesExitedEventWithUserStoppedTrue(t *testing.T) {
	eventBus := bus.NewMemoryEventBus(nil)
	defer eventBus.Close()
	m := NewManager(t.TempDir(), "ws-test", eventBus, nil)
	ctx := context.Background()

	events := make(chan *bus.Event, 16)
	sub, err := eventBus.Subscribe("workspace.>", func(_ context.Context, event *bus.Event) error {
		events <- event
		return nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	id, err := m.Create(ctx, "sleep 30")
	require.NoError(t, err)
	require.NoError(t, m.Kill(ctx, id))

	select {
	case event := <-events:
		for event.Type != "terminal/exited" {
			event = <-events
		}
		assert.Equal(t, true, event.Data["userStopped"])
		assert.Equal(t, "killed", event.Data["exitStatus"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for terminal/exited")
	}
}
