package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/acpcore/internal/events/bus"
)

const (
	eventsWriteWait  = 10 * time.Second
	eventsPingPeriod = 30 * time.Second
)

// handleEventsWS upgrades to a WebSocket and forwards every event on the
// bus to the client as JSON, one frame per event, until the connection
// drops or the subject subscription errors out.
func (s *Server) handleEventsWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	var writeMu chanMutex
	writeMu.init()

	sub, err := s.eventBus.Subscribe("workspace.>", func(_ context.Context, event *bus.Event) error {
		payload, err := json.Marshal(event)
		if err != nil {
			return err
		}
		writeMu.lock()
		defer writeMu.unlock()
		conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
		return conn.WriteMessage(websocket.TextMessage, payload)
	})
	if err != nil {
		s.log.Warn("event subscription failed", zap.Error(err))
		return
	}
	defer sub.Unsubscribe()

	// Drain and discard inbound frames so a client disconnect surfaces as
	// a read error and cancels the stream; the client never sends us
	// anything meaningful over this stream.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ticker := time.NewTicker(eventsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeMu.lock()
			conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.unlock()
			if err != nil {
				return
			}
		}
	}
}

// chanMutex is a channel-backed mutex so WriteMessage calls from the
// subscription handler and the ping loop never interleave on the same
// connection, which gorilla/websocket forbids.
type chanMutex chan struct{}

func (m *chanMutex) init()  { *m = make(chan struct{}, 1) }
func (m chanMutex) lock()   { m <- struct{}{} }
func (m chanMutex) unlock() { <-m }
