// Package api implements the north-bound command surface: an HTTP
// REST API for workspace/agent/terminal/permission control, plus a
// WebSocket event stream mirroring every event on the internal bus.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/acpcore/internal/common/httpmw"
	"github.com/kandev/acpcore/internal/common/logger"
	"github.com/kandev/acpcore/internal/events/bus"
	"github.com/kandev/acpcore/internal/plugin"
	"github.com/kandev/acpcore/internal/runtime/permission"
	"github.com/kandev/acpcore/internal/runtime/workspace"
)

// Server is the process-wide HTTP API.
type Server struct {
	workspaces *workspace.Manager
	plugins    *plugin.Manager
	installer  *plugin.Installer
	hub        *permission.Hub
	eventBus   bus.EventBus
	log        *logger.Logger
	router     *gin.Engine

	upgrader websocket.Upgrader

	shutdownTimeout time.Duration
}

func NewServer(workspaces *workspace.Manager, plugins *plugin.Manager, installer *plugin.Installer, hub *permission.Hub, eventBus bus.EventBus, shutdownTimeout time.Duration, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		workspaces:      workspaces,
		plugins:         plugins,
		installer:       installer,
		hub:             hub,
		eventBus:        eventBus,
		log:             log.WithFields(zap.String("component", "api-server")),
		router:          gin.New(),
		shutdownTimeout: shutdownTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.router.Use(gin.Recovery())
	s.router.Use(httpmw.RequestLogger(s.log, "acpcore"))

	s.setupRoutes()
	return s
}

func (s *Server) Router() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/workspaces", s.handleCreateWorkspace)
		v1.GET("/workspaces", s.handleListWorkspaces)
		v1.DELETE("/workspaces/:workspaceId", s.handleCloseWorkspace)

		v1.POST("/workspaces/:workspaceId/agents", s.handleStartAgent)
		v1.GET("/workspaces/:workspaceId/agents", s.handleListAgents)
		v1.GET("/workspaces/:workspaceId/agents/:agentId", s.handleGetAgent)
		v1.DELETE("/workspaces/:workspaceId/agents/:agentId", s.handleStopAgent)
		v1.POST("/workspaces/:workspaceId/agents/:agentId/prompt", s.handlePrompt)
		v1.POST("/workspaces/:workspaceId/agents/:agentId/cancel", s.handleCancel)

		v1.GET("/workspaces/:workspaceId/terminals/:terminalId/output", s.handleTerminalOutput)
		v1.POST("/workspaces/:workspaceId/terminals/:terminalId/kill", s.handleTerminalKill)
		v1.POST("/workspaces/:workspaceId/terminals/:terminalId/release", s.handleTerminalRelease)
		v1.POST("/workspaces/:workspaceId/terminals/:terminalId/wait", s.handleTerminalWait)

		v1.POST("/permissions/:requestId/respond", s.handleRespondPermission)

		v1.GET("/plugins", s.handleListPlugins)
		v1.GET("/plugins/:pluginId/status", s.handleGetPluginStatus)
		v1.POST("/plugins/:pluginId/install", s.handleInstallPlugin)

		v1.GET("/events", s.handleEventsWS)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) respond(c *gin.Context, data interface{}, err error) {
	if err != nil {
		e := fail(err)
		c.JSON(httpStatusFor(e.Code), e)
		return
	}
	c.JSON(http.StatusOK, ok(data))
}
