package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kandev/acpcore/internal/runtime/agent"
	"github.com/kandev/acpcore/internal/runtime/ids"
	"github.com/kandev/acpcore/pkg/acp/jsonrpc"
)

type agentView struct {
	ID        string `json:"id"`
	PluginID  string `json:"pluginId"`
	Status    string `json:"status"`
	SessionID string `json:"sessionId,omitempty"`
	LastError string `json:"lastError,omitempty"`
}

func viewOfAgent(rt *agent.Runtime) agentView {
	return agentView{
		ID:        string(rt.ID()),
		PluginID:  rt.PluginID(),
		Status:    string(rt.Status()),
		SessionID: rt.SessionID(),
		LastError: rt.LastError(),
	}
}

func (s *Server) handleStartAgent(c *gin.Context) {
	ws, err := s.workspaces.Get(ids.WorkspaceID(c.Param("workspaceId")))
	if err != nil {
		s.respond(c, nil, err)
		return
	}
	var req startAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respond(c, nil, badRequest(err))
		return
	}
	rt, err := ws.StartAgent(c.Request.Context(), req.PluginID, req.EnvOverrides)
	if err != nil {
		s.respond(c, nil, err)
		return
	}
	s.respond(c, viewOfAgent(rt), nil)
}

func (s *Server) handleListAgents(c *gin.Context) {
	ws, err := s.workspaces.Get(ids.WorkspaceID(c.Param("workspaceId")))
	if err != nil {
		s.respond(c, nil, err)
		return
	}
	agents := ws.Agents()
	views := make([]agentView, 0, len(agents))
	for _, rt := range agents {
		views = append(views, viewOfAgent(rt))
	}
	s.respond(c, views, nil)
}

func (s *Server) handleGetAgent(c *gin.Context) {
	ws, err := s.workspaces.Get(ids.WorkspaceID(c.Param("workspaceId")))
	if err != nil {
		s.respond(c, nil, err)
		return
	}
	rt, err := ws.Agent(ids.AgentID(c.Param("agentId")))
	if err != nil {
		s.respond(c, nil, err)
		return
	}
	s.respond(c, viewOfAgent(rt), nil)
}

func (s *Server) handleStopAgent(c *gin.Context) {
	ws, err := s.workspaces.Get(ids.WorkspaceID(c.Param("workspaceId")))
	if err != nil {
		s.respond(c, nil, err)
		return
	}
	err = ws.StopAgent(c.Request.Context(), ids.AgentID(c.Param("agentId")), s.shutdownTimeout)
	s.respond(c, nil, err)
}

func (s *Server) handlePrompt(c *gin.Context) {
	ws, err := s.workspaces.Get(ids.WorkspaceID(c.Param("workspaceId")))
	if err != nil {
		s.respond(c, nil, err)
		return
	}
	rt, err := ws.Agent(ids.AgentID(c.Param("agentId")))
	if err != nil {
		s.respond(c, nil, err)
		return
	}
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respond(c, nil, badRequest(err))
		return
	}
	stopReason, err := rt.Prompt(c.Request.Context(), []jsonrpc.ContentBlock{{Type: "text", Text: req.Text}})
	if err != nil {
		s.respond(c, nil, err)
		return
	}
	s.respond(c, gin.H{"stopReason": stopReason}, nil)
}

func (s *Server) handleCancel(c *gin.Context) {
	ws, err := s.workspaces.Get(ids.WorkspaceID(c.Param("workspaceId")))
	if err != nil {
		s.respond(c, nil, err)
		return
	}
	rt, err := ws.Agent(ids.AgentID(c.Param("agentId")))
	if err != nil {
		s.respond(c, nil, err)
		return
	}
	rt.Cancel()
	s.respond(c, nil, nil)
}
