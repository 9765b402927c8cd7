package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kandev/acpcore/internal/runtime/ids"
)

func (s *Server) handleTerminalOutput(c *gin.Context) {
	ws, err := s.workspaces.Get(ids.WorkspaceID(c.Param("workspaceId")))
	if err != nil {
		s.respond(c, nil, err)
		return
	}
	output, truncated, exitStatus, err := ws.TerminalOutput(c.Request.Context(), c.Param("terminalId"))
	if err != nil {
		s.respond(c, nil, err)
		return
	}
	s.respond(c, gin.H{
		"output":     output,
		"truncated":  truncated,
		"exitStatus": exitStatus,
	}, nil)
}

func (s *Server) handleTerminalKill(c *gin.Context) {
	ws, err := s.workspaces.Get(ids.WorkspaceID(c.Param("workspaceId")))
	if err != nil {
		s.respond(c, nil, err)
		return
	}
	err = ws.TerminalKill(c.Request.Context(), c.Param("terminalId"))
	s.respond(c, nil, err)
}

func (s *Server) handleTerminalRelease(c *gin.Context) {
	ws, err := s.workspaces.Get(ids.WorkspaceID(c.Param("workspaceId")))
	if err != nil {
		s.respond(c, nil, err)
		return
	}
	err = ws.TerminalRelease(c.Request.Context(), c.Param("terminalId"))
	s.respond(c, nil, err)
}

func (s *Server) handleTerminalWait(c *gin.Context) {
	ws, err := s.workspaces.Get(ids.WorkspaceID(c.Param("workspaceId")))
	if err != nil {
		s.respond(c, nil, err)
		return
	}
	exitStatus, exitCode, signalled, err := ws.TerminalWaitForExit(c.Request.Context(), c.Param("terminalId"))
	if err != nil {
		s.respond(c, nil, err)
		return
	}
	s.respond(c, gin.H{
		"exitStatus": exitStatus,
		"exitCode":   exitCode,
		"signalled":  signalled,
	}, nil)
}
