package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kandev/acpcore/internal/runtime/ids"
)

type workspaceView struct {
	ID   string `json:"id"`
	Root string `json:"root"`
}

func (s *Server) handleCreateWorkspace(c *gin.Context) {
	var req createWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respond(c, nil, badRequest(err))
		return
	}
	ws, err := s.workspaces.Open(req.Root)
	if err != nil {
		s.respond(c, nil, err)
		return
	}
	s.respond(c, workspaceView{ID: string(ws.ID), Root: ws.Root}, nil)
}

func (s *Server) handleListWorkspaces(c *gin.Context) {
	list := s.workspaces.List()
	views := make([]workspaceView, 0, len(list))
	for _, ws := range list {
		views = append(views, workspaceView{ID: string(ws.ID), Root: ws.Root})
	}
	s.respond(c, views, nil)
}

func (s *Server) handleCloseWorkspace(c *gin.Context) {
	id := ids.WorkspaceID(c.Param("workspaceId"))
	err := s.workspaces.Close(c.Request.Context(), id, s.shutdownTimeout)
	s.respond(c, nil, err)
}
