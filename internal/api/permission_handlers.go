package api

import (
	"github.com/gin-gonic/gin"
)

func (s *Server) handleRespondPermission(c *gin.Context) {
	var req respondPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respond(c, nil, badRequest(err))
		return
	}
	err := s.hub.Respond(c.Param("requestId"), req.Decision)
	s.respond(c, nil, err)
}
