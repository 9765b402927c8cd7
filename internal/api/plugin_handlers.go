package api

import (
	"io"

	"github.com/gin-gonic/gin"
)

type pluginView struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Installed   bool   `json:"installed"`
}

func (s *Server) handleListPlugins(c *gin.Context) {
	entries := s.plugins.List()
	views := make([]pluginView, 0, len(entries))
	for _, e := range entries {
		views = append(views, pluginView{
			ID:          e.ID,
			DisplayName: e.DisplayName,
			Installed:   s.plugins.IsInstalled(e.ID),
		})
	}
	s.respond(c, views, nil)
}

type pluginStatusView struct {
	Installed        bool   `json:"installed"`
	InstalledVersion string `json:"installedVersion,omitempty"`
	LatestVersion    string `json:"latestVersion,omitempty"`
	BinPath          string `json:"binPath,omitempty"`
}

// handleGetPluginStatus answers plugin_get_status: whether pluginId is
// installed, and (when ?checkUpdates=true) the catalog's current version
// alongside whatever's actually on disk.
func (s *Server) handleGetPluginStatus(c *gin.Context) {
	checkUpdates := c.Query("checkUpdates") == "true"
	status, err := s.plugins.GetStatus(c.Param("pluginId"), checkUpdates)
	s.respond(c, pluginStatusView{
		Installed:        status.Installed,
		InstalledVersion: status.InstalledVersion,
		LatestVersion:    status.LatestVersion,
		BinPath:          status.BinPath,
	}, err)
}

type installPluginRequest struct {
	WorkspaceID string `json:"workspaceId,omitempty"`
}

type installPluginResponse struct {
	OperationID string `json:"operationId"`
}

// handleInstallPlugin answers plugin_install: it mints an operation id and
// returns immediately. The permission wait, the install command, and the
// acp/plugin_status_changed event all happen asynchronously.
func (s *Server) handleInstallPlugin(c *gin.Context) {
	var req installPluginRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		s.respond(c, nil, badRequest(err))
		return
	}
	operationID := s.installer.Install(req.WorkspaceID, c.Param("pluginId"))
	s.respond(c, installPluginResponse{OperationID: operationID}, nil)
}
