package httpmw

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kandev/acpcore/internal/common/logger"
	"go.uber.org/zap"
)

// workspaceIDParam is the gin route parameter the command surface uses for
// workspace-scoped endpoints; logging it lets a workspace's request history
// be grepped out of the shared log stream without parsing the path.
const workspaceIDParam = "workspaceId"

// RequestLogger logs one line per command-surface request after the handler
// completes, tagging it with the workspace it targeted (if any) so
// workspace-scoped failures can be correlated with the agent/terminal/
// permission events the same request triggered.
func RequestLogger(log *logger.Logger, serverName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		size := c.Writer.Size()
		if size < 0 {
			size = 0
		}

		fields := []zap.Field{
			zap.String("server", serverName),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Int64("duration_ms", latency.Milliseconds()),
			zap.Int("bytes", size),
		}
		if workspaceID := c.Param(workspaceIDParam); workspaceID != "" {
			fields = append(fields, zap.String("workspace_id", workspaceID))
		}

		if status >= 500 {
			log.Error("command surface request", fields...)
		} else {
			log.Debug("command surface request", fields...)
		}
	}
}
