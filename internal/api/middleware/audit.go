package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/TheGojiOG/mcpanel/internal/logging"
)

// Audit records every state-changing API call as an activity. Reads are not
// recorded.
func Audit(activity *logging.ActivityLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if activity == nil || c.Request.Method == http.MethodGet || c.Request.Method == http.MethodOptions {
			return
		}

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()

		entry := &logging.Activity{
			ServerName:   c.Param("name"),
			Actor:        Actor(c),
			ActivityType: logging.ActivityAPIRequest,
			Description:  c.Request.Method + " " + path,
			Metadata: map[string]any{
				"status": status,
				"ip":     c.ClientIP(),
			},
			Success: status < 400,
		}
		if len(c.Errors) > 0 {
			entry.ErrorMessage = strings.Join(c.Errors.Errors(), "; ")
		}
		_ = activity.LogActivity(entry)
	}
}
