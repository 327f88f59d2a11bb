package security

import (
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

// AccessLogMiddleware emits one structured line per request. Probe and
// metrics paths passed in skipPaths stay out of the log.
func AccessLogMiddleware(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if _, quiet := skip[path]; quiet {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		logFn := log.Info
		if c.Writer.Status() >= 500 {
			logFn = log.Error
		}
		logFn("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"clientIP", c.ClientIP(),
		)
	}
}

// AdminAuditMiddleware logs admin API calls with the caller's client ID so
// policy triggers and cluster rebuilds are attributable.
func AdminAuditMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if strings.HasPrefix(c.Request.URL.Path, "/v1/admin") {
			log.Info("Admin audit",
				"caller", c.GetString(ContextKeyClientID),
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"status", c.Writer.Status(),
				"clientIP", c.ClientIP(),
			)
		}
	}
}
