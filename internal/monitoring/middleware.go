package monitoring

import (
	"time"

	"github.com/gin-gonic/gin"
)

// DefaultSkipPaths are not measured.
var DefaultSkipPaths = []string{"/health", "/livez", "/metrics", "/favicon.ico"}

// GinMiddleware records request count and latency per route template.
// Unmatched routes are grouped under "unmatched" to keep cardinality bounded.
func GinMiddleware(m *Metrics, skipPaths ...string) gin.HandlerFunc {
	if len(skipPaths) == 0 {
		skipPaths = DefaultSkipPaths
	}
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Context(), c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
