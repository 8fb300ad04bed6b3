package middleware

import (
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/placefinder/placefinder/internal/telemetry"
)

// CorrelationHeader carries the request's correlation ID in and out.
const CorrelationHeader = "X-Correlation-ID"

// LoggingConfig holds the configuration for logging middleware
type LoggingConfig struct {
	SkipPaths     []string
	SlowThreshold time.Duration
	// RedactParams are query parameters whose values never reach the log.
	RedactParams []string
}

// DefaultLoggingConfig returns the default logging middleware configuration
func DefaultLoggingConfig() *LoggingConfig {
	return &LoggingConfig{
		SkipPaths:     []string{"/health", "/livez", "/metrics"},
		SlowThreshold: 5 * time.Second,
		RedactParams:  []string{"key"},
	}
}

// LoggingMiddleware assigns a correlation ID and logs each request once it
// completes.
func LoggingMiddleware(config *LoggingConfig) gin.HandlerFunc {
	if config == nil {
		config = DefaultLoggingConfig()
	}
	skip := make(map[string]bool, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		correlationID := c.GetHeader(CorrelationHeader)
		if correlationID == "" {
			correlationID = telemetry.NewCorrelationID()
		}
		c.Header(CorrelationHeader, correlationID)
		c.Request = c.Request.WithContext(telemetry.WithCorrelationID(c.Request.Context(), correlationID))

		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		fields := logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"route":       c.FullPath(),
			"query":       redactQuery(c.Request.URL.Query(), config.RedactParams),
			"remote_ip":   c.ClientIP(),
			"user_agent":  c.Request.UserAgent(),
			"status":      c.Writer.Status(),
			"size":        c.Writer.Size(),
			"duration_ms": float64(duration.Microseconds()) / 1000,
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.Errors()
		}

		entry := telemetry.GetContextualLogger(c.Request.Context()).WithFields(fields)
		switch {
		case c.Writer.Status() >= 500:
			entry.Error("HTTP request completed with server error")
		case c.Writer.Status() >= 400:
			entry.Warn("HTTP request completed with client error")
		case duration > config.SlowThreshold:
			entry.Warn("HTTP request completed (slow)")
		default:
			entry.Info("HTTP request completed")
		}
	}
}

func redactQuery(q url.Values, params []string) string {
	for _, p := range params {
		if q.Has(p) {
			q.Set(p, "[REDACTED]")
		}
	}
	return q.Encode()
}
