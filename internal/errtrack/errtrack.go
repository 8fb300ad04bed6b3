// Package errtrack reports unexpected errors to Sentry or a compatible
// service such as GlitchTip. Without a DSN every call is a no-op.
package errtrack

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/placefinder/placefinder/internal/errors"
	"github.com/placefinder/placefinder/internal/telemetry"
)

const redacted = "REDACTED"

// Config holds the reporting settings.
type Config struct {
	DSN         string
	Environment string
	Release     string
}

// ConfigFromEnv reads SENTRY_DSN, SENTRY_ENVIRONMENT and SENTRY_RELEASE.
func ConfigFromEnv() *Config {
	env := os.Getenv("SENTRY_ENVIRONMENT")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	return &Config{
		DSN:         os.Getenv("SENTRY_DSN"),
		Environment: env,
		Release:     os.Getenv("SENTRY_RELEASE"),
	}
}

// Enabled reports whether a DSN is configured.
func (c *Config) Enabled() bool {
	return c != nil && c.DSN != ""
}

// Init installs the global client. It returns nil when reporting is disabled.
func Init(cfg *Config) error {
	if !cfg.Enabled() {
		return nil
	}
	if err := sentry.Init(clientOptions(cfg)); err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	return nil
}

func clientOptions(cfg *Config) sentry.ClientOptions {
	release := cfg.Release
	if release == "" {
		release = "placefinder@1.0.0"
	}
	return sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     release,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			sanitizeEvent(event)
			return event
		},
	}
}

// Flush waits up to timeout for buffered events to be delivered.
func Flush(timeout time.Duration) {
	sentry.Flush(timeout)
}

// Reportable reports whether err is worth an event. Bad input, rate limits
// and missing results are the caller's problem and are left to the logs.
func Reportable(err error) bool {
	if err == nil {
		return false
	}
	appErr, ok := errors.AsAppError(err)
	if !ok {
		return true
	}
	switch appErr.Type {
	case errors.ErrorTypeValidation, errors.ErrorTypeNotFound,
		errors.ErrorTypeRateLimit, errors.ErrorTypeConflict:
		return false
	}
	return true
}

// CaptureError sends err with the correlation ID from ctx and the given tags.
func CaptureError(ctx context.Context, err error, tags map[string]string) {
	capture(ctx, nil, err, tags)
}

// CaptureRequestError is CaptureError with the HTTP request attached.
func CaptureRequestError(r *http.Request, err error, tags map[string]string) {
	capture(r.Context(), r, err, tags)
}

func capture(ctx context.Context, r *http.Request, err error, tags map[string]string) {
	if err == nil {
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
	}
	if hub.Client() == nil {
		return
	}

	hub.WithScope(func(scope *sentry.Scope) {
		if id := telemetry.GetCorrelationID(ctx); id != "" {
			scope.SetTag("correlation_id", id)
		}
		if appErr, ok := errors.AsAppError(err); ok {
			scope.SetTag("error_type", string(appErr.Type))
			scope.SetTag("error_code", appErr.Code)
			for k, v := range appErr.Metadata {
				scope.SetExtra(k, v)
			}
		}
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		if r != nil {
			scope.SetRequest(r)
		}
		hub.CaptureException(err)
	})
}

// AddBreadcrumb records a step leading up to a later event.
func AddBreadcrumb(ctx context.Context, category, message string, data map[string]interface{}) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.AddBreadcrumb(&sentry.Breadcrumb{
		Category: category,
		Message:  message,
		Level:    sentry.LevelInfo,
		Data:     data,
	}, nil)
}

// sanitizeEvent strips credentials, including the geocoder key in the query.
func sanitizeEvent(event *sentry.Event) {
	if event == nil || event.Request == nil {
		return
	}
	req := event.Request
	for name := range req.Headers {
		switch strings.ToLower(name) {
		case "authorization", "cookie", "x-api-key", "x-telegram-bot-api-secret-token":
			delete(req.Headers, name)
		}
	}
	req.Cookies = ""
	req.QueryString = redactQuery(req.QueryString)
	if u, err := url.Parse(req.URL); err == nil && u.RawQuery != "" {
		u.RawQuery = redactQuery(u.RawQuery)
		req.URL = u.String()
	}
}

func redactQuery(raw string) string {
	if raw == "" {
		return raw
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return redacted
	}
	if _, ok := values["key"]; !ok {
		return raw
	}
	values.Set("key", redacted)
	return values.Encode()
}
