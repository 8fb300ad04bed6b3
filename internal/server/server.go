// Package server exposes the geocoder over HTTP next to the Telegram webhook
// and the operational endpoints.
package server

import (
	"context"
	stderrors "errors"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/placefinder/placefinder/internal/control"
	"github.com/placefinder/placefinder/internal/errors"
	"github.com/placefinder/placefinder/internal/geocoding"
	"github.com/placefinder/placefinder/internal/middleware"
	"github.com/placefinder/placefinder/internal/monitoring"
	"github.com/placefinder/placefinder/internal/telemetry"
)

const upstreamService = "opencage"

// Proxy forwards raw query parameters upstream. *geocoding.Client satisfies it.
type Proxy interface {
	Raw(ctx context.Context, params url.Values) (*geocoding.Response, error)
}

// Geocoder is what the search endpoint needs. *geocoding.Client satisfies
// both interfaces.
type Geocoder interface {
	control.Geocoder
	Proxy
}

// Config wires the router's collaborators. Nil fields turn the matching
// routes off.
type Config struct {
	ServiceName string
	Geocoder    Geocoder
	Health      *monitoring.HealthChecker
	Metrics     *monitoring.Metrics
	// Webhook receives Telegram updates on WebhookPath.
	Webhook     http.Handler
	WebhookPath string
	Logging     *middleware.LoggingConfig
}

// SearchResponse is the body of GET /v1/search.
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
}

// SearchResult is a normalized result. DistanceKM is set when the request
// carried a near point.
type SearchResult struct {
	geocoding.Result
	DistanceKM *float64 `json:"distance_km,omitempty"`
}

// NewRouter builds the gin engine.
func NewRouter(cfg Config) *gin.Engine {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "placefinder"
	}
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhook"
	}

	router := gin.New()
	router.Use(
		middleware.Recovery(),
		otelgin.Middleware(cfg.ServiceName),
		middleware.LoggingMiddleware(cfg.Logging),
	)
	if cfg.Metrics != nil {
		router.Use(monitoring.GinMiddleware(cfg.Metrics))
	}
	router.Use(middleware.GinErrorHandler())

	if cfg.Health != nil {
		router.GET("/health", cfg.Health.HealthHandler())
		router.GET("/livez", cfg.Health.LivenessHandler())
	}
	if cfg.Metrics != nil {
		router.GET("/metrics", cfg.Metrics.Collector().PrometheusHandler())
		router.GET("/metrics.json", cfg.Metrics.Collector().JSONHandler())
	}
	if cfg.Webhook != nil {
		router.POST(cfg.WebhookPath, gin.WrapH(cfg.Webhook))
	}
	if cfg.Geocoder != nil {
		v1 := router.Group("/v1")
		v1.GET("/geocode/json", proxyHandler(cfg.Geocoder))
		v1.GET("/search", searchHandler(cfg.Geocoder))
	}
	return router
}

// proxyHandler answers in the upstream's own JSON shape, so a front-end can
// point its proxy URL here and never see the key.
func proxyHandler(p Proxy) gin.HandlerFunc {
	return func(c *gin.Context) {
		params := c.Request.URL.Query()
		params.Del("key")

		resp, err := p.Raw(c.Request.Context(), params)
		if err != nil {
			_ = c.Error(upstreamError(err))
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// searchHandler returns normalized results for q, or for latlng when given.
func searchHandler(g control.Geocoder) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var (
			near   geocoding.CenterProvider
			center *geocoding.LatLng
		)
		if raw := c.Query("near"); raw != "" {
			ll, err := geocoding.ParseLatLng(raw)
			if err != nil {
				_ = c.Error(errors.NewValidationError("near", err.Error()))
				return
			}
			near = fixedCenter(ll)
			center = &ll
		}

		query := strings.TrimSpace(c.Query("q"))
		var (
			results []geocoding.Result
			err     error
		)
		if raw := c.Query("latlng"); raw != "" {
			location, parseErr := geocoding.ParseLatLng(raw)
			if parseErr != nil {
				_ = c.Error(errors.NewValidationError("latlng", parseErr.Error()))
				return
			}
			query = geocoding.FormatLatLng(location)
			results, err = g.Reverse(ctx, location, 0, near)
		} else {
			results, err = g.Geocode(ctx, query, near)
		}
		if err != nil {
			_ = c.Error(err)
			return
		}

		if limit := c.Query("limit"); limit != "" {
			n, convErr := strconv.Atoi(limit)
			if convErr != nil || n <= 0 {
				_ = c.Error(errors.NewValidationError("limit", "limit must be a positive integer"))
				return
			}
			if n < len(results) {
				results = results[:n]
			}
		}

		telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
			"operation": "search",
			"results":   len(results),
		}).Debug("Search served")
		out := make([]SearchResult, len(results))
		for i, r := range results {
			out[i] = SearchResult{Result: r}
			if center != nil {
				d := math.Round(geocoding.Distance(*center, r.Center)*1000) / 1000
				out[i].DistanceKM = &d
			}
		}
		c.JSON(http.StatusOK, SearchResponse{Query: query, Results: out, Total: len(out)})
	}
}

// upstreamError maps a transport failure to an AppError. Upstream status
// codes pass through so callers see the quota and key errors unchanged.
func upstreamError(err error) error {
	if _, ok := errors.AsAppError(err); ok {
		return err
	}
	var statusErr *geocoding.StatusError
	if stderrors.As(err, &statusErr) {
		message := statusErr.Message
		if message == "" {
			message = http.StatusText(statusErr.Code)
		}
		return errors.NewUpstreamError(upstreamService, statusErr.Code, message).WithHTTPStatus(statusErr.Code)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewAppErrorWithCause(errors.ErrorTypeTimeout, "UPSTREAM_TIMEOUT", "Geocoding service timed out", err)
	}
	return errors.NewExternalError(upstreamService, "proxy", err)
}

type fixedCenter geocoding.LatLng

func (f fixedCenter) GetCenter() (geocoding.LatLng, bool) {
	return geocoding.LatLng(f), true
}
