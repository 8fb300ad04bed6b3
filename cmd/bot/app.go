package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/placefinder/placefinder/internal/cache"
	"github.com/placefinder/placefinder/internal/config"
	"github.com/placefinder/placefinder/internal/database"
	"github.com/placefinder/placefinder/internal/geocoding"
	"github.com/placefinder/placefinder/internal/middleware"
	"github.com/placefinder/placefinder/internal/monitoring"
	"github.com/placefinder/placefinder/internal/server"
	"github.com/placefinder/placefinder/internal/telemetry"
)

const (
	serviceVersion = "1.0.0"
	webhookPath    = "/webhook"
)

// dependencies are the optional backing services. Nil fields are disabled.
type dependencies struct {
	redis   *cache.RedisService
	db      *database.DB
	history *database.HistoryStore
}

// connectDependencies opens Redis and the history database when configured.
// Either one failing only disables its feature.
func connectDependencies(ctx context.Context, cfg *config.Config) *dependencies {
	deps := &dependencies{}
	logger := loggerFor(ctx, "connect_dependencies")

	if cfg.CacheEnabled {
		redisService, err := cache.NewRedisService(ctx, cfg.Redis)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, geocode cache disabled")
		} else {
			deps.redis = redisService
		}
	}

	if cfg.HistoryEnabled {
		db, err := database.NewConnection(ctx, cfg.Database)
		if err != nil {
			logger.WithError(err).Warn("Database unavailable, search history disabled")
			return deps
		}
		if err := db.Migrate(ctx); err != nil {
			logger.WithError(err).Warn("Database migration failed, search history disabled")
			_ = db.Close()
			return deps
		}
		deps.db = db
		deps.history = database.NewHistoryStore(db)
	}
	return deps
}

func (d *dependencies) close() {
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.db != nil {
		_ = d.db.Close()
	}
}

// newGeocoder builds the OpenCage client. A non-nil store puts the response
// cache in front of the HTTP transport.
func newGeocoder(cfg *config.Config, recorder geocoding.Recorder, store cache.Store) *geocoding.Client {
	var transport geocoding.Transport = geocoding.NewHTTPTransport(cfg.Geocoder.Timeout, cfg.Geocoder.UserAgent)
	if store != nil {
		transport = cache.NewCachedTransport(transport, store, cfg.CacheTTL)
	}
	return geocoding.NewClient(cfg.Geocoder, geocoding.WithTransport(transport), geocoding.WithRecorder(recorder))
}

// newHealthChecker registers a check for every configured dependency.
// client may be nil; when it goes through the response cache, the cache
// counters are reported too.
func newHealthChecker(cfg *config.Config, deps *dependencies, telegram monitoring.BotIdentity, client *geocoding.Client) *monitoring.HealthChecker {
	health := monitoring.NewHealthChecker(cfg.Telemetry.ServiceName, serviceVersion)

	if deps.redis != nil {
		health.RegisterPingCheck("redis", deps.redis, 100*time.Millisecond)
	}
	if client != nil {
		if cached, ok := client.Transport().(*cache.CachedTransport); ok {
			health.RegisterCheck("geocode_cache", cacheStatsCheck(cached))
		}
	}
	if deps.db != nil {
		health.RegisterPingCheck("database", monitoring.PingerFunc(deps.db.Health), 200*time.Millisecond)
	}
	endpoint := cfg.Geocoder.ProxyURL
	if endpoint == "" {
		endpoint = cfg.Geocoder.ServiceURL
	}
	if endpoint == "" {
		endpoint = geocoding.DefaultServiceURL
	}
	if err := health.RegisterUpstreamCheck("geocoder", endpoint); err != nil {
		loggerFor(context.Background(), "health_setup").WithError(err).Warn("Upstream health check not registered")
	}
	if telegram != nil {
		health.RegisterTelegramBotCheck("telegram", telegram)
	}
	return health
}

func cacheStatsCheck(cached *cache.CachedTransport) monitoring.CheckFunc {
	return func(context.Context) monitoring.ComponentHealth {
		stats := cached.Stats()
		return monitoring.ComponentHealth{
			Status:      monitoring.HealthStatusHealthy,
			LastChecked: time.Now(),
			Details: map[string]interface{}{
				"hits":     stats.Hits,
				"misses":   stats.Misses,
				"hit_rate": stats.HitRate(),
			},
		}
	}
}

// newRouter serves the webhook, the geocoding endpoints and the operational
// routes on one port.
func newRouter(cfg *config.Config, client server.Geocoder, health *monitoring.HealthChecker, metrics *monitoring.Metrics, webhook http.Handler) *gin.Engine {
	if cfg.Log == nil || cfg.Log.Level != telemetry.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	return server.NewRouter(server.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Geocoder:    client,
		Health:      health,
		Metrics:     metrics,
		Webhook:     webhook,
		WebhookPath: webhookPath,
		Logging:     middleware.DefaultLoggingConfig(),
	})
}
