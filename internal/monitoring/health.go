package monitoring

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot/models"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Status      HealthStatus `json:"status"`
	Message     string       `json:"message,omitempty"`
	Latency     *int64       `json:"latency_ms,omitempty"`
	LastChecked time.Time    `json:"last_checked"`
	Details     interface{}  `json:"details,omitempty"`
}

// HealthResponse represents the complete health check response
type HealthResponse struct {
	Status     HealthStatus               `json:"status"`
	Service    string                     `json:"service"`
	Version    string                     `json:"version"`
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentHealth `json:"components"`
	System     SystemInfo                 `json:"system"`
}

// SystemInfo represents system-level information
type SystemInfo struct {
	AllocatedBytes uint64 `json:"allocated_bytes"`
	Goroutines     int    `json:"goroutines"`
	GoVersion      string `json:"go_version"`
}

// CheckFunc probes one component.
type CheckFunc func(ctx context.Context) ComponentHealth

// Pinger is anything with a context-aware liveness probe, such as the Redis
// service or the history database.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// BotIdentity is the part of the Telegram client the bot check needs.
type BotIdentity interface {
	GetMe(ctx context.Context) (*models.User, error)
}

// HealthChecker runs registered checks and caches their results for
// checkInterval.
type HealthChecker struct {
	mu            sync.Mutex
	startTime     time.Time
	service       string
	version       string
	checks        map[string]CheckFunc
	components    map[string]ComponentHealth
	lastCheck     time.Time
	checkInterval time.Duration
	timeout       time.Duration
}

func NewHealthChecker(service, version string) *HealthChecker {
	return &HealthChecker{
		startTime:     time.Now(),
		service:       service,
		version:       version,
		checks:        make(map[string]CheckFunc),
		components:    make(map[string]ComponentHealth),
		checkInterval: 15 * time.Second,
		timeout:       5 * time.Second,
	}
}

// SetCheckInterval changes how long results are reused. Zero disables caching.
func (hc *HealthChecker) SetCheckInterval(d time.Duration) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checkInterval = d
}

// RegisterCheck registers a custom check under name.
func (hc *HealthChecker) RegisterCheck(name string, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
	hc.lastCheck = time.Time{}
}

// RegisterPingCheck marks the component degraded when the ping is slower
// than slow.
func (hc *HealthChecker) RegisterPingCheck(name string, p Pinger, slow time.Duration) {
	hc.RegisterCheck(name, func(ctx context.Context) ComponentHealth {
		start := time.Now()
		err := p.HealthCheck(ctx)
		latency := time.Since(start).Milliseconds()

		if err != nil {
			return ComponentHealth{
				Status:      HealthStatusUnhealthy,
				Message:     fmt.Sprintf("%s check failed: %v", name, err),
				Latency:     &latency,
				LastChecked: time.Now(),
			}
		}

		status := HealthStatusHealthy
		if slow > 0 && time.Duration(latency)*time.Millisecond > slow {
			status = HealthStatusDegraded
		}
		return ComponentHealth{
			Status:      status,
			Message:     fmt.Sprintf("%s reachable", name),
			Latency:     &latency,
			LastChecked: time.Now(),
		}
	})
}

// RegisterUpstreamCheck dials the geocoding service's host without spending
// any request quota. A failure only degrades the service: cached lookups and
// history still work.
func (hc *HealthChecker) RegisterUpstreamCheck(name, serviceURL string) error {
	u, err := url.Parse(serviceURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid upstream url %q", serviceURL)
	}
	address := u.Host
	if u.Port() == "" {
		port := "443"
		if u.Scheme == "http" {
			port = "80"
		}
		address = net.JoinHostPort(u.Hostname(), port)
	}

	hc.RegisterCheck(name, func(ctx context.Context) ComponentHealth {
		start := time.Now()
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", address)
		latency := time.Since(start).Milliseconds()

		if err != nil {
			return ComponentHealth{
				Status:      HealthStatusDegraded,
				Message:     fmt.Sprintf("upstream unreachable: %v", err),
				Latency:     &latency,
				LastChecked: time.Now(),
				Details:     map[string]interface{}{"address": address},
			}
		}
		conn.Close()

		return ComponentHealth{
			Status:      HealthStatusHealthy,
			Message:     "upstream reachable",
			Latency:     &latency,
			LastChecked: time.Now(),
			Details:     map[string]interface{}{"address": address},
		}
	})
	return nil
}

// RegisterTelegramBotCheck calls getMe.
func (hc *HealthChecker) RegisterTelegramBotCheck(name string, b BotIdentity) {
	hc.RegisterCheck(name, func(ctx context.Context) ComponentHealth {
		start := time.Now()
		me, err := b.GetMe(ctx)
		latency := time.Since(start).Milliseconds()

		if err != nil {
			return ComponentHealth{
				Status:      HealthStatusUnhealthy,
				Message:     fmt.Sprintf("Telegram API connection failed: %v", err),
				Latency:     &latency,
				LastChecked: time.Now(),
			}
		}
		return ComponentHealth{
			Status:      HealthStatusHealthy,
			Message:     "Telegram bot connection successful",
			Latency:     &latency,
			LastChecked: time.Now(),
			Details:     map[string]interface{}{"bot_username": me.Username, "bot_id": me.ID},
		}
	})
}

// RunChecks executes every check concurrently and stores the results.
func (hc *HealthChecker) RunChecks(ctx context.Context) {
	hc.mu.Lock()
	checks := make(map[string]CheckFunc, len(hc.checks))
	for name, fn := range hc.checks {
		checks[name] = fn
	}
	timeout := hc.timeout
	hc.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make(map[string]ComponentHealth, len(checks))
	var (
		wg  sync.WaitGroup
		rmu sync.Mutex
	)
	for name, fn := range checks {
		wg.Add(1)
		go func(name string, fn CheckFunc) {
			defer wg.Done()
			res := fn(ctx)
			rmu.Lock()
			results[name] = res
			rmu.Unlock()
		}(name, fn)
	}
	wg.Wait()

	hc.mu.Lock()
	hc.components = results
	hc.lastCheck = time.Now()
	hc.mu.Unlock()
}

// GetHealth returns the aggregate status, re-running stale checks first.
func (hc *HealthChecker) GetHealth(ctx context.Context) HealthResponse {
	hc.mu.Lock()
	stale := time.Since(hc.lastCheck) >= hc.checkInterval
	hc.mu.Unlock()
	if stale {
		hc.RunChecks(ctx)
	}

	hc.mu.Lock()
	components := make(map[string]ComponentHealth, len(hc.components))
	for name, c := range hc.components {
		components[name] = c
	}
	hc.mu.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return HealthResponse{
		Status:     Aggregate(components),
		Service:    hc.service,
		Version:    hc.version,
		Timestamp:  time.Now(),
		Uptime:     time.Since(hc.startTime).Round(time.Second).String(),
		Components: components,
		System: SystemInfo{
			AllocatedBytes: memStats.Alloc,
			Goroutines:     runtime.NumGoroutine(),
			GoVersion:      runtime.Version(),
		},
	}
}

// Aggregate folds component states: any unhealthy wins, then degraded.
func Aggregate(components map[string]ComponentHealth) HealthStatus {
	names := make([]string, 0, len(components))
	for name := range components {
		names = append(names, name)
	}
	sort.Strings(names)

	overall := HealthStatusHealthy
	for _, name := range names {
		switch components[name].Status {
		case HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case HealthStatusDegraded:
			overall = HealthStatusDegraded
		}
	}
	return overall
}

// HealthHandler answers 503 only when a component is unhealthy.
func (hc *HealthChecker) HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		health := hc.GetHealth(c.Request.Context())

		statusCode := http.StatusOK
		if health.Status == HealthStatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, health)
	}
}

// LivenessHandler returns a simple liveness check
func (hc *HealthChecker) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "alive",
			"uptime":    time.Since(hc.startTime).String(),
			"timestamp": time.Now(),
		})
	}
}
