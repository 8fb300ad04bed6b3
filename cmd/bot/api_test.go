package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/placefinder/placefinder/internal/cache"
	"github.com/placefinder/placefinder/internal/config"
	"github.com/placefinder/placefinder/internal/geocoding"
	"github.com/placefinder/placefinder/internal/monitoring"
	"github.com/placefinder/placefinder/internal/server"
	"github.com/placefinder/placefinder/internal/telemetry"
)

// MockBotIdentity stands in for the Telegram client in health checks.
type MockBotIdentity struct {
	mock.Mock
}

func (m *MockBotIdentity) GetMe(ctx context.Context) (*models.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func newUpstream(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	calls := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"results": [{"formatted": "Alexanderplatz, Berlin, Germany", "geometry": {"lat": 52.5219, "lng": 13.4132}}],
			"status": {"code": 200, "message": "OK"}
		}`))
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func testConfig(serviceURL string) *config.Config {
	return &config.Config{
		Geocoder:  geocoding.Options{ServiceURL: serviceURL, Key: "test-key"},
		CacheTTL:  time.Minute,
		Telemetry: telemetry.DefaultConfig(),
	}
}

func TestNewGeocoder_WithoutCache(t *testing.T) {
	upstream, calls := newUpstream(t)
	client := newGeocoder(testConfig(upstream.URL), nil, nil)

	assert.IsType(t, &geocoding.HTTPTransport{}, client.Transport())

	for i := 0; i < 2; i++ {
		results, err := client.Geocode(context.Background(), "Alexanderplatz", nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestNewGeocoder_CachesThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	store := cache.NewRedisServiceWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	upstream, calls := newUpstream(t)

	metrics, err := monitoring.NewMetrics(nil)
	require.NoError(t, err)
	client := newGeocoder(testConfig(upstream.URL), metrics, store)

	ctx := context.Background()
	first, err := client.Geocode(ctx, "Alexanderplatz", nil)
	require.NoError(t, err)
	second, err := client.Geocode(ctx, "Alexanderplatz", nil)
	require.NoError(t, err)

	require.Len(t, second, 1)
	assert.Equal(t, first[0].Name, second[0].Name)
	assert.Equal(t, first[0].Center, second[0].Center)
	assert.Equal(t, int32(1), calls.Load(), "second lookup is served from Redis")

	cached, ok := client.Transport().(*cache.CachedTransport)
	require.True(t, ok)
	assert.Equal(t, int64(1), cached.Stats().Hits)
	assert.Len(t, mr.Keys(), 1)

	health := newHealthChecker(testConfig(upstream.URL), &dependencies{}, nil, client).GetHealth(ctx)
	require.Contains(t, health.Components, "geocode_cache")
	details, ok := health.Components["geocode_cache"].Details.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, int64(1), details["hits"])
	assert.Equal(t, 0.5, details["hit_rate"])

	assert.Equal(t, float64(2), metrics.Collector().Counter("geocode_requests_total", "",
		map[string]string{"kind": "forward", "outcome": geocoding.OutcomeOK}).Get())
}

func TestHealthEndpoint(t *testing.T) {
	upstream, _ := newUpstream(t)

	t.Run("Healthy status", func(t *testing.T) {
		telegram := &MockBotIdentity{}
		telegram.On("GetMe", mock.Anything).Return(&models.User{ID: 1, Username: "placefinder_bot"}, nil)

		cfg := testConfig(upstream.URL)
		router := newRouter(cfg, nil, newHealthChecker(cfg, &dependencies{}, telegram, nil), nil, nil)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)

		var response monitoring.HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, monitoring.HealthStatusHealthy, response.Status)
		assert.Equal(t, "placefinder", response.Service)
		assert.Contains(t, response.Components, "geocoder")
		details, ok := response.Components["telegram"].Details.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "placefinder_bot", details["bot_username"])

		telegram.AssertExpectations(t)
	})

	t.Run("Telegram down", func(t *testing.T) {
		telegram := &MockBotIdentity{}
		telegram.On("GetMe", mock.Anything).Return(nil, stderrors.New("unauthorized"))

		cfg := testConfig(upstream.URL)
		router := newRouter(cfg, nil, newHealthChecker(cfg, &dependencies{}, telegram, nil), nil, nil)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "unauthorized")
	})
}

func TestRouter_ServesWebhookAndSearch(t *testing.T) {
	upstream, _ := newUpstream(t)
	cfg := testConfig(upstream.URL)

	metrics, err := monitoring.NewMetrics(nil)
	require.NoError(t, err)
	client := newGeocoder(cfg, metrics, nil)

	var delivered atomic.Int32
	webhook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered.Add(1)
	})
	router := newRouter(cfg, client, nil, metrics, webhook)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, webhookPath, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(1), delivered.Load())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/search?q=Alexanderplatz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp server.SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Alexanderplatz, Berlin, Germany", resp.Results[0].Name)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), "geocode_requests_total")
}

func TestDependencies_DisabledByDefault(t *testing.T) {
	deps := connectDependencies(context.Background(), testConfig("http://localhost"))
	assert.Nil(t, deps.redis)
	assert.Nil(t, deps.history)
	deps.close()
}
