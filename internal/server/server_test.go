package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placefinder/placefinder/internal/errors"
	"github.com/placefinder/placefinder/internal/geocoding"
	"github.com/placefinder/placefinder/internal/monitoring"
)

const upstreamBody = `{
  "results": [
    {
      "formatted": "Brandenburg Gate, Pariser Platz, 10117 Berlin, Germany",
      "geometry": {"lat": 52.5162746, "lng": 13.3777041},
      "bounds": {
        "southwest": {"lat": 52.5161, "lng": 13.3775},
        "northeast": {"lat": 52.5164, "lng": 13.3779}
      },
      "annotations": {"timezone": {"name": "Europe/Berlin"}}
    },
    {
      "formatted": "Brandenburger Tor, Potsdam, Germany",
      "geometry": {"lat": 52.399, "lng": 13.047}
    }
  ],
  "status": {"code": 200, "message": "OK"},
  "rate": {"limit": 2500, "remaining": 2499, "reset": 1700000000},
  "total_results": 2
}`

type upstream struct {
	*httptest.Server
	calls    atomic.Int32
	lastKey  atomic.Value
	lastNear atomic.Value
	status   int
}

func newUpstream(t *testing.T, status int) *upstream {
	t.Helper()
	u := &upstream{status: status}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)
		u.lastKey.Store(r.URL.Query().Get("key"))
		u.lastNear.Store(r.URL.Query().Get("proximity"))
		w.Header().Set("Content-Type", "application/json")
		if u.status != http.StatusOK {
			w.WriteHeader(u.status)
			_, _ = w.Write([]byte(`{"status": {"code": 402, "message": "quota exceeded"}, "results": []}`))
			return
		}
		_, _ = w.Write([]byte(upstreamBody))
	}))
	t.Cleanup(u.Close)
	return u
}

func newTestRouter(t *testing.T, opts geocoding.Options) (*gin.Engine, *monitoring.Metrics) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	metrics, err := monitoring.NewMetrics(nil)
	require.NoError(t, err)
	client := geocoding.NewClient(opts, geocoding.WithRecorder(metrics))

	health := monitoring.NewHealthChecker("placefinder", "test")
	health.RegisterCheck("upstream", func(context.Context) monitoring.ComponentHealth {
		return monitoring.ComponentHealth{Status: monitoring.HealthStatusHealthy}
	})

	webhook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	return NewRouter(Config{
		Geocoder: client,
		Health:   health,
		Metrics:  metrics,
		Webhook:  webhook,
	}), metrics
}

func get(router http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestProxy_InjectsKeyAndPreservesShape(t *testing.T) {
	up := newUpstream(t, http.StatusOK)
	router, _ := newTestRouter(t, geocoding.Options{ServiceURL: up.URL, Key: "server-key"})

	w := get(router, "/v1/geocode/json?q=Brandenburg+Gate&key=client-key&no_annotations=1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "server-key", up.lastKey.Load())

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	results := body["results"].([]any)
	require.Len(t, results, 2)
	first := results[0].(map[string]any)
	assert.Equal(t, "Brandenburg Gate, Pariser Platz, 10117 Berlin, Germany", first["formatted"])
	assert.Contains(t, first, "annotations", "unknown fields are passed through")
	assert.Contains(t, body, "rate")
}

func TestProxy_Errors(t *testing.T) {
	tests := []struct {
		name   string
		opts   func(url string) geocoding.Options
		status int
		target string
		want   int
		code   string
	}{
		{
			name:   "Missing key",
			opts:   func(u string) geocoding.Options { return geocoding.Options{ServiceURL: u} },
			status: http.StatusOK,
			target: "/v1/geocode/json?q=Berlin",
			want:   http.StatusUnauthorized,
			code:   errors.CodeMissingAPIKey,
		},
		{
			name:   "Missing query",
			opts:   func(u string) geocoding.Options { return geocoding.Options{ServiceURL: u, Key: "k"} },
			status: http.StatusOK,
			target: "/v1/geocode/json",
			want:   http.StatusBadRequest,
			code:   errors.CodeBadQuery,
		},
		{
			name:   "Upstream status passes through",
			opts:   func(u string) geocoding.Options { return geocoding.Options{ServiceURL: u, Key: "k"} },
			status: http.StatusPaymentRequired,
			target: "/v1/geocode/json?q=Berlin",
			want:   http.StatusPaymentRequired,
			code:   errors.CodeUpstreamStatus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := newUpstream(t, tt.status)
			router, _ := newTestRouter(t, tt.opts(up.URL))

			w := get(router, tt.target)
			assert.Equal(t, tt.want, w.Code)
			var body struct {
				Error struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
}

func TestProxy_UnreachableUpstream(t *testing.T) {
	up := newUpstream(t, http.StatusOK)
	up.Close()
	router, _ := newTestRouter(t, geocoding.Options{ServiceURL: up.URL, Key: "k", Timeout: time.Second})

	w := get(router, "/v1/geocode/json?q=Berlin")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "EXTERNAL_ERROR")
}

func TestSearch(t *testing.T) {
	up := newUpstream(t, http.StatusOK)
	router, metrics := newTestRouter(t, geocoding.Options{ServiceURL: up.URL, Key: "k"})

	w := get(router, "/v1/search?q=Brandenburg+Gate&near=52.52,13.40")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "52.52,13.4", up.lastNear.Load())

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Brandenburg Gate", resp.Query)
	assert.Equal(t, 2, resp.Total)
	require.NotNil(t, resp.Results[0].Bounds)
	assert.Nil(t, resp.Results[1].Bounds)
	assert.Equal(t, 52.5162746, resp.Results[0].Center.Lat)
	require.NotNil(t, resp.Results[0].DistanceKM, "a near point adds distances")
	assert.InDelta(t, 1.57, *resp.Results[0].DistanceKM, 0.05)

	w = get(router, "/v1/search?q=Brandenburg+Gate")
	var plain SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &plain))
	require.NotEmpty(t, plain.Results)
	assert.Nil(t, plain.Results[0].DistanceKM)
	assert.NotContains(t, w.Body.String(), "distance_km")

	w = get(router, "/v1/search?q=Brandenburg+Gate&limit=1")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)

	assert.Equal(t, float64(3), metrics.Collector().Counter("geocode_requests_total", "",
		map[string]string{"kind": "forward", "outcome": geocoding.OutcomeOK}).Get())
}

func TestSearch_Reverse(t *testing.T) {
	up := newUpstream(t, http.StatusOK)
	router, _ := newTestRouter(t, geocoding.Options{ServiceURL: up.URL, Key: "k"})

	w := get(router, "/v1/search?latlng="+url.QueryEscape("52.5163, 13.3777"))
	require.Equal(t, http.StatusOK, w.Code)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "52.5163,13.3777", resp.Query)
	assert.Equal(t, 2, resp.Total)
}

func TestSearch_Validation(t *testing.T) {
	up := newUpstream(t, http.StatusOK)
	router, _ := newTestRouter(t, geocoding.Options{ServiceURL: up.URL, Key: "k"})

	for _, target := range []string{
		"/v1/search",
		"/v1/search?q=%20%20",
		"/v1/search?q=Berlin&near=north",
		"/v1/search?latlng=91,0",
		"/v1/search?q=Berlin&limit=0",
	} {
		w := get(router, target)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}
	assert.Equal(t, int32(1), up.calls.Load(), "only the bad limit reached upstream")
}

func TestSearch_UpstreamFailureIsEmpty(t *testing.T) {
	up := newUpstream(t, http.StatusPaymentRequired)
	router, _ := newTestRouter(t, geocoding.Options{ServiceURL: up.URL, Key: "k"})

	w := get(router, "/v1/search?q=Berlin")
	require.Equal(t, http.StatusOK, w.Code)
	var resp SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Zero(t, resp.Total)
}

func TestOperationalRoutes(t *testing.T) {
	up := newUpstream(t, http.StatusOK)
	router, _ := newTestRouter(t, geocoding.Options{ServiceURL: up.URL, Key: "k"})

	w := get(router, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"upstream"`)

	assert.Equal(t, http.StatusOK, get(router, "/livez").Code)

	get(router, "/v1/search?q=Berlin")
	w = get(router, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "geocode_requests_total")
	assert.Contains(t, w.Body.String(), `route="/v1/search"`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))
}

func TestRouter_OptionalRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := NewRouter(Config{})

	assert.Equal(t, http.StatusNotFound, get(router, "/health").Code)
	assert.Equal(t, http.StatusNotFound, get(router, "/v1/search?q=x").Code)
}
