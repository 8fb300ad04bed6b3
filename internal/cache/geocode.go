package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/mmcloughlin/geohash"

	"github.com/placefinder/placefinder/internal/geocoding"
	"github.com/placefinder/placefinder/internal/telemetry"
)

const (
	// ProximityPrecision is the geohash length proximity hints are bucketed
	// to; six characters is roughly a 1.2km cell.
	ProximityPrecision = 6

	DefaultGeocodeTTL = 24 * time.Hour
	keyPrefix         = "geocode:v1:"
)

// Store is the storage the cached transport needs. *RedisService satisfies it.
type Store interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// CachedTransport is a cache-aside decorator for a geocoding transport.
// Only successful responses are cached; store failures are logged and the
// request goes upstream.
type CachedTransport struct {
	next  geocoding.Transport
	store Store
	ttl   time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

var _ geocoding.Transport = (*CachedTransport)(nil)

// NewCachedTransport wraps next. A zero ttl means DefaultGeocodeTTL.
func NewCachedTransport(next geocoding.Transport, store Store, ttl time.Duration) *CachedTransport {
	if ttl <= 0 {
		ttl = DefaultGeocodeTTL
	}
	return &CachedTransport{next: next, store: store, ttl: ttl}
}

func (t *CachedTransport) Do(ctx context.Context, endpoint string, params url.Values) (*geocoding.Response, error) {
	key := CacheKey(endpoint, params)
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"component": "geocode_cache",
		"cache_key": key,
	})

	var cached geocoding.Response
	err := t.store.Get(ctx, key, &cached)
	switch {
	case err == nil && cached.Results != nil:
		t.hits.Add(1)
		logger.Debug("Serving geocoding response from cache")
		return &cached, nil
	case err != nil && !stderrors.Is(err, ErrCacheMiss):
		logger.WithError(err).Warn("Geocode cache read failed")
	}
	t.misses.Add(1)

	resp, err := t.next.Do(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}

	if err := t.store.Set(ctx, key, resp, t.ttl); err != nil {
		logger.WithError(err).Warn("Geocode cache write failed")
	}
	return resp, nil
}

// Stats returns hit and miss counts since creation.
func (t *CachedTransport) Stats() CacheStats {
	return CacheStats{Hits: t.hits.Load(), Misses: t.misses.Load()}
}

// CacheKey identifies a request. The API key never takes part and the
// proximity hint is reduced to its geohash cell so nearby views share entries.
func CacheKey(endpoint string, params url.Values) string {
	normalized := url.Values{}
	for k, vs := range params {
		if k == "key" {
			continue
		}
		normalized[k] = vs
	}

	if raw := params.Get("proximity"); raw != "" {
		if ll, err := geocoding.ParseLatLng(raw); err == nil {
			normalized.Set("proximity", geohash.EncodeWithPrecision(ll.Lat, ll.Lng, ProximityPrecision))
		}
	}

	sum := sha256.Sum256([]byte(endpoint + "?" + normalized.Encode()))
	return keyPrefix + hex.EncodeToString(sum[:])
}
