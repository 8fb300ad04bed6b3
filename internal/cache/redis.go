package cache

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/placefinder/placefinder/internal/errors"
	"github.com/placefinder/placefinder/internal/telemetry"
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// Addr returns host:port.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RedisClientInterface is the subset of the Redis client the service uses.
type RedisClientInterface interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Keys(ctx context.Context, pattern string) *redis.StringSliceCmd
	Ping(ctx context.Context) *redis.StatusCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
	Info(ctx context.Context, section ...string) *redis.StringCmd
	Close() error
}

// ErrCacheMiss is returned by Get when the key does not exist.
var ErrCacheMiss = stderrors.New("cache miss")

// DefaultTTL applies when Set is called with a zero TTL.
const DefaultTTL = time.Hour

// RedisService wraps a Redis client with JSON helpers and logging.
type RedisService struct {
	client RedisClientInterface
	config *RedisConfig
}

// CacheStats holds cache performance metrics
type CacheStats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Connections int   `json:"connections"`
}

// HitRate calculates the cache hit rate
func (cs *CacheStats) HitRate() float64 {
	total := cs.Hits + cs.Misses
	if total == 0 {
		return 0.0
	}
	return float64(cs.Hits) / float64(total)
}

// NewRedisService connects to Redis with tracing enabled. A nil config is
// read from the environment.
func NewRedisService(ctx context.Context, config *RedisConfig) (*RedisService, error) {
	if config == nil {
		config = ConfigFromEnv()
	}

	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation": "redis_connection",
		"component": "cache",
		"addr":      config.Addr(),
		"db":        config.DB,
		"pool_size": config.PoolSize,
	})
	logger.Info("Establishing Redis connection")

	client := redis.NewClient(&redis.Options{
		Addr:       config.Addr(),
		Password:   config.Password,
		DB:         config.DB,
		PoolSize:   config.PoolSize,
		MaxRetries: 3,
	})
	telemetry.InstrumentRedisClient(client)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		logger.WithError(err).Error("Failed to connect to Redis")
		return nil, errors.NewCacheError("connect", err)
	}

	logger.Info("Redis connected successfully")
	return &RedisService{client: client, config: config}, nil
}

// NewRedisServiceWithClient wraps an existing client.
func NewRedisServiceWithClient(client RedisClientInterface) *RedisService {
	return &RedisService{client: client}
}

// ConfigFromEnv loads Redis configuration from REDIS_* variables.
func ConfigFromEnv() *RedisConfig {
	port, _ := strconv.Atoi(getEnvOrDefault("REDIS_PORT", "6379"))
	db, _ := strconv.Atoi(getEnvOrDefault("REDIS_DB", "0"))
	poolSize, _ := strconv.Atoi(getEnvOrDefault("REDIS_POOL_SIZE", "10"))

	return &RedisConfig{
		Host:     getEnvOrDefault("REDIS_HOST", "localhost"),
		Port:     port,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		PoolSize: poolSize,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Set stores value as JSON. A zero ttl means DefaultTTL.
func (r *RedisService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation": "redis_set",
		"key":       key,
		"component": "cache",
	})

	data, err := json.Marshal(value)
	if err != nil {
		logger.WithError(err).Error("Failed to marshal value for cache")
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	if ttl == 0 {
		ttl = DefaultTTL
	}

	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		logger.WithError(err).Error("Failed to set cache value")
		return errors.NewCacheError("set", err)
	}
	logger.WithField("ttl_seconds", ttl.Seconds()).Debug("Cache value set")
	return nil
}

// Get loads the JSON value at key into dest. A missing key yields ErrCacheMiss.
func (r *RedisService) Get(ctx context.Context, key string, dest interface{}) error {
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation": "redis_get",
		"key":       key,
		"component": "cache",
	})

	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			logger.Debug("Cache miss - key not found")
			return ErrCacheMiss
		}
		logger.WithError(err).Error("Failed to get cache value")
		return errors.NewCacheError("get", err)
	}

	if err := json.Unmarshal(val, dest); err != nil {
		logger.WithError(err).Warn("Failed to unmarshal cache value")
		return fmt.Errorf("failed to unmarshal key %s: %w", key, err)
	}
	logger.Debug("Cache hit")
	return nil
}

// Delete removes keys.
func (r *RedisService) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return errors.NewCacheError("delete", err)
	}
	return nil
}

// TTL gets remaining time to live
func (r *RedisService) TTL(ctx context.Context, key string) (time.Duration, error) {
	return r.client.TTL(ctx, key).Result()
}

// DeletePattern removes keys matching a pattern
func (r *RedisService) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	keys, err := r.client.Keys(ctx, pattern).Result()
	if err != nil {
		return 0, errors.NewCacheError("keys", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	deleted, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, errors.NewCacheError("delete", err)
	}
	telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation":    "redis_delete_pattern",
		"pattern":      pattern,
		"deleted_keys": deleted,
	}).Info("Cache keys invalidated")
	return deleted, nil
}

// HealthCheck pings Redis.
func (r *RedisService) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// GetStats reads keyspace hit/miss counters from INFO.
func (r *RedisService) GetStats(ctx context.Context) (*CacheStats, error) {
	info, err := r.client.Info(ctx, "stats").Result()
	if err != nil {
		return nil, errors.NewCacheError("info", err)
	}

	stats := &CacheStats{}
	for _, line := range strings.Split(info, "\r\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch key {
		case "keyspace_hits":
			stats.Hits, _ = strconv.ParseInt(value, 10, 64)
		case "keyspace_misses":
			stats.Misses, _ = strconv.ParseInt(value, 10, 64)
		}
	}

	if clientInfo, err := r.client.Info(ctx, "clients").Result(); err == nil {
		for _, line := range strings.Split(clientInfo, "\r\n") {
			if value, ok := strings.CutPrefix(line, "connected_clients:"); ok {
				stats.Connections, _ = strconv.Atoi(value)
			}
		}
	}
	return stats, nil
}

// Close closes the Redis connection
func (r *RedisService) Close() error {
	return r.client.Close()
}
