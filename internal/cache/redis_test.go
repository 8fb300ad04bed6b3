package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/placefinder/placefinder/internal/errors"
)

func newMiniredisService(t *testing.T) (*RedisService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisServiceWithClient(client), mr
}

func TestRedisService_SetGet(t *testing.T) {
	svc, mr := newMiniredisService(t)
	ctx := context.Background()

	type payload struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
	}

	require.NoError(t, svc.Set(ctx, "k", payload{Name: "Berlin", Score: 0.9}, time.Minute))

	var got payload
	require.NoError(t, svc.Get(ctx, "k", &got))
	assert.Equal(t, payload{Name: "Berlin", Score: 0.9}, got)
	assert.Equal(t, time.Minute, mr.TTL("k"))
}

func TestRedisService_DefaultTTL(t *testing.T) {
	svc, mr := newMiniredisService(t)
	require.NoError(t, svc.Set(context.Background(), "k", "v", 0))
	assert.Equal(t, DefaultTTL, mr.TTL("k"))

	ttl, err := svc.TTL(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, ttl)
}

func TestRedisService_GetMiss(t *testing.T) {
	svc, _ := newMiniredisService(t)

	var v string
	err := svc.Get(context.Background(), "missing", &v)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisService_Expiry(t *testing.T) {
	svc, mr := newMiniredisService(t)
	ctx := context.Background()
	require.NoError(t, svc.Set(ctx, "k", "v", time.Second))

	mr.FastForward(2 * time.Second)

	var v string
	assert.ErrorIs(t, svc.Get(ctx, "k", &v), ErrCacheMiss)
}

func TestRedisService_GetUndecodable(t *testing.T) {
	svc, mr := newMiniredisService(t)
	require.NoError(t, mr.Set("k", "{not json"))

	var v map[string]any
	err := svc.Get(context.Background(), "k", &v)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestRedisService_DeleteAndPattern(t *testing.T) {
	svc, mr := newMiniredisService(t)
	ctx := context.Background()

	for _, k := range []string{"geocode:v1:a", "geocode:v1:b", "other"} {
		require.NoError(t, svc.Set(ctx, k, 1, time.Minute))
	}

	deleted, err := svc.DeletePattern(ctx, "geocode:v1:*")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.True(t, mr.Exists("other"))

	deleted, err = svc.DeletePattern(ctx, "nothing:*")
	require.NoError(t, err)
	assert.Zero(t, deleted)

	require.NoError(t, svc.Delete(ctx, "other"))
	assert.False(t, mr.Exists("other"))
	require.NoError(t, svc.Delete(ctx))
}

func TestRedisService_HealthCheck(t *testing.T) {
	svc, mr := newMiniredisService(t)
	assert.NoError(t, svc.HealthCheck(context.Background()))

	mr.Close()
	assert.Error(t, svc.HealthCheck(context.Background()))
}

func TestRedisService_ErrorsAreCacheErrors(t *testing.T) {
	svc, mr := newMiniredisService(t)
	mr.SetError("LOADING")

	err := svc.Set(context.Background(), "k", "v", time.Minute)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeCache))

	var v string
	err = svc.Get(context.Background(), "k", &v)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeCache))
}

// MockRedisClient is a mock implementation of RedisClientInterface
type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	args := m.Called(ctx, key, value, expiration)
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetErr(args.Error(0))
	return cmd
}

func (m *MockRedisClient) Get(ctx context.Context, key string) *redis.StringCmd {
	args := m.Called(ctx, key)
	cmd := redis.NewStringCmd(ctx)
	cmd.SetErr(args.Error(1))
	cmd.SetVal(args.String(0))
	return cmd
}

func (m *MockRedisClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	args := m.Called(ctx, keys)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(args.Get(0).(int64))
	cmd.SetErr(args.Error(1))
	return cmd
}

func (m *MockRedisClient) Keys(ctx context.Context, pattern string) *redis.StringSliceCmd {
	args := m.Called(ctx, pattern)
	cmd := redis.NewStringSliceCmd(ctx)
	cmd.SetVal(args.Get(0).([]string))
	cmd.SetErr(args.Error(1))
	return cmd
}

func (m *MockRedisClient) Ping(ctx context.Context) *redis.StatusCmd {
	args := m.Called(ctx)
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetErr(args.Error(0))
	return cmd
}

func (m *MockRedisClient) TTL(ctx context.Context, key string) *redis.DurationCmd {
	args := m.Called(ctx, key)
	cmd := redis.NewDurationCmd(ctx, time.Second)
	cmd.SetVal(args.Get(0).(time.Duration))
	cmd.SetErr(args.Error(1))
	return cmd
}

func (m *MockRedisClient) Info(ctx context.Context, section ...string) *redis.StringCmd {
	args := m.Called(ctx, section)
	cmd := redis.NewStringCmd(ctx)
	cmd.SetVal(args.String(0))
	cmd.SetErr(args.Error(1))
	return cmd
}

func (m *MockRedisClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestRedisService_GetStats(t *testing.T) {
	client := &MockRedisClient{}
	client.On("Info", mock.Anything, []string{"stats"}).
		Return("# Stats\r\nkeyspace_hits:30\r\nkeyspace_misses:10\r\n", nil)
	client.On("Info", mock.Anything, []string{"clients"}).
		Return("# Clients\r\nconnected_clients:4\r\n", nil)

	stats, err := NewRedisServiceWithClient(client).GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(30), stats.Hits)
	assert.Equal(t, int64(10), stats.Misses)
	assert.Equal(t, 4, stats.Connections)
	assert.InDelta(t, 0.75, stats.HitRate(), 1e-9)
}

func TestRedisService_GetStatsError(t *testing.T) {
	client := &MockRedisClient{}
	client.On("Info", mock.Anything, []string{"stats"}).Return("", errors.New("connection refused"))

	_, err := NewRedisServiceWithClient(client).GetStats(context.Background())
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeCache))
}

func TestRedisService_Close(t *testing.T) {
	client := &MockRedisClient{}
	client.On("Close").Return(nil)

	assert.NoError(t, NewRedisServiceWithClient(client).Close())
	client.AssertExpectations(t)
}

func TestCacheStats_HitRate(t *testing.T) {
	assert.Zero(t, (&CacheStats{}).HitRate())
	assert.InDelta(t, 0.5, (&CacheStats{Hits: 5, Misses: 5}).HitRate(), 1e-9)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("REDIS_HOST", "cache.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_DB", "2")

	cfg := ConfigFromEnv()
	assert.Equal(t, "cache.internal:6380", cfg.Addr())
	assert.Equal(t, 2, cfg.DB)
	assert.Equal(t, 10, cfg.PoolSize)
}
