package forecast

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	calls int
	f     Forecast
	err   error
}

func (s *countingSource) Fetch(_ context.Context) (Forecast, error) {
	s.calls++
	return s.f, s.err
}

func TestService_CurrentCachesUntilRefresh(t *testing.T) {
	src := &countingSource{f: Forecast{PredictedUsage: 3.5, UsagePatternSummary: "evening peak"}}
	svc := NewService(src, nil, nil)
	ctx := context.Background()

	f, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3.5, f.PredictedUsage)
	assert.False(t, f.FetchedAt.IsZero())

	_, err = svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls, "cached forecast should be reused")

	_, err = svc.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestService_FetchFailure(t *testing.T) {
	src := &countingSource{err: errors.New("connection refused")}
	svc := NewService(src, nil, nil)

	_, err := svc.Current(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestService_RefreshFailureKeepsCache(t *testing.T) {
	src := &countingSource{f: Forecast{PredictedUsage: 1}}
	svc := NewService(src, nil, nil)
	ctx := context.Background()

	_, err := svc.Current(ctx)
	require.NoError(t, err)

	src.err = errors.New("timeout")
	_, err = svc.Refresh(ctx)
	require.ErrorIs(t, err, ErrUnavailable)

	f, ok := svc.Cached(ctx)
	require.True(t, ok)
	assert.Equal(t, 1.0, f.PredictedUsage)
}

func TestService_NoSource(t *testing.T) {
	svc := NewService(nil, nil, nil)
	_, err := svc.Current(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestHTTPSource_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"predictedUsage": 4.2, "usagePatternSummary": "fridge runs all day"}`))
	}))
	defer srv.Close()

	f, err := NewHTTPSource(srv.URL, 2*time.Second).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4.2, f.PredictedUsage)
	assert.Equal(t, "fridge runs all day", f.UsagePatternSummary)
}

func TestHTTPSource_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not ready", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL, 2*time.Second).Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisCache(client, "")
}

func TestRedisCache_Empty(t *testing.T) {
	_, cache := setupTestRedis(t)

	_, ok, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_PutGet(t *testing.T) {
	mr, cache := setupTestRedis(t)
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, cache.Put(ctx, Forecast{PredictedUsage: 7, UsagePatternSummary: "pump at noon", FetchedAt: at}))

	f, ok, err := cache.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7.0, f.PredictedUsage)
	assert.Equal(t, "pump at noon", f.UsagePatternSummary)
	assert.True(t, f.FetchedAt.Equal(at))

	assert.True(t, mr.Exists(DefaultRedisKey))
	assert.Equal(t, time.Duration(0), mr.TTL(DefaultRedisKey), "forecast must not expire")
}

func TestRedisCache_CorruptEntry(t *testing.T) {
	mr, cache := setupTestRedis(t)
	require.NoError(t, mr.Set(DefaultRedisKey, "not json"))

	_, _, err := cache.Get(context.Background())
	assert.Error(t, err)
}

func TestService_WithRedisCache(t *testing.T) {
	_, cache := setupTestRedis(t)
	src := &countingSource{f: Forecast{PredictedUsage: 2}}
	ctx := context.Background()

	_, err := NewService(src, cache, nil).Current(ctx)
	require.NoError(t, err)

	// A second service (agent restart) reuses the stored forecast.
	_, err = NewService(src, cache, nil).Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
}
