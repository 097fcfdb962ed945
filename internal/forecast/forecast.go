// Package forecast fetches and caches the usage forecast consumed by the
// allocation policy. The forecasting model itself lives elsewhere; this
// package treats its output as an opaque number + text pair.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrUnavailable means no forecast could be obtained. Automation waits.
var ErrUnavailable = errors.New("forecast unavailable")

// Forecast is the output of the external forecasting collaborator.
type Forecast struct {
	PredictedUsage      float64   `json:"predictedUsage"`
	UsagePatternSummary string    `json:"usagePatternSummary"`
	FetchedAt           time.Time `json:"fetchedAt"`
}

// Source produces a fresh forecast on demand.
type Source interface {
	Fetch(ctx context.Context) (Forecast, error)
}

// Cache holds the last good forecast until explicitly refreshed.
type Cache interface {
	// Get returns the cached forecast; ok is false when nothing is cached.
	Get(ctx context.Context) (f Forecast, ok bool, err error)
	Put(ctx context.Context, f Forecast) error
}

// Service combines a Source with a Cache.
type Service struct {
	source Source
	cache  Cache
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex // serializes fetches
}

// NewService creates a forecast service. cache may be nil (memory cache).
func NewService(source Source, cache Cache, logger *slog.Logger) *Service {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, cache: cache, logger: logger, now: time.Now}
}

// Current returns the cached forecast, fetching one if none is cached.
func (s *Service) Current(ctx context.Context) (Forecast, error) {
	f, ok, err := s.cache.Get(ctx)
	if err != nil {
		s.logger.Warn("forecast cache read failed", "error", err)
	}
	if ok {
		return f, nil
	}
	return s.Refresh(ctx)
}

// Refresh fetches a new forecast and replaces the cached one.
// The previously cached forecast is kept if the fetch fails.
func (s *Service) Refresh(ctx context.Context) (Forecast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.source == nil {
		return Forecast{}, fmt.Errorf("%w: no source configured", ErrUnavailable)
	}
	f, err := s.source.Fetch(ctx)
	if err != nil {
		return Forecast{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if f.FetchedAt.IsZero() {
		f.FetchedAt = s.now()
	}
	if err := s.cache.Put(ctx, f); err != nil {
		s.logger.Warn("forecast cache write failed", "error", err)
	}
	s.logger.Info("forecast refreshed",
		"predicted_usage", f.PredictedUsage,
		"summary_len", len(f.UsagePatternSummary),
	)
	return f, nil
}

// Cached returns the cached forecast without fetching.
func (s *Service) Cached(ctx context.Context) (Forecast, bool) {
	f, ok, err := s.cache.Get(ctx)
	if err != nil {
		return Forecast{}, false
	}
	return f, ok
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu  sync.RWMutex
	f   Forecast
	set bool
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context) (Forecast, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.f, c.set, nil
}

// Put implements Cache.
func (c *MemoryCache) Put(_ context.Context, f Forecast) error {
	c.mu.Lock()
	c.f, c.set = f, true
	c.mu.Unlock()
	return nil
}

// Static is a Source returning a fixed forecast. Used when no forecasting
// service is configured.
type Static struct {
	Forecast Forecast
}

// Fetch implements Source.
func (s Static) Fetch(_ context.Context) (Forecast, error) {
	return s.Forecast, nil
}
