package weather

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"kalshi-weather-trader/internal/cities"
	"kalshi-weather-trader/pkg/types"
)

// cacheEntry pairs a snapshot with its local fetch time.
type cacheEntry struct {
	snap      types.WeatherSnapshot
	fetchedAt time.Time
}

// Provider serves weather snapshots from a per-city TTL cache backed by the
// API client. Entries older than the TTL are refetched; when a refetch fails
// transiently the last-known-good snapshot is returned with Stale set, and
// the caller skips trading on it.
type Provider struct {
	client        *Client
	ttl           time.Duration
	staleCeiling  time.Duration
	defaultStddev float64

	mu    sync.RWMutex
	cache map[string]cacheEntry

	logger *slog.Logger
	now    func() time.Time // swapped in tests
}

// NewProvider creates a Provider. defaultStddev is the per-city fallback
// forecast standard deviation in °F, used because the forecast endpoint
// publishes point values without intervals.
func NewProvider(client *Client, ttl, staleCeiling time.Duration, defaultStddev float64, logger *slog.Logger) *Provider {
	return &Provider{
		client:        client,
		ttl:           ttl,
		staleCeiling:  staleCeiling,
		defaultStddev: defaultStddev,
		cache:         make(map[string]cacheEntry),
		logger:        logger.With("component", "weather_provider"),
		now:           time.Now,
	}
}

// Get returns the snapshot for a city, fetching through the cache. A fresh
// fetch whose source timestamp exceeds the stale ceiling is returned with
// Stale=true; so is a cached last-known-good snapshot after a failed refetch.
// Get only errors when there is nothing at all to serve.
func (p *Provider) Get(ctx context.Context, city types.CityConfig) (types.WeatherSnapshot, error) {
	p.mu.RLock()
	entry, ok := p.cache[city.Code]
	p.mu.RUnlock()

	if ok && p.now().Sub(entry.fetchedAt) < p.ttl {
		return p.withStaleness(entry.snap), nil
	}

	snap, err := p.fetch(ctx, city)
	if err != nil {
		if ok {
			p.logger.Warn("weather refetch failed, serving last known good",
				"city", city.Code, "error", err)
			stale := entry.snap
			stale.Stale = true
			return stale, nil
		}
		return types.WeatherSnapshot{}, err
	}

	p.mu.Lock()
	p.cache[city.Code] = cacheEntry{snap: snap, fetchedAt: p.now()}
	p.mu.Unlock()

	return p.withStaleness(snap), nil
}

// PrefetchAll warms the cache for every registered city. Individual
// failures are logged, not fatal: a city without weather simply holds.
func (p *Provider) PrefetchAll(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, city := range cities.All() {
		city := city
		g.Go(func() error {
			if _, err := p.Get(gctx, city); err != nil {
				p.logger.Warn("prefetch failed", "city", city.Code, "error", err)
			}
			return nil
		})
	}
	g.Wait()
}

// fetch pulls forecast and observation for one city. The observation is
// best-effort; the forecast is required.
func (p *Provider) fetch(ctx context.Context, city types.CityConfig) (types.WeatherSnapshot, error) {
	fc, err := p.client.GetForecast(ctx, city.Grid)
	if err != nil {
		return types.WeatherSnapshot{}, err
	}

	snap := types.WeatherSnapshot{
		CityCode:        city.Code,
		CapturedAt:      p.now(),
		ForecastHighF:   fc.HighF,
		ForecastStddevF: p.defaultStddev,
		SourceUpdatedAt: fc.UpdatedAt,
	}

	obs, err := p.client.GetLatestObservation(ctx, city.SettlementStation)
	if err != nil {
		p.logger.Debug("observation unavailable", "city", city.Code, "error", err)
	} else {
		snap.ObservedTempF = &obs.TempF
		if obs.Timestamp.After(snap.SourceUpdatedAt) {
			snap.SourceUpdatedAt = obs.Timestamp
		}
	}

	return snap, nil
}

// withStaleness re-evaluates the stale flag against the ceiling at read time,
// so a snapshot that was fresh when cached can still age out mid-TTL.
func (p *Provider) withStaleness(snap types.WeatherSnapshot) types.WeatherSnapshot {
	if !snap.SourceUpdatedAt.IsZero() && p.now().Sub(snap.SourceUpdatedAt) > p.staleCeiling {
		snap.Stale = true
	}
	return snap
}
