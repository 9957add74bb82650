package weather

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"kalshi-weather-trader/internal/cities"
	"kalshi-weather-trader/pkg/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

const forecastBody = `{"properties": {
	"updateTime": "2026-02-10T08:00:00Z",
	"periods": [
		{"name": "Today", "isDaytime": true, "temperature": 72, "startTime": "2026-02-10T06:00:00-05:00"},
		{"name": "Tonight", "isDaytime": false, "temperature": 55, "startTime": "2026-02-10T18:00:00-05:00"}
	]
}}`

const observationBody = `{"properties": {
	"timestamp": "2026-02-10T13:51:00Z",
	"temperature": {"value": 18.5}
}}`

// weatherServer counts forecast requests and can be flipped to fail.
type weatherServer struct {
	forecasts atomic.Int64
	failing   atomic.Bool
	srv       *httptest.Server
}

func newWeatherServer(t *testing.T) *weatherServer {
	t.Helper()
	ws := &weatherServer{}
	ws.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ws.failing.Load() {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		switch r.URL.Path {
		case "/gridpoints/OKX/33,35/forecast":
			ws.forecasts.Add(1)
			w.Write([]byte(forecastBody))
		case "/stations/KNYC/observations/latest":
			w.Write([]byte(observationBody))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ws.srv.Close)
	return ws
}

func testClient(baseURL string) *Client {
	return NewClient(baseURL, "test-agent", 1000, time.Second, quietLogger())
}

func nyc(t *testing.T) types.CityConfig {
	t.Helper()
	city, err := cities.Get("NYC")
	if err != nil {
		t.Fatal(err)
	}
	return city
}

func TestGetForecastParsesDaytimeHigh(t *testing.T) {
	t.Parallel()
	ws := newWeatherServer(t)
	c := testClient(ws.srv.URL)

	fc, err := c.GetForecast(context.Background(), nyc(t).Grid)
	if err != nil {
		t.Fatal(err)
	}
	if fc.HighF != 72 {
		t.Errorf("high = %v, want 72", fc.HighF)
	}
	if fc.UpdatedAt.IsZero() {
		t.Error("update time not parsed")
	}
}

func TestGetLatestObservationConvertsToFahrenheit(t *testing.T) {
	t.Parallel()
	ws := newWeatherServer(t)
	c := testClient(ws.srv.URL)

	obs, err := c.GetLatestObservation(context.Background(), "KNYC")
	if err != nil {
		t.Fatal(err)
	}
	// 18.5 °C = 65.3 °F
	if obs.TempF < 65.29 || obs.TempF > 65.31 {
		t.Errorf("temp = %v °F, want 65.3", obs.TempF)
	}
}

func TestLimiterContextErrorIsTransient(t *testing.T) {
	t.Parallel()
	ws := newWeatherServer(t)
	c := testClient(ws.srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetForecast(ctx, nyc(t).Grid)
	if err == nil {
		t.Fatal("expected limiter wait to fail on the cancelled context")
	}
	if !types.IsKind(err, types.KindTransientNetwork) {
		t.Errorf("kind = %v, want TransientNetwork", types.KindOf(err))
	}
}

func TestProviderCachesWithinTTL(t *testing.T) {
	t.Parallel()
	ws := newWeatherServer(t)
	p := NewProvider(testClient(ws.srv.URL), 5*time.Minute, 30*time.Minute, 3.0, quietLogger())

	now := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	snap, err := p.Get(context.Background(), nyc(t))
	if err != nil {
		t.Fatal(err)
	}
	if snap.ForecastHighF != 72 || snap.ForecastStddevF != 3.0 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.ObservedTempF == nil {
		t.Error("observation should be attached")
	}
	if snap.Stale {
		t.Error("fresh snapshot marked stale")
	}

	// Second read within TTL hits the cache, not the API.
	if _, err := p.Get(context.Background(), nyc(t)); err != nil {
		t.Fatal(err)
	}
	if n := ws.forecasts.Load(); n != 1 {
		t.Errorf("forecast requests = %d, want 1", n)
	}

	// Past the TTL the provider refetches.
	now = now.Add(6 * time.Minute)
	if _, err := p.Get(context.Background(), nyc(t)); err != nil {
		t.Fatal(err)
	}
	if n := ws.forecasts.Load(); n != 2 {
		t.Errorf("forecast requests = %d, want 2", n)
	}
}

func TestProviderServesLastKnownGoodOnFailure(t *testing.T) {
	t.Parallel()
	ws := newWeatherServer(t)
	p := NewProvider(testClient(ws.srv.URL), time.Minute, 30*time.Minute, 3.0, quietLogger())

	now := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	if _, err := p.Get(context.Background(), nyc(t)); err != nil {
		t.Fatal(err)
	}

	ws.failing.Store(true)
	now = now.Add(2 * time.Minute)

	snap, err := p.Get(context.Background(), nyc(t))
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Stale {
		t.Error("last-known-good after a failed refetch must be stale")
	}
	if snap.ForecastHighF != 72 {
		t.Errorf("high = %v, want cached 72", snap.ForecastHighF)
	}
}

func TestProviderMarksAgedSourceStale(t *testing.T) {
	t.Parallel()
	ws := newWeatherServer(t)
	p := NewProvider(testClient(ws.srv.URL), time.Hour, 30*time.Minute, 3.0, quietLogger())

	// Source timestamps in the fixture are 13:51 / 08:00; an hour later the
	// freshest source is past the 30m ceiling.
	p.now = func() time.Time { return time.Date(2026, 2, 10, 15, 0, 0, 0, time.UTC) }

	snap, err := p.Get(context.Background(), nyc(t))
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Stale {
		t.Error("source older than the ceiling must be stale")
	}
}
