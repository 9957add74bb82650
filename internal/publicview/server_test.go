package publicview

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"kalshi-weather-trader/internal/repo"
	"kalshi-weather-trader/pkg/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testServer(t *testing.T, now time.Time) (*Server, *repo.Store, *httptest.Server) {
	t.Helper()
	store, err := repo.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	s := NewServer(store, ":0", time.Hour, quietLogger())
	s.now = func() time.Time { return now }

	ts := httptest.NewServer(s.http.Handler)
	t.Cleanup(ts.Close)
	return s, store, ts
}

func seedFill(t *testing.T, store *repo.Store, id string, filledAt time.Time) {
	t.Helper()
	_, err := store.SaveFill(types.Fill{
		ID: id, OrderRef: "order-" + id, Ticker: "KXHIGHNY-26FEB10-B71", CityCode: "NYC",
		Side: types.SideYes, FilledAt: filledAt, Quantity: 3, PriceCents: 48,
		RealizedPnL: decimal.Zero, ExchangeTrade: "x-" + id,
	})
	require.NoError(t, err)
}

func TestTradesHidesRecentFills(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 2, 10, 16, 0, 0, 0, time.UTC)
	_, store, ts := testServer(t, now)

	seedFill(t, store, "old", now.Add(-2*time.Hour))
	seedFill(t, store, "fresh", now.Add(-10*time.Minute))

	resp, err := http.Get(ts.URL + "/public/trades")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Trades []tradeJSON `json:"trades"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Trades, 1)
	require.Equal(t, "KXHIGHNY-26FEB10-B71", body.Trades[0].Ticker)
	require.Equal(t, "NYC", body.Trades[0].CityCode)
	require.Equal(t, 3, body.Trades[0].Quantity)

	// Timestamps come back rounded to the minute.
	filled, err := time.Parse(time.RFC3339, body.Trades[0].FilledAt)
	require.NoError(t, err)
	require.Zero(t, filled.Second())
}

func TestTradesRejectsBadLimit(t *testing.T) {
	t.Parallel()
	_, _, ts := testServer(t, time.Now())

	for _, raw := range []string{"0", "-3", "abc"} {
		resp, err := http.Get(ts.URL + "/public/trades?limit=" + raw)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, "limit=%s", raw)
	}
}

func TestHealthAggregatesWorstState(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 2, 10, 16, 0, 0, 0, time.UTC)
	_, store, ts := testServer(t, now)

	require.NoError(t, store.SaveHealth(types.HealthStatus{
		Component: "trader", State: types.HealthOK, LastOK: now, UpdatedAt: now,
	}))
	require.NoError(t, store.SaveHealth(types.HealthStatus{
		Component: "weather_api", State: types.HealthDegraded, UpdatedAt: now, Message: "stale forecast",
	}))

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status     string       `json:"status"`
		Components []healthJSON `json:"components"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "DEGRADED", body.Status)
	require.Len(t, body.Components, 2)
}

func TestHealthReturns503WhenDown(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 2, 10, 16, 0, 0, 0, time.UTC)
	_, store, ts := testServer(t, now)

	require.NoError(t, store.SaveHealth(types.HealthStatus{
		Component: "exchange_api", State: types.HealthDown, UpdatedAt: now, Message: "auth failure",
	}))

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
