package loop

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"kalshi-weather-trader/internal/config"
	"kalshi-weather-trader/internal/repo"
	"kalshi-weather-trader/internal/risk"
	"kalshi-weather-trader/pkg/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// ————————————————————————————————————————————————————————————————————————
// Fakes
// ————————————————————————————————————————————————————————————————————————

type fakeWeather struct {
	stale bool
	now   time.Time
}

func (f *fakeWeather) PrefetchAll(ctx context.Context) {}

func (f *fakeWeather) Get(ctx context.Context, city types.CityConfig) (types.WeatherSnapshot, error) {
	return types.WeatherSnapshot{
		CityCode:        city.Code,
		CapturedAt:      f.now,
		ForecastHighF:   73,
		ForecastStddevF: 3,
		SourceUpdatedAt: f.now.Add(-5 * time.Minute),
		Stale:           f.stale,
	}, nil
}

// fakeMarkets serves one NYC market and nothing elsewhere.
type fakeMarkets struct {
	market types.MarketSnapshot
}

func (f *fakeMarkets) ListActive(ctx context.Context, city types.CityConfig, eventDate string) ([]types.MarketSnapshot, error) {
	if city.Code != "NYC" {
		return nil, nil
	}
	m := f.market
	m.EventDate = eventDate
	return []types.MarketSnapshot{m}, nil
}

type fakeStrategy struct {
	sig types.Signal
}

func (f fakeStrategy) Name() string { return "FAKE" }

func (f fakeStrategy) Evaluate(w types.WeatherSnapshot, m types.MarketSnapshot, now time.Time) types.Signal {
	sig := f.sig
	sig.CityCode = m.CityCode
	sig.Ticker = m.Ticker
	sig.StrategyName = f.Name()
	sig.CreatedAt = now
	return sig
}

type placement struct {
	sig        types.Signal
	limitCents int
	qty        int
}

type fakeOMS struct {
	mu         sync.Mutex
	placements []placement
	placeErr   error
}

func (f *fakeOMS) ReconcileFills(ctx context.Context) (int, error) { return 0, nil }

func (f *fakeOMS) CancelDegraded(ctx context.Context, order *types.Order, m types.MarketSnapshot) error {
	return nil
}

func (f *fakeOMS) PlaceIntent(ctx context.Context, sig types.Signal, m types.MarketSnapshot, limitCents, qty int) (*types.Order, error) {
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	f.mu.Lock()
	f.placements = append(f.placements, placement{sig: sig, limitCents: limitCents, qty: qty})
	f.mu.Unlock()
	return &types.Order{
		Ticker:          m.Ticker,
		CityCode:        sig.CityCode,
		Side:            sig.Side,
		Quantity:        qty,
		LimitPriceCents: limitCents,
	}, nil
}

// ————————————————————————————————————————————————————————————————————————
// Fixture
// ————————————————————————————————————————————————————————————————————————

func testConfig() *config.Config {
	return &config.Config{
		Mode:     types.ModeShadow,
		Bankroll: 1000,
		Gates: config.GatesConfig{
			SpreadMaxCents:       4,
			LiquidityMin:         500,
			MinLiquidityMultiple: 5.0,
			MinEdgeAfterCosts:    0.03,
		},
		Loop: config.LoopConfig{
			CycleInterval:   time.Minute,
			ErrorSleep:      time.Second,
			CycleBudget:     30 * time.Second,
			CityConcurrency: 4,
		},
	}
}

func testEngine(t *testing.T) *risk.Engine {
	t.Helper()
	return risk.NewEngine(risk.Params{
		Bankroll:              decimal.NewFromInt(1000),
		MaxTradeRiskPct:       0.02,
		MaxCityExposurePct:    0.03,
		MaxClusterExposurePct: 0.05,
		MaxDailyLossPct:       0.05,
		MaxTradeContracts:     95,
		RejectBurstCount:      5,
		RejectBurstWindow:     15 * time.Minute,
	}, quietLogger())
}

func buySignal() types.Signal {
	return types.Signal{
		PYesModel:     0.76,
		Uncertainty:   0.2,
		PYesMarket:    0.70,
		Edge:          0.06,
		Action:        types.ActionBuy,
		Side:          types.SideYes,
		MaxPriceCents: 71,
		SizeHint:      10,
		Reasons:       []types.ReasonCode{types.ReasonEdgePositive},
	}
}

func nycMarket() types.MarketSnapshot {
	return types.MarketSnapshot{
		Ticker:       "KXHIGHNY-26FEB10-B72",
		CityCode:     "NYC",
		ThresholdF:   72,
		Direction:    types.DirAbove,
		YesBid:       68,
		YesAsk:       70,
		NoBid:        30,
		NoAsk:        32,
		HasQuotes:    true,
		Volume:       2000,
		OpenInterest: 2600,
		CloseTime:    time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC),
	}
}

func newTestLoop(t *testing.T, weather *fakeWeather, oms *fakeOMS) (*Loop, *repo.Store) {
	t.Helper()
	store, err := repo.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	l := New(testConfig(), store, weather, &fakeMarkets{market: nycMarket()},
		fakeStrategy{sig: buySignal()}, testEngine(t), oms, quietLogger())
	l.now = func() time.Time { return weather.now }
	return l, store
}

// ————————————————————————————————————————————————————————————————————————
// Tests
// ————————————————————————————————————————————————————————————————————————

func TestCyclePlacesAdmittedSignal(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 2, 10, 16, 0, 0, 0, time.UTC)
	weather := &fakeWeather{now: now}
	oms := &fakeOMS{}
	l, store := newTestLoop(t, weather, oms)

	require.NoError(t, l.runCycle(context.Background()))

	require.Len(t, oms.placements, 1)
	p := oms.placements[0]
	require.Equal(t, "KXHIGHNY-26FEB10-B72", p.sig.Ticker)
	require.Equal(t, 71, p.limitCents)
	require.Equal(t, 10, p.qty)

	statuses, err := store.HealthStatuses()
	require.NoError(t, err)
	var trader types.HealthStatus
	for _, h := range statuses {
		if h.Component == "trader" {
			trader = h
		}
	}
	require.Equal(t, types.HealthOK, trader.State)
	require.Contains(t, trader.Message, "orders=1")
}

func TestStaleWeatherRecordsSignalButBlocksOrders(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 2, 10, 16, 0, 0, 0, time.UTC)
	weather := &fakeWeather{now: now, stale: true}
	oms := &fakeOMS{}
	l, store := newTestLoop(t, weather, oms)

	require.NoError(t, l.runCycle(context.Background()))

	require.Empty(t, oms.placements, "stale weather must block the order path")

	events, err := store.RiskEventsSince(now.Add(-time.Minute))
	require.NoError(t, err)
	var staleEvents int
	for _, e := range events {
		if e.Type == types.RiskStaleWeather {
			staleEvents++
		}
	}
	require.Equal(t, 10, staleEvents, "one stale-weather event per city")
}

func TestDailyLossBreakerSkipsOrderPath(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 2, 10, 16, 0, 0, 0, time.UTC)
	weather := &fakeWeather{now: now}
	oms := &fakeOMS{}
	l, store := newTestLoop(t, weather, oms)

	// Realized loss beyond 5% of the 1000 bankroll trips the breaker.
	loss, _ := decimal.NewFromString("-60.00")
	_, err := store.SaveFill(types.Fill{
		ID: "f1", OrderRef: "r", Ticker: "KXHIGHNY-26FEB10-B72", CityCode: "NYC",
		Side: types.SideYes, FilledAt: now.Add(-2 * time.Hour), Quantity: 5,
		PriceCents: 60, RealizedPnL: loss, ExchangeTrade: "x1",
	})
	require.NoError(t, err)

	require.NoError(t, l.runCycle(context.Background()))

	require.Empty(t, oms.placements)

	events, err := store.RiskEventsSince(now.Add(-time.Minute))
	require.NoError(t, err)
	var tripped bool
	for _, e := range events {
		if e.Type == types.RiskDailyLossHit {
			tripped = true
		}
	}
	require.True(t, tripped, "expected a daily-loss risk event")
}

func TestPermanentRejectionFeedsBurstBreaker(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 2, 10, 16, 0, 0, 0, time.UTC)
	weather := &fakeWeather{now: now}
	oms := &fakeOMS{placeErr: types.Ef(types.KindPermanentAPI, "order rejected")}
	l, store := newTestLoop(t, weather, oms)

	// Each cycle records one rejection; the fifth trips the burst breaker
	// on the following cycle.
	for i := 0; i < 5; i++ {
		require.NoError(t, l.runCycle(context.Background()))
	}

	require.NoError(t, l.runCycle(context.Background()))
	events, err := store.RiskEventsSince(now.Add(-time.Minute))
	require.NoError(t, err)
	var burst bool
	for _, e := range events {
		if e.Type == types.RiskRejectBurst {
			burst = true
		}
	}
	require.True(t, burst, "expected a reject-burst risk event")
}
