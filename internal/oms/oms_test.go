package oms

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kalshi-weather-trader/internal/exchange"
	"kalshi-weather-trader/internal/gates"
	"kalshi-weather-trader/internal/repo"
	"kalshi-weather-trader/pkg/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testGateParams() gates.Params {
	return gates.Params{
		SpreadMaxCents:       4,
		LiquidityMin:         500,
		MinLiquidityMultiple: 5.0,
		MinEdgeAfterCosts:    0.03,
	}
}

// shadowManager wires a manager against an in-memory store and a read-only
// exchange client, so placement never leaves the process and every order
// fills immediately.
func shadowManager(t *testing.T) (*Manager, *repo.Store) {
	t.Helper()
	store, err := repo.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	client := exchange.NewClient("http://127.0.0.1:1", nil, 100, time.Second, true, quietLogger())
	m := NewManager(client, store, testGateParams(), Policy{
		RepriceInterval: 120 * time.Second,
		MaxChaseCents:   5,
	}, true, quietLogger())
	return m, store
}

func testSignalAndMarket() (types.Signal, types.MarketSnapshot) {
	sig := types.Signal{
		CityCode:     "NYC",
		Ticker:       "KXHIGHNY-26FEB10-B70",
		StrategyName: "daily_high_temp",
		Action:       types.ActionBuy,
		Side:         types.SideYes,
	}
	m := types.MarketSnapshot{
		Ticker:       "KXHIGHNY-26FEB10-B70",
		CityCode:     "NYC",
		EventDate:    "2026-02-10",
		YesBid:       45,
		YesAsk:       48,
		NoBid:        52,
		NoAsk:        55,
		HasQuotes:    true,
		Volume:       1200,
		OpenInterest: 3000,
	}
	return sig, m
}

func TestPlaceIntentShadowFillsAndBooksPosition(t *testing.T) {
	t.Parallel()
	m, store := shadowManager(t)
	sig, market := testSignalAndMarket()

	order, err := m.PlaceIntent(context.Background(), sig, market, 71, 10)
	require.NoError(t, err)
	require.NotNil(t, order)
	require.Equal(t, types.OrderFilled, order.Status)
	require.Equal(t, 10, order.FilledQuantity)

	pos, err := store.Position(market.Ticker, types.SideYes)
	require.NoError(t, err)
	require.NotNil(t, pos)
	require.Equal(t, 10, pos.QuantityOpen)
	// Simulated fills execute at the ask, not the limit.
	require.Equal(t, 48.0, pos.AvgEntryCents)
}

func TestPlaceIntentIdempotent(t *testing.T) {
	t.Parallel()
	m, store := shadowManager(t)
	sig, market := testSignalAndMarket()

	first, err := m.PlaceIntent(context.Background(), sig, market, 71, 10)
	require.NoError(t, err)

	// Shadow orders fill terminally, so force an active state to model a
	// resting order between cycles.
	first.Status = types.OrderResting
	require.NoError(t, store.SaveOrder(*first))

	second, err := m.PlaceIntent(context.Background(), sig, market, 71, 10)
	require.NoError(t, err)
	require.Equal(t, first.ClientOrderID, second.ClientOrderID,
		"same intent in one cycle must not produce a second order")

	latest, err := store.LatestOrderForIntent(first.IntentKey)
	require.NoError(t, err)
	require.Equal(t, 1, latest.IntentVersion)
}

func TestPlaceIntentFilledOrderStands(t *testing.T) {
	t.Parallel()
	m, _ := shadowManager(t)
	sig, market := testSignalAndMarket()

	first, err := m.PlaceIntent(context.Background(), sig, market, 71, 10)
	require.NoError(t, err)
	require.Equal(t, types.OrderFilled, first.Status)

	// A filled intent is done; re-placing must neither reprice nor cancel.
	m.now = func() time.Time { return time.Now().Add(5 * time.Minute) }
	again, err := m.PlaceIntent(context.Background(), sig, market, 73, 10)
	require.NoError(t, err)
	require.Equal(t, first.ClientOrderID, again.ClientOrderID)
	require.Equal(t, types.OrderFilled, again.Status)
}

func TestMaybeReplaceRespectsRepriceInterval(t *testing.T) {
	t.Parallel()
	m, store := shadowManager(t)
	sig, market := testSignalAndMarket()

	order, err := m.PlaceIntent(context.Background(), sig, market, 71, 10)
	require.NoError(t, err)
	order.Status = types.OrderResting
	require.NoError(t, store.SaveOrder(*order))

	// New price before the interval elapses: no replacement.
	got, err := m.PlaceIntent(context.Background(), sig, market, 73, 10)
	require.NoError(t, err)
	require.Equal(t, 71, got.LimitPriceCents)
	require.Equal(t, 1, got.IntentVersion)
}

func TestMaybeReplaceAfterIntervalWithinChase(t *testing.T) {
	t.Parallel()
	m, store := shadowManager(t)
	sig, market := testSignalAndMarket()

	order, err := m.PlaceIntent(context.Background(), sig, market, 71, 10)
	require.NoError(t, err)
	order.Status = types.OrderResting
	require.NoError(t, store.SaveOrder(*order))

	m.now = func() time.Time { return time.Now().Add(3 * time.Minute) }

	got, err := m.PlaceIntent(context.Background(), sig, market, 73, 10)
	require.NoError(t, err)
	require.Equal(t, 73, got.LimitPriceCents)
	require.Equal(t, 2, got.IntentVersion)

	prev, err := store.OrderByClientID(order.ClientOrderID)
	require.NoError(t, err)
	require.Equal(t, types.OrderCanceled, prev.Status)
}

func TestMaybeReplaceChaseBound(t *testing.T) {
	t.Parallel()
	m, store := shadowManager(t)
	sig, market := testSignalAndMarket()

	order, err := m.PlaceIntent(context.Background(), sig, market, 71, 10)
	require.NoError(t, err)
	order.Status = types.OrderResting
	require.NoError(t, store.SaveOrder(*order))

	m.now = func() time.Time { return time.Now().Add(3 * time.Minute) }

	// 71 → 78 is 7 cents of chase against a 5-cent bound.
	got, err := m.PlaceIntent(context.Background(), sig, market, 78, 10)
	require.NoError(t, err)
	require.Equal(t, 71, got.LimitPriceCents)
	require.Equal(t, 1, got.IntentVersion)
}

func TestReconcileStartupImportsOrphan(t *testing.T) {
	t.Parallel()
	store, err := repo.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/trade-api/v2/portfolio/orders":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"orders": [{
				"order_id": "ex-123",
				"client_order_id": "unknown-client-id",
				"ticker": "KXHIGHNY-26FEB10-B70",
				"side": "yes",
				"action": "buy",
				"status": "resting",
				"yes_price": 60,
				"count": 5,
				"remaining_count": 5
			}]}`))
		case "/trade-api/v2/portfolio/positions":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"market_positions": []}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	client := exchange.NewClient(srv.URL, nil, 100, time.Second, false, quietLogger())
	m := NewManager(client, store, testGateParams(), Policy{
		RepriceInterval: 120 * time.Second,
		MaxChaseCents:   5,
	}, false, quietLogger())

	require.NoError(t, m.ReconcileStartup(context.Background()))

	orders, err := store.ActiveOrders()
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, types.OrderResting, orders[0].Status)
	require.Equal(t, "ex-123", orders[0].ExchangeOrderID)
	require.Equal(t, "NYC", orders[0].CityCode)
	require.Contains(t, orders[0].ClientOrderID, "#1")
}

// fillsManager wires a manager against a server replaying one fill for
// exchange order ex-9 and seeds the local order that fill belongs to.
func fillsManager(t *testing.T, localStatus types.OrderStatus) (*Manager, *repo.Store, time.Time) {
	t.Helper()
	store, err := repo.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fillTime := time.Date(2026, 2, 10, 15, 4, 5, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/trade-api/v2/portfolio/fills":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"fills": [{
				"trade_id": "t-1",
				"order_id": "ex-9",
				"ticker": "KXHIGHNY-26FEB10-B70",
				"side": "yes",
				"count": 4,
				"yes_price": 70,
				"created_time": "` + fillTime.Format(time.RFC3339) + `"
			}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	client := exchange.NewClient(srv.URL, nil, 100, time.Second, false, quietLogger())
	m := NewManager(client, store, testGateParams(), Policy{}, false, quietLogger())

	order := types.Order{
		IntentKey:       "k1",
		IntentVersion:   1,
		ClientOrderID:   "k1#1",
		ExchangeOrderID: "ex-9",
		Ticker:          "KXHIGHNY-26FEB10-B70",
		CityCode:        "NYC",
		Side:            types.SideYes,
		Quantity:        4,
		LimitPriceCents: 71,
		Status:          localStatus,
		CreatedAt:       fillTime.Add(-time.Minute),
		UpdatedAt:       fillTime.Add(-time.Minute),
	}
	require.NoError(t, store.SaveOrder(order))
	return m, store, fillTime
}

func TestReconcileFillsAdvancesCursorAndDedupes(t *testing.T) {
	t.Parallel()
	m, store, fillTime := fillsManager(t, types.OrderResting)

	applied, err := m.ReconcileFills(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, applied)

	got, err := store.OrderByClientID("k1#1")
	require.NoError(t, err)
	require.Equal(t, types.OrderFilled, got.Status)
	require.Equal(t, 4, got.FilledQuantity)

	cursor, err := store.Cursor("fills")
	require.NoError(t, err)
	require.Equal(t, fillTime.Unix(), cursor.Unix())

	// Replaying the same fill is a no-op.
	applied, err = m.ReconcileFills(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, applied)

	pos, err := store.Position("KXHIGHNY-26FEB10-B70", types.SideYes)
	require.NoError(t, err)
	require.Equal(t, 4, pos.QuantityOpen)
}

// A fill can land after our cancel did (the exchange matched first). The
// fill and position must still be booked; the order keeps its terminal
// state.
func TestReconcileFillsBooksFillForCanceledOrder(t *testing.T) {
	t.Parallel()
	m, store, _ := fillsManager(t, types.OrderCanceled)

	applied, err := m.ReconcileFills(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, applied)

	got, err := store.OrderByClientID("k1#1")
	require.NoError(t, err)
	require.Equal(t, types.OrderCanceled, got.Status)
	require.Equal(t, 4, got.FilledQuantity)

	pos, err := store.Position("KXHIGHNY-26FEB10-B70", types.SideYes)
	require.NoError(t, err)
	require.NotNil(t, pos)
	require.Equal(t, 4, pos.QuantityOpen)

	// The replay is idempotent even across the terminal-order path.
	applied, err = m.ReconcileFills(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, applied)

	pos, err = store.Position("KXHIGHNY-26FEB10-B70", types.SideYes)
	require.NoError(t, err)
	require.Equal(t, 4, pos.QuantityOpen)
}

func TestPumpFillsTriggersEarlyReplay(t *testing.T) {
	t.Parallel()
	m, store, _ := fillsManager(t, types.OrderResting)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	events := make(chan exchange.FillEvent, 1)
	go m.PumpFills(ctx, events)

	events <- exchange.FillEvent{TradeID: "t-1", Ticker: "KXHIGHNY-26FEB10-B70", Count: 4}

	require.Eventually(t, func() bool {
		got, err := store.OrderByClientID("k1#1")
		return err == nil && got != nil && got.Status == types.OrderFilled
	}, 2*time.Second, 20*time.Millisecond,
		"push notification should replay fills before the next cycle")
}
