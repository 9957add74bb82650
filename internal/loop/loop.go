// Package loop is the trading orchestrator. Each cycle it reconciles fills,
// checks the circuit breakers, fans city work out to a bounded worker pool,
// and funnels admitted signals through risk sizing into the OMS. Shared
// in-cycle exposure lives in an accumulator mutated under a mutex so sizing
// for one city observes every placement already admitted this cycle.
package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"kalshi-weather-trader/internal/cities"
	"kalshi-weather-trader/internal/config"
	"kalshi-weather-trader/internal/gates"
	"kalshi-weather-trader/internal/repo"
	"kalshi-weather-trader/internal/risk"
	"kalshi-weather-trader/internal/strategy"
	"kalshi-weather-trader/pkg/types"
)

// WeatherSource yields weather snapshots for cities.
type WeatherSource interface {
	Get(ctx context.Context, city types.CityConfig) (types.WeatherSnapshot, error)
	PrefetchAll(ctx context.Context)
}

// MarketSource yields tradable market snapshots.
type MarketSource interface {
	ListActive(ctx context.Context, city types.CityConfig, eventDate string) ([]types.MarketSnapshot, error)
}

// OrderManager is the OMS surface the loop drives.
type OrderManager interface {
	PlaceIntent(ctx context.Context, sig types.Signal, market types.MarketSnapshot, limitCents, qty int) (*types.Order, error)
	CancelDegraded(ctx context.Context, order *types.Order, market types.MarketSnapshot) error
	ReconcileFills(ctx context.Context) (int, error)
}

// cycleResult aggregates one cycle's counters for the summary log.
type cycleResult struct {
	mu              sync.Mutex
	marketsFetched  int
	signalsEmitted  int
	gatesPassed     int
	ordersSubmitted int
	citiesSkipped   int
	errors          int
}

// Loop runs trading cycles until cancelled.
type Loop struct {
	cfg     *config.Config
	store   *repo.Store
	weather WeatherSource
	markets MarketSource
	strat   strategy.Strategy
	riskEng *risk.Engine
	oms     OrderManager

	// lastQuotes caches the most recent YES/NO mid per ticker so the
	// daily-loss check can mark open positions without extra API calls.
	quotesMu   sync.RWMutex
	lastQuotes map[string]types.MarketSnapshot

	// accumulator holds positions admitted earlier in the current cycle.
	accMu       sync.Mutex
	accumulator []types.Position

	logger *slog.Logger
	now    func() time.Time
}

func New(cfg *config.Config, store *repo.Store, weather WeatherSource, markets MarketSource, strat strategy.Strategy, riskEng *risk.Engine, oms OrderManager, logger *slog.Logger) *Loop {
	return &Loop{
		cfg:        cfg,
		store:      store,
		weather:    weather,
		markets:    markets,
		strat:      strat,
		riskEng:    riskEng,
		oms:        oms,
		lastQuotes: make(map[string]types.MarketSnapshot),
		logger:     logger.With("component", "loop"),
		now:        time.Now,
	}
}

// Run executes cycles at the configured interval until ctx is cancelled.
// Auth and fatal-internal failures stop the loop and propagate; everything
// else degrades health, sleeps, and continues.
func (l *Loop) Run(ctx context.Context) error {
	l.weather.PrefetchAll(ctx)

	ticker := time.NewTicker(l.cfg.Loop.CycleInterval)
	defer ticker.Stop()

	for {
		cycleCtx, cancel := context.WithTimeout(ctx, l.cfg.Loop.CycleBudget)
		err := l.runCycle(cycleCtx)
		cancel()

		if err != nil {
			switch types.KindOf(err) {
			case types.KindAuth:
				l.setHealth("exchange_api", types.HealthDown, err.Error())
				l.setHealth("trader", types.HealthDown, "paused on auth failure")
				l.logger.Error("auth failure, pausing loop", "error", err)
				return err
			case types.KindFatalInternal:
				l.setHealth("trader", types.HealthDown, err.Error())
				l.logger.Error("fatal internal error", "error", err)
				return err
			default:
				l.setHealth("trader", types.HealthDegraded, err.Error())
				l.logger.Error("cycle failed", "error", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(l.cfg.Loop.ErrorSleep):
				}
				continue
			}
		}

		select {
		case <-ctx.Done():
			l.logger.Info("shutdown signal received")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Loop) runCycle(ctx context.Context) error {
	start := l.now()
	result := &cycleResult{}

	// 1. Fill reconciliation, always first.
	applied, err := l.oms.ReconcileFills(ctx)
	if err != nil {
		return fmt.Errorf("reconcile fills: %w", err)
	}
	if applied > 0 {
		l.logger.Info("fills reconciled", "applied", applied)
	}

	// 2. Circuit breakers. A trip skips the order path; snapshots and
	// signals are still captured for the audit trail.
	tradingEnabled, err := l.checkBreakers(ctx)
	if err != nil {
		return err
	}

	openPositions, err := l.store.OpenPositions()
	if err != nil {
		return types.E(types.KindFatalInternal, fmt.Errorf("load positions: %w", err))
	}

	active, err := l.store.ActiveOrders()
	if err != nil {
		return types.E(types.KindFatalInternal, fmt.Errorf("load active orders: %w", err))
	}
	activeByTicker := make(map[string][]types.Order, len(active))
	for _, o := range active {
		activeByTicker[o.Ticker] = append(activeByTicker[o.Ticker], o)
	}

	l.accMu.Lock()
	l.accumulator = l.accumulator[:0]
	l.accMu.Unlock()

	// 3. City fan-out.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Loop.CityConcurrency)
	for _, city := range cities.All() {
		city := city
		g.Go(func() error {
			return l.runCity(gctx, city, openPositions, activeByTicker, tradingEnabled, result)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	l.setHealth("trader", types.HealthOK, fmt.Sprintf(
		"markets=%d signals=%d gates_passed=%d orders=%d skipped=%d errors=%d",
		result.marketsFetched, result.signalsEmitted, result.gatesPassed,
		result.ordersSubmitted, result.citiesSkipped, result.errors))

	l.logger.Info("cycle complete",
		"duration", l.now().Sub(start).Round(time.Millisecond),
		"markets", result.marketsFetched,
		"signals", result.signalsEmitted,
		"gates_passed", result.gatesPassed,
		"orders", result.ordersSubmitted,
		"cities_skipped", result.citiesSkipped,
		"errors", result.errors,
		"trading_enabled", tradingEnabled,
	)
	return nil
}

// runCity executes the fixed per-city pipeline: fetch → evaluate → gate →
// risk → place. Transient per-city failures skip the city, never the cycle;
// auth failures propagate and stop everything.
func (l *Loop) runCity(ctx context.Context, city types.CityConfig, openPositions []types.Position, activeByTicker map[string][]types.Order, tradingEnabled bool, result *cycleResult) error {
	weather, err := l.weather.Get(ctx, city)
	if err != nil {
		if types.IsKind(err, types.KindAuth) {
			return err
		}
		l.setHealth("weather_api", types.HealthDegraded, err.Error())
		l.logger.Warn("weather unavailable, skipping city", "city", city.Code, "error", err)
		result.mu.Lock()
		result.citiesSkipped++
		result.errors++
		result.mu.Unlock()
		return nil
	}
	if err := l.store.SaveWeatherSnapshot(weather); err != nil {
		return types.E(types.KindFatalInternal, err)
	}

	cityTrading := tradingEnabled
	if weather.Stale {
		l.saveRiskEvent(types.RiskStaleWeather, "warning", city.Code, map[string]any{
			"source_updated_at": weather.SourceUpdatedAt.UTC().Format(time.RFC3339),
		})
		cityTrading = false
	}

	eventDate, err := localEventDate(city, l.now())
	if err != nil {
		l.logger.Warn("timezone lookup failed, skipping city", "city", city.Code, "error", err)
		result.mu.Lock()
		result.citiesSkipped++
		result.errors++
		result.mu.Unlock()
		return nil
	}

	markets, err := l.markets.ListActive(ctx, city, eventDate)
	if err != nil {
		if types.IsKind(err, types.KindAuth) {
			return err
		}
		l.setHealth("exchange_api", types.HealthDegraded, err.Error())
		l.logger.Warn("market fetch failed, skipping city", "city", city.Code, "error", err)
		result.mu.Lock()
		result.citiesSkipped++
		result.errors++
		result.mu.Unlock()
		return nil
	}

	for _, m := range markets {
		if err := l.store.SaveMarketSnapshot(m); err != nil {
			return types.E(types.KindFatalInternal, err)
		}
		l.cacheQuote(m)

		// Resting orders on a market that no longer clears the execution
		// gates get pulled before any new placement is considered.
		for i := range activeByTicker[m.Ticker] {
			order := activeByTicker[m.Ticker][i]
			if err := l.oms.CancelDegraded(ctx, &order, m); err != nil {
				if types.IsKind(err, types.KindAuth) {
					return err
				}
				l.logger.Warn("degraded-market cancel failed",
					"client_order_id", order.ClientOrderID, "error", err)
				result.mu.Lock()
				result.errors++
				result.mu.Unlock()
			}
		}

		sig := l.strat.Evaluate(weather, m, l.now())
		if err := l.store.SaveSignal(sig); err != nil {
			return types.E(types.KindFatalInternal, err)
		}

		result.mu.Lock()
		result.marketsFetched++
		result.signalsEmitted++
		result.mu.Unlock()

		if !cityTrading || sig.Action != types.ActionBuy {
			continue
		}

		gateRes := gates.Check(sig, m, gates.Params{
			SpreadMaxCents:       l.cfg.Gates.SpreadMaxCents,
			LiquidityMin:         l.cfg.Gates.LiquidityMin,
			MinLiquidityMultiple: l.cfg.Gates.MinLiquidityMultiple,
			MinEdgeAfterCosts:    l.cfg.Gates.MinEdgeAfterCosts,
		})
		if !gateRes.Admitted {
			l.logger.Debug("gate refused",
				"ticker", m.Ticker, "reason", string(gateRes.Reason))
			continue
		}
		result.mu.Lock()
		result.gatesPassed++
		result.mu.Unlock()

		if err := l.sizeAndPlace(ctx, sig, m, gateRes, openPositions, result); err != nil {
			return err
		}
	}
	return nil
}

// sizeAndPlace applies risk sizing against persisted positions plus the
// in-cycle accumulator, then hands the order to the OMS and appends the
// placement to the accumulator for subsequent candidates.
func (l *Loop) sizeAndPlace(ctx context.Context, sig types.Signal, m types.MarketSnapshot, gateRes gates.Result, openPositions []types.Position, result *cycleResult) error {
	l.accMu.Lock()
	combined := make([]types.Position, 0, len(openPositions)+len(l.accumulator))
	combined = append(combined, openPositions...)
	combined = append(combined, l.accumulator...)
	l.accMu.Unlock()

	qty, refusal := l.riskEng.Size(sig, gateRes.LimitPriceCents, gateRes.Quantity, combined)
	if refusal != nil {
		l.saveRiskEvent(refusal.Event, "warning", sig.CityCode, map[string]any{
			"ticker":   sig.Ticker,
			"cap":      refusal.CapDollars.StringFixed(2),
			"exposure": refusal.ExposureDollars.StringFixed(2),
			"detail":   refusal.Detail,
		})
		return nil
	}

	order, err := l.oms.PlaceIntent(ctx, sig, m, gateRes.LimitPriceCents, qty)
	if err != nil {
		switch types.KindOf(err) {
		case types.KindAuth, types.KindFatalInternal:
			return err
		case types.KindPermanentAPI:
			l.riskEng.RecordRejection()
			l.logger.Warn("order rejected by exchange", "ticker", sig.Ticker, "error", err)
		case types.KindInvalidTransition:
			l.logger.Error("invalid order transition", "ticker", sig.Ticker, "error", err)
		default:
			l.logger.Warn("placement failed", "ticker", sig.Ticker, "error", err)
		}
		result.mu.Lock()
		result.errors++
		result.mu.Unlock()
		return nil
	}
	if order == nil {
		return nil
	}

	l.accMu.Lock()
	l.accumulator = append(l.accumulator, types.Position{
		Ticker:        order.Ticker,
		CityCode:      order.CityCode,
		Cluster:       cities.ClusterOf(order.CityCode),
		Side:          order.Side,
		QuantityOpen:  order.Quantity,
		AvgEntryCents: float64(order.LimitPriceCents),
		Status:        "OPEN",
		OpenedAt:      l.now(),
	})
	l.accMu.Unlock()

	result.mu.Lock()
	result.ordersSubmitted++
	result.mu.Unlock()
	return nil
}

// checkBreakers evaluates the daily-loss and rejection-burst breakers.
// Returns false when the order path must be skipped this cycle.
func (l *Loop) checkBreakers(ctx context.Context) (bool, error) {
	dayStart := l.now().UTC().Truncate(24 * time.Hour)
	realized, err := l.store.RealizedPnLBetween(dayStart, l.now())
	if err != nil {
		return false, types.E(types.KindFatalInternal, err)
	}

	positions, err := l.store.OpenPositions()
	if err != nil {
		return false, types.E(types.KindFatalInternal, err)
	}
	unrealized := repo.UnrealizedPnL(positions, l.midCentsFor)

	if l.riskEng.CheckDailyLoss(realized, unrealized) {
		l.saveRiskEvent(types.RiskDailyLossHit, "critical", "", map[string]any{
			"realized":   realized.StringFixed(2),
			"unrealized": unrealized.StringFixed(2),
			"cap":        l.riskEng.DailyLossCap().StringFixed(2),
		})
		return false, nil
	}
	if l.riskEng.RejectionBurst() {
		l.saveRiskEvent(types.RiskRejectBurst, "critical", "", nil)
		return false, nil
	}
	return true, nil
}

func (l *Loop) cacheQuote(m types.MarketSnapshot) {
	if !m.HasQuotes {
		return
	}
	l.quotesMu.Lock()
	l.lastQuotes[m.Ticker] = m
	l.quotesMu.Unlock()
}

// midCentsFor marks positions to the most recent cached quote.
func (l *Loop) midCentsFor(ticker string, side types.Side) (float64, bool) {
	l.quotesMu.RLock()
	m, ok := l.lastQuotes[ticker]
	l.quotesMu.RUnlock()
	if !ok {
		return 0, false
	}
	if side == types.SideYes {
		return m.MidYes(), true
	}
	return m.MidNo(), true
}

func (l *Loop) saveRiskEvent(eventType types.RiskEventType, severity, cityCode string, detail map[string]any) {
	payload := "{}"
	if detail != nil {
		if b, err := json.Marshal(detail); err == nil {
			payload = string(b)
		}
	}
	event := types.RiskEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Severity:  severity,
		CityCode:  cityCode,
		Payload:   payload,
		CreatedAt: l.now(),
	}
	if err := l.store.SaveRiskEvent(event); err != nil {
		l.logger.Error("risk event persist failed", "type", string(eventType), "error", err)
	}
	l.logger.Warn("risk event", "type", string(eventType), "city", cityCode, "payload", payload)
}

func (l *Loop) setHealth(component string, state types.HealthState, message string) {
	now := l.now()
	h := types.HealthStatus{
		Component: component,
		State:     state,
		Message:   message,
		UpdatedAt: now,
	}
	if state == types.HealthOK {
		h.LastOK = now
	}
	if err := l.store.SaveHealth(h); err != nil {
		l.logger.Error("health persist failed", "component", component, "error", err)
	}
}

// localEventDate is today's date in the city's timezone, the settlement date
// of the daily-high event being traded.
func localEventDate(city types.CityConfig, now time.Time) (string, error) {
	loc, err := time.LoadLocation(city.Timezone)
	if err != nil {
		return "", err
	}
	return now.In(loc).Format("2006-01-02"), nil
}
