package oms

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"kalshi-weather-trader/internal/cities"
	"kalshi-weather-trader/internal/exchange"
	"kalshi-weather-trader/internal/gates"
	"kalshi-weather-trader/internal/repo"
	"kalshi-weather-trader/pkg/types"
)

// Policy bounds the cancel/replace behavior, injected from configuration.
type Policy struct {
	RepriceInterval time.Duration
	MaxChaseCents   int
}

// Manager is the single writer for order state. Every transition funnels
// through its mutex; readers work from repository snapshots.
type Manager struct {
	client *exchange.Client
	store  *repo.Store
	gate   gates.Params
	policy Policy

	// simulateFills makes every accepted order fill immediately at the
	// side's ask, for shadow operation without an order path.
	simulateFills bool

	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time
}

func NewManager(client *exchange.Client, store *repo.Store, gate gates.Params, policy Policy, simulateFills bool, logger *slog.Logger) *Manager {
	return &Manager{
		client:        client,
		store:         store,
		gate:          gate,
		policy:        policy,
		simulateFills: simulateFills,
		logger:        logger.With("component", "oms"),
		now:           time.Now,
	}
}

// PlaceIntent realizes one admitted signal as at most one order. If the
// intent already has an active order, no new order is placed; the existing
// one may only be repriced under the replacement policy. Returns the order
// now standing for the intent, or nil when nothing was (or remained) placed.
func (m *Manager) PlaceIntent(ctx context.Context, sig types.Signal, market types.MarketSnapshot, limitCents, qty int) (*types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	intentKey := IntentKey(sig.CityCode, sig.Ticker, sig.Side, sig.StrategyName, market.EventDate)

	existing, err := m.store.LatestOrderForIntent(intentKey)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status == types.OrderFilled {
		// Intent already realized; FILLED only moves on at settlement.
		return existing, nil
	}
	if existing != nil && !existing.Status.Terminal() {
		return m.maybeReplace(ctx, existing, market, limitCents)
	}

	version := 1
	if existing != nil {
		version = existing.IntentVersion + 1
	}

	order := types.Order{
		IntentKey:       intentKey,
		IntentVersion:   version,
		ClientOrderID:   ClientOrderID(intentKey, version),
		Ticker:          sig.Ticker,
		CityCode:        sig.CityCode,
		Side:            sig.Side,
		Quantity:        qty,
		LimitPriceCents: limitCents,
		Status:          types.OrderNew,
		CreatedAt:       m.now(),
		UpdatedAt:       m.now(),
	}
	if err := m.store.SaveOrder(order); err != nil {
		return nil, err
	}

	return m.submit(ctx, &order, market.AskFor(sig.Side))
}

// submit sends the order and applies the acknowledged state. simPriceCents
// is the price simulated fills execute at (the side's current ask).
func (m *Manager) submit(ctx context.Context, order *types.Order, simPriceCents int) (*types.Order, error) {
	req := exchange.OrderRequest{
		Ticker:        order.Ticker,
		ClientOrderID: order.ClientOrderID,
		Action:        "buy",
		Count:         order.Quantity,
		Type:          "limit",
	}
	if order.Side == types.SideYes {
		req.Side = "yes"
		req.YesPrice = order.LimitPriceCents
	} else {
		req.Side = "no"
		req.NoPrice = order.LimitPriceCents
	}

	if err := Transition(order, types.OrderSubmitted); err != nil {
		return nil, err
	}
	order.UpdatedAt = m.now()
	if err := m.store.SaveOrder(*order); err != nil {
		return nil, err
	}

	ack, err := m.client.PlaceOrder(ctx, req)
	if err != nil {
		if types.IsKind(err, types.KindPermanentAPI) {
			if terr := Transition(order, types.OrderRejected); terr == nil {
				order.UpdatedAt = m.now()
				m.store.SaveOrder(*order)
			}
			m.logger.Warn("order rejected", "client_order_id", order.ClientOrderID, "error", err)
		}
		return nil, err
	}

	order.ExchangeOrderID = ack.OrderID
	next := statusFromWire(ack.Status, ack.Count, ack.RemainingCount)
	if next != order.Status {
		if err := Transition(order, next); err != nil {
			return nil, err
		}
	}
	order.UpdatedAt = m.now()
	if err := m.store.SaveOrder(*order); err != nil {
		return nil, err
	}

	if m.simulateFills {
		if err := m.simulateFill(order, simPriceCents); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// maybeReplace cancels and resubmits an active order when the reprice
// interval has elapsed, the new price differs, and the cumulative move from
// the version-1 price stays within the chase bound.
func (m *Manager) maybeReplace(ctx context.Context, order *types.Order, market types.MarketSnapshot, newLimitCents int) (*types.Order, error) {
	if newLimitCents == order.LimitPriceCents {
		return order, nil
	}
	if m.now().Sub(order.UpdatedAt) < m.policy.RepriceInterval {
		return order, nil
	}

	first, err := m.store.OrderByClientID(ClientOrderID(order.IntentKey, 1))
	if err != nil {
		return nil, err
	}
	originalPrice := order.LimitPriceCents
	if first != nil {
		originalPrice = first.LimitPriceCents
	}
	if abs(newLimitCents-originalPrice) > m.policy.MaxChaseCents {
		m.logger.Info("reprice skipped, chase bound reached",
			"client_order_id", order.ClientOrderID,
			"original_cents", originalPrice,
			"proposed_cents", newLimitCents,
		)
		return order, nil
	}

	if err := m.cancel(ctx, order); err != nil {
		return nil, err
	}

	replacement := types.Order{
		IntentKey:       order.IntentKey,
		IntentVersion:   order.IntentVersion + 1,
		ClientOrderID:   ClientOrderID(order.IntentKey, order.IntentVersion+1),
		Ticker:          order.Ticker,
		CityCode:        order.CityCode,
		Side:            order.Side,
		Quantity:        order.Quantity - order.FilledQuantity,
		LimitPriceCents: newLimitCents,
		Status:          types.OrderNew,
		CreatedAt:       m.now(),
		UpdatedAt:       m.now(),
	}
	if replacement.Quantity <= 0 {
		return order, nil
	}
	if err := m.store.SaveOrder(replacement); err != nil {
		return nil, err
	}
	return m.submit(ctx, &replacement, market.AskFor(order.Side))
}

// CancelDegraded cancels the order when its market no longer clears the
// spread or liquidity gates.
func (m *Manager) CancelDegraded(ctx context.Context, order *types.Order, market types.MarketSnapshot) error {
	if order.Status.Terminal() || order.Status == types.OrderFilled {
		return nil
	}
	spreadOK := market.HasQuotes && market.SpreadCents() <= m.gate.SpreadMaxCents
	liquidityOK := min64(market.Volume, market.OpenInterest) >= m.gate.LiquidityMin
	if spreadOK && liquidityOK {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger.Info("canceling order on degraded market",
		"client_order_id", order.ClientOrderID,
		"spread_ok", spreadOK,
		"liquidity_ok", liquidityOK,
	)
	return m.cancel(ctx, order)
}

// cancel issues the exchange cancel and applies the transition. Callers hold
// the mutex.
func (m *Manager) cancel(ctx context.Context, order *types.Order) error {
	if order.ExchangeOrderID != "" {
		if err := m.client.CancelOrder(ctx, order.ExchangeOrderID); err != nil {
			return err
		}
	}
	if err := Transition(order, types.OrderCanceled); err != nil {
		return err
	}
	order.UpdatedAt = m.now()
	return m.store.SaveOrder(*order)
}

// simulateFill books an immediate full fill at the given ask price. Callers
// hold the mutex.
func (m *Manager) simulateFill(order *types.Order, priceCents int) error {
	if priceCents <= 0 || priceCents > order.LimitPriceCents {
		priceCents = order.LimitPriceCents
	}
	fill := types.Fill{
		ID:            uuid.NewString(),
		OrderRef:      order.ClientOrderID,
		Ticker:        order.Ticker,
		CityCode:      order.CityCode,
		Side:          order.Side,
		FilledAt:      m.now(),
		Quantity:      order.Quantity,
		PriceCents:    priceCents,
		ExchangeTrade: "sim-" + uuid.NewString(),
	}
	if _, err := m.store.SaveFill(fill); err != nil {
		return err
	}
	order.FilledQuantity = order.Quantity
	if err := Transition(order, types.OrderFilled); err != nil {
		return err
	}
	order.UpdatedAt = m.now()
	if err := m.store.SaveOrder(*order); err != nil {
		return err
	}
	return m.applyFillToPosition(fill)
}

// applyFillToPosition folds one buy fill into the (ticker, side) position.
func (m *Manager) applyFillToPosition(fill types.Fill) error {
	pos, err := m.store.Position(fill.Ticker, fill.Side)
	if err != nil {
		return err
	}
	if pos == nil {
		pos = &types.Position{
			Ticker:   fill.Ticker,
			CityCode: fill.CityCode,
			Cluster:  cities.ClusterOf(fill.CityCode),
			Side:     fill.Side,
			Status:   "OPEN",
			OpenedAt: fill.FilledAt,
		}
	}

	totalQty := pos.QuantityOpen + fill.Quantity
	if totalQty > 0 {
		pos.AvgEntryCents = (pos.AvgEntryCents*float64(pos.QuantityOpen) +
			float64(fill.PriceCents)*float64(fill.Quantity)) / float64(totalQty)
	}
	pos.QuantityOpen = totalQty
	return m.store.SavePosition(*pos)
}

// statusFromWire maps the exchange's order status vocabulary onto ours.
func statusFromWire(wireStatus string, count, remaining int) types.OrderStatus {
	switch wireStatus {
	case "resting", "pending":
		if remaining < count && remaining > 0 {
			return types.OrderPartial
		}
		return types.OrderResting
	case "executed":
		return types.OrderFilled
	case "canceled":
		return types.OrderCanceled
	default:
		return types.OrderResting
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
