package oms

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"kalshi-weather-trader/internal/cities"
	"kalshi-weather-trader/internal/exchange"
	"kalshi-weather-trader/pkg/types"
)

const fillsCursorName = "fills"

// importedStrategy marks orders adopted from the exchange at startup; their
// intent keys are synthetic but deterministic for the adopted order.
const importedStrategy = "RECONCILE_IMPORT"

// ReconcileStartup aligns local order state with the exchange before the
// first cycle. Exchange orders we have no record of are imported as flagged
// orphans; local active orders the exchange no longer knows are canceled
// with reason RECONCILE_STALE. Quantity disagreements on known orders are
// irreconcilable and abort startup.
func (m *Manager) ReconcileStartup(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	remote, err := m.client.ListOpenOrders(ctx)
	if err != nil {
		return err
	}

	remoteByClientID := make(map[string]exchange.WireOrder, len(remote))
	for _, w := range remote {
		remoteByClientID[w.ClientOrderID] = w
	}

	local, err := m.store.ActiveOrders()
	if err != nil {
		return err
	}
	localByClientID := make(map[string]struct{}, len(local))

	for i := range local {
		order := &local[i]
		localByClientID[order.ClientOrderID] = struct{}{}

		w, ok := remoteByClientID[order.ClientOrderID]
		if !ok {
			// SUBMITTED orders may legitimately have filled or been
			// canceled while we were down; the fill replay settles those.
			// Anything still resting locally with no exchange counterpart
			// is stale.
			if order.Status == types.OrderResting || order.Status == types.OrderPartial {
				m.logger.Warn("local order unknown to exchange, closing",
					"client_order_id", order.ClientOrderID,
					"reason", "RECONCILE_STALE",
				)
				if err := Transition(order, types.OrderCanceled); err != nil {
					return err
				}
				order.UpdatedAt = m.now()
				if err := m.store.SaveOrder(*order); err != nil {
					return err
				}
			}
			continue
		}

		if w.Count != order.Quantity {
			return types.Ef(types.KindReconcileMismatch,
				"order %s: local quantity %d, exchange %d",
				order.ClientOrderID, order.Quantity, w.Count)
		}
		if order.ExchangeOrderID == "" {
			order.ExchangeOrderID = w.OrderID
			order.UpdatedAt = m.now()
			if err := m.store.SaveOrder(*order); err != nil {
				return err
			}
		}
	}

	for _, w := range remote {
		if _, known := localByClientID[w.ClientOrderID]; known {
			continue
		}
		if err := m.importOrphan(w); err != nil {
			return err
		}
	}

	return m.crossCheckPositions(ctx)
}

// crossCheckPositions compares net exchange positions against local open
// positions per ticker. Disagreements are logged, not fatal: the fill replay
// that follows normally closes the gap, and positions never gate startup the
// way order quantities do.
func (m *Manager) crossCheckPositions(ctx context.Context) error {
	remote, err := m.client.ListPositions(ctx)
	if err != nil {
		return err
	}

	local, err := m.store.OpenPositions()
	if err != nil {
		return err
	}
	netLocal := make(map[string]int, len(local))
	for _, p := range local {
		if p.Side == types.SideYes {
			netLocal[p.Ticker] += p.QuantityOpen
		} else {
			netLocal[p.Ticker] -= p.QuantityOpen
		}
	}

	for _, w := range remote {
		if w.Position == netLocal[w.Ticker] {
			continue
		}
		m.logger.Warn("position mismatch against exchange",
			"ticker", w.Ticker,
			"local_net", netLocal[w.Ticker],
			"exchange_net", w.Position,
		)
	}
	return nil
}

// importOrphan adopts an exchange order we never recorded, flagged by its
// synthetic strategy name so it is visible in the audit trail.
func (m *Manager) importOrphan(w exchange.WireOrder) error {
	city := cityFromTicker(w.Ticker)
	side := types.SideYes
	if w.Side == "no" {
		side = types.SideNo
	}

	intentKey := IntentKey(city, w.Ticker, side, importedStrategy, eventDateFromTicker(w.Ticker))
	price := w.YesPrice
	if side == types.SideNo {
		price = w.NoPrice
	}

	order := types.Order{
		IntentKey:       intentKey,
		IntentVersion:   1,
		ClientOrderID:   ClientOrderID(intentKey, 1),
		ExchangeOrderID: w.OrderID,
		Ticker:          w.Ticker,
		CityCode:        city,
		Side:            side,
		Quantity:        w.Count,
		FilledQuantity:  w.Count - w.RemainingCount,
		LimitPriceCents: price,
		Status:          types.OrderResting,
		CreatedAt:       m.now(),
		UpdatedAt:       m.now(),
	}
	m.logger.Warn("importing orphan exchange order",
		"exchange_order_id", w.OrderID,
		"ticker", w.Ticker,
		"count", w.Count,
	)
	return m.store.SaveOrder(order)
}

// ReconcileFills replays exchange fills since the stored cursor through the
// state machine, books Fill rows (deduplicated by exchange trade id), folds
// them into positions, and advances the cursor. Runs at the start of every
// cycle; skipping it would let sizing run against stale positions.
func (m *Manager) ReconcileFills(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cursor, err := m.store.Cursor(fillsCursorName)
	if err != nil {
		return 0, err
	}

	fills, err := m.client.ListFills(ctx, cursor)
	if err != nil {
		return 0, err
	}

	applied := 0
	maxTS := cursor
	for _, w := range fills {
		ts, err := time.Parse(time.RFC3339, w.CreatedTime)
		if err != nil {
			m.logger.Warn("fill with unparseable timestamp", "trade_id", w.TradeID)
			continue
		}
		if ts.After(maxTS) {
			maxTS = ts
		}

		ok, err := m.applyWireFill(w, ts)
		if err != nil {
			return applied, err
		}
		if ok {
			applied++
		}
	}

	if maxTS.After(cursor) {
		if err := m.store.SetCursor(fillsCursorName, maxTS); err != nil {
			return applied, err
		}
	}
	return applied, nil
}

// applyWireFill books a single fill. Returns false when the fill was already
// known or belongs to no local order.
func (m *Manager) applyWireFill(w exchange.WireFill, ts time.Time) (bool, error) {
	order, err := m.store.OrderByExchangeID(w.OrderID)
	if err != nil {
		return false, err
	}
	if order == nil {
		m.logger.Warn("fill for unknown order", "trade_id", w.TradeID, "order_id", w.OrderID)
		return false, nil
	}

	side := types.SideYes
	price := w.YesPrice
	if w.Side == "no" {
		side = types.SideNo
		price = w.NoPrice
	}

	fill := types.Fill{
		ID:            uuid.NewString(),
		OrderRef:      order.ClientOrderID,
		Ticker:        w.Ticker,
		CityCode:      order.CityCode,
		Side:          side,
		FilledAt:      ts,
		Quantity:      w.Count,
		PriceCents:    price,
		ExchangeTrade: w.TradeID,
	}
	inserted, err := m.store.SaveFill(fill)
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}

	order.FilledQuantity += w.Count
	if order.Status.Terminal() {
		// Cancel/fill race: the exchange filled before our cancel landed.
		// The fill and position must still be booked; the order keeps its
		// terminal state.
		m.logger.Warn("fill for terminal order, booking without transition",
			"client_order_id", order.ClientOrderID,
			"status", string(order.Status),
			"trade_id", w.TradeID,
		)
	} else {
		next := types.OrderPartial
		if order.FilledQuantity >= order.Quantity {
			next = types.OrderFilled
		}
		if order.Status != next {
			if err := Transition(order, next); err != nil {
				return false, err
			}
		}
	}
	order.UpdatedAt = m.now()
	if err := m.store.SaveOrder(*order); err != nil {
		return false, err
	}

	return true, m.applyFillToPosition(fill)
}

// PumpFills turns push notifications from the fills feed into early cursor
// replays, so positions converge faster than the cycle interval. Bursts
// collapse into one replay via the debounce. The per-cycle replay remains
// authoritative; a dropped event only costs latency.
func (m *Manager) PumpFills(ctx context.Context, events <-chan exchange.FillEvent) {
	const debounce = 2 * time.Second
	var lastReplay time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.logger.Info("fill notification",
				"trade_id", ev.TradeID,
				"ticker", ev.Ticker,
				"count", ev.Count,
			)
			if m.now().Sub(lastReplay) < debounce {
				continue
			}
			lastReplay = m.now()
			replayCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if _, err := m.ReconcileFills(replayCtx); err != nil {
				m.logger.Warn("push-triggered fill replay failed", "error", err)
			}
			cancel()
		}
	}
}

// cityFromTicker maps a market ticker back to its city via the series
// prefix, or "" when the series is not in the registry.
func cityFromTicker(ticker string) string {
	for _, c := range cities.All() {
		if strings.HasPrefix(ticker, c.SeriesTicker+"-") {
			return c.Code
		}
	}
	return ""
}

// eventDateFromTicker extracts the YYMMMDD event segment, second field of
// SERIES-YYMMMDD-STRIKE, or "" when absent.
func eventDateFromTicker(ticker string) string {
	parts := strings.Split(ticker, "-")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
