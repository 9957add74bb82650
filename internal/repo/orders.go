package repo

import (
	"database/sql"
	"errors"
	"time"

	"kalshi-weather-trader/pkg/types"
)

type orderRow struct {
	IntentKey       string `db:"intent_key"`
	IntentVersion   int    `db:"intent_version"`
	ClientOrderID   string `db:"client_order_id"`
	ExchangeOrderID string `db:"exchange_order_id"`
	Ticker          string `db:"ticker"`
	CityCode        string `db:"city_code"`
	Side            string `db:"side"`
	Quantity        int    `db:"quantity"`
	FilledQuantity  int    `db:"filled_quantity"`
	LimitPriceCents int    `db:"limit_price_cents"`
	Status          string `db:"status"`
	CreatedAt       int64  `db:"created_at"`
	UpdatedAt       int64  `db:"updated_at"`
}

func (r orderRow) toOrder() types.Order {
	return types.Order{
		IntentKey:       r.IntentKey,
		IntentVersion:   r.IntentVersion,
		ClientOrderID:   r.ClientOrderID,
		ExchangeOrderID: r.ExchangeOrderID,
		Ticker:          r.Ticker,
		CityCode:        r.CityCode,
		Side:            types.Side(r.Side),
		Quantity:        r.Quantity,
		FilledQuantity:  r.FilledQuantity,
		LimitPriceCents: r.LimitPriceCents,
		Status:          types.OrderStatus(r.Status),
		CreatedAt:       time.Unix(r.CreatedAt, 0).UTC(),
		UpdatedAt:       time.Unix(r.UpdatedAt, 0).UTC(),
	}
}

// SaveOrder inserts or replaces the order row keyed by (intent_key, version).
func (s *Store) SaveOrder(o types.Order) error {
	_, err := s.db.Exec(`
		INSERT INTO ops_orders (
			intent_key, intent_version, client_order_id, exchange_order_id,
			ticker, city_code, side, quantity, filled_quantity,
			limit_price_cents, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (intent_key, intent_version) DO UPDATE SET
			exchange_order_id = excluded.exchange_order_id,
			filled_quantity   = excluded.filled_quantity,
			limit_price_cents = excluded.limit_price_cents,
			status            = excluded.status,
			updated_at        = excluded.updated_at`,
		o.IntentKey, o.IntentVersion, o.ClientOrderID, o.ExchangeOrderID,
		o.Ticker, o.CityCode, string(o.Side), o.Quantity, o.FilledQuantity,
		o.LimitPriceCents, string(o.Status), o.CreatedAt.Unix(), o.UpdatedAt.Unix())
	return err
}

// OrderByClientID returns the order with the given client order id, or
// (nil, nil) when none exists.
func (s *Store) OrderByClientID(clientOrderID string) (*types.Order, error) {
	var row orderRow
	err := s.db.Get(&row, `SELECT * FROM ops_orders WHERE client_order_id = ?`, clientOrderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	o := row.toOrder()
	return &o, nil
}

// OrderByExchangeID looks an order up by its exchange-assigned id.
func (s *Store) OrderByExchangeID(exchangeOrderID string) (*types.Order, error) {
	var row orderRow
	err := s.db.Get(&row, `SELECT * FROM ops_orders WHERE exchange_order_id = ?`, exchangeOrderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	o := row.toOrder()
	return &o, nil
}

// LatestOrderForIntent returns the highest-version order for an intent key,
// or (nil, nil) when the intent has never produced an order.
func (s *Store) LatestOrderForIntent(intentKey string) (*types.Order, error) {
	var row orderRow
	err := s.db.Get(&row, `
		SELECT * FROM ops_orders WHERE intent_key = ?
		ORDER BY intent_version DESC LIMIT 1`, intentKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	o := row.toOrder()
	return &o, nil
}

// ActiveOrders returns all orders in non-terminal states.
func (s *Store) ActiveOrders() ([]types.Order, error) {
	var rows []orderRow
	err := s.db.Select(&rows, `
		SELECT * FROM ops_orders
		WHERE status NOT IN ('CANCELED', 'REJECTED', 'CLOSED')
		ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	orders := make([]types.Order, 0, len(rows))
	for _, r := range rows {
		orders = append(orders, r.toOrder())
	}
	return orders, nil
}
