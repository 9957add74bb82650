package repo

import (
	"time"

	"kalshi-weather-trader/pkg/types"
)

// PublicTrades is the delayed, redacted projection of fills. Only fills with
// filled_at at or before now-delay are visible; the projection carries no
// order identifiers, intent keys, or raw payloads, and timestamps are rounded
// down to the minute inside the query so raw times never cross this boundary.
func (s *Store) PublicTrades(now time.Time, delay time.Duration, limit int) ([]types.PublicTrade, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := now.Add(-delay).Unix()

	type row struct {
		Ticker     string `db:"ticker"`
		CityCode   string `db:"city_code"`
		Side       string `db:"side"`
		Quantity   int    `db:"quantity"`
		PriceCents int    `db:"price_cents"`
		FilledAt   int64  `db:"filled_at"`
	}
	var rows []row
	err := s.db.Select(&rows, `
		SELECT ticker, city_code, side, quantity, price_cents,
		       (filled_at / 60) * 60 AS filled_at
		FROM ops_fills
		WHERE filled_at <= ?
		ORDER BY filled_at DESC
		LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, err
	}

	trades := make([]types.PublicTrade, 0, len(rows))
	for _, r := range rows {
		trades = append(trades, types.PublicTrade{
			Ticker:     r.Ticker,
			CityCode:   r.CityCode,
			Side:       types.Side(r.Side),
			Quantity:   r.Quantity,
			PriceCents: r.PriceCents,
			FilledAt:   time.Unix(r.FilledAt, 0).UTC(),
		})
	}
	return trades, nil
}
