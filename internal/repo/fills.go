package repo

import (
	"time"

	"github.com/shopspring/decimal"

	"kalshi-weather-trader/pkg/types"
)

type fillRow struct {
	ID            string `db:"id"`
	OrderRef      string `db:"order_ref"`
	Ticker        string `db:"ticker"`
	CityCode      string `db:"city_code"`
	Side          string `db:"side"`
	FilledAt      int64  `db:"filled_at"`
	Quantity      int    `db:"quantity"`
	PriceCents    int    `db:"price_cents"`
	FeesCents     int    `db:"fees_cents"`
	RealizedPnL   string `db:"realized_pnl"`
	ExchangeTrade string `db:"exchange_trade"`
}

func (r fillRow) toFill() types.Fill {
	pnl, _ := decimal.NewFromString(r.RealizedPnL)
	return types.Fill{
		ID:            r.ID,
		OrderRef:      r.OrderRef,
		Ticker:        r.Ticker,
		CityCode:      r.CityCode,
		Side:          types.Side(r.Side),
		FilledAt:      time.Unix(r.FilledAt, 0).UTC(),
		Quantity:      r.Quantity,
		PriceCents:    r.PriceCents,
		FeesCents:     r.FeesCents,
		RealizedPnL:   pnl,
		ExchangeTrade: r.ExchangeTrade,
	}
}

// SaveFill inserts a fill, silently skipping duplicates of the same exchange
// trade id. Returns true when the row was new.
func (s *Store) SaveFill(f types.Fill) (bool, error) {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO ops_fills (
			id, order_ref, ticker, city_code, side, filled_at,
			quantity, price_cents, fees_cents, realized_pnl, exchange_trade
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.OrderRef, f.Ticker, f.CityCode, string(f.Side), f.FilledAt.Unix(),
		f.Quantity, f.PriceCents, f.FeesCents, f.RealizedPnL.String(), f.ExchangeTrade)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// FillsBetween returns fills with filled_at in [from, to).
func (s *Store) FillsBetween(from, to time.Time) ([]types.Fill, error) {
	var rows []fillRow
	err := s.db.Select(&rows, `
		SELECT * FROM ops_fills
		WHERE filled_at >= ? AND filled_at < ?
		ORDER BY filled_at`, from.Unix(), to.Unix())
	if err != nil {
		return nil, err
	}
	fills := make([]types.Fill, 0, len(rows))
	for _, r := range rows {
		fills = append(fills, r.toFill())
	}
	return fills, nil
}

// RealizedPnLBetween sums realized pnl over fills in [from, to).
func (s *Store) RealizedPnLBetween(from, to time.Time) (decimal.Decimal, error) {
	var raw []string
	err := s.db.Select(&raw, `
		SELECT realized_pnl FROM ops_fills
		WHERE filled_at >= ? AND filled_at < ?`, from.Unix(), to.Unix())
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, v := range raw {
		d, err := decimal.NewFromString(v)
		if err != nil {
			continue
		}
		total = total.Add(d)
	}
	return total, nil
}
