package repo

import (
	"fmt"

	"github.com/shopspring/decimal"

	"kalshi-weather-trader/pkg/types"
)

// Rollup inputs are computed by the analytics package; these methods only
// persist them. Each writer is idempotent per day: delete-then-insert inside
// one transaction, so rerunning a day replaces it exactly.

// CityDaily is one per-city daily aggregate row.
type CityDaily struct {
	Day        string
	CityCode   string
	TradeCount int
	WinCount   int
	PnL        decimal.Decimal
}

// StrategyDaily is one per-strategy daily aggregate row.
type StrategyDaily struct {
	Day          string
	StrategyName string
	SignalCount  int
	BuyCount     int
	RealizedEdge float64
}

// EquityPoint is one equity-curve snapshot.
type EquityPoint struct {
	Day        string
	Realized   decimal.Decimal
	Unrealized decimal.Decimal
	Bankroll   decimal.Decimal
}

// ReplaceCityDaily rewrites all city rows for one day.
func (s *Store) ReplaceCityDaily(day string, rows []CityDaily) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM analytics_city_daily WHERE day = ?`, day); err != nil {
		return err
	}
	for _, r := range rows {
		_, err := tx.Exec(`
			INSERT INTO analytics_city_daily (day, city_code, trade_count, win_count, pnl)
			VALUES (?, ?, ?, ?, ?)`,
			r.Day, r.CityCode, r.TradeCount, r.WinCount, r.PnL.String())
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ReplaceStrategyDaily rewrites all strategy rows for one day.
func (s *Store) ReplaceStrategyDaily(day string, rows []StrategyDaily) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM analytics_strategy_daily WHERE day = ?`, day); err != nil {
		return err
	}
	for _, r := range rows {
		_, err := tx.Exec(`
			INSERT INTO analytics_strategy_daily (day, strategy_name, signal_count, buy_count, realized_edge)
			VALUES (?, ?, ?, ?, ?)`,
			r.Day, r.StrategyName, r.SignalCount, r.BuyCount, r.RealizedEdge)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ReplaceEquityPoint rewrites the equity snapshot for one day.
func (s *Store) ReplaceEquityPoint(p EquityPoint) error {
	_, err := s.db.Exec(`
		INSERT INTO analytics_equity_curve (day, realized, unrealized, bankroll)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (day) DO UPDATE SET
			realized   = excluded.realized,
			unrealized = excluded.unrealized,
			bankroll   = excluded.bankroll`,
		p.Day, p.Realized.String(), p.Unrealized.String(), p.Bankroll.String())
	return err
}

// CityDailyFor reads back one day's city rows, ordered by city code.
func (s *Store) CityDailyFor(day string) ([]CityDaily, error) {
	type row struct {
		Day        string `db:"day"`
		CityCode   string `db:"city_code"`
		TradeCount int    `db:"trade_count"`
		WinCount   int    `db:"win_count"`
		PnL        string `db:"pnl"`
	}
	var rows []row
	err := s.db.Select(&rows, `
		SELECT * FROM analytics_city_daily WHERE day = ? ORDER BY city_code`, day)
	if err != nil {
		return nil, err
	}
	out := make([]CityDaily, 0, len(rows))
	for _, r := range rows {
		pnl, err := decimal.NewFromString(r.PnL)
		if err != nil {
			return nil, fmt.Errorf("city daily pnl for %s/%s: %w", r.Day, r.CityCode, err)
		}
		out = append(out, CityDaily{
			Day: r.Day, CityCode: r.CityCode,
			TradeCount: r.TradeCount, WinCount: r.WinCount, PnL: pnl,
		})
	}
	return out, nil
}

// UnrealizedPnL marks every open position to the given quote source. Markets
// without a live quote contribute zero. Used by the daily-loss breaker check
// and the equity rollup.
func UnrealizedPnL(positions []types.Position, midCentsFor func(ticker string, side types.Side) (float64, bool)) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		if p.QuantityOpen <= 0 {
			continue
		}
		mid, ok := midCentsFor(p.Ticker, p.Side)
		if !ok {
			continue
		}
		perContract := decimal.NewFromFloat(mid - p.AvgEntryCents)
		total = total.Add(perContract.Mul(decimal.NewFromInt(int64(p.QuantityOpen))).Div(decimal.NewFromInt(100)))
	}
	return total
}
