// Package analytics computes the derived daily aggregates: per-city totals,
// per-strategy signal stats, and the equity curve. Every rollup is
// idempotent for its day; rerunning replaces the day's rows exactly, so a
// missed or duplicated run is harmless.
package analytics

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"kalshi-weather-trader/internal/repo"
	"kalshi-weather-trader/pkg/types"
)

// Roller computes and persists the daily rollups.
type Roller struct {
	store    *repo.Store
	bankroll decimal.Decimal
	logger   *slog.Logger
}

func NewRoller(store *repo.Store, bankroll decimal.Decimal, logger *slog.Logger) *Roller {
	return &Roller{
		store:    store,
		bankroll: bankroll,
		logger:   logger.With("component", "analytics"),
	}
}

// Schedule registers the nightly rollup for the previous day on the given
// cron runner. The runner's lifecycle belongs to the caller.
func (r *Roller) Schedule(c *cron.Cron) error {
	// Five past midnight leaves room for fills landing right at the boundary.
	_, err := c.AddFunc("5 0 * * *", func() {
		day := time.Now().UTC().AddDate(0, 0, -1)
		if err := r.RollupDay(day); err != nil {
			r.logger.Error("nightly rollup failed", "day", day.Format("2006-01-02"), "error", err)
		}
	})
	return err
}

// RollupDay recomputes all three aggregates for the UTC day containing t.
func (r *Roller) RollupDay(t time.Time) error {
	day := t.UTC().Truncate(24 * time.Hour)
	next := day.AddDate(0, 0, 1)
	dayStr := day.Format("2006-01-02")

	if err := r.rollupCities(dayStr, day, next); err != nil {
		return err
	}
	if err := r.rollupStrategies(dayStr, day, next); err != nil {
		return err
	}
	if err := r.rollupEquity(dayStr, day, next); err != nil {
		return err
	}
	r.logger.Info("rollup complete", "day", dayStr)
	return nil
}

func (r *Roller) rollupCities(dayStr string, from, to time.Time) error {
	fills, err := r.store.FillsBetween(from, to)
	if err != nil {
		return err
	}

	type agg struct {
		trades int
		wins   int
		pnl    decimal.Decimal
	}
	byCity := make(map[string]*agg)
	for _, f := range fills {
		a, ok := byCity[f.CityCode]
		if !ok {
			a = &agg{}
			byCity[f.CityCode] = a
		}
		a.trades++
		if f.RealizedPnL.GreaterThan(decimal.Zero) {
			a.wins++
		}
		a.pnl = a.pnl.Add(f.RealizedPnL)
	}

	rows := make([]repo.CityDaily, 0, len(byCity))
	for city, a := range byCity {
		rows = append(rows, repo.CityDaily{
			Day:        dayStr,
			CityCode:   city,
			TradeCount: a.trades,
			WinCount:   a.wins,
			PnL:        a.pnl,
		})
	}
	return r.store.ReplaceCityDaily(dayStr, rows)
}

func (r *Roller) rollupStrategies(dayStr string, from, to time.Time) error {
	stats, err := r.store.SignalStatsForDay(from, to)
	if err != nil {
		return err
	}
	rows := make([]repo.StrategyDaily, 0, len(stats))
	for _, s := range stats {
		rows = append(rows, repo.StrategyDaily{
			Day:          dayStr,
			StrategyName: s.StrategyName,
			SignalCount:  s.SignalCount,
			BuyCount:     s.BuyCount,
			RealizedEdge: s.MeanBuyEdge,
		})
	}
	return r.store.ReplaceStrategyDaily(dayStr, rows)
}

func (r *Roller) rollupEquity(dayStr string, from, to time.Time) error {
	realized, err := r.store.RealizedPnLBetween(from, to)
	if err != nil {
		return err
	}
	positions, err := r.store.OpenPositions()
	if err != nil {
		return err
	}

	// Without a live quote source at rollup time, open positions are marked
	// at entry, contributing zero unrealized pnl.
	unrealized := repo.UnrealizedPnL(positions, func(ticker string, side types.Side) (float64, bool) {
		return 0, false
	})

	return r.store.ReplaceEquityPoint(repo.EquityPoint{
		Day:        dayStr,
		Realized:   realized,
		Unrealized: unrealized,
		Bankroll:   r.bankroll,
	})
}
