package repo

import (
	"strings"
	"time"

	"kalshi-weather-trader/pkg/types"
)

// SaveWeatherSnapshot appends one weather fetch row.
func (s *Store) SaveWeatherSnapshot(w types.WeatherSnapshot) error {
	_, err := s.db.Exec(`
		INSERT INTO ops_weather_snapshots (
			city_code, captured_at, forecast_high_f, forecast_stddev_f,
			observed_temp_f, source_updated_at, stale
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.CityCode, w.CapturedAt.Unix(), w.ForecastHighF, w.ForecastStddevF,
		w.ObservedTempF, w.SourceUpdatedAt.Unix(), boolInt(w.Stale))
	return err
}

// SaveMarketSnapshot appends one market fetch row.
func (s *Store) SaveMarketSnapshot(m types.MarketSnapshot) error {
	_, err := s.db.Exec(`
		INSERT INTO ops_market_snapshots (
			ticker, city_code, threshold_f, direction, event_date,
			yes_bid, yes_ask, no_bid, no_ask, has_quotes,
			volume, open_interest, close_time, captured_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Ticker, m.CityCode, m.ThresholdF, string(m.Direction), m.EventDate,
		m.YesBid, m.YesAsk, m.NoBid, m.NoAsk, boolInt(m.HasQuotes),
		m.Volume, m.OpenInterest, m.CloseTime.Unix(), m.CapturedAt.Unix())
	return err
}

// SaveSignal appends one strategy verdict. Reasons are stored as a
// comma-joined list in emission order.
func (s *Store) SaveSignal(sig types.Signal) error {
	reasons := make([]string, len(sig.Reasons))
	for i, r := range sig.Reasons {
		reasons[i] = string(r)
	}
	_, err := s.db.Exec(`
		INSERT INTO ops_signals (
			city_code, ticker, strategy_name, p_yes_model, uncertainty,
			p_yes_market, edge, action, side, max_price_cents, size_hint,
			reasons, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.CityCode, sig.Ticker, sig.StrategyName, sig.PYesModel, sig.Uncertainty,
		sig.PYesMarket, sig.Edge, string(sig.Action), string(sig.Side),
		sig.MaxPriceCents, sig.SizeHint, strings.Join(reasons, ","), sig.CreatedAt.Unix())
	return err
}

// SignalStatsForDay aggregates per-strategy signal counts and mean edge of
// BUY signals for one local day, for the daily rollup.
type SignalStat struct {
	StrategyName string  `db:"strategy_name"`
	SignalCount  int     `db:"signal_count"`
	BuyCount     int     `db:"buy_count"`
	MeanBuyEdge  float64 `db:"mean_buy_edge"`
}

func (s *Store) SignalStatsForDay(from, to time.Time) ([]SignalStat, error) {
	var stats []SignalStat
	err := s.db.Select(&stats, `
		SELECT strategy_name,
		       COUNT(*)                                        AS signal_count,
		       SUM(CASE WHEN action = 'BUY' THEN 1 ELSE 0 END) AS buy_count,
		       COALESCE(AVG(CASE WHEN action = 'BUY' THEN edge END), 0) AS mean_buy_edge
		FROM ops_signals
		WHERE created_at >= ? AND created_at < ?
		GROUP BY strategy_name`, from.Unix(), to.Unix())
	return stats, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
