package repo

import (
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"kalshi-weather-trader/pkg/types"
)

type positionRow struct {
	Ticker        string  `db:"ticker"`
	Side          string  `db:"side"`
	CityCode      string  `db:"city_code"`
	Cluster       string  `db:"cluster"`
	QuantityOpen  int     `db:"quantity_open"`
	AvgEntryCents float64 `db:"avg_entry_cents"`
	AvgExitCents  float64 `db:"avg_exit_cents"`
	RealizedPnL   string  `db:"realized_pnl"`
	Status        string  `db:"status"`
	OpenedAt      int64   `db:"opened_at"`
	ClosedAt      *int64  `db:"closed_at"`
}

func (r positionRow) toPosition() types.Position {
	pnl, _ := decimal.NewFromString(r.RealizedPnL)
	p := types.Position{
		Ticker:        r.Ticker,
		CityCode:      r.CityCode,
		Cluster:       types.Cluster(r.Cluster),
		Side:          types.Side(r.Side),
		QuantityOpen:  r.QuantityOpen,
		AvgEntryCents: r.AvgEntryCents,
		AvgExitCents:  r.AvgExitCents,
		RealizedPnL:   pnl,
		Status:        r.Status,
		OpenedAt:      time.Unix(r.OpenedAt, 0).UTC(),
	}
	if r.ClosedAt != nil {
		t := time.Unix(*r.ClosedAt, 0).UTC()
		p.ClosedAt = &t
	}
	return p
}

// SavePosition inserts or replaces the position keyed by (ticker, side).
func (s *Store) SavePosition(p types.Position) error {
	var closedAt *int64
	if p.ClosedAt != nil {
		v := p.ClosedAt.Unix()
		closedAt = &v
	}
	_, err := s.db.Exec(`
		INSERT INTO ops_positions (
			ticker, side, city_code, cluster, quantity_open,
			avg_entry_cents, avg_exit_cents, realized_pnl, status, opened_at, closed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (ticker, side) DO UPDATE SET
			quantity_open   = excluded.quantity_open,
			avg_entry_cents = excluded.avg_entry_cents,
			avg_exit_cents  = excluded.avg_exit_cents,
			realized_pnl    = excluded.realized_pnl,
			status          = excluded.status,
			closed_at       = excluded.closed_at`,
		p.Ticker, string(p.Side), p.CityCode, string(p.Cluster), p.QuantityOpen,
		p.AvgEntryCents, p.AvgExitCents, p.RealizedPnL.String(), p.Status,
		p.OpenedAt.Unix(), closedAt)
	return err
}

// Position returns the position for (ticker, side), or (nil, nil).
func (s *Store) Position(ticker string, side types.Side) (*types.Position, error) {
	var row positionRow
	err := s.db.Get(&row, `SELECT * FROM ops_positions WHERE ticker = ? AND side = ?`,
		ticker, string(side))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p := row.toPosition()
	return &p, nil
}

// OpenPositions returns every open position.
func (s *Store) OpenPositions() ([]types.Position, error) {
	var rows []positionRow
	err := s.db.Select(&rows, `SELECT * FROM ops_positions WHERE status = 'OPEN' ORDER BY opened_at`)
	if err != nil {
		return nil, err
	}
	positions := make([]types.Position, 0, len(rows))
	for _, r := range rows {
		positions = append(positions, r.toPosition())
	}
	return positions, nil
}
