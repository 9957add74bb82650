package repo

import (
	"database/sql"
	"errors"
	"time"

	"kalshi-weather-trader/pkg/types"
)

// SaveRiskEvent appends one audit event.
func (s *Store) SaveRiskEvent(e types.RiskEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO ops_risk_events (id, type, severity, city_code, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Type), e.Severity, e.CityCode, e.Payload, e.CreatedAt.Unix())
	return err
}

// RiskEventsSince returns events created at or after the given time.
func (s *Store) RiskEventsSince(since time.Time) ([]types.RiskEvent, error) {
	type row struct {
		ID        string `db:"id"`
		Type      string `db:"type"`
		Severity  string `db:"severity"`
		CityCode  string `db:"city_code"`
		Payload   string `db:"payload"`
		CreatedAt int64  `db:"created_at"`
	}
	var rows []row
	err := s.db.Select(&rows, `
		SELECT * FROM ops_risk_events WHERE created_at >= ? ORDER BY created_at`,
		since.Unix())
	if err != nil {
		return nil, err
	}
	events := make([]types.RiskEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, types.RiskEvent{
			ID:        r.ID,
			Type:      types.RiskEventType(r.Type),
			Severity:  r.Severity,
			CityCode:  r.CityCode,
			Payload:   r.Payload,
			CreatedAt: time.Unix(r.CreatedAt, 0).UTC(),
		})
	}
	return events, nil
}

// SaveHealth upserts the latest status for one component. A zero LastOK
// preserves the previously recorded one, so degraded updates never erase the
// last healthy timestamp.
func (s *Store) SaveHealth(h types.HealthStatus) error {
	var lastOK int64
	if !h.LastOK.IsZero() {
		lastOK = h.LastOK.Unix()
	}
	_, err := s.db.Exec(`
		INSERT INTO ops_health_status (component, state, last_ok, message, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (component) DO UPDATE SET
			state      = excluded.state,
			last_ok    = MAX(ops_health_status.last_ok, excluded.last_ok),
			message    = excluded.message,
			updated_at = excluded.updated_at`,
		h.Component, string(h.State), lastOK, h.Message, h.UpdatedAt.Unix())
	return err
}

// HealthStatuses returns the latest row per component.
func (s *Store) HealthStatuses() ([]types.HealthStatus, error) {
	type row struct {
		Component string `db:"component"`
		State     string `db:"state"`
		LastOK    int64  `db:"last_ok"`
		Message   string `db:"message"`
		UpdatedAt int64  `db:"updated_at"`
	}
	var rows []row
	err := s.db.Select(&rows, `SELECT * FROM ops_health_status ORDER BY component`)
	if err != nil {
		return nil, err
	}
	out := make([]types.HealthStatus, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.HealthStatus{
			Component: r.Component,
			State:     types.HealthState(r.State),
			LastOK:    time.Unix(r.LastOK, 0).UTC(),
			Message:   r.Message,
			UpdatedAt: time.Unix(r.UpdatedAt, 0).UTC(),
		})
	}
	return out, nil
}

// Cursor returns the named reconciliation cursor, or the zero time when the
// cursor has never been advanced.
func (s *Store) Cursor(name string) (time.Time, error) {
	var ts int64
	err := s.db.Get(&ts, `SELECT cursor_ts FROM ops_reconcile_cursor WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(ts, 0).UTC(), nil
}

// SetCursor advances the named cursor. Cursors never move backwards.
func (s *Store) SetCursor(name string, ts time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO ops_reconcile_cursor (name, cursor_ts, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			cursor_ts  = MAX(cursor_ts, excluded.cursor_ts),
			updated_at = excluded.updated_at`,
		name, ts.Unix(), time.Now().Unix())
	return err
}
