// Package risk enforces bankroll-denominated caps and circuit breakers.
//
// All dollar limits are derived at construction from the configured bankroll
// and ratio fields; the engine carries no hardcoded thresholds. Sizing only
// ever shrinks a request, never grows it.
package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kalshi-weather-trader/internal/cities"
	"kalshi-weather-trader/pkg/types"
)

// Params hold the ratio caps and breaker parameters from configuration.
type Params struct {
	Bankroll              decimal.Decimal
	MaxTradeRiskPct       float64
	MaxCityExposurePct    float64
	MaxClusterExposurePct float64
	MaxDailyLossPct       float64
	MaxTradeContracts     int
	RejectBurstCount      int
	RejectBurstWindow     time.Duration
}

// Refusal is the structured answer when a cap blocks a trade. It names the
// cap and the exposure that hit it so the loop can persist an audit event.
type Refusal struct {
	Event           types.RiskEventType
	CapDollars      decimal.Decimal
	ExposureDollars decimal.Decimal
	Detail          string
}

func (r *Refusal) Error() string {
	return fmt.Sprintf("%s: exposure %s against cap %s (%s)",
		r.Event, r.ExposureDollars.StringFixed(2), r.CapDollars.StringFixed(2), r.Detail)
}

// Engine applies caps and tracks the daily-loss and rejection breakers.
type Engine struct {
	perTradeCap decimal.Decimal
	cityCap     decimal.Decimal
	clusterCap  decimal.Decimal
	dailyLoss   decimal.Decimal
	maxQty      int

	burstCount  int
	burstWindow time.Duration

	mu         sync.Mutex
	rejections []time.Time
	tripped    bool
	trippedDay string // UTC YYYY-MM-DD the latch was set; clears on day change

	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(p Params, logger *slog.Logger) *Engine {
	pct := func(ratio float64) decimal.Decimal {
		return p.Bankroll.Mul(decimal.NewFromFloat(ratio))
	}
	return &Engine{
		perTradeCap: pct(p.MaxTradeRiskPct),
		cityCap:     pct(p.MaxCityExposurePct),
		clusterCap:  pct(p.MaxClusterExposurePct),
		dailyLoss:   pct(p.MaxDailyLossPct),
		maxQty:      p.MaxTradeContracts,
		burstCount:  p.RejectBurstCount,
		burstWindow: p.RejectBurstWindow,
		logger:      logger.With("component", "risk"),
		now:         time.Now,
	}
}

// Size fits a gate-admitted order inside the per-trade, city, and cluster
// caps. positions must include the loop's in-cycle accumulator, never just
// the persisted book. Returns the final quantity or a Refusal when no
// quantity > 0 fits.
func (e *Engine) Size(signal types.Signal, limitCents, qty int, positions []types.Position) (int, *Refusal) {
	if qty > e.maxQty {
		qty = e.maxQty
	}
	if qty <= 0 || limitCents <= 0 {
		return 0, &Refusal{
			Event:      types.RiskTradeCapHit,
			CapDollars: e.perTradeCap,
			Detail:     "no sizeable quantity",
		}
	}

	price := decimal.NewFromInt(int64(limitCents)).Div(decimal.NewFromInt(100))

	// Per-trade cap first.
	cost := price.Mul(decimal.NewFromInt(int64(qty)))
	if cost.GreaterThan(e.perTradeCap) {
		qty = int(e.perTradeCap.Div(price).IntPart())
		if qty <= 0 {
			return 0, &Refusal{
				Event:           types.RiskTradeCapHit,
				CapDollars:      e.perTradeCap,
				ExposureDollars: cost,
				Detail:          fmt.Sprintf("ticker %s", signal.Ticker),
			}
		}
	}

	cluster := cities.ClusterOf(signal.CityCode)
	cityExp, clusterExp := exposures(positions, signal.CityCode, cluster)

	// City headroom.
	if q, refusal := fitHeadroom(qty, price, e.cityCap, cityExp,
		types.RiskCityCapHit, "city "+signal.CityCode); refusal != nil {
		return 0, refusal
	} else {
		qty = q
	}

	// Cluster headroom.
	if q, refusal := fitHeadroom(qty, price, e.clusterCap, clusterExp,
		types.RiskClusterCapHit, "cluster "+string(cluster)); refusal != nil {
		return 0, refusal
	} else {
		qty = q
	}

	return qty, nil
}

// fitHeadroom shrinks qty until price*qty fits within capDollars-exposure.
func fitHeadroom(qty int, price, capDollars, exposure decimal.Decimal, event types.RiskEventType, detail string) (int, *Refusal) {
	headroom := capDollars.Sub(exposure)
	if headroom.LessThanOrEqual(decimal.Zero) {
		return 0, &Refusal{Event: event, CapDollars: capDollars, ExposureDollars: exposure, Detail: detail}
	}
	cost := price.Mul(decimal.NewFromInt(int64(qty)))
	if cost.LessThanOrEqual(headroom) {
		return qty, nil
	}
	fit := int(headroom.Div(price).IntPart())
	if fit <= 0 {
		return 0, &Refusal{Event: event, CapDollars: capDollars, ExposureDollars: exposure, Detail: detail}
	}
	return fit, nil
}

func exposures(positions []types.Position, cityCode string, cluster types.Cluster) (city, clusterTotal decimal.Decimal) {
	for _, pos := range positions {
		exp := pos.ExposureDollars()
		if pos.CityCode == cityCode {
			city = city.Add(exp)
		}
		if pos.Cluster == cluster {
			clusterTotal = clusterTotal.Add(exp)
		}
	}
	return city, clusterTotal
}

// CheckDailyLoss trips when realized + unrealized pnl reaches the configured
// daily loss cap. The trip latches for the rest of the UTC day, matching the
// window the realized pnl is summed over; a new day (or Reset) clears it.
func (e *Engine) CheckDailyLoss(realized, unrealized decimal.Decimal) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	today := e.now().UTC().Format("2006-01-02")
	if e.tripped && e.trippedDay != today {
		e.tripped = false
		e.logger.Info("daily loss breaker reset on day change", "day", today)
	}
	if e.tripped {
		return true
	}

	total := realized.Add(unrealized)
	if total.LessThanOrEqual(e.dailyLoss.Neg()) {
		e.tripped = true
		e.trippedDay = today
		e.logger.Warn("daily loss breaker tripped",
			"pnl", total.StringFixed(2), "cap", e.dailyLoss.StringFixed(2))
		return true
	}
	return false
}

// Reset manually clears the daily-loss latch.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tripped = false
	e.trippedDay = ""
}

// RecordRejection notes one exchange rejection for the burst window.
func (e *Engine) RecordRejection() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rejections = append(e.rejections, e.now())
}

// RejectionBurst reports whether rejections within the sliding window have
// reached the configured count.
func (e *Engine) RejectionBurst() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-e.burstWindow)
	kept := e.rejections[:0]
	for _, t := range e.rejections {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	e.rejections = kept
	return len(e.rejections) >= e.burstCount
}

// DailyLossCap exposes the derived dollar cap for logging and health rows.
func (e *Engine) DailyLossCap() decimal.Decimal { return e.dailyLoss }
