// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the trader: enums for order and
// signal state, entity records for weather/market snapshots, signals, orders,
// fills, positions, and risk events. It has no dependencies on internal
// packages, so it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side is the contract side an order takes: YES or NO.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Action is the strategy's decision for a market.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Direction defines which way a threshold contract settles YES.
type Direction string

const (
	DirAbove Direction = "ABOVE"
	DirBelow Direction = "BELOW"
)

// Mode selects how orders are routed.
//
//	SHADOW — signals computed and persisted, no orders submitted, fills simulated at the ask
//	PAPER  — orders submitted against the exchange's demo endpoint
//	LIVE   — production endpoint; requires explicit startup confirmation
type Mode string

const (
	ModeShadow Mode = "SHADOW"
	ModePaper  Mode = "PAPER"
	ModeLive   Mode = "LIVE"
)

// OrderStatus enumerates the order state machine states. Transitions are
// validated by the OMS; see oms.ValidTransition.
type OrderStatus string

const (
	OrderNew       OrderStatus = "NEW"
	OrderSubmitted OrderStatus = "SUBMITTED"
	OrderResting   OrderStatus = "RESTING"
	OrderPartial   OrderStatus = "PARTIAL"
	OrderFilled    OrderStatus = "FILLED"
	OrderCanceled  OrderStatus = "CANCELED"
	OrderRejected  OrderStatus = "REJECTED"
	OrderClosed    OrderStatus = "CLOSED"
)

// Terminal reports whether the status permits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderCanceled, OrderRejected, OrderClosed:
		return true
	}
	return false
}

// RiskEventType classifies boundary-hitting decisions for the audit trail.
type RiskEventType string

const (
	RiskDailyLossHit  RiskEventType = "DAILY_LOSS_HIT"
	RiskCityCapHit    RiskEventType = "CITY_CAP_HIT"
	RiskClusterCapHit RiskEventType = "CLUSTER_CAP_HIT"
	RiskTradeCapHit   RiskEventType = "TRADE_CAP_HIT"
	RiskRejectBurst   RiskEventType = "REJECT_BURST"
	RiskStaleWeather  RiskEventType = "STALE_WEATHER"
)

// ReasonCode is an auditable explanation attached to a signal or gate result.
// The strategy emits only the first six; gate reasons are appended by the
// gate layer, never by the strategy itself.
type ReasonCode string

const (
	ReasonEdgePositive     ReasonCode = "EDGE_POSITIVE"
	ReasonEdgeNegative     ReasonCode = "EDGE_NEGATIVE"
	ReasonHighUncertainty  ReasonCode = "HIGH_UNCERTAINTY"
	ReasonBelowMinEdge     ReasonCode = "BELOW_MIN_EDGE"
	ReasonHoldDefault      ReasonCode = "HOLD_DEFAULT"
	ReasonStaleWeather     ReasonCode = "STALE_WEATHER"
	ReasonSpreadWide       ReasonCode = "SPREAD_WIDE"
	ReasonLowLiquidity     ReasonCode = "LOW_LIQUIDITY"
	ReasonInsufficientEdge ReasonCode = "INSUFFICIENT_EDGE"
)

// HealthState is the coarse status of a system component.
type HealthState string

const (
	HealthOK       HealthState = "OK"
	HealthDegraded HealthState = "DEGRADED"
	HealthDown     HealthState = "DOWN"
)

// Cluster groups geographically correlated cities for exposure limits.
type Cluster string

const (
	ClusterNE       Cluster = "NE"
	ClusterSE       Cluster = "SE"
	ClusterMidwest  Cluster = "Midwest"
	ClusterMountain Cluster = "Mountain"
	ClusterWest     Cluster = "West"
)

// ————————————————————————————————————————————————————————————————————————
// Registry and snapshots
// ————————————————————————————————————————————————————————————————————————

// ForecastGrid addresses a forecast gridpoint: office identifier plus X/Y.
type ForecastGrid struct {
	Office string
	X      int
	Y      int
}

// CityConfig is an immutable registry entry for one traded city.
// Created at boot, never mutated.
type CityConfig struct {
	Code              string // 3-letter code, e.g. "NYC"
	DisplayName       string
	Timezone          string // IANA name, e.g. "America/New_York"
	Cluster           Cluster
	Grid              ForecastGrid
	SettlementStation string // ICAO station the contract settles against
	SeriesTicker      string // exchange series for this city's daily-high event
}

// WeatherSnapshot is one row per (city, fetch).
// Invariant: if Stale is true, trading for the city is skipped that cycle.
type WeatherSnapshot struct {
	CityCode        string
	CapturedAt      time.Time
	ForecastHighF   float64
	ForecastStddevF float64  // always >= 0
	ObservedTempF   *float64 // nil when no recent observation
	SourceUpdatedAt time.Time
	Stale           bool
}

// MarketSnapshot is one row per (contract, fetch). Prices are integer cents
// in [1, 99]; HasQuotes=false marks a market with a missing side, which is
// ineligible for trading this cycle.
type MarketSnapshot struct {
	Ticker       string
	CityCode     string
	ThresholdF   float64
	Direction    Direction
	EventDate    string // local settlement date, YYYY-MM-DD
	YesBid       int
	YesAsk       int
	NoBid        int
	NoAsk        int
	HasQuotes    bool
	Volume       int64
	OpenInterest int64
	CloseTime    time.Time
	CapturedAt   time.Time
}

// SpreadCents returns yes_ask - yes_bid.
func (m MarketSnapshot) SpreadCents() int { return m.YesAsk - m.YesBid }

// MidYes returns the midpoint of the YES quotes in cents.
func (m MarketSnapshot) MidYes() float64 { return float64(m.YesBid+m.YesAsk) / 2 }

// MidNo returns the midpoint of the NO quotes in cents.
func (m MarketSnapshot) MidNo() float64 { return float64(m.NoBid+m.NoAsk) / 2 }

// AskFor returns the ask price in cents for the given side.
func (m MarketSnapshot) AskFor(side Side) int {
	if side == SideYes {
		return m.YesAsk
	}
	return m.NoAsk
}

// ————————————————————————————————————————————————————————————————————————
// Signals
// ————————————————————————————————————————————————————————————————————————

// Signal is the strategy's verdict for one (city, contract) pair.
// Given identical inputs a strategy must produce an identical Signal.
type Signal struct {
	CityCode      string
	Ticker        string
	StrategyName  string
	PYesModel     float64 // model probability of YES, in [0, 1]
	Uncertainty   float64 // in [0, max_uncertainty]
	PYesMarket    float64 // implied by YES mid
	Edge          float64 // signed, for the chosen side
	Action        Action
	Side          Side
	MaxPriceCents int // highest acceptable price for the side, 0 on HOLD
	SizeHint      int // contracts suggested before risk sizing
	Reasons       []ReasonCode
	CreatedAt     time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Orders, fills, positions
// ————————————————————————————————————————————————————————————————————————

// Order is one concrete attempt to realize an intent. For a given
// (IntentKey, IntentVersion) there is at most one Order.
type Order struct {
	IntentKey       string
	IntentVersion   int
	ClientOrderID   string // IntentKey + "#" + version
	ExchangeOrderID string // empty until acknowledged
	Ticker          string
	CityCode        string
	Side            Side
	Quantity        int
	FilledQuantity  int
	LimitPriceCents int
	Status          OrderStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Fill is one exchange fill event.
type Fill struct {
	ID            string
	OrderRef      string // client order id of the matched local order
	Ticker        string
	CityCode      string
	Side          Side
	FilledAt      time.Time
	Quantity      int
	PriceCents    int
	FeesCents     int
	RealizedPnL   decimal.Decimal // zero until the position closes
	ExchangeTrade string          // exchange trade id, for dedupe
}

// Position is aggregated per (market, side).
type Position struct {
	Ticker        string
	CityCode      string
	Cluster       Cluster
	Side          Side
	QuantityOpen  int
	AvgEntryCents float64
	AvgExitCents  float64
	RealizedPnL   decimal.Decimal
	Status        string // OPEN | CLOSED
	OpenedAt      time.Time
	ClosedAt      *time.Time
}

// ExposureDollars returns open quantity times average entry, in dollars.
func (p Position) ExposureDollars() decimal.Decimal {
	if p.QuantityOpen <= 0 {
		return decimal.Zero
	}
	cents := decimal.NewFromFloat(p.AvgEntryCents).Mul(decimal.NewFromInt(int64(p.QuantityOpen)))
	return cents.Div(decimal.NewFromInt(100))
}

// ————————————————————————————————————————————————————————————————————————
// Events and health
// ————————————————————————————————————————————————————————————————————————

// RiskEvent is the audit record written whenever a cap or breaker fires.
type RiskEvent struct {
	ID        string
	Type      RiskEventType
	Severity  string // info | warning | critical
	CityCode  string
	Payload   string // JSON detail blob, free-form
	CreatedAt time.Time
}

// HealthStatus is the latest status for one component.
type HealthStatus struct {
	Component string // trader | exchange_api | weather_api | database
	State     HealthState
	LastOK    time.Time
	Message   string
	UpdatedAt time.Time
}

// PublicTrade is the redacted, delayed projection of a fill. It carries no
// order identifier, intent key, or raw payload; FilledAt is rounded to the
// minute before it leaves the repository.
type PublicTrade struct {
	Ticker     string
	CityCode   string
	Side       Side
	Quantity   int
	PriceCents int
	FilledAt   time.Time
}
