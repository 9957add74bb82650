package strategy

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"kalshi-weather-trader/pkg/types"
)

// uncertaintyDivisor normalizes forecast stddev (°F) into [0,1]; 15 leaves
// headroom below max_uncertainty=0.30 for stddevs up to 4.5 °F.
const uncertaintyDivisor = 15.0

// DailyHighParams configures the daily-high model. All values come from the
// loaded configuration; the strategy itself carries no defaults.
type DailyHighParams struct {
	MaxUncertainty  float64
	MinEdge         float64
	Bankroll        float64
	MaxTradeRiskPct float64
	MaxContracts    int
}

// DailyHigh models the next-day high temperature as a Gaussian centered on
// the forecast and prices threshold contracts off its tail probabilities.
type DailyHigh struct {
	params DailyHighParams
}

func NewDailyHigh(params DailyHighParams) *DailyHigh {
	return &DailyHigh{params: params}
}

func (s *DailyHigh) Name() string { return "daily_high_temp" }

// Evaluate scores one contract. It is pure: no clock reads, no I/O, no
// randomness. The caller supplies now so repeated evaluation of the same
// inputs yields the same signal.
func (s *DailyHigh) Evaluate(weather types.WeatherSnapshot, market types.MarketSnapshot, now time.Time) types.Signal {
	if weather.Stale {
		return hold(s.Name(), weather, market, now, types.ReasonStaleWeather)
	}
	if weather.ForecastStddevF <= 0 {
		return hold(s.Name(), weather, market, now, types.ReasonHighUncertainty)
	}
	if !market.HasQuotes {
		return hold(s.Name(), weather, market, now, types.ReasonHoldDefault)
	}

	dist := distuv.Normal{Mu: weather.ForecastHighF, Sigma: weather.ForecastStddevF}
	pAbove := dist.Survival(market.ThresholdF)

	pModel := pAbove
	if market.Direction == types.DirBelow {
		pModel = 1 - pAbove
	}

	pMarket := market.MidYes() / 100
	edgeYes := pModel - pMarket

	rawU := weather.ForecastStddevF / uncertaintyDivisor
	uncertainty := math.Min(rawU, s.params.MaxUncertainty)

	sig := types.Signal{
		CityCode:     weather.CityCode,
		Ticker:       market.Ticker,
		StrategyName: s.Name(),
		PYesModel:    pModel,
		Uncertainty:  uncertainty,
		PYesMarket:   pMarket,
		Edge:         edgeYes,
		Action:       types.ActionHold,
		CreatedAt:    now,
	}

	if rawU > s.params.MaxUncertainty {
		sig.Reasons = []types.ReasonCode{types.ReasonHighUncertainty}
		return sig
	}

	// Positive edge means the model likes YES; otherwise price the NO side
	// against its own mid.
	side := types.SideYes
	pSide := pModel
	edge := edgeYes
	reason := types.ReasonEdgePositive
	if edgeYes <= 0 {
		side = types.SideNo
		pSide = 1 - pModel
		edge = pSide - market.MidNo()/100
		reason = types.ReasonEdgeNegative
	}

	if math.Abs(edge) < s.params.MinEdge || edge < 0 {
		sig.Reasons = []types.ReasonCode{types.ReasonBelowMinEdge}
		return sig
	}

	maxPrice := int(math.Floor(100 * (pSide - s.params.MinEdge)))
	if maxPrice < 1 {
		sig.Reasons = []types.ReasonCode{types.ReasonBelowMinEdge}
		return sig
	}
	if market.AskFor(side) > maxPrice {
		sig.Reasons = []types.ReasonCode{types.ReasonHoldDefault}
		return sig
	}

	sig.Action = types.ActionBuy
	sig.Side = side
	sig.Edge = edge
	sig.MaxPriceCents = maxPrice
	sig.SizeHint = s.sizeHint(uncertainty, maxPrice)
	sig.Reasons = []types.ReasonCode{reason}
	return sig
}

// sizeHint converts confidence into a contract count at the limit price.
// The risk engine may only shrink it, never grow it.
func (s *DailyHigh) sizeHint(uncertainty float64, priceCents int) int {
	confidence := 1 - uncertainty/s.params.MaxUncertainty
	dollars := s.params.Bankroll * s.params.MaxTradeRiskPct * confidence
	if priceCents <= 0 {
		return 0
	}
	qty := int(math.Floor(dollars / (float64(priceCents) / 100)))
	if qty > s.params.MaxContracts {
		qty = s.params.MaxContracts
	}
	if qty < 0 {
		qty = 0
	}
	return qty
}
