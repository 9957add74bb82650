// Package gates holds the pre-trade execution-quality filters. Gates are
// stateless and deterministic; they judge whether a BUY signal may reach the
// risk engine, never how it was produced.
package gates

import (
	"math"

	"kalshi-weather-trader/pkg/types"
)

// Params are the gate thresholds, injected from configuration.
type Params struct {
	SpreadMaxCents       int
	LiquidityMin         int64
	MinLiquidityMultiple float64
	MinEdgeAfterCosts    float64
}

// Result is the gate verdict. Exactly one of Admitted/Refused applies:
// admitted results carry the executable order shape, refused results carry
// the first failing gate's reason.
type Result struct {
	Admitted        bool
	LimitPriceCents int
	Quantity        int
	Reason          types.ReasonCode
}

func admitted(limitCents, qty int) Result {
	return Result{Admitted: true, LimitPriceCents: limitCents, Quantity: qty}
}

func refused(reason types.ReasonCode) Result {
	return Result{Reason: reason}
}

// Check runs the three gates in order, short-circuiting on the first
// failure: spread, then liquidity, then minimum edge. Boundary values pass
// on every gate.
func Check(signal types.Signal, market types.MarketSnapshot, p Params) Result {
	if market.SpreadCents() > p.SpreadMaxCents {
		return refused(types.ReasonSpreadWide)
	}

	if min64(market.Volume, market.OpenInterest) < p.LiquidityMin {
		return refused(types.ReasonLowLiquidity)
	}
	oiFloor := int64(math.Ceil(float64(p.LiquidityMin) * p.MinLiquidityMultiple))
	if market.OpenInterest < oiFloor {
		return refused(types.ReasonLowLiquidity)
	}

	if math.Abs(signal.Edge) < p.MinEdgeAfterCosts {
		return refused(types.ReasonInsufficientEdge)
	}

	return admitted(signal.MaxPriceCents, signal.SizeHint)
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
