package gates

import (
	"testing"

	"kalshi-weather-trader/pkg/types"
)

func testGateParams() Params {
	return Params{
		SpreadMaxCents:       4,
		LiquidityMin:         500,
		MinLiquidityMultiple: 5.0,
		MinEdgeAfterCosts:    0.03,
	}
}

func testSignal() types.Signal {
	return types.Signal{
		CityCode:      "NYC",
		Ticker:        "KXHIGHNY-26FEB10-B70",
		Action:        types.ActionBuy,
		Side:          types.SideYes,
		Edge:          0.283,
		MaxPriceCents: 71,
		SizeHint:      27,
	}
}

func liquidMarket() types.MarketSnapshot {
	return types.MarketSnapshot{
		Ticker:       "KXHIGHNY-26FEB10-B70",
		YesBid:       45,
		YesAsk:       48,
		NoBid:        52,
		NoAsk:        55,
		HasQuotes:    true,
		Volume:       1200,
		OpenInterest: 3000,
	}
}

func TestCheckAdmits(t *testing.T) {
	t.Parallel()
	res := Check(testSignal(), liquidMarket(), testGateParams())
	if !res.Admitted {
		t.Fatalf("refused with reason %v, want admitted", res.Reason)
	}
	if res.LimitPriceCents != 71 || res.Quantity != 27 {
		t.Errorf("admitted (%d, %d), want (71, 27)", res.LimitPriceCents, res.Quantity)
	}
}

func TestSpreadBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		yesAsk int
		admit  bool
	}{
		{"spread equal to max passes", 49, true}, // 49-45 = 4
		{"spread one over max fails", 50, false}, // 50-45 = 5
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := liquidMarket()
			m.YesAsk = tt.yesAsk
			res := Check(testSignal(), m, testGateParams())
			if res.Admitted != tt.admit {
				t.Errorf("admitted = %v, want %v", res.Admitted, tt.admit)
			}
			if !tt.admit && res.Reason != types.ReasonSpreadWide {
				t.Errorf("reason = %v, want SPREAD_WIDE", res.Reason)
			}
		})
	}
}

func TestLiquidityGate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		volume int64
		oi     int64
		admit  bool
	}{
		{"both at floor", 500, 2500, true},
		{"volume below floor", 499, 3000, false},
		{"open interest below multiple", 1200, 2499, false},
		{"open interest below floor", 600, 499, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := liquidMarket()
			m.Volume = tt.volume
			m.OpenInterest = tt.oi
			res := Check(testSignal(), m, testGateParams())
			if res.Admitted != tt.admit {
				t.Errorf("admitted = %v, want %v", res.Admitted, tt.admit)
			}
			if !tt.admit && res.Reason != types.ReasonLowLiquidity {
				t.Errorf("reason = %v, want LOW_LIQUIDITY", res.Reason)
			}
		})
	}
}

func TestEdgeBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		edge  float64
		admit bool
	}{
		{"edge at minimum passes", 0.03, true},
		{"edge a hair below fails", 0.0299, false},
		{"negative edge magnitude counts", -0.05, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sig := testSignal()
			sig.Edge = tt.edge
			res := Check(sig, liquidMarket(), testGateParams())
			if res.Admitted != tt.admit {
				t.Errorf("admitted = %v, want %v", res.Admitted, tt.admit)
			}
			if !tt.admit && res.Reason != types.ReasonInsufficientEdge {
				t.Errorf("reason = %v, want INSUFFICIENT_EDGE", res.Reason)
			}
		})
	}
}

// Short-circuit order: a market failing both spread and liquidity reports
// the spread reason.
func TestGateOrder(t *testing.T) {
	t.Parallel()
	m := liquidMarket()
	m.YesAsk = 60
	m.Volume = 10
	res := Check(testSignal(), m, testGateParams())
	if res.Admitted {
		t.Fatal("expected refusal")
	}
	if res.Reason != types.ReasonSpreadWide {
		t.Errorf("reason = %v, want SPREAD_WIDE (spread gate runs first)", res.Reason)
	}
}
