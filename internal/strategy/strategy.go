// Package strategy scores contracts against the weather model.
//
// Strategies are pure: Evaluate depends only on its arguments and returns an
// identical Signal for identical inputs. They never consult execution
// quality; spread and liquidity are the gate layer's business.
package strategy

import (
	"time"

	"kalshi-weather-trader/pkg/types"
)

// Strategy scores one (weather, market) pair into a Signal.
type Strategy interface {
	Name() string
	Evaluate(weather types.WeatherSnapshot, market types.MarketSnapshot, now time.Time) types.Signal
}

// hold builds a HOLD signal carrying the given reasons.
func hold(name string, weather types.WeatherSnapshot, market types.MarketSnapshot, now time.Time, reasons ...types.ReasonCode) types.Signal {
	return types.Signal{
		CityCode:     weather.CityCode,
		Ticker:       market.Ticker,
		StrategyName: name,
		Action:       types.ActionHold,
		Reasons:      reasons,
		CreatedAt:    now,
	}
}
