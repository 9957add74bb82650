// Package cities is the static registry of the ten traded cities.
//
// Each entry carries the forecast gridpoint, the settlement station the
// exchange resolves against, and the correlation cluster used for
// cluster-level exposure caps. The registry is fixed at compile time;
// trading an unlisted city is a configuration error, not a runtime surprise.
package cities

import (
	"fmt"
	"sort"

	"kalshi-weather-trader/pkg/types"
)

// registry enumerates every tradeable city. Cluster membership is explicit
// for all ten cities.
var registry = map[string]types.CityConfig{
	"NYC": {
		Code: "NYC", DisplayName: "New York City", Timezone: "America/New_York",
		Cluster: types.ClusterNE, Grid: types.ForecastGrid{Office: "OKX", X: 33, Y: 35},
		SettlementStation: "KNYC", SeriesTicker: "KXHIGHNY",
	},
	"PHL": {
		Code: "PHL", DisplayName: "Philadelphia", Timezone: "America/New_York",
		Cluster: types.ClusterNE, Grid: types.ForecastGrid{Office: "PHI", X: 49, Y: 75},
		SettlementStation: "KPHL", SeriesTicker: "KXHIGHPHIL",
	},
	"BOS": {
		Code: "BOS", DisplayName: "Boston", Timezone: "America/New_York",
		Cluster: types.ClusterNE, Grid: types.ForecastGrid{Office: "BOX", X: 71, Y: 90},
		SettlementStation: "KBOS", SeriesTicker: "KXHIGHBOS",
	},
	"MIA": {
		Code: "MIA", DisplayName: "Miami", Timezone: "America/New_York",
		Cluster: types.ClusterSE, Grid: types.ForecastGrid{Office: "MFL", X: 110, Y: 50},
		SettlementStation: "KMIA", SeriesTicker: "KXHIGHMIA",
	},
	"AUS": {
		Code: "AUS", DisplayName: "Austin", Timezone: "America/Chicago",
		Cluster: types.ClusterSE, Grid: types.ForecastGrid{Office: "EWX", X: 156, Y: 91},
		SettlementStation: "KAUS", SeriesTicker: "KXHIGHAUS",
	},
	"CHI": {
		Code: "CHI", DisplayName: "Chicago", Timezone: "America/Chicago",
		Cluster: types.ClusterMidwest, Grid: types.ForecastGrid{Office: "LOT", X: 65, Y: 76},
		SettlementStation: "KMDW", SeriesTicker: "KXHIGHCHI",
	},
	"DEN": {
		Code: "DEN", DisplayName: "Denver", Timezone: "America/Denver",
		Cluster: types.ClusterMountain, Grid: types.ForecastGrid{Office: "BOU", X: 62, Y: 61},
		SettlementStation: "KDEN", SeriesTicker: "KXHIGHDEN",
	},
	"LAX": {
		Code: "LAX", DisplayName: "Los Angeles", Timezone: "America/Los_Angeles",
		Cluster: types.ClusterWest, Grid: types.ForecastGrid{Office: "LOX", X: 154, Y: 44},
		SettlementStation: "KLAX", SeriesTicker: "KXHIGHLAX",
	},
	"SEA": {
		Code: "SEA", DisplayName: "Seattle", Timezone: "America/Los_Angeles",
		Cluster: types.ClusterWest, Grid: types.ForecastGrid{Office: "SEW", X: 124, Y: 67},
		SettlementStation: "KSEA", SeriesTicker: "KXHIGHSEA",
	},
	"SFO": {
		Code: "SFO", DisplayName: "San Francisco", Timezone: "America/Los_Angeles",
		Cluster: types.ClusterWest, Grid: types.ForecastGrid{Office: "MTR", X: 85, Y: 105},
		SettlementStation: "KSFO", SeriesTicker: "KXHIGHSFO",
	},
}

// Get returns the registry entry for a city code.
func Get(code string) (types.CityConfig, error) {
	c, ok := registry[code]
	if !ok {
		return types.CityConfig{}, fmt.Errorf("unknown city code %q", code)
	}
	return c, nil
}

// All returns every city in stable (code-sorted) order.
func All() []types.CityConfig {
	out := make([]types.CityConfig, 0, len(registry))
	for _, c := range registry {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Codes returns the sorted city codes.
func Codes() []string {
	all := All()
	codes := make([]string, len(all))
	for i, c := range all {
		codes[i] = c.Code
	}
	return codes
}

// ClusterOf returns the cluster for a city code, or empty for unknown codes.
func ClusterOf(code string) types.Cluster {
	if c, ok := registry[code]; ok {
		return c.Cluster
	}
	return ""
}
