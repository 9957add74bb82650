package cities

import (
	"testing"

	"kalshi-weather-trader/pkg/types"
)

func TestRegistryComplete(t *testing.T) {
	t.Parallel()

	all := All()
	if len(all) != 10 {
		t.Fatalf("registry has %d cities, want 10", len(all))
	}
	for _, c := range all {
		if c.Cluster == "" {
			t.Errorf("%s has no cluster", c.Code)
		}
		if c.Grid.Office == "" || c.SettlementStation == "" || c.SeriesTicker == "" {
			t.Errorf("%s is missing grid/station/series", c.Code)
		}
		if c.Timezone == "" {
			t.Errorf("%s has no timezone", c.Code)
		}
	}
}

func TestClusterMembership(t *testing.T) {
	t.Parallel()

	want := map[string]types.Cluster{
		"NYC": types.ClusterNE,
		"PHL": types.ClusterNE,
		"BOS": types.ClusterNE,
		"MIA": types.ClusterSE,
		"AUS": types.ClusterSE,
		"CHI": types.ClusterMidwest,
		"DEN": types.ClusterMountain,
		"LAX": types.ClusterWest,
		"SEA": types.ClusterWest,
		"SFO": types.ClusterWest,
	}
	for code, cluster := range want {
		if got := ClusterOf(code); got != cluster {
			t.Errorf("ClusterOf(%s) = %v, want %v", code, got, cluster)
		}
	}
	if ClusterOf("XXX") != "" {
		t.Error("unknown code should have empty cluster")
	}
}

func TestGetUnknown(t *testing.T) {
	t.Parallel()
	if _, err := Get("ATL"); err == nil {
		t.Error("expected error for unlisted city")
	}
}

func TestAllSorted(t *testing.T) {
	t.Parallel()
	codes := Codes()
	for i := 1; i < len(codes); i++ {
		if codes[i-1] >= codes[i] {
			t.Fatalf("codes not sorted: %v", codes)
		}
	}
}
