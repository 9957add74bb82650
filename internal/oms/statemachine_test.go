package oms

import (
	"strings"
	"testing"

	"kalshi-weather-trader/pkg/types"
)

func TestValidTransitions(t *testing.T) {
	t.Parallel()

	allowed := []struct{ from, to types.OrderStatus }{
		{types.OrderNew, types.OrderSubmitted},
		{types.OrderNew, types.OrderRejected},
		{types.OrderSubmitted, types.OrderResting},
		{types.OrderSubmitted, types.OrderPartial},
		{types.OrderSubmitted, types.OrderFilled},
		{types.OrderSubmitted, types.OrderRejected},
		{types.OrderSubmitted, types.OrderCanceled},
		{types.OrderResting, types.OrderPartial},
		{types.OrderResting, types.OrderFilled},
		{types.OrderResting, types.OrderCanceled},
		{types.OrderPartial, types.OrderFilled},
		{types.OrderPartial, types.OrderCanceled},
		{types.OrderFilled, types.OrderClosed},
	}
	for _, tr := range allowed {
		if !ValidTransition(tr.from, tr.to) {
			t.Errorf("%s -> %s should be valid", tr.from, tr.to)
		}
	}

	denied := []struct{ from, to types.OrderStatus }{
		{types.OrderNew, types.OrderResting},
		{types.OrderNew, types.OrderFilled},
		{types.OrderResting, types.OrderNew},
		{types.OrderResting, types.OrderRejected},
		{types.OrderFilled, types.OrderCanceled},
		{types.OrderCanceled, types.OrderResting},
		{types.OrderRejected, types.OrderSubmitted},
		{types.OrderClosed, types.OrderFilled},
	}
	for _, tr := range denied {
		if ValidTransition(tr.from, tr.to) {
			t.Errorf("%s -> %s should be invalid", tr.from, tr.to)
		}
	}
}

func TestTransitionDoesNotMutateOnFailure(t *testing.T) {
	t.Parallel()
	order := &types.Order{ClientOrderID: "abc#1", Status: types.OrderNew}

	err := Transition(order, types.OrderFilled)
	if err == nil {
		t.Fatal("expected invalid transition error")
	}
	if !types.IsKind(err, types.KindInvalidTransition) {
		t.Errorf("kind = %v, want InvalidTransition", types.KindOf(err))
	}
	if order.Status != types.OrderNew {
		t.Errorf("status mutated to %v on failed transition", order.Status)
	}
}

func TestTerminalStates(t *testing.T) {
	t.Parallel()
	for _, s := range []types.OrderStatus{types.OrderCanceled, types.OrderRejected, types.OrderClosed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
		if n := len(validNext[s]); n != 0 {
			t.Errorf("%s has %d outgoing transitions, want 0", s, n)
		}
	}
}

func TestIntentKeyStable(t *testing.T) {
	t.Parallel()

	a := IntentKey("NYC", "KXHIGHNY-26FEB10-B70", types.SideYes, "daily_high_temp", "2026-02-10")
	b := IntentKey("NYC", "KXHIGHNY-26FEB10-B70", types.SideYes, "daily_high_temp", "2026-02-10")
	if a != b {
		t.Error("identical tuples must produce identical keys")
	}
	if len(a) != 64 || strings.ToLower(a) != a {
		t.Errorf("key %q is not lowercase hex sha256", a)
	}

	if c := IntentKey("NYC", "KXHIGHNY-26FEB10-B70", types.SideNo, "daily_high_temp", "2026-02-10"); c == a {
		t.Error("different sides must produce different keys")
	}
}

func TestClientOrderID(t *testing.T) {
	t.Parallel()
	got := ClientOrderID("deadbeef", 3)
	if got != "deadbeef#3" {
		t.Errorf("ClientOrderID = %q, want deadbeef#3", got)
	}
}
