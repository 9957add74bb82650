// Package oms owns order lifecycle: deterministic intent keys, the validated
// order state machine, idempotent placement with bounded cancel/replace, and
// reconciliation against the exchange.
package oms

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"kalshi-weather-trader/pkg/types"
)

// validNext is the full transition table. Anything absent is invalid.
var validNext = map[types.OrderStatus][]types.OrderStatus{
	types.OrderNew:       {types.OrderSubmitted, types.OrderRejected},
	types.OrderSubmitted: {types.OrderResting, types.OrderPartial, types.OrderFilled, types.OrderRejected, types.OrderCanceled},
	types.OrderResting:   {types.OrderPartial, types.OrderFilled, types.OrderCanceled},
	types.OrderPartial:   {types.OrderFilled, types.OrderCanceled},
	types.OrderFilled:    {types.OrderClosed},
	types.OrderCanceled:  nil,
	types.OrderRejected:  nil,
	types.OrderClosed:    nil,
}

// ValidTransition reports whether from → to is permitted.
func ValidTransition(from, to types.OrderStatus) bool {
	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the order to the new status, or returns an
// INVALID_TRANSITION error without mutating the order.
func Transition(order *types.Order, to types.OrderStatus) error {
	if !ValidTransition(order.Status, to) {
		return types.Ef(types.KindInvalidTransition,
			"order %s: %s -> %s", order.ClientOrderID, order.Status, to)
	}
	order.Status = to
	return nil
}

// IntentKey derives the deterministic identity of a trade intent: the hex
// sha256 of the canonical tuple. Two runs that reach the same decision
// always produce the same key.
func IntentKey(cityCode, ticker string, side types.Side, strategyName, eventDate string) string {
	canonical := strings.Join([]string{cityCode, ticker, string(side), strategyName, eventDate}, "|")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// ClientOrderID combines intent key and version into the exchange-visible
// idempotency token.
func ClientOrderID(intentKey string, version int) string {
	return fmt.Sprintf("%s#%d", intentKey, version)
}
