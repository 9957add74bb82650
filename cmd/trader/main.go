// Command trader runs the weather-contract trading agent.
//
// Exit codes: 0 normal shutdown, 1 configuration error, 2 reconciliation
// mismatch, 3 fatal exchange-auth or internal failure.
package main

import (
	"fmt"
	"os"

	"kalshi-weather-trader/pkg/types"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch types.KindOf(err) {
	case types.KindConfig:
		return 1
	case types.KindReconcileMismatch:
		return 2
	case types.KindAuth, types.KindFatalInternal:
		return 3
	default:
		return 1
	}
}
