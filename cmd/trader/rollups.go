package main

import (
	"time"

	"github.com/spf13/cobra"

	"kalshi-weather-trader/internal/analytics"
	"kalshi-weather-trader/internal/repo"
	"kalshi-weather-trader/pkg/types"
)

var rollupDay string

var rollupsCmd = &cobra.Command{
	Use:   "rollups",
	Short: "Regenerate analytics aggregates for one day",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		day := time.Now().UTC().AddDate(0, 0, -1)
		if rollupDay != "" {
			day, err = time.Parse("2006-01-02", rollupDay)
			if err != nil {
				return types.Ef(types.KindConfig, "--day must be YYYY-MM-DD: %v", err)
			}
		}

		store, err := repo.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		roller := analytics.NewRoller(store, cfg.BankrollDec(), logger)
		return roller.RollupDay(day)
	},
}

func init() {
	rollupsCmd.Flags().StringVar(&rollupDay, "day", "", "day to roll up (YYYY-MM-DD, default yesterday)")
}
