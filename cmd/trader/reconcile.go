package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"kalshi-weather-trader/internal/repo"
	"kalshi-weather-trader/pkg/types"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "One-shot startup reconciliation against the exchange",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Mode == types.ModeShadow {
			return types.Ef(types.KindConfig, "reconcile requires PAPER or LIVE mode")
		}
		logger := newLogger(cfg)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := repo.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		deps, err := buildComponents(cfg, store, logger)
		if err != nil {
			return err
		}

		if err := deps.manager.ReconcileStartup(ctx); err != nil {
			return err
		}
		applied, err := deps.manager.ReconcileFills(ctx)
		if err != nil {
			return err
		}
		logger.Info("reconciliation complete", "fills_applied", applied)
		return nil
	},
}
