package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"kalshi-weather-trader/internal/analytics"
	"kalshi-weather-trader/internal/config"
	"kalshi-weather-trader/internal/exchange"
	"kalshi-weather-trader/internal/gates"
	"kalshi-weather-trader/internal/loop"
	"kalshi-weather-trader/internal/market"
	"kalshi-weather-trader/internal/oms"
	"kalshi-weather-trader/internal/publicview"
	"kalshi-weather-trader/internal/repo"
	"kalshi-weather-trader/internal/risk"
	"kalshi-weather-trader/internal/strategy"
	"kalshi-weather-trader/internal/weather"
	"kalshi-weather-trader/pkg/types"
)

var confirmLive bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the trading loop",
	RunE:  runTrader,
}

func init() {
	runCmd.Flags().BoolVar(&confirmLive, "confirm-live", false,
		"required acknowledgement for LIVE mode order submission")
}

func runTrader(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Mode == types.ModeLive && !confirmLive {
		return types.Ef(types.KindConfig,
			"LIVE mode submits real orders; rerun with --confirm-live to proceed")
	}

	logger := newLogger(cfg)
	logger.Info("starting trader",
		"mode", string(cfg.Mode),
		"bankroll", cfg.Bankroll,
		"cycle_interval", cfg.Loop.CycleInterval,
	)

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

	// Startup reconciliation before the first cycle; shadow operation has
	// no exchange-side orders to align with.
	if cfg.Mode != types.ModeShadow {
		balCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		balance, err := deps.client.GetBalance(balCtx)
		cancel()
		if err != nil {
			return err
		}
		logger.Info("exchange balance", "dollars", balance.StringFixed(2))

		if err := deps.manager.ReconcileStartup(ctx); err != nil {
			return err
		}
	}

	if deps.feed != nil {
		go func() {
			if err := deps.feed.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("fills feed stopped", "error", err)
			}
		}()
		go deps.manager.PumpFills(ctx, deps.feed.Fills())
	}

	if cfg.Public.Enabled {
		server := publicview.NewServer(store, cfg.Public.ListenAddr, cfg.Public.Delay, logger)
		go func() {
			if err := server.Run(ctx); err != nil {
				logger.Error("public view stopped", "error", err)
			}
		}()
	}

	c := cron.New()
	roller := analytics.NewRoller(store, cfg.BankrollDec(), logger)
	if err := roller.Schedule(c); err != nil {
		return types.E(types.KindFatalInternal, err)
	}
	c.Start()
	defer c.Stop()

	tradingLoop := loop.New(cfg, store, deps.weather, deps.markets, deps.strat, deps.riskEng, deps.manager, logger)
	if err := tradingLoop.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// components bundles the wired dependency graph for a command.
type components struct {
	client  *exchange.Client
	manager *oms.Manager
	feed    *exchange.FillsFeed
	weather *weather.Provider
	markets *market.Provider
	strat   strategy.Strategy
	riskEng *risk.Engine
}

func buildComponents(cfg *config.Config, store *repo.Store, logger *slog.Logger) (*components, error) {
	var auth *exchange.Auth
	if cfg.Mode != types.ModeShadow {
		a, err := exchange.NewAuth(cfg.Exchange.APIKeyID, cfg.Exchange.PrivateKeyPath)
		if err != nil {
			return nil, err
		}
		auth = a
	}

	readOnly := cfg.Mode == types.ModeShadow
	client := exchange.NewClient(
		cfg.Exchange.EndpointFor(cfg.Mode),
		auth,
		cfg.Exchange.RatePerSec,
		cfg.Exchange.RequestTimeout,
		readOnly,
		logger,
	)

	var feed *exchange.FillsFeed
	if auth != nil && cfg.Exchange.WSURL != "" {
		feed = exchange.NewFillsFeed(cfg.Exchange.WSURL, auth, logger)
	}

	weatherClient := weather.NewClient(
		cfg.Weather.BaseURL,
		cfg.Weather.UserAgent,
		cfg.Weather.RatePerSec,
		cfg.Weather.RequestTimeout,
		logger,
	)
	weatherProvider := weather.NewProvider(
		weatherClient,
		cfg.Weather.CacheTTL,
		cfg.Weather.StaleCeiling,
		cfg.Strategy.DefaultStddevF,
		logger,
	)

	marketProvider := market.NewProvider(client, logger)

	strat := strategy.NewDailyHigh(strategy.DailyHighParams{
		MaxUncertainty:  cfg.Strategy.MaxUncertainty,
		MinEdge:         cfg.Gates.MinEdgeAfterCosts,
		Bankroll:        cfg.Bankroll,
		MaxTradeRiskPct: cfg.Risk.MaxTradeRiskPct,
		MaxContracts:    cfg.Risk.MaxTradeContracts,
	})

	riskEng := risk.NewEngine(risk.Params{
		Bankroll:              cfg.BankrollDec(),
		MaxTradeRiskPct:       cfg.Risk.MaxTradeRiskPct,
		MaxCityExposurePct:    cfg.Risk.MaxCityExposurePct,
		MaxClusterExposurePct: cfg.Risk.MaxClusterExposurePct,
		MaxDailyLossPct:       cfg.Risk.MaxDailyLossPct,
		MaxTradeContracts:     cfg.Risk.MaxTradeContracts,
		RejectBurstCount:      cfg.Risk.RejectBurstCount,
		RejectBurstWindow:     cfg.Risk.RejectBurstWindow,
	}, logger)

	manager := oms.NewManager(client, store, gates.Params{
		SpreadMaxCents:       cfg.Gates.SpreadMaxCents,
		LiquidityMin:         cfg.Gates.LiquidityMin,
		MinLiquidityMultiple: cfg.Gates.MinLiquidityMultiple,
		MinEdgeAfterCosts:    cfg.Gates.MinEdgeAfterCosts,
	}, oms.Policy{
		RepriceInterval: cfg.OMS.RepriceInterval,
		MaxChaseCents:   cfg.OMS.MaxChaseCents,
	}, cfg.Mode == types.ModeShadow, logger)

	return &components{
		client:  client,
		manager: manager,
		feed:    feed,
		weather: weatherProvider,
		markets: marketProvider,
		strat:   strat,
		riskEng: riskEng,
	}, nil
}
