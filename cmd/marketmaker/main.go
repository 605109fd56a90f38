// Command marketmaker runs the automated perpetual-futures market maker:
// an inventory-aware quoting loop that estimates a fair price from a
// venue's order book and an external reference feed, shapes a multi-level
// quote ladder around it, and keeps the venue's resting orders
// reconciled against that ladder while tracking FIFO-cost-basis PnL and
// risk halts.
//
// Architecture:
//
//	main.go                 — entry point: loads config, wires adapters, waits for SIGINT/SIGTERM
//	internal/loop           — orchestrator: the single-goroutine quote-and-reconcile loop
//	internal/fairprice      — median-offset fair price estimator
//	internal/signal         — volatility and momentum trackers
//	internal/quoter         — inventory-aware multi-level quote ladder
//	internal/reconciler     — diffs resting orders against the desired ladder, executes in atomic chunks
//	internal/position       — signed position ledger with periodic drift correction
//	internal/pnl            — FIFO cost-basis PnL and risk-halt state machine
//	internal/venue          — REST/WebSocket adapters and rate limiting for the trading venue
//	internal/tradelog       — append-only per-day JSONL fill/snapshot recorder
//	internal/metrics        — Prometheus instrumentation
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"permp-mm/internal/config"
	"permp-mm/internal/loop"
	"permp-mm/internal/pnl"
	"permp-mm/internal/quoter"
	"permp-mm/internal/tradelog"
	"permp-mm/internal/venue"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("MM_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("metrics server started", "addr", cfg.Metrics.Addr)
	}

	recorder, err := tradelog.New(cfg.TradeLog.DataDir, cfg.Market.Symbol)
	if err != nil {
		logger.Error("failed to create trade log recorder", "error", err)
		os.Exit(1)
	}
	defer recorder.Close()

	rest := venue.NewRESTClient(cfg.Venue.RESTBaseURL, cfg.Venue.ApiKey)
	priceFeed := venue.NewWSFeed(cfg.Venue.WSPriceURL, logger)
	bookFeed := venue.NewWSFeed(cfg.Venue.WSBookURL, logger)
	accountFeed := venue.NewWSFeed(cfg.Venue.WSAccountURL, logger)

	quoterCfg, err := buildQuoterConfig(cfg.Market, cfg.Quoter, cfg.Risk)
	if err != nil {
		logger.Error("invalid quoter configuration", "error", err)
		os.Exit(1)
	}
	riskCfg := pnl.Config{
		MaxDrawdownUSD:    decimal.NewFromFloat(cfg.Risk.MaxDrawdownUSD),
		MaxPositionUSD:    decimal.NewFromFloat(cfg.Risk.MaxPositionUSD),
		DailyLossLimitUSD: decimal.NewFromFloat(cfg.Risk.DailyLossLimitUSD),
	}
	sigCfg := loop.SignalConfig{
		VolatilityWindowSeconds: cfg.Quoter.VolatilityWindowSeconds,
		VolatilityMinSamples:    cfg.Quoter.VolatilityMinSamples,
		MomentumPeriodSeconds:   cfg.Quoter.MomentumPeriodSeconds,
		MomentumStrongBps:       decimal.NewFromFloat(cfg.Quoter.MomentumStrongBps),
	}

	maker := loop.New(
		cfg.Market.MarketID,
		cfg.Market.Symbol,
		rest,
		priceFeed,
		bookFeed.AsBookStream(),
		accountFeed.AsAccountStream(),
		recorder,
		logger,
		quoterCfg,
		riskCfg,
		cfg.Timing,
		sigCfg,
	)

	if cfg.DryRun {
		logger.Warn("dry_run is set but not applied: orders are still sent to the venue")
	}

	logger.Info("market maker started",
		"market", cfg.Market.MarketID,
		"symbol", cfg.Market.Symbol,
		"order_size_usd", cfg.Quoter.OrderSizeUSD,
		"max_position_usd", cfg.Risk.MaxPositionUSD,
		"dry_run", cfg.DryRun,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := maker.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("market maker loop exited unexpectedly", "error", err)
		os.Exit(1)
	}

	logger.Info("market maker stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildQuoterConfig translates the YAML-facing float/string config into
// quoter.Config's decimal-exact fields. MaxPositionUSD is shared with the
// risk ledger: it is the same inventory cap, just consumed as the
// position-ratio denominator here instead of a halt threshold.
func buildQuoterConfig(market config.MarketConfig, q config.QuoterConfig, risk config.RiskConfig) (quoter.Config, error) {
	tick, err := decimal.NewFromString(market.TickSize)
	if err != nil {
		return quoter.Config{}, fmt.Errorf("market.tick_size: %w", err)
	}
	lot, err := decimal.NewFromString(market.LotSize)
	if err != nil {
		return quoter.Config{}, fmt.Errorf("market.lot_size: %w", err)
	}

	return quoter.Config{
		BaseSpreadBps:      decimal.NewFromFloat(q.BaseSpreadBps),
		MaxSpreadBps:       decimal.NewFromFloat(q.MaxSpreadBps),
		VolMultiplier:      decimal.NewFromFloat(q.VolMultiplier),
		SkewFactor:         decimal.NewFromFloat(q.SkewFactor),
		MaxPositionUSD:     decimal.NewFromFloat(risk.MaxPositionUSD),
		SizeReductionStart: decimal.NewFromFloat(q.SizeReductionStart),
		CloseThresholdUSD:  decimal.NewFromFloat(q.CloseThresholdUSD),
		Levels:             q.Levels,
		LevelSpacingBps:    decimal.NewFromFloat(q.LevelSpacingBps),
		MomentumPenaltyBps: decimal.NewFromFloat(q.MomentumPenaltyBps),
		MinSkewBps:         decimal.NewFromFloat(q.MinSkewBps),
		OrderSizeUSD:       decimal.NewFromFloat(q.OrderSizeUSD),
		TickSize:           tick,
		LotSize:            lot,
		MakerFeeBps:        decimal.NewFromFloat(q.MakerFeeBps),
	}, nil
}
