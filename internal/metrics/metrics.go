// Package metrics exposes Prometheus instrumentation for the
// market-making loop: fills, reconciler actions, halts, and PnL gauges.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "permp_mm",
		Name:      "fills_total",
		Help:      "Total fills processed, by market and side.",
	}, []string{"market", "side"})

	ReconcileActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "permp_mm",
		Name:      "reconcile_actions_total",
		Help:      "Total reconciler actions submitted, by market and type.",
	}, []string{"market", "type"})

	ReconcileChunkErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "permp_mm",
		Name:      "reconcile_chunk_errors_total",
		Help:      "Total recovered reconciler chunk errors, by market and category.",
	}, []string{"market", "category"})

	MarginRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "permp_mm",
		Name:      "margin_rejections_total",
		Help:      "Total consecutive-counted margin rejections, by market.",
	}, []string{"market"})

	HaltsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "permp_mm",
		Name:      "halts_total",
		Help:      "Total risk halts triggered, by market and reason.",
	}, []string{"market", "reason"})

	RealizedPnLUSD = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "permp_mm",
		Name:      "realized_pnl_usd",
		Help:      "Cumulative realized PnL in USD, by market.",
	}, []string{"market"})

	UnrealizedPnLUSD = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "permp_mm",
		Name:      "unrealized_pnl_usd",
		Help:      "Current unrealized PnL in USD, by market.",
	}, []string{"market"})

	PositionBase = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "permp_mm",
		Name:      "position_base",
		Help:      "Current signed base-size position, by market.",
	}, []string{"market"})

	DrawdownUSD = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "permp_mm",
		Name:      "drawdown_usd",
		Help:      "Current drawdown from peak PnL in USD, by market.",
	}, []string{"market"})
)
