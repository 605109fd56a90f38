// Package loop implements component G: the market-maker loop that wires
// the fair price estimator, volatility/momentum trackers, position and
// PnL ledgers, quoter, and order reconciler together into one running
// market maker for a single instrument.
//
// The MarketMaker owns all ledger, signal and order-cache state. Stream
// events, fills and the periodic order/position sync, status and snapshot
// tasks are handled on the goroutine running Run; each throttled tick runs
// doTick on its own goroutine (at most one at a time), and forced syncs run
// on goroutines collapsed by singleflight. The order cache is read and
// written under mu; position.Ledger and pnl.Ledger carry their own locks.
package loop

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"permp-mm/internal/config"
	"permp-mm/internal/fairprice"
	"permp-mm/internal/metrics"
	"permp-mm/internal/pnl"
	"permp-mm/internal/position"
	"permp-mm/internal/quoter"
	"permp-mm/internal/reconciler"
	"permp-mm/internal/signal"
	"permp-mm/internal/throttle"
	"permp-mm/internal/tradelog"
	"permp-mm/internal/venue"
	"permp-mm/pkg/types"
)

const marginHaltWarnThreshold = 5

// MarketMaker runs the full quote-and-reconcile cycle for one market.
type MarketMaker struct {
	marketID string
	symbol   string

	rpc       venue.RPC
	priceFeed venue.PriceFeed
	book      venue.BookStream
	account   venue.AccountStream
	tradelog  *tradelog.Recorder
	logger    *slog.Logger

	quoterCfg quoter.Config
	timing    config.TimingConfig

	fair *fairprice.Estimator
	vol  *signal.Volatility
	mom  *signal.Momentum
	pos  *position.Ledger
	pnl  *pnl.Ledger

	throttle *throttle.Throttle
	syncFlt  singleflight.Group

	isUpdating atomic.Bool

	mu                 sync.Mutex
	cached             []types.CachedOrder
	currentBBO         types.BBO
	lastReferenceMid   decimal.Decimal
	haveReference      bool
	lastSkewedMid      decimal.Decimal
	haveLastSkewedMid  bool
	startedAt          time.Time
	marginRejections   int
	marginAlternateBid bool
	wasCloseMode       bool
}

// SignalConfig sizes the volatility/momentum trackers. Kept separate from
// quoter.Config because the two trackers are shared infrastructure, not
// quote-shaping parameters.
type SignalConfig struct {
	VolatilityWindowSeconds int
	VolatilityMinSamples    int
	MomentumPeriodSeconds   int
	MomentumStrongBps       decimal.Decimal
}

// New constructs a MarketMaker for one market.
func New(marketID, symbol string, rpc venue.RPC, priceFeed venue.PriceFeed, book venue.BookStream, account venue.AccountStream, recorder *tradelog.Recorder, logger *slog.Logger, quoterCfg quoter.Config, riskCfg pnl.Config, timing config.TimingConfig, sig SignalConfig) *MarketMaker {
	m := &MarketMaker{
		marketID:  marketID,
		symbol:    symbol,
		rpc:       rpc,
		priceFeed: priceFeed,
		book:      book,
		account:   account,
		tradelog:  recorder,
		logger:    logger,
		quoterCfg: quoterCfg,
		timing:    timing,
		fair:      fairprice.New(timing.FairPriceWindow.Milliseconds(), timing.FairPriceMinSamples),
		vol:       signal.NewVolatility(sig.VolatilityWindowSeconds, sig.VolatilityMinSamples),
		mom:       signal.NewMomentum(sig.MomentumPeriodSeconds, sig.MomentumStrongBps),
		pos:       position.New(quoterCfg.CloseThresholdUSD),
		pnl:       pnl.New(riskCfg),
	}
	m.throttle = throttle.New(timing.UpdateThrottle, func() { m.triggerTick() })
	return m
}

// Run subscribes to all venue streams and drives the market-maker loop
// until ctx is cancelled. It blocks.
func (m *MarketMaker) Run(ctx context.Context) error {
	m.startedAt = time.Now()

	priceCh, err := m.priceFeed.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe price feed: %w", err)
	}
	bookCh, err := m.book.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe book stream: %w", err)
	}
	fillCh, err := m.account.Subscribe(ctx, m.marketID)
	if err != nil {
		return fmt.Errorf("subscribe account stream: %w", err)
	}

	if info, err := m.rpc.FetchInfo(ctx, m.marketID); err == nil {
		m.mu.Lock()
		m.cached = toCachedOrders(info.Orders)
		m.mu.Unlock()
		m.pos.Seed(info.Position.Base)
	} else if m.logger != nil {
		m.logger.Warn("initial fetch_info failed, starting from empty state", "error", err)
	}

	if bbo, err := m.rpc.FetchBook(ctx, m.marketID); err == nil {
		m.mu.Lock()
		m.currentBBO = bbo
		m.mu.Unlock()
	} else if m.logger != nil {
		m.logger.Warn("initial fetch_book failed, waiting for book stream", "error", err)
	}

	orderSync := time.NewTicker(m.timing.OrderSyncInterval)
	positionSync := time.NewTicker(m.timing.PositionSyncInterval)
	status := time.NewTicker(m.timing.StatusInterval)
	snapshot := time.NewTicker(60 * time.Second)
	defer orderSync.Stop()
	defer positionSync.Stop()
	defer status.Stop()
	defer snapshot.Stop()

	for {
		select {
		case <-ctx.Done():
			m.throttle.Stop()
			m.cancelAllOrders(context.Background())
			return ctx.Err()

		case sample, ok := <-priceCh:
			if !ok {
				priceCh = nil
				continue
			}
			m.onReferenceTick(sample)

		case bbo, ok := <-bookCh:
			if !ok {
				bookCh = nil
				continue
			}
			m.mu.Lock()
			m.currentBBO = bbo
			m.mu.Unlock()

		case fill, ok := <-fillCh:
			if !ok {
				fillCh = nil
				continue
			}
			m.onFill(ctx, fill)

		case <-orderSync.C:
			m.syncOrders(ctx)

		case <-positionSync.C:
			_ = m.pos.Sync(ctx, func(ctx context.Context) (decimal.Decimal, error) {
				info, err := m.rpc.FetchInfo(ctx, m.marketID)
				if err != nil {
					return decimal.Zero, err
				}
				return info.Position.Base, nil
			}, m.logger)

		case <-status.C:
			m.logStatus()

		case <-snapshot.C:
			m.recordSnapshot()
		}
	}
}

// onReferenceTick feeds the fair price estimator and arms the throttle.
func (m *MarketMaker) onReferenceTick(sample types.PriceSample) {
	m.mu.Lock()
	m.lastReferenceMid = sample.Mid
	m.haveReference = true
	bbo := m.currentBBO
	m.mu.Unlock()

	if bbo.Valid {
		localMid := bbo.BestBid.Add(bbo.BestAsk).Div(decimal.NewFromInt(2))
		m.fair.AddSample(sample.TimestampMS, localMid, sample.Mid)
	}
	m.throttle.Trigger()
}

// triggerTick launches one tick under the re-entrancy guard. Overlapping
// throttle fires are dropped; the trailing edge will reissue.
func (m *MarketMaker) triggerTick() {
	if !m.isUpdating.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer m.isUpdating.Store(false)
		m.doTick(context.Background())
	}()
}

// doTick runs the per-tick procedure of spec.md §4.G.
func (m *MarketMaker) doTick(ctx context.Context) {
	m.mu.Lock()
	referenceMid := m.lastReferenceMid
	haveReference := m.haveReference
	m.mu.Unlock()
	if !haveReference {
		return
	}

	fair, ok := m.fair.FairPrice(time.Now().UnixMilli(), referenceMid)
	if !ok {
		return
	}

	if !m.pnl.Seeded() {
		m.pnl.Seed(m.pos.BaseSize(), fair, time.Now())
	}

	if halted, _ := m.pnl.IsHalted(); halted {
		return
	}

	m.mu.Lock()
	bbo := m.currentBBO
	m.mu.Unlock()

	qc := m.pos.QuotingContext(fair)
	positionUSD := m.pos.BaseSize().Mul(fair)

	now := time.Now().UnixMilli()
	m.vol.AddMid(now, fair)
	m.mom.AddMid(now, fair)
	volBps, hasVol := m.vol.Value()
	momBps, _ := m.mom.Value()

	input := quoter.Input{
		Fair:          fair,
		PositionUSD:   positionUSD,
		VolatilityBps: volBps,
		HasVolatility: hasVol,
		MomentumBps:   momBps,
		BBO:           bbo,
		AllowedSides:  qc.AllowedSides,
	}

	m.wasCloseModeSet(qc.State == "close")

	quotes := quoter.Quote(m.quoterCfg, input)
	quotes = m.applyMarginFallback(quotes, positionUSD)
	if len(quotes) == 0 {
		return
	}

	if m.shouldSkipReprice(m.quoterCfg, input) {
		return
	}

	m.mu.Lock()
	current := append([]types.CachedOrder{}, m.cached...)
	m.mu.Unlock()

	result, err := reconciler.Reconcile(ctx, m.executeChunk, m.logger, m.marketID, current, quotes)
	if err != nil {
		m.handleReconcileError(ctx, err, result)
		return
	}

	m.mu.Lock()
	m.cached = result.Orders
	m.lastSkewedMid = quoter.SkewedMid(m.quoterCfg, input)
	m.haveLastSkewedMid = true
	m.mu.Unlock()

	m.marginRejections = 0

	if result.HadChunkErrors {
		metrics.ReconcileChunkErrorsTotal.WithLabelValues(m.marketID, "recovered").Inc()
		go m.forceSync(ctx)
	}
}

// handleReconcileError classifies an error that escaped the reconciler
// (i.e. was not one of its own recoverable per-chunk categories) per
// spec.md §4.G step 8.
func (m *MarketMaker) handleReconcileError(ctx context.Context, err error, result reconciler.Result) {
	msg := err.Error()
	switch {
	case containsAny(msg, "OMF", "RISK_TRADE", "margin"):
		m.marginRejections++
		metrics.MarginRejectionsTotal.WithLabelValues(m.marketID).Inc()
		if m.marginRejections >= marginHaltWarnThreshold && m.logger != nil {
			m.logger.Error("sustained margin rejections, operator attention needed", "market", m.marketID, "count", m.marginRejections)
		}
		// Cache left untouched: we don't know what, if anything, landed.
	case containsAny(msg, "POST_ONLY", "MUST_NOT_FILL"):
		// Keep existing cache; next tick reprices.
	case containsAny(msg, "ORDER_NOT_FOUND"):
		m.mu.Lock()
		m.cached = result.Orders
		m.mu.Unlock()
		go m.forceSync(ctx)
	default:
		if m.logger != nil {
			m.logger.Error("reconcile failed", "market", m.marketID, "error", err)
		}
		m.mu.Lock()
		m.cached = result.Orders
		m.mu.Unlock()
		go m.forceSync(ctx)
	}
}

// shouldSkipReprice implements the stricter, skewed-mid interpretation of
// reprice_threshold_bps: skip reconciling if the freshly computed skewed
// mid is within threshold of the skewed mid baked into the currently
// cached order set.
func (m *MarketMaker) shouldSkipReprice(cfg quoter.Config, in quoter.Input) bool {
	if m.timing.RepriceThresholdBps <= 0 {
		return false
	}
	m.mu.Lock()
	have := m.haveLastSkewedMid
	last := m.lastSkewedMid
	m.mu.Unlock()
	if !have {
		return false
	}
	newMid := quoter.SkewedMid(cfg, in)
	if last.IsZero() {
		return false
	}
	driftBps := newMid.Sub(last).Div(last).Abs().Mul(decimal.NewFromInt(10000))
	return driftBps.LessThan(decimal.NewFromFloat(m.timing.RepriceThresholdBps))
}

// applyMarginFallback degrades the quote set when margin rejections have
// been observed recently (spec.md §4.G Margin fallback).
func (m *MarketMaker) applyMarginFallback(quotes []types.Quote, positionUSD decimal.Decimal) []types.Quote {
	if m.marginRejections < 1 {
		return quotes
	}

	var bestBid, bestAsk *types.Quote
	for i := range quotes {
		q := quotes[i]
		if q.Side == types.Bid && (bestBid == nil || q.Price.GreaterThan(bestBid.Price)) {
			bestBid = &quotes[i]
		}
		if q.Side == types.Ask && (bestAsk == nil || q.Price.LessThan(bestAsk.Price)) {
			bestAsk = &quotes[i]
		}
	}

	var reduced []types.Quote
	if bestBid != nil {
		reduced = append(reduced, *bestBid)
	}
	if bestAsk != nil {
		reduced = append(reduced, *bestAsk)
	}

	if m.marginRejections < 2 {
		return reduced
	}

	if positionUSD.IsZero() {
		m.marginAlternateBid = !m.marginAlternateBid
		side := types.Ask
		if m.marginAlternateBid {
			side = types.Bid
		}
		for _, q := range reduced {
			if q.Side == side {
				return []types.Quote{q}
			}
		}
		return nil
	}

	reducingSide := types.Ask
	if positionUSD.IsNegative() {
		reducingSide = types.Bid
	}
	for _, q := range reduced {
		if q.Side == reducingSide {
			return []types.Quote{q}
		}
	}
	return nil
}

// onFill implements the fill-handling procedure of spec.md §4.G. Fills
// without a venue-assigned TradeID (some venues omit it on REST-polled
// fills) get a locally generated one so operators can still correlate
// the fill across the status log and the trade-log record.
func (m *MarketMaker) onFill(ctx context.Context, fill types.Fill) {
	if fill.TradeID == "" {
		fill.TradeID = uuid.NewString()
	}
	wasClose := m.wasCloseModeGet()

	m.pos.ApplyFill(fill.Side, fill.Size)
	go m.forceSync(ctx)

	fair, ok := m.fair.FairPrice(time.Now().UnixMilli(), m.currentReferenceMid())
	if !ok {
		fair = fill.Price
	}
	outcome := m.pnl.ApplyFill(fill.Side, fill.Price, fill.Size, fair, time.Now())
	metrics.FillsTotal.WithLabelValues(m.marketID, string(fill.Side)).Inc()
	metrics.PositionBase.WithLabelValues(m.marketID).Set(toFloat(outcome.State.Position))
	metrics.RealizedPnLUSD.WithLabelValues(m.marketID).Set(toFloat(outcome.State.RealizedPnL))
	metrics.UnrealizedPnLUSD.WithLabelValues(m.marketID).Set(toFloat(outcome.State.UnrealizedPnL))
	metrics.DrawdownUSD.WithLabelValues(m.marketID).Set(toFloat(outcome.State.Drawdown))
	if outcome.HaltedNow {
		metrics.HaltsTotal.WithLabelValues(m.marketID, outcome.State.HaltReason).Inc()
	}

	if m.tradelog != nil {
		rec := types.FillRecord{
			Timestamp:          fill.Timestamp,
			Symbol:             m.symbol,
			TradeID:            fill.TradeID,
			Side:               fill.Side,
			Price:              fill.Price,
			Size:               fill.Size,
			SizeUSD:            fill.Size.Mul(fill.Price),
			PositionAfter:      outcome.State.Position,
			PositionUSDAfter:   outcome.State.Position.Mul(fair),
			RealizedPnL:        outcome.RealizedFillPnL,
			CumulativeRealized: outcome.CumulativeRealized,
			UnrealizedPnL:      outcome.State.UnrealizedPnL,
			FairPrice:          fair,
			Mode:               "normal",
		}
		if m.pos.IsCloseMode(fair) {
			rec.Mode = "close"
		}
		if err := m.tradelog.RecordFill(rec); err != nil && m.logger != nil {
			m.logger.Warn("record fill failed", "error", err)
		}
	}

	if outcome.HaltedNow {
		m.cancelAllOrders(ctx)
	}

	isClose := m.pos.IsCloseMode(fair)
	m.wasCloseModeSet(isClose)
	if isClose && !wasClose {
		m.cancelAllOrders(ctx)
	}
}

func (m *MarketMaker) currentReferenceMid() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReferenceMid
}

func (m *MarketMaker) wasCloseModeGet() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wasCloseMode
}

func (m *MarketMaker) wasCloseModeSet(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wasCloseMode = v
}

// syncOrders replaces the cached order set with an authoritative fetch.
func (m *MarketMaker) syncOrders(ctx context.Context) {
	info, err := m.rpc.FetchInfo(ctx, m.marketID)
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("order sync failed", "error", err)
		}
		return
	}
	m.mu.Lock()
	m.cached = toCachedOrders(info.Orders)
	m.mu.Unlock()
}

// forceSync collapses concurrent force-sync requests (e.g. from a fill
// and a chunk error landing at nearly the same time) into one fetch_info
// call via singleflight.
func (m *MarketMaker) forceSync(ctx context.Context) {
	_, _, _ = m.syncFlt.Do(m.marketID, func() (interface{}, error) {
		info, err := m.rpc.FetchInfo(ctx, m.marketID)
		if err != nil {
			if m.logger != nil {
				m.logger.Warn("forced sync failed", "error", err)
			}
			return nil, err
		}
		m.mu.Lock()
		m.cached = toCachedOrders(info.Orders)
		m.mu.Unlock()
		m.pos.Adopt(info.Position.Base, m.logger)
		return nil, nil
	})
}

// cancelAllOrders reconciles the cache against an empty desired set,
// cancelling every resting order.
func (m *MarketMaker) cancelAllOrders(ctx context.Context) {
	m.mu.Lock()
	current := append([]types.CachedOrder{}, m.cached...)
	m.mu.Unlock()
	if len(current) == 0 {
		return
	}
	result, err := reconciler.Reconcile(ctx, m.executeChunk, m.logger, m.marketID, current, nil)
	if err != nil && m.logger != nil {
		m.logger.Error("cancel-all failed", "market", m.marketID, "error", err)
	}
	m.mu.Lock()
	m.cached = result.Orders
	m.mu.Unlock()
}

func (m *MarketMaker) executeChunk(ctx context.Context, marketID string, actions []types.Action) ([]types.ActionResult, error) {
	for _, a := range actions {
		switch a.(type) {
		case types.PlaceAction:
			metrics.ReconcileActionsTotal.WithLabelValues(m.marketID, "place").Inc()
		case types.CancelAction:
			metrics.ReconcileActionsTotal.WithLabelValues(m.marketID, "cancel").Inc()
		}
	}
	return m.rpc.Execute(ctx, marketID, actions)
}

func (m *MarketMaker) logStatus() {
	if m.logger == nil {
		return
	}
	fair, _ := m.fair.FairPrice(time.Now().UnixMilli(), m.currentReferenceMid())
	state := m.pnl.GetState(fair)
	metrics.PositionBase.WithLabelValues(m.marketID).Set(toFloat(state.Position))
	metrics.RealizedPnLUSD.WithLabelValues(m.marketID).Set(toFloat(state.RealizedPnL))
	metrics.UnrealizedPnLUSD.WithLabelValues(m.marketID).Set(toFloat(state.UnrealizedPnL))
	metrics.DrawdownUSD.WithLabelValues(m.marketID).Set(toFloat(state.Drawdown))
	m.logger.Info("status",
		"market", m.marketID,
		"fair", fair.String(),
		"position", state.Position.String(),
		"realized_pnl", state.RealizedPnL.String(),
		"unrealized_pnl", state.UnrealizedPnL.String(),
		"halted", state.Halted,
	)
}

func (m *MarketMaker) recordSnapshot() {
	if m.tradelog == nil {
		return
	}
	fair, _ := m.fair.FairPrice(time.Now().UnixMilli(), m.currentReferenceMid())
	state := m.pnl.GetState(fair)
	rec := types.SnapshotRecord{
		Timestamp:     time.Now(),
		Symbol:        m.symbol,
		Position:      state.Position,
		RealizedPnL:   state.RealizedPnL,
		UnrealizedPnL: state.UnrealizedPnL,
		Drawdown:      state.Drawdown,
		PeakPnL:       state.Peak,
		WinCount:      state.WinCount,
		LossCount:     state.LossCount,
		TradeCount:    state.TradeCount,
		VolumeUSD:     state.VolumeUSD,
		Halted:        state.Halted,
		HaltReason:    state.HaltReason,
	}
	if err := m.tradelog.RecordSnapshot(rec); err != nil && m.logger != nil {
		m.logger.Warn("record snapshot failed", "error", err)
	}
}

func toCachedOrders(orders []types.OpenOrderInfo) []types.CachedOrder {
	out := make([]types.CachedOrder, len(orders))
	for i, o := range orders {
		out[i] = types.CachedOrder{OrderID: o.OrderID, Side: o.Side, Price: o.Price, Size: o.Size}
	}
	return out
}

func containsAny(msg string, substrs ...string) bool {
	for _, s := range substrs {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// toFloat converts a decimal to float64 for Prometheus gauges, which are
// inherently float-valued. Precision loss here is cosmetic: the ledgers
// themselves remain decimal-exact.
func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
