// Package pnl implements component D: FIFO cost-basis PnL accounting and
// the risk-halt state machine. Owned by the market-maker loop; guarded by
// a mutex because the loop's tick goroutine seeds it and reads its halt
// state while fills, status logs and snapshots reach it from the goroutine
// running the loop (Design Note "single-owner actor, except ledgers touched
// by background sync").
package pnl

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"permp-mm/pkg/types"
)

// Config holds the three risk-halt thresholds (spec.md §4.D).
type Config struct {
	MaxDrawdownUSD    decimal.Decimal
	MaxPositionUSD    decimal.Decimal
	DailyLossLimitUSD decimal.Decimal
}

const (
	haltReasonDrawdown  = "Max drawdown exceeded"
	haltReasonPosition  = "max position exceeded"
	haltReasonDailyLoss = "daily loss limit"
)

// State is a point-in-time snapshot returned by GetState, suitable for
// status logs and the periodic trade-log snapshot record.
type State struct {
	Position      decimal.Decimal
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Drawdown      decimal.Decimal
	Peak          decimal.Decimal
	Halted        bool
	HaltReason    string
	WinCount      int
	LossCount     int
	TradeCount    int
	VolumeUSD     decimal.Decimal
}

// FillOutcome is what ApplyFill reports back to the caller for trade
// logging (spec.md §6 FillRecord).
type FillOutcome struct {
	RealizedFillPnL    decimal.Decimal
	CumulativeRealized decimal.Decimal
	State              State
	HaltedNow          bool // became halted as a direct result of this fill
}

// Ledger is a single-market FIFO cost-basis PnL and risk ledger.
type Ledger struct {
	mu sync.Mutex

	cfg Config

	seeded       bool
	positionBase decimal.Decimal
	costBasis    decimal.Decimal // |positionBase| * avgEntry

	realizedPnL decimal.Decimal
	dailyPnL    decimal.Decimal
	peak        decimal.Decimal
	volumeUSD   decimal.Decimal
	winCount    int
	lossCount   int
	tradeCount  int

	currentDay string // UTC "2006-01-02"

	halted     bool
	haltReason string
}

// New creates an unseeded ledger with the given risk thresholds.
func New(cfg Config) *Ledger {
	return &Ledger{cfg: cfg}
}

// Seed initializes the ledger from the venue's pre-existing position at
// startup so that initial unrealized PnL is approximately zero.
func (l *Ledger) Seed(serverPos, entryPrice decimal.Decimal, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.positionBase = serverPos
	l.costBasis = serverPos.Abs().Mul(entryPrice)
	l.currentDay = utcDay(now)
	l.seeded = true
}

// Seeded reports whether Seed has been called.
func (l *Ledger) Seeded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seeded
}

func utcDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// avgEntryLocked returns the average entry price implied by the current
// cost basis and position. Caller must hold l.mu.
func (l *Ledger) avgEntryLocked() decimal.Decimal {
	if l.positionBase.IsZero() {
		return decimal.Zero
	}
	return l.costBasis.Div(l.positionBase.Abs())
}

// unrealizedLocked computes unrealized PnL at fair F. Caller must hold l.mu.
func (l *Ledger) unrealizedLocked(fair decimal.Decimal) decimal.Decimal {
	if l.positionBase.IsZero() {
		return decimal.Zero
	}
	avgEntry := l.avgEntryLocked()
	if l.positionBase.IsPositive() {
		return l.positionBase.Mul(fair.Sub(avgEntry))
	}
	return l.positionBase.Abs().Mul(avgEntry.Sub(fair))
}

// ApplyFill runs the fill-accounting procedure of spec.md §4.D: day
// rollover, open/close classification, cost-basis update, realized PnL
// accumulation, and risk evaluation.
func (l *Ledger) ApplyFill(side types.Side, price, size decimal.Decimal, fair decimal.Decimal, now time.Time) FillOutcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rolloverIfNeededLocked(now)

	delta := size
	if side == types.Ask {
		delta = size.Neg()
	}

	var realizedFill decimal.Decimal
	opening := l.positionBase.IsZero() || sameSign(l.positionBase, delta)

	if opening {
		l.costBasis = l.costBasis.Add(size.Mul(price))
		l.positionBase = l.positionBase.Add(delta)
	} else {
		avgEntry := l.avgEntryLocked()
		closingSize := decimal.Min(size, l.positionBase.Abs())

		if l.positionBase.IsPositive() {
			realizedFill = closingSize.Mul(price.Sub(avgEntry))
		} else {
			realizedFill = closingSize.Mul(avgEntry.Sub(price))
		}

		// Move position toward zero by closingSize.
		if l.positionBase.IsPositive() {
			l.positionBase = l.positionBase.Sub(closingSize)
		} else {
			l.positionBase = l.positionBase.Add(closingSize)
		}
		l.costBasis = l.positionBase.Abs().Mul(avgEntry)

		remainder := size.Sub(closingSize)
		if remainder.IsPositive() {
			l.positionBase = l.positionBase.Add(signOf(delta).Mul(remainder))
			l.costBasis = l.positionBase.Abs().Mul(price)
		}
	}

	l.tradeCount++
	l.volumeUSD = l.volumeUSD.Add(size.Mul(price))
	if !opening {
		l.realizedPnL = l.realizedPnL.Add(realizedFill)
		l.dailyPnL = l.dailyPnL.Add(realizedFill)
		switch {
		case realizedFill.IsPositive():
			l.winCount++
		case realizedFill.IsNegative():
			l.lossCount++
		}
	}

	wasHalted := l.halted
	l.evaluateRiskLocked(fair)

	return FillOutcome{
		RealizedFillPnL:    realizedFill,
		CumulativeRealized: l.realizedPnL,
		State:              l.stateLocked(fair),
		HaltedNow:          l.halted && !wasHalted,
	}
}

// signOf returns 1 or -1 as a decimal depending on d's sign; zero maps to 1.
func signOf(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

func sameSign(a, b decimal.Decimal) bool {
	return a.Sign() == b.Sign()
}

// rolloverIfNeededLocked zeroes daily_pnl and clears a daily-loss halt on
// UTC date change. Caller must hold l.mu.
func (l *Ledger) rolloverIfNeededLocked(now time.Time) {
	day := utcDay(now)
	if l.currentDay == "" {
		l.currentDay = day
		return
	}
	if day == l.currentDay {
		return
	}
	l.currentDay = day
	l.dailyPnL = decimal.Zero
	if l.halted && l.haltReason == haltReasonDailyLoss {
		l.halted = false
		l.haltReason = ""
	}
}

// evaluateRiskLocked updates peak/drawdown and, if not already halted
// (sticky halt), checks the three halt conditions. Caller must hold l.mu.
func (l *Ledger) evaluateRiskLocked(fair decimal.Decimal) {
	unrealized := l.unrealizedLocked(fair)
	total := l.realizedPnL.Add(unrealized)
	if total.GreaterThan(l.peak) {
		l.peak = total
	}
	drawdown := l.peak.Sub(total)
	if drawdown.IsNegative() {
		drawdown = decimal.Zero
	}

	if l.halted {
		return
	}

	positionUSD := l.positionBase.Mul(fair).Abs()

	switch {
	case drawdown.GreaterThanOrEqual(l.cfg.MaxDrawdownUSD) && l.cfg.MaxDrawdownUSD.IsPositive():
		l.halted = true
		l.haltReason = haltReasonDrawdown
	case positionUSD.GreaterThanOrEqual(l.cfg.MaxPositionUSD) && l.cfg.MaxPositionUSD.IsPositive():
		l.halted = true
		l.haltReason = haltReasonPosition
	case l.dailyPnL.Add(unrealized).LessThanOrEqual(l.cfg.DailyLossLimitUSD.Neg()) && l.cfg.DailyLossLimitUSD.IsPositive():
		l.halted = true
		l.haltReason = haltReasonDailyLoss
	}
}

// stateLocked builds a State snapshot. Caller must hold l.mu.
func (l *Ledger) stateLocked(fair decimal.Decimal) State {
	unrealized := l.unrealizedLocked(fair)
	total := l.realizedPnL.Add(unrealized)
	drawdown := l.peak.Sub(total)
	if drawdown.IsNegative() {
		drawdown = decimal.Zero
	}
	return State{
		Position:      l.positionBase,
		RealizedPnL:   l.realizedPnL,
		UnrealizedPnL: unrealized,
		Drawdown:      drawdown,
		Peak:          l.peak,
		Halted:        l.halted,
		HaltReason:    l.haltReason,
		WinCount:      l.winCount,
		LossCount:     l.lossCount,
		TradeCount:    l.tradeCount,
		VolumeUSD:     l.volumeUSD,
	}
}

// GetState recomputes peak/drawdown at the given fair price and returns a
// snapshot. Also re-evaluates the risk halt conditions.
func (l *Ledger) GetState(fair decimal.Decimal) State {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evaluateRiskLocked(fair)
	return l.stateLocked(fair)
}

// ManualReset clears a non-daily-loss halt. No-op if not halted or if
// the halt reason is the daily loss limit (which only clears at UTC
// rollover).
func (l *Ledger) ManualReset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.halted || l.haltReason == haltReasonDailyLoss {
		return
	}
	l.halted = false
	l.haltReason = ""
}

// IsHalted reports the current halt state.
func (l *Ledger) IsHalted() (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.halted, l.haltReason
}
