// Package position implements component C: the signed base-size position
// ledger. Optimistic fill updates and the periodic authoritative sync run
// on the market-maker loop's goroutine; forced syncs and per-tick quoting
// reads run on other goroutines started by the loop, so the ledger is
// guarded by a mutex (Design Note
// "single-owner actor, except ledgers touched by background sync").
package position

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"permp-mm/pkg/types"
)

// driftThreshold is the maximum allowed |local - server| before a sync
// adopts the server value and logs drift (spec.md §4.C).
var driftThreshold = decimal.New(1, -4)

// syncBaseDelay and syncRetries parameterize the bounded exponential
// backoff used by Sync (base 500ms, 3 retries).
const (
	syncBaseDelay = 500 * time.Millisecond
	syncRetries   = 3
)

// FetchFunc retrieves the venue's authoritative signed position for one
// market.
type FetchFunc func(ctx context.Context) (decimal.Decimal, error)

// QuotingContext is the bundle a quoter needs to know what it's allowed
// to quote this tick.
type QuotingContext struct {
	Fair         decimal.Decimal
	State        string // "normal" | "close"
	AllowedSides []types.Side
}

// Ledger tracks the signed base_size position for one market.
type Ledger struct {
	mu                sync.Mutex
	baseSize          decimal.Decimal
	closeThresholdUSD decimal.Decimal
}

// New creates a position ledger. closeThresholdUSD is the absolute
// notional above which the ledger enters close mode (spec.md §4.E's
// close_threshold_usd, consumed here per the Position Ledger's
// is_close_mode predicate).
func New(closeThresholdUSD decimal.Decimal) *Ledger {
	return &Ledger{closeThresholdUSD: closeThresholdUSD}
}

// Seed sets the initial base size, e.g. from the venue's pre-existing
// position at startup.
func (l *Ledger) Seed(base decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.baseSize = base
}

// ApplyFill optimistically updates the position for a fill on this
// market: +size for bid fills, -size for ask fills.
func (l *Ledger) ApplyFill(side types.Side, size decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if side == types.Bid {
		l.baseSize = l.baseSize.Add(size)
	} else {
		l.baseSize = l.baseSize.Sub(size)
	}
}

// BaseSize returns the current signed position.
func (l *Ledger) BaseSize() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.baseSize
}

// Sync fetches the venue's authoritative position with bounded
// exponential backoff (base 500ms, 3 retries). If the discrepancy
// exceeds driftThreshold, the server value is adopted and drift is
// logged.
func (l *Ledger) Sync(ctx context.Context, fetch FetchFunc, logger *slog.Logger) error {
	var (
		server decimal.Decimal
		err    error
	)

	delay := syncBaseDelay
	for attempt := 0; attempt <= syncRetries; attempt++ {
		server, err = fetch(ctx)
		if err == nil {
			break
		}
		if attempt == syncRetries {
			return fmt.Errorf("position sync: exhausted retries: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	l.Adopt(server, logger)
	return nil
}

// Adopt compares server against the local position and, if the drift
// exceeds driftThreshold, adopts the server value and logs the drift.
// Exposed separately from Sync so a caller that already has a fresh
// authoritative read (e.g. from a force-sync fetch_info call) doesn't
// need to issue a second fetch.
func (l *Ledger) Adopt(server decimal.Decimal, logger *slog.Logger) {
	l.mu.Lock()
	local := l.baseSize
	drifted := local.Sub(server).Abs().GreaterThan(driftThreshold)
	if drifted {
		l.baseSize = server
	}
	l.mu.Unlock()

	if drifted && logger != nil {
		logger.Warn("position drift detected", "local", local.String(), "server", server.String())
	}
}

// IsCloseMode reports whether the absolute notional at fair reaches or
// exceeds the configured close threshold.
func (l *Ledger) IsCloseMode(fair decimal.Decimal) bool {
	base := l.BaseSize()
	if base.IsZero() {
		return false
	}
	notional := base.Abs().Mul(fair)
	return notional.GreaterThanOrEqual(l.closeThresholdUSD)
}

// QuotingContext returns the fair price, state, and allowed sides for
// this tick. In close mode, only the reducing side may be quoted: ask if
// long, bid if short.
func (l *Ledger) QuotingContext(fair decimal.Decimal) QuotingContext {
	base := l.BaseSize()
	if !l.IsCloseMode(fair) {
		return QuotingContext{Fair: fair, State: "normal", AllowedSides: []types.Side{types.Bid, types.Ask}}
	}

	reducing := types.Ask
	if base.IsNegative() {
		reducing = types.Bid
	}
	return QuotingContext{Fair: fair, State: "close", AllowedSides: []types.Side{reducing}}
}
