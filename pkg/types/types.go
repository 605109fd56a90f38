// Package types defines the shared vocabulary used across all packages of
// the market-making core: sides, quotes, fills, cached orders, and the
// venue-facing action/result shapes. It has no dependencies on internal
// packages so it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or fill.
type Side string

const (
	Bid Side = "bid"
	Ask Side = "ask"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// FillMode mirrors the venue's order lifecycle modes. This core only ever
// places post-only orders (spec.md §4.F).
type FillMode string

const (
	FillModePostOnly FillMode = "post_only"
)

// PriceSample is one observation from an asynchronous price stream:
// {timestamp_ms, mid, best_bid, best_ask} per spec.md §3.
type PriceSample struct {
	TimestampMS int64
	Mid         decimal.Decimal
	BestBid     decimal.Decimal
	BestAsk     decimal.Decimal
}

// BBO is the venue's current best bid / best offer, read fresh each tick.
type BBO struct {
	BestBid decimal.Decimal
	BestAsk decimal.Decimal
	Valid   bool
}

// Quote is one rung of the desired quote ladder: {side, price, size},
// tick/lot aligned per spec.md §3.
type Quote struct {
	Side  Side
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Fill is a single execution reported by the venue's account stream:
// {market_id, side, price, size} per spec.md §6.
type Fill struct {
	MarketID  string
	Side      Side
	Price     decimal.Decimal
	Size      decimal.Decimal
	TradeID   string
	Timestamp time.Time
}

// CachedOrder is a resting order the core believes exists on the venue.
// Owned exclusively by the order reconciler; mutated only by successful
// atomic-op results or periodic sync (spec.md §3, invariant I1).
type CachedOrder struct {
	OrderID string
	Side    Side
	Price   decimal.Decimal
	Size    decimal.Decimal
}

// Action is the sum type for a single venue sub-action: either placing a
// new order or cancelling an existing one. Modeled as a tagged variant
// (Design Note "Dynamic quote object -> tagged variant") via the unexported
// isAction marker method, rather than an untagged struct with a string
// discriminator field.
type Action interface {
	isAction()
}

// PlaceAction requests a new post-only, non-reduce-only order.
type PlaceAction struct {
	MarketID   string
	Side       Side
	Price      decimal.Decimal
	Size       decimal.Decimal
	FillMode   FillMode
	ReduceOnly bool
}

func (PlaceAction) isAction() {}

// CancelAction requests cancellation of a resting order by ID.
type CancelAction struct {
	OrderID string
}

func (CancelAction) isAction() {}

// ActionResult is the venue's response to one submitted Action. For a
// successful PlaceAction, OrderID carries the venue-assigned order ID.
type ActionResult struct {
	Success bool
	OrderID string
	Err     error
}

// AccountPosition is the venue's authoritative view of the account's
// position in this market, returned by fetch_info (spec.md §6).
type AccountPosition struct {
	MarketID string
	Base     decimal.Decimal // signed, positive = long
}

// OpenOrderInfo is the venue's authoritative view of one resting order,
// returned by fetch_info (spec.md §6).
type OpenOrderInfo struct {
	OrderID string
	Side    Side
	Price   decimal.Decimal
	Size    decimal.Decimal
}

// VenueInfo is the result of fetch_info: the account's open orders and
// position for this market.
type VenueInfo struct {
	Orders   []OpenOrderInfo
	Position AccountPosition
}

// FillRecord is the produced event shape for the trade logger (spec.md §6).
type FillRecord struct {
	Timestamp           time.Time       `json:"timestamp"`
	Epoch               int64           `json:"epoch"`
	Symbol              string          `json:"symbol"`
	TradeID             string          `json:"trade_id"`
	Side                Side            `json:"side"`
	Price               decimal.Decimal `json:"price"`
	Size                decimal.Decimal `json:"size"`
	SizeUSD             decimal.Decimal `json:"size_usd"`
	PositionAfter       decimal.Decimal `json:"position_after"`
	PositionUSDAfter    decimal.Decimal `json:"position_usd_after"`
	RealizedPnL         decimal.Decimal `json:"realized_pnl"`
	CumulativeRealized  decimal.Decimal `json:"cumulative_realized_pnl"`
	UnrealizedPnL       decimal.Decimal `json:"unrealized_pnl"`
	FairPrice           decimal.Decimal `json:"fair_price"`
	Mode                string          `json:"mode"` // "normal" | "close"
	SpreadBps           decimal.Decimal `json:"spread_bps"`
}

// SnapshotRecord is the produced event shape emitted every 60s (spec.md §6).
type SnapshotRecord struct {
	Timestamp     time.Time       `json:"timestamp"`
	Symbol        string          `json:"symbol"`
	Position      decimal.Decimal `json:"position"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	Drawdown      decimal.Decimal `json:"drawdown"`
	PeakPnL       decimal.Decimal `json:"peak_pnl"`
	WinCount      int             `json:"win_count"`
	LossCount     int             `json:"loss_count"`
	TradeCount    int             `json:"trade_count"`
	VolumeUSD     decimal.Decimal `json:"volume_usd"`
	Halted        bool            `json:"halted"`
	HaltReason    string          `json:"halt_reason,omitempty"`
}
