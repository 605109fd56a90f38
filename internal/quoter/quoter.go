// Package quoter implements component E: the inventory-aware, multi-level
// quote ladder. Pure computation, no I/O, no shared state — safe to call
// repeatedly from the market-maker loop's single goroutine.
package quoter

import (
	"github.com/shopspring/decimal"

	"permp-mm/pkg/types"
)

var (
	ten4               = decimal.NewFromInt(10000)
	momentumPenaltyGate = decimal.NewFromFloat(1.5)
	strongRatioGate     = decimal.NewFromFloat(0.9)
)

// levelWeights maps the configured number of ladder levels to the
// fractional size weight of each rung (spec.md §4.E level budget).
var levelWeights = map[int][]decimal.Decimal{
	1: {decimal.NewFromFloat(1.0)},
	2: {decimal.NewFromFloat(0.65), decimal.NewFromFloat(0.35)},
	3: {decimal.NewFromFloat(0.55), decimal.NewFromFloat(0.30), decimal.NewFromFloat(0.15)},
}

// Config holds the quoter's static tuning knobs (spec.md §4.E inputs).
type Config struct {
	BaseSpreadBps      decimal.Decimal
	MaxSpreadBps       decimal.Decimal
	VolMultiplier      decimal.Decimal
	SkewFactor         decimal.Decimal
	MaxPositionUSD     decimal.Decimal
	SizeReductionStart decimal.Decimal
	CloseThresholdUSD  decimal.Decimal
	Levels             int
	LevelSpacingBps    decimal.Decimal
	MomentumPenaltyBps decimal.Decimal
	MinSkewBps         decimal.Decimal
	OrderSizeUSD       decimal.Decimal
	TickSize           decimal.Decimal
	LotSize            decimal.Decimal
	MakerFeeBps        decimal.Decimal
}

// Input bundles the per-tick market/position state the quoter needs.
type Input struct {
	Fair          decimal.Decimal
	PositionUSD   decimal.Decimal // signed
	VolatilityBps decimal.Decimal
	HasVolatility bool
	MomentumBps   decimal.Decimal
	BBO           types.BBO
	AllowedSides  []types.Side // nil/empty means both sides allowed
}

// SkewedMid computes the inventory-skewed mid price alone, without
// building a full ladder. Used by the market-maker loop to decide
// whether a reprice is material enough to bother reconciling
// (spec.md §9, reprice_threshold_bps).
func SkewedMid(cfg Config, in Input) decimal.Decimal {
	positionRatio := clamp(in.PositionUSD.Div(cfg.MaxPositionUSD), decimal.NewFromInt(-1), decimal.NewFromInt(1))
	volBasis := cfg.BaseSpreadBps
	if in.HasVolatility {
		volBasis = in.VolatilityBps
	}
	volEff := decimal.Max(volBasis, cfg.MinSkewBps)
	skewBps := cfg.SkewFactor.Mul(positionRatio).Mul(volEff)
	return in.Fair.Mul(decimal.NewFromInt(1).Sub(skewBps.Div(ten4)))
}

// Quote computes the desired quote ladder for one tick. The result may be
// empty if every candidate quote is clamped away.
func Quote(cfg Config, in Input) []types.Quote {
	positionRatio := clamp(in.PositionUSD.Div(cfg.MaxPositionUSD), decimal.NewFromInt(-1), decimal.NewFromInt(1))

	volBasis := cfg.BaseSpreadBps
	if in.HasVolatility {
		volBasis = in.VolatilityBps
	}
	volEff := decimal.Max(volBasis, cfg.MinSkewBps)

	skewBps := cfg.SkewFactor.Mul(positionRatio).Mul(volEff)
	skewedMid := in.Fair.Mul(decimal.NewFromInt(1).Sub(skewBps.Div(ten4)))

	spreadFloor := decimal.Max(cfg.BaseSpreadBps, decimal.NewFromInt(2).Mul(cfg.MakerFeeBps))
	spreadBps := clamp(cfg.BaseSpreadBps.Add(cfg.VolMultiplier.Mul(volEff)), spreadFloor, cfg.MaxSpreadBps)

	bidPenalty, askPenalty := decimal.Zero, decimal.Zero
	if in.MomentumBps.Abs().GreaterThan(momentumPenaltyGate) {
		penalty := cfg.MomentumPenaltyBps.Mul(in.MomentumBps.Abs()).Div(decimal.NewFromInt(5))
		if in.MomentumBps.IsPositive() {
			bidPenalty = penalty
		} else {
			askPenalty = penalty
		}
	}

	baseSize := floorToStep(cfg.OrderSizeUSD.Div(in.Fair), cfg.LotSize)
	bidMult, askMult := sizeMultipliers(cfg, positionRatio, in.PositionUSD)

	allowed := allowedSet(in.AllowedSides)
	weights := levelWeights[cfg.Levels]

	var quotes []types.Quote
	for level, weight := range weights {
		if allowed(types.Bid) {
			price := skewedMid.Mul(decimal.NewFromInt(1).Sub(levelSpreadBps(spreadBps, bidPenalty, cfg.LevelSpacingBps, level).Div(ten4)))
			price = floorToStep(price, cfg.TickSize)
			size := floorToStep(baseSize.Mul(bidMult).Mul(weight), cfg.LotSize)
			if q, ok := clampBBO(types.Bid, price, size, in.BBO, cfg.TickSize); ok {
				quotes = append(quotes, q)
			}
		}
		if allowed(types.Ask) {
			price := skewedMid.Mul(decimal.NewFromInt(1).Add(levelSpreadBps(spreadBps, askPenalty, cfg.LevelSpacingBps, level).Div(ten4)))
			price = ceilToStep(price, cfg.TickSize)
			size := floorToStep(baseSize.Mul(askMult).Mul(weight), cfg.LotSize)
			if q, ok := clampBBO(types.Ask, price, size, in.BBO, cfg.TickSize); ok {
				quotes = append(quotes, q)
			}
		}
	}
	return quotes
}

func levelSpreadBps(spreadBps, penalty, levelSpacingBps decimal.Decimal, level int) decimal.Decimal {
	return spreadBps.Add(penalty).Add(levelSpacingBps.Mul(decimal.NewFromInt(int64(level))))
}

// sizeMultipliers implements the size-shaping ramp, hard caps, and
// adding/reducing side identification of spec.md §4.E.
func sizeMultipliers(cfg Config, positionRatio, positionUSD decimal.Decimal) (bidMult, askMult decimal.Decimal) {
	r := positionRatio.Abs()
	addingIsBid := !positionRatio.IsNegative() // long or flat -> buying adds

	addMult := decimal.NewFromInt(1)
	reduceMult := decimal.NewFromInt(1)

	if r.GreaterThan(cfg.SizeReductionStart) {
		span := decimal.NewFromInt(1).Sub(cfg.SizeReductionStart)
		var rho decimal.Decimal
		if span.IsPositive() {
			rho = r.Sub(cfg.SizeReductionStart).Div(span)
		}
		addMult = decimal.Max(decimal.Zero, decimal.NewFromInt(1).Sub(decimal.NewFromFloat(0.8).Mul(rho)))
		reduceMult = decimal.NewFromInt(1).Add(decimal.NewFromFloat(0.3).Mul(rho))
	}
	if r.GreaterThan(strongRatioGate) {
		addMult = decimal.Zero
	}
	if positionUSD.Abs().GreaterThanOrEqual(cfg.CloseThresholdUSD) {
		addMult = decimal.Zero
	}

	if addingIsBid {
		return addMult, reduceMult
	}
	return reduceMult, addMult
}

func allowedSet(sides []types.Side) func(types.Side) bool {
	if len(sides) == 0 {
		return func(types.Side) bool { return true }
	}
	set := make(map[types.Side]bool, len(sides))
	for _, s := range sides {
		set[s] = true
	}
	return func(s types.Side) bool { return set[s] }
}

// clampBBO applies the BBO non-crossing clamp and drops non-positive
// quotes.
func clampBBO(side types.Side, price, size decimal.Decimal, bbo types.BBO, tick decimal.Decimal) (types.Quote, bool) {
	if bbo.Valid {
		if side == types.Bid && price.GreaterThanOrEqual(bbo.BestAsk) {
			price = floorToStep(bbo.BestAsk.Sub(tick), tick)
		}
		if side == types.Ask && price.LessThanOrEqual(bbo.BestBid) {
			price = ceilToStep(bbo.BestBid.Add(tick), tick)
		}
	}
	if price.LessThanOrEqual(decimal.Zero) || size.LessThanOrEqual(decimal.Zero) {
		return types.Quote{}, false
	}
	return types.Quote{Side: side, Price: price, Size: size}, true
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

func floorToStep(x, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return x
	}
	return x.Div(step).Floor().Mul(step)
}

func ceilToStep(x, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return x
	}
	return x.Div(step).Ceil().Mul(step)
}
