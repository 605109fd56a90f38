// Package signal implements component B: rolling volatility and momentum
// trackers over basis-point mid returns, sampled at most once per second.
// Both trackers are owned exclusively by the market-maker loop's single
// goroutine; neither performs I/O or locking.
package signal

import (
	"math/big"

	"github.com/shopspring/decimal"

	"permp-mm/internal/ringbuf"
)

const sampleSlotMS = 1000

const bp = 10000

// Volatility computes the Bessel-corrected sample standard deviation of
// basis-point mid returns over a trailing window_seconds, sampled once per
// second (spec.md §4.B).
type Volatility struct {
	buf          *ringbuf.Buffer[decimal.Decimal]
	minSamples   int
	lastMid      decimal.Decimal
	haveLastMid  bool
	lastSlot     int64
	haveLastSlot bool
}

// NewVolatility creates a tracker over the given window in seconds,
// reporting ok=false from Value until minSamples returns (and at least
// two) exist.
func NewVolatility(windowSeconds, minSamples int) *Volatility {
	if windowSeconds < 1 {
		windowSeconds = 1
	}
	return &Volatility{
		buf:        ringbuf.New[decimal.Decimal](windowSeconds),
		minSamples: minSamples,
	}
}

// AddMid records a mid-price observation. Calls within the same 1-second
// slot are ignored (enforces the once-per-second sampling cadence). The
// first observed mid only seeds the return series; it produces no sample.
func (v *Volatility) AddMid(timestampMS int64, mid decimal.Decimal) {
	slot := timestampMS / sampleSlotMS
	if v.haveLastSlot && slot <= v.lastSlot {
		return
	}
	v.lastSlot = slot
	v.haveLastSlot = true

	if v.haveLastMid && !v.lastMid.IsZero() {
		ret := mid.Sub(v.lastMid).Div(v.lastMid).Mul(decimal.NewFromInt(bp))
		v.buf.Push(ret)
	}
	v.lastMid = mid
	v.haveLastMid = true
}

// Value returns the Bessel-corrected (n-1) sample standard deviation of
// the bp return series, or ok=false if fewer than minSamples exist or
// fewer than two (the n-1 divisor needs two).
func (v *Volatility) Value() (decimal.Decimal, bool) {
	n := v.buf.Len()
	if n < v.minSamples || n < 2 {
		return decimal.Zero, false
	}

	var sum decimal.Decimal
	v.buf.ForEach(func(r decimal.Decimal) { sum = sum.Add(r) })
	mean := sum.Div(decimal.NewFromInt(int64(n)))

	var sumSq decimal.Decimal
	v.buf.ForEach(func(r decimal.Decimal) {
		d := r.Sub(mean)
		sumSq = sumSq.Add(d.Mul(d))
	})
	variance := sumSq.Div(decimal.NewFromInt(int64(n - 1)))
	return decimalSqrt(variance), true
}

// decimalSqrt computes a square root accurate to decimal.DivisionPrecision
// via math/big's Float.Sqrt, since shopspring/decimal has no native Sqrt.
func decimalSqrt(d decimal.Decimal) decimal.Decimal {
	if d.Sign() <= 0 {
		return decimal.Zero
	}
	bf := new(big.Float).SetPrec(128)
	bf.SetString(d.String())
	bf.Sqrt(bf)
	out, _ := decimal.NewFromString(bf.Text('f', decimal.DivisionPrecision))
	return out
}
