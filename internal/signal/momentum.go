package signal

import "github.com/shopspring/decimal"

// Momentum maintains an exponential moving average of signed bp mid
// returns, sampled once per second (spec.md §4.B). alpha = 2/(period+1).
type Momentum struct {
	alpha              decimal.Decimal
	strongThresholdBps decimal.Decimal

	ema     decimal.Decimal
	haveEMA bool

	lastMid      decimal.Decimal
	haveLastMid  bool
	lastSlot     int64
	haveLastSlot bool
}

// NewMomentum creates a tracker with the given EMA period (seconds) and
// the bp threshold above which IsStrong reports true.
func NewMomentum(periodSeconds int, strongThresholdBps decimal.Decimal) *Momentum {
	if periodSeconds < 1 {
		periodSeconds = 1
	}
	alpha := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(periodSeconds) + 1))
	return &Momentum{alpha: alpha, strongThresholdBps: strongThresholdBps}
}

// AddMid records a mid-price observation, deduped to once per second. The
// first observed mid only seeds the return series. The first return seeds
// the EMA directly; the second onward updates it.
func (m *Momentum) AddMid(timestampMS int64, mid decimal.Decimal) {
	slot := timestampMS / sampleSlotMS
	if m.haveLastSlot && slot <= m.lastSlot {
		return
	}
	m.lastSlot = slot
	m.haveLastSlot = true

	if m.haveLastMid && !m.lastMid.IsZero() {
		ret := mid.Sub(m.lastMid).Div(m.lastMid).Mul(decimal.NewFromInt(bp))
		if !m.haveEMA {
			m.ema = ret
			m.haveEMA = true
		} else {
			m.ema = m.alpha.Mul(ret).Add(decimal.NewFromInt(1).Sub(m.alpha).Mul(m.ema))
		}
	}
	m.lastMid = mid
	m.haveLastMid = true
}

// Value returns the current EMA of bp returns, or ok=false before the
// first return has been observed.
func (m *Momentum) Value() (decimal.Decimal, bool) {
	return m.ema, m.haveEMA
}

// IsStrong reports whether |ema| exceeds the configured strong threshold.
func (m *Momentum) IsStrong() bool {
	return m.haveEMA && m.ema.Abs().GreaterThan(m.strongThresholdBps)
}
