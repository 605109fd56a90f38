// Package fairprice implements component A of the market-making core: a
// median-offset fusion of two asynchronous mid-price streams (the venue's
// own book and a reference feed) into a single drift-corrected fair price.
//
// fair(t) = reference(t) + median_w{venue(s) - reference(s) : s in [t-W, t]}
//
// The venue is thinner than the reference and its raw mid is noisy and may
// lag; the reference leads price but carries a structural basis. The median
// of the basis series is robust to outliers and cheap to maintain.
package fairprice

import (
	"sort"

	"github.com/shopspring/decimal"

	"permp-mm/internal/ringbuf"
)

// slotMS is the sample-dedup granularity: 200ms slots enforce at-most-one
// sample per slot without timers (spec.md §3).
const slotMS = 200

// capacity is the ring buffer size: 2500 slots * 200ms = ~8.3 minutes.
const capacity = 2500

type offsetSample struct {
	slot   int64
	offset decimal.Decimal
}

// Estimator fuses a local (venue) mid and a reference mid into a fair
// price. Not concurrency-safe by design: owned exclusively by the
// market-maker loop's single goroutine (Design Note "single-owner actor").
type Estimator struct {
	buf        *ringbuf.Buffer[offsetSample]
	lastSlot   int64
	haveLast   bool
	minSamples int
	windowMS   int64
}

// New creates a fair price estimator. windowMS is the lookback window (W)
// in milliseconds; minSamples is the minimum number of valid samples
// required before FairPrice stops returning ok=false.
func New(windowMS int64, minSamples int) *Estimator {
	return &Estimator{
		buf:        ringbuf.New[offsetSample](capacity),
		minSamples: minSamples,
		windowMS:   windowMS,
	}
}

func slotOf(timestampMS int64) int64 {
	return timestampMS / slotMS
}

// AddSample appends {slot, localMid - referenceMid} if slot is strictly
// newer than the last recorded slot; otherwise it is a no-op (P2: slot
// dedup — at most one sample per 200ms slot, however many times
// AddSample is called within it).
func (e *Estimator) AddSample(timestampMS int64, localMid, referenceMid decimal.Decimal) {
	slot := slotOf(timestampMS)
	if e.haveLast && slot <= e.lastSlot {
		return
	}
	e.buf.Push(offsetSample{slot: slot, offset: localMid.Sub(referenceMid)})
	e.lastSlot = slot
	e.haveLast = true
}

// validOffsets returns offsets for samples whose slot is strictly newer
// than nowSlot - W/slotMS, i.e. still inside the lookback window.
func (e *Estimator) validOffsets(nowMS int64) []decimal.Decimal {
	nowSlot := slotOf(nowMS)
	cutoff := nowSlot - e.windowMS/slotMS

	var out []decimal.Decimal
	e.buf.ForEach(func(s offsetSample) {
		if s.slot > cutoff {
			out = append(out, s.offset)
		}
	})
	return out
}

// FairPrice returns reference + median(valid offsets in the window), or
// ok=false if fewer than minSamples valid samples exist.
func (e *Estimator) FairPrice(nowMS int64, referenceMid decimal.Decimal) (decimal.Decimal, bool) {
	valid := e.validOffsets(nowMS)
	if len(valid) < e.minSamples {
		return decimal.Zero, false
	}
	return referenceMid.Add(median(valid)), true
}

// RawMedianOffset returns the median of all valid-window offsets ignoring
// minSamples, for status display (spec.md §4.A); the loop's status log does
// not call it. Returns ok=false only when the window is entirely empty.
func (e *Estimator) RawMedianOffset(nowMS int64) (decimal.Decimal, bool) {
	valid := e.validOffsets(nowMS)
	if len(valid) == 0 {
		return decimal.Zero, false
	}
	return median(valid), true
}

// median computes the median of a decimal slice, averaging the two middle
// values for even-length slices. Does not mutate the input.
func median(vals []decimal.Decimal) decimal.Decimal {
	sorted := make([]decimal.Decimal, len(vals))
	copy(sorted, vals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return sorted[n/2-1].Add(sorted[n/2]).Div(decimal.NewFromInt(2))
}
