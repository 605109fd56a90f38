package pnl

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"permp-mm/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func noLimits() Config {
	return Config{
		MaxDrawdownUSD:    dec("1000000"),
		MaxPositionUSD:    dec("1000000"),
		DailyLossLimitUSD: dec("1000000"),
	}
}

// TestScenarioS1OpenAndCloseLong covers S1.
func TestScenarioS1OpenAndCloseLong(t *testing.T) {
	t.Parallel()

	l := New(noLimits())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	l.ApplyFill(types.Bid, dec("99.95"), dec("0.1"), dec("99.95"), now)
	outcome := l.ApplyFill(types.Ask, dec("100.05"), dec("0.1"), dec("100.05"), now)

	want := dec("0.1").Mul(dec("100.05").Sub(dec("99.95")))
	if !outcome.RealizedFillPnL.Equal(want) {
		t.Errorf("RealizedFillPnL = %s, want %s", outcome.RealizedFillPnL, want)
	}
	if !outcome.State.Position.Equal(decimal.Zero) {
		t.Errorf("Position = %s, want 0", outcome.State.Position)
	}
	if outcome.State.WinCount != 1 {
		t.Errorf("WinCount = %d, want 1", outcome.State.WinCount)
	}
}

// TestScenarioS2OvershootClose covers S2.
func TestScenarioS2OvershootClose(t *testing.T) {
	t.Parallel()

	l := New(noLimits())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	l.Seed(dec("0.1"), dec("100"), now)
	outcome := l.ApplyFill(types.Ask, dec("101"), dec("0.15"), dec("101"), now)

	wantRealized := dec("0.1").Mul(dec("101").Sub(dec("100")))
	if !outcome.RealizedFillPnL.Equal(wantRealized) {
		t.Errorf("RealizedFillPnL = %s, want %s", outcome.RealizedFillPnL, wantRealized)
	}
	if !outcome.State.Position.Equal(dec("-0.05")) {
		t.Errorf("Position = %s, want -0.05", outcome.State.Position)
	}
	if !l.costBasis.Equal(dec("5.05")) {
		t.Errorf("costBasis = %s, want 5.05", l.costBasis)
	}
}

// TestScenarioS3RiskHaltOnDrawdown covers S3.
func TestScenarioS3RiskHaltOnDrawdown(t *testing.T) {
	t.Parallel()

	l := New(Config{
		MaxDrawdownUSD:    dec("5"),
		MaxPositionUSD:    dec("1000000"),
		DailyLossLimitUSD: dec("1000000"),
	})
	l.realizedPnL = dec("3")
	l.peak = dec("3")

	state := l.GetState(decimal.Zero) // unrealized 0, total = 3, no drawdown yet
	if state.Halted {
		t.Fatal("Halted = true before drawdown, want false")
	}

	l.realizedPnL = dec("-2.5") // total now -2.5, drawdown = peak(3) - (-2.5) = 5.5
	state = l.GetState(decimal.Zero)
	if !state.Halted {
		t.Fatal("Halted = false after drawdown breach, want true")
	}
	if state.HaltReason != haltReasonDrawdown {
		t.Errorf("HaltReason = %q, want %q", state.HaltReason, haltReasonDrawdown)
	}
	if !state.Drawdown.Equal(dec("5.5")) {
		t.Errorf("Drawdown = %s, want 5.5", state.Drawdown)
	}
}

// TestScenarioS4DayRollover covers S4.
func TestScenarioS4DayRollover(t *testing.T) {
	t.Parallel()

	l := New(Config{
		MaxDrawdownUSD:    dec("1000000"),
		MaxPositionUSD:    dec("1000000"),
		DailyLossLimitUSD: dec("1"),
	})

	lateNight := time.Date(2026, 1, 1, 23, 59, 59, 0, time.UTC)
	l.Seed(decimal.Zero, decimal.Zero, lateNight)
	l.dailyPnL = dec("-2")
	l.realizedPnL = dec("-2")
	l.evaluateRiskLocked(decimal.Zero)
	if !l.halted || l.haltReason != haltReasonDailyLoss {
		t.Fatalf("expected daily loss halt before rollover, got halted=%v reason=%q", l.halted, l.haltReason)
	}

	nextDay := time.Date(2026, 1, 2, 0, 0, 1, 0, time.UTC)
	outcome := l.ApplyFill(types.Bid, dec("1"), dec("0.00001"), dec("1"), nextDay)

	if l.halted {
		t.Error("halted should clear on UTC rollover for a daily-loss halt")
	}
	if !l.dailyPnL.Sub(dec("0")).Abs().LessThan(dec("0.01")) {
		t.Errorf("dailyPnL after rollover should reset near 0, got %s", l.dailyPnL)
	}
	if !outcome.CumulativeRealized.Equal(dec("-2")) {
		t.Errorf("cumulative realized pnl changed across rollover: got %s, want -2", outcome.CumulativeRealized)
	}
}

// TestPropertyP3PnLConservation covers P3: a round-trip with no fees
// yields realized_pnl = (sell - buy) * matched_size under FIFO.
func TestPropertyP3PnLConservation(t *testing.T) {
	t.Parallel()

	l := New(noLimits())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	l.ApplyFill(types.Bid, dec("50"), dec("2"), dec("50"), now)
	outcome := l.ApplyFill(types.Ask, dec("55"), dec("2"), dec("55"), now)

	want := dec("2").Mul(dec("55").Sub(dec("50")))
	if !outcome.CumulativeRealized.Equal(want) {
		t.Errorf("cumulative realized = %s, want %s", outcome.CumulativeRealized, want)
	}
	if !outcome.State.Position.Equal(decimal.Zero) {
		t.Errorf("position after round trip = %s, want 0", outcome.State.Position)
	}
}

// TestPropertyP4MonotonePeak covers P4.
func TestPropertyP4MonotonePeak(t *testing.T) {
	t.Parallel()

	l := New(noLimits())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.Seed(dec("1"), dec("100"), now)

	fairs := []string{"100", "110", "90", "120", "80"}
	var lastPeak decimal.Decimal
	for i, f := range fairs {
		state := l.GetState(dec(f))
		if i > 0 && state.Peak.LessThan(lastPeak) {
			t.Fatalf("peak decreased: %s -> %s at fair %s", lastPeak, state.Peak, f)
		}
		lastPeak = state.Peak
	}
}

// TestPropertyP5DrawdownNonNegative covers P5.
func TestPropertyP5DrawdownNonNegative(t *testing.T) {
	t.Parallel()

	l := New(noLimits())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.Seed(dec("1"), dec("100"), now)

	for _, f := range []string{"100", "150", "50", "200", "10"} {
		state := l.GetState(dec(f))
		if state.Drawdown.IsNegative() {
			t.Fatalf("drawdown negative (%s) at fair %s", state.Drawdown, f)
		}
	}
}

// TestPropertyP6HaltSticky covers P6: halt persists across further
// GetState calls even after the triggering condition clears, until a
// manual reset.
func TestPropertyP6HaltSticky(t *testing.T) {
	t.Parallel()

	l := New(Config{
		MaxDrawdownUSD:    dec("5"),
		MaxPositionUSD:    dec("1000000"),
		DailyLossLimitUSD: dec("1000000"),
	})
	l.peak = dec("10")
	l.realizedPnL = dec("4") // drawdown 6 >= 5, triggers halt

	state := l.GetState(decimal.Zero)
	if !state.Halted {
		t.Fatal("expected halt to trigger")
	}

	l.realizedPnL = dec("10") // drawdown now 0, condition no longer true
	state = l.GetState(decimal.Zero)
	if !state.Halted {
		t.Fatal("halt should remain sticky even though the condition cleared")
	}

	l.ManualReset()
	state = l.GetState(decimal.Zero)
	if state.Halted {
		t.Fatal("halt should clear after ManualReset")
	}
}

func TestMaxPositionHalt(t *testing.T) {
	t.Parallel()

	l := New(Config{
		MaxDrawdownUSD:    dec("1000000"),
		MaxPositionUSD:    dec("500"),
		DailyLossLimitUSD: dec("1000000"),
	})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.Seed(decimal.Zero, decimal.Zero, now)

	outcome := l.ApplyFill(types.Bid, dec("100"), dec("10"), dec("100"), now)
	if !outcome.State.Halted {
		t.Fatal("expected halt on max position breach (1000 usd >= 500 limit)")
	}
	if outcome.State.HaltReason != haltReasonPosition {
		t.Errorf("HaltReason = %q, want %q", outcome.State.HaltReason, haltReasonPosition)
	}
}
