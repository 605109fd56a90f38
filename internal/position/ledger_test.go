package position

import (
	"context"
	"errors"
	"testing"

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

func TestApplyFillSignsBySide(t *testing.T) {
	t.Parallel()

	l := New(dec("100000"))
	l.ApplyFill(types.Bid, dec("5"))
	l.ApplyFill(types.Ask, dec("2"))

	if got := l.BaseSize(); !got.Equal(dec("3")) {
		t.Errorf("BaseSize() = %s, want 3", got)
	}
}

func TestSyncAdoptsServerOnDrift(t *testing.T) {
	t.Parallel()

	l := New(dec("100000"))
	l.Seed(dec("10"))

	err := l.Sync(context.Background(), func(ctx context.Context) (decimal.Decimal, error) {
		return dec("10.01"), nil
	}, nil)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if got := l.BaseSize(); !got.Equal(dec("10.01")) {
		t.Errorf("BaseSize() after drifted sync = %s, want 10.01", got)
	}
}

func TestSyncIgnoresSmallDrift(t *testing.T) {
	t.Parallel()

	l := New(dec("100000"))
	l.Seed(dec("10"))

	err := l.Sync(context.Background(), func(ctx context.Context) (decimal.Decimal, error) {
		return dec("10.00000001"), nil
	}, nil)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if got := l.BaseSize(); !got.Equal(dec("10")) {
		t.Errorf("BaseSize() after negligible drift = %s, want unchanged 10", got)
	}
}

func TestSyncRetriesThenFails(t *testing.T) {
	t.Parallel()

	l := New(dec("100000"))
	calls := 0
	err := l.Sync(context.Background(), func(ctx context.Context) (decimal.Decimal, error) {
		calls++
		return decimal.Zero, errors.New("venue unreachable")
	}, nil)
	if err == nil {
		t.Fatal("Sync() error = nil, want error after exhausting retries")
	}
	if calls != syncRetries+1 {
		t.Errorf("fetch called %d times, want %d", calls, syncRetries+1)
	}
}

func TestIsCloseModeAndQuotingContext(t *testing.T) {
	t.Parallel()

	l := New(dec("1000"))
	l.Seed(dec("20")) // long

	fair := dec("100") // notional 2000 >= 1000 threshold
	if !l.IsCloseMode(fair) {
		t.Fatal("IsCloseMode() = false, want true")
	}

	qc := l.QuotingContext(fair)
	if qc.State != "close" {
		t.Errorf("QuotingContext.State = %q, want close", qc.State)
	}
	if len(qc.AllowedSides) != 1 || qc.AllowedSides[0] != types.Ask {
		t.Errorf("QuotingContext.AllowedSides = %v, want [ask] for long position", qc.AllowedSides)
	}

	l.Seed(dec("-20")) // short
	qc = l.QuotingContext(fair)
	if len(qc.AllowedSides) != 1 || qc.AllowedSides[0] != types.Bid {
		t.Errorf("QuotingContext.AllowedSides = %v, want [bid] for short position", qc.AllowedSides)
	}
}

func TestQuotingContextNormalModeAllowsBothSides(t *testing.T) {
	t.Parallel()

	l := New(dec("1000000"))
	l.Seed(dec("1"))

	qc := l.QuotingContext(dec("100"))
	if qc.State != "normal" {
		t.Errorf("QuotingContext.State = %q, want normal", qc.State)
	}
	if len(qc.AllowedSides) != 2 {
		t.Errorf("QuotingContext.AllowedSides = %v, want both sides", qc.AllowedSides)
	}
}
