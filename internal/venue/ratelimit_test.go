package venue

import (
	"context"
	"testing"
	"time"
)

func TestNewTokenBucketStartsFull(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(10, 1)
	if tb.available != 10 {
		t.Errorf("available = %v, want 10", tb.available)
	}
}

func TestTokenBucketWaitImmediate(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(5, 1)

	for i := 0; i < 5; i++ {
		start := time.Now()
		if err := tb.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() returned error: %v", err)
		}
		if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
			t.Errorf("Wait() took %v, expected immediate (token %d)", elapsed, i)
		}
	}
}

func TestTokenBucketWaitBlocks(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(1, 10) // refills at 10/sec -> ~100ms per token

	if err := tb.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := tb.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	elapsed := time.Since(start)

	if elapsed < 50*time.Millisecond {
		t.Errorf("expected blocking ~100ms, got %v", elapsed)
	}
	if elapsed > 300*time.Millisecond {
		t.Errorf("blocked too long: %v", elapsed)
	}
}

func TestTokenBucketContextCancelled(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(1, 0.1)
	_ = tb.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := tb.Wait(ctx); err == nil {
		t.Error("expected context error, got nil")
	}
}

func TestTokenBucketAllowNonBlocking(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(1, 0.1)

	if !tb.Allow() {
		t.Fatal("expected first Allow() to succeed from a full bucket")
	}
	if tb.Allow() {
		t.Error("expected second immediate Allow() to fail, bucket should be empty")
	}
}

func TestNewRateLimiterCategoriesIndependent(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter()

	// Draining the Place bucket must not affect Cancel, Fetch, or Account.
	for rl.Place.Allow() {
	}
	if !rl.Cancel.Allow() {
		t.Error("Cancel bucket should be unaffected by Place exhaustion")
	}
	if !rl.Fetch.Allow() {
		t.Error("Fetch bucket should be unaffected by Place exhaustion")
	}
	if !rl.Account.Allow() {
		t.Error("Account bucket should be unaffected by Place exhaustion")
	}
}
