package throttle

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestThrottleFiresImmediatelyOnFirstEvent(t *testing.T) {
	t.Parallel()

	var calls int32
	th := New(50*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })
	th.Trigger()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d, want 1 immediately after first Trigger", got)
	}
}

func TestThrottleCollapsesBurstAndFiresTrailing(t *testing.T) {
	t.Parallel()

	var calls int32
	th := New(40*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })

	th.Trigger() // leading fire: calls=1
	for i := 0; i < 20; i++ {
		th.Trigger()
		time.Sleep(2 * time.Millisecond)
	}
	// Burst ends; trailing fire should land shortly after the last Trigger.
	time.Sleep(60 * time.Millisecond)

	got := atomic.LoadInt32(&calls)
	if got < 2 {
		t.Fatalf("calls = %d, want at least 2 (leading + trailing)", got)
	}
	if got > 4 {
		t.Fatalf("calls = %d, want at most a small number for a collapsed burst", got)
	}
}

func TestThrottleStopPreventsFurtherFires(t *testing.T) {
	t.Parallel()

	var calls int32
	th := New(20*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })
	th.Trigger()
	th.Trigger() // schedules a trailing fire
	th.Stop()
	time.Sleep(40 * time.Millisecond)

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d after Stop, want 1 (only the leading fire)", got)
	}
}
