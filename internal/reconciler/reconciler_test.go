package reconciler

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

// TestScenarioS6MinimalDiff covers S6: current {A: bid $100x1, B: ask
// $101x1}; desired {bid $100x1, ask $102x1}. Expect: keep A, cancel B,
// place ask $102x1 in one chunk of two actions.
func TestScenarioS6MinimalDiff(t *testing.T) {
	t.Parallel()

	current := []types.CachedOrder{
		{OrderID: "A", Side: types.Bid, Price: dec("100"), Size: dec("1")},
		{OrderID: "B", Side: types.Ask, Price: dec("101"), Size: dec("1")},
	}
	desired := []types.Quote{
		{Side: types.Bid, Price: dec("100"), Size: dec("1")},
		{Side: types.Ask, Price: dec("102"), Size: dec("1")},
	}

	var submittedChunks [][]types.Action
	exec := func(ctx context.Context, marketID string, actions []types.Action) ([]types.ActionResult, error) {
		submittedChunks = append(submittedChunks, actions)
		results := make([]types.ActionResult, len(actions))
		for i, a := range actions {
			if _, ok := a.(types.PlaceAction); ok {
				results[i] = types.ActionResult{Success: true, OrderID: "new-1"}
			} else {
				results[i] = types.ActionResult{Success: true}
			}
		}
		return results, nil
	}

	result, err := Reconcile(context.Background(), exec, nil, "m1", current, desired)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(submittedChunks) != 1 {
		t.Fatalf("submitted %d chunks, want 1", len(submittedChunks))
	}
	if len(submittedChunks[0]) != 2 {
		t.Fatalf("chunk has %d actions, want 2 (1 cancel + 1 place)", len(submittedChunks[0]))
	}

	foundKeptA := false
	foundNewAsk := false
	for _, o := range result.Orders {
		if o.OrderID == "A" {
			foundKeptA = true
		}
		if o.OrderID == "new-1" && o.Side == types.Ask && o.Price.Equal(dec("102")) {
			foundNewAsk = true
		}
		if o.OrderID == "B" {
			t.Error("order B should have been cancelled, not kept")
		}
	}
	if !foundKeptA {
		t.Error("order A should have been kept unchanged")
	}
	if !foundNewAsk {
		t.Error("expected a new ask order at $102")
	}
}

// TestPropertyP7Idempotence covers P7: calling Reconcile twice with the
// same desired set yields zero actions on the second call.
func TestPropertyP7Idempotence(t *testing.T) {
	t.Parallel()

	current := []types.CachedOrder{
		{OrderID: "A", Side: types.Bid, Price: dec("100"), Size: dec("1")},
	}
	desired := []types.Quote{
		{Side: types.Bid, Price: dec("100"), Size: dec("1")},
		{Side: types.Ask, Price: dec("101"), Size: dec("1")},
	}

	callCount := 0
	exec := func(ctx context.Context, marketID string, actions []types.Action) ([]types.ActionResult, error) {
		callCount++
		results := make([]types.ActionResult, len(actions))
		for i, a := range actions {
			if _, ok := a.(types.PlaceAction); ok {
				results[i] = types.ActionResult{Success: true, OrderID: "new-ask"}
			} else {
				results[i] = types.ActionResult{Success: true}
			}
		}
		return results, nil
	}

	first, err := Reconcile(context.Background(), exec, nil, "m1", current, desired)
	if err != nil {
		t.Fatalf("first Reconcile() error = %v", err)
	}
	firstCalls := callCount

	second, err := Reconcile(context.Background(), exec, nil, "m1", first.Orders, desired)
	if err != nil {
		t.Fatalf("second Reconcile() error = %v", err)
	}
	if callCount != firstCalls {
		t.Errorf("second Reconcile issued %d more exec calls, want 0", callCount-firstCalls)
	}
	if len(second.Orders) != len(first.Orders) {
		t.Errorf("second Reconcile resting set size = %d, want %d", len(second.Orders), len(first.Orders))
	}
}

func TestReconcileChunksAtFour(t *testing.T) {
	t.Parallel()

	var desired []types.Quote
	for i := 0; i < 10; i++ {
		desired = append(desired, types.Quote{Side: types.Bid, Price: dec("100").Sub(decimal.NewFromInt(int64(i))), Size: dec("1")})
	}

	var chunkSizes []int
	exec := func(ctx context.Context, marketID string, actions []types.Action) ([]types.ActionResult, error) {
		chunkSizes = append(chunkSizes, len(actions))
		results := make([]types.ActionResult, len(actions))
		for i := range actions {
			results[i] = types.ActionResult{Success: true, OrderID: "o"}
		}
		return results, nil
	}

	_, err := Reconcile(context.Background(), exec, nil, "m1", nil, desired)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(chunkSizes) != 3 {
		t.Fatalf("issued %d chunks for 10 actions, want 3 (4+4+2)", len(chunkSizes))
	}
	for _, s := range chunkSizes {
		if s > maxChunkSize {
			t.Errorf("chunk size %d exceeds max %d", s, maxChunkSize)
		}
	}
}

func TestReconcilePostOnlyErrorRecoveredAndCancelReverted(t *testing.T) {
	t.Parallel()

	current := []types.CachedOrder{
		{OrderID: "A", Side: types.Bid, Price: dec("100"), Size: dec("1")},
	}
	desired := []types.Quote{
		{Side: types.Bid, Price: dec("101"), Size: dec("1")},
	}

	exec := func(ctx context.Context, marketID string, actions []types.Action) ([]types.ActionResult, error) {
		return nil, errors.New("rejected: POST_ONLY would cross")
	}

	result, err := Reconcile(context.Background(), exec, nil, "m1", current, desired)
	if err != nil {
		t.Fatalf("Reconcile() error = %v, want recovered chunk error", err)
	}
	if !result.HadChunkErrors {
		t.Error("HadChunkErrors = false, want true")
	}
	if len(result.Orders) != 1 || result.Orders[0].OrderID != "A" {
		t.Errorf("expected reverted cancel of A to keep it cached, got %+v", result.Orders)
	}
}

func TestReconcileOrderNotFoundSignalsSync(t *testing.T) {
	t.Parallel()

	current := []types.CachedOrder{
		{OrderID: "stale", Side: types.Bid, Price: dec("100"), Size: dec("1")},
	}
	exec := func(ctx context.Context, marketID string, actions []types.Action) ([]types.ActionResult, error) {
		return nil, errors.New("ORDER_NOT_FOUND: stale")
	}

	result, err := Reconcile(context.Background(), exec, nil, "m1", current, nil)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if !result.NeedsSync {
		t.Error("NeedsSync = false, want true after ORDER_NOT_FOUND")
	}
}

func TestReconcileFatalErrorRethrown(t *testing.T) {
	t.Parallel()

	desired := []types.Quote{{Side: types.Bid, Price: dec("100"), Size: dec("1")}}
	exec := func(ctx context.Context, marketID string, actions []types.Action) ([]types.ActionResult, error) {
		return nil, errors.New("unauthorized: bad api key")
	}

	_, err := Reconcile(context.Background(), exec, nil, "m1", nil, desired)
	if err == nil {
		t.Fatal("Reconcile() error = nil, want rethrown fatal error")
	}
}
