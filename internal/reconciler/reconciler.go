// Package reconciler implements component F: diffing the venue's current
// open orders against the quoter's desired ladder and executing the
// minimal sequence of cancel/place actions in atomic, size-bounded
// chunks.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"permp-mm/pkg/types"
)

// maxChunkSize is the venue's atomicity limit: at most this many actions
// may be submitted as a single atomic group (spec.md §4.F).
const maxChunkSize = 4

// Executor submits one atomic chunk of actions to the venue and returns a
// result per action, or a chunk-wide error if the whole group failed.
type Executor func(ctx context.Context, marketID string, actions []types.Action) ([]types.ActionResult, error)

// Result is the outcome of one Reconcile call.
type Result struct {
	Orders         []types.CachedOrder
	HadChunkErrors bool
	NeedsSync      bool
}

type actionItem struct {
	action         types.Action
	cancelledOrder types.CachedOrder // zero value unless this item cancels a cached order
}

// Reconcile makes the venue's open orders equal desired, via the minimal
// cancel/place sequence, executed in chunks of at most maxChunkSize
// actions each.
func Reconcile(ctx context.Context, exec Executor, logger *slog.Logger, marketID string, current []types.CachedOrder, desired []types.Quote) (Result, error) {
	kept, toCancel, toPlace := diff(current, desired)

	items := make([]actionItem, 0, len(toCancel)+len(toPlace))
	for _, o := range toCancel {
		items = append(items, actionItem{action: types.CancelAction{OrderID: o.OrderID}, cancelledOrder: o})
	}
	for _, q := range toPlace {
		items = append(items, actionItem{action: types.PlaceAction{
			MarketID: marketID,
			Side:     q.Side,
			Price:    q.Price,
			Size:     q.Size,
			FillMode: types.FillModePostOnly,
		}})
	}

	result := Result{Orders: append([]types.CachedOrder{}, kept...)}

	for _, chunkItems := range chunk(items, maxChunkSize) {
		actions := make([]types.Action, len(chunkItems))
		for i, it := range chunkItems {
			actions[i] = it.action
		}

		results, err := exec(ctx, marketID, actions)
		if err != nil {
			cat := classify(err)
			if cat == catFatal {
				return result, fmt.Errorf("reconcile chunk: %w", err)
			}
			result.HadChunkErrors = true
			if cat == catOrderNotFound {
				result.NeedsSync = true
			}
			if logger != nil {
				logger.Warn("reconcile chunk recovered", "category", cat.String(), "error", err)
			}
			// The chunk is atomic: on failure none of its actions took
			// effect, so any orders it intended to cancel are still
			// resting and must stay cached.
			for _, it := range chunkItems {
				if it.cancelledOrder.OrderID != "" {
					result.Orders = append(result.Orders, it.cancelledOrder)
				}
			}
			continue
		}

		for i, it := range chunkItems {
			pa, ok := it.action.(types.PlaceAction)
			if !ok {
				continue
			}
			if i < len(results) && results[i].Success {
				result.Orders = append(result.Orders, types.CachedOrder{
					OrderID: results[i].OrderID,
					Side:    pa.Side,
					Price:   pa.Price,
					Size:    pa.Size,
				})
			}
		}
	}

	return result, nil
}

// diff splits current resting orders against the desired ladder by exact
// (side, price, size) match: matched orders are kept, unmatched existing
// orders are cancelled, unmatched desired quotes are placed.
func diff(current []types.CachedOrder, desired []types.Quote) (kept []types.CachedOrder, toCancel []types.CachedOrder, toPlace []types.Quote) {
	claimed := make([]bool, len(desired))

	for _, o := range current {
		matchedIdx := -1
		for i, q := range desired {
			if claimed[i] {
				continue
			}
			if o.Side == q.Side && o.Price.Equal(q.Price) && o.Size.Equal(q.Size) {
				matchedIdx = i
				break
			}
		}
		if matchedIdx >= 0 {
			claimed[matchedIdx] = true
			kept = append(kept, o)
		} else {
			toCancel = append(toCancel, o)
		}
	}

	for i, q := range desired {
		if !claimed[i] {
			toPlace = append(toPlace, q)
		}
	}
	return kept, toCancel, toPlace
}

func chunk(items []actionItem, size int) [][]actionItem {
	var chunks [][]actionItem
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[i:end])
	}
	return chunks
}

type errCategory int

const (
	catPostOnlyCross errCategory = iota
	catOrderNotFound
	catTransient
	catFatal
)

func (c errCategory) String() string {
	switch c {
	case catPostOnlyCross:
		return "post_only_cross"
	case catOrderNotFound:
		return "order_not_found"
	case catTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// Sentinel errors a venue adapter may return to get precise, non-string
// classification; classify also falls back to substring matching for
// adapters that only surface raw venue error text.
var (
	ErrPostOnlyCross = errors.New("post_only: would cross book")
	ErrOrderNotFound = errors.New("order not found")
)

func classify(err error) errCategory {
	if errors.Is(err, ErrPostOnlyCross) {
		return catPostOnlyCross
	}
	if errors.Is(err, ErrOrderNotFound) {
		return catOrderNotFound
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "POST_ONLY"), strings.Contains(msg, "MUST_NOT_FILL"):
		return catPostOnlyCross
	case strings.Contains(msg, "ORDER_NOT_FOUND"):
		return catOrderNotFound
	case msg == "", strings.Contains(msg, "transient"), strings.Contains(msg, "timeout"):
		return catTransient
	default:
		return catFatal
	}
}
