// Package venue defines the consumed-capability boundary between the
// market-making core and a trading venue, plus reference REST/WebSocket
// adapters implementing it. The core depends only on these interfaces;
// adapters are swappable per venue.
package venue

import (
	"context"

	"permp-mm/pkg/types"
)

// PriceFeed streams an external reference price (component A's second
// price stream) independent of the venue's own order book.
type PriceFeed interface {
	Subscribe(ctx context.Context) (<-chan types.PriceSample, error)
}

// BookStream streams the venue's own best bid/offer.
type BookStream interface {
	Subscribe(ctx context.Context) (<-chan types.BBO, error)
}

// AccountStream streams fills for the account's orders on this market.
type AccountStream interface {
	Subscribe(ctx context.Context, marketID string) (<-chan types.Fill, error)
}

// RPC is the venue's request/response trading surface: fetching
// authoritative account state and executing reconciler action chunks.
type RPC interface {
	FetchInfo(ctx context.Context, marketID string) (types.VenueInfo, error)
	FetchBook(ctx context.Context, marketID string) (types.BBO, error)
	Execute(ctx context.Context, marketID string, actions []types.Action) ([]types.ActionResult, error)
}
