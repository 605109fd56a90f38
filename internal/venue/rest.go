// rest.go is a reference REST adapter implementing RPC against a generic
// perpetual-futures venue API. It wires go-resty for HTTP, a token-bucket
// RateLimiter per endpoint category, and translates venue error reasons
// into the reconciler's sentinel errors where recognized.
package venue

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"permp-mm/internal/reconciler"
	"permp-mm/pkg/types"
)

// RESTClient is a reference venue RPC adapter over plain HTTPS.
type RESTClient struct {
	http    *resty.Client
	limiter *RateLimiter
	apiKey  string
}

// NewRESTClient creates a REST adapter rooted at baseURL, authenticating
// with apiKey via a bearer header.
func NewRESTClient(baseURL, apiKey string) *RESTClient {
	http := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetRetryCount(2)

	return &RESTClient{http: http, limiter: NewRateLimiter(), apiKey: apiKey}
}

type orderInfoDTO struct {
	OrderID string `json:"order_id"`
	Side    string `json:"side"`
	Price   string `json:"price"`
	Size    string `json:"size"`
}

type fetchInfoResponse struct {
	Orders   []orderInfoDTO `json:"orders"`
	Position string         `json:"position"`
}

// FetchInfo retrieves the account's open orders and signed position for
// one market.
func (c *RESTClient) FetchInfo(ctx context.Context, marketID string) (types.VenueInfo, error) {
	if err := c.limiter.Account.Wait(ctx); err != nil {
		return types.VenueInfo{}, err
	}

	var body fetchInfoResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("market_id", marketID).
		SetResult(&body).
		Get("/v1/account/info")
	if err != nil {
		return types.VenueInfo{}, fmt.Errorf("fetch_info request: %w", err)
	}
	if resp.IsError() {
		return types.VenueInfo{}, fmt.Errorf("fetch_info: venue returned %s: %s", resp.Status(), resp.String())
	}

	info := types.VenueInfo{Orders: make([]types.OpenOrderInfo, 0, len(body.Orders))}
	for _, o := range body.Orders {
		price, err := decimal.NewFromString(o.Price)
		if err != nil {
			return types.VenueInfo{}, fmt.Errorf("parse order price: %w", err)
		}
		size, err := decimal.NewFromString(o.Size)
		if err != nil {
			return types.VenueInfo{}, fmt.Errorf("parse order size: %w", err)
		}
		info.Orders = append(info.Orders, types.OpenOrderInfo{
			OrderID: o.OrderID,
			Side:    types.Side(o.Side),
			Price:   price,
			Size:    size,
		})
	}

	pos, err := decimal.NewFromString(body.Position)
	if err != nil {
		return types.VenueInfo{}, fmt.Errorf("parse position: %w", err)
	}
	info.Position = types.AccountPosition{MarketID: marketID, Base: pos}
	return info, nil
}

type bookResponse struct {
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// FetchBook retrieves a one-shot REST snapshot of the venue's best bid/
// offer for one market. Used only at startup to seed the book before the
// WebSocket book stream delivers its first update; the hot path relies
// exclusively on BookStream.
func (c *RESTClient) FetchBook(ctx context.Context, marketID string) (types.BBO, error) {
	if err := c.limiter.Fetch.Wait(ctx); err != nil {
		return types.BBO{}, err
	}

	var body bookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("market_id", marketID).
		SetResult(&body).
		Get("/v1/book")
	if err != nil {
		return types.BBO{}, fmt.Errorf("fetch_book request: %w", err)
	}
	if resp.IsError() {
		return types.BBO{}, fmt.Errorf("fetch_book: venue returned %s: %s", resp.Status(), resp.String())
	}

	bid, err := decimal.NewFromString(body.BestBid)
	if err != nil {
		return types.BBO{}, fmt.Errorf("parse best_bid: %w", err)
	}
	ask, err := decimal.NewFromString(body.BestAsk)
	if err != nil {
		return types.BBO{}, fmt.Errorf("parse best_ask: %w", err)
	}
	return types.BBO{BestBid: bid, BestAsk: ask, Valid: true}, nil
}

type actionDTO struct {
	Type       string `json:"type"` // "place" | "cancel"
	OrderID    string `json:"order_id,omitempty"`
	Side       string `json:"side,omitempty"`
	Price      string `json:"price,omitempty"`
	Size       string `json:"size,omitempty"`
	FillMode   string `json:"fill_mode,omitempty"`
	ReduceOnly bool   `json:"reduce_only,omitempty"`
}

type actionResultDTO struct {
	Success bool   `json:"success"`
	OrderID string `json:"order_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type executeRequest struct {
	MarketID string      `json:"market_id"`
	Actions  []actionDTO `json:"actions"`
}

type executeResponse struct {
	Results []actionResultDTO `json:"results"`
	Reason  string            `json:"reason,omitempty"`
}

// Execute submits one atomic chunk of reconciler actions.
func (c *RESTClient) Execute(ctx context.Context, marketID string, actions []types.Action) ([]types.ActionResult, error) {
	req := executeRequest{MarketID: marketID}
	for _, a := range actions {
		switch v := a.(type) {
		case types.PlaceAction:
			if err := c.limiter.Place.Wait(ctx); err != nil {
				return nil, err
			}
			req.Actions = append(req.Actions, actionDTO{
				Type:       "place",
				Side:       string(v.Side),
				Price:      v.Price.String(),
				Size:       v.Size.String(),
				FillMode:   string(v.FillMode),
				ReduceOnly: v.ReduceOnly,
			})
		case types.CancelAction:
			if err := c.limiter.Cancel.Wait(ctx); err != nil {
				return nil, err
			}
			req.Actions = append(req.Actions, actionDTO{Type: "cancel", OrderID: v.OrderID})
		}
	}

	var body executeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&body).
		Post("/v1/orders/batch")
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	if resp.IsError() {
		return nil, classifyVenueReason(body.Reason, resp.String())
	}

	results := make([]types.ActionResult, len(body.Results))
	for i, r := range body.Results {
		results[i] = types.ActionResult{Success: r.Success, OrderID: r.OrderID}
		if !r.Success {
			results[i].Err = classifyVenueReason(r.Reason, r.Reason)
		}
	}
	return results, nil
}

// classifyVenueReason maps a venue's textual rejection reason onto the
// reconciler's sentinel errors where recognized, falling back to a plain
// wrapped error the reconciler's substring classifier can still read.
func classifyVenueReason(reason, raw string) error {
	switch reason {
	case "POST_ONLY", "MUST_NOT_FILL":
		return fmt.Errorf("%w: %s", reconciler.ErrPostOnlyCross, raw)
	case "ORDER_NOT_FOUND":
		return fmt.Errorf("%w: %s", reconciler.ErrOrderNotFound, raw)
	default:
		return fmt.Errorf("venue rejected chunk: %s", raw)
	}
}
