// ws.go is a reference streaming adapter over a JSON WebSocket feed,
// implementing PriceFeed, BookStream, and AccountStream. It reconnects
// with backoff on unexpected disconnects and dispatches decoded messages
// onto buffered channels for the core to consume.
package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"permp-mm/pkg/types"
)

const wsReconnectBackoff = 2 * time.Second

// WSFeed is a reference WebSocket adapter for one venue stream endpoint.
type WSFeed struct {
	url    string
	logger *slog.Logger
}

// NewWSFeed creates a feed adapter pointed at the given WebSocket URL.
func NewWSFeed(url string, logger *slog.Logger) *WSFeed {
	return &WSFeed{url: url, logger: logger}
}

type wsEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type wsPriceMsg struct {
	TimestampMS int64  `json:"timestamp_ms"`
	Mid         string `json:"mid"`
	BestBid     string `json:"best_bid"`
	BestAsk     string `json:"best_ask"`
}

type wsBookMsg struct {
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

type wsFillMsg struct {
	MarketID string `json:"market_id"`
	Side     string `json:"side"`
	Price    string `json:"price"`
	Size     string `json:"size"`
	TradeID  string `json:"trade_id"`
}

// Subscribe implements PriceFeed: decodes "price" channel messages into
// PriceSample values.
func (f *WSFeed) Subscribe(ctx context.Context) (<-chan types.PriceSample, error) {
	out := make(chan types.PriceSample, 256)
	go f.run(ctx, func(env wsEnvelope) {
		if env.Channel != "price" {
			return
		}
		var msg wsPriceMsg
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			f.logf("decode price message", err)
			return
		}
		sample, err := toPriceSample(msg)
		if err != nil {
			f.logf("parse price message", err)
			return
		}
		select {
		case out <- sample:
		case <-ctx.Done():
		}
	})
	return out, nil
}

// SubscribeBook implements BookStream: decodes "book" channel messages
// into BBO values.
func (f *WSFeed) SubscribeBook(ctx context.Context) (<-chan types.BBO, error) {
	out := make(chan types.BBO, 256)
	go f.run(ctx, func(env wsEnvelope) {
		if env.Channel != "book" {
			return
		}
		var msg wsBookMsg
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			f.logf("decode book message", err)
			return
		}
		bbo, err := toBBO(msg)
		if err != nil {
			f.logf("parse book message", err)
			return
		}
		select {
		case out <- bbo:
		case <-ctx.Done():
		}
	})
	return out, nil
}

// SubscribeFills implements AccountStream: decodes "fill" channel
// messages for the given market into Fill values.
func (f *WSFeed) SubscribeFills(ctx context.Context, marketID string) (<-chan types.Fill, error) {
	out := make(chan types.Fill, 256)
	go f.run(ctx, func(env wsEnvelope) {
		if env.Channel != "fill" {
			return
		}
		var msg wsFillMsg
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			f.logf("decode fill message", err)
			return
		}
		if msg.MarketID != marketID {
			return
		}
		fill, err := toFill(msg)
		if err != nil {
			f.logf("parse fill message", err)
			return
		}
		select {
		case out <- fill:
		case <-ctx.Done():
		}
	})
	return out, nil
}

// run maintains the WebSocket connection, reconnecting with a fixed
// backoff on any read error, until ctx is cancelled.
func (f *WSFeed) run(ctx context.Context, handle func(wsEnvelope)) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := f.runOnce(ctx, handle); err != nil && f.logger != nil {
			f.logger.Warn("ws feed disconnected", "url", f.url, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wsReconnectBackoff):
		}
	}
}

func (f *WSFeed) runOnce(ctx context.Context, handle func(wsEnvelope)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		conn.Close()
		close(done)
	}()

	for {
		var env wsEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		handle(env)
	}
}

func (f *WSFeed) logf(msg string, err error) {
	if f.logger != nil {
		f.logger.Warn(msg, "error", err)
	}
}

// AsBookStream adapts a WSFeed pointed at a book channel URL to the
// BookStream interface (whose Subscribe signature differs from
// WSFeed.Subscribe, which is reserved for PriceFeed).
func (f *WSFeed) AsBookStream() BookStream {
	return bookStreamAdapter{f}
}

type bookStreamAdapter struct{ f *WSFeed }

func (a bookStreamAdapter) Subscribe(ctx context.Context) (<-chan types.BBO, error) {
	return a.f.SubscribeBook(ctx)
}

// AsAccountStream adapts a WSFeed pointed at a fill channel URL to the
// AccountStream interface.
func (f *WSFeed) AsAccountStream() AccountStream {
	return accountStreamAdapter{f}
}

type accountStreamAdapter struct{ f *WSFeed }

func (a accountStreamAdapter) Subscribe(ctx context.Context, marketID string) (<-chan types.Fill, error) {
	return a.f.SubscribeFills(ctx, marketID)
}

func toPriceSample(msg wsPriceMsg) (types.PriceSample, error) {
	mid, err := decimal.NewFromString(msg.Mid)
	if err != nil {
		return types.PriceSample{}, err
	}
	bestBid, err := decimal.NewFromString(msg.BestBid)
	if err != nil {
		return types.PriceSample{}, err
	}
	bestAsk, err := decimal.NewFromString(msg.BestAsk)
	if err != nil {
		return types.PriceSample{}, err
	}
	return types.PriceSample{TimestampMS: msg.TimestampMS, Mid: mid, BestBid: bestBid, BestAsk: bestAsk}, nil
}

func toBBO(msg wsBookMsg) (types.BBO, error) {
	bid, err := decimal.NewFromString(msg.BestBid)
	if err != nil {
		return types.BBO{}, err
	}
	ask, err := decimal.NewFromString(msg.BestAsk)
	if err != nil {
		return types.BBO{}, err
	}
	return types.BBO{BestBid: bid, BestAsk: ask, Valid: true}, nil
}

func toFill(msg wsFillMsg) (types.Fill, error) {
	price, err := decimal.NewFromString(msg.Price)
	if err != nil {
		return types.Fill{}, err
	}
	size, err := decimal.NewFromString(msg.Size)
	if err != nil {
		return types.Fill{}, err
	}
	return types.Fill{
		MarketID:  msg.MarketID,
		Side:      types.Side(msg.Side),
		Price:     price,
		Size:      size,
		TradeID:   msg.TradeID,
		Timestamp: time.Now(),
	}, nil
}
