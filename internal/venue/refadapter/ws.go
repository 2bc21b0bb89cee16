package refadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"tradecoord/internal/venue"
	"tradecoord/pkg/types"
)

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
)

// wireEnvelope peeks at the event kind before committing to a concrete
// payload type.
type wireEnvelope struct {
	EventType string `json:"event_type"`
}

type wireOrderEvent struct {
	ClientOrderID   string `json:"client_order_id"`
	ExchangeOrderID string `json:"exchange_order_id"`
	Status          string `json:"status"`
}

type wireTradeEvent struct {
	TradeID         string           `json:"trade_id"`
	ExchangeOrderID string           `json:"exchange_order_id"`
	ClientOrderID   string           `json:"client_order_id"`
	Pair            string           `json:"pair"`
	Price           decimal.Decimal  `json:"price"`
	Amount          decimal.Decimal  `json:"amount"`
	TotalFilled     *decimal.Decimal `json:"total_filled_amount"`
	TotalCost       decimal.Decimal  `json:"total_filled_cost"`
	Diff            bool             `json:"diff"`
}

// Feed is the user-data websocket half of the reference adapter: it
// auto-reconnects with exponential backoff and drives CoreCallbacks
// directly off the wire, with no intermediate channel fan-out — the core
// already owns its own dispatch through the event bus. Grounded on
// internal/exchange/ws.go, collapsed from its four-event-type/two-channel
// design to the two event kinds this domain's user feed needs.
type Feed struct {
	url    string
	signer *Signer

	connMu sync.Mutex
	conn   *websocket.Conn

	subscribedMu sync.RWMutex
	subscribed   map[string]bool

	callbacks venue.CoreCallbacks
	log       *slog.Logger
}

// NewFeed builds a user-data feed. signer is used to build the initial
// authenticated subscription payload.
func NewFeed(wsURL string, signer *Signer, callbacks venue.CoreCallbacks, log *slog.Logger) *Feed {
	if log == nil {
		log = slog.Default()
	}
	return &Feed{
		url:        wsURL,
		signer:     signer,
		subscribed: make(map[string]bool),
		callbacks:  callbacks,
		log:        log.With("component", "refadapter_ws"),
	}
}

// Run connects and maintains the connection with exponential backoff,
// blocking until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.log.Warn("websocket disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Subscribe tracks a pair for re-subscription across reconnects.
func (f *Feed) Subscribe(pairs []string) {
	f.subscribedMu.Lock()
	for _, p := range pairs {
		f.subscribed[p] = true
	}
	f.subscribedMu.Unlock()
}

func (f *Feed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.sendSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.log.Info("websocket connected")

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatch(msg)
	}
}

func (f *Feed) sendSubscription() error {
	f.subscribedMu.RLock()
	pairs := make([]string, 0, len(f.subscribed))
	for p := range f.subscribed {
		pairs = append(pairs, p)
	}
	f.subscribedMu.RUnlock()

	headers, err := f.signer.AuthHeaders(time.Now().UnixNano())
	if err != nil {
		return err
	}
	return f.writeJSON(map[string]any{
		"operation": "subscribe",
		"pairs":     pairs,
		"auth":      headers,
	})
}

func (f *Feed) dispatch(data []byte) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		f.log.Debug("ignoring non-json ws message")
		return
	}

	switch env.EventType {
	case "order":
		var evt wireOrderEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.log.Error("unmarshal order event", "error", err)
			return
		}
		f.dispatchOrder(evt)

	case "trade":
		var evt wireTradeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.log.Error("unmarshal trade event", "error", err)
			return
		}
		f.dispatchTrade(evt)

	default:
		f.log.Debug("unhandled ws event type", "type", env.EventType)
	}
}

func (f *Feed) dispatchOrder(evt wireOrderEvent) {
	switch evt.Status {
	case "created":
		if f.callbacks.OnOrderCreated != nil {
			f.callbacks.OnOrderCreated(evt.ClientOrderID, evt.ExchangeOrderID, types.SourceWebsocket)
		}
	case "canceled", "cancelled":
		if f.callbacks.OnOrderCancelled != nil {
			f.callbacks.OnOrderCancelled(evt.ClientOrderID, types.SourceWebsocket)
		}
	default:
		f.log.Debug("unhandled order status", "status", evt.Status)
	}
}

func (f *Feed) dispatchTrade(evt wireTradeEvent) {
	if f.callbacks.OnOrderFilled == nil {
		return
	}
	f.callbacks.OnOrderFilled(types.FillEvent{
		Source:            types.SourceWebsocket,
		TradeID:           evt.TradeID,
		ClientOrderID:     evt.ClientOrderID,
		ExchangeOrderID:   evt.ExchangeOrderID,
		FillPrice:         evt.Price,
		FillAmount:        evt.Amount,
		IsDiff:            evt.Diff,
		TotalFilledAmount: evt.TotalFilled,
		FillType:          types.FillTypeUserTrade,
		FillDate:          time.Now(),
	})
}

func (f *Feed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.log.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *Feed) writeJSON(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("refadapter: websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *Feed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("refadapter: websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
