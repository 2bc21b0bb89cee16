// Package venue defines the VenueAdapter port: the capability surface the
// core requires from every concrete exchange implementation. The core
// depends only on this interface; wire protocols, signing, and symbol
// parsing live behind it in collaborator packages (see refadapter,
// mockadapter).
package venue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tradecoord/pkg/types"
)

// CreateOrderSpec is what the core asks a venue to place.
type CreateOrderSpec struct {
	ClientOrderID string
	CurrencyPair  types.CurrencyPair
	Side          types.Side
	OrderType     types.OrderType
	Price         decimal.Decimal
	Amount        decimal.Decimal
}

// CreateOrderResult is what a venue returns after accepting an order.
type CreateOrderResult struct {
	ExchangeOrderID string
}

// Trade is a single execution reported by request_my_trades.
type Trade struct {
	TradeID         string
	ExchangeOrderID string
	Price           decimal.Decimal
	Amount          decimal.Decimal
	Commission      *decimal.Decimal
	Role            types.OrderRole
	Time            time.Time
}

// BalanceAndPositions is the combined result of a single-request balance
// query (BalancePositionSingleRequest venues).
type BalanceAndPositions struct {
	Balances  []types.Balance
	Positions []types.Position
}

// Adapter is the async capability surface the core requires from each
// venue implementation (translated from the retrieved Rust sources'
// ExchangeClient trait).
type Adapter interface {
	RequestAllSymbols(ctx context.Context) ([]types.Symbol, error)
	CreateOrder(ctx context.Context, spec CreateOrderSpec) (CreateOrderResult, error)
	RequestCancelOrder(ctx context.Context, exchangeOrderID string) error
	CancelAllOrders(ctx context.Context, pair types.CurrencyPair) error
	GetOpenOrders(ctx context.Context) ([]types.OrderSnapshot, error)
	GetOpenOrdersByCurrencyPair(ctx context.Context, pair types.CurrencyPair) ([]types.OrderSnapshot, error)
	GetOrderInfo(ctx context.Context, exchangeOrderID string) (types.OrderSnapshot, error)
	RequestMyTrades(ctx context.Context, pair types.CurrencyPair, since *time.Time) ([]Trade, error)
	RequestGetPosition(ctx context.Context, pair types.CurrencyPair) (types.Position, error)
	RequestGetBalanceAndPosition(ctx context.Context) (BalanceAndPositions, error)
	GetBalance(ctx context.Context) ([]types.Balance, error)
	RequestClosePosition(ctx context.Context, pos types.Position, price *decimal.Decimal) error

	// Connect/Disconnect are the Go expression of on_connecting() plus the
	// reconnect policy SPEC_FULL.md §9 resolves for balance-exhaustion
	// recovery — they are not in spec.md's literal method list, added so
	// BalancePositionLoop has something concrete to call on repeated failure.
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// Support is the synchronous capability surface (translated from the
// retrieved sources' Support trait): wire parsing, websocket routing, and
// static venue metadata.
type Support interface {
	GetOrderID(raw []byte) (string, error)
	OnWebsocketMessage(raw []byte)
	IsWebsocketEnabled(role Role) bool
	CreateWSURL(role Role) string
	GetSpecificCurrencyPair(pair types.CurrencyPair) string
	GetSupportedCurrencies() []string
	ShouldLogMessage(raw []byte) bool
	ParseAllSymbols(raw []byte) ([]types.Symbol, error)
	ParseGetMyTrades(raw []byte) ([]Trade, error)
	ParseGetPosition(raw []byte) (types.Position, error)
	ParseClosePosition(raw []byte) error
	ParseGetBalance(raw []byte) ([]types.Balance, error)
	GetSettings() Settings
	GetBalanceReservationCurrencyCode(pair types.CurrencyPair, side types.Side) string
}

// Role distinguishes the market-data websocket from the user/account one —
// venues commonly run them as separate connections with separate auth.
type Role int

const (
	RoleMarketData Role = iota
	RoleUserData
)

// Settings is the static per-venue configuration the core reads.
type Settings struct {
	ExchangeAccountID string
	Features          types.VenueFeatures
}

// CoreCallbacks bundles the four closures the core installs into an
// adapter at construction time, replacing the retrieved sources'
// set_on_order_created/set_on_order_cancelled/... mutable-closure-slot
// idiom with a single explicit value.
type CoreCallbacks struct {
	OnOrderCreated   func(clientOrderID, exchangeOrderID string, source types.EventSourceType)
	OnOrderCancelled func(clientOrderID string, source types.EventSourceType)
	OnOrderFilled    func(event types.FillEvent)
	OnTrade          func(pair types.CurrencyPair, tradeID string, price, amount decimal.Decimal, side types.Side, at time.Time)
}
