// Package types defines the shared data structures used across all packages.
//
// This package is the common vocabulary for the engine — order lifecycle
// types, fill events, venue feature enums, and the exchange-wide event
// variants. It has no dependencies on internal packages, so it can be
// imported by any layer.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: Buy or Sell.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderType enumerates the supported order lifecycles.
type OrderType string

const (
	OrderTypeLimit       OrderType = "LIMIT"
	OrderTypeMarket      OrderType = "MARKET"
	OrderTypeLiquidation OrderType = "LIQUIDATION" // synthesized by FillCoordinator, never submitted by a strategy
)

// OrderRole determines the fee schedule applied to an order's fills.
type OrderRole string

const (
	RoleUnknown OrderRole = ""
	RoleMaker   OrderRole = "MAKER"
	RoleTaker   OrderRole = "TAKER"
)

// OrderStatus is the order lifecycle state.
type OrderStatus string

const (
	StatusCreating       OrderStatus = "CREATING"
	StatusCreated        OrderStatus = "CREATED"
	StatusCanceling      OrderStatus = "CANCELING"
	StatusCanceled       OrderStatus = "CANCELED"
	StatusCompleted      OrderStatus = "COMPLETED"
	StatusFailedToCreate OrderStatus = "FAILED_TO_CREATE"
	StatusFailedToCancel OrderStatus = "FAILED_TO_CANCEL"
)

// IsTerminal reports whether status admits no further fills or transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusCanceled, StatusCompleted, StatusFailedToCreate:
		return true
	default:
		return false
	}
}

// FillType distinguishes ordinary trades from synthesized closing fills.
type FillType string

const (
	FillTypeUserTrade    FillType = "USER_TRADE"
	FillTypeLiquidation  FillType = "LIQUIDATION"
	FillTypeClosePosition FillType = "CLOSE_POSITION"
)

// EventSourceType classifies where a lifecycle event originated, used by
// venue features to gate which sources are trusted for a given signal.
type EventSourceType string

const (
	SourceAll         EventSourceType = "ALL"
	SourceFallbackOnly EventSourceType = "FALLBACK_ONLY"
	SourceNonFallback  EventSourceType = "NON_FALLBACK"
	SourceWebsocket    EventSourceType = "WEBSOCKET"
	SourceRestFallback EventSourceType = "REST_FALLBACK"
)

// IsFallback reports whether this concrete source is a REST-polling fallback
// path rather than the primary websocket stream.
func (s EventSourceType) IsFallback() bool {
	return s == SourceRestFallback
}

// Allows reports whether a concrete event source is permitted under a
// venue's configured allowance.
func (allowed EventSourceType) Allows(actual EventSourceType) bool {
	switch allowed {
	case SourceAll:
		return true
	case SourceFallbackOnly:
		return actual.IsFallback()
	case SourceNonFallback:
		return !actual.IsFallback()
	default:
		return false
	}
}

// ————————————————————————————————————————————————————————————————————————
// Symbols / currency pairs
// ————————————————————————————————————————————————————————————————————————

// CurrencyPair identifies a tradeable instrument, e.g. base=BTC quote=USDT.
type CurrencyPair struct {
	Base  string
	Quote string
}

func (p CurrencyPair) String() string {
	return fmt.Sprintf("%s/%s", p.Base, p.Quote)
}

// Symbol carries the per-instrument metadata FillCoordinator needs: tick
// rounding and whether cost is computed as amount*price or amount/price.
type Symbol struct {
	Pair         CurrencyPair
	PriceTick    decimal.Decimal
	IsDerivative bool // derivative instruments invert the cost formula (amount/price)
}

// PriceRound rounds p to the symbol's tick size, rounding halves away from
// zero.
func (s Symbol) PriceRound(p decimal.Decimal) decimal.Decimal {
	if s.PriceTick.IsZero() {
		return p
	}
	return p.DivRound(s.PriceTick, 0).Mul(s.PriceTick)
}

// Cost returns amount*price, or amount/price for a derivative symbol.
func (s Symbol) Cost(amount, price decimal.Decimal) decimal.Decimal {
	if s.IsDerivative {
		if price.IsZero() {
			return decimal.Zero
		}
		return amount.Div(price)
	}
	return amount.Mul(price)
}

// CommissionCurrencyFor returns the side's default commission currency:
// quote currency for a buy, base currency for a sell — the amount being
// given up in the trade.
func (s Symbol) CommissionCurrencyFor(side Side) string {
	if side == Buy {
		return s.Pair.Quote
	}
	return s.Pair.Base
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// OrderHeader is immutable after an order is created.
type OrderHeader struct {
	ClientOrderID     string
	ExchangeAccountID string
	CurrencyPair      CurrencyPair
	Side              Side
	OrderType         OrderType
	Amount            decimal.Decimal
	CreationTime      time.Time
	StrategyTag       string
}

// OrderProps is the mutable half of an order snapshot.
type OrderProps struct {
	Price           decimal.Decimal
	Role            OrderRole
	Status          OrderStatus
	ExchangeOrderID string
}

// StatusTransition records one status change with its timestamp.
type StatusTransition struct {
	Status OrderStatus
	Time   time.Time
}

// OrderInternalProps tracks bookkeeping not exposed to strategies.
type OrderInternalProps struct {
	WasCancellationEventRaised bool
	CreateRetryCount           int
	CancelRetryCount           int
}

// OrderFill is one execution against an order.
type OrderFill struct {
	FillID                             string
	TradeID                            string // empty if the venue assigned none
	Timestamp                          time.Time
	Price                              decimal.Decimal
	Amount                             decimal.Decimal
	Cost                               decimal.Decimal
	Role                               OrderRole
	CommissionCurrency                 string
	CommissionAmount                   decimal.Decimal
	ReferralRewardAmount               decimal.Decimal
	ConvertedCommissionCurrency        string
	ConvertedCommissionAmount          decimal.Decimal
	ExpectedConvertedCommissionAmount  decimal.Decimal
	IsDiff                             bool
	FillType                           FillType
}

// OrderSnapshot is the unit of ownership inside the OrderPool. Callers never
// hold one directly — they reach it through OrderPool's read/write closures.
type OrderSnapshot struct {
	Header        OrderHeader
	Props         OrderProps
	Fills         []OrderFill
	StatusHistory []StatusTransition
	Internal      OrderInternalProps
}

// FilledAmount returns the sum of all recorded fill amounts.
func (o *OrderSnapshot) FilledAmount() decimal.Decimal {
	total := decimal.Zero
	for _, f := range o.Fills {
		total = total.Add(f.Amount)
	}
	return total
}

// FilledCost returns the sum of all recorded fill costs.
func (o *OrderSnapshot) FilledCost() decimal.Decimal {
	total := decimal.Zero
	for _, f := range o.Fills {
		total = total.Add(f.Cost)
	}
	return total
}

// FilledCommission returns the sum of all recorded commission amounts.
func (o *OrderSnapshot) FilledCommission() decimal.Decimal {
	total := decimal.Zero
	for _, f := range o.Fills {
		total = total.Add(f.CommissionAmount)
	}
	return total
}

// HasNonDiffFill reports whether any recorded fill is cumulative.
func (o *OrderSnapshot) HasNonDiffFill() bool {
	for _, f := range o.Fills {
		if !f.IsDiff {
			return true
		}
	}
	return false
}

// HasTradeID reports whether tradeID already appears among this order's fills.
func (o *OrderSnapshot) HasTradeID(tradeID string) bool {
	if tradeID == "" {
		return false
	}
	for _, f := range o.Fills {
		if f.TradeID == tradeID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy suitable for handing to event subscribers
// without leaking a live pointer into the pool.
func (o *OrderSnapshot) Clone() *OrderSnapshot {
	cp := *o
	cp.Fills = append([]OrderFill(nil), o.Fills...)
	cp.StatusHistory = append([]StatusTransition(nil), o.StatusHistory...)
	return &cp
}

// ————————————————————————————————————————————————————————————————————————
// Fill ingress
// ————————————————————————————————————————————————————————————————————————

// FillEvent is the FillCoordinator's sole input, produced either directly
// from a venue websocket trade message or from a REST fallback poll.
type FillEvent struct {
	Source            EventSourceType
	TradeID           string // empty if none assigned
	ClientOrderID     string // empty if unknown to the source
	ExchangeOrderID   string
	FillPrice         decimal.Decimal
	FillAmount        decimal.Decimal
	IsDiff            bool
	TotalFilledAmount *decimal.Decimal // nil if the source didn't report one
	OrderRole         OrderRole        // RoleUnknown if not reported
	CommissionCurrency string
	CommissionRate     *decimal.Decimal
	CommissionAmount   *decimal.Decimal
	FillType           FillType
	CurrencyPair       *CurrencyPair // required for liquidation/close-position synthesis
	OrderSide          *Side
	OrderAmount        *decimal.Decimal
	FillDate           time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Order lifecycle events
// ————————————————————————————————————————————————————————————————————————

// OrderEventKind tags the variant carried by an OrderEvent.
type OrderEventKind string

const (
	CreateOrderSucceeded OrderEventKind = "CREATE_ORDER_SUCCEEDED"
	CreateOrderFailed    OrderEventKind = "CREATE_ORDER_FAILED"
	OrderFilled          OrderEventKind = "ORDER_FILLED"
	OrderCompleted       OrderEventKind = "ORDER_COMPLETED"
	CancelOrderSucceeded OrderEventKind = "CANCEL_ORDER_SUCCEEDED"
	CancelOrderFailed    OrderEventKind = "CANCEL_ORDER_FAILED"
)

// OrderEvent is emitted by OrderStateMachine (FillCoordinator emits
// OrderFilled through it) whenever an order transitions. Snapshot is a deep
// clone taken at the transition; every variant the state machine emits
// carries one.
type OrderEvent struct {
	ClientOrderID string
	Kind          OrderEventKind
	Snapshot      *OrderSnapshot
}

// ————————————————————————————————————————————————————————————————————————
// Exchange-wide event bus variants
// ————————————————————————————————————————————————————————————————————————

// ExchangeEventKind tags the variant carried by an ExchangeEvent.
type ExchangeEventKind string

const (
	EventOrder           ExchangeEventKind = "ORDER"
	EventBalanceUpdate   ExchangeEventKind = "BALANCE_UPDATE"
	EventLiquidationPrice ExchangeEventKind = "LIQUIDATION_PRICE"
	EventTrade           ExchangeEventKind = "TRADE"
)

// ExchangeEvent is the single type broadcast over the EventBus. Exactly one
// of the payload fields is populated, matching Kind.
type ExchangeEvent struct {
	Kind            ExchangeEventKind
	Order           *OrderEvent
	Balance         *BalanceUpdate
	LiquidationInfo *LiquidationPrice
	Trade           *Trade
}

// Balance is a single currency's free/locked holdings on a venue.
type Balance struct {
	Currency string
	Free     decimal.Decimal
	Locked   decimal.Decimal
}

// Position is a single currency pair's open position on a venue.
type Position struct {
	CurrencyPair CurrencyPair
	Amount       decimal.Decimal // signed: positive long, negative short
	Leverage     decimal.Decimal
}

// BalanceUpdate is emitted after a successful BalancePositionLoop pass.
type BalanceUpdate struct {
	ExchangeAccountID string
	Balances          []Balance
	Positions         []Position
	Time              time.Time
}

// LiquidationPrice is emitted per position after a balance pass, for
// strategies that want early warning of a margin call.
type LiquidationPrice struct {
	ExchangeAccountID string
	CurrencyPair      CurrencyPair
	Price             decimal.Decimal
	Time              time.Time
}

// Trade is a venue-side execution notification not yet tied to a known
// order (e.g. someone else's trade on a public channel, or our own trade
// surfaced before order resolution).
type Trade struct {
	CurrencyPair CurrencyPair
	TradeID      string
	Price        decimal.Decimal
	Amount       decimal.Decimal
	Side         Side
	Time         time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Errors
// ————————————————————————————————————————————————————————————————————————

// ErrorKind classifies a venue-facing error for the core's recovery logic.
type ErrorKind string

const (
	ErrNetwork        ErrorKind = "NETWORK"
	ErrRateLimit      ErrorKind = "RATE_LIMIT"
	ErrAuthentication ErrorKind = "AUTHENTICATION"
	ErrOrderNotFound  ErrorKind = "ORDER_NOT_FOUND"
	ErrInsufficientFunds ErrorKind = "INSUFFICIENT_FUNDS"
	ErrPrecision      ErrorKind = "PRECISION_ERROR"
	ErrUnknown        ErrorKind = "UNKNOWN"
)

// ExchangeError is the typed error shape returned across the VenueAdapter
// boundary, classified by Kind so callers can branch without string
// matching.
type ExchangeError struct {
	Code    *int
	Message string
	Kind    ErrorKind
	Wrapped error
}

func (e *ExchangeError) Error() string {
	if e.Code != nil {
		return fmt.Sprintf("%s (code %d): %s", e.Kind, *e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ExchangeError) Unwrap() error {
	return e.Wrapped
}

// ————————————————————————————————————————————————————————————————————————
// Venue features
// ————————————————————————————————————————————————————————————————————————

// OpenOrdersType controls how a venue's open orders are queried.
type OpenOrdersType string

const (
	OpenOrdersAllCurrencyPair OpenOrdersType = "ALL_CURRENCY_PAIR"
	OpenOrdersOneCurrencyPair OpenOrdersType = "ONE_CURRENCY_PAIR"
	OpenOrdersNone            OpenOrdersType = "NONE"
)

// RestFillsType controls which REST fallback a venue supports for fills.
type RestFillsType string

const (
	RestFillsNone         RestFillsType = "NONE"
	RestFillsMyTrades     RestFillsType = "MY_TRADES"
	RestFillsGetOrderInfo RestFillsType = "GET_ORDER_INFO"
)

// BalancePositionOption controls how BalancePositionLoop retrieves
// balances and positions for a venue.
type BalancePositionOption string

const (
	BalancePositionNonDerivative     BalancePositionOption = "NON_DERIVATIVE"
	BalancePositionSingleRequest     BalancePositionOption = "SINGLE_REQUEST"
	BalancePositionIndividualRequest BalancePositionOption = "INDIVIDUAL_REQUESTS"
)

// VenueFeatures is the configuration surface the core reads per venue.
type VenueFeatures struct {
	OpenOrdersType                OpenOrdersType
	RestFillsType                 RestFillsType
	BalancePositionOption         BalancePositionOption
	AllowedCreateEventSourceType  EventSourceType
	AllowedCancelEventSourceType  EventSourceType
	AllowedFillEventSourceType    EventSourceType
	EmptyResponseIsOk             bool
}
