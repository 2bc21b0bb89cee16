// Package mockadapter is an in-memory VenueAdapter used by the core's own
// tests to inject orders and fills without any network I/O. Grounded on
// the retrieved Rust test helper (core/src/exchanges/general/test_helper.rs),
// which builds exchanges wired to no-op/stub clients for unit tests.
package mockadapter

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradecoord/internal/venue"
	"tradecoord/pkg/types"
)

// Adapter is a fully in-memory venue.Adapter implementation; it does not
// implement venue.Support. Every CreateOrder call succeeds immediately with
// an exchange id built from a counter and the current time;
// callers drive fills/cancels explicitly through the exported methods.
type Adapter struct {
	mu       sync.Mutex
	callbacks venue.CoreCallbacks
	nextID   int
	orders   map[string]types.OrderSnapshot
	balances []types.Balance
	settings venue.Settings
}

// New builds a mock adapter. callbacks is typically supplied by the engine
// wiring this adapter to the core's StateMachine/FillCoordinator.
func New(callbacks venue.CoreCallbacks, settings venue.Settings) *Adapter {
	return &Adapter{
		callbacks: callbacks,
		orders:    make(map[string]types.OrderSnapshot),
		settings:  settings,
	}
}

func (a *Adapter) RequestAllSymbols(ctx context.Context) ([]types.Symbol, error) {
	return nil, nil
}

func (a *Adapter) CreateOrder(ctx context.Context, spec venue.CreateOrderSpec) (venue.CreateOrderResult, error) {
	a.mu.Lock()
	a.nextID++
	exchangeID := "mock-" + string(rune('A'+a.nextID%26)) + time.Now().Format("150405.000000")
	a.mu.Unlock()

	if a.callbacks.OnOrderCreated != nil {
		a.callbacks.OnOrderCreated(spec.ClientOrderID, exchangeID, types.SourceWebsocket)
	}
	return venue.CreateOrderResult{ExchangeOrderID: exchangeID}, nil
}

func (a *Adapter) RequestCancelOrder(ctx context.Context, exchangeOrderID string) error {
	return nil
}

func (a *Adapter) CancelAllOrders(ctx context.Context, pair types.CurrencyPair) error {
	return nil
}

func (a *Adapter) GetOpenOrders(ctx context.Context) ([]types.OrderSnapshot, error) {
	return nil, nil
}

func (a *Adapter) GetOpenOrdersByCurrencyPair(ctx context.Context, pair types.CurrencyPair) ([]types.OrderSnapshot, error) {
	return nil, nil
}

func (a *Adapter) GetOrderInfo(ctx context.Context, exchangeOrderID string) (types.OrderSnapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.orders[exchangeOrderID]
	if !ok {
		return types.OrderSnapshot{}, &types.ExchangeError{Kind: types.ErrOrderNotFound, Message: exchangeOrderID}
	}
	return o, nil
}

func (a *Adapter) RequestMyTrades(ctx context.Context, pair types.CurrencyPair, since *time.Time) ([]venue.Trade, error) {
	return nil, nil
}

func (a *Adapter) RequestGetPosition(ctx context.Context, pair types.CurrencyPair) (types.Position, error) {
	return types.Position{CurrencyPair: pair}, nil
}

func (a *Adapter) RequestGetBalanceAndPosition(ctx context.Context) (venue.BalanceAndPositions, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return venue.BalanceAndPositions{Balances: append([]types.Balance(nil), a.balances...)}, nil
}

func (a *Adapter) GetBalance(ctx context.Context) ([]types.Balance, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]types.Balance(nil), a.balances...), nil
}

func (a *Adapter) RequestClosePosition(ctx context.Context, pos types.Position, price *decimal.Decimal) error {
	return nil
}

func (a *Adapter) Connect(ctx context.Context) error    { return nil }
func (a *Adapter) Disconnect(ctx context.Context) error { return nil }

// SetBalances seeds the balances GetBalance/RequestGetBalanceAndPosition
// will return, for tests driving BalancePositionLoop.
func (a *Adapter) SetBalances(balances []types.Balance) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balances = balances
}

// InjectFill drives the installed OnOrderFilled callback directly,
// bypassing any wire format — the core's ingestion pipeline is exercised
// exactly as it would be from a real adapter.
func (a *Adapter) InjectFill(event types.FillEvent) {
	if a.callbacks.OnOrderFilled != nil {
		a.callbacks.OnOrderFilled(event)
	}
}

// InjectCancel drives the installed OnOrderCancelled callback directly.
func (a *Adapter) InjectCancel(clientOrderID string) {
	if a.callbacks.OnOrderCancelled != nil {
		a.callbacks.OnOrderCancelled(clientOrderID, types.SourceWebsocket)
	}
}
