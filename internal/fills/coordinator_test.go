package fills

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"tradecoord/internal/orders"
	"tradecoord/pkg/types"
)

type stubSymbols struct {
	symbol types.Symbol
}

func (s stubSymbols) Symbol(pair types.CurrencyPair) (types.Symbol, bool) {
	return s.symbol, true
}

type stubBooks struct {
	tops map[types.CurrencyPair]TopOfBook
}

func (s stubBooks) TopOfBook(pair types.CurrencyPair) (TopOfBook, bool) {
	t, ok := s.tops[pair]
	return t, ok
}

type stubFees struct {
	rate     decimal.Decimal
	referral decimal.Decimal
}

func (f stubFees) CommissionRate(role types.OrderRole) decimal.Decimal { return f.rate }
func (f stubFees) ReferralFraction(role types.OrderRole) decimal.Decimal {
	return f.referral
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newHarness(t *testing.T) (*Coordinator, *orders.Pool, *orders.StateMachine, func() []types.OrderEvent) {
	t.Helper()

	pool := orders.NewPool()
	var mu sync.Mutex
	var events []types.OrderEvent
	sm := orders.NewStateMachine(pool, func(e types.OrderEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})
	buffered := orders.NewBufferedFills(0, 0, nil)

	pair := types.CurrencyPair{Base: "PHB", Quote: "BTC"}
	symbol := types.Symbol{Pair: pair, PriceTick: dec("0.01")}

	coord := New(Config{
		Pool:     pool,
		SM:       sm,
		Buffered: buffered,
		Symbols:  stubSymbols{symbol: symbol},
		Books:    stubBooks{tops: map[types.CurrencyPair]TopOfBook{}},
		Fees:     stubFees{rate: dec("0.001"), referral: dec("0.1")},
		Features: types.VenueFeatures{AllowedFillEventSourceType: types.SourceAll},
	})

	get := func() []types.OrderEvent {
		mu.Lock()
		defer mu.Unlock()
		return append([]types.OrderEvent(nil), events...)
	}
	return coord, pool, sm, get
}

func submitCreatedOrder(sm *orders.StateMachine, clientID, exchangeID string, amount decimal.Decimal, side types.Side) {
	header := types.OrderHeader{
		ClientOrderID: clientID,
		CurrencyPair:  types.CurrencyPair{Base: "PHB", Quote: "BTC"},
		Side:          side,
		OrderType:     types.OrderTypeLimit,
		Amount:        amount,
	}
	sm.Submit(header, dec("0.8"))
	_ = sm.OrderCreated(clientID, exchangeID, types.SourceWebsocket)
}

// Scenario 1: two diff fills sum to completion.
func TestTwoDiffFillsCompleteOrder(t *testing.T) {
	t.Parallel()

	coord, pool, _, events := newHarness(t)
	submitCreatedOrder(coord.sm, "c1", "e1", dec("12"), types.Buy)

	coord.HandleFillEvent(types.FillEvent{
		Source: types.SourceWebsocket, TradeID: "T1", ExchangeOrderID: "e1",
		FillPrice: dec("0.8"), FillAmount: dec("5"), IsDiff: true, FillType: types.FillTypeUserTrade,
		OrderRole: types.RoleMaker,
	})
	coord.HandleFillEvent(types.FillEvent{
		Source: types.SourceWebsocket, TradeID: "T2", ExchangeOrderID: "e1",
		FillPrice: dec("0.8"), FillAmount: dec("7"), IsDiff: true, FillType: types.FillTypeUserTrade,
		OrderRole: types.RoleMaker,
	})

	ref, _ := pool.GetByExchange("e1")
	var filled decimal.Decimal
	var status types.OrderStatus
	var numFills int
	ref.WithRead(func(o *types.OrderSnapshot) {
		filled = o.FilledAmount()
		status = o.Props.Status
		numFills = len(o.Fills)
	})

	if !filled.Equal(dec("12")) {
		t.Fatalf("filled_amount = %s, want 12", filled)
	}
	if status != types.StatusCompleted {
		t.Fatalf("status = %s, want Completed", status)
	}
	if numFills != 2 {
		t.Fatalf("numFills = %d, want 2", numFills)
	}

	got := events()
	var kinds []types.OrderEventKind
	for _, e := range got {
		kinds = append(kinds, e.Kind)
	}
	wantTail := []types.OrderEventKind{types.OrderFilled, types.OrderFilled, types.OrderCompleted}
	if len(kinds) < 3 {
		t.Fatalf("events = %v, want at least %v", kinds, wantTail)
	}
	for i, k := range wantTail {
		if kinds[len(kinds)-3+i] != k {
			t.Fatalf("events tail = %v, want %v", kinds[len(kinds)-3:], wantTail)
		}
	}
}

// Scenario 2: two non-diff (cumulative) fills.
func TestTwoNonDiffFillsDeriveDeltas(t *testing.T) {
	t.Parallel()

	coord, pool, _, _ := newHarness(t)
	submitCreatedOrder(coord.sm, "c1", "e1", dec("12"), types.Buy)

	commission1 := dec("0.01")
	coord.HandleFillEvent(types.FillEvent{
		Source: types.SourceWebsocket, ExchangeOrderID: "e1",
		FillPrice: dec("0.2"), FillAmount: dec("5"),
		TotalFilledAmount: ptr(dec("5")),
		CommissionAmount:  &commission1,
		OrderRole:         types.RoleMaker,
		FillType:          types.FillTypeUserTrade,
	})
	commission2 := dec("0.03")
	coord.HandleFillEvent(types.FillEvent{
		Source: types.SourceWebsocket, ExchangeOrderID: "e1",
		FillPrice: dec("0.3"), FillAmount: dec("10"),
		TotalFilledAmount: ptr(dec("10")),
		CommissionAmount:  &commission2,
		OrderRole:         types.RoleMaker,
		FillType:          types.FillTypeUserTrade,
	})

	ref, _ := pool.GetByExchange("e1")
	var fills []types.OrderFill
	ref.WithRead(func(o *types.OrderSnapshot) { fills = o.Fills })

	if len(fills) != 2 {
		t.Fatalf("len(fills) = %d, want 2", len(fills))
	}
	if !fills[0].Price.Equal(dec("0.2")) || !fills[0].Amount.Equal(dec("5")) || !fills[0].CommissionAmount.Equal(dec("0.01")) {
		t.Fatalf("fills[0] = %+v", fills[0])
	}
	if !fills[1].Amount.Equal(dec("5")) || !fills[1].CommissionAmount.Equal(dec("0.02")) {
		t.Fatalf("fills[1] = %+v, want amount=5 commission=0.02", fills[1])
	}
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }

// Scenario 3: duplicate trade id is dropped.
func TestDuplicateTradeIDDropped(t *testing.T) {
	t.Parallel()

	coord, pool, _, _ := newHarness(t)
	submitCreatedOrder(coord.sm, "c1", "e1", dec("12"), types.Buy)

	coord.HandleFillEvent(types.FillEvent{
		Source: types.SourceWebsocket, TradeID: "T1", ExchangeOrderID: "e1",
		FillPrice: dec("0.8"), FillAmount: dec("5"), IsDiff: true, FillType: types.FillTypeUserTrade,
		OrderRole: types.RoleMaker,
	})
	coord.HandleFillEvent(types.FillEvent{
		Source: types.SourceWebsocket, TradeID: "T1", ExchangeOrderID: "e1",
		FillPrice: dec("0.8"), FillAmount: dec("0.2"), IsDiff: true, FillType: types.FillTypeUserTrade,
		OrderRole: types.RoleMaker,
	})

	ref, _ := pool.GetByExchange("e1")
	var numFills int
	ref.WithRead(func(o *types.OrderSnapshot) { numFills = len(o.Fills) })
	if numFills != 1 {
		t.Fatalf("numFills = %d, want 1 (duplicate must be dropped)", numFills)
	}
}

// Scenario 4: a diff fill after a non-diff fill is dropped.
func TestDiffAfterNonDiffDropped(t *testing.T) {
	t.Parallel()

	coord, pool, _, _ := newHarness(t)
	submitCreatedOrder(coord.sm, "c1", "e1", dec("12"), types.Buy)

	coord.HandleFillEvent(types.FillEvent{
		Source: types.SourceWebsocket, ExchangeOrderID: "e1",
		FillPrice: dec("0.2"), FillAmount: dec("5"), IsDiff: false, FillType: types.FillTypeUserTrade,
		TotalFilledAmount: ptr(dec("5")), OrderRole: types.RoleMaker,
	})
	coord.HandleFillEvent(types.FillEvent{
		Source: types.SourceWebsocket, TradeID: "T2", ExchangeOrderID: "e1",
		FillPrice: dec("0.2"), FillAmount: dec("1"), IsDiff: true, FillType: types.FillTypeUserTrade,
		OrderRole: types.RoleMaker,
	})

	ref, _ := pool.GetByExchange("e1")
	var numFills int
	ref.WithRead(func(o *types.OrderSnapshot) { numFills = len(o.Fills) })
	if numFills != 1 {
		t.Fatalf("numFills = %d, want 1 (diff-after-nondiff must be dropped)", numFills)
	}
}

// Scenario 5: liquidation synthesis for an unknown order.
func TestLiquidationSynthesis(t *testing.T) {
	t.Parallel()

	coord, pool, _, events := newHarness(t)

	pair := types.CurrencyPair{Base: "PHB", Quote: "BTC"}
	side := types.Buy
	amount := dec("12")
	coord.HandleFillEvent(types.FillEvent{
		Source: types.SourceWebsocket, ExchangeOrderID: "X",
		FillPrice: dec("0.2"), FillAmount: dec("5"), IsDiff: true,
		FillType:     types.FillTypeLiquidation,
		CurrencyPair: &pair, OrderSide: &side, OrderAmount: &amount,
	})

	ref, ok := pool.GetByExchange("X")
	if !ok {
		t.Fatal("expected a synthesized order bound to exchange_order_id X")
	}
	var header types.OrderHeader
	var props types.OrderProps
	var numFills int
	ref.WithRead(func(o *types.OrderSnapshot) {
		header = o.Header
		props = o.Props
		numFills = len(o.Fills)
	})

	if header.OrderType != types.OrderTypeLiquidation {
		t.Fatalf("order type = %s, want Liquidation", header.OrderType)
	}
	if props.Role != types.RoleTaker {
		t.Fatalf("role = %s, want Taker", props.Role)
	}
	if numFills != 1 {
		t.Fatalf("numFills = %d, want 1", numFills)
	}

	foundCreate := false
	for _, e := range events() {
		if e.Kind == types.CreateOrderSucceeded {
			foundCreate = true
		}
	}
	if !foundCreate {
		t.Fatal("expected a CreateOrderSucceeded event for the synthesized order")
	}
}

// Overfill must panic as a fatal programmer-error invariant violation.
func TestOverfillPanics(t *testing.T) {
	t.Parallel()

	coord, _, _, _ := newHarness(t)
	submitCreatedOrder(coord.sm, "c1", "e1", dec("5"), types.Buy)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected HandleFillEvent to panic on overfill")
		} else if _, ok := r.(*FatalError); !ok {
			t.Fatalf("expected *FatalError panic, got %T: %v", r, r)
		}
	}()

	coord.HandleFillEvent(types.FillEvent{
		Source: types.SourceWebsocket, ExchangeOrderID: "e1",
		FillPrice: dec("0.8"), FillAmount: dec("10"), IsDiff: true, FillType: types.FillTypeUserTrade,
		OrderRole: types.RoleMaker,
	})
}
