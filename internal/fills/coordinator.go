// Package fills implements FillCoordinator, the subsystem that ingests
// fill events from REST and WebSocket sources, reconciles them against the
// OrderPool's ledger, and derives cost, commission, and completion state.
package fills

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"tradecoord/internal/orders"
	"tradecoord/pkg/types"
)

// SymbolSource resolves per-instrument metadata needed for cost/price
// rounding. Grounded on the commission/derivative logic in the original
// handler — the core consumes this as a collaborator, never computes it.
type SymbolSource interface {
	Symbol(pair types.CurrencyPair) (types.Symbol, bool)
}

// TopOfBook is the minimal book view FillCoordinator needs for BNB-style
// commission conversion — not a full order book maintenance capability.
type TopOfBook struct {
	Bid *decimal.Decimal
	Ask *decimal.Decimal
}

// BookSource supplies top-of-book quotes for bridging currency pairs.
type BookSource interface {
	TopOfBook(pair types.CurrencyPair) (TopOfBook, bool)
}

// FeeSchedule supplies the venue's configured commission rate and referral
// fraction per order role.
type FeeSchedule interface {
	CommissionRate(role types.OrderRole) decimal.Decimal
	ReferralFraction(role types.OrderRole) decimal.Decimal
}

// fillIDCounter hands out process-unique fill ids without pulling in a uuid
// dependency (see DESIGN.md).
var fillIDCounter uint64

func init() {
	var seed [8]byte
	if _, err := rand.Read(seed[:]); err == nil {
		atomic.StoreUint64(&fillIDCounter, binary.BigEndian.Uint64(seed[:]))
	}
}

func nextFillID() string {
	n := atomic.AddUint64(&fillIDCounter, 1)
	return fmt.Sprintf("fill-%x", n)
}

// FatalError is the value fatalf panics with when an invariant violation
// that cannot be attributed to adversarial venue input is detected. Engine
// callers recover the goroutine processing the originating event and log
// the panic state rather than crashing the process (see internal/lifecycle).
type FatalError struct {
	Msg string
}

func (e *FatalError) Error() string { return e.Msg }

func fatalf(format string, args ...any) {
	panic(&FatalError{Msg: fmt.Sprintf(format, args...)})
}

// Coordinator is the FillCoordinator for a single venue account.
type Coordinator struct {
	pool     *orders.Pool
	sm       *orders.StateMachine
	buffered *orders.BufferedFills
	symbols  SymbolSource
	books    BookSource
	fees     FeeSchedule
	features types.VenueFeatures
	log      *slog.Logger
	now      func() time.Time
}

// Config bundles Coordinator's collaborators.
type Config struct {
	Pool     *orders.Pool
	SM       *orders.StateMachine
	Buffered *orders.BufferedFills
	Symbols  SymbolSource
	Books    BookSource
	Fees     FeeSchedule
	Features types.VenueFeatures
	Log      *slog.Logger
}

// New builds a Coordinator from cfg.
func New(cfg Config) *Coordinator {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		pool:     cfg.Pool,
		sm:       cfg.SM,
		buffered: cfg.Buffered,
		symbols:  cfg.Symbols,
		books:    cfg.Books,
		fees:     cfg.Fees,
		features: cfg.Features,
		log:      log.With("component", "fill_coordinator"),
		now:      time.Now,
	}
}

// HandleFillEvent runs the full ingress policy (§4.3 steps 1-4) and, once
// an order is resolved, the application pipeline (steps a-o). May panic
// with *FatalError for programmer-error invariant violations; callers must
// run this under a recovering supervisor (see internal/lifecycle).
func (c *Coordinator) HandleFillEvent(event types.FillEvent) {
	// 1. Source gating.
	if !c.features.AllowedFillEventSourceType.Allows(event.Source) {
		c.log.Warn("dropping fill event from disallowed source", "source", event.Source, "exchange_order_id", event.ExchangeOrderID)
		return
	}

	// 2. Mandatory field check.
	if event.ExchangeOrderID == "" {
		fatalf("fill event missing exchange_order_id")
	}

	// 3. Synthetic order insertion for liquidation/close-position fills.
	if event.FillType == types.FillTypeLiquidation || event.FillType == types.FillTypeClosePosition {
		c.synthesizeIfNeeded(event)
	}

	// 4. Order resolution.
	if ref, ok := c.pool.GetByExchange(event.ExchangeOrderID); ok {
		c.apply(ref, event)
		return
	}

	if event.ClientOrderID != "" {
		if err := c.sm.OrderCreated(event.ClientOrderID, event.ExchangeOrderID, event.Source); err != nil {
			c.log.Warn("could not bind exchange id for buffered order", "err", err)
			return
		}
		ref, ok := c.pool.GetByExchange(event.ExchangeOrderID)
		if !ok {
			c.log.Warn("order vanished immediately after creation", "exchange_order_id", event.ExchangeOrderID)
			return
		}
		c.apply(ref, event)
		c.drainBuffered(event.ExchangeOrderID)
		return
	}

	c.log.Info("fill for not-yet-registered order, buffering", "exchange_order_id", event.ExchangeOrderID)
	c.buffered.Add(event.ExchangeOrderID, event)
}

func (c *Coordinator) synthesizeIfNeeded(event types.FillEvent) {
	if _, ok := c.pool.GetByExchange(event.ExchangeOrderID); ok {
		return
	}
	if event.CurrencyPair == nil || event.OrderSide == nil || event.OrderAmount == nil || event.ClientOrderID != "" {
		fatalf("liquidation/close-position synthesis missing required fields for exchange_order_id %q", event.ExchangeOrderID)
	}

	clientID := fmt.Sprintf("synthetic-%s", event.ExchangeOrderID)
	header := types.OrderHeader{
		ClientOrderID: clientID,
		CurrencyPair:  *event.CurrencyPair,
		Side:          *event.OrderSide,
		OrderType:     types.OrderTypeLiquidation,
		Amount:        *event.OrderAmount,
		CreationTime:  c.now(),
	}
	ref := c.sm.Submit(header, event.FillPrice)
	ref.WithWrite(func(o *types.OrderSnapshot) {
		o.Props.Role = types.RoleTaker
	})

	if err := c.sm.OrderCreated(clientID, event.ExchangeOrderID, event.Source); err != nil {
		c.log.Warn("failed to bind synthesized liquidation order", "err", err)
	}
}

// drainBuffered replays every fill buffered for exchangeID through the
// application pipeline in arrival order. Not transactional: a failed event
// in the sequence is logged and skipped, the rest continue.
func (c *Coordinator) drainBuffered(exchangeID string) {
	ref, ok := c.pool.GetByExchange(exchangeID)
	if !ok {
		return
	}
	for _, event := range c.buffered.Drain(exchangeID) {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error("buffered fill drain panicked", "exchange_order_id", exchangeID, "panic", r)
				}
			}()
			c.apply(ref, event)
		}()
	}
}

func (c *Coordinator) apply(ref *orders.OrderRef, event types.FillEvent) {
	var header types.OrderHeader
	ref.WithRead(func(o *types.OrderSnapshot) { header = o.Header })

	symbol, ok := c.symbols.Symbol(header.CurrencyPair)
	if !ok {
		c.log.Error("no symbol metadata for currency pair, dropping fill", "pair", header.CurrencyPair)
		return
	}

	// a. Trade deduplication.
	dup := false
	ref.WithRead(func(o *types.OrderSnapshot) { dup = o.HasTradeID(event.TradeID) })
	if dup {
		c.log.Warn("dropping duplicate trade id", "trade_id", event.TradeID, "client_order_id", header.ClientOrderID)
		return
	}

	// b. Diff-after-nondiff guard.
	hasNonDiff := false
	ref.WithRead(func(o *types.OrderSnapshot) { hasNonDiff = o.HasNonDiffFill() })
	if event.IsDiff && hasNonDiff {
		c.log.Warn("dropping diff fill after a non-diff fill was already applied", "client_order_id", header.ClientOrderID)
		return
	}

	// c. Nondiff-not-strictly-greater guard.
	var filledAmount decimal.Decimal
	ref.WithRead(func(o *types.OrderSnapshot) { filledAmount = o.FilledAmount() })
	if !event.IsDiff && filledAmount.GreaterThanOrEqual(event.FillAmount) {
		c.log.Warn("dropping non-diff fill with non-increasing cumulative amount", "client_order_id", header.ClientOrderID)
		return
	}

	// d. Derive last fill data.
	lastAmount := event.FillAmount
	lastPrice := event.FillPrice
	lastCost := symbol.Cost(event.FillAmount, event.FillPrice)
	commissionAmount := event.CommissionAmount

	var fillCount int
	var filledCost, filledCommission decimal.Decimal
	ref.WithRead(func(o *types.OrderSnapshot) {
		fillCount = len(o.Fills)
		filledCost = o.FilledCost()
		filledCommission = o.FilledCommission()
	})

	if !event.IsDiff && fillCount > 0 {
		costDiff := lastCost.Sub(filledCost)
		if costDiff.Sign() <= 0 {
			c.log.Warn("dropping non-diff fill with non-increasing cumulative cost", "client_order_id", header.ClientOrderID)
			return
		}
		amountDiff := event.FillAmount.Sub(filledAmount)
		var priceDiff decimal.Decimal
		if symbol.IsDerivative {
			priceDiff = amountDiff.Div(costDiff)
		} else {
			priceDiff = costDiff.Div(amountDiff)
		}
		lastAmount = amountDiff
		lastPrice = symbol.PriceRound(priceDiff)
		lastCost = costDiff
		if commissionAmount != nil {
			adjusted := commissionAmount.Sub(filledCommission)
			commissionAmount = &adjusted
		}
	}

	// e. Zero-amount guard.
	if lastAmount.IsZero() {
		c.log.Warn("dropping fill that derives to zero amount", "client_order_id", header.ClientOrderID)
		return
	}

	// f. Missed-fill guard.
	if event.TotalFilledAmount != nil {
		if !filledAmount.Add(lastAmount).Equal(*event.TotalFilledAmount) {
			c.log.Warn("dropping fill inconsistent with reported total_filled_amount", "client_order_id", header.ClientOrderID)
			return
		}
	}

	// g. Terminal-status guard (fatal).
	var status types.OrderStatus
	var cancelRaised bool
	var currentRole types.OrderRole
	ref.WithRead(func(o *types.OrderSnapshot) {
		status = o.Props.Status
		cancelRaised = o.Internal.WasCancellationEventRaised
		currentRole = o.Props.Role
	})
	if status == types.StatusFailedToCreate || status == types.StatusCompleted || cancelRaised {
		fatalf("fill received for order %q past terminal status %s (cancel_raised=%v)", header.ClientOrderID, status, cancelRaised)
	}

	// h. Commission currency default.
	commissionCurrency := event.CommissionCurrency
	if commissionCurrency == "" {
		commissionCurrency = symbol.CommissionCurrencyFor(header.Side)
	}

	// i. Role resolution.
	role := event.OrderRole
	if role == types.RoleUnknown {
		role = currentRole
	}
	if role == types.RoleUnknown && commissionAmount == nil && event.CommissionRate == nil {
		fatalf("fill for order %q has neither commission, commission rate, nor a resolvable role", header.ClientOrderID)
	}

	// j. Expected commission rate.
	expectedRate := c.fees.CommissionRate(role)

	// k. Commission amount.
	if commissionAmount == nil {
		rate := expectedRate
		if event.CommissionRate != nil {
			rate = *event.CommissionRate
		}
		basis := lastAmount
		if commissionCurrency != symbol.Pair.Base {
			basis = lastCost
		}
		computed := basis.Mul(rate)
		commissionAmount = &computed
	}

	// l. BNB-style conversion.
	convertedCurrency := commissionCurrency
	convertedAmount := *commissionAmount
	if commissionCurrency != symbol.Pair.Base && commissionCurrency != symbol.Pair.Quote {
		if top, ok := c.books.TopOfBook(types.CurrencyPair{Base: commissionCurrency, Quote: symbol.Pair.Quote}); ok && top.Bid != nil {
			convertedAmount = commissionAmount.Mul(*top.Bid)
			convertedCurrency = symbol.Pair.Quote
		} else if top, ok := c.books.TopOfBook(types.CurrencyPair{Base: symbol.Pair.Quote, Quote: commissionCurrency}); ok && top.Ask != nil {
			convertedAmount = commissionAmount.Div(*top.Ask)
			convertedCurrency = symbol.Pair.Quote
		} else {
			c.log.Error("no bridging book for BNB-style commission conversion, leaving unchanged", "commission_currency", commissionCurrency)
		}
	}

	// m. Referral reward.
	referralReward := commissionAmount.Mul(c.fees.ReferralFraction(role))

	// n. Append OrderFill.
	fill := types.OrderFill{
		FillID:                            nextFillID(),
		TradeID:                           event.TradeID,
		Timestamp:                         event.FillDate,
		Price:                             lastPrice,
		Amount:                            lastAmount,
		Cost:                              lastCost,
		Role:                              role,
		CommissionCurrency:                commissionCurrency,
		CommissionAmount:                  *commissionAmount,
		ReferralRewardAmount:              referralReward,
		ConvertedCommissionCurrency:       convertedCurrency,
		ConvertedCommissionAmount:         convertedAmount,
		ExpectedConvertedCommissionAmount: convertedAmount,
		IsDiff:                            event.IsDiff,
		FillType:                          event.FillType,
	}
	if fill.Timestamp.IsZero() {
		fill.Timestamp = c.now()
	}

	var newFilledAmount decimal.Decimal
	var snap *types.OrderSnapshot
	ref.WithWrite(func(o *types.OrderSnapshot) {
		if o.Props.Role == types.RoleUnknown {
			o.Props.Role = role
		}
		o.Fills = append(o.Fills, fill)
		newFilledAmount = o.FilledAmount()
		snap = o.Clone()
	})

	// o. Post-conditions.
	if newFilledAmount.GreaterThan(header.Amount) {
		fatalf("order %q overfilled: filled_amount %s > header.amount %s", header.ClientOrderID, newFilledAmount, header.Amount)
	}

	c.emitOrderFilled(header.ClientOrderID, snap)

	if newFilledAmount.Equal(header.Amount) {
		c.sm.MarkCompleted(ref)
	}
}

// emitOrderFilled is split out so the StateMachine remains the single
// emitter of record; Coordinator reaches through it rather than holding
// its own EventBus handle.
func (c *Coordinator) emitOrderFilled(clientID string, snap *types.OrderSnapshot) {
	c.sm.EmitOrderFilled(clientID, snap)
}
