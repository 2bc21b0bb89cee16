// Package engine wires the coordination core together per venue account:
// an Adapter, the OrderPool/StateMachine, the FillCoordinator, a
// RequestScheduler, a BalancePositionLoop, and a shared EventBus, all
// supervised under one lifecycle.Manager.
//
// Grounded on the teacher's internal/engine.Engine: the same
// New/Start/Stop shape and the same "launch one goroutine per feed,
// supervise it, fan events out to dashboard/strategy consumers" structure,
// generalized from one hardcoded Polymarket market-maker loop to an
// arbitrary list of venue accounts each running the full order/fill
// coordination pipeline.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"tradecoord/internal/balance"
	"tradecoord/internal/config"
	"tradecoord/internal/controlpanel"
	"tradecoord/internal/eventbus"
	"tradecoord/internal/fills"
	"tradecoord/internal/lifecycle"
	"tradecoord/internal/market"
	"tradecoord/internal/orders"
	"tradecoord/internal/scheduler"
	"tradecoord/internal/venue"
	"tradecoord/internal/venue/mockadapter"
	"tradecoord/internal/venue/refadapter"
	"tradecoord/pkg/types"
)

// bookAdapter bridges market.Book's two-pointer TopOfBook (internal/balance's
// shape) to fills.BookSource's struct-returning shape — the two packages
// ask for top-of-book in different forms, so this one-line wrapper saves
// Book itself from depending on either consumer.
type bookAdapter struct {
	book *market.Book
}

func (b bookAdapter) TopOfBook(pair types.CurrencyPair) (fills.TopOfBook, bool) {
	bid, ask, ok := b.book.TopOfBook(pair)
	if !ok {
		return fills.TopOfBook{}, false
	}
	return fills.TopOfBook{Bid: bid, Ask: ask}, true
}

// dynamicFees is a FeeSchedule whose rates can be replaced atomically at
// runtime, backing the control panel's /set_config operation.
type dynamicFees struct {
	current atomic.Pointer[fills.StaticFeeSchedule]
}

func newDynamicFees(initial fills.StaticFeeSchedule) *dynamicFees {
	d := &dynamicFees{}
	d.Store(initial)
	return d
}

func (d *dynamicFees) Store(s fills.StaticFeeSchedule) { d.current.Store(&s) }

func (d *dynamicFees) CommissionRate(role types.OrderRole) decimal.Decimal {
	return d.current.Load().CommissionRate(role)
}

func (d *dynamicFees) ReferralFraction(role types.OrderRole) decimal.Decimal {
	return d.current.Load().ReferralFraction(role)
}

// venueRuntime bundles one venue account's live collaborators.
type venueRuntime struct {
	cfg         config.VenueConfig
	adapter     venue.Adapter
	pool        *orders.Pool
	sm          *orders.StateMachine
	buffered    *orders.BufferedFills
	coordinator *fills.Coordinator
	scheduler   *scheduler.Scheduler
	symbols     *venue.SymbolTable
	book        *market.Book
	fees        *dynamicFees
	balanceLoop *balance.Loop

	completedMu sync.Mutex
	completed   []string // client_order_ids in terminal-reached order, oldest first
}

func (vr *venueRuntime) recordTerminal(clientID string) {
	vr.completedMu.Lock()
	vr.completed = append(vr.completed, clientID)
	vr.completedMu.Unlock()
}

func (vr *venueRuntime) evictionCandidates() []string {
	vr.completedMu.Lock()
	defer vr.completedMu.Unlock()
	out := append([]string(nil), vr.completed...)
	return out
}

func (vr *venueRuntime) dropEvicted(n int) {
	vr.completedMu.Lock()
	defer vr.completedMu.Unlock()
	if n > len(vr.completed) {
		n = len(vr.completed)
	}
	vr.completed = vr.completed[n:]
}

// Engine is the process-wide supervisor: every configured venue account
// plus the shared infrastructure (event bus, lifecycle manager) it runs
// under.
type Engine struct {
	cfg       *config.Config
	log       *slog.Logger
	bus       *eventbus.Bus
	lifecycle *lifecycle.Manager
	venues    map[string]*venueRuntime
	startedAt time.Time
	wg        sync.WaitGroup
}

// New builds an Engine from cfg without starting any background work.
func New(cfg *config.Config, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "engine")

	e := &Engine{
		cfg:    cfg,
		log:    log,
		bus:    eventbus.New(0),
		venues: make(map[string]*venueRuntime, len(cfg.Venues)),
	}

	for _, vc := range cfg.Venues {
		vr, err := e.buildVenue(vc)
		if err != nil {
			return nil, fmt.Errorf("engine: venue %q: %w", vc.ExchangeAccountID, err)
		}
		e.venues[vc.ExchangeAccountID] = vr
	}

	e.lifecycle = lifecycle.New(context.Background(), e.cancelOpenOrders, log)
	return e, nil
}

func (e *Engine) buildVenue(vc config.VenueConfig) (*venueRuntime, error) {
	log := e.log.With("exchange_account_id", vc.ExchangeAccountID)

	symbols := make([]types.Symbol, 0, len(vc.Symbols))
	for _, sc := range vc.Symbols {
		tick, err := decimal.NewFromString(sc.PriceTick)
		if err != nil && sc.PriceTick != "" {
			return nil, fmt.Errorf("symbol %s/%s: invalid price_tick %q: %w", sc.Base, sc.Quote, sc.PriceTick, err)
		}
		symbols = append(symbols, types.Symbol{
			Pair:         types.CurrencyPair{Base: sc.Base, Quote: sc.Quote},
			PriceTick:    tick,
			IsDerivative: sc.IsDerivative,
		})
	}
	symbolTable := venue.NewSymbolTable(symbols)

	book := market.NewBook()

	makerRate, _ := decimal.NewFromString(vc.Fees.MakerRate)
	takerRate, _ := decimal.NewFromString(vc.Fees.TakerRate)
	makerReferral, _ := decimal.NewFromString(vc.Fees.MakerReferralFraction)
	takerReferral, _ := decimal.NewFromString(vc.Fees.TakerReferralFraction)
	fees := newDynamicFees(fills.StaticFeeSchedule{
		MakerRate:             makerRate,
		TakerRate:             takerRate,
		MakerReferralFraction: makerReferral,
		TakerReferralFraction: takerReferral,
	})

	sched := scheduler.New(log)
	for _, lc := range vc.Limits {
		sched.Configure(scheduler.Kind(lc.Kind), lc.RequestsPerPeriod, lc.PeriodDuration)
	}

	pool := orders.NewPool()

	vr := &venueRuntime{
		cfg:  vc,
		pool: pool,
		buffered: orders.NewBufferedFills(
			10*e.cfg.Retention.MaxOrderLifetime,
			1000,
			func(exchangeOrderID string, dropped int) {
				log.Warn("buffered fills evicted without a matching order", "exchange_order_id", exchangeOrderID, "dropped", dropped)
			},
		),
		scheduler: sched,
		symbols:   symbolTable,
		book:      book,
		fees:      fees,
	}

	vr.sm = orders.NewStateMachine(pool, e.bus.PublishOrder)
	vr.coordinator = fills.New(fills.Config{
		Pool:     pool,
		SM:       vr.sm,
		Buffered: vr.buffered,
		Symbols:  symbolTable,
		Books:    bookAdapter{book: book},
		Fees:     fees,
		Features: featuresFromConfig(vc.Features),
		Log:      log,
	})

	callbacks := venue.CoreCallbacks{
		OnOrderCreated: func(clientOrderID, exchangeOrderID string, source types.EventSourceType) {
			if err := vr.sm.OrderCreated(clientOrderID, exchangeOrderID, source); err != nil {
				log.Warn("order_created failed", "client_order_id", clientOrderID, "error", err)
				return
			}
			for _, event := range vr.buffered.Drain(exchangeOrderID) {
				event := event
				lifecycle.Supervise(log, "buffered_fill_drain", func() { vr.coordinator.HandleFillEvent(event) })
			}
		},
		OnOrderCancelled: func(clientOrderID string, source types.EventSourceType) {
			if err := vr.sm.OrderCancelled(clientOrderID, source); err != nil {
				log.Warn("order_cancelled failed", "client_order_id", clientOrderID, "error", err)
			}
		},
		OnOrderFilled: func(event types.FillEvent) {
			lifecycle.Supervise(log, "fill_coordinator", func() { vr.coordinator.HandleFillEvent(event) })
		},
		OnTrade: func(pair types.CurrencyPair, tradeID string, price, amount decimal.Decimal, side types.Side, at time.Time) {
			book.OnTrade(pair, tradeID, price, amount, side, at)
			e.bus.Publish(types.ExchangeEvent{
				Kind: types.EventTrade,
				Trade: &types.Trade{
					CurrencyPair: pair,
					TradeID:      tradeID,
					Price:        price,
					Amount:       amount,
					Side:         side,
					Time:         at,
				},
			})
		},
	}

	adapter, err := buildAdapter(vc, sched, callbacks, log)
	if err != nil {
		return nil, err
	}
	vr.adapter = adapter

	vr.balanceLoop = balance.New(balance.Config{
		Adapter:           adapter,
		Scheduler:         sched,
		Bus:               e.bus,
		Symbols:           symbolTable,
		Books:             book,
		ExchangeAccountID: vc.ExchangeAccountID,
		Option:            featuresFromConfig(vc.Features).BalancePositionOption,
		Log:               log,
	})

	return vr, nil
}

func buildAdapter(vc config.VenueConfig, sched *scheduler.Scheduler, callbacks venue.CoreCallbacks, log *slog.Logger) (venue.Adapter, error) {
	switch vc.Adapter {
	case config.AdapterMock:
		return mockadapter.New(callbacks, venue.Settings{
			ExchangeAccountID: vc.ExchangeAccountID,
			Features:          featuresFromConfig(vc.Features),
		}), nil
	case config.AdapterReference:
		return refadapter.New(refadapter.Config{
			BaseURL:       vc.API.BaseURL,
			WebsocketURL:  vc.API.WebsocketURL,
			PrivateKeyHex: vc.Wallet.PrivateKey,
			ChainID:       vc.Wallet.ChainID,
			DryRun:        vc.DryRun,
			Log:           log,
		}, sched, callbacks)
	default:
		return nil, fmt.Errorf("unknown adapter kind %q", vc.Adapter)
	}
}

func featuresFromConfig(fc config.FeaturesConfig) types.VenueFeatures {
	return types.VenueFeatures{
		OpenOrdersType:               types.OpenOrdersType(fc.OpenOrdersType),
		RestFillsType:                types.RestFillsType(fc.RestFillsType),
		BalancePositionOption:        types.BalancePositionOption(fc.BalancePositionOption),
		AllowedCreateEventSourceType: types.EventSourceType(fc.AllowedCreateEventSourceType),
		AllowedCancelEventSourceType: types.EventSourceType(fc.AllowedCancelEventSourceType),
		AllowedFillEventSourceType:   types.EventSourceType(fc.AllowedFillEventSourceType),
		EmptyResponseIsOk:            fc.EmptyResponseIsOk,
	}
}

// trackTerminalOrders subscribes to the shared bus and records each order
// that reaches a terminal state, in arrival order, so sweepEvictions has
// something to hand Pool.Evict — the pool itself has no global ordering
// across its shards. The bus carries every venue's order events and they
// are not filtered by venue, so other venues' client ids are recorded too;
// Pool.Evict skips ids its pool does not hold.
func (e *Engine) trackTerminalOrders(vr *venueRuntime) {
	sub := e.bus.Subscribe(256)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx := e.lifecycle.Context()
		for {
			event, err := sub.Next(ctx)
			if err != nil {
				return
			}
			if event.Kind != types.EventOrder || event.Order == nil {
				continue
			}
			switch event.Order.Kind {
			case types.OrderCompleted, types.CancelOrderSucceeded, types.CreateOrderFailed:
				vr.recordTerminal(event.Order.ClientOrderID)
			}
		}
	}()
}

// Start launches every venue's background work: the adapter connection,
// the periodic balance/position loop, and the buffered-fills/terminal-order
// sweepers. Each runs under lifecycle.Supervise so a panic in one venue
// never takes down the others.
func (e *Engine) Start(ctx context.Context) error {
	e.startedAt = time.Now()

	for accountID, vr := range e.venues {
		vr := vr
		accountID := accountID

		if err := vr.adapter.Connect(ctx); err != nil {
			return fmt.Errorf("engine: venue %q: connect: %w", accountID, err)
		}

		e.trackTerminalOrders(vr)

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.runBalanceLoop(accountID, vr)
		}()

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.runSweeper(accountID, vr)
		}()
	}

	e.log.Info("engine started", "venues", len(e.venues))
	return nil
}

func (e *Engine) runBalanceLoop(accountID string, vr *venueRuntime) {
	ctx := e.lifecycle.Context()
	ticker := time.NewTicker(vr.cfg.BalancePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := lifecycle.Supervise(e.log, "balance_loop:"+accountID, func() {
				if err := vr.balanceLoop.Run(ctx); err != nil {
					e.log.Warn("balance loop attempt failed", "exchange_account_id", accountID, "error", err)
				}
			})
			if state.Recovered {
				e.log.Error("balance loop recovered from panic", "exchange_account_id", accountID, "message", state.Message)
			}
		}
	}
}

func (e *Engine) runSweeper(accountID string, vr *venueRuntime) {
	ctx := e.lifecycle.Context()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lifecycle.Supervise(e.log, "sweeper:"+accountID, func() {
				vr.buffered.Sweep()
				e.sweepEvictions(vr)
			})
		}
	}
}

func (e *Engine) sweepEvictions(vr *venueRuntime) {
	candidates := vr.evictionCandidates()
	if len(candidates) == 0 {
		return
	}
	n := vr.pool.Evict(candidates, e.cfg.Retention.MaxTerminalOrders)
	if n > 0 {
		vr.dropEvicted(n)
	}
}

// cancelOpenOrders is the lifecycle.CancelOpenOrdersFunc run once during
// graceful shutdown: it asks every venue to cancel every order in every
// configured symbol, a coarse but safe fallback since not_finished orders
// may not yet have an exchange_order_id to cancel individually.
func (e *Engine) cancelOpenOrders(ctx context.Context) error {
	var firstErr error
	for accountID, vr := range e.venues {
		for _, sc := range vr.cfg.Symbols {
			pair := types.CurrencyPair{Base: sc.Base, Quote: sc.Quote}
			if err := vr.adapter.CancelAllOrders(ctx, pair); err != nil {
				e.log.Warn("cancel_all_orders failed during shutdown", "exchange_account_id", accountID, "pair", pair, "error", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

// Stop runs graceful shutdown exactly once and waits for all supervised
// goroutines to exit.
func (e *Engine) Stop(ctx context.Context) error {
	if err := e.lifecycle.Stop(ctx); err != nil {
		return err
	}
	e.wg.Wait()
	for accountID, vr := range e.venues {
		if err := vr.adapter.Disconnect(ctx); err != nil {
			e.log.Warn("disconnect failed during shutdown", "exchange_account_id", accountID, "error", err)
		}
	}
	return nil
}

// Bus exposes the shared event bus for external subscribers (e.g. a
// future strategy layer or test harness).
func (e *Engine) Bus() *eventbus.Bus { return e.bus }

// Stats implements controlpanel.StatsProvider.
func (e *Engine) Stats() controlpanel.Stats {
	stats := controlpanel.Stats{StartedAt: e.startedAt}
	for _, vr := range e.venues {
		stats.OpenOrders += len(vr.pool.NotFinishedClientIDs())
		stats.BufferedFills += vr.buffered.KeyCount()
	}
	stats.EventSubscribers = e.bus.SubscriberCount()
	return stats
}

// redactedVenue is the JSON shape GetConfig returns: the account id,
// adapter kind, dry_run flag, fees and symbols. Wallet, API endpoints,
// features, limits and poll interval are left out.
type redactedVenue struct {
	ExchangeAccountID string                `json:"exchange_account_id"`
	Adapter           config.AdapterKind    `json:"adapter"`
	DryRun            bool                  `json:"dry_run"`
	Fees              config.FeesConfig     `json:"fees"`
	Symbols           []config.SymbolConfig `json:"symbols"`
}

// GetConfig implements controlpanel.ConfigStore.
func (e *Engine) GetConfig() (any, error) {
	out := make([]redactedVenue, 0, len(e.cfg.Venues))
	for _, vc := range e.cfg.Venues {
		out = append(out, redactedVenue{
			ExchangeAccountID: vc.ExchangeAccountID,
			Adapter:           vc.Adapter,
			DryRun:            vc.DryRun,
			Fees:              vc.Fees,
			Symbols:           vc.Symbols,
		})
	}
	return out, nil
}

// setConfigRequest is the body /set_config accepts: a fee-schedule update
// for one already-configured venue. Other fields (wallet, endpoints,
// symbols) require a restart, since they are wired into adapter
// construction at New time.
type setConfigRequest struct {
	ExchangeAccountID string            `json:"exchange_account_id"`
	Fees              config.FeesConfig `json:"fees"`
}

// SetConfig implements controlpanel.ConfigStore.
func (e *Engine) SetConfig(raw json.RawMessage) error {
	var req setConfigRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("engine: set_config: %w", err)
	}
	vr, ok := e.venues[req.ExchangeAccountID]
	if !ok {
		return fmt.Errorf("engine: set_config: unknown exchange_account_id %q", req.ExchangeAccountID)
	}

	makerRate, err := decimal.NewFromString(req.Fees.MakerRate)
	if err != nil {
		return fmt.Errorf("engine: set_config: maker_rate: %w", err)
	}
	takerRate, err := decimal.NewFromString(req.Fees.TakerRate)
	if err != nil {
		return fmt.Errorf("engine: set_config: taker_rate: %w", err)
	}
	makerReferral, err := decimal.NewFromString(req.Fees.MakerReferralFraction)
	if err != nil {
		return fmt.Errorf("engine: set_config: maker_referral_fraction: %w", err)
	}
	takerReferral, err := decimal.NewFromString(req.Fees.TakerReferralFraction)
	if err != nil {
		return fmt.Errorf("engine: set_config: taker_referral_fraction: %w", err)
	}

	vr.fees.Store(fills.StaticFeeSchedule{
		MakerRate:             makerRate,
		TakerRate:             takerRate,
		MakerReferralFraction: makerReferral,
		TakerReferralFraction: takerReferral,
	})
	e.log.Info("fee schedule updated", "exchange_account_id", req.ExchangeAccountID)
	return nil
}
