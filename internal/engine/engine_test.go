package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradecoord/internal/config"
	"tradecoord/internal/venue/mockadapter"
	"tradecoord/pkg/types"
)

func testConfig() *config.Config {
	return &config.Config{
		Venues: []config.VenueConfig{
			{
				ExchangeAccountID: "test-venue",
				Adapter:           config.AdapterMock,
				DryRun:            true,
				Symbols: []config.SymbolConfig{
					{Base: "BNB", Quote: "BTC", PriceTick: "0.000001"},
				},
				Fees: config.FeesConfig{
					MakerRate:             "0.001",
					TakerRate:             "0.002",
					MakerReferralFraction: "0.1",
					TakerReferralFraction: "0.1",
				},
				Features: config.FeaturesConfig{
					BalancePositionOption:        "NON_DERIVATIVE",
					AllowedFillEventSourceType:   "ALL",
					AllowedCreateEventSourceType: "ALL",
					AllowedCancelEventSourceType: "ALL",
				},
				BalancePollInterval: time.Hour, // kept long so the test ticker never fires
			},
		},
		Retention: config.RetentionConfig{
			MaxOrderLifetime:  time.Hour,
			MaxTerminalOrders: 10,
		},
	}
}

func TestNewBuildsOneRuntimePerVenue(t *testing.T) {
	eng, err := New(testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(eng.venues) != 1 {
		t.Fatalf("expected 1 venue runtime, got %d", len(eng.venues))
	}
	if _, ok := eng.venues["test-venue"].adapter.(*mockadapter.Adapter); !ok {
		t.Fatal("expected mock adapter to be wired for adapter: mock")
	}
}

func TestEngineStartStopLifecycle(t *testing.T) {
	eng, err := New(testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestEngineRoutesFillThroughCoordinator(t *testing.T) {
	eng, err := New(testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop(ctx)

	vr := eng.venues["test-venue"]
	sub := eng.Bus().Subscribe(16)
	defer sub.Close()

	ref := vr.sm.Submit(types.OrderHeader{
		ClientOrderID:     "client-1",
		ExchangeAccountID: "test-venue",
		CurrencyPair:      types.CurrencyPair{Base: "BNB", Quote: "BTC"},
		Side:              types.Buy,
		Amount:            decimalFromString(t, "2"),
	}, decimalFromString(t, "10"))
	if err := vr.sm.OrderCreated("client-1", "exch-1", types.SourceWebsocket); err != nil {
		t.Fatalf("OrderCreated: %v", err)
	}

	amt := decimalFromString(t, "2")
	vr.adapter.(*mockadapter.Adapter).InjectFill(types.FillEvent{
		Source:            types.SourceWebsocket,
		ExchangeOrderID:   "exch-1",
		FillPrice:         decimalFromString(t, "10"),
		FillAmount:        amt,
		TotalFilledAmount: &amt,
		OrderRole:         types.RoleTaker,
		FillDate:          time.Now(),
	})

	deadline := time.After(time.Second)
	sawCompleted := false
	for !sawCompleted {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for OrderCompleted event")
		default:
			evCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			event, err := sub.Next(evCtx)
			cancel()
			if err != nil {
				continue
			}
			if event.Kind == types.EventOrder && event.Order != nil && event.Order.Kind == types.OrderCompleted {
				sawCompleted = true
			}
		}
	}

	ref.WithRead(func(o *types.OrderSnapshot) {
		if o.Props.Status != types.StatusCompleted {
			t.Errorf("status = %s, want COMPLETED", o.Props.Status)
		}
	})
}

func TestStatsReflectsPoolAndBufferedState(t *testing.T) {
	eng, err := New(testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	vr := eng.venues["test-venue"]
	vr.sm.Submit(types.OrderHeader{ClientOrderID: "c1"}, decimalFromString(t, "1"))

	stats := eng.Stats()
	if stats.OpenOrders != 1 {
		t.Errorf("OpenOrders = %d, want 1", stats.OpenOrders)
	}
}

func TestSetConfigUpdatesFeeSchedule(t *testing.T) {
	eng, err := New(testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	body, _ := json.Marshal(setConfigRequest{
		ExchangeAccountID: "test-venue",
		Fees: config.FeesConfig{
			MakerRate:             "0.0005",
			TakerRate:             "0.0015",
			MakerReferralFraction: "0.2",
			TakerReferralFraction: "0.2",
		},
	})
	if err := eng.SetConfig(body); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	vr := eng.venues["test-venue"]
	if got := vr.fees.CommissionRate(types.RoleMaker); !got.Equal(decimalFromString(t, "0.0005")) {
		t.Errorf("maker rate = %s, want 0.0005", got)
	}
}

func TestSetConfigUnknownVenue(t *testing.T) {
	eng, err := New(testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	body, _ := json.Marshal(setConfigRequest{ExchangeAccountID: "nope", Fees: config.FeesConfig{
		MakerRate: "0", TakerRate: "0", MakerReferralFraction: "0", TakerReferralFraction: "0",
	}})
	if err := eng.SetConfig(body); err == nil {
		t.Fatal("expected error for unknown exchange_account_id")
	}
}

func decimalFromString(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return v
}
