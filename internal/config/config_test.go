package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
venues:
  - exchange_account_id: "binance-main"
    adapter: "mock"
    dry_run: true
    symbols:
      - base: "BNB"
        quote: "BTC"
        price_tick: "0.000001"
    fees:
      maker_rate: "0.001"
      taker_rate: "0.001"
    limits:
      - kind: "order"
        requests_per_period: 10
        period_duration: 1s
logging:
  level: "debug"
  format: "json"
control_panel:
  enabled: true
  addr: ":9090"
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatalf("write sample config: %v", err)
	}
	return path
}

func TestLoadParsesVenueAndDefaults(t *testing.T) {
	path := writeSample(t)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Venues) != 1 {
		t.Fatalf("expected 1 venue, got %d", len(cfg.Venues))
	}
	v := cfg.Venues[0]
	if v.ExchangeAccountID != "binance-main" {
		t.Errorf("exchange_account_id = %q", v.ExchangeAccountID)
	}
	if v.Adapter != AdapterMock {
		t.Errorf("adapter = %q, want mock", v.Adapter)
	}
	if !v.DryRun {
		t.Error("expected dry_run true")
	}
	if v.BalancePollInterval == 0 {
		t.Error("expected default balance poll interval to be applied")
	}
	if cfg.Retention.MaxOrderLifetime == 0 {
		t.Error("expected default retention.max_order_lifetime to be applied")
	}
	if cfg.ControlPanel.Addr != ":9090" {
		t.Errorf("control_panel.addr = %q", cfg.ControlPanel.Addr)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateRequiresVenue(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error with no venues")
	}
}

func TestValidateRejectsDuplicateAccountID(t *testing.T) {
	cfg := &Config{Venues: []VenueConfig{
		{ExchangeAccountID: "dup", Adapter: AdapterMock, Symbols: []SymbolConfig{{Base: "A", Quote: "B"}}},
		{ExchangeAccountID: "dup", Adapter: AdapterMock, Symbols: []SymbolConfig{{Base: "A", Quote: "B"}}},
	}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for duplicate exchange_account_id")
	}
}

func TestValidateRequiresWalletForReferenceAdapter(t *testing.T) {
	cfg := &Config{Venues: []VenueConfig{
		{
			ExchangeAccountID: "acct",
			Adapter:           AdapterReference,
			Symbols:           []SymbolConfig{{Base: "A", Quote: "B"}},
		},
	}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for reference adapter missing wallet/API config")
	}
}

func TestValidateRequiresAtLeastOneSymbol(t *testing.T) {
	cfg := &Config{Venues: []VenueConfig{
		{ExchangeAccountID: "acct", Adapter: AdapterMock},
	}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for venue with no symbols")
	}
}
