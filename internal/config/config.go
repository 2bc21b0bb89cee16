// Package config defines all configuration for the Exchange Order & Fill
// Coordination Engine. Config is loaded from a YAML file (default:
// configs/config.yaml) with sensitive fields overridable via ENGINE_*
// environment variables.
//
// Grounded on the teacher's internal/config.Config: the same
// viper.New/SetConfigFile/SetEnvPrefix/AutomaticEnv loading shape and the
// same Load()+Validate() split, generalized from one hardcoded Polymarket
// account to a list of venue accounts, each with its own wallet, API
// endpoints, rate limits, symbols, and fee schedule.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	Venues       []VenueConfig      `mapstructure:"venues"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	ControlPanel ControlPanelConfig `mapstructure:"control_panel"`
	Retention    RetentionConfig    `mapstructure:"retention"`
}

// AdapterKind selects which venue.Adapter implementation a VenueConfig
// wires up: "mock" for the in-memory test adapter, "reference" for the
// reference CLOB adapter in internal/venue/refadapter.
type AdapterKind string

const (
	AdapterMock      AdapterKind = "mock"
	AdapterReference AdapterKind = "reference"
)

// VenueConfig is one exchange account the engine manages: its wallet,
// endpoints, feature flags, symbol set, fee schedule, and per-request-kind
// rate limits.
type VenueConfig struct {
	ExchangeAccountID string        `mapstructure:"exchange_account_id"`
	Adapter            AdapterKind   `mapstructure:"adapter"`
	DryRun             bool          `mapstructure:"dry_run"`
	Wallet             WalletConfig  `mapstructure:"wallet"`
	API                APIConfig     `mapstructure:"api"`
	Features           FeaturesConfig `mapstructure:"features"`
	Symbols            []SymbolConfig `mapstructure:"symbols"`
	Fees               FeesConfig    `mapstructure:"fees"`
	Limits             []LimitConfig `mapstructure:"limits"`
	BalancePollInterval time.Duration `mapstructure:"balance_poll_interval"`
}

// WalletConfig holds the signing key used for EIP-712 request signing by
// the reference adapter. Unused when Adapter is "mock".
type WalletConfig struct {
	PrivateKey string `mapstructure:"private_key"`
	ChainID    int64  `mapstructure:"chain_id"`
}

// APIConfig holds the venue's REST and websocket endpoints.
type APIConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	WebsocketURL string `mapstructure:"websocket_url"`
}

// FeaturesConfig maps 1:1 onto spec.md §6's "venue features" enumeration.
type FeaturesConfig struct {
	OpenOrdersType               string `mapstructure:"open_orders_type"`
	RestFillsType                string `mapstructure:"rest_fills_type"`
	BalancePositionOption        string `mapstructure:"balance_position_option"`
	AllowedCreateEventSourceType string `mapstructure:"allowed_create_event_source_type"`
	AllowedCancelEventSourceType string `mapstructure:"allowed_cancel_event_source_type"`
	AllowedFillEventSourceType   string `mapstructure:"allowed_fill_event_source_type"`
	EmptyResponseIsOk            bool   `mapstructure:"empty_response_is_ok"`
}

// SymbolConfig is one tradeable instrument's static metadata.
type SymbolConfig struct {
	Base         string `mapstructure:"base"`
	Quote        string `mapstructure:"quote"`
	PriceTick    string `mapstructure:"price_tick"`
	IsDerivative bool   `mapstructure:"is_derivative"`
}

// FeesConfig is the venue's static maker/taker commission schedule (used
// as the "expected commission rate" in spec.md §4.3.j) plus the referral
// fraction paid back per role.
type FeesConfig struct {
	MakerRate             string `mapstructure:"maker_rate"`
	TakerRate             string `mapstructure:"taker_rate"`
	MakerReferralFraction string `mapstructure:"maker_referral_fraction"`
	TakerReferralFraction string `mapstructure:"taker_referral_fraction"`
}

// LimitConfig declares one RequestScheduler window: at most
// RequestsPerPeriod reservations of Kind are granted within any
// PeriodDuration sliding window.
type LimitConfig struct {
	Kind              string        `mapstructure:"kind"`
	RequestsPerPeriod int           `mapstructure:"requests_per_period"`
	PeriodDuration    time.Duration `mapstructure:"period_duration"`
}

// LoggingConfig controls the process-wide slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ControlPanelConfig controls the local health/stop/stats/config HTTP
// surface (spec.md §6, "Control-panel IPC").
type ControlPanelConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// RetentionConfig holds the configurable half of the retention rules
// SPEC_FULL.md §9 settles: MaxOrderLifetime sets the buffered-fill TTL
// (10×) and MaxTerminalOrders caps the id-indexed order caches. The
// buffered-fill key bound is fixed by the engine and is not set here.
type RetentionConfig struct {
	MaxOrderLifetime  time.Duration `mapstructure:"max_order_lifetime"`
	MaxTerminalOrders int           `mapstructure:"max_terminal_orders"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: ENGINE_VENUES_0_WALLET_PRIVATE_KEY, etc.,
// following viper's nested-key env replacement; ENGINE_DRY_RUN_ALL forces
// DryRun on every venue regardless of the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if os.Getenv("ENGINE_DRY_RUN_ALL") == "true" || os.Getenv("ENGINE_DRY_RUN_ALL") == "1" {
		for i := range cfg.Venues {
			cfg.Venues[i].DryRun = true
		}
	}
	applyDefaults(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.ControlPanel.Addr == "" {
		cfg.ControlPanel.Addr = ":8090"
	}
	if cfg.Retention.MaxOrderLifetime <= 0 {
		cfg.Retention.MaxOrderLifetime = 24 * time.Hour
	}
	if cfg.Retention.MaxTerminalOrders <= 0 {
		cfg.Retention.MaxTerminalOrders = 100_000
	}
	for i := range cfg.Venues {
		if cfg.Venues[i].BalancePollInterval <= 0 {
			cfg.Venues[i].BalancePollInterval = 30 * time.Second
		}
	}
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Venues) == 0 {
		return fmt.Errorf("at least one venue is required")
	}
	seen := make(map[string]bool, len(c.Venues))
	for _, venue := range c.Venues {
		if venue.ExchangeAccountID == "" {
			return fmt.Errorf("venues: exchange_account_id is required")
		}
		if seen[venue.ExchangeAccountID] {
			return fmt.Errorf("venues: duplicate exchange_account_id %q", venue.ExchangeAccountID)
		}
		seen[venue.ExchangeAccountID] = true

		switch venue.Adapter {
		case AdapterMock, AdapterReference:
		default:
			return fmt.Errorf("venue %q: adapter must be %q or %q", venue.ExchangeAccountID, AdapterMock, AdapterReference)
		}
		if venue.Adapter == AdapterReference {
			if venue.API.BaseURL == "" {
				return fmt.Errorf("venue %q: api.base_url is required for the reference adapter", venue.ExchangeAccountID)
			}
			if venue.Wallet.PrivateKey == "" {
				return fmt.Errorf("venue %q: wallet.private_key is required for the reference adapter", venue.ExchangeAccountID)
			}
		}
		if len(venue.Symbols) == 0 {
			return fmt.Errorf("venue %q: at least one symbol is required", venue.ExchangeAccountID)
		}
	}
	return nil
}
