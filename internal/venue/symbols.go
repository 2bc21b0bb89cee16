package venue

import (
	"sync"

	"tradecoord/pkg/types"
)

// SymbolTable is the static, config-loaded per-venue instrument metadata
// FillCoordinator and BalancePositionLoop consult (their SymbolSource
// collaborator interface). Grounded on the teacher's pattern of loading
// static venue metadata once at startup (internal/config.Config) rather
// than querying it per call — symbol metadata changes rarely enough that
// a snapshot refreshed via RequestAllSymbols is sufficient.
type SymbolTable struct {
	mu      sync.RWMutex
	symbols map[types.CurrencyPair]types.Symbol
}

// NewSymbolTable builds a table from an initial symbol set (e.g. loaded
// from config at startup).
func NewSymbolTable(initial []types.Symbol) *SymbolTable {
	t := &SymbolTable{symbols: make(map[types.CurrencyPair]types.Symbol, len(initial))}
	for _, s := range initial {
		t.symbols[s.Pair] = s
	}
	return t
}

// Symbol looks up pair's metadata.
func (t *SymbolTable) Symbol(pair types.CurrencyPair) (types.Symbol, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.symbols[pair]
	return s, ok
}

// Pairs lists every currency pair the table currently knows about.
func (t *SymbolTable) Pairs() []types.CurrencyPair {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pairs := make([]types.CurrencyPair, 0, len(t.symbols))
	for pair := range t.symbols {
		pairs = append(pairs, pair)
	}
	return pairs
}

// Replace swaps in a freshly fetched symbol set wholesale, e.g. after a
// RequestAllSymbols refresh.
func (t *SymbolTable) Replace(all []types.Symbol) {
	fresh := make(map[types.CurrencyPair]types.Symbol, len(all))
	for _, s := range all {
		fresh[s.Pair] = s
	}
	t.mu.Lock()
	t.symbols = fresh
	t.mu.Unlock()
}
