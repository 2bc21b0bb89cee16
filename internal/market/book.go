// Package market provides the top-of-book mirror the core needs for
// BNB-style commission conversion and liquidation-price estimation —
// spec.md §1 explicitly keeps full order-book maintenance out of the HARD
// CORE's scope except this one collaborator surface.
//
// Grounded on the teacher's internal/market.Book: a single RWMutex-guarded
// mirror updated from feed events, generalized from a fixed YES/NO token
// pair to an arbitrary set of CurrencyPairs, and narrowed from full
// bids/asks snapshots to top-of-book only, since that is all
// FillCoordinator and BalancePositionLoop ever read.
package market

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradecoord/pkg/types"
)

type quote struct {
	bid, ask decimal.Decimal
	updated  time.Time
}

// Book mirrors top-of-book quotes per currency pair. It has two feeds:
// SetQuote, for a venue adapter that parses explicit book snapshots, and
// OnTrade, which approximates a quote from the last print when no explicit
// snapshot is available — acceptable here because the HARD CORE only ever
// needs a commission-conversion rate or a liquidation mark, not a
// tradeable book.
type Book struct {
	mu     sync.RWMutex
	quotes map[types.CurrencyPair]quote
}

// NewBook builds an empty top-of-book mirror.
func NewBook() *Book {
	return &Book{quotes: make(map[types.CurrencyPair]quote)}
}

// SetQuote records an explicit bid/ask for pair.
func (b *Book) SetQuote(pair types.CurrencyPair, bid, ask decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quotes[pair] = quote{bid: bid, ask: ask, updated: time.Now()}
}

// OnTrade installs as the venue.CoreCallbacks.OnTrade hook: it updates
// pair's quote from the trade print when nothing more precise is known.
func (b *Book) OnTrade(pair types.CurrencyPair, tradeID string, price, amount decimal.Decimal, side types.Side, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quotes[pair] = quote{bid: price, ask: price, updated: at}
}

// TopOfBook returns pair's last known bid/ask, or ok=false if none has
// ever been recorded. Signature matches internal/balance.BookSource
// directly; internal/engine adapts it to internal/fills.BookSource's
// struct-returning shape with a one-line wrapper.
func (b *Book) TopOfBook(pair types.CurrencyPair) (bid, ask *decimal.Decimal, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, found := b.quotes[pair]
	if !found {
		return nil, nil, false
	}
	bidCopy, askCopy := q.bid, q.ask
	return &bidCopy, &askCopy, true
}

// LastUpdated reports when pair's quote was last set, or the zero time if
// none has ever been recorded.
func (b *Book) LastUpdated(pair types.CurrencyPair) time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.quotes[pair].updated
}
