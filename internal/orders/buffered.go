package orders

import (
	"sync"
	"time"

	"tradecoord/pkg/types"
)

// bufferedEntry is one fill event queued for an order not yet registered.
type bufferedEntry struct {
	event    types.FillEvent
	arrived  time.Time
}

// BufferedFills holds fills that arrived before their order was registered
// in the Pool, keyed by exchange_order_id, drained in arrival order once
// the order is finally created.
//
// Retention: TTL sweep plus a max-key bound (spec open question, resolved
// in SPEC_FULL.md §9) — entries older than ttl are dropped by Sweep, and
// once the key count exceeds maxKeys the oldest key (by first arrival) is
// evicted to make room, logged via onEvict.
type BufferedFills struct {
	mu      sync.Mutex
	byKey   map[string][]bufferedEntry
	order   []string // insertion order of keys, for oldest-key eviction
	ttl     time.Duration
	maxKeys int
	onEvict func(exchangeOrderID string, dropped int)
	now     func() time.Time
}

// NewBufferedFills builds a BufferedFills with the given retention policy.
func NewBufferedFills(ttl time.Duration, maxKeys int, onEvict func(exchangeOrderID string, dropped int)) *BufferedFills {
	if onEvict == nil {
		onEvict = func(string, int) {}
	}
	return &BufferedFills{
		byKey:   make(map[string][]bufferedEntry),
		ttl:     ttl,
		maxKeys: maxKeys,
		onEvict: onEvict,
		now:     time.Now,
	}
}

// Add queues event under exchangeOrderID for later draining.
func (b *BufferedFills) Add(exchangeOrderID string, event types.FillEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.byKey[exchangeOrderID]; !exists {
		b.order = append(b.order, exchangeOrderID)
		b.evictIfOverflowLocked()
	}
	b.byKey[exchangeOrderID] = append(b.byKey[exchangeOrderID], bufferedEntry{event: event, arrived: b.now()})
}

// evictIfOverflowLocked drops the oldest key once maxKeys is exceeded.
// Caller must hold mu.
func (b *BufferedFills) evictIfOverflowLocked() {
	if b.maxKeys <= 0 {
		return
	}
	for len(b.order) > b.maxKeys {
		oldest := b.order[0]
		b.order = b.order[1:]
		dropped := len(b.byKey[oldest])
		delete(b.byKey, oldest)
		if dropped > 0 {
			b.onEvict(oldest, dropped)
		}
	}
}

// Drain removes and returns all fills buffered for exchangeOrderID, in
// arrival order.
func (b *BufferedFills) Drain(exchangeOrderID string) []types.FillEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, ok := b.byKey[exchangeOrderID]
	if !ok {
		return nil
	}
	delete(b.byKey, exchangeOrderID)
	for i, k := range b.order {
		if k == exchangeOrderID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}

	events := make([]types.FillEvent, len(entries))
	for i, e := range entries {
		events[i] = e.event
	}
	return events
}

// Sweep drops any key whose oldest entry has aged past ttl, reporting the
// number of entries dropped per key through onEvict.
func (b *BufferedFills) Sweep() {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-b.ttl)
	remaining := b.order[:0]
	for _, key := range b.order {
		entries := b.byKey[key]
		if len(entries) > 0 && entries[0].arrived.Before(cutoff) {
			delete(b.byKey, key)
			b.onEvict(key, len(entries))
			continue
		}
		remaining = append(remaining, key)
	}
	b.order = remaining
}

// KeyCount reports how many distinct exchange_order_ids are buffered.
func (b *BufferedFills) KeyCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byKey)
}
