// Package orders owns the authoritative OrderPool and the state machine
// that drives order lifecycle transitions.
package orders

import (
	"fmt"
	"hash/fnv"
	"sync"

	"tradecoord/pkg/types"
)

const shardCount = 32

func shardFor(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32()) % shardCount
}

// OrderRef is a borrow-token granting locked access to one OrderSnapshot.
// Callers never hold the snapshot pointer outside WithRead/WithWrite, so a
// reference can never be leaked across a lock boundary.
type OrderRef struct {
	mu       sync.RWMutex
	snapshot *types.OrderSnapshot
}

// WithRead runs fn with a read lock held.
func (r *OrderRef) WithRead(fn func(o *types.OrderSnapshot)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(r.snapshot)
}

// WithWrite runs fn with a write lock held. fn must not call out to user
// callbacks or block on I/O — callbacks are scheduled after release by
// callers of WithWrite.
func (r *OrderRef) WithWrite(fn func(o *types.OrderSnapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.snapshot)
}

// ClientOrderID returns the order's immutable client id without taking a lock.
func (r *OrderRef) ClientOrderID() string {
	return r.snapshot.Header.ClientOrderID
}

type shard struct {
	mu   sync.RWMutex
	refs map[string]*OrderRef
}

func newShard() *shard {
	return &shard{refs: make(map[string]*OrderRef)}
}

func (s *shard) get(key string) (*OrderRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.refs[key]
	return r, ok
}

func (s *shard) set(key string, r *OrderRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[key] = r
}

func (s *shard) delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refs, key)
}

// shardedIndex is a lock-striped concurrent map approximating dashmap's
// per-bucket locking: contention on one key never blocks lookups for keys
// hashing to a different shard.
type shardedIndex struct {
	shards [shardCount]*shard
}

func newShardedIndex() *shardedIndex {
	idx := &shardedIndex{}
	for i := range idx.shards {
		idx.shards[i] = newShard()
	}
	return idx
}

func (idx *shardedIndex) get(key string) (*OrderRef, bool) {
	return idx.shards[shardFor(key)].get(key)
}

func (idx *shardedIndex) set(key string, r *OrderRef) {
	idx.shards[shardFor(key)].set(key, r)
}

func (idx *shardedIndex) delete(key string) {
	idx.shards[shardFor(key)].delete(key)
}

func (idx *shardedIndex) keys() []string {
	var out []string
	for _, s := range idx.shards {
		s.mu.RLock()
		for k := range s.refs {
			out = append(out, k)
		}
		s.mu.RUnlock()
	}
	return out
}

func (idx *shardedIndex) len() int {
	n := 0
	for _, s := range idx.shards {
		s.mu.RLock()
		n += len(s.refs)
		s.mu.RUnlock()
	}
	return n
}

// ErrExchangeIDConflict is returned when bind_exchange_id would rebind a
// client order to a different exchange_order_id than it already has.
type ErrExchangeIDConflict struct {
	ClientOrderID string
	Existing      string
	Attempted     string
}

func (e *ErrExchangeIDConflict) Error() string {
	return fmt.Sprintf("order %s: refusing to rebind exchange_order_id from %q to %q",
		e.ClientOrderID, e.Existing, e.Attempted)
}

// Pool is the authoritative store of OrderSnapshots, indexed by
// client_order_id and exchange_order_id, with a not_finished set for
// orders still eligible to receive events.
type Pool struct {
	byClient    *shardedIndex
	byExchange  *shardedIndex
	notFinished *shardedIndex
}

// NewPool constructs an empty OrderPool.
func NewPool() *Pool {
	return &Pool{
		byClient:    newShardedIndex(),
		byExchange:  newShardedIndex(),
		notFinished: newShardedIndex(),
	}
}

// AddInitial inserts a freshly-created snapshot in the Creating state.
// Idempotent: if client_order_id already exists, the existing ref is
// returned instead of overwriting it.
func (p *Pool) AddInitial(snapshot *types.OrderSnapshot) *OrderRef {
	if existing, ok := p.byClient.get(snapshot.Header.ClientOrderID); ok {
		return existing
	}
	ref := &OrderRef{snapshot: snapshot}
	p.byClient.set(snapshot.Header.ClientOrderID, ref)
	p.notFinished.set(snapshot.Header.ClientOrderID, ref)
	return ref
}

// BindExchangeID associates an exchange_order_id with a client order.
// Idempotent when rebinding to the same id; rejects conflicting rebinds.
func (p *Pool) BindExchangeID(clientID, exchangeID string) (*OrderRef, error) {
	ref, ok := p.byClient.get(clientID)
	if !ok {
		return nil, fmt.Errorf("orders: no order with client_order_id %q", clientID)
	}

	var conflict error
	ref.WithWrite(func(o *types.OrderSnapshot) {
		if o.Props.ExchangeOrderID != "" && o.Props.ExchangeOrderID != exchangeID {
			conflict = &ErrExchangeIDConflict{
				ClientOrderID: clientID,
				Existing:      o.Props.ExchangeOrderID,
				Attempted:     exchangeID,
			}
			return
		}
		o.Props.ExchangeOrderID = exchangeID
	})
	if conflict != nil {
		return nil, conflict
	}

	p.byExchange.set(exchangeID, ref)
	return ref, nil
}

// GetByClient looks up an order by its client_order_id.
func (p *Pool) GetByClient(clientID string) (*OrderRef, bool) {
	return p.byClient.get(clientID)
}

// GetByExchange looks up an order by its venue-assigned exchange_order_id.
func (p *Pool) GetByExchange(exchangeID string) (*OrderRef, bool) {
	return p.byExchange.get(exchangeID)
}

// RemoveFromNotFinished drops clientID from the not_finished index. Called
// once an order reaches a terminal status. The id-indexed caches retain the
// snapshot for the process lifetime (subject to LRU eviction, see Pool.Evict).
func (p *Pool) RemoveFromNotFinished(clientID string) {
	p.notFinished.delete(clientID)
}

// IsNotFinished reports whether clientID is still in the not_finished set.
func (p *Pool) IsNotFinished(clientID string) bool {
	_, ok := p.notFinished.get(clientID)
	return ok
}

// NotFinishedClientIDs lists every order still in the not_finished set, for
// shutdown's cancel-open-orders safety net.
func (p *Pool) NotFinishedClientIDs() []string {
	return p.notFinished.keys()
}

// Count reports how many orders the pool is currently tracking by
// client_order_id, including terminal ones still cached.
func (p *Pool) Count() int {
	return p.byClient.len()
}

// Evict drops the oldest terminal (finished) orders from the id-indexed
// caches while the pool holds more than maxTerminal orders in total
// (terminal and not_finished alike, as counted by Count), bounding memory
// for a long-running process. Orders still in not_finished are never
// evicted. candidates, in oldest-first order, is supplied by the caller
// (the engine tracks completion order separately from the pool itself,
// since the pool has no global ordering of its own).
func (p *Pool) Evict(candidates []string, maxTerminal int) int {
	total := p.byClient.len()
	evicted := 0
	for _, clientID := range candidates {
		if total-evicted <= maxTerminal {
			break
		}
		if p.IsNotFinished(clientID) {
			continue
		}
		ref, ok := p.byClient.get(clientID)
		if !ok {
			continue
		}
		var exchangeID string
		ref.WithRead(func(o *types.OrderSnapshot) {
			exchangeID = o.Props.ExchangeOrderID
		})
		p.byClient.delete(clientID)
		if exchangeID != "" {
			p.byExchange.delete(exchangeID)
		}
		evicted++
	}
	return evicted
}
