// Package actioncache implements the bounded LRU of completed action
// results keyed by action-id, giving the dispatcher its at-most-once
// replay guarantee for retried inbound messages sharing an id$.
package actioncache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// Entry is the cached tuple the dispatcher replays verbatim on a cache hit:
// the original error (if any), the result, and the metadata id that
// produced it.
type Entry struct {
	Err      error
	Result   interface{}
	MetaID   string
	When     time.Time
}

// Backend is the storage interface the dispatcher's cache step talks to.
// Implementations must be safe for concurrent use.
type Backend interface {
	Get(actionID string) (Entry, bool)
	Set(actionID string, entry Entry)
	Len() int
}

// entryElem is what the eviction list actually stores.
type entryElem struct {
	key   string
	entry Entry
}

// LRU is a bounded, in-process least-recently-used Backend. Entries beyond
// the configured size are evicted oldest-first. NewLRU maps a non-positive
// size to DefaultSize, so an LRU is never unbounded.
type LRU struct {
	mu      sync.Mutex
	size    int
	index   map[string]*list.Element
	order   *list.List
	hits    int64
	misses  int64
}

// DefaultSize is the action cache's default capacity (spec §5: "bounded
// LRU, default 11,111 entries").
const DefaultSize = 11111

// NewLRU builds an LRU backend with the given capacity. size<=0 falls back
// to DefaultSize.
func NewLRU(size int) *LRU {
	if size <= 0 {
		size = DefaultSize
	}
	return &LRU{
		size:  size,
		index: make(map[string]*list.Element),
		order: list.New(),
	}
}

// Get returns the cached entry for actionID and moves it to the front of
// the eviction order.
func (c *LRU) Get(actionID string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[actionID]
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return Entry{}, false
	}
	c.order.MoveToFront(elem)
	atomic.AddInt64(&c.hits, 1)
	return elem.Value.(*entryElem).entry, true
}

// Set installs entry under actionID, evicting the least-recently-used
// entry if the backend is at capacity.
func (c *LRU) Set(actionID string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[actionID]; ok {
		elem.Value.(*entryElem).entry = entry
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&entryElem{key: actionID, entry: entry})
	c.index[actionID] = elem

	for c.order.Len() > c.size {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(*entryElem).key)
	}
}

// Len reports the number of entries currently cached.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns hit/miss counters for observability.
func (c *LRU) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}

// Noop is a Backend that never stores anything, used when actcache.active
// is false so Set becomes a no-op per spec §4.3.
type Noop struct{}

func (Noop) Get(string) (Entry, bool) { return Entry{}, false }
func (Noop) Set(string, Entry)        {}
func (Noop) Len() int                 { return 0 }
