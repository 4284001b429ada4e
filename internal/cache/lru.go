// internal/cache/lru.go
//
// Small least-recently-used cache with per-entry expiry.  The Vault
// resolver keeps resolved secrets here so a large configuration full of
// references cannot grow the cache without bound.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRU is safe for concurrent use.
type LRU[K comparable, V any] struct {
	mu   sync.Mutex
	cap  int
	ttl  time.Duration
	now  func() time.Time
	ll   *list.List
	dict map[K]*list.Element
}

type entry[K comparable, V any] struct {
	key K
	val V
	exp time.Time
}

// New returns an LRU holding at most capacity entries, each for ttl.
// A ttl of zero keeps entries until they are evicted.  Panics on
// capacity < 1.
func New[K comparable, V any](capacity int, ttl time.Duration) *LRU[K, V] {
	if capacity < 1 {
		panic("cache: capacity must be ≥1")
	}
	return &LRU[K, V]{
		cap:  capacity,
		ttl:  ttl,
		now:  time.Now,
		ll:   list.New(),
		dict: make(map[K]*list.Element, capacity),
	}
}

// Get returns a live value and marks it most recently used.  Expired
// entries are dropped on the way.
func (c *LRU[K, V]) Get(key K) (val V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ele, hit := c.dict[key]
	if !hit {
		return val, false
	}
	e := ele.Value.(entry[K, V])
	if c.ttl > 0 && !c.now().Before(e.exp) {
		c.remove(ele)
		return val, false
	}
	c.ll.MoveToFront(ele)
	return e.val, true
}

// Add inserts or refreshes a value.
func (c *LRU[K, V]) Add(key K, val V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := entry[K, V]{key: key, val: val, exp: c.now().Add(c.ttl)}
	if ele, hit := c.dict[key]; hit {
		ele.Value = e
		c.ll.MoveToFront(ele)
		return
	}
	c.dict[key] = c.ll.PushFront(e)
	if c.ll.Len() > c.cap {
		c.remove(c.ll.Back())
	}
}

// Purge empties the cache.
func (c *LRU[K, V]) Purge() {
	c.mu.Lock()
	c.ll.Init()
	clear(c.dict)
	c.mu.Unlock()
}

// Len reports current size, expired entries included.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *LRU[K, V]) remove(ele *list.Element) {
	c.ll.Remove(ele)
	delete(c.dict, ele.Value.(entry[K, V]).key)
}
