package containers

// LRU is a fixed-capacity least-recently-used map. It is not safe for
// concurrent use.
type LRU[K comparable, V any] struct {
	capacity int
	items    map[K]*lruEntry[K, V]
	// head is the most recently used entry, tail the least.
	head, tail *lruEntry[K, V]
	onEvict    func(K, V)
}

type lruEntry[K comparable, V any] struct {
	key        K
	value      V
	prev, next *lruEntry[K, V]
}

// NewLRU creates a cache holding at most capacity entries. A capacity <= 0
// disables automatic eviction. onEvict, if set, runs for every entry pushed
// out by Put or removed by EvictOldest.
func NewLRU[K comparable, V any](capacity int, onEvict func(K, V)) *LRU[K, V] {
	return &LRU[K, V]{
		capacity: capacity,
		items:    make(map[K]*lruEntry[K, V]),
		onEvict:  onEvict,
	}
}

// Get returns the value and marks it as most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.moveToFront(e)
	return e.value, true
}

// Peek returns the value without touching its recency.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *LRU[K, V]) Put(key K, value V) {
	if e, ok := c.items[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}
	e := &lruEntry[K, V]{key: key, value: value}
	c.items[key] = e
	c.pushFront(e)
	if c.capacity > 0 && len(c.items) > c.capacity {
		c.EvictOldest()
	}
}

// Remove deletes key without calling the eviction callback.
func (c *LRU[K, V]) Remove(key K) (V, bool) {
	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.unlink(e)
	delete(c.items, key)
	return e.value, true
}

// Oldest returns the least recently used entry.
func (c *LRU[K, V]) Oldest() (K, V, bool) {
	if c.tail == nil {
		var k K
		var v V
		return k, v, false
	}
	return c.tail.key, c.tail.value, true
}

func (c *LRU[K, V]) EvictOldest() bool {
	e := c.tail
	if e == nil {
		return false
	}
	c.unlink(e)
	delete(c.items, e.key)
	if c.onEvict != nil {
		c.onEvict(e.key, e.value)
	}
	return true
}

func (c *LRU[K, V]) Len() int { return len(c.items) }

// Range walks entries from most to least recently used until fn returns false.
func (c *LRU[K, V]) Range(fn func(K, V) bool) {
	for e := c.head; e != nil; {
		next := e.next
		if !fn(e.key, e.value) {
			return
		}
		e = next
	}
}

func (c *LRU[K, V]) pushFront(e *lruEntry[K, V]) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *LRU[K, V]) unlink(e *lruEntry[K, V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

func (c *LRU[K, V]) moveToFront(e *lruEntry[K, V]) {
	if c.head == e {
		return
	}
	c.unlink(e)
	c.pushFront(e)
}
