package directory

import (
	"container/list"
	"sync"

	"github.com/dreamware/covered/internal/keyspace"
)

// Cacher is the non-beacon DirectoryCacher from spec.md §4.4.2: a bounded
// cache of last-known DirectoryInfo for keys this edge tracks uncached.
// It is populated on a lookup reply from the beacon; entries leave it
// through Invalidate or LRU eviction beyond cap. Within this module,
// edgemanager records beacon replies here but routes every miss through
// the beacon rather than through Lookup, and calls Invalidate only when a
// peer's write invalidation for the key arrives: an entry is not removed
// when the key becomes locally cached, falls out of the uncached
// popularity tracker, or the beacon reports the key invalid.
type Cacher struct {
	mu       sync.Mutex
	cap      int
	entries  map[string]*list.Element
	order    *list.List // front = most recently touched
}

type cacherItem struct {
	key  string
	info DirectoryInfo
}

// NewCacher builds a cacher bounded to cap entries (LRU eviction beyond
// that, mirroring the uncached-tracker capacity it shadows).
func NewCacher(cap int) *Cacher {
	return &Cacher{
		cap:     cap,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Insert records (or replaces) the known directory info for key, as
// happens on every lookup reply from the beacon.
func (c *Cacher) Insert(key keyspace.Key, info DirectoryInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ks := string(key)
	if el, ok := c.entries[ks]; ok {
		el.Value.(*cacherItem).info = info
		c.order.MoveToFront(el)
		return
	}

	if c.cap > 0 && len(c.entries) >= c.cap {
		back := c.order.Back()
		if back != nil {
			c.order.Remove(back)
			delete(c.entries, back.Value.(*cacherItem).key)
		}
	}

	el := c.order.PushFront(&cacherItem{key: ks, info: info})
	c.entries[ks] = el
}

// Lookup returns the cached directory info for key, if any. Per spec.md
// property 8, callers must never consult this for routing once the key
// is cached locally: the caller is responsible for checking its own
// LocalCacheStore first.
func (c *Cacher) Lookup(key keyspace.Key) (DirectoryInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[string(key)]
	if !ok {
		return DirectoryInfo{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacherItem).info, true
}

// Invalidate removes key's entry, if present. edgemanager calls it when a
// write invalidation for key arrives.
func (c *Cacher) Invalidate(key keyspace.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ks := string(key)
	if el, ok := c.entries[ks]; ok {
		c.order.Remove(el)
		delete(c.entries, ks)
	}
}

// Len reports the number of entries presently cached, for instrumentation.
func (c *Cacher) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
