package handoff

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry is one cached auto-resume context, keyed by (user, agent,
// namespace, repo) scope, adapted from vybe's pkg/memory LRU entry shape.
type cacheEntry struct {
	key       string
	value     *AutoResumeContext
	expiresAt time.Time
}

// resumeCache is a per-process, bounded LRU cache of recently computed
// auto-resume contexts. Eviction is opportunistic (on Get/Set) and never
// blocks an apply path, matching spec.md §5 ("bounded by LRU and age;
// eviction is opportunistic and never blocks apply paths"). Grounded on
// vybe's pkg/memory/lru.go container/list + map structure.
type resumeCache struct {
	mu       sync.Mutex
	maxSize  int
	ttl      time.Duration
	order    *list.List
	elements map[string]*list.Element
}

func newResumeCache(maxSize int, ttl time.Duration) *resumeCache {
	if maxSize <= 0 {
		maxSize = 64
	}
	return &resumeCache{
		maxSize:  maxSize,
		ttl:      ttl,
		order:    list.New(),
		elements: make(map[string]*list.Element),
	}
}

func cacheKey(user, agent, namespace, repo string) string {
	return user + "\x00" + agent + "\x00" + namespace + "\x00" + repo
}

func (c *resumeCache) Get(key string) (*AutoResumeContext, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.elements[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*cacheEntry)
	if c.ttl > 0 && time.Now().After(entry.expiresAt) {
		c.order.Remove(elem)
		delete(c.elements, key)
		return nil, false
	}
	c.order.MoveToFront(elem)
	return entry.value, true
}

func (c *resumeCache) Set(key string, value *AutoResumeContext) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(c.ttl)
	if elem, ok := c.elements[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.maxSize {
		back := c.order.Back()
		if back != nil {
			evicted := c.order.Remove(back).(*cacheEntry)
			delete(c.elements, evicted.key)
		}
	}
	elem := c.order.PushFront(&cacheEntry{key: key, value: value, expiresAt: expiresAt})
	c.elements[key] = elem
}

func (c *resumeCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.elements[key]; ok {
		c.order.Remove(elem)
		delete(c.elements, key)
	}
}
