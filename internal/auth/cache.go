package auth

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// SessionCache holds recently authenticated accounts keyed by uid so the
// bearer middleware can skip a database round trip. Writes are
// last-writer-wins upserts; the database is the source of truth.
type SessionCache interface {
	Get(ctx context.Context, uid string) (*UserAccount, bool)
	Set(ctx context.Context, uid string, account *UserAccount)
	Remove(ctx context.Context, uid string)
}

type memoryCacheEntry struct {
	uid     string
	account *UserAccount
	expires time.Time
}

// MemoryCache is a bounded in-memory SessionCache with per-entry expiry
// and LRU eviction.
type MemoryCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	order   *list.List
	entries map[string]*list.Element
}

// NewMemoryCache creates a cache holding at most maxSize accounts for
// at most ttl each.
func NewMemoryCache(maxSize int, ttl time.Duration) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &MemoryCache{
		maxSize: maxSize,
		ttl:     ttl,
		order:   list.New(),
		entries: map[string]*list.Element{},
	}
}

func (c *MemoryCache) Get(_ context.Context, uid string) (*UserAccount, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[uid]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*memoryCacheEntry)
	if time.Now().After(entry.expires) {
		c.order.Remove(el)
		delete(c.entries, uid)
		return nil, false
	}
	c.order.MoveToFront(el)
	return entry.account, true
}

func (c *MemoryCache) Set(_ context.Context, uid string, account *UserAccount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[uid]; ok {
		entry := el.Value.(*memoryCacheEntry)
		entry.account = account
		entry.expires = time.Now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&memoryCacheEntry{uid: uid, account: account, expires: time.Now().Add(c.ttl)})
	c.entries[uid] = el
	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*memoryCacheEntry).uid)
	}
}

func (c *MemoryCache) Remove(_ context.Context, uid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[uid]; ok {
		c.order.Remove(el)
		delete(c.entries, uid)
	}
}
