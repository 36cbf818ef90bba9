// Package listcache implements the bounded directory-listing cache of
// §4.5: keyed by xfer.Fingerprint, bounded by both a TTL and a total
// byte budget with LRU eviction on overflow, invalidated by prefix
// match on change notifications.
//
// TTL expiry is delegated to github.com/patrickmn/go-cache (already a
// pack dependency, wired for the resolver too); LRU ordering for the
// byte-budget eviction is layered on top with container/list, since
// go-cache has no notion of a size-bounded eviction order — see
// DESIGN.md for why that sliver is stdlib rather than another
// third-party cache.
package listcache

import (
	"container/list"
	"strings"
	"sync"
	"time"

	patrickmncache "github.com/patrickmn/go-cache"
	"github.com/lftpgo/xfer/xfer"
)

// entry is one cached listing, negative entries record an error
// instead of bytes.
type entry struct {
	fp        xfer.Fingerprint
	data      []byte
	errMsg    string
	isErr     bool
	timestamp time.Time
	elem      *list.Element // this entry's node in the LRU list
}

// Cache is the process-wide (or test-scoped) listing cache. Per
// Design Note 9 it is an explicit owned resource rather than a
// language-level global; callers construct one and share the pointer.
type Cache struct {
	mu       sync.Mutex
	enabled  bool
	ttl      *patrickmncache.Cache
	lru      *list.List // front = most recently used
	entries  map[string]*entry
	byteMax  int
	bytes    int
}

// New builds a Cache with the given TTL and byte budget. enabled=false
// makes every Find miss and every Insert a no-op, per §4.5 ("disabled
// by configuration means lookups always miss and inserts are
// dropped").
func New(ttl time.Duration, byteMax int, enabled bool) *Cache {
	expiry := ttl
	if expiry <= 0 {
		expiry = patrickmncache.NoExpiration
	}
	return &Cache{
		enabled: enabled,
		ttl:     patrickmncache.New(ttl, 2*orMinute(ttl)),
		lru:     list.New(),
		entries: map[string]*entry{},
		byteMax: byteMax,
	}
}

func orMinute(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Minute
	}
	return d
}

func key(fp xfer.Fingerprint) string {
	var b strings.Builder
	b.WriteString(fp.Identity.Protocol)
	b.WriteByte('|')
	b.WriteString(fp.Identity.Host)
	b.WriteByte('|')
	b.WriteString(fp.Identity.User)
	b.WriteByte('|')
	b.WriteString(fp.Path)
	b.WriteByte('|')
	switch fp.Mode {
	case xfer.ListModeLong:
		b.WriteString("L")
	case xfer.ListModeShort:
		b.WriteString("S")
	case xfer.ListModeMP:
		b.WriteString("M")
	}
	return b.String()
}

// Find looks up fp. ok is false on a miss or TTL expiry. errMsg/isErr
// surface a cached negative entry (a previous listing error).
func (c *Cache) Find(fp xfer.Fingerprint) (data []byte, isErr bool, errMsg string, ok bool) {
	if !c.enabled {
		return nil, false, "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key(fp)
	if _, ttlOK := c.ttl.Get(k); !ttlOK {
		if e, exists := c.entries[k]; exists {
			c.evict(k, e)
		}
		return nil, false, "", false
	}
	e, exists := c.entries[k]
	if !exists {
		return nil, false, "", false
	}
	c.lru.MoveToFront(e.elem)
	return e.data, e.isErr, e.errMsg, true
}

// Insert records a successful listing's bytes for fp, per §4.5
// ("entries are added after a complete, successful listing"). LRU tail
// entries are evicted until the total is back under the byte budget.
func (c *Cache) Insert(fp xfer.Fingerprint, data []byte) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(fp, data, false, "")
}

// InsertError records a negative entry: a previous listing attempt
// that failed, per §4.5.
func (c *Cache) InsertError(fp xfer.Fingerprint, errMsg string) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(fp, nil, true, errMsg)
}

func (c *Cache) insertLocked(fp xfer.Fingerprint, data []byte, isErr bool, errMsg string) {
	k := key(fp)
	if old, exists := c.entries[k]; exists {
		c.evict(k, old)
	}
	e := &entry{fp: fp, data: data, isErr: isErr, errMsg: errMsg, timestamp: time.Now()}
	e.elem = c.lru.PushFront(e)
	c.entries[k] = e
	c.bytes += len(data)
	c.ttl.SetDefault(k, struct{}{})
	c.evictOverBudget()
}

func (c *Cache) evict(k string, e *entry) {
	c.lru.Remove(e.elem)
	delete(c.entries, k)
	c.bytes -= len(e.data)
	c.ttl.Delete(k)
}

// evictOverBudget drops LRU-tail entries until the cache is back under
// its byte budget, per §4.5 ("on TTL expiry or exceeding a byte
// budget, the LRU tail is evicted").
func (c *Cache) evictOverBudget() {
	if c.byteMax <= 0 {
		return
	}
	for c.bytes > c.byteMax {
		back := c.lru.Back()
		if back == nil {
			return
		}
		e := back.Value.(*entry)
		c.evict(key(e.fp), e)
	}
}

// Invalidate drops every cached entry whose path is prefixed by path,
// in response to a FileChanged/DirectoryChanged/TreeChanged
// notification, per §4.5.
func (c *Cache) Invalidate(identity xfer.Identity, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.fp.Identity == identity && strings.HasPrefix(e.fp.Path, path) {
			c.evict(k, e)
		}
	}
}

// FileChanged invalidates the cache entries for exactly one file.
func (c *Cache) FileChanged(identity xfer.Identity, path string) { c.Invalidate(identity, path) }

// DirectoryChanged invalidates the cache entries rooted at a directory.
func (c *Cache) DirectoryChanged(identity xfer.Identity, path string) { c.Invalidate(identity, path) }

// TreeChanged invalidates every cache entry for the given identity.
func (c *Cache) TreeChanged(identity xfer.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.fp.Identity == identity {
			c.evict(k, e)
		}
	}
}
