// Package cache provides compiled-program caching for the host emulator.
//
// Building the same kernel source with the same options always yields the
// same kernels, so the emulator keeps recent compilations and skips the
// compiler on a repeated build.
//
// Features:
//   - LRU eviction for bounded memory
//   - Thread-safe operations
//   - Cache hit/miss statistics
//
// Usage:
//
//	c := cache.NewProgramCache(64)
//
//	key := cache.NewKey(source, options)
//	if kernels, ok := c.Get(key); ok {
//		return kernels
//	}
//	kernels, err := compile(source, options)
//	if err == nil {
//		c.Put(key, kernels)
//	}
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/blake2b"
)

// DefaultMaxSize is the capacity used when NewProgramCache gets a
// non-positive size.
const DefaultMaxSize = 64

// ProgramCache is a thread-safe LRU cache of compiled programs.
//
// Cached values must be immutable once stored: the same value is handed to
// every program that builds the same source.
type ProgramCache struct {
	mu sync.Mutex

	maxSize int
	enabled bool

	list  *list.List
	items map[Key]*list.Element

	hits   uint64
	misses uint64
}

type cacheEntry struct {
	key   Key
	value any
}

// NewProgramCache creates a cache holding at most maxSize programs.
func NewProgramCache(maxSize int) *ProgramCache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &ProgramCache{
		maxSize: maxSize,
		enabled: true,
		list:    list.New(),
		items:   make(map[Key]*list.Element, maxSize),
	}
}

// Key identifies a compilation: the BLAKE2b-256 digest of the source and
// its build options.
type Key [blake2b.Size256]byte

// NewKey hashes a program source and its build options. The options take
// part in the key because -D defines are folded in at compile time.
func NewKey(source []byte, options string) Key {
	h, _ := blake2b.New256(nil)
	h.Write(source)
	h.Write([]byte{0})
	h.Write([]byte(options))
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

// Get returns the cached value for key and marks it most recently used.
func (c *ProgramCache) Get(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !c.enabled || !ok {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}
	c.list.MoveToFront(elem)
	atomic.AddUint64(&c.hits, 1)
	return elem.Value.(*cacheEntry).value, true
}

// Put stores value under key, evicting the least recently used entry when
// the cache is full.
func (c *ProgramCache) Put(key Key, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}

	if elem, ok := c.items[key]; ok {
		elem.Value.(*cacheEntry).value = value
		c.list.MoveToFront(elem)
		return
	}
	for c.list.Len() >= c.maxSize {
		c.evictOldest()
	}
	c.items[key] = c.list.PushFront(&cacheEntry{key: key, value: value})
}

// SetEnabled turns the cache on or off. Disabling clears it.
func (c *ProgramCache) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
	if !enabled {
		c.list.Init()
		c.items = make(map[Key]*list.Element, c.maxSize)
	}
}

// Stats returns a snapshot of the cache counters.
func (c *ProgramCache) Stats() Stats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)

	c.mu.Lock()
	size := c.list.Len()
	c.mu.Unlock()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	return Stats{
		Size:    size,
		MaxSize: c.maxSize,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
	}
}

// Stats holds cache counters.
type Stats struct {
	Size    int     // Current number of entries
	MaxSize int     // Maximum capacity
	Hits    uint64  // Number of cache hits
	Misses  uint64  // Number of cache misses
	HitRate float64 // Hit rate percentage (0-100)
}

func (c *ProgramCache) evictOldest() {
	if elem := c.list.Back(); elem != nil {
		c.removeElement(elem)
	}
}

func (c *ProgramCache) removeElement(elem *list.Element) {
	c.list.Remove(elem)
	delete(c.items, elem.Value.(*cacheEntry).key)
}
