package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/excerpt/internal/clock"
)

// HotCache holds encoded renders in memory with LRU eviction bounded by
// total bytes and a TTL.
type HotCache struct {
	entries     map[string]*hotEntry
	mutex       sync.Mutex
	maxSize     int64
	currentSize int64
	ttl         time.Duration
	clock       clock.Clock
	// LRU list with sentinel head and tail
	head *hotEntry
	tail *hotEntry

	hits      int64
	misses    int64
	evictions int64
}

type hotEntry struct {
	key       string
	value     []byte
	hash      string
	createdAt time.Time
	size      int64
	prev      *hotEntry
	next      *hotEntry
}

// HotStats is a snapshot of HotCache counters.
type HotStats struct {
	Entries   int   `json:"entries"`
	Size      int64 `json:"size"`
	MaxSize   int64 `json:"maxSize"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// NewHotCache creates a cache of at most maxSize bytes. A zero ttl keeps
// entries until evicted.
func NewHotCache(maxSize int64, ttl time.Duration, clk clock.Clock) *HotCache {
	if clk == nil {
		clk = clock.Real()
	}
	hc := &HotCache{
		entries: make(map[string]*hotEntry),
		maxSize: maxSize,
		ttl:     ttl,
		clock:   clk,
		head:    &hotEntry{},
		tail:    &hotEntry{},
	}
	hc.head.next = hc.tail
	hc.tail.prev = hc.head
	return hc
}

// Get returns the value and hash stored under key.
func (hc *HotCache) Get(key string) ([]byte, string, bool) {
	hc.mutex.Lock()
	defer hc.mutex.Unlock()

	entry, exists := hc.entries[key]
	if !exists {
		atomic.AddInt64(&hc.misses, 1)
		return nil, "", false
	}
	if hc.ttl > 0 && hc.clock.Now().Sub(entry.createdAt) > hc.ttl {
		hc.remove(entry)
		atomic.AddInt64(&hc.misses, 1)
		return nil, "", false
	}

	hc.moveToFront(entry)
	atomic.AddInt64(&hc.hits, 1)
	return entry.value, entry.hash, true
}

// Set stores value under key, replacing any previous entry. Values
// larger than the whole cache are not stored.
func (hc *HotCache) Set(key string, value []byte, hash string) {
	hc.mutex.Lock()
	defer hc.mutex.Unlock()

	size := int64(len(key) + len(value) + len(hash))
	if existing, exists := hc.entries[key]; exists {
		hc.remove(existing)
	}
	if size > hc.maxSize {
		return
	}
	hc.evictIfNeeded(size)

	entry := &hotEntry{
		key:       key,
		value:     value,
		hash:      hash,
		createdAt: hc.clock.Now(),
		size:      size,
	}
	hc.entries[key] = entry
	hc.currentSize += size
	hc.addToFront(entry)
}

// Delete drops key.
func (hc *HotCache) Delete(key string) {
	hc.mutex.Lock()
	defer hc.mutex.Unlock()

	if entry, exists := hc.entries[key]; exists {
		hc.remove(entry)
	}
}

// Clear drops every entry.
func (hc *HotCache) Clear() {
	hc.mutex.Lock()
	defer hc.mutex.Unlock()

	hc.entries = make(map[string]*hotEntry)
	hc.currentSize = 0
	hc.head.next = hc.tail
	hc.tail.prev = hc.head
}

// Stats returns the current counters.
func (hc *HotCache) Stats() HotStats {
	hc.mutex.Lock()
	defer hc.mutex.Unlock()

	return HotStats{
		Entries:   len(hc.entries),
		Size:      hc.currentSize,
		MaxSize:   hc.maxSize,
		Hits:      atomic.LoadInt64(&hc.hits),
		Misses:    atomic.LoadInt64(&hc.misses),
		Evictions: atomic.LoadInt64(&hc.evictions),
	}
}

func (hc *HotCache) evictIfNeeded(newSize int64) {
	for hc.currentSize+newSize > hc.maxSize && hc.tail.prev != hc.head {
		hc.remove(hc.tail.prev)
		atomic.AddInt64(&hc.evictions, 1)
	}
}

func (hc *HotCache) remove(entry *hotEntry) {
	hc.removeFromList(entry)
	delete(hc.entries, entry.key)
	hc.currentSize -= entry.size
}

func (hc *HotCache) addToFront(entry *hotEntry) {
	entry.prev = hc.head
	entry.next = hc.head.next
	hc.head.next.prev = entry
	hc.head.next = entry
}

func (hc *HotCache) removeFromList(entry *hotEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
}

func (hc *HotCache) moveToFront(entry *hotEntry) {
	hc.removeFromList(entry)
	hc.addToFront(entry)
}
