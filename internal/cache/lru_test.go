package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/conneroisu/excerpt/internal/clock"
)

func TestHotCacheLRU(t *testing.T) {
	t.Run("eviction order", func(t *testing.T) {
		// Each entry is 4 bytes: two of key, two of value.
		hc := NewHotCache(12, 0, nil)
		hc.Set("k1", []byte("v1"), "")
		hc.Set("k2", []byte("v2"), "")
		hc.Set("k3", []byte("v3"), "")

		hc.Set("k4", []byte("v4"), "")
		_, _, found := hc.Get("k1")
		assert.False(t, found, "k1 should be evicted as LRU")
		for i := 2; i <= 4; i++ {
			_, _, found := hc.Get(fmt.Sprintf("k%d", i))
			assert.True(t, found)
		}
		assert.Equal(t, int64(1), hc.Stats().Evictions)
	})

	t.Run("access refreshes", func(t *testing.T) {
		hc := NewHotCache(12, 0, nil)
		hc.Set("k1", []byte("v1"), "")
		hc.Set("k2", []byte("v2"), "")
		hc.Set("k3", []byte("v3"), "")
		hc.Get("k1")

		hc.Set("k4", []byte("v4"), "")
		_, _, found := hc.Get("k1")
		assert.True(t, found)
		_, _, found = hc.Get("k2")
		assert.False(t, found)
	})

	t.Run("replace keeps size", func(t *testing.T) {
		hc := NewHotCache(100, 0, nil)
		hc.Set("k", []byte("one"), "h1")
		hc.Set("k", []byte("two"), "h2")

		v, hash, found := hc.Get("k")
		assert.True(t, found)
		assert.Equal(t, "two", string(v))
		assert.Equal(t, "h2", hash)
		assert.Equal(t, HotStats{Entries: 1, Size: 6, MaxSize: 100, Hits: 1}, hc.Stats())
	})

	t.Run("oversized values are skipped", func(t *testing.T) {
		hc := NewHotCache(4, 0, nil)
		hc.Set("k", []byte("v"), "")
		hc.Set("k", []byte("much too large"), "")
		_, _, found := hc.Get("k")
		assert.False(t, found)
		assert.Equal(t, int64(0), hc.Stats().Size)
	})
}

func TestHotCacheTTL(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	hc := NewHotCache(100, time.Minute, clk)
	hc.Set("k", []byte("v"), "")

	clk.Advance(time.Minute)
	_, _, found := hc.Get("k")
	assert.True(t, found)

	clk.Advance(time.Second)
	_, _, found = hc.Get("k")
	assert.False(t, found)
	assert.Equal(t, 0, hc.Stats().Entries)
}

func TestHotCacheDeleteAndClear(t *testing.T) {
	hc := NewHotCache(100, 0, nil)
	hc.Set("a", []byte("1"), "")
	hc.Set("b", []byte("2"), "")

	hc.Delete("a")
	hc.Delete("missing")
	_, _, found := hc.Get("a")
	assert.False(t, found)

	hc.Clear()
	assert.Equal(t, 0, hc.Stats().Entries)
	assert.Equal(t, int64(0), hc.Stats().Size)

	hc.Set("c", []byte("3"), "")
	_, _, found = hc.Get("c")
	assert.True(t, found)
}

func TestHotCacheConcurrentAccess(t *testing.T) {
	hc := NewHotCache(1<<10, 0, nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k%d", (n*j)%32)
				hc.Set(key, []byte("value"), "")
				hc.Get(key)
				if j%7 == 0 {
					hc.Delete(key)
				}
			}
		}(i)
	}
	wg.Wait()

	st := hc.Stats()
	assert.LessOrEqual(t, st.Size, st.MaxSize)
	assert.LessOrEqual(t, st.Entries, 32)
}
