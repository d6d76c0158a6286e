package cache_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakekeeper/lakekeeper/internal/cache"
)

func TestSetAndGet(t *testing.T) {
	c := cache.New[string, string](cache.Options{TTL: 5 * time.Second})

	c.Set("warehouse", "credential")
	got, ok := c.Get("warehouse")
	require.True(t, ok)
	assert.Equal(t, "credential", got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestSetOverwrites(t *testing.T) {
	c := cache.New[string, int](cache.Options{TTL: 5 * time.Second, MaxEntries: 3})

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)
	c.Set("a", 9)

	assert.Equal(t, 3, c.Len())
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 9, got)
}

func TestEntriesExpire(t *testing.T) {
	c := cache.New[string, string](cache.Options{TTL: 10 * time.Millisecond})

	c.Set("ephemeral", "soon gone")
	time.Sleep(25 * time.Millisecond)

	_, ok := c.Get("ephemeral")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestEvictsOldestWhenFull(t *testing.T) {
	c := cache.New[string, int](cache.Options{TTL: 5 * time.Second, MaxEntries: 3})

	c.Set("first", 1)
	c.Set("second", 2)
	c.Set("third", 3)
	c.Set("fourth", 4)

	_, ok := c.Get("first")
	assert.False(t, ok, "oldest insertion must give way")
	for _, key := range []string{"second", "third", "fourth"} {
		_, ok := c.Get(key)
		assert.True(t, ok, key)
	}
}

func TestExpiredEntriesDroppedBeforeLiveOnes(t *testing.T) {
	c := cache.New[string, int](cache.Options{TTL: 10 * time.Millisecond, MaxEntries: 3})

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)
	time.Sleep(25 * time.Millisecond)

	c.Set("d", 4)
	got, ok := c.Get("d")
	require.True(t, ok)
	assert.Equal(t, 4, got)
	assert.Equal(t, 1, c.Len())
}

func TestDeleteAndClear(t *testing.T) {
	c := cache.New[string, string](cache.Options{TTL: 5 * time.Second})

	c.Set("a", "1")
	c.Set("b", "2")
	c.Delete("a")
	c.Delete("never-set")
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("b")
	assert.False(t, ok)
}

func TestConcurrentUse(t *testing.T) {
	c := cache.New[int, int](cache.Options{TTL: time.Second, MaxEntries: 64})

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := id*200 + i
				c.Set(key, key)
				c.Get(key)
				if i%10 == 0 {
					c.Delete(key)
				}
				if i%50 == 0 {
					c.Clear()
				}
			}
		}(g)
	}
	wg.Wait()
}
