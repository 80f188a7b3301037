package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mockdash/internal/clock"
)

func TestLRUCacheExpiry(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewLRUCache[string](10, time.Minute, WithClock(clk.Now))

	c.Set("a", "1")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	clk.Advance(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())
}

func TestLRUCacheSlidingExpiry(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewLRUCache[string](10, time.Minute, WithClock(clk.Now), WithSlidingExpiry())

	c.Set("a", "1")
	for i := 0; i < 5; i++ {
		clk.Advance(50 * time.Second)
		_, ok := c.Get("a")
		assert.True(t, ok, "read %d", i)
	}
	clk.Advance(time.Minute)
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestLRUCacheEviction(t *testing.T) {
	c := NewLRUCache[int](2, time.Hour)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Size())
}
