package aliascache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndGet(t *testing.T) {
	cache := New(time.Minute, time.Minute, 100)
	defer cache.Stop()

	cache.Set("isis", "isis@leap.se")

	value, negative, found := cache.Get("isis")
	require.True(t, found)
	assert.False(t, negative)
	assert.Equal(t, "isis@leap.se", value)

	_, _, found = cache.Get("missing")
	assert.False(t, found)
}

func TestNegativeEntries(t *testing.T) {
	cache := New(time.Minute, time.Minute, 100)
	defer cache.Stop()

	cache.SetNegative("ghost")

	value, negative, found := cache.Get("ghost")
	require.True(t, found)
	assert.True(t, negative)
	assert.Empty(t, value)
}

func TestExpiry(t *testing.T) {
	cache := New(20*time.Millisecond, 10*time.Millisecond, 100)
	defer cache.Stop()

	cache.Set("isis", "isis@leap.se")
	cache.SetNegative("ghost")

	_, _, found := cache.Get("isis")
	require.True(t, found)

	time.Sleep(15 * time.Millisecond)

	// Negative TTL is shorter; the positive entry is still live.
	_, _, found = cache.Get("ghost")
	assert.False(t, found, "negative entry should have expired")
	_, _, found = cache.Get("isis")
	assert.True(t, found)

	time.Sleep(10 * time.Millisecond)
	_, _, found = cache.Get("isis")
	assert.False(t, found, "positive entry should have expired")
}

func TestOverwriteRefreshesEntry(t *testing.T) {
	cache := New(time.Minute, time.Minute, 100)
	defer cache.Stop()

	cache.SetNegative("isis")
	cache.Set("isis", "isis@leap.se")

	value, negative, found := cache.Get("isis")
	require.True(t, found)
	assert.False(t, negative)
	assert.Equal(t, "isis@leap.se", value)
	assert.Equal(t, 1, cache.Size())
}

func TestInvalidate(t *testing.T) {
	cache := New(time.Minute, time.Minute, 100)
	defer cache.Stop()

	cache.Set("isis", "isis@leap.se")
	cache.Invalidate("isis")

	_, _, found := cache.Get("isis")
	assert.False(t, found)
	assert.Equal(t, 0, cache.Size())

	// Invalidating an absent key is a no-op.
	cache.Invalidate("missing")
}

func TestMaxSizeEviction(t *testing.T) {
	cache := New(time.Minute, time.Minute, 3)
	defer cache.Stop()

	for i := 0; i < 3; i++ {
		cache.Set(fmt.Sprintf("alias%d", i), "target@leap.se")
		// Distinct expiries so the oldest entry is well defined.
		time.Sleep(2 * time.Millisecond)
	}
	require.Equal(t, 3, cache.Size())

	cache.Set("alias3", "target@leap.se")
	assert.Equal(t, 3, cache.Size(), "cache must stay within its bound")

	_, _, found := cache.Get("alias0")
	assert.False(t, found, "oldest entry should be the one evicted")
	_, _, found = cache.Get("alias3")
	assert.True(t, found)
}

func TestUpdateAtCapacityDoesNotEvict(t *testing.T) {
	cache := New(time.Minute, time.Minute, 2)
	defer cache.Stop()

	cache.Set("a", "a@leap.se")
	cache.Set("b", "b@leap.se")

	// Overwriting an existing key at capacity displaces nothing.
	cache.Set("a", "other@leap.se")
	assert.Equal(t, 2, cache.Size())

	value, _, found := cache.Get("b")
	require.True(t, found)
	assert.Equal(t, "b@leap.se", value)
}

func TestRemoveExpired(t *testing.T) {
	cache := New(5*time.Millisecond, 5*time.Millisecond, 100)
	defer cache.Stop()

	cache.Set("isis", "isis@leap.se")
	cache.Set("drebs", "drebs@leap.se")
	time.Sleep(10 * time.Millisecond)
	cache.Set("fresh", "fresh@leap.se")

	cache.removeExpired()
	assert.Equal(t, 1, cache.Size())

	_, _, found := cache.Get("fresh")
	assert.True(t, found)
}

func TestStopIsIdempotent(t *testing.T) {
	cache := New(time.Minute, time.Minute, 100)
	cache.Stop()
	cache.Stop()
}
