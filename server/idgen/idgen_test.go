package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFormat(t *testing.T) {
	id := New()
	// 12 bytes base32-encode to 20 characters without padding.
	assert.Len(t, id, 20)
	assert.Equal(t, strings.ToLower(id), id)
	for _, r := range id {
		valid := (r >= 'a' && r <= 'z') || (r >= '2' && r <= '7')
		require.True(t, valid, "unexpected character %q in id %q", r, id)
	}
}

func TestNewUnique(t *testing.T) {
	const count = 10000

	seen := make(map[string]struct{}, count)
	for i := 0; i < count; i++ {
		id := New()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %q after %d generations", id, i)
		seen[id] = struct{}{}
	}
}

func TestNewConcurrent(t *testing.T) {
	const goroutines = 8
	const perGoroutine = 500

	var mu sync.Mutex
	seen := make(map[string]struct{}, goroutines*perGoroutine)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				id := New()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine)
}
