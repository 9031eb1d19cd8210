package resolver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leapmail/mx/consts"
	"github.com/leapmail/mx/pkg/aliascache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryBackend is an in-memory Backend for tests.
type memoryBackend struct {
	mu      sync.Mutex
	data    map[string]string
	connect struct {
		calls atomic.Int32
		delay time.Duration
		err   error
	}
	queryCalls atomic.Int32
	closeCalls atomic.Int32
}

func newMemoryBackend(data map[string]string) *memoryBackend {
	if data == nil {
		data = make(map[string]string)
	}
	return &memoryBackend{data: data}
}

func (b *memoryBackend) Connect(ctx context.Context) error {
	b.connect.calls.Add(1)
	if b.connect.delay > 0 {
		select {
		case <-time.After(b.connect.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return b.connect.err
}

func (b *memoryBackend) QueryByEmailOrAlias(ctx context.Context, key string) (string, error) {
	b.queryCalls.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	value, ok := b.data[key]
	if !ok {
		return "", consts.ErrAliasNotFound
	}
	return value, nil
}

func (b *memoryBackend) Insert(ctx context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.data[key]; exists {
		return consts.ErrDuplicateAlias
	}
	b.data[key] = value
	return nil
}

func (b *memoryBackend) Close() {
	b.closeCalls.Add(1)
}

func TestConnectIdempotent(t *testing.T) {
	backend := newMemoryBackend(nil)
	r := New(backend, Options{})
	ctx := context.Background()

	require.NoError(t, r.Connect(ctx))
	require.Equal(t, Connected, r.State())

	// A second call must not start another attempt.
	require.NoError(t, r.Connect(ctx))
	assert.Equal(t, int32(1), backend.connect.calls.Load())
}

func TestConnectConcurrentCallersShareAttempt(t *testing.T) {
	backend := newMemoryBackend(nil)
	backend.connect.delay = 50 * time.Millisecond
	r := New(backend, Options{})
	ctx := context.Background()

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.Connect(ctx)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}
	assert.Equal(t, int32(1), backend.connect.calls.Load(), "concurrent callers must share one in-flight attempt")
	assert.Equal(t, Connected, r.State())
}

func TestConnectFailureReturnsToDisconnected(t *testing.T) {
	backend := newMemoryBackend(nil)
	backend.connect.err = errors.New("connection refused")
	r := New(backend, Options{})
	ctx := context.Background()

	err := r.Connect(ctx)
	require.Error(t, err)
	assert.Equal(t, Disconnected, r.State())

	// A later call starts a fresh attempt.
	backend.connect.err = nil
	require.NoError(t, r.Connect(ctx))
	assert.Equal(t, Connected, r.State())
	assert.Equal(t, int32(2), backend.connect.calls.Load())
}

func TestGetFailsFastWhenDisconnected(t *testing.T) {
	backend := newMemoryBackend(map[string]string{"isis": "isis@leap.se"})
	r := New(backend, Options{})

	_, err := r.Get(context.Background(), "isis")
	assert.ErrorIs(t, err, consts.ErrNotConnected)
}

func TestPutFailsFastWhenDisconnected(t *testing.T) {
	backend := newMemoryBackend(nil)
	r := New(backend, Options{})

	err := r.Put(context.Background(), "isis", "isis@leap.se")
	assert.ErrorIs(t, err, consts.ErrNotConnected)
}

func TestGetResolvesFromBackend(t *testing.T) {
	backend := newMemoryBackend(map[string]string{"isis": "isis@leap.se"})
	r := New(backend, Options{})
	ctx := context.Background()
	require.NoError(t, r.Connect(ctx))

	value, err := r.Get(ctx, "isis")
	require.NoError(t, err)
	assert.Equal(t, "isis@leap.se", value)

	_, err = r.Get(ctx, "ghost")
	assert.ErrorIs(t, err, consts.ErrAliasNotFound)
}

func TestGetNormalizesKeys(t *testing.T) {
	backend := newMemoryBackend(map[string]string{"isis": "isis@leap.se"})
	r := New(backend, Options{})
	ctx := context.Background()
	require.NoError(t, r.Connect(ctx))

	value, err := r.Get(ctx, "  ISIS ")
	require.NoError(t, err)
	assert.Equal(t, "isis@leap.se", value)
}

func TestOverridesAnswerWithoutBackend(t *testing.T) {
	backend := newMemoryBackend(nil)
	r := New(backend, Options{
		Overrides: map[string]string{"Drebs": "drebs@leap.se"},
	})

	// Overrides work even while Disconnected, and keys are normalized.
	value, err := r.Get(context.Background(), "drebs")
	require.NoError(t, err)
	assert.Equal(t, "drebs@leap.se", value)
	assert.Equal(t, int32(0), backend.queryCalls.Load())
}

func TestGetUsesCache(t *testing.T) {
	backend := newMemoryBackend(map[string]string{"isis": "isis@leap.se"})
	cache := aliascache.New(time.Minute, time.Minute, 100)
	defer cache.Stop()

	r := New(backend, Options{Cache: cache})
	ctx := context.Background()
	require.NoError(t, r.Connect(ctx))

	for i := 0; i < 3; i++ {
		value, err := r.Get(ctx, "isis")
		require.NoError(t, err)
		assert.Equal(t, "isis@leap.se", value)
	}
	assert.Equal(t, int32(1), backend.queryCalls.Load(), "repeated lookups must be served from cache")

	// Negative results are cached too.
	for i := 0; i < 3; i++ {
		_, err := r.Get(ctx, "ghost")
		assert.ErrorIs(t, err, consts.ErrAliasNotFound)
	}
	assert.Equal(t, int32(2), backend.queryCalls.Load())
}

func TestPutStoresAndRefusesDuplicates(t *testing.T) {
	backend := newMemoryBackend(map[string]string{"isis": "isis@leap.se"})
	r := New(backend, Options{})
	ctx := context.Background()
	require.NoError(t, r.Connect(ctx))

	require.NoError(t, r.Put(ctx, "drebs", "drebs@leap.se"))
	value, err := r.Get(ctx, "drebs")
	require.NoError(t, err)
	assert.Equal(t, "drebs@leap.se", value)

	err = r.Put(ctx, "isis", "other@leap.se")
	assert.ErrorIs(t, err, consts.ErrDuplicateAlias)

	value, err = r.Get(ctx, "isis")
	require.NoError(t, err)
	assert.Equal(t, "isis@leap.se", value, "failed put must leave storage unchanged")
}

func TestDeriveIdentifierDeterministic(t *testing.T) {
	r := New(newMemoryBackend(nil), Options{})

	first := r.DeriveIdentifier("isis@leap.se")
	second := r.DeriveIdentifier("isis@leap.se")
	assert.Equal(t, first, second)

	other := r.DeriveIdentifier("drebs@leap.se")
	assert.NotEqual(t, first, other)

	// Version-5 UUID in the URL namespace, URN rendering.
	assert.Equal(t, "urn:uuid:7194878e-4aea-563f-85a4-4f58519f3c4f", first)
}

func TestDeriveIdentifierVirtualTransport(t *testing.T) {
	r := New(newMemoryBackend(nil), Options{
		VirtualTransport:    "example.com",
		UseVirtualTransport: true,
	})
	assert.Equal(t, "urn:uuid:7194878e-4aea-563f-85a4-4f58519f3c4f@example.com",
		r.DeriveIdentifier("isis@leap.se"))

	// A leading '@' in the configured domain is tolerated.
	r = New(newMemoryBackend(nil), Options{
		VirtualTransport:    "@example.com",
		UseVirtualTransport: true,
	})
	assert.Equal(t, "urn:uuid:7194878e-4aea-563f-85a4-4f58519f3c4f@example.com",
		r.DeriveIdentifier("isis@leap.se"))
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"isis", "isis"},
		{" isis ", "isis"},
		{"ISIS", "isis"},
		{"Isis@Leap.SE", "isis@leap.se"},
		{"", ""},
		{"  ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeKey(tt.in), "NormalizeKey(%q)", tt.in)
	}
}

func TestCloseTearsDownConnection(t *testing.T) {
	backend := newMemoryBackend(nil)
	r := New(backend, Options{})
	ctx := context.Background()
	require.NoError(t, r.Connect(ctx))

	r.Close()
	assert.Equal(t, Disconnected, r.State())
	assert.Equal(t, int32(1), backend.closeCalls.Load())

	_, err := r.Get(ctx, "isis")
	assert.ErrorIs(t, err, consts.ErrNotConnected)

	// A second Close is a no-op.
	r.Close()
	assert.Equal(t, int32(1), backend.closeCalls.Load())
}

func TestCloseDuringConnect(t *testing.T) {
	backend := newMemoryBackend(nil)
	backend.connect.delay = 50 * time.Millisecond
	r := New(backend, Options{})
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Connect(ctx)
	}()

	require.Eventually(t, func() bool {
		return r.State() == Connecting
	}, time.Second, time.Millisecond)
	r.Close()

	// The in-flight attempt must not publish Connected; the connection
	// it established is torn down instead.
	err := <-errCh
	assert.ErrorIs(t, err, consts.ErrNotConnected)
	assert.Equal(t, Disconnected, r.State())
	assert.Equal(t, int32(1), backend.closeCalls.Load())

	// Connect on a closed resolver refuses without a new attempt.
	assert.ErrorIs(t, r.Connect(ctx), consts.ErrNotConnected)
	assert.Equal(t, int32(1), backend.connect.calls.Load())
}

func TestDeriveIdentifierNormalizesAlias(t *testing.T) {
	r := New(newMemoryBackend(nil), Options{})

	assert.Equal(t, "urn:uuid:7194878e-4aea-563f-85a4-4f58519f3c4f",
		r.DeriveIdentifier(" ISIS@Leap.SE "))
}
