// Package resolver owns the shared backend connection and answers alias
// lookups for every protocol session.
//
// A single Resolver is shared by all sessions of a listener. Its backend
// connection moves through a tri-state lifecycle (Disconnected,
// Connecting, Connected); lookups issued while the backend is not
// Connected fail fast with consts.ErrNotConnected so the calling MTA
// can retry, instead of blocking on a connection that may never arrive.
package resolver

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/leapmail/mx/consts"
	"github.com/leapmail/mx/logger"
	"github.com/leapmail/mx/pkg/aliascache"
	"github.com/leapmail/mx/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

// Lifecycle is the state of the shared backend connection.
type Lifecycle int

const (
	Disconnected Lifecycle = iota
	Connecting
	Connected
)

func (l Lifecycle) String() string {
	switch l {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Backend is the contract the resolver depends on. Implementations must
// tolerate concurrently outstanding queries and inserts on the same
// connection.
type Backend interface {
	Connect(ctx context.Context) error
	QueryByEmailOrAlias(ctx context.Context, key string) (string, error)
	Insert(ctx context.Context, key, value string) error
	Close()
}

// Options configures a Resolver.
type Options struct {
	// VirtualTransport is the domain appended to derived identifiers
	// when UseVirtualTransport is set.
	VirtualTransport    string
	UseVirtualTransport bool

	// Overrides are answered without consulting the backend. Keys are
	// normalized on construction.
	Overrides map[string]string

	// Cache, when non-nil, fronts backend queries with a TTL cache.
	Cache *aliascache.Cache
}

// Resolver owns the single shared Backend connection for a listener.
type Resolver struct {
	backend Backend

	virtualTransport    string
	useVirtualTransport bool
	overrides           map[string]string
	cache               *aliascache.Cache

	mu         sync.Mutex
	state      Lifecycle
	closed     bool
	inflight   chan struct{} // closed when the current connect attempt finishes
	connectErr error

	sf singleflight.Group
}

func New(backend Backend, opts Options) *Resolver {
	overrides := make(map[string]string, len(opts.Overrides))
	for k, v := range opts.Overrides {
		overrides[NormalizeKey(k)] = v
	}
	return &Resolver{
		backend:             backend,
		virtualTransport:    strings.TrimPrefix(opts.VirtualTransport, "@"),
		useVirtualTransport: opts.UseVirtualTransport,
		overrides:           overrides,
		cache:               opts.Cache,
	}
}

// NormalizeKey is the alias key normalization policy: surrounding
// whitespace is trimmed and the key is lowercased before any lookup or
// insert. Values are never normalized.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// State returns the current backend lifecycle state.
func (r *Resolver) State() Lifecycle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Connect brings the shared backend connection up. It is idempotent:
// when already Connected it returns immediately, and when a connect
// attempt is already in flight the caller waits for that attempt
// instead of starting a second one.
func (r *Resolver) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return consts.ErrNotConnected
	}
	switch r.state {
	case Connected:
		r.mu.Unlock()
		return nil

	case Connecting:
		wait := r.inflight
		r.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
		r.mu.Lock()
		err := r.connectErr
		r.mu.Unlock()
		return err
	}

	// Disconnected: this caller performs the attempt.
	done := make(chan struct{})
	r.state = Connecting
	r.inflight = done
	r.mu.Unlock()
	metrics.BackendState.Set(float64(Connecting))

	err := r.backend.Connect(ctx)

	r.mu.Lock()
	if r.closed {
		// Close ran while the attempt was in flight. A connection that
		// arrived anyway is torn down instead of being published.
		if err == nil {
			r.backend.Close()
		}
		r.state = Disconnected
		r.connectErr = consts.ErrNotConnected
		r.inflight = nil
		r.mu.Unlock()
		close(done)
		metrics.BackendState.Set(float64(Disconnected))
		logger.Info("Resolver: closed during connect, backend torn down")
		return consts.ErrNotConnected
	}
	if err != nil {
		r.state = Disconnected
	} else {
		r.state = Connected
	}
	r.connectErr = err
	r.inflight = nil
	r.mu.Unlock()
	close(done)

	if err != nil {
		metrics.BackendState.Set(float64(Disconnected))
		logger.Error("Resolver: backend connect failed", "error", err)
		return err
	}
	metrics.BackendState.Set(float64(Connected))
	logger.Info("Resolver: backend connected")
	return nil
}

// Get resolves key to its delivery target. The override map is
// consulted first and works regardless of backend state. Absence is
// reported as consts.ErrAliasNotFound; a missing backend connection as
// consts.ErrNotConnected.
func (r *Resolver) Get(ctx context.Context, key string) (string, error) {
	key = NormalizeKey(key)

	if value, ok := r.overrides[key]; ok {
		return value, nil
	}

	if r.State() != Connected {
		return "", consts.ErrNotConnected
	}

	if r.cache != nil {
		if value, negative, found := r.cache.Get(key); found {
			if negative {
				return "", consts.ErrAliasNotFound
			}
			return value, nil
		}
	}

	// Coalesce concurrent lookups of the same key into one backend query.
	value, err, _ := r.sf.Do(key, func() (interface{}, error) {
		target, err := r.backend.QueryByEmailOrAlias(ctx, key)
		if err != nil {
			if errors.Is(err, consts.ErrAliasNotFound) && r.cache != nil {
				r.cache.SetNegative(key)
			}
			return "", err
		}
		if r.cache != nil {
			r.cache.Set(key, target)
		}
		return target, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// Put stores a new alias mapping. Existing aliases are never
// overwritten; the backend reports those as consts.ErrDuplicateAlias.
func (r *Resolver) Put(ctx context.Context, key, value string) error {
	key = NormalizeKey(key)

	if r.State() != Connected {
		return consts.ErrNotConnected
	}

	if err := r.backend.Insert(ctx, key, value); err != nil {
		return err
	}
	if r.cache != nil {
		r.cache.Set(key, value)
	}
	return nil
}

// DeriveIdentifier computes the stable identifier for an alias: a
// version-5 (name-based, SHA-1) UUID in the URL namespace, rendered in
// URN form. The alias is normalized like any lookup key, so case
// variants yield one identifier. When the
// virtual transport option is set the configured domain is appended for
// virtual-mailbox routing.
func (r *Resolver) DeriveIdentifier(alias string) string {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(NormalizeKey(alias)))
	urn := id.URN()

	if r.useVirtualTransport && r.virtualTransport != "" {
		return urn + "@" + r.virtualTransport
	}
	return urn
}

// Close tears down the backend connection. Only called on process
// shutdown; sessions observe ErrNotConnected afterwards.
func (r *Resolver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	wasConnected := r.state == Connected
	r.state = Disconnected
	r.mu.Unlock()

	// An attempt still in flight observes the closed flag and tears
	// down its own connection when it completes.
	if wasConnected {
		r.backend.Close()
	}
	metrics.BackendState.Set(float64(Disconnected))
}
