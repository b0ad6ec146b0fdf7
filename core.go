// Package querycore is a client-side data-fetching and caching core: an
// endpoint registry, per-endpoint state machine, subscription engine,
// in-flight request coalescing, a pluggable cache-provider abstraction,
// and a focus/online-driven refresh orchestrator. It does not itself
// fetch data, bind to any UI framework, or run tests — callers supply
// the producer functions and read State via Subscribe/GetState.
package querycore

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/o-tero/querycore/cache"
	"github.com/o-tero/querycore/refresh"
)

// Core is the facade applications construct once and share across
// every endpoint they define.
type Core struct {
	config Config

	mu       sync.RWMutex
	registry map[string]record

	providersMu sync.Mutex
	providers   map[cache.Kind]cache.Provider

	orchestrator *refresh.Orchestrator
	logger       zerolog.Logger
	nowFunc      func() time.Time
}

// NewCore constructs a Core. Cache providers are created lazily, on
// first endpoint that needs them; the refresh orchestrator wires its
// event source immediately.
func NewCore(opts ...Option) *Core {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Core{
		config:    cfg,
		registry:  make(map[string]record),
		providers: make(map[cache.Kind]cache.Provider),
		logger:    cfg.logger,
		nowFunc:   time.Now,
	}
	c.orchestrator = refresh.NewOrchestrator(cfg.eventSource, cfg.logger)
	return c
}

// Close unregisters the refresh orchestrator from its event source. It
// does not clear the registry or wait for in-flight productions.
func (c *Core) Close() {
	c.orchestrator.Close()
}

func (c *Core) now() time.Time {
	return c.nowFunc()
}

func (c *Core) providerFor(opts endpointOptions) cache.Provider {
	kind := opts.resolveCacheKind(c.config)

	c.providersMu.Lock()
	defer c.providersMu.Unlock()
	if p, ok := c.providers[kind]; ok {
		return p
	}
	p := cache.New(kind, c.config.cacheConfig)
	c.providers[kind] = p
	return p
}

func (c *Core) diagnostic(d Diagnostic) {
	c.logger.Debug().Str("key", d.Key).Str("stage", d.Stage).Err(d.Err).Msg("querycore diagnostic")
	c.config.onDiagnostic(d)
}

// DefineEndpoint registers producer under key with the given options.
// The first call for a key hydrates initial state from the resolved
// cache provider; subsequent calls for the same key replace the
// producer and options but leave in-memory state untouched (see
// DESIGN.md Open Question 2).
//
// DefineEndpoint is a package-level generic function, not a method,
// because Go methods cannot carry their own type parameters.
func DefineEndpoint[T any](c *Core, key string, producer Producer[T], opts ...EndpointOption) error {
	var o endpointOptions
	for _, opt := range opts {
		opt(&o)
	}

	c.mu.Lock()
	if existing, ok := c.registry[key]; ok {
		rec, ok := existing.(*endpointRecord[T])
		if !ok {
			c.mu.Unlock()
			return ErrTypeMismatch
		}
		rec.mu.Lock()
		rec.producer = producer
		rec.opts = o
		rec.mu.Unlock()
		c.mu.Unlock()
		return nil
	}

	rec := &endpointRecord[T]{
		core:     c,
		key:      key,
		producer: producer,
		opts:     o,
	}
	c.registry[key] = rec
	c.mu.Unlock()

	rec.hydrate(context.Background())
	return nil
}

// GetState returns a snapshot of key's current state. An undefined key
// returns the zero State and a nil error (see DESIGN.md Open Question 1).
func GetState[T any](c *Core, key string) (State[T], error) {
	c.mu.RLock()
	rec, ok := c.registry[key]
	c.mu.RUnlock()
	if !ok {
		return State[T]{}, nil
	}

	typed, ok := rec.(*endpointRecord[T])
	if !ok {
		return State[T]{}, ErrTypeMismatch
	}

	typed.mu.Lock()
	snap := typed.state.snapshot()
	typed.mu.Unlock()
	return snap, nil
}

// Subscribe registers listener against key, delivering it the current
// snapshot immediately and every subsequent change until the returned
// unsubscribe func is called. It returns ErrUndefinedEndpoint if key
// has not been passed to DefineEndpoint.
func Subscribe[T any](c *Core, key string, listener func(State[T])) (unsubscribe func(), err error) {
	c.mu.RLock()
	rec, ok := c.registry[key]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrUndefinedEndpoint
	}

	typed, ok := rec.(*endpointRecord[T])
	if !ok {
		return nil, ErrTypeMismatch
	}
	return typed.subscribe(listener), nil
}

// Refetch triggers (or joins) a production for key. It returns
// ErrUndefinedEndpoint if key has not been defined.
func (c *Core) Refetch(ctx context.Context, key string) error {
	c.mu.RLock()
	rec, ok := c.registry[key]
	c.mu.RUnlock()
	if !ok {
		return ErrUndefinedEndpoint
	}
	return rec.Refetch(ctx)
}

// Invalidate clears key's state and persisted cache entry. It returns
// ErrUndefinedEndpoint if key has not been defined.
func (c *Core) Invalidate(ctx context.Context, key string) error {
	c.mu.RLock()
	rec, ok := c.registry[key]
	c.mu.RUnlock()
	if !ok {
		return ErrUndefinedEndpoint
	}
	return rec.Invalidate(ctx)
}
