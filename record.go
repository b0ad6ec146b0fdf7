package querycore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/o-tero/querycore/cache"
)

// Producer resolves the value for an endpoint. It is called at most
// once per coalesced refetch, regardless of how many goroutines are
// waiting on the result.
type Producer[T any] func(ctx context.Context) (T, error)

// record is the non-generic handle the registry stores, since Go has
// no existential type for "endpointRecord[T] for some T". Every public
// operation that knows T recovers it with a type assertion back to
// *endpointRecord[T]; a mismatch surfaces as ErrTypeMismatch rather
// than panicking.
type record interface {
	Key() string
	RefetchAfter() (time.Duration, bool)
	IsStale() bool
	Refetch(ctx context.Context) error
	Invalidate(ctx context.Context) error
}

type listenerEntry[T any] struct {
	id int
	fn func(State[T])
}

// endpointRecord is the generic state holder behind one registry entry:
// producer, merged options, current State, subscriber list, and the
// single request coalescer guaranteeing one production per refetch
// cycle.
type endpointRecord[T any] struct {
	core *Core
	key  string

	mu             sync.Mutex
	producer       Producer[T]
	opts           endpointOptions
	state          State[T]
	loading        bool
	epoch          uint64
	listeners      []listenerEntry[T]
	nextListenerID int
	unobserve      func()

	group singleflight.Group
}

var _ record = (*endpointRecord[int])(nil)

func (r *endpointRecord[T]) Key() string { return r.key }

func (r *endpointRecord[T]) RefetchAfter() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opts.resolveRefetchAfter(r.core.config)
}

// IsStale reports whether the endpoint has no data yet, or has a
// configured refetchAfter window that has elapsed since LastUpdated.
// An endpoint with no refetchAfter configured is never considered
// stale once it has data — callers that need the focus-trigger's
// stricter "skip entirely" behavior check RefetchAfter first.
func (r *endpointRecord[T]) IsStale() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isStaleLocked()
}

func (r *endpointRecord[T]) isStaleLocked() bool {
	if r.state.Data == nil {
		return true
	}
	refetchAfter, has := r.opts.resolveRefetchAfter(r.core.config)
	if !has {
		return false
	}
	if r.state.LastUpdated == nil {
		return true
	}
	return r.core.now().Sub(*r.state.LastUpdated) >= refetchAfter
}

// Refetch coalesces concurrent callers into a single producer
// invocation. Exactly one caller installs the loading transition and
// notification; every caller, including joiners, receives the shared
// result via singleflight.
func (r *endpointRecord[T]) Refetch(ctx context.Context) error {
	r.mu.Lock()
	epoch := r.epoch
	alreadyLoading := r.loading
	if !alreadyLoading {
		r.loading = true
		r.state.IsLoading = true
	}
	r.mu.Unlock()

	if !alreadyLoading {
		r.notify()
	}

	v, err, _ := r.group.Do("fetch", func() (any, error) {
		return r.produce(ctx)
	})

	r.mu.Lock()
	if r.epoch != epoch {
		// Invalidated mid-flight: this production belongs to a
		// superseded generation and must not overwrite post-invalidate
		// state, per the epoch-guarding extension in SPEC_FULL §5.
		r.mu.Unlock()
		return err
	}

	r.loading = false
	r.state.IsLoading = false
	if err != nil {
		r.state.IsError = true
		r.state.Err = err
	} else {
		val, _ := v.(T)
		r.state.Data = &val
		now := r.core.now()
		r.state.LastUpdated = &now
		r.state.IsError = false
		r.state.Err = nil
	}
	snap := r.state.snapshot()
	r.mu.Unlock()

	if err == nil {
		r.persist(ctx, snap)
	}
	r.notify()
	return err
}

func (r *endpointRecord[T]) produce(ctx context.Context) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &ProducerPanicError{Key: r.key, Reason: rec}
		}
	}()
	val, perr := r.producer(ctx)
	if perr != nil {
		return nil, perr
	}
	return val, nil
}

// Invalidate clears state and the persisted cache entry, bumps the
// epoch so any still-in-flight production from a prior generation is
// discarded when it resolves, and notifies subscribers of the cleared
// state. The record itself is never removed from the registry.
func (r *endpointRecord[T]) Invalidate(ctx context.Context) error {
	r.mu.Lock()
	r.epoch++
	r.loading = false
	r.state = State[T]{}
	r.mu.Unlock()

	r.group.Forget("fetch")
	r.core.providerFor(r.opts).Remove(ctx, cache.NamespacedKey(r.key))
	r.notify()
	return nil
}

func (r *endpointRecord[T]) persist(ctx context.Context, snap State[T]) {
	if snap.Data == nil || snap.LastUpdated == nil {
		return
	}
	raw, err := json.Marshal(snap.Data)
	if err != nil {
		r.core.diagnostic(Diagnostic{Key: r.key, Stage: "cache-encode", Err: err})
		return
	}
	entry := cache.Entry{Data: raw, LastUpdated: snap.LastUpdated.UnixMilli()}
	r.core.providerFor(r.opts).Set(ctx, cache.NamespacedKey(r.key), entry)
}

func (r *endpointRecord[T]) hydrate(ctx context.Context) {
	provider := r.core.providerFor(r.opts)
	entry, ok := provider.Get(ctx, cache.NamespacedKey(r.key))
	if !ok {
		return
	}

	var val T
	if err := json.Unmarshal(entry.Data, &val); err != nil {
		r.core.diagnostic(Diagnostic{Key: r.key, Stage: "cache-hydrate", Err: err})
		return
	}

	r.mu.Lock()
	r.state.Data = &val
	t := time.UnixMilli(entry.LastUpdated)
	r.state.LastUpdated = &t
	r.mu.Unlock()
}

// subscribe registers fn, delivers the current snapshot to it
// synchronously, and — mirroring the original's microtask-deferred
// loading notification — dispatches any resulting refetch on a
// goroutine so the initial snapshot delivery is never itself
// interleaved with a loading-state transition.
//
// An endpoint is "observed" by the refresh orchestrator only while it
// has at least one listener: the zero-to-one transition here registers
// it, and the returned unsubscribe func's one-to-zero transition
// unregisters it, per spec.md §4.5 and the Glossary's definition of
// Observed.
func (r *endpointRecord[T]) subscribe(fn func(State[T])) func() {
	r.mu.Lock()
	id := r.nextListenerID
	r.nextListenerID++
	r.listeners = append(r.listeners, listenerEntry[T]{id: id, fn: fn})
	firstListener := len(r.listeners) == 1
	snap := r.state.snapshot()
	needsRefetch := r.isStaleLocked()
	r.mu.Unlock()

	if firstListener {
		unregister := r.core.orchestrator.Register(r)
		r.mu.Lock()
		r.unobserve = unregister
		r.mu.Unlock()
	}

	r.safeCall(fn, snap)

	if needsRefetch {
		go func() {
			_ = r.Refetch(context.Background())
		}()
	}

	return func() {
		r.mu.Lock()
		for i, l := range r.listeners {
			if l.id == id {
				r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
				break
			}
		}
		var unregister func()
		if len(r.listeners) == 0 {
			unregister = r.unobserve
			r.unobserve = nil
		}
		r.mu.Unlock()

		if unregister != nil {
			unregister()
		}
	}
}

func (r *endpointRecord[T]) notify() {
	r.mu.Lock()
	snap := r.state.snapshot()
	listeners := make([]listenerEntry[T], len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	for _, l := range listeners {
		r.safeCall(l.fn, snap)
	}
}

func (r *endpointRecord[T]) safeCall(fn func(State[T]), snap State[T]) {
	defer func() {
		if rec := recover(); rec != nil {
			r.core.diagnostic(Diagnostic{
				Key:   r.key,
				Stage: "listener",
				Err:   fmt.Errorf("listener panicked: %v", rec),
			})
		}
	}()
	fn(snap)
}
