package querycore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/o-tero/querycore/cache"
	"github.com/o-tero/querycore/refresh"
)

func newTestCore(t *testing.T, opts ...Option) *Core {
	t.Helper()
	c := NewCore(opts...)
	t.Cleanup(c.Close)
	return c
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", timeout)
	}
}

func TestDefineEndpoint_GetState_Undefined(t *testing.T) {
	c := newTestCore(t)
	state, err := GetState[int](c, "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Data != nil || state.IsLoading || state.IsError {
		t.Fatalf("expected zero state for undefined key, got %+v", state)
	}
}

func TestRefetch_Invalidate_UndefinedEndpoint(t *testing.T) {
	c := newTestCore(t)
	if err := c.Refetch(context.Background(), "missing"); !errors.Is(err, ErrUndefinedEndpoint) {
		t.Fatalf("got %v, want ErrUndefinedEndpoint", err)
	}
	if err := c.Invalidate(context.Background(), "missing"); !errors.Is(err, ErrUndefinedEndpoint) {
		t.Fatalf("got %v, want ErrUndefinedEndpoint", err)
	}
	if _, err := Subscribe[int](c, "missing", func(State[int]) {}); !errors.Is(err, ErrUndefinedEndpoint) {
		t.Fatalf("got %v, want ErrUndefinedEndpoint", err)
	}
}

func TestDefineEndpoint_TypeMismatchOnRedefine(t *testing.T) {
	c := newTestCore(t)
	if err := DefineEndpoint(c, "k", func(context.Context) (int, error) { return 1, nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := DefineEndpoint(c, "k", func(context.Context) (string, error) { return "x", nil })
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("got %v, want ErrTypeMismatch", err)
	}
	if _, err := GetState[string](c, "k"); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("GetState got %v, want ErrTypeMismatch", err)
	}
}

func TestRefetch_SuccessTransitionsStateMachine(t *testing.T) {
	c := newTestCore(t)
	var calls atomic.Int32
	err := DefineEndpoint(c, "k", func(context.Context) (int, error) {
		calls.Add(1)
		return 42, nil
	})
	if err != nil {
		t.Fatalf("DefineEndpoint: %v", err)
	}

	if err := c.Refetch(context.Background(), "k"); err != nil {
		t.Fatalf("Refetch: %v", err)
	}

	state, err := GetState[int](c, "k")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if state.IsLoading || state.IsError || state.Data == nil || *state.Data != 42 {
		t.Fatalf("got %+v, want settled success state with Data=42", state)
	}
	if calls.Load() != 1 {
		t.Fatalf("producer called %d times, want 1", calls.Load())
	}
}

func TestRefetch_ErrorPreservesPriorData(t *testing.T) {
	c := newTestCore(t)
	fail := atomic.Bool{}
	err := DefineEndpoint(c, "k", func(context.Context) (int, error) {
		if fail.Load() {
			return 0, errors.New("boom")
		}
		return 1, nil
	})
	if err != nil {
		t.Fatalf("DefineEndpoint: %v", err)
	}
	if err := c.Refetch(context.Background(), "k"); err != nil {
		t.Fatalf("first Refetch: %v", err)
	}

	fail.Store(true)
	if err := c.Refetch(context.Background(), "k"); err == nil {
		t.Fatalf("expected second Refetch to return the producer's error")
	}

	state, _ := GetState[int](c, "k")
	if !state.IsError || state.Err == nil {
		t.Fatalf("expected IsError and Err set, got %+v", state)
	}
	if state.Data == nil || *state.Data != 1 {
		t.Fatalf("expected prior successful Data to survive a failed refetch, got %+v", state.Data)
	}
}

func TestRefetch_ProducerPanicIsRecovered(t *testing.T) {
	c := newTestCore(t)
	err := DefineEndpoint(c, "k", func(context.Context) (int, error) {
		panic("kaboom")
	})
	if err != nil {
		t.Fatalf("DefineEndpoint: %v", err)
	}

	err = c.Refetch(context.Background(), "k")
	var panicErr *ProducerPanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("got %v (%T), want *ProducerPanicError", err, err)
	}

	state, _ := GetState[int](c, "k")
	if !state.IsError {
		t.Fatalf("expected IsError after panicking producer, got %+v", state)
	}
}

func TestRefetch_ConcurrentCallersCoalesceIntoOneProduction(t *testing.T) {
	c := newTestCore(t)
	var calls atomic.Int32
	release := make(chan struct{})
	err := DefineEndpoint(c, "k", func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 7, nil
	})
	if err != nil {
		t.Fatalf("DefineEndpoint: %v", err)
	}

	const n = 10
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_ = c.Refetch(context.Background(), "k")
		}()
	}

	waitUntil(t, time.Second, func() bool {
		state, _ := GetState[int](c, "k")
		return state.IsLoading
	})
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("producer invoked %d times across %d concurrent callers, want exactly 1", got, n)
	}
	state, _ := GetState[int](c, "k")
	if state.Data == nil || *state.Data != 7 {
		t.Fatalf("got %+v, want Data=7", state)
	}
}

func TestInvalidate_ClearsStateAndCache(t *testing.T) {
	c := newTestCore(t)
	err := DefineEndpoint(c, "k", func(context.Context) (int, error) { return 5, nil })
	if err != nil {
		t.Fatalf("DefineEndpoint: %v", err)
	}
	if err := c.Refetch(context.Background(), "k"); err != nil {
		t.Fatalf("Refetch: %v", err)
	}

	if err := c.Invalidate(context.Background(), "k"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	state, _ := GetState[int](c, "k")
	if state.Data != nil || state.LastUpdated != nil || state.IsError {
		t.Fatalf("expected cleared state after Invalidate, got %+v", state)
	}

	// The default memory provider admits/evicts asynchronously; give it
	// a moment to process the delete before asserting on it.
	time.Sleep(20 * time.Millisecond)
	provider := c.providerFor(endpointOptions{})
	if _, ok := provider.Get(context.Background(), cache.NamespacedKey("k")); ok {
		t.Fatalf("expected cache entry to be removed after Invalidate")
	}
}

func TestInvalidate_DiscardsStaleInFlightProduction(t *testing.T) {
	c := newTestCore(t)
	release := make(chan struct{})
	err := DefineEndpoint(c, "k", func(context.Context) (int, error) {
		<-release
		return 99, nil
	})
	if err != nil {
		t.Fatalf("DefineEndpoint: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- c.Refetch(context.Background(), "k")
	}()

	waitUntil(t, time.Second, func() bool {
		state, _ := GetState[int](c, "k")
		return state.IsLoading
	})

	if err := c.Invalidate(context.Background(), "k"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	close(release)
	<-done

	state, _ := GetState[int](c, "k")
	if state.Data != nil {
		t.Fatalf("expected invalidated state to remain cleared despite a stale in-flight production resolving afterward, got %+v", state)
	}
}

func TestSubscribe_DeliversCurrentSnapshotImmediately(t *testing.T) {
	c := newTestCore(t)
	err := DefineEndpoint(c, "k", func(context.Context) (int, error) { return 3, nil })
	if err != nil {
		t.Fatalf("DefineEndpoint: %v", err)
	}
	if err := c.Refetch(context.Background(), "k"); err != nil {
		t.Fatalf("Refetch: %v", err)
	}

	var got State[int]
	var called bool
	unsubscribe, err := Subscribe(c, "k", func(s State[int]) {
		got = s
		called = true
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsubscribe()

	if !called || got.Data == nil || *got.Data != 3 {
		t.Fatalf("expected synchronous initial delivery with Data=3, got called=%v state=%+v", called, got)
	}
}

func TestSubscribe_TriggersRefetchWhenDataUndefined(t *testing.T) {
	c := newTestCore(t)
	var calls atomic.Int32
	err := DefineEndpoint(c, "k", func(context.Context) (int, error) {
		calls.Add(1)
		return 1, nil
	})
	if err != nil {
		t.Fatalf("DefineEndpoint: %v", err)
	}

	unsubscribe, err := Subscribe(c, "k", func(State[int]) {})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsubscribe()

	waitUntil(t, time.Second, func() bool { return calls.Load() == 1 })
}

func TestSubscribe_UnsubscribeStopsNotifications(t *testing.T) {
	c := newTestCore(t)
	err := DefineEndpoint(c, "k", func(context.Context) (int, error) { return 1, nil })
	if err != nil {
		t.Fatalf("DefineEndpoint: %v", err)
	}

	var notifications atomic.Int32
	unsubscribe, err := Subscribe(c, "k", func(State[int]) { notifications.Add(1) })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	unsubscribe()

	if err := c.Refetch(context.Background(), "k"); err != nil {
		t.Fatalf("Refetch: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if n := notifications.Load(); n != 1 {
		t.Fatalf("expected exactly the initial synchronous delivery (1), got %d notifications", n)
	}
}

func TestListenerPanicIsRecoveredAndReported(t *testing.T) {
	var diag Diagnostic
	var diagSet atomic.Bool
	c := newTestCore(t, WithOnDiagnostic(func(d Diagnostic) {
		diag = d
		diagSet.Store(true)
	}))

	err := DefineEndpoint(c, "k", func(context.Context) (int, error) { return 1, nil })
	if err != nil {
		t.Fatalf("DefineEndpoint: %v", err)
	}

	var secondCalled bool
	_, err = Subscribe(c, "k", func(State[int]) { panic("listener blew up") })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	_, err = Subscribe(c, "k", func(State[int]) { secondCalled = true })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	// Discard the initial synchronous delivery so the check below only
	// sees a notification fanned out past the panicking listener.
	secondCalled = false

	if err := c.Refetch(context.Background(), "k"); err != nil {
		t.Fatalf("Refetch: %v", err)
	}

	waitUntil(t, time.Second, func() bool { return diagSet.Load() })
	if diag.Stage != "listener" {
		t.Fatalf("got diagnostic stage %q, want %q", diag.Stage, "listener")
	}
	if !secondCalled {
		t.Fatalf("a panicking listener must not prevent other listeners from being notified")
	}
}

func TestHydrationSeedsStateFromCacheOnlyOnFirstDefine(t *testing.T) {
	c := newTestCore(t)
	provider := c.providerFor(endpointOptions{})
	raw := fmt.Sprintf("%d", 11)
	provider.Set(context.Background(), cache.NamespacedKey("k"), cache.Entry{
		Data:        []byte(raw),
		LastUpdated: 123456,
	})
	// The default memory provider admits writes asynchronously.
	time.Sleep(20 * time.Millisecond)

	err := DefineEndpoint(c, "k", func(context.Context) (int, error) { return 999, nil })
	if err != nil {
		t.Fatalf("DefineEndpoint: %v", err)
	}

	state, _ := GetState[int](c, "k")
	if state.Data == nil || *state.Data != 11 {
		t.Fatalf("expected hydrated Data=11 from cache, got %+v", state)
	}

	// Redefining must not re-hydrate and must not disturb in-memory state.
	if err := c.Refetch(context.Background(), "k"); err != nil {
		t.Fatalf("Refetch: %v", err)
	}
	// Put the old value back in the cache so a re-hydration would show.
	provider.Set(context.Background(), cache.NamespacedKey("k"), cache.Entry{
		Data:        []byte(raw),
		LastUpdated: 123456,
	})
	time.Sleep(20 * time.Millisecond)
	if err := DefineEndpoint(c, "k", func(context.Context) (int, error) { return 555, nil }); err != nil {
		t.Fatalf("redefine: %v", err)
	}
	state, _ = GetState[int](c, "k")
	if state.Data == nil || *state.Data != 999 {
		t.Fatalf("redefinition must preserve in-memory state, got %+v", state)
	}
}

func TestGetStateSnapshotIsIndependentOfInternalState(t *testing.T) {
	c := newTestCore(t)
	err := DefineEndpoint(c, "k", func(context.Context) ([]int, error) { return []int{1, 2, 3}, nil })
	if err != nil {
		t.Fatalf("DefineEndpoint: %v", err)
	}
	if err := c.Refetch(context.Background(), "k"); err != nil {
		t.Fatalf("Refetch: %v", err)
	}

	state, _ := GetState[[]int](c, "k")
	(*state.Data)[0] = 999

	state2, _ := GetState[[]int](c, "k")
	if (*state2.Data)[0] != 1 {
		t.Fatalf("mutating a returned snapshot leaked into registry state: %+v", *state2.Data)
	}
}

func TestOrchestratorIntegration_FocusAndOnline(t *testing.T) {
	es := refresh.NewManualEventSource()
	c := newTestCore(t, WithEventSource(es), WithDefaultRefetchAfter(time.Millisecond))

	var calls atomic.Int32
	err := DefineEndpoint(c, "k", func(context.Context) (int, error) {
		calls.Add(1)
		return int(calls.Load()), nil
	})
	if err != nil {
		t.Fatalf("DefineEndpoint: %v", err)
	}
	if err := c.Refetch(context.Background(), "k"); err != nil {
		t.Fatalf("Refetch: %v", err)
	}

	// An endpoint only becomes observed once it has a subscriber.
	unsubscribe, err := Subscribe[int](c, "k", func(State[int]) {})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsubscribe()

	time.Sleep(5 * time.Millisecond) // let the refetchAfter window elapse
	es.Focus()
	waitUntil(t, time.Second, func() bool { return calls.Load() >= 2 })

	es.Online()
	waitUntil(t, time.Second, func() bool { return calls.Load() >= 3 })
}

func TestOrchestrator_UnobservedEndpointIsNeverRefreshed(t *testing.T) {
	es := refresh.NewManualEventSource()
	c := newTestCore(t, WithEventSource(es), WithDefaultRefetchAfter(time.Millisecond))

	var calls atomic.Int32
	err := DefineEndpoint(c, "k", func(context.Context) (int, error) {
		calls.Add(1)
		return int(calls.Load()), nil
	})
	if err != nil {
		t.Fatalf("DefineEndpoint: %v", err)
	}
	if err := c.Refetch(context.Background(), "k"); err != nil {
		t.Fatalf("Refetch: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	es.Focus()
	es.Online()
	time.Sleep(20 * time.Millisecond)

	if n := calls.Load(); n != 1 {
		t.Fatalf("endpoint with no subscriber must never be refreshed by focus/online, got %d calls", n)
	}
}

func TestOrchestrator_UnsubscribeStopsObservation(t *testing.T) {
	es := refresh.NewManualEventSource()
	c := newTestCore(t, WithEventSource(es), WithDefaultRefetchAfter(time.Millisecond))

	var calls atomic.Int32
	err := DefineEndpoint(c, "k", func(context.Context) (int, error) {
		calls.Add(1)
		return int(calls.Load()), nil
	})
	if err != nil {
		t.Fatalf("DefineEndpoint: %v", err)
	}
	if err := c.Refetch(context.Background(), "k"); err != nil {
		t.Fatalf("Refetch: %v", err)
	}

	unsubscribe, err := Subscribe[int](c, "k", func(State[int]) {})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	unsubscribe()

	time.Sleep(5 * time.Millisecond)
	es.Online()
	time.Sleep(20 * time.Millisecond)

	if n := calls.Load(); n != 1 {
		t.Fatalf("endpoint should stop being observed once its only subscriber unsubscribes, got %d calls", n)
	}
}
