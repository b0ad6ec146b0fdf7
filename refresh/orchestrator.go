package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Observed is the subset of an endpoint record the orchestrator needs
// to drive focus/online revalidation without depending on querycore's
// generic endpointRecord type.
type Observed interface {
	Key() string
	// RefetchAfter reports the endpoint's configured staleness window,
	// and whether one is configured at all.
	RefetchAfter() (time.Duration, bool)
	// IsStale reports whether the endpoint currently has no data or has
	// exceeded its staleness window.
	IsStale() bool
	// Refetch triggers (or joins) a production for this endpoint.
	Refetch(ctx context.Context) error
}

// Orchestrator wires exactly one OnFocus and one OnOnline registration
// against an EventSource and applies the original's trigger asymmetry:
// focus only ever refreshes observed endpoints that have RefetchAfter
// set AND are stale; online force-refreshes every observed endpoint
// unconditionally. A rate.Limiter paces dispatch so a reconnect storm
// across many endpoints does not fire them all in the same instant —
// it only delays when an already-certain refresh fires, never whether
// it fires.
type Orchestrator struct {
	logger  zerolog.Logger
	limiter *rate.Limiter

	mu       sync.Mutex
	observed map[string]Observed

	unregisterFocus  func()
	unregisterOnline func()
}

// DefaultRefreshRate is the pacing applied to refresh dispatch by every
// Orchestrator (burst of the same size): one hundred refreshes per second,
// generous enough to never visibly throttle normal usage but still cap
// a thundering-herd reconnect.
const DefaultRefreshRate = rate.Limit(100)

// NewOrchestrator wires es's focus/online signals immediately. Close
// unregisters both.
func NewOrchestrator(es EventSource, logger zerolog.Logger) *Orchestrator {
	o := &Orchestrator{
		logger:   logger.With().Str("component", "refresh").Logger(),
		limiter:  rate.NewLimiter(DefaultRefreshRate, int(DefaultRefreshRate)),
		observed: make(map[string]Observed),
	}
	o.unregisterFocus = es.OnFocus(func() { o.onFocus() })
	o.unregisterOnline = es.OnOnline(func() { o.onOnline() })
	return o
}

// Register adds obs to the set of endpoints that focus/online events
// revalidate. The returned func removes it.
func (o *Orchestrator) Register(obs Observed) (unregister func()) {
	o.mu.Lock()
	o.observed[obs.Key()] = obs
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.observed, obs.Key())
		o.mu.Unlock()
	}
}

// Close unregisters from the event source. It does not wait for any
// in-flight dispatch to finish.
func (o *Orchestrator) Close() {
	if o.unregisterFocus != nil {
		o.unregisterFocus()
	}
	if o.unregisterOnline != nil {
		o.unregisterOnline()
	}
}

func (o *Orchestrator) snapshot() []Observed {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Observed, 0, len(o.observed))
	for _, obs := range o.observed {
		out = append(out, obs)
	}
	return out
}

func (o *Orchestrator) onFocus() {
	cycle := uuid.NewString()
	ctx := context.Background()
	log := o.logger.With().Str("trigger", "focus").Str("cycle", cycle).Logger()
	log.Debug().Msg("focus event received")
	for _, obs := range o.snapshot() {
		if _, has := obs.RefetchAfter(); !has {
			continue
		}
		if !obs.IsStale() {
			continue
		}
		o.dispatch(ctx, obs, log)
	}
}

func (o *Orchestrator) onOnline() {
	cycle := uuid.NewString()
	ctx := context.Background()
	log := o.logger.With().Str("trigger", "online").Str("cycle", cycle).Logger()
	log.Debug().Msg("online event received")
	for _, obs := range o.snapshot() {
		o.dispatch(ctx, obs, log)
	}
}

// dispatch paces one endpoint's refresh through the rate limiter and
// fires it on its own goroutine, tagged with the triggering cycle's
// correlation id so a single focus/online wave's log lines can be
// grepped together.
func (o *Orchestrator) dispatch(ctx context.Context, obs Observed, log zerolog.Logger) {
	if err := o.limiter.Wait(ctx); err != nil {
		log.Debug().Err(err).Str("key", obs.Key()).Msg("refresh dispatch aborted")
		return
	}
	go func() {
		if err := obs.Refetch(ctx); err != nil {
			log.Debug().Err(err).Str("key", obs.Key()).Msg("triggered refetch failed")
		}
	}()
}
