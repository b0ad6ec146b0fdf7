package querycore

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/o-tero/querycore/cache"
	"github.com/o-tero/querycore/refresh"
)

// Diagnostic describes a non-fatal internal failure: a value that could
// not be encoded for the cache ("cache-encode"), a cached value that
// could not be decoded at hydration ("cache-hydrate"), or a listener
// that panicked ("listener"). Backend read/write errors are swallowed
// and logged inside the cache package and do not produce a Diagnostic.
// Diagnostics never affect endpoint state; they exist purely for
// observability.
type Diagnostic struct {
	Key   string
	Stage string
	Err   error
}

// Config holds the defaults a Core is constructed with. Individual
// endpoints may override the cache provider kind and the staleness
// window via EndpointOption; the other fields apply to the whole Core.
type Config struct {
	cacheKind         cache.Kind
	cacheConfig       cache.Config
	defaultRefetchAfter *time.Duration
	eventSource       refresh.EventSource
	logger            zerolog.Logger
	onDiagnostic      func(Diagnostic)
}

// DefaultConfig returns the configuration NewCore uses when no Option
// overrides it: an in-memory cache provider, no default staleness
// window, a manually-driven event source, and a no-op logger.
func DefaultConfig() Config {
	return Config{
		cacheKind:    cache.KindMemory,
		cacheConfig:  cache.DefaultConfig(),
		eventSource:  refresh.NewManualEventSource(),
		logger:       zerolog.Nop(),
		onDiagnostic: func(Diagnostic) {},
	}
}

// Option configures a Core at construction time.
type Option func(*Config)

// WithCacheProvider selects which cache.Provider backs every endpoint
// that does not override it with WithEndpointCacheProvider.
func WithCacheProvider(kind cache.Kind) Option {
	return func(c *Config) { c.cacheKind = kind }
}

// WithObjectStorePath sets the bbolt database file used by the
// ObjectStore provider on non-browser builds. Ignored by other
// providers.
func WithObjectStorePath(path string) Option {
	return func(c *Config) { c.cacheConfig.ObjectStorePath = path }
}

// WithDefaultRefetchAfter sets the staleness window applied to every
// endpoint that does not override it with WithEndpointRefetchAfter.
func WithDefaultRefetchAfter(d time.Duration) Option {
	return func(c *Config) { c.defaultRefetchAfter = &d }
}

// WithEventSource injects the focus/online signal source the refresh
// orchestrator listens to. Defaults to a refresh.ManualEventSource,
// which test code drives directly; production js/wasm builds should
// pass refresh.NewDOMEventSource().
func WithEventSource(es refresh.EventSource) Option {
	return func(c *Config) { c.eventSource = es }
}

// WithLogger sets the zerolog.Logger used for internal diagnostics.
// Defaults to a no-op logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) { c.logger = l }
}

// WithOnDiagnostic registers a sink for non-fatal internal events (cache
// encode/decode failures, listener panics). The sink is called synchronously from
// whichever goroutine triggered the diagnostic and must not block.
func WithOnDiagnostic(fn func(Diagnostic)) Option {
	return func(c *Config) { c.onDiagnostic = fn }
}

// endpointOptions holds the per-endpoint overrides of Config. Nil
// pointer fields mean "inherit from Config".
type endpointOptions struct {
	cacheKind     *cache.Kind
	refetchAfter  *time.Duration
}

// EndpointOption configures a single endpoint at DefineEndpoint time,
// taking precedence over the Core's defaults.
type EndpointOption func(*endpointOptions)

// WithEndpointCacheProvider overrides the cache provider for one
// endpoint.
func WithEndpointCacheProvider(kind cache.Kind) EndpointOption {
	return func(o *endpointOptions) { o.cacheKind = &kind }
}

// WithEndpointRefetchAfter overrides the staleness window for one
// endpoint.
func WithEndpointRefetchAfter(d time.Duration) EndpointOption {
	return func(o *endpointOptions) { o.refetchAfter = &d }
}

func (o endpointOptions) resolveCacheKind(cfg Config) cache.Kind {
	if o.cacheKind != nil {
		return *o.cacheKind
	}
	return cfg.cacheKind
}

func (o endpointOptions) resolveRefetchAfter(cfg Config) (time.Duration, bool) {
	if o.refetchAfter != nil {
		return *o.refetchAfter, true
	}
	if cfg.defaultRefetchAfter != nil {
		return *cfg.defaultRefetchAfter, true
	}
	return 0, false
}
