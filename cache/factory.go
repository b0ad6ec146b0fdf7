package cache

import "fmt"

// New constructs a Provider for the given Kind. The returned Provider
// never returns an error to its own callers even though construction
// here can fail: a construction failure degrades the provider to a
// permanent no-op rather than surfacing up through New, since no
// SPEC_FULL operation is prepared to handle "the cache is unavailable"
// as anything other than a cache miss.
func New(kind Kind, cfg Config) Provider {
	switch kind {
	case KindMemory:
		return newMemoryProvider(cfg.Ristretto)
	case KindLocalKV:
		return newLocalKV()
	case KindObjectStore:
		return newObjectStore(cfg.ObjectStorePath)
	default:
		Logger.Warn().Str("kind", string(kind)).Msg("unknown cache kind, falling back to memory")
		return newMemoryProvider(cfg.Ristretto)
	}
}

func noopReason(kind Kind, err error) string {
	return fmt.Sprintf("%s provider degraded to no-op: %v", kind, err)
}
