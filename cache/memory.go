package cache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/ristretto/v2"
)

// memoryProvider implements Provider on top of ristretto. Entries are
// JSON-encoded before admission, so cost is the byte length of the
// encoded entry. Ristretto's admission policy can decline a Set; that
// is indistinguishable from, and no worse than, a cache miss on the
// next process lifetime, which every caller already tolerates.
type memoryProvider struct {
	cache  *ristretto.Cache[string, []byte]
	closed atomic.Bool
	mu     sync.RWMutex
}

var _ Provider = (*memoryProvider)(nil)

func newMemoryProvider(cfg RistrettoConfig) *memoryProvider {
	bufferItems := cfg.BufferItems
	if bufferItems <= 0 {
		bufferItems = 64
	}

	log := Logger.With().Str("backend", "memory").Logger()

	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: bufferItems,
		Metrics:     true,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to create ristretto cache, memory provider is a permanent no-op")
		p := &memoryProvider{}
		p.closed.Store(true)
		return p
	}

	return &memoryProvider{cache: c}
}

func (p *memoryProvider) Get(ctx context.Context, key string) (Entry, bool) {
	if ctx.Err() != nil || p.closed.Load() {
		return Entry{}, false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	raw, found := p.cache.Get(key)
	if !found {
		return Entry{}, false
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		Logger.Warn().Err(err).Str("key", key).Msg("memory provider: corrupt entry, treating as miss")
		return Entry{}, false
	}
	return e, true
}

func (p *memoryProvider) Set(ctx context.Context, key string, entry Entry) {
	if ctx.Err() != nil || p.closed.Load() {
		return
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		Logger.Warn().Err(err).Str("key", key).Msg("memory provider: failed to encode entry")
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	p.cache.Set(key, raw, int64(len(raw)))
}

// wait blocks until ristretto has processed its internal write buffer.
// Ristretto admits writes asynchronously; production code never needs
// this (a Set that hasn't landed yet is indistinguishable from one
// ristretto declined to admit), but tests that assert "Get sees what
// Set just wrote" need it to avoid flaking on the buffering.
func (p *memoryProvider) wait() {
	if p.cache != nil {
		p.cache.Wait()
	}
}

func (p *memoryProvider) Remove(ctx context.Context, key string) {
	if ctx.Err() != nil || p.closed.Load() {
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	p.cache.Del(key)
}
