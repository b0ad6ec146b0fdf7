package cache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
)

// objectStoreBackend is the minimal transactional byte-store the
// ObjectStore provider needs, satisfied by bbolt off-browser and by
// indexedDB on js/wasm.
type objectStoreBackend interface {
	get(key string) ([]byte, bool, error)
	put(key string, value []byte) error
	delete(key string) error
	close() error
}

// objectStoreProvider lazily opens its backend on first use, memoized
// via sync.Once, and degrades to a permanent no-op if that open fails —
// the same shape as the teacher's service initService() sync.Once
// guard, repurposed from "init once" to "open once, on demand".
type objectStoreProvider struct {
	path string

	once    sync.Once
	backend objectStoreBackend
	broken  atomic.Bool
}

var _ Provider = (*objectStoreProvider)(nil)

func newObjectStore(path string) *objectStoreProvider {
	return &objectStoreProvider{path: path}
}

// close releases the underlying backend, if one was ever opened. Not
// part of the Provider interface — nothing in SPEC_FULL.md closes a
// cache provider during a process lifetime — but bbolt holds an
// exclusive file lock for as long as it's open, so tests that reopen
// the same database path need a way to release it first.
func (p *objectStoreProvider) close() error {
	if p.backend == nil {
		return nil
	}
	return p.backend.close()
}

func (p *objectStoreProvider) ensureOpen() objectStoreBackend {
	p.once.Do(func() {
		b, err := openObjectStoreBackend(p.path)
		if err != nil {
			Logger.Error().Err(err).Str("path", p.path).Msg(noopReason(KindObjectStore, err))
			p.broken.Store(true)
			return
		}
		p.backend = b
	})
	if p.broken.Load() {
		return nil
	}
	return p.backend
}

func (p *objectStoreProvider) Get(ctx context.Context, key string) (Entry, bool) {
	if ctx.Err() != nil {
		return Entry{}, false
	}
	b := p.ensureOpen()
	if b == nil {
		return Entry{}, false
	}

	raw, found, err := b.get(key)
	if err != nil {
		Logger.Warn().Err(err).Str("key", key).Msg("objectStore provider: get failed, treating as miss")
		return Entry{}, false
	}
	if !found {
		return Entry{}, false
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		Logger.Warn().Err(err).Str("key", key).Msg("objectStore provider: corrupt entry, treating as miss")
		return Entry{}, false
	}
	return e, true
}

func (p *objectStoreProvider) Set(ctx context.Context, key string, entry Entry) {
	if ctx.Err() != nil {
		return
	}
	b := p.ensureOpen()
	if b == nil {
		return
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		Logger.Warn().Err(err).Str("key", key).Msg("objectStore provider: failed to encode entry")
		return
	}
	if err := b.put(key, raw); err != nil {
		Logger.Warn().Err(err).Str("key", key).Msg("objectStore provider: put failed, swallowed")
	}
}

func (p *objectStoreProvider) Remove(ctx context.Context, key string) {
	if ctx.Err() != nil {
		return
	}
	b := p.ensureOpen()
	if b == nil {
		return
	}
	if err := b.delete(key); err != nil {
		Logger.Warn().Err(err).Str("key", key).Msg("objectStore provider: delete failed, swallowed")
	}
}
