package cache

import (
	"context"
	"encoding/json"
)

// kvProvider adapts a localKVBackend (string-keyed, string-valued) to
// the Provider interface.
type kvProvider struct {
	backend localKVBackend
}

var _ Provider = (*kvProvider)(nil)

func (p *kvProvider) Get(ctx context.Context, key string) (Entry, bool) {
	if ctx.Err() != nil {
		return Entry{}, false
	}

	raw, ok := p.backend.getItem(key)
	if !ok {
		return Entry{}, false
	}

	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		Logger.Warn().Err(err).Str("key", key).Msg("localKV provider: corrupt entry, treating as miss")
		return Entry{}, false
	}
	return e, true
}

func (p *kvProvider) Set(ctx context.Context, key string, entry Entry) {
	if ctx.Err() != nil {
		return
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		Logger.Warn().Err(err).Str("key", key).Msg("localKV provider: failed to encode entry")
		return
	}

	if err := p.backend.setItem(key, string(raw)); err != nil {
		Logger.Debug().Err(err).Str("key", key).Msg("localKV provider: write rejected, swallowed")
	}
}

func (p *kvProvider) Remove(ctx context.Context, key string) {
	if ctx.Err() != nil {
		return
	}
	p.backend.removeItem(key)
}
