// Package cache provides the pluggable persistence layer querycore uses
// to survive across process lifetimes. Every Provider method is
// fail-soft: a backend error is swallowed and logged, never returned,
// because the cache is a warm-start optimization, not the source of
// truth — in-memory endpoint state always wins.
package cache

import (
	"context"
	"encoding/json"
)

// Entry is the persisted shape of one endpoint's cached value.
type Entry struct {
	Data        json.RawMessage `json:"data"`
	LastUpdated int64           `json:"lastUpdated"` // unix millis
}

// Provider is the storage backend behind a Core's endpoints. Keys
// arriving at a Provider are already namespaced by querycore; backends
// never need to add their own prefix.
type Provider interface {
	// Get returns the entry for key and true, or a zero Entry and false
	// if the key is absent or the read failed.
	Get(ctx context.Context, key string) (Entry, bool)
	// Set stores entry under key. Failures are swallowed.
	Set(ctx context.Context, key string, entry Entry)
	// Remove deletes key. A missing key is not an error.
	Remove(ctx context.Context, key string)
}

// Kind selects a Provider implementation.
type Kind string

const (
	KindMemory      Kind = "memory"
	KindLocalKV     Kind = "localKV"
	KindObjectStore Kind = "objectStore"
)

// keyPrefix is prepended to every key before it reaches a Provider,
// mirroring the original's QueryCore_ namespace.
const keyPrefix = "QueryCore_"

// NamespacedKey returns the fully namespaced key for a raw endpoint key.
func NamespacedKey(key string) string {
	return keyPrefix + key
}
