package cache

import "errors"

// ErrNotFound names a cache miss. It never crosses the Provider
// interface — Get reports misses via its bool return instead — and no
// backend in this package currently returns it.
var ErrNotFound = errors.New("cache: not found")

// ErrClosed names a provider that has been closed or has permanently
// degraded to a no-op (e.g. ObjectStore after an open failure). No
// backend in this package currently returns it: a degraded provider
// reports misses and drops writes silently.
var ErrClosed = errors.New("cache: closed")
