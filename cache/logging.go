package cache

import "github.com/rs/zerolog"

// Logger is the package-level logger for cache operations. No-op until
// explicitly configured via SetLogger.
var Logger = zerolog.Nop()

// SetLogger installs l, tagged component=cache, as the logger every
// provider in this package uses.
func SetLogger(l zerolog.Logger) {
	Logger = l.With().Str("component", "cache").Logger()
}
