package cache

// Config bundles the tunables of every backend. A single Config is
// shared by all providers a Core creates; unused fields for a given
// Kind are simply ignored.
type Config struct {
	Ristretto       RistrettoConfig
	ObjectStorePath string
}

// RistrettoConfig mirrors the tunables ristretto.Config exposes,
// following the same shape as the teacher pack's own RistrettoConfig.
type RistrettoConfig struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
}

// DefaultConfig returns sane defaults for every backend.
func DefaultConfig() Config {
	return Config{
		Ristretto:       DefaultRistrettoConfig(),
		ObjectStorePath: "querycore-objectstore.db",
	}
}

// DefaultRistrettoConfig returns the ristretto tunables used when a
// caller does not override them.
func DefaultRistrettoConfig() RistrettoConfig {
	return RistrettoConfig{
		NumCounters: 1e6,
		MaxCost:     1 << 24, // 16 MiB
		BufferItems: 64,
	}
}
