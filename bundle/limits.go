package bundle

import "fmt"

// DefaultMaxSourceSymbols bounds k on decode. Elimination keeps up to k rows of
// k coefficients, so k is the size that matters for decoder memory.
const DefaultMaxSourceSymbols uint32 = 1 << 16

// Limits bounds what Read accepts, so a hostile container cannot force large
// allocations.
type Limits struct {
	MaxBodyLen       uint64 // Body length as stored in the container
	MaxUncompressed  uint64 // Body length after decompression
	MaxPackets       int
	MaxSourceSymbols uint32 // Largest k a bundle may declare
}

func defaultLimits() Limits {
	return Limits{
		MaxBodyLen:       1 << 32, // 4 GiB
		MaxUncompressed:  1 << 32,
		MaxPackets:       1 << 24,
		MaxSourceSymbols: DefaultMaxSourceSymbols,
	}
}

// DefaultLimits returns the limits used when none are given
func DefaultLimits() Limits {
	return defaultLimits()
}

func (l Limits) withDefaults() Limits {
	d := defaultLimits()
	if l.MaxBodyLen == 0 {
		l.MaxBodyLen = d.MaxBodyLen
	}
	if l.MaxUncompressed == 0 {
		l.MaxUncompressed = d.MaxUncompressed
	}
	if l.MaxPackets == 0 {
		l.MaxPackets = d.MaxPackets
	}
	if l.MaxSourceSymbols == 0 {
		l.MaxSourceSymbols = d.MaxSourceSymbols
	}
	return l
}

// Check reports whether the metadata and packet count of b stay within l.
// Zero fields of l take their default.
func (l Limits) Check(b *Bundle) error {
	l = l.withDefaults()
	if k := b.Parameters.SourceSymbolCount; k > l.MaxSourceSymbols {
		return fmt.Errorf("%w: %d source symbols, limit is %d", ErrLimitExceeded, k, l.MaxSourceSymbols)
	}
	if len(b.Packets) > l.MaxPackets {
		return fmt.Errorf("%w: %d packets, limit is %d", ErrLimitExceeded, len(b.Packets), l.MaxPackets)
	}
	return nil
}

type config struct {
	limits      Limits
	compression Compression
}

// Option customizes Write and Read
type Option func(*config)

// WithLimits overrides the default limits. Zero fields keep their default.
func WithLimits(l Limits) Option {
	return func(c *config) { c.limits = l }
}

// WithCompression selects the body compression used by Write. Read takes the
// compression from the container flags.
func WithCompression(comp Compression) Option {
	return func(c *config) { c.compression = comp }
}

func newConfig(opts []Option) config {
	cfg := config{limits: defaultLimits(), compression: CompZSTD}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.limits = cfg.limits.withDefaults()
	return cfg
}
