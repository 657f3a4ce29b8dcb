package mycelium

import (
	"fmt"
	"math"
	"runtime"

	"github.com/ppopth/mycelium/bundle"
	"github.com/ppopth/mycelium/encode"
	"github.com/ppopth/mycelium/oti"
)

// DefaultRepairRatio gives r = k, so the encoder emits 2k packets.
const DefaultRepairRatio = 1.0

// DefaultMaxPackets caps k + r for a single encode
const DefaultMaxPackets uint32 = 1 << 24

type config struct {
	symbolSize    uint32
	repairRatio   float64
	repairSymbols uint32
	fixedRepair   bool // repairSymbols overrides repairRatio
	scheme        encode.Scheme
	workers       int
	maxPackets    uint32
	maxSymbols    uint32 // Largest k accepted on encode and decode
	digest        bool
	compression   bundle.Compression
}

func defaultConfig() config {
	return config{
		symbolSize:  oti.DefaultSymbolSize,
		repairRatio: DefaultRepairRatio,
		scheme:      encode.SchemeRLNC,
		workers:     runtime.GOMAXPROCS(0),
		maxPackets:  DefaultMaxPackets,
		maxSymbols:  bundle.DefaultMaxSourceSymbols,
		compression: bundle.CompZSTD,
	}
}

func newConfig(opts []Option) (config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, err
		}
	}
	return cfg, nil
}

// repairCount returns r for k source symbols
func (c *config) repairCount(k uint32) (uint32, error) {
	if c.fixedRepair {
		return c.repairSymbols, nil
	}
	r := math.Ceil(float64(k) * c.repairRatio)
	if r > math.MaxUint32 {
		return 0, fmt.Errorf("%w: repair ratio %g over %d symbols overflows the identifier space",
			oti.ErrInvalidInput, c.repairRatio, k)
	}
	return uint32(r), nil
}

// Option configures Encode, Decode and the bundle helpers. Decode reads only
// the limits: WithMaxPackets and WithMaxSourceSymbols.
type Option func(*config) error

// WithSymbolSize sets the number of bytes per symbol
func WithSymbolSize(size uint32) Option {
	return func(c *config) error {
		if size == 0 {
			return fmt.Errorf("%w: symbol size must be positive", oti.ErrInvalidInput)
		}
		c.symbolSize = size
		return nil
	}
}

// WithRepairRatio sets r = ceil(k * ratio)
func WithRepairRatio(ratio float64) Option {
	return func(c *config) error {
		if math.IsNaN(ratio) || math.IsInf(ratio, 0) || ratio < 0 {
			return fmt.Errorf("%w: repair ratio %g", oti.ErrInvalidInput, ratio)
		}
		c.repairRatio = ratio
		c.fixedRepair = false
		return nil
	}
}

// WithRepairSymbols sets r directly, independent of k
func WithRepairSymbols(n uint32) Option {
	return func(c *config) error {
		c.repairSymbols = n
		c.fixedRepair = true
		return nil
	}
}

// WithScheme selects the erasure code
func WithScheme(s encode.Scheme) Option {
	return func(c *config) error {
		if !s.Valid() {
			return fmt.Errorf("%w: unknown scheme %d", oti.ErrInvalidInput, uint8(s))
		}
		c.scheme = s
		return nil
	}
}

// WithWorkers bounds the goroutines computing repair packets. Zero or
// negative means GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(c *config) error {
		c.workers = n
		return nil
	}
}

// WithMaxPackets caps k + r on encode and the packet count accepted by Load
// and Decode
func WithMaxPackets(n uint32) Option {
	return func(c *config) error {
		if n == 0 {
			return fmt.Errorf("%w: max packets must be positive", oti.ErrInvalidInput)
		}
		c.maxPackets = n
		return nil
	}
}

// WithMaxSourceSymbols caps the source symbol count k. Encode rejects larger
// payloads; Load and Decode reject bundles declaring more. Decoder memory
// grows with k².
func WithMaxSourceSymbols(n uint32) Option {
	return func(c *config) error {
		if n == 0 {
			return fmt.Errorf("%w: max source symbols must be positive", oti.ErrInvalidInput)
		}
		c.maxSymbols = n
		return nil
	}
}

// WithDigest controls whether Encode records a BLAKE2b-256 digest of the
// payload. Decode always verifies a digest that is present.
func WithDigest(enabled bool) Option {
	return func(c *config) error {
		c.digest = enabled
		return nil
	}
}

// WithCompression selects the container compression used by Save
func WithCompression(comp bundle.Compression) Option {
	return func(c *config) error {
		c.compression = comp
		return nil
	}
}
