// Package mycelium is a rateless forward error correction engine. Encode turns
// a payload into a bundle of fixed-size packets; Decode rebuilds the payload
// from any sufficiently large subset of them, tolerating loss, duplication and
// reordering.
package mycelium

import (
	"bytes"
	"crypto/subtle"
	"fmt"
	"io"

	"github.com/ppopth/mycelium/bundle"
	"github.com/ppopth/mycelium/encode"
	"github.com/ppopth/mycelium/encode/raptorq"
	"github.com/ppopth/mycelium/encode/rlnc"
	"github.com/ppopth/mycelium/encode/rs"
	"github.com/ppopth/mycelium/oti"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/crypto/blake2b"
)

var log = logging.Logger("mycelium")

// Encode splits data into source symbols and returns the systematic packets
// followed by the repair packets, ordered by id.
func Encode(data []byte, opts ...Option) (*bundle.Bundle, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: payload is empty", ErrInvalidInput)
	}

	params, err := cfg.parameters(data)
	if err != nil {
		return nil, err
	}
	repair, err := cfg.repairCount(params.SourceSymbolCount)
	if err != nil {
		return nil, err
	}
	total, err := params.TotalPackets(repair)
	if err != nil {
		return nil, err
	}
	if total > cfg.maxPackets {
		return nil, fmt.Errorf("%w: %d packets exceed the limit of %d", ErrInvalidInput, total, cfg.maxPackets)
	}

	encoder, err := newEncoder(&cfg, data, params, repair)
	if err != nil {
		return nil, err
	}
	packets, err := encoder.Packets(total)
	if err != nil {
		return nil, err
	}

	b := &bundle.Bundle{
		Parameters:  params,
		Scheme:      cfg.scheme,
		RepairCount: repair,
		Packets:     packets,
	}
	if cfg.digest {
		sum := blake2b.Sum256(data)
		b.Digest = sum[:]
	}
	log.Debugf("encoded %s", b)
	return b, nil
}

// NewEncoder returns the scheme encoder Encode would use, for callers that
// want to pull individual packets on demand.
func NewEncoder(data []byte, opts ...Option) (encode.Encoder, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: payload is empty", ErrInvalidInput)
	}
	params, err := cfg.parameters(data)
	if err != nil {
		return nil, err
	}
	repair, err := cfg.repairCount(params.SourceSymbolCount)
	if err != nil {
		return nil, err
	}
	return newEncoder(&cfg, data, params, repair)
}

// parameters derives the transmission parameters and enforces the k limit
func (c *config) parameters(data []byte) (oti.Parameters, error) {
	params, err := oti.New(uint64(len(data)), c.symbolSize)
	if err != nil {
		return oti.Parameters{}, err
	}
	if params.SourceSymbolCount > c.maxSymbols {
		return oti.Parameters{}, fmt.Errorf("%w: %d source symbols exceed the limit of %d, raise the symbol size",
			ErrInvalidInput, params.SourceSymbolCount, c.maxSymbols)
	}
	return params, nil
}

func newEncoder(cfg *config, data []byte, params oti.Parameters, repair uint32) (encode.Encoder, error) {
	switch cfg.scheme {
	case encode.SchemeRLNC:
		return rlnc.NewRlncEncoder(data, params, &rlnc.RlncEncoderConfig{Workers: cfg.workers})
	case encode.SchemeRS:
		return rs.NewRsEncoder(data, params, &rs.RsEncoderConfig{ParityShards: repair})
	case encode.SchemeRaptorQ:
		return raptorq.NewRaptorqEncoder(data, params)
	default:
		return nil, fmt.Errorf("%w: unknown scheme %d", ErrInvalidInput, uint8(cfg.scheme))
	}
}

// NewDecoder returns an empty decoder matching the metadata of b
func NewDecoder(b *bundle.Bundle) (encode.Decoder, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: bundle is nil", ErrCorruptParameters)
	}
	if err := b.Parameters.Validate(); err != nil {
		return nil, err
	}
	switch b.Scheme {
	case encode.SchemeRLNC:
		return rlnc.NewRlncDecoder(b.Parameters)
	case encode.SchemeRS:
		return rs.NewRsDecoder(b.Parameters, &rs.RsEncoderConfig{ParityShards: b.RepairCount})
	case encode.SchemeRaptorQ:
		return raptorq.NewRaptorqDecoder(b.Parameters)
	default:
		return nil, fmt.Errorf("%w: unknown scheme %d", ErrCorruptParameters, uint8(b.Scheme))
	}
}

// Decode feeds the packets of b, in order, until the payload is recoverable.
// It returns *InsufficientSymbolsError when the packets run out first and
// ErrCorruptParameters on inconsistent metadata, a digest mismatch or a bundle
// beyond WithMaxSourceSymbols or WithMaxPackets. Other options are ignored.
func Decode(b *bundle.Bundle, opts ...Option) ([]byte, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("%w: bundle is nil", ErrCorruptParameters)
	}
	if err := b.Parameters.Validate(); err != nil {
		return nil, err
	}
	if !b.Scheme.Valid() {
		return nil, fmt.Errorf("%w: unknown scheme %d", ErrCorruptParameters, uint8(b.Scheme))
	}
	if err := limits(&cfg).Check(b); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptParameters, err)
	}
	if n := len(b.Digest); n != 0 && n != bundle.DigestSize {
		return nil, fmt.Errorf("%w: digest has %d bytes", ErrCorruptParameters, n)
	}

	// Nothing is allocated for a bundle that cannot reach rank k
	k := int(b.Parameters.SourceSymbolCount)
	if len(b.Packets) < k {
		return nil, &InsufficientSymbolsError{Provided: len(b.Packets), Required: k}
	}

	decoder, err := NewDecoder(b)
	if err != nil {
		return nil, err
	}
	data, err := encode.Feed(decoder, b.Packets)
	if err != nil {
		return nil, err
	}
	if len(b.Digest) != 0 {
		sum := blake2b.Sum256(data)
		if subtle.ConstantTimeCompare(sum[:], b.Digest) != 1 {
			return nil, fmt.Errorf("%w: payload digest mismatch", ErrCorruptParameters)
		}
	}
	log.Debugf("decoded %d bytes at rank %d from a bundle of %d packets", len(data), decoder.Rank(), len(b.Packets))
	return data, nil
}

func limits(cfg *config) bundle.Limits {
	return bundle.Limits{MaxPackets: int(cfg.maxPackets), MaxSourceSymbols: cfg.maxSymbols}
}

func bundleOptions(cfg *config) []bundle.Option {
	return []bundle.Option{
		bundle.WithCompression(cfg.compression),
		bundle.WithLimits(limits(cfg)),
	}
}

// Save writes b as a bundle container, honoring WithCompression and the limits
func Save(w io.Writer, b *bundle.Bundle, opts ...Option) error {
	cfg, err := newConfig(opts)
	if err != nil {
		return err
	}
	return bundle.Write(w, b, bundleOptions(&cfg)...)
}

// Load reads a bundle container, honoring WithMaxPackets and WithMaxSourceSymbols
func Load(r io.Reader, opts ...Option) (*bundle.Bundle, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	return bundle.Read(r, bundleOptions(&cfg)...)
}

// EncodeBytes runs Encode and returns the container bytes
func EncodeBytes(data []byte, opts ...Option) ([]byte, error) {
	b, err := Encode(data, opts...)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := Save(&buf, b, opts...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeBytes parses container bytes and runs Decode
func DecodeBytes(container []byte, opts ...Option) ([]byte, error) {
	b, err := Load(bytes.NewReader(container), opts...)
	if err != nil {
		return nil, err
	}
	return Decode(b, opts...)
}
