// Package bundle defines the encoded artifact handed from the encoder to the
// transport and back to the decoder, together with its binary container and
// JSON representation.
//
// A bundle carries only what the decoder needs: the transfer length and
// symbol size (the rest of the transmission parameters is derived), the
// scheme, the repair count, an optional payload digest and the packets.
package bundle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ppopth/mycelium/encode"
	"github.com/ppopth/mycelium/oti"
)

var (
	ErrInvalidBundle      = errors.New("bundle: invalid bundle")
	ErrInvalidMagic       = fmt.Errorf("%w: invalid magic", ErrInvalidBundle)
	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported version", ErrInvalidBundle)
	ErrLimitExceeded      = fmt.Errorf("%w: limit exceeded", ErrInvalidBundle)
)

// DigestSize is the length of a BLAKE2b-256 payload digest
const DigestSize = 32

// Bundle is the output of an encode and the input of a decode
type Bundle struct {
	Parameters  oti.Parameters
	Scheme      encode.Scheme
	RepairCount uint32 // Repair packet ids the encoder used beyond k
	Digest      []byte // Optional BLAKE2b-256 of the payload
	Packets     []encode.Packet
}

// Validate checks the metadata and the shape of every packet
func (b *Bundle) Validate() error {
	if b == nil {
		return fmt.Errorf("%w: bundle is nil", ErrInvalidBundle)
	}
	if err := b.Parameters.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBundle, err)
	}
	if !b.Scheme.Valid() {
		return fmt.Errorf("%w: unknown scheme %d", ErrInvalidBundle, uint8(b.Scheme))
	}
	if len(b.Digest) != 0 && len(b.Digest) != DigestSize {
		return fmt.Errorf("%w: digest has %d bytes, expected %d", ErrInvalidBundle, len(b.Digest), DigestSize)
	}
	for i, pkt := range b.Packets {
		if uint64(len(pkt.Payload)) != uint64(b.Parameters.SymbolSize) {
			return fmt.Errorf("%w: packet %d (id %d) has %d bytes, symbol size is %d",
				ErrInvalidBundle, i, pkt.ID, len(pkt.Payload), b.Parameters.SymbolSize)
		}
	}
	return nil
}

// WithPackets returns a copy of the bundle metadata carrying packets instead.
// The packets are not copied.
func (b *Bundle) WithPackets(packets []encode.Packet) *Bundle {
	return &Bundle{
		Parameters:  b.Parameters,
		Scheme:      b.Scheme,
		RepairCount: b.RepairCount,
		Digest:      b.Digest,
		Packets:     packets,
	}
}

func (b *Bundle) String() string {
	return fmt.Sprintf("%s bundle, %s, %d repair, %d packets",
		b.Scheme, b.Parameters, b.RepairCount, len(b.Packets))
}

// Compression selects how the container body is compressed
type Compression uint16

const (
	CompNone   Compression = 0x0
	CompZSTD   Compression = 0x1
	CompLZ4    Compression = 0x2
	CompBrotli Compression = 0x3
)

func (c Compression) String() string {
	switch c {
	case CompNone:
		return "none"
	case CompZSTD:
		return "zstd"
	case CompLZ4:
		return "lz4"
	case CompBrotli:
		return "brotli"
	default:
		return fmt.Sprintf("compression(%d)", uint16(c))
	}
}

// ParseCompression maps a compression name to its identifier. The empty
// name selects zstd.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "zstd":
		return CompZSTD, nil
	case "none", "off":
		return CompNone, nil
	case "lz4":
		return CompLZ4, nil
	case "brotli", "br":
		return CompBrotli, nil
	default:
		return 0, fmt.Errorf("%w: unknown compression %q", oti.ErrInvalidInput, name)
	}
}
