package encode

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ppopth/mycelium/oti"
)

// ErrInsufficientSymbols is matched by every *InsufficientSymbolsError.
var ErrInsufficientSymbols = errors.New("encode: insufficient symbols")

// Packet is one encoded symbol together with its identifier. IDs below the
// source symbol count carry a source symbol unmodified.
type Packet struct {
	ID      uint32
	Payload []byte
}

// Clone returns a deep copy of the packet
func (p Packet) Clone() Packet {
	return Packet{ID: p.ID, Payload: append([]byte(nil), p.Payload...)}
}

// IsSystematic reports whether the packet is a copy of source symbol p.ID
func (p Packet) IsSystematic(params oti.Parameters) bool {
	return p.ID < params.SourceSymbolCount
}

// Scheme identifies the code that produced a set of packets.
type Scheme uint8

const (
	// SchemeRLNC is the systematic rateless linear code over GF(2^8)
	SchemeRLNC Scheme = iota
	// SchemeRS is fixed-rate systematic Reed-Solomon
	SchemeRS
	// SchemeRaptorQ is RFC 6330 RaptorQ
	SchemeRaptorQ
)

func (s Scheme) String() string {
	switch s {
	case SchemeRLNC:
		return "rlnc"
	case SchemeRS:
		return "rs"
	case SchemeRaptorQ:
		return "raptorq"
	default:
		return fmt.Sprintf("scheme(%d)", uint8(s))
	}
}

// Valid reports whether s names a known scheme
func (s Scheme) Valid() bool {
	return s <= SchemeRaptorQ
}

// ParseScheme maps a scheme name back to its identifier
func ParseScheme(name string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "rlnc":
		return SchemeRLNC, nil
	case "rs", "reedsolomon", "reed-solomon":
		return SchemeRS, nil
	case "raptorq", "rq":
		return SchemeRaptorQ, nil
	default:
		return 0, fmt.Errorf("%w: unknown scheme %q", oti.ErrInvalidInput, name)
	}
}

// Encoder produces packets for a single payload
type Encoder interface {
	// Parameters returns the transmission parameters of the payload
	Parameters() oti.Parameters
	// Packet returns the packet with the given identifier
	Packet(id uint32) (Packet, error)
	// Packets returns the packets with identifiers [0, count)
	Packets(count uint32) ([]Packet, error)
}

// Decoder accumulates packets until the payload can be rebuilt
type Decoder interface {
	// AddPacket feeds one packet and reports whether the payload is now recoverable
	AddPacket(pkt Packet) (bool, error)
	// Rank returns the number of independent packets accepted so far
	Rank() int
	// Required returns the number of independent packets needed
	Required() int
	// Reconstruct returns the original payload once AddPacket reported true
	Reconstruct() ([]byte, error)
}

// InsufficientSymbolsError reports a decode that ran out of packets before the
// linear system reached full rank. It is retryable with more packets.
type InsufficientSymbolsError struct {
	Provided int // Packets supplied to the decoder
	Required int // Source symbol count k
	Rank     int // Independent packets actually accepted
}

func (e *InsufficientSymbolsError) Error() string {
	return fmt.Sprintf("insufficient symbols: provided %d packets (rank %d), need at least %d to reconstruct",
		e.Provided, e.Rank, e.Required)
}

// Is lets errors.Is match ErrInsufficientSymbols
func (e *InsufficientSymbolsError) Is(target error) bool {
	return target == ErrInsufficientSymbols
}

// Feed pushes packets into dec until it reports completion, then reconstructs.
// It never returns a partially decoded payload.
func Feed(dec Decoder, packets []Packet) ([]byte, error) {
	for _, pkt := range packets {
		done, err := dec.AddPacket(pkt)
		if err != nil {
			return nil, err
		}
		if done {
			return dec.Reconstruct()
		}
	}
	return nil, &InsufficientSymbolsError{
		Provided: len(packets),
		Required: dec.Required(),
		Rank:     dec.Rank(),
	}
}
