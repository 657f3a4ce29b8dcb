// Package raptorq adapts the RFC 6330 RaptorQ code from github.com/xssnick/raptorq
// to the encode.Encoder and encode.Decoder interfaces.
package raptorq

import (
	"fmt"
	"math"

	"github.com/ppopth/mycelium/encode"
	"github.com/ppopth/mycelium/oti"

	logging "github.com/ipfs/go-log/v2"
	"github.com/xssnick/raptorq"
)

var log = logging.Logger("raptorq")

func checkParameters(params oti.Parameters) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if params.TransferLength > math.MaxUint32 {
		return fmt.Errorf("%w: raptorq payloads are limited to %d bytes, got %d",
			oti.ErrInvalidInput, uint32(math.MaxUint32), params.TransferLength)
	}
	return nil
}

// RaptorqEncoder produces RaptorQ encoding symbols. Identifiers below k are
// source symbols; any higher identifier is a repair symbol.
//
// The underlying encoder keeps scratch state, so RaptorqEncoder is not safe
// for concurrent use.
type RaptorqEncoder struct {
	params oti.Parameters
	enc    *raptorq.Encoder
}

var _ encode.Encoder = (*RaptorqEncoder)(nil)

// NewRaptorqEncoder builds the RaptorQ intermediate symbols for data
func NewRaptorqEncoder(data []byte, params oti.Parameters) (*RaptorqEncoder, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: payload is empty", oti.ErrInvalidInput)
	}
	if err := checkParameters(params); err != nil {
		return nil, err
	}
	if uint64(len(data)) != params.TransferLength {
		return nil, fmt.Errorf("%w: payload has %d bytes, parameters describe %d",
			oti.ErrCorruptParameters, len(data), params.TransferLength)
	}

	enc, err := raptorq.NewRaptorQ(params.SymbolSize).CreateEncoder(data)
	if err != nil {
		return nil, fmt.Errorf("raptorq encoder: %w", err)
	}
	log.Debugf("raptorq encoder ready with %d base symbols for %s", enc.BaseSymbolsNum(), params)
	return &RaptorqEncoder{params: params, enc: enc}, nil
}

// Parameters returns the transmission parameters of the payload
func (e *RaptorqEncoder) Parameters() oti.Parameters {
	return e.params
}

// Packet returns the encoding symbol with the given identifier
func (e *RaptorqEncoder) Packet(id uint32) (encode.Packet, error) {
	raw := e.enc.GenSymbol(id)
	if uint64(len(raw)) > uint64(e.params.SymbolSize) {
		return encode.Packet{}, fmt.Errorf("raptorq symbol %d has %d bytes, symbol size is %d",
			id, len(raw), e.params.SymbolSize)
	}
	// GenSymbol may reuse its buffer between calls
	payload := make([]byte, e.params.SymbolSize)
	copy(payload, raw)
	return encode.Packet{ID: id, Payload: payload}, nil
}

// Packets returns the encoding symbols [0, count)
func (e *RaptorqEncoder) Packets(count uint32) ([]encode.Packet, error) {
	packets := make([]encode.Packet, 0, count)
	for id := uint32(0); id < count; id++ {
		pkt, err := e.Packet(id)
		if err != nil {
			return nil, err
		}
		packets = append(packets, pkt)
	}
	return packets, nil
}

// RaptorqDecoder feeds symbols to a RaptorQ decoder and attempts a decode
// whenever the library reports enough symbols.
type RaptorqDecoder struct {
	params   oti.Parameters
	dec      *raptorq.Decoder
	seen     map[uint32]struct{}
	received int
	output   []byte
}

var _ encode.Decoder = (*RaptorqDecoder)(nil)

// NewRaptorqDecoder creates a decoder for a payload described by params
func NewRaptorqDecoder(params oti.Parameters) (*RaptorqDecoder, error) {
	if err := checkParameters(params); err != nil {
		return nil, fmt.Errorf("%w: %v", oti.ErrCorruptParameters, err)
	}
	dec, err := raptorq.NewRaptorQ(params.SymbolSize).CreateDecoder(uint32(params.TransferLength))
	if err != nil {
		return nil, fmt.Errorf("%w: raptorq decoder: %v", oti.ErrCorruptParameters, err)
	}
	return &RaptorqDecoder{
		params: params,
		dec:    dec,
		seen:   make(map[uint32]struct{}),
	}, nil
}

// AddPacket hands the symbol to the RaptorQ decoder
func (d *RaptorqDecoder) AddPacket(pkt encode.Packet) (bool, error) {
	d.received++
	if d.output != nil {
		return true, nil
	}
	if uint64(len(pkt.Payload)) != uint64(d.params.SymbolSize) {
		return false, fmt.Errorf("%w: packet %d has %d bytes, symbol size is %d",
			oti.ErrCorruptParameters, pkt.ID, len(pkt.Payload), d.params.SymbolSize)
	}
	if _, dup := d.seen[pkt.ID]; dup {
		return false, nil
	}
	d.seen[pkt.ID] = struct{}{}

	ready, err := d.dec.AddSymbol(pkt.ID, pkt.Payload)
	if err != nil {
		return false, fmt.Errorf("%w: raptorq symbol %d: %v", oti.ErrCorruptParameters, pkt.ID, err)
	}
	if !ready {
		return false, nil
	}
	return d.tryDecode()
}

func (d *RaptorqDecoder) tryDecode() (bool, error) {
	ok, data, err := d.dec.Decode()
	if err != nil {
		log.Debugf("raptorq decode attempt with %d symbols failed: %v", len(d.seen), err)
		return false, nil
	}
	if !ok {
		return false, nil
	}
	if uint64(len(data)) < d.params.TransferLength {
		return false, fmt.Errorf("%w: raptorq produced %d bytes, expected %d",
			oti.ErrCorruptParameters, len(data), d.params.TransferLength)
	}
	d.output = data[:d.params.TransferLength]
	return true, nil
}

// Rank returns the number of distinct symbols accepted, capped at k. RaptorQ
// does not expose its internal rank.
func (d *RaptorqDecoder) Rank() int {
	if d.output != nil {
		return d.Required()
	}
	return min(len(d.seen), d.Required())
}

// Required returns k. RaptorQ may need a few symbols more.
func (d *RaptorqDecoder) Required() int {
	return int(d.params.SourceSymbolCount)
}

// Reconstruct returns the decoded payload
func (d *RaptorqDecoder) Reconstruct() ([]byte, error) {
	if d.output == nil {
		return nil, &encode.InsufficientSymbolsError{
			Provided: d.received,
			Required: d.Required(),
			Rank:     d.Rank(),
		}
	}
	return append([]byte(nil), d.output...), nil
}
