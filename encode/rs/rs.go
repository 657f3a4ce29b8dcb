package rs

import (
	"errors"
	"fmt"

	"github.com/ppopth/mycelium/encode"
	"github.com/ppopth/mycelium/oti"

	logging "github.com/ipfs/go-log/v2"
	"github.com/klauspost/reedsolomon"
)

var log = logging.Logger("rs")

// MaxShards is the largest k + r the GF(2^8) Reed-Solomon code supports
const MaxShards = 256

// RsEncoderConfig contains configuration for the Reed-Solomon backend
type RsEncoderConfig struct {
	// Number of parity shards. Unlike the rateless code, every packet id in
	// [0, k+ParityShards) is fixed when the encoder is built.
	ParityShards uint32
}

// DefaultRsEncoderConfig returns a config with one parity shard per data shard
func DefaultRsEncoderConfig(params oti.Parameters) *RsEncoderConfig {
	return &RsEncoderConfig{
		ParityShards: params.SourceSymbolCount,
	}
}

func newCodec(params oti.Parameters, parity uint32) (reedsolomon.Encoder, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if parity == 0 {
		return nil, fmt.Errorf("%w: reed-solomon needs at least one parity shard", oti.ErrInvalidInput)
	}
	total := uint64(params.SourceSymbolCount) + uint64(parity)
	if total > MaxShards {
		return nil, fmt.Errorf("%w: %d data + %d parity shards exceed %d",
			oti.ErrInvalidInput, params.SourceSymbolCount, parity, MaxShards)
	}
	return reedsolomon.New(int(params.SourceSymbolCount), int(parity))
}

// RsEncoder precomputes all k+r shards of a payload
type RsEncoder struct {
	params oti.Parameters
	shards [][]byte
}

var _ encode.Encoder = (*RsEncoder)(nil)

// NewRsEncoder partitions data and computes its parity shards
func NewRsEncoder(data []byte, params oti.Parameters, config *RsEncoderConfig) (*RsEncoder, error) {
	if config == nil {
		config = DefaultRsEncoderConfig(params)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: payload is empty", oti.ErrInvalidInput)
	}
	enc, err := newCodec(params, config.ParityShards)
	if err != nil {
		return nil, err
	}
	symbols, err := oti.Partition(data, params)
	if err != nil {
		return nil, err
	}

	shards := make([][]byte, 0, len(symbols)+int(config.ParityShards))
	shards = append(shards, symbols...)
	for i := uint32(0); i < config.ParityShards; i++ {
		shards = append(shards, make([]byte, params.SymbolSize))
	}
	if err := enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("reed-solomon encode: %w", err)
	}
	log.Debugf("encoded %d data and %d parity shards for %s", len(symbols), config.ParityShards, params)

	return &RsEncoder{params: params, shards: shards}, nil
}

// Parameters returns the transmission parameters of the payload
func (e *RsEncoder) Parameters() oti.Parameters {
	return e.params
}

// TotalShards returns k + r
func (e *RsEncoder) TotalShards() uint32 {
	return uint32(len(e.shards))
}

// Packet returns the shard with the given identifier
func (e *RsEncoder) Packet(id uint32) (encode.Packet, error) {
	if id >= e.TotalShards() {
		return encode.Packet{}, fmt.Errorf("%w: packet %d is outside the %d reed-solomon shards",
			oti.ErrInvalidInput, id, len(e.shards))
	}
	return encode.Packet{ID: id, Payload: append([]byte(nil), e.shards[id]...)}, nil
}

// Packets returns the packets [0, count); count cannot exceed k + r
func (e *RsEncoder) Packets(count uint32) ([]encode.Packet, error) {
	if count > e.TotalShards() {
		return nil, fmt.Errorf("%w: requested %d packets, reed-solomon has %d shards",
			oti.ErrInvalidInput, count, len(e.shards))
	}
	packets := make([]encode.Packet, count)
	for id := range packets {
		packets[id] = encode.Packet{ID: uint32(id), Payload: append([]byte(nil), e.shards[id]...)}
	}
	return packets, nil
}

// RsDecoder collects shards until any k of the k+r are present
type RsDecoder struct {
	params   oti.Parameters
	enc      reedsolomon.Encoder
	shards   [][]byte
	present  int
	received int
}

var _ encode.Decoder = (*RsDecoder)(nil)

// NewRsDecoder creates a decoder for a payload encoded with config.ParityShards parity shards
func NewRsDecoder(params oti.Parameters, config *RsEncoderConfig) (*RsDecoder, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if config == nil {
		config = DefaultRsEncoderConfig(params)
	}
	enc, err := newCodec(params, config.ParityShards)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", oti.ErrCorruptParameters, err)
	}
	return &RsDecoder{
		params: params,
		enc:    enc,
		shards: make([][]byte, uint64(params.SourceSymbolCount)+uint64(config.ParityShards)),
	}, nil
}

// AddPacket stores a shard and reports whether k distinct shards are present
func (d *RsDecoder) AddPacket(pkt encode.Packet) (bool, error) {
	d.received++
	if d.done() {
		return true, nil
	}
	if uint64(pkt.ID) >= uint64(len(d.shards)) {
		return false, fmt.Errorf("%w: packet %d is outside the %d reed-solomon shards",
			oti.ErrCorruptParameters, pkt.ID, len(d.shards))
	}
	if uint64(len(pkt.Payload)) != uint64(d.params.SymbolSize) {
		return false, fmt.Errorf("%w: packet %d has %d bytes, symbol size is %d",
			oti.ErrCorruptParameters, pkt.ID, len(pkt.Payload), d.params.SymbolSize)
	}
	if d.shards[pkt.ID] != nil {
		return false, nil
	}
	d.shards[pkt.ID] = append([]byte(nil), pkt.Payload...)
	d.present++
	return d.done(), nil
}

func (d *RsDecoder) done() bool {
	return d.present >= int(d.params.SourceSymbolCount)
}

// Rank returns the number of distinct shards, capped at k
func (d *RsDecoder) Rank() int {
	return min(d.present, int(d.params.SourceSymbolCount))
}

// Required returns k
func (d *RsDecoder) Required() int {
	return int(d.params.SourceSymbolCount)
}

// Reconstruct rebuilds missing data shards and assembles the payload
func (d *RsDecoder) Reconstruct() ([]byte, error) {
	k := int(d.params.SourceSymbolCount)
	if !d.done() {
		return nil, &encode.InsufficientSymbolsError{Provided: d.received, Required: k, Rank: d.present}
	}
	if err := d.enc.ReconstructData(d.shards); err != nil {
		if errors.Is(err, reedsolomon.ErrTooFewShards) {
			return nil, &encode.InsufficientSymbolsError{Provided: d.received, Required: k, Rank: d.present}
		}
		return nil, fmt.Errorf("reed-solomon reconstruct: %w", err)
	}
	return oti.Assemble(d.shards[:k], d.params)
}
