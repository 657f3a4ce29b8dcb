package rlnc

import (
	"fmt"
	"runtime"

	"github.com/ppopth/mycelium/encode"
	"github.com/ppopth/mycelium/field"
	"github.com/ppopth/mycelium/oti"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/errgroup"
)

var log = logging.Logger("rlnc")

// repairBatch is the number of repair packets one worker computes per task
const repairBatch = 16

type RlncEncoderConfig struct {
	// Number of goroutines computing repair packets. Zero or negative means GOMAXPROCS.
	Workers int
}

func DefaultRlncEncoderConfig() *RlncEncoderConfig {
	return &RlncEncoderConfig{
		Workers: runtime.GOMAXPROCS(0),
	}
}

// RlncEncoder produces systematic and repair packets for one payload. It is
// read-only after construction and safe for concurrent use.
type RlncEncoder struct {
	config  *RlncEncoderConfig
	params  oti.Parameters
	symbols [][]byte // Source symbols, padded to SymbolSize
}

var _ encode.Encoder = (*RlncEncoder)(nil)

// NewRlncEncoder partitions data according to params
func NewRlncEncoder(data []byte, params oti.Parameters, config *RlncEncoderConfig) (*RlncEncoder, error) {
	if config == nil {
		config = DefaultRlncEncoderConfig()
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: payload is empty", oti.ErrInvalidInput)
	}
	symbols, err := oti.Partition(data, params)
	if err != nil {
		return nil, err
	}
	return &RlncEncoder{
		config:  config,
		params:  params,
		symbols: symbols,
	}, nil
}

// Parameters returns the transmission parameters of the payload
func (e *RlncEncoder) Parameters() oti.Parameters {
	return e.params
}

// Packet returns the packet with the given identifier. Any identifier is
// valid: the code is rateless.
func (e *RlncEncoder) Packet(id uint32) (encode.Packet, error) {
	payload := make([]byte, e.params.SymbolSize)
	e.combine(id, payload, make([]byte, e.params.SourceSymbolCount))
	return encode.Packet{ID: id, Payload: payload}, nil
}

// Packets returns the packets [0, count): the k systematic packets followed by
// count-k repair packets. Repair packets are computed in parallel; the result
// is ordered by identifier.
func (e *RlncEncoder) Packets(count uint32) ([]encode.Packet, error) {
	k := e.params.SourceSymbolCount
	packets := make([]encode.Packet, count)

	block := make([]byte, uint64(count)*uint64(e.params.SymbolSize))
	size := uint64(e.params.SymbolSize)
	for i := range packets {
		packets[i].ID = uint32(i)
		packets[i].Payload = block[uint64(i)*size : uint64(i+1)*size : uint64(i+1)*size]
	}

	systematic := min(count, k)
	for id := uint32(0); id < systematic; id++ {
		copy(packets[id].Payload, e.symbols[id])
	}
	if count <= k {
		return packets, nil
	}

	workers := e.config.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for start := k; start < count; start += min(repairBatch, count-start) {
		start, end := start, start+min(repairBatch, count-start)
		g.Go(func() error {
			row := make([]byte, k)
			for id := start; id < end; id++ {
				e.combine(id, packets[id].Payload, row)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.Debugf("encoded %d packets (%d systematic, %d repair) for %s", count, systematic, count-systematic, e.params)
	return packets, nil
}

// combine writes the linear combination for id into payload, using row as scratch
func (e *RlncEncoder) combine(id uint32, payload []byte, row []byte) {
	k := e.params.SourceSymbolCount
	if id < k {
		copy(payload, e.symbols[id])
		return
	}
	fillRow(row, id, k)
	field.MulSlice(row[0], payload, e.symbols[0])
	for j := 1; j < len(row); j++ {
		field.MulAddSlice(row[j], payload, e.symbols[j])
	}
}
