package rlnc

import (
	"fmt"

	"github.com/ppopth/mycelium/encode"
	"github.com/ppopth/mycelium/field"
	"github.com/ppopth/mycelium/oti"
)

// pivotRow is one equation of the decoder's linear system. Its coefficients
// are zero left of the pivot column and one at the pivot column.
type pivotRow struct {
	coeffs []byte
	data   []byte
}

// RlncDecoder solves for the source symbols incrementally. Every accepted
// packet is reduced against the current pivots on arrival, so the system is
// always in row echelon form and full rank is detected immediately.
//
// A decoder belongs to a single decode and is not safe for concurrent use.
type RlncDecoder struct {
	params oti.Parameters
	k      int

	pivots   map[int]*pivotRow   // Pivot rows by pivot column, filled as packets arrive
	rank     int                 // len(pivots)
	seen     map[uint32]struct{} // Identifiers already fed
	received int                 // Packets fed, including duplicates
	solved   bool                // Back-substitution done
}

var _ encode.Decoder = (*RlncDecoder)(nil)

// NewRlncDecoder creates a decoder for a payload described by params
func NewRlncDecoder(params oti.Parameters) (*RlncDecoder, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	k := int(params.SourceSymbolCount)
	return &RlncDecoder{
		params: params,
		k:      k,
		pivots: make(map[int]*pivotRow),
		seen:   make(map[uint32]struct{}),
	}, nil
}

// AddPacket reduces the packet against the system and keeps it if it is
// linearly independent of everything accepted so far.
func (d *RlncDecoder) AddPacket(pkt encode.Packet) (bool, error) {
	d.received++
	if d.rank == d.k {
		return true, nil
	}
	if uint64(len(pkt.Payload)) != uint64(d.params.SymbolSize) {
		return false, fmt.Errorf("%w: packet %d has %d bytes, symbol size is %d",
			oti.ErrCorruptParameters, pkt.ID, len(pkt.Payload), d.params.SymbolSize)
	}
	if _, dup := d.seen[pkt.ID]; dup {
		log.Debugf("ignoring duplicate packet %d", pkt.ID)
		return false, nil
	}
	d.seen[pkt.ID] = struct{}{}

	coeffs := Row(pkt.ID, d.params.SourceSymbolCount)
	data := append([]byte(nil), pkt.Payload...)

	for col := 0; ; {
		lead := field.LeadingIndex(coeffs[col:])
		if lead < 0 {
			break
		}
		col += lead
		c := coeffs[col]
		pivot, ok := d.pivots[col]
		if !ok {
			// Everything left of col is already zero: normalize and keep
			inv := field.Inv(c)
			field.ScaleSlice(inv, coeffs[col:])
			field.ScaleSlice(inv, data)
			d.pivots[col] = &pivotRow{coeffs: coeffs, data: data}
			d.rank++
			if d.rank == d.k {
				log.Debugf("reached full rank %d after %d packets", d.k, d.received)
			}
			return d.rank == d.k, nil
		}
		// pivot has a leading one at col, so this clears coeffs[col]
		field.MulAddSlice(c, coeffs[col:], pivot.coeffs[col:])
		field.MulAddSlice(c, data, pivot.data)
	}

	log.Debugf("packet %d is linearly dependent, rank stays %d/%d", pkt.ID, d.rank, d.k)
	return false, nil
}

// Rank returns the number of independent packets accepted so far
func (d *RlncDecoder) Rank() int {
	return d.rank
}

// Required returns the source symbol count
func (d *RlncDecoder) Required() int {
	return d.k
}

// Reconstruct back-substitutes the system and assembles the payload. It fails
// with *encode.InsufficientSymbolsError while the rank is below k.
func (d *RlncDecoder) Reconstruct() ([]byte, error) {
	if d.rank < d.k {
		return nil, &encode.InsufficientSymbolsError{
			Provided: d.received,
			Required: d.k,
			Rank:     d.rank,
		}
	}
	if !d.solved {
		d.backSubstitute()
	}

	symbols := make([][]byte, d.k)
	for i := range symbols {
		symbols[i] = d.pivots[i].data
	}
	return oti.Assemble(symbols, d.params)
}

// backSubstitute turns the upper-triangular system into the identity, leaving
// source symbol i in pivots[i].data.
func (d *RlncDecoder) backSubstitute() {
	for col := d.k - 1; col >= 0; col-- {
		row := d.pivots[col]
		for j := col + 1; j < d.k; j++ {
			c := row.coeffs[j]
			if c == 0 {
				continue
			}
			// pivots[j] is already a unit row
			field.MulAddSlice(c, row.data, d.pivots[j].data)
			row.coeffs[j] = 0
		}
	}
	d.solved = true
}
