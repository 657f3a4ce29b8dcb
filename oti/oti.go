// Package oti derives and validates the object transmission information that
// travels with every encoded bundle: transfer length, symbol size, source symbol
// count and padding.
package oti

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidInput      = errors.New("oti: invalid input")
	ErrCorruptParameters = errors.New("oti: corrupt transmission parameters")
)

// DefaultSymbolSize is the symbol size used when the caller does not pick one.
const DefaultSymbolSize uint32 = 1024

// Parameters describes how a payload is cut into source symbols. Encoder and
// decoder must agree on every field.
type Parameters struct {
	TransferLength    uint64 // Payload length in bytes
	SymbolSize        uint32 // Bytes per symbol
	SourceSymbolCount uint32 // k = ceil(TransferLength / SymbolSize)
	PaddingLength     uint32 // Zero bytes appended to the last source symbol
}

// New derives the parameters for a payload of transferLength bytes.
func New(transferLength uint64, symbolSize uint32) (Parameters, error) {
	if transferLength == 0 {
		return Parameters{}, fmt.Errorf("%w: payload is empty", ErrInvalidInput)
	}
	if symbolSize == 0 {
		return Parameters{}, fmt.Errorf("%w: symbol size must be positive", ErrInvalidInput)
	}
	k, ok := symbolCount(transferLength, symbolSize)
	if !ok {
		return Parameters{}, fmt.Errorf("%w: %d bytes at symbol size %d needs more than %d symbols",
			ErrInvalidInput, transferLength, symbolSize, uint32(math.MaxUint32))
	}
	return Parameters{
		TransferLength:    transferLength,
		SymbolSize:        symbolSize,
		SourceSymbolCount: k,
		PaddingLength:     uint32(uint64(k)*uint64(symbolSize) - transferLength),
	}, nil
}

// FromTransfer rebuilds the full parameters from the two fields that are
// actually transmitted.
func FromTransfer(transferLength uint64, symbolSize uint32) (Parameters, error) {
	p, err := New(transferLength, symbolSize)
	if err != nil {
		return Parameters{}, fmt.Errorf("%w: %v", ErrCorruptParameters, err)
	}
	return p, nil
}

// Validate checks that received parameters are internally consistent.
func (p Parameters) Validate() error {
	if p.SymbolSize == 0 {
		return fmt.Errorf("%w: symbol size is zero", ErrCorruptParameters)
	}
	if p.SourceSymbolCount == 0 || p.TransferLength == 0 {
		return fmt.Errorf("%w: no source symbols", ErrCorruptParameters)
	}
	k, ok := symbolCount(p.TransferLength, p.SymbolSize)
	if !ok || k != p.SourceSymbolCount {
		return fmt.Errorf("%w: source symbol count %d does not match %d bytes at symbol size %d",
			ErrCorruptParameters, p.SourceSymbolCount, p.TransferLength, p.SymbolSize)
	}
	padding := uint64(k)*uint64(p.SymbolSize) - p.TransferLength
	if padding != uint64(p.PaddingLength) {
		return fmt.Errorf("%w: padding length %d, expected %d", ErrCorruptParameters, p.PaddingLength, padding)
	}
	return nil
}

// EncodedLength returns k*SymbolSize, the size of the padded source block.
func (p Parameters) EncodedLength() uint64 {
	return uint64(p.SourceSymbolCount) * uint64(p.SymbolSize)
}

// TotalPackets returns k + repair with an explicit range check against the
// 32-bit packet identifier space.
func (p Parameters) TotalPackets(repair uint32) (uint32, error) {
	total := uint64(p.SourceSymbolCount) + uint64(repair)
	if total > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d source + %d repair packets overflow the identifier space",
			ErrInvalidInput, p.SourceSymbolCount, repair)
	}
	return uint32(total), nil
}

func (p Parameters) String() string {
	return fmt.Sprintf("transfer=%d symbol=%d k=%d padding=%d",
		p.TransferLength, p.SymbolSize, p.SourceSymbolCount, p.PaddingLength)
}

// symbolCount returns ceil(length / size) and whether it fits in uint32.
func symbolCount(length uint64, size uint32) (uint32, bool) {
	k := length / uint64(size)
	if length%uint64(size) != 0 {
		k++
	}
	if k > math.MaxUint32 {
		return 0, false
	}
	return uint32(k), true
}
