package oti

import "fmt"

// Partition splits data into SourceSymbolCount symbols of SymbolSize bytes.
// The last symbol is zero-padded; every symbol is a fresh buffer so callers may
// mutate them freely.
func Partition(data []byte, p Parameters) ([][]byte, error) {
	if uint64(len(data)) != p.TransferLength {
		return nil, fmt.Errorf("%w: payload has %d bytes, parameters describe %d",
			ErrCorruptParameters, len(data), p.TransferLength)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	size := int(p.SymbolSize)
	block := make([]byte, p.EncodedLength())
	copy(block, data)

	symbols := make([][]byte, p.SourceSymbolCount)
	for i := range symbols {
		symbols[i] = block[i*size : (i+1)*size : (i+1)*size]
	}
	return symbols, nil
}

// Assemble concatenates the source symbols in index order and strips the
// padding recorded in p, returning exactly TransferLength bytes.
func Assemble(symbols [][]byte, p Parameters) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if uint64(len(symbols)) != uint64(p.SourceSymbolCount) {
		return nil, fmt.Errorf("%w: got %d source symbols, expected %d",
			ErrCorruptParameters, len(symbols), p.SourceSymbolCount)
	}

	out := make([]byte, 0, p.EncodedLength())
	for i, symbol := range symbols {
		if uint64(len(symbol)) != uint64(p.SymbolSize) {
			return nil, fmt.Errorf("%w: symbol %d has %d bytes, expected %d",
				ErrCorruptParameters, i, len(symbol), p.SymbolSize)
		}
		out = append(out, symbol...)
	}
	return out[:p.TransferLength], nil
}
