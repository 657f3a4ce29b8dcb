package mycelium

import (
	"github.com/ppopth/mycelium/encode"
	"github.com/ppopth/mycelium/oti"
)

var (
	// ErrInvalidInput rejects bad caller input such as an empty payload. Not retryable.
	ErrInvalidInput = oti.ErrInvalidInput
	// ErrCorruptParameters rejects inconsistent metadata, malformed packets or a
	// digest mismatch. Not retryable.
	ErrCorruptParameters = oti.ErrCorruptParameters
	// ErrInsufficientSymbols matches every *InsufficientSymbolsError. Retryable
	// with more packets.
	ErrInsufficientSymbols = encode.ErrInsufficientSymbols
)

// InsufficientSymbolsError reports how far a failed decode got
type InsufficientSymbolsError = encode.InsufficientSymbolsError
