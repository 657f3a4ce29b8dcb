package bundle

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

const (
	flagCompressionMask    uint16 = 0x000F
	flagHasUncompressedLen uint16 = 0x0010
)

// zstdMinMemory floors the zstd decoder memory cap; small frames still
// declare windows of at least 1 KiB.
const zstdMinMemory = 1 << 20

// compressBody returns the container flags and the stored body. Compressed
// bodies start with an 8-byte uncompressed length.
func compressBody(comp Compression, body []byte) (uint16, []byte, error) {
	if comp == CompNone {
		return uint16(CompNone), body, nil
	}
	var compressed []byte
	var err error
	switch comp {
	case CompZSTD:
		compressed, err = zstdCompress(body)
	case CompLZ4:
		compressed, err = lz4Compress(body)
	case CompBrotli:
		compressed, err = brotliCompress(body)
	default:
		return 0, nil, fmt.Errorf("%w: unknown compression %d", ErrInvalidBundle, comp)
	}
	if err != nil {
		return 0, nil, err
	}
	var prefix [8]byte
	binary.LittleEndian.PutUint64(prefix[:], uint64(len(body)))
	return uint16(comp) | flagHasUncompressedLen, append(prefix[:], compressed...), nil
}

// decompressBody reverses compressBody and refuses to inflate past maxUncompressed
func decompressBody(flags uint16, stored []byte, maxUncompressed uint64) ([]byte, error) {
	comp := Compression(flags & flagCompressionMask)
	hasLen := flags&flagHasUncompressedLen != 0
	if comp == CompNone {
		if hasLen {
			return nil, fmt.Errorf("%w: uncompressed body with a length prefix", ErrInvalidBundle)
		}
		if uint64(len(stored)) > maxUncompressed {
			return nil, fmt.Errorf("%w: body length %d", ErrLimitExceeded, len(stored))
		}
		return stored, nil
	}
	if !hasLen {
		return nil, fmt.Errorf("%w: compressed body without a length prefix", ErrInvalidBundle)
	}
	if len(stored) < 8 {
		return nil, fmt.Errorf("%w: body too short for its length prefix", ErrInvalidBundle)
	}
	expected := binary.LittleEndian.Uint64(stored[:8])
	if expected > maxUncompressed {
		return nil, fmt.Errorf("%w: uncompressed length %d", ErrLimitExceeded, expected)
	}

	var out []byte
	var err error
	switch comp {
	case CompZSTD:
		out, err = zstdDecompress(stored[8:], expected)
	case CompLZ4:
		out, err = readLimited(lz4.NewReader(bytes.NewReader(stored[8:])), expected)
	case CompBrotli:
		out, err = readLimited(brotli.NewReader(bytes.NewReader(stored[8:])), expected)
	default:
		return nil, fmt.Errorf("%w: unknown compression %d", ErrInvalidBundle, comp)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s body: %v", ErrInvalidBundle, comp, err)
	}
	if uint64(len(out)) != expected {
		return nil, fmt.Errorf("%w: %s body inflated to %d bytes, expected %d", ErrInvalidBundle, comp, len(out), expected)
	}
	return out, nil
}

func zstdCompress(in []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(in, nil), nil
}

// zstdDecompress rejects output longer than expected
func zstdDecompress(in []byte, expected uint64) ([]byte, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(max(expected+1, zstdMinMemory)))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	out, err := dec.DecodeAll(in, nil)
	if err != nil {
		return nil, err
	}
	if uint64(len(out)) > expected {
		return nil, fmt.Errorf("zstd expanded beyond %d bytes", expected)
	}
	return out, nil
}

func lz4Compress(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(in); err != nil {
		_ = zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func brotliCompress(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	if _, err := bw.Write(in); err != nil {
		_ = bw.Close()
		return nil, err
	}
	if err := bw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// readLimited reads at most expected+1 bytes so an oversized stream is
// detected without reading it entirely
func readLimited(r io.Reader, expected uint64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, int64(expected)+1))
}
