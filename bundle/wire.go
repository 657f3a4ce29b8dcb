package bundle

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ppopth/mycelium/encode"
	"github.com/ppopth/mycelium/oti"

	"github.com/gogo/protobuf/proto"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("bundle")

// Magic opens every bundle container
var Magic = [4]byte{'M', 'Y', 'C', 'B'}

const (
	VersionV1  uint16 = 1
	headerSize        = 16
)

// Container layout, little endian:
//
//	magic   [4]byte "MYCB"
//	version uint16
//	flags   uint16  compression in the low nibble, 0x10 if the body has a length prefix
//	length  uint64  stored body length
//	body    [length]byte
type header struct {
	Magic   [4]byte
	Version uint16
	Flags   uint16
	BodyLen uint64
}

func readHeader(r io.Reader) (header, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return header{}, fmt.Errorf("%w: reading header: %v", ErrInvalidBundle, err)
	}
	var h header
	copy(h.Magic[:], buf[0:4])
	h.Version = binary.LittleEndian.Uint16(buf[4:6])
	h.Flags = binary.LittleEndian.Uint16(buf[6:8])
	h.BodyLen = binary.LittleEndian.Uint64(buf[8:16])
	return h, nil
}

func writeHeader(w io.Writer, h header) error {
	var buf [headerSize]byte
	copy(buf[0:4], h.Magic[:])
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	binary.LittleEndian.PutUint16(buf[6:8], h.Flags)
	binary.LittleEndian.PutUint64(buf[8:16], h.BodyLen)
	_, err := w.Write(buf[:])
	return err
}

// pbBundle is the protobuf body of the container
type pbBundle struct {
	TransferLength uint64      `protobuf:"varint,1,opt,name=transfer_length,json=transferLength,proto3"`
	SymbolSize     uint32      `protobuf:"varint,2,opt,name=symbol_size,json=symbolSize,proto3"`
	Scheme         uint32      `protobuf:"varint,3,opt,name=scheme,proto3"`
	RepairCount    uint32      `protobuf:"varint,4,opt,name=repair_count,json=repairCount,proto3"`
	Digest         []byte      `protobuf:"bytes,5,opt,name=digest,proto3"`
	Packets        []*pbPacket `protobuf:"bytes,6,rep,name=packets,proto3"`
}

func (m *pbBundle) Reset()         { *m = pbBundle{} }
func (m *pbBundle) String() string { return proto.CompactTextString(m) }
func (*pbBundle) ProtoMessage()    {}

type pbPacket struct {
	Id      uint32 `protobuf:"varint,1,opt,name=id,proto3"`
	Payload []byte `protobuf:"bytes,2,opt,name=payload,proto3"`
}

func (m *pbPacket) Reset()         { *m = pbPacket{} }
func (m *pbPacket) String() string { return proto.CompactTextString(m) }
func (*pbPacket) ProtoMessage()    {}

func toProto(b *Bundle) *pbBundle {
	m := &pbBundle{
		TransferLength: b.Parameters.TransferLength,
		SymbolSize:     b.Parameters.SymbolSize,
		Scheme:         uint32(b.Scheme),
		RepairCount:    b.RepairCount,
		Digest:         b.Digest,
		Packets:        make([]*pbPacket, len(b.Packets)),
	}
	for i, pkt := range b.Packets {
		m.Packets[i] = &pbPacket{Id: pkt.ID, Payload: pkt.Payload}
	}
	return m
}

func fromProto(m *pbBundle) (*Bundle, error) {
	params, err := oti.FromTransfer(m.TransferLength, m.SymbolSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBundle, err)
	}
	if m.Scheme > 0xFF {
		return nil, fmt.Errorf("%w: unknown scheme %d", ErrInvalidBundle, m.Scheme)
	}
	b := &Bundle{
		Parameters:  params,
		Scheme:      encode.Scheme(m.Scheme),
		RepairCount: m.RepairCount,
		Digest:      m.Digest,
		Packets:     make([]encode.Packet, len(m.Packets)),
	}
	for i, pkt := range m.Packets {
		if pkt == nil {
			return nil, fmt.Errorf("%w: packet %d is missing", ErrInvalidBundle, i)
		}
		b.Packets[i] = encode.Packet{ID: pkt.Id, Payload: pkt.Payload}
	}
	return b, nil
}

// Write validates b and writes it to w as a container
func Write(w io.Writer, b *Bundle, opts ...Option) error {
	cfg := newConfig(opts)
	if err := b.Validate(); err != nil {
		return err
	}
	if err := cfg.limits.Check(b); err != nil {
		return err
	}

	body, err := proto.Marshal(toProto(b))
	if err != nil {
		return fmt.Errorf("marshal bundle body: %w", err)
	}
	flags, stored, err := compressBody(cfg.compression, body)
	if err != nil {
		return err
	}
	if uint64(len(stored)) > cfg.limits.MaxBodyLen {
		return fmt.Errorf("%w: body length %d", ErrLimitExceeded, len(stored))
	}
	log.Debugf("writing %s: %d body bytes, %d stored with %s", b, len(body), len(stored), cfg.compression)

	if err := writeHeader(w, header{Magic: Magic, Version: VersionV1, Flags: flags, BodyLen: uint64(len(stored))}); err != nil {
		return err
	}
	_, err = w.Write(stored)
	return err
}

// Read parses a container from r and validates the bundle it holds
func Read(r io.Reader, opts ...Option) (*Bundle, error) {
	cfg := newConfig(opts)

	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	if h.Magic != Magic {
		return nil, ErrInvalidMagic
	}
	if h.Version != VersionV1 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.Flags&^(flagCompressionMask|flagHasUncompressedLen) != 0 {
		return nil, fmt.Errorf("%w: unknown flags %#x", ErrInvalidBundle, h.Flags)
	}
	if h.BodyLen > cfg.limits.MaxBodyLen {
		return nil, fmt.Errorf("%w: body length %d", ErrLimitExceeded, h.BodyLen)
	}

	if sized, ok := r.(interface{ Len() int }); ok && h.BodyLen > uint64(sized.Len()) {
		return nil, fmt.Errorf("%w: body length %d, only %d bytes left", ErrInvalidBundle, h.BodyLen, sized.Len())
	}

	stored := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, stored); err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrInvalidBundle, err)
	}
	body, err := decompressBody(h.Flags, stored, cfg.limits.MaxUncompressed)
	if err != nil {
		return nil, err
	}

	var m pbBundle
	if err := proto.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrInvalidBundle, err)
	}
	if len(m.Packets) > cfg.limits.MaxPackets {
		return nil, fmt.Errorf("%w: %d packets", ErrLimitExceeded, len(m.Packets))
	}
	b, err := fromProto(&m)
	if err != nil {
		return nil, err
	}
	if err := cfg.limits.Check(b); err != nil {
		return nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Marshal returns the container bytes for b
func Marshal(b *Bundle, opts ...Option) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, b, opts...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal parses a container. Trailing bytes after the body are rejected.
func Unmarshal(data []byte, opts ...Option) (*Bundle, error) {
	r := bytes.NewReader(data)
	b, err := Read(r, opts...)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidBundle, r.Len())
	}
	return b, nil
}
