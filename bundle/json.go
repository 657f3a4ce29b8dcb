package bundle

import (
	"encoding/json"
	"fmt"

	"github.com/ppopth/mycelium/encode"
	"github.com/ppopth/mycelium/oti"
)

// jsonBundle is the flat, language-neutral view of a bundle. Byte fields are
// base64 as encoding/json does for []byte.
type jsonBundle struct {
	TransferLength uint64       `json:"transferLength"`
	SymbolSize     uint32       `json:"symbolSize"`
	Scheme         string       `json:"scheme,omitempty"`
	RepairCount    uint32       `json:"repairCount,omitempty"`
	Digest         []byte       `json:"digest,omitempty"`
	Packets        []jsonPacket `json:"packets"`
}

type jsonPacket struct {
	ID      uint32 `json:"id"`
	Payload []byte `json:"payload"`
}

// MarshalJSON implements json.Marshaler
func (b Bundle) MarshalJSON() ([]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	v := jsonBundle{
		TransferLength: b.Parameters.TransferLength,
		SymbolSize:     b.Parameters.SymbolSize,
		Scheme:         b.Scheme.String(),
		RepairCount:    b.RepairCount,
		Digest:         b.Digest,
		Packets:        make([]jsonPacket, len(b.Packets)),
	}
	for i, pkt := range b.Packets {
		v.Packets[i] = jsonPacket{ID: pkt.ID, Payload: pkt.Payload}
	}
	return json.Marshal(v)
}

// UnmarshalJSON implements json.Unmarshaler. A missing scheme means rlnc.
// The result must stay within DefaultLimits.
func (b *Bundle) UnmarshalJSON(data []byte) error {
	var v jsonBundle
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	params, err := oti.FromTransfer(v.TransferLength, v.SymbolSize)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBundle, err)
	}
	scheme, err := encode.ParseScheme(v.Scheme)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}

	out := Bundle{
		Parameters:  params,
		Scheme:      scheme,
		RepairCount: v.RepairCount,
		Digest:      v.Digest,
		Packets:     make([]encode.Packet, len(v.Packets)),
	}
	for i, pkt := range v.Packets {
		out.Packets[i] = encode.Packet{ID: pkt.ID, Payload: pkt.Payload}
	}
	if err := DefaultLimits().Check(&out); err != nil {
		return err
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*b = out
	return nil
}
