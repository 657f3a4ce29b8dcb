package rlnc

import (
	"bytes"
	"errors"
	"math/rand"
	"slices"
	"testing"

	"github.com/ppopth/mycelium/encode"
	"github.com/ppopth/mycelium/oti"
)

func randomPayload(t testing.TB, seed int64, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(data)
	return data
}

func newCodec(t testing.TB, data []byte, symbolSize uint32, config *RlncEncoderConfig) (*RlncEncoder, oti.Parameters) {
	t.Helper()
	params, err := oti.New(uint64(len(data)), symbolSize)
	if err != nil {
		t.Fatal(err)
	}
	encoder, err := NewRlncEncoder(data, params, config)
	if err != nil {
		t.Fatal(err)
	}
	return encoder, params
}

func decodeFrom(t *testing.T, params oti.Parameters, packets []encode.Packet) ([]byte, error) {
	t.Helper()
	decoder, err := NewRlncDecoder(params)
	if err != nil {
		t.Fatal(err)
	}
	return encode.Feed(decoder, packets)
}

// combinations calls fn with every size-r subset of [0, n)
func combinations(n, r int, fn func([]int)) {
	idx := make([]int, r)
	var rec func(start, depth int)
	rec = func(start, depth int) {
		if depth == r {
			fn(idx)
			return
		}
		for i := start; i < n; i++ {
			idx[depth] = i
			rec(i+1, depth+1)
		}
	}
	rec(0, 0)
}

func TestRowSystematic(t *testing.T) {
	for id := uint32(0); id < 5; id++ {
		row := Row(id, 5)
		for j, c := range row {
			want := byte(0)
			if uint32(j) == id {
				want = 1
			}
			if c != want {
				t.Fatalf("Row(%d, 5)[%d] = %d, want %d", id, j, c, want)
			}
		}
	}
}

func TestRowDeterministic(t *testing.T) {
	for _, id := range []uint32{7, 255, 256, 1 << 20} {
		a := Row(id, 6)
		b := Row(id, 6)
		if !slices.Equal(a, b) {
			t.Fatalf("Row(%d, 6) is not deterministic", id)
		}
		for j, c := range a {
			if c == 0 {
				t.Errorf("repair row %d has a zero coefficient at %d", id, j)
			}
		}
	}
}

func TestGeneratorMDS(t *testing.T) {
	for _, k := range []int{1, 2, 3, 5} {
		combinations(2*k, k, func(subset []int) {
			ids := make([]uint32, k)
			for i, row := range subset {
				ids[i] = uint32(row)
			}
			if SpanRank(ids, uint32(k)) != k {
				t.Fatalf("k=%d: rows %v are dependent", k, subset)
			}
		})
	}
}

func TestRlncRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		length     int
		symbolSize uint32
	}{
		{"single byte", 1, 16},
		{"exact symbol", 64, 64},
		{"no padding", 4096, 1024},
		{"max padding", 4097, 1024},
		{"many symbols", 10_000, 100},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := randomPayload(t, int64(i), tt.length)
			encoder, params := newCodec(t, data, tt.symbolSize, nil)
			total, err := params.TotalPackets(params.SourceSymbolCount)
			if err != nil {
				t.Fatal(err)
			}
			packets, err := encoder.Packets(total)
			if err != nil {
				t.Fatal(err)
			}

			out, err := decodeFrom(t, params, packets)
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if !bytes.Equal(out, data) {
				t.Fatalf("round trip mismatch")
			}

			// Repair packets alone are enough too
			out, err = decodeFrom(t, params, packets[params.SourceSymbolCount:])
			if err != nil {
				t.Fatalf("repair-only decode failed: %v", err)
			}
			if !bytes.Equal(out, data) {
				t.Fatalf("repair-only round trip mismatch")
			}
		})
	}
}

func TestRlncAnySubsetDecodes(t *testing.T) {
	data := randomPayload(t, 42, 60)
	encoder, params := newCodec(t, data, 16, nil)
	k := int(params.SourceSymbolCount)
	packets, err := encoder.Packets(uint32(2 * k))
	if err != nil {
		t.Fatal(err)
	}

	combinations(2*k, k, func(subset []int) {
		picked := make([]encode.Packet, len(subset))
		for i, idx := range subset {
			picked[i] = packets[idx]
		}
		out, err := decodeFrom(t, params, picked)
		if err != nil {
			t.Fatalf("subset %v: %v", subset, err)
		}
		if !bytes.Equal(out, data) {
			t.Fatalf("subset %v: payload mismatch", subset)
		}
	})
}

func TestRlncScenario(t *testing.T) {
	data := randomPayload(t, 7, 2500)
	encoder, params := newCodec(t, data, 1024, nil)
	if params.SourceSymbolCount != 3 || params.PaddingLength != 572 {
		t.Fatalf("unexpected parameters %s", params)
	}
	packets, err := encoder.Packets(6)
	if err != nil {
		t.Fatal(err)
	}
	if len(packets) != 6 {
		t.Fatalf("expected 6 packets, got %d", len(packets))
	}

	t.Run("packets 0, 2, 4", func(t *testing.T) {
		out, err := decodeFrom(t, params, []encode.Packet{packets[0], packets[2], packets[4]})
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(out, data) {
			t.Fatalf("payload mismatch")
		}
	})

	t.Run("packets 0, 2", func(t *testing.T) {
		_, err := decodeFrom(t, params, []encode.Packet{packets[0], packets[2]})
		var insufficient *encode.InsufficientSymbolsError
		if !errors.As(err, &insufficient) {
			t.Fatalf("expected InsufficientSymbolsError, got %v", err)
		}
		if insufficient.Provided != 2 || insufficient.Required != 3 || insufficient.Rank != 2 {
			t.Fatalf("unexpected error fields %+v", insufficient)
		}
	})
}

func TestRlncOrderIndependence(t *testing.T) {
	data := randomPayload(t, 3, 5000)
	encoder, params := newCodec(t, data, 256, nil)
	packets, err := encoder.Packets(2 * params.SourceSymbolCount)
	if err != nil {
		t.Fatal(err)
	}

	r := rand.New(rand.NewSource(99))
	for trial := 0; trial < 10; trial++ {
		shuffled := slices.Clone(packets)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		out, err := decodeFrom(t, params, shuffled[:params.SourceSymbolCount])
		if err != nil {
			t.Fatalf("trial %d: %v", trial, err)
		}
		if !bytes.Equal(out, data) {
			t.Fatalf("trial %d: payload mismatch", trial)
		}
	}
}

func TestRlncDuplicates(t *testing.T) {
	data := randomPayload(t, 5, 300)
	encoder, params := newCodec(t, data, 100, nil)
	packets, err := encoder.Packets(6)
	if err != nil {
		t.Fatal(err)
	}

	decoder, err := NewRlncDecoder(params)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		done, err := decoder.AddPacket(packets[4])
		if err != nil {
			t.Fatal(err)
		}
		if done {
			t.Fatalf("decoder complete after a single distinct packet")
		}
	}
	if decoder.Rank() != 1 {
		t.Fatalf("duplicates changed the rank to %d", decoder.Rank())
	}
	_, err = decoder.Reconstruct()
	var insufficient *encode.InsufficientSymbolsError
	if !errors.As(err, &insufficient) || insufficient.Provided != 3 || insufficient.Rank != 1 {
		t.Fatalf("expected 3 provided packets at rank 1, got %v", err)
	}

	if _, err := decoder.AddPacket(packets[1]); err != nil {
		t.Fatal(err)
	}
	done, err := decoder.AddPacket(packets[5])
	if err != nil {
		t.Fatal(err)
	}
	if !done || decoder.Rank() != decoder.Required() {
		t.Fatalf("decoder should be complete")
	}
	// Further packets are accepted silently
	if done, err := decoder.AddPacket(packets[0]); err != nil || !done {
		t.Fatalf("AddPacket after completion = %v, %v", done, err)
	}

	for i := 0; i < 2; i++ {
		out, err := decoder.Reconstruct()
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(out, data) {
			t.Fatalf("reconstruct %d: payload mismatch", i)
		}
	}
}

func TestRlncHighIdentifiers(t *testing.T) {
	data := randomPayload(t, 11, 3*64)
	encoder, params := newCodec(t, data, 64, nil)
	k := params.SourceSymbolCount

	// Rows above 255 are pseudorandom; pick the first independent window
	var ids []uint32
	for base := uint32(256); base < 1024; base++ {
		window := []uint32{base, base + 1, base + 2}
		if SpanRank(window, k) == len(window) {
			ids = window
			break
		}
	}
	if ids == nil {
		t.Fatal("no independent window of high identifiers")
	}

	packets := make([]encode.Packet, 0, len(ids))
	for _, id := range ids {
		pkt, err := encoder.Packet(id)
		if err != nil {
			t.Fatal(err)
		}
		packets = append(packets, pkt)
	}
	out, err := decodeFrom(t, params, packets)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("payload mismatch")
	}
}

func TestRlncDependentPacket(t *testing.T) {
	data := randomPayload(t, 13, 20)
	encoder, params := newCodec(t, data, 10, nil)
	k := params.SourceSymbolCount

	var pair []uint32
	for id := uint32(257); id < 20_000 && pair == nil; id++ {
		if SpanRank([]uint32{256, id}, k) < 2 {
			pair = []uint32{256, id}
		}
	}
	if pair == nil {
		t.Skip("no dependent pair of pseudorandom rows in range")
	}

	decoder, err := NewRlncDecoder(params)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range pair {
		pkt, err := encoder.Packet(id)
		if err != nil {
			t.Fatal(err)
		}
		if done, err := decoder.AddPacket(pkt); err != nil || done {
			t.Fatalf("AddPacket(%d) = %v, %v", id, done, err)
		}
	}
	if decoder.Rank() != 1 {
		t.Fatalf("dependent packet raised the rank to %d", decoder.Rank())
	}
	_, err = decoder.Reconstruct()
	var insufficient *encode.InsufficientSymbolsError
	if !errors.As(err, &insufficient) || insufficient.Provided != 2 || insufficient.Rank != 1 {
		t.Fatalf("expected insufficient symbols with rank 1, got %v", err)
	}
}

func TestRlncLargeSourceCount(t *testing.T) {
	// k ≥ 256 leaves no Cauchy rows, every repair packet is pseudorandom
	data := randomPayload(t, 17, 300*4)
	encoder, params := newCodec(t, data, 4, nil)
	if params.SourceSymbolCount != 300 {
		t.Fatalf("expected k=300, got %d", params.SourceSymbolCount)
	}
	packets, err := encoder.Packets(2 * params.SourceSymbolCount)
	if err != nil {
		t.Fatal(err)
	}
	// Drop every other systematic packet and rely on repair packets
	var kept []encode.Packet
	for _, pkt := range packets {
		if pkt.ID < params.SourceSymbolCount && pkt.ID%2 == 0 {
			continue
		}
		kept = append(kept, pkt)
	}
	out, err := decodeFrom(t, params, kept)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("payload mismatch")
	}
}

func TestRlncCorruptPacket(t *testing.T) {
	data := randomPayload(t, 19, 100)
	encoder, params := newCodec(t, data, 40, nil)
	pkt, err := encoder.Packet(3)
	if err != nil {
		t.Fatal(err)
	}
	pkt.Payload = pkt.Payload[:39]

	decoder, err := NewRlncDecoder(params)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := decoder.AddPacket(pkt); !errors.Is(err, oti.ErrCorruptParameters) {
		t.Fatalf("expected ErrCorruptParameters, got %v", err)
	}
	if decoder.Rank() != 0 {
		t.Fatalf("corrupt packet changed the rank")
	}
}

func TestRlncInvalidInput(t *testing.T) {
	params, err := oti.New(10, 4)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewRlncEncoder(nil, params, nil); !errors.Is(err, oti.ErrInvalidInput) {
		t.Errorf("empty payload: expected ErrInvalidInput, got %v", err)
	}
	if _, err := NewRlncEncoder(make([]byte, 11), params, nil); !errors.Is(err, oti.ErrCorruptParameters) {
		t.Errorf("length mismatch: expected ErrCorruptParameters, got %v", err)
	}

	broken := params
	broken.SourceSymbolCount = 0
	if _, err := NewRlncDecoder(broken); !errors.Is(err, oti.ErrCorruptParameters) {
		t.Errorf("zero source symbols: expected ErrCorruptParameters, got %v", err)
	}
}

func TestRlncParallelMatchesSequential(t *testing.T) {
	data := randomPayload(t, 23, 64*40)
	for _, workers := range []int{1, 3, 8} {
		encoder, params := newCodec(t, data, 64, &RlncEncoderConfig{Workers: workers})
		count := 3 * params.SourceSymbolCount
		packets, err := encoder.Packets(count)
		if err != nil {
			t.Fatal(err)
		}
		if uint32(len(packets)) != count {
			t.Fatalf("expected %d packets, got %d", count, len(packets))
		}
		for i, pkt := range packets {
			if pkt.ID != uint32(i) {
				t.Fatalf("packet %d has id %d", i, pkt.ID)
			}
			single, err := encoder.Packet(pkt.ID)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(single.Payload, pkt.Payload) {
				t.Fatalf("workers=%d: packet %d differs from Packet(%d)", workers, i, pkt.ID)
			}
		}
	}
}

func TestRlncFewerPacketsThanSymbols(t *testing.T) {
	data := randomPayload(t, 29, 50)
	encoder, params := newCodec(t, data, 10, nil)
	packets, err := encoder.Packets(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(packets) != 2 {
		t.Fatalf("expected 2 packets, got %d", len(packets))
	}
	for _, pkt := range packets {
		if !pkt.IsSystematic(params) {
			t.Fatalf("packet %d should be systematic", pkt.ID)
		}
		if !bytes.Equal(pkt.Payload, data[pkt.ID*10:(pkt.ID+1)*10]) {
			t.Fatalf("systematic packet %d does not carry its source symbol", pkt.ID)
		}
	}
}

func TestSpanRank(t *testing.T) {
	const k = 4
	tests := []struct {
		name string
		ids  []uint32
		want int
	}{
		{"none", nil, 0},
		{"systematic", []uint32{0, 1, 2, 3}, 4},
		{"duplicates count once", []uint32{1, 1, 1, 2}, 2},
		{"cauchy repair", []uint32{4, 5, 6, 7}, 4},
		{"systematic and repair", []uint32{0, 9, 0, 9}, 2},
		{"more ids than k", []uint32{0, 1, 2, 3, 4, 5}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SpanRank(tt.ids, k); got != tt.want {
				t.Errorf("SpanRank(%v) = %d, want %d", tt.ids, got, tt.want)
			}
		})
	}
}

func TestRlncDecoderHugeSourceCount(t *testing.T) {
	// Pivot rows are allocated per accepted packet, never up front
	params, err := oti.New(1<<31, 1)
	if err != nil {
		t.Fatal(err)
	}
	decoder, err := NewRlncDecoder(params)
	if err != nil {
		t.Fatal(err)
	}
	if decoder.Required() != 1<<31 || decoder.Rank() != 0 {
		t.Fatalf("required %d rank %d", decoder.Required(), decoder.Rank())
	}
	_, err = decoder.Reconstruct()
	var insufficient *encode.InsufficientSymbolsError
	if !errors.As(err, &insufficient) || insufficient.Required != 1<<31 {
		t.Fatalf("expected InsufficientSymbolsError, got %v", err)
	}
}

func BenchmarkRlncEncode(b *testing.B) {
	data := randomPayload(b, 1, 1<<20)
	encoder, params := newCodec(b, data, 1024, nil)
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := encoder.Packets(2 * params.SourceSymbolCount); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRlncDecodeRepairOnly(b *testing.B) {
	data := randomPayload(b, 2, 64<<10)
	encoder, params := newCodec(b, data, 1024, nil)
	k := params.SourceSymbolCount
	packets, err := encoder.Packets(2 * k)
	if err != nil {
		b.Fatal(err)
	}
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		decoder, err := NewRlncDecoder(params)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := encode.Feed(decoder, packets[k:]); err != nil {
			b.Fatal(err)
		}
	}
}
