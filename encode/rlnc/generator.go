package rlnc

import (
	"github.com/ppopth/mycelium/field"
)

// Row returns the generator row for packet id when the payload has k source
// symbols: payload(id) = Σ Row(id, k)[j] · source[j].
//
// The row depends on (id, k) only, so the decoder regenerates it from the
// packet identifier instead of receiving it:
//   - id < k yields the unit vector at id (systematic packet)
//   - k ≤ id < 256 yields the Cauchy row 1/(id ⊕ j); the ids are disjoint from
//     the column indices, and every square submatrix of [I; Cauchy] is
//     invertible, so any k such packets decode
//   - any other id yields non-zero pseudorandom coefficients seeded by (id, k)
func Row(id, k uint32) []byte {
	row := make([]byte, k)
	fillRow(row, id, k)
	return row
}

// Rows returns the generator rows for ids as a len(ids)×k matrix.
func Rows(ids []uint32, k uint32) [][]byte {
	rows := field.NewMatrix(len(ids), int(k))
	for i, id := range ids {
		fillRow(rows[i], id, k)
	}
	return rows
}

// SpanRank returns the rank of the generator rows for ids, which is the rank
// a decoder reaches after being fed exactly those packets. Repeated ids count
// once.
func SpanRank(ids []uint32, k uint32) int {
	distinct := make([]uint32, 0, len(ids))
	seen := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		distinct = append(distinct, id)
	}
	return field.Rank(Rows(distinct, k))
}

func fillRow(row []byte, id, k uint32) {
	if id < k {
		clear(row)
		row[id] = 1
		return
	}
	if id < field.Order {
		// id ≥ k > j, so id + j is never zero
		for j := range row {
			row[j] = field.Inv(field.Add(byte(id), byte(j)))
		}
		return
	}
	state := uint64(k)<<32 | uint64(id)
	for j := range row {
		row[j] = 1 + byte(splitmix64(&state)%(field.Order-1))
	}
}

// splitmix64 advances state and returns the next value of the SplitMix64 sequence
func splitmix64(state *uint64) uint64 {
	*state += 0x9E3779B97F4A7C15
	z := *state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}
