package field

// Slice kernels over GF(2^8). All of them operate on the shortest common length
// of their arguments; callers are expected to pass equally sized symbols.

// AddSlice computes dst[i] ^= src[i]
func AddSlice(dst, src []byte) {
	n := min(len(dst), len(src))
	for i := 0; i < n; i++ {
		dst[i] ^= src[i]
	}
}

// MulSlice computes dst[i] = c * src[i]
func MulSlice(c byte, dst, src []byte) {
	n := min(len(dst), len(src))
	switch c {
	case 0:
		clear(dst[:n])
		return
	case 1:
		copy(dst[:n], src[:n])
		return
	}
	row := &mulTable[c]
	for i := 0; i < n; i++ {
		dst[i] = row[src[i]]
	}
}

// MulAddSlice computes dst[i] ^= c * src[i], the core step of every linear combination
func MulAddSlice(c byte, dst, src []byte) {
	n := min(len(dst), len(src))
	switch c {
	case 0:
		return
	case 1:
		AddSlice(dst[:n], src[:n])
		return
	}
	row := &mulTable[c]
	for i := 0; i < n; i++ {
		dst[i] ^= row[src[i]]
	}
}

// ScaleSlice computes v[i] = c * v[i] in place
func ScaleSlice(c byte, v []byte) {
	MulSlice(c, v, v)
}

// LeadingIndex returns the index of the first non-zero element of v, or -1
func LeadingIndex(v []byte) int {
	for i, b := range v {
		if b != 0 {
			return i
		}
	}
	return -1
}
