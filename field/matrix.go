package field

// Matrix operations over GF(2^8). A matrix is a slice of equally sized rows.

// NewMatrix allocates a zero rows×cols matrix backed by a single buffer
func NewMatrix(rows, cols int) [][]byte {
	buf := make([]byte, rows*cols)
	m := make([][]byte, rows)
	for i := range m {
		m[i] = buf[i*cols : (i+1)*cols : (i+1)*cols]
	}
	return m
}

// CloneMatrix returns a deep copy of m
func CloneMatrix(m [][]byte) [][]byte {
	if len(m) == 0 {
		return nil
	}
	c := NewMatrix(len(m), len(m[0]))
	for i := range m {
		copy(c[i], m[i])
	}
	return c
}

// Rank returns the rank of the matrix using forward elimination on a copy
func Rank(vectors [][]byte) int {
	n := len(vectors)
	if n == 0 {
		return 0
	}
	m := len(vectors[0])
	A := CloneMatrix(vectors)

	rank := 0
	for col := 0; col < m && rank < n; col++ {
		// Find pivot
		pivot := -1
		for i := rank; i < n; i++ {
			if A[i][col] != 0 {
				pivot = i
				break
			}
		}
		if pivot == -1 {
			continue // no pivot in this column
		}
		A[rank], A[pivot] = A[pivot], A[rank]

		// Eliminate below only (forward elimination)
		inv := Inv(A[rank][col])
		for i := rank + 1; i < n; i++ {
			if A[i][col] == 0 {
				continue
			}
			MulAddSlice(Mul(A[i][col], inv), A[i][col:], A[rank][col:])
		}
		rank++
	}
	return rank
}
