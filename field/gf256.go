package field

// Arithmetic over the binary field GF(2^8).
//
// Elements are plain bytes. Addition is XOR and multiplication is polynomial
// multiplication modulo the primitive polynomial x^8 + x^4 + x^3 + x^2 + 1
// (0x11D), evaluated through log/exp tables built once at init.

const (
	// Order is the number of elements in the field
	Order = 256
	// Polynomial is the primitive polynomial used for reduction
	Polynomial = 0x11D
	// Generator is the primitive element the tables are built from
	Generator = 0x02
)

var (
	expTable [2 * Order]byte // expTable[i] = g^i, doubled so log sums need no modulo
	logTable [Order]byte     // logTable[x] = i such that g^i = x; logTable[0] is unused
	invTable [Order]byte     // invTable[x] = x^-1; invTable[0] is unused
	mulTable [Order][Order]byte
)

func init() {
	x := 1
	for i := 0; i < Order-1; i++ {
		expTable[i] = byte(x)
		logTable[x] = byte(i)
		x <<= 1
		if x&0x100 != 0 {
			x ^= Polynomial
		}
	}
	// Duplicate the cycle so Mul can index logTable[a]+logTable[b] directly
	for i := Order - 1; i < len(expTable); i++ {
		expTable[i] = expTable[i-(Order-1)]
	}
	for a := 1; a < Order; a++ {
		invTable[a] = expTable[Order-1-int(logTable[a])]
		for b := 1; b < Order; b++ {
			mulTable[a][b] = expTable[int(logTable[a])+int(logTable[b])]
		}
	}
}

// Add returns a + b in the field (XOR operation)
func Add(a, b byte) byte {
	return a ^ b
}

// Mul returns a * b in the field
func Mul(a, b byte) byte {
	return mulTable[a][b]
}

// Inv returns the multiplicative inverse of a
func Inv(a byte) byte {
	if a == 0 {
		panic("zero element is not invertible")
	}
	return invTable[a]
}
