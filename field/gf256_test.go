package field

import (
	"bytes"
	"testing"
)

// TestFieldTables checks the log/exp tables against their defining identities
func TestFieldTables(t *testing.T) {
	seen := make(map[byte]bool)
	for i := 0; i < Order-1; i++ {
		x := expTable[i]
		if x == 0 {
			t.Fatalf("g^%d is zero", i)
		}
		if seen[x] {
			t.Fatalf("g^%d = 0x%02x repeats, generator is not primitive", i, x)
		}
		seen[x] = true
		if int(logTable[x]) != i {
			t.Errorf("log(g^%d) = %d", i, logTable[x])
		}
	}
	if len(seen) != Order-1 {
		t.Errorf("generator spans %d elements, want %d", len(seen), Order-1)
	}
}

func TestFieldBasic(t *testing.T) {
	// 0x80 * 2 overflows into bit 8 and is reduced by 0x11D
	if got := Mul(0x80, 0x02); got != 0x1D {
		t.Errorf("Mul(0x80, 0x02) = 0x%02x, want 0x1d", got)
	}
	if got := expTable[8]; got != 0x1D {
		t.Errorf("g^8 = 0x%02x, want 0x1d", got)
	}
	if got := Add(0x53, 0xCA); got != 0x99 {
		t.Errorf("Add(0x53, 0xCA) = 0x%02x, want 0x99", got)
	}
	if Add(0x53, 0x53) != 0 {
		t.Errorf("every element must be its own additive inverse")
	}
}

func TestFieldAxioms(t *testing.T) {
	for a := 0; a < Order; a++ {
		x := byte(a)
		if Mul(x, 1) != x {
			t.Fatalf("Multiplication by one failed for 0x%02x", x)
		}
		if Mul(x, 0) != 0 {
			t.Fatalf("Multiplication by zero failed for 0x%02x", x)
		}
		if x == 0 {
			continue
		}
		if Mul(x, Inv(x)) != 1 {
			t.Fatalf("x * x^-1 != 1 for 0x%02x", x)
		}
		for b := 1; b < Order; b++ {
			y := byte(b)
			if Mul(x, y) != Mul(y, x) {
				t.Fatalf("multiplication is not commutative for 0x%02x, 0x%02x", x, y)
			}
			if Mul(Mul(x, y), Inv(y)) != x {
				t.Fatalf("x * y * y^-1 != x for 0x%02x, 0x%02x", x, y)
			}
		}
	}
}

func TestFieldDistributive(t *testing.T) {
	values := []byte{0x00, 0x01, 0x02, 0x03, 0x1D, 0x53, 0x80, 0xCA, 0xFF}
	for _, a := range values {
		for _, b := range values {
			for _, c := range values {
				left := Mul(a, Add(b, c))
				right := Add(Mul(a, b), Mul(a, c))
				if left != right {
					t.Fatalf("a*(b+c) != a*b + a*c for a=0x%02x b=0x%02x c=0x%02x", a, b, c)
				}
			}
		}
	}
}

func TestInvZeroPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("Inv(0) should panic")
		}
	}()
	Inv(0)
}

func TestSliceKernels(t *testing.T) {
	src := []byte{0x00, 0x01, 0x02, 0x80, 0xFF}

	t.Run("MulSlice", func(t *testing.T) {
		dst := make([]byte, len(src))
		MulSlice(0x02, dst, src)
		for i := range src {
			if dst[i] != Mul(0x02, src[i]) {
				t.Errorf("dst[%d] = 0x%02x, want 0x%02x", i, dst[i], Mul(0x02, src[i]))
			}
		}
		MulSlice(0, dst, src)
		if !bytes.Equal(dst, make([]byte, len(src))) {
			t.Errorf("MulSlice by zero should clear dst, got %v", dst)
		}
		MulSlice(1, dst, src)
		if !bytes.Equal(dst, src) {
			t.Errorf("MulSlice by one should copy, got %v", dst)
		}
	})

	t.Run("MulAddSlice", func(t *testing.T) {
		dst := []byte{0x10, 0x20, 0x30, 0x40, 0x50}
		want := make([]byte, len(dst))
		for i := range dst {
			want[i] = dst[i] ^ Mul(0x53, src[i])
		}
		MulAddSlice(0x53, dst, src)
		if !bytes.Equal(dst, want) {
			t.Errorf("MulAddSlice = %v, want %v", dst, want)
		}
		// Adding the same combination twice cancels out
		MulAddSlice(0x53, dst, src)
		if !bytes.Equal(dst, []byte{0x10, 0x20, 0x30, 0x40, 0x50}) {
			t.Errorf("double MulAddSlice should restore dst, got %v", dst)
		}
	})

	t.Run("ScaleSlice", func(t *testing.T) {
		v := []byte{0x01, 0x02, 0x03}
		ScaleSlice(0x02, v)
		ScaleSlice(Inv(0x02), v)
		if !bytes.Equal(v, []byte{0x01, 0x02, 0x03}) {
			t.Errorf("scaling by c then c^-1 should be identity, got %v", v)
		}
	})

	t.Run("LeadingIndex", func(t *testing.T) {
		if got := LeadingIndex([]byte{0, 0, 5, 1}); got != 2 {
			t.Errorf("LeadingIndex = %d, want 2", got)
		}
		if got := LeadingIndex([]byte{0, 0}); got != -1 {
			t.Errorf("LeadingIndex of zero vector = %d, want -1", got)
		}
	})
}

func BenchmarkMulAddSlice(b *testing.B) {
	dst := make([]byte, 1024)
	src := make([]byte, 1024)
	for i := range src {
		src[i] = byte(i)
	}
	b.SetBytes(int64(len(src)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		MulAddSlice(0x53, dst, src)
	}
}
