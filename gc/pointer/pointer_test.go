package pointer

import "testing"

func TestRoundTrip(t *testing.T) {
	colors := []Color{ColorMarked0, ColorMarked1, ColorRemapped, ColorFinalizable}
	addrs := []uintptr{0, 8, 4096, 1 << 30, 1 << 40}

	for _, c := range colors {
		for _, a := range addrs {
			r := FromAddress(a, c)
			if got := ToAddress(r); got != a {
				t.Errorf("ToAddress(FromAddress(%d,%v)) = %d, want %d", a, c, got, a)
			}
			if got := GetColor(r); got != c {
				t.Errorf("GetColor(FromAddress(%d,%v)) = %v, want %v", a, c, got, c)
			}
		}
	}
}

func TestSetColorPreservesAddress(t *testing.T) {
	r := FromAddress(0xABCD0000, ColorMarked0)
	for _, c := range []Color{ColorMarked0, ColorMarked1, ColorRemapped, ColorFinalizable} {
		r2 := SetColor(r, c)
		if ToAddress(r2) != ToAddress(r) {
			t.Fatalf("SetColor changed address: %d != %d", ToAddress(r2), ToAddress(r))
		}
		if GetColor(r2) != c {
			t.Fatalf("SetColor(%v) color = %v", c, GetColor(r2))
		}
	}
}

func TestIsNull(t *testing.T) {
	if !IsNull(Null) {
		t.Fatal("Null must be null")
	}
	if !IsNull(FromAddress(0, ColorRemapped)) {
		t.Fatal("zero address with any color must be null")
	}
	if IsNull(FromAddress(8, ColorMarked0)) {
		t.Fatal("non-zero address must not be null")
	}
}

func TestSetColorIdempotentRoundTripLaw(t *testing.T) {
	r := FromAddress(1024, ColorMarked1)
	if got := SetColor(r, GetColor(r)); got != r {
		t.Fatalf("SetColor(r, GetColor(r)) = %v, want %v", got, r)
	}
}

func TestAddOffsetPreservesColor(t *testing.T) {
	r := FromAddress(100, ColorRemapped)
	r2 := r.AddOffset(24)
	if r2.Address() != 124 {
		t.Fatalf("AddOffset address = %d, want 124", r2.Address())
	}
	if r2.Color() != ColorRemapped {
		t.Fatalf("AddOffset color = %v, want REMAPPED", r2.Color())
	}
}
