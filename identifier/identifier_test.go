package identifier

import "testing"

func TestNewIsRandomAndRoundTrips(t *testing.T) {
	a := New()
	b := New()
	if a.Equal(b) {
		t.Fatal("New() produced two identical ids")
	}

	rt, err := FromBytes(a.ToBytes())
	if err != nil {
		t.Fatalf("FromBytes(ToBytes()) failed: %v", err)
	}
	if !rt.Equal(a) {
		t.Fatalf("round trip mismatch: got %s, want %s", rt, a)
	}
}

func TestFromBytesWrongSize(t *testing.T) {
	for _, n := range []int{0, 15, 17, 32} {
		if _, err := FromBytes(make([]byte, n)); err == nil {
			t.Fatalf("FromBytes with %d bytes: expected error, got nil", n)
		}
	}
}

func TestToHexIsLowercase(t *testing.T) {
	id, _ := FromBytes(make([]byte, Size))
	id[0] = 0xAB
	if got, want := id.ToHex()[:2], "ab"; got != want {
		t.Fatalf("ToHex() = %q, want lowercase %q", got, want)
	}
	if len(id.ToHex()) != Size*2 {
		t.Fatalf("ToHex() length = %d, want %d", len(id.ToHex()), Size*2)
	}
}

func TestIsZero(t *testing.T) {
	var id EntityId
	if !id.IsZero() {
		t.Fatal("zero value IsZero() = false")
	}
	id[0] = 1
	if id.IsZero() {
		t.Fatal("non-zero id IsZero() = true")
	}
}
