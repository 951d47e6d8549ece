package pkru

import "testing"

func TestMasks(t *testing.T) {
	cases := []struct {
		key      int
		readBit  uint32
		writeBit uint32
	}{
		{0, 1 << 0, 1 << 1},
		{1, 1 << 2, 1 << 3},
		{15, 1 << 30, 1 << 31},
	}
	for _, c := range cases {
		if got := readMask(c.key); got != c.readBit {
			t.Errorf("readMask(%d) = %#x, want %#x", c.key, got, c.readBit)
		}
		if got := writeMask(c.key); got != c.writeBit {
			t.Errorf("writeMask(%d) = %#x, want %#x", c.key, got, c.writeBit)
		}
	}
}

func TestCanReadCanWrite(t *testing.T) {
	var p PKRU
	for key := 0; key <= MaxKey; key++ {
		if !p.CanRead(key) || !p.CanWrite(key) {
			t.Fatalf("zero PKRU should permit all access, key %d denied", key)
		}
	}
	p = p.ForbidWrite(3)
	if p.CanWrite(3) {
		t.Fatal("ForbidWrite(3) should deny writes to key 3")
	}
	if !p.CanRead(3) {
		t.Fatal("ForbidWrite must not touch the read-disable bit")
	}
	for key := 0; key <= MaxKey; key++ {
		if key == 3 {
			continue
		}
		if !p.CanWrite(key) {
			t.Fatalf("ForbidWrite(3) should not affect key %d", key)
		}
	}
	p = p.AllowWrite(3)
	if !p.CanWrite(3) {
		t.Fatal("AllowWrite(3) should restore write access to key 3")
	}
}

func TestForbidAllowAccess(t *testing.T) {
	var p PKRU
	p = p.ForbidAccess(7)
	if p.CanRead(7) || p.CanWrite(7) {
		t.Fatal("ForbidAccess(7) should deny both reads and writes to key 7")
	}
	for key := 0; key <= MaxKey; key++ {
		if key == 7 {
			continue
		}
		if !p.CanRead(key) || !p.CanWrite(key) {
			t.Fatalf("ForbidAccess(7) should not affect key %d", key)
		}
	}
	p = p.AllowAccess(7)
	if !p.CanRead(7) || !p.CanWrite(7) {
		t.Fatal("AllowAccess(7) should restore both reads and writes to key 7")
	}
}

func TestForbidAllowIdempotent(t *testing.T) {
	var p PKRU
	p = p.ForbidWrite(5).ForbidWrite(5)
	if p.CanWrite(5) {
		t.Fatal("double ForbidWrite should still deny")
	}
	p = p.AllowWrite(5).AllowWrite(5)
	if !p.CanWrite(5) {
		t.Fatal("double AllowWrite should still allow")
	}
}
