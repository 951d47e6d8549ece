package typeregistry

import "testing"

func TestConstructCheckDestruct(t *testing.T) {
	r := New()
	r.Construct(0x1000, 7)
	r.Check(0x1000, 7)
	r.Destruct(0x1000, 7)
	if r.Len() != 0 {
		t.Fatalf("expected empty registry after destruct, len=%d", r.Len())
	}
}

func TestDestructNonExistentPointerPanics(t *testing.T) {
	r := New()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic destructing a pointer that was never constructed")
		}
	}()
	r.Destruct(0xdead, 1)
}

func TestCheckNonExistentPointerPanics(t *testing.T) {
	r := New()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic checking a pointer that was never constructed")
		}
	}()
	r.Check(0xdead, 1)
}

func TestCheckAfterDestructPanics(t *testing.T) {
	r := New()
	r.Construct(0x2000, 3)
	r.Destruct(0x2000, 3)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic checking a pointer after it was destructed")
		}
	}()
	r.Check(0x2000, 3)
}

func TestDestructWrongTypePanics(t *testing.T) {
	r := New()
	r.Construct(0x7000, 4)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic destructing a pointer as the wrong type")
		}
	}()
	r.Destruct(0x7000, 5)
}

func TestCheckWrongTypePanics(t *testing.T) {
	r := New()
	r.Construct(0x3000, 1)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic checking a pointer against the wrong type")
		}
	}()
	r.Check(0x3000, 2)
}

func TestConstructOverExistingPointerPanics(t *testing.T) {
	r := New()
	r.Construct(0x4000, 1)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic constructing over an already-live pointer")
		}
	}()
	r.Construct(0x4000, 2)
}

func TestDrainEmptiesRegistryWithoutPanicking(t *testing.T) {
	r := New()
	r.Construct(0x5000, 1)
	r.Construct(0x6000, 2)
	r.Drain()
	if r.Len() != 0 {
		t.Fatalf("expected Drain to empty the registry, len=%d", r.Len())
	}
}
