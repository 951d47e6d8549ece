package tracer

import (
	"testing"

	"mpkcompart/memmap"
)

func TestOnMmapRejectsOverlap(t *testing.T) {
	p := New(memmap.New())
	if !p.OnMmap(memmap.Range{Start: 0x1000, Len: 0x1000}, 1, 0) {
		t.Fatal("first mmap should be allowed")
	}
	if p.OnMmap(memmap.Range{Start: 0x1800, Len: 0x1000}, 1, 0) {
		t.Fatal("overlapping mmap should be denied")
	}
}

func TestOnPkeyMprotectMonotonicityAfterInit(t *testing.T) {
	p := New(memmap.New())
	p.OnMmap(memmap.Range{Start: 0x1000, Len: 0x1000}, 1, 0)
	if !p.OnPkeyMprotect(memmap.Range{Start: 0x1000, Len: 0x1000}, 4) {
		t.Fatal("pkey_mprotect before init finished should be allowed")
	}
	p.Shadow().MarkInitFinished()
	if p.OnPkeyMprotect(memmap.Range{Start: 0x1000, Len: 0x1000}, 4) {
		t.Fatal("re-pkey_mprotect after init finished should be denied")
	}
}

func TestDeniedOnPkeyMprotectLeavesShadowUnchanged(t *testing.T) {
	p := New(memmap.New())
	p.OnMmap(memmap.Range{Start: 0x1000, Len: 0x1000}, 1, 0)
	p.OnPkeyMprotect(memmap.Range{Start: 0x1000, Len: 0x1000}, 4)
	p.Shadow().MarkInitFinished()

	before, _ := p.Shadow().FindRegionExact(memmap.Range{Start: 0x1000, Len: 0x1000})
	p.OnPkeyMprotect(memmap.Range{Start: 0x1000, Len: 0x1000}, 9)
	after, _ := p.Shadow().FindRegionExact(memmap.Range{Start: 0x1000, Len: 0x1000})
	if before != after {
		t.Fatalf("a denied pkey_mprotect must not mutate the shadow: before=%+v after=%+v", before, after)
	}
}

func TestOnMunmapThenRemapSucceeds(t *testing.T) {
	p := New(memmap.New())
	p.OnMmap(memmap.Range{Start: 0x1000, Len: 0x1000}, 1, 0)
	if !p.OnMunmap(memmap.Range{Start: 0x1000, Len: 0x1000}) {
		t.Fatal("munmap of a mapped range should be allowed")
	}
	if !p.OnMmap(memmap.Range{Start: 0x1000, Len: 0x1000}, 3, 0) {
		t.Fatal("remapping an unmapped range should be allowed")
	}
}
