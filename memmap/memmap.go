// Package memmap implements the process-wide memory-map shadow: a
// non-overlapping, page-aligned interval map that mirrors the kernel's
// view of this process's VMAs. A syscall tracer consults it to validate
// every mmap/mprotect/pkey_mprotect/munmap against policy before letting
// the syscall complete.
//
// The underlying ordered structure is github.com/google/btree, filling
// the role gVisor's generated, non-overlapping vmaSet/pmaSet segment sets
// play in pkg/sentry/mm — reproducing gVisor's own code-generation
// pipeline for segment sets is out of scope, so an off-the-shelf ordered
// map serves the same "ordered, non-overlapping regions keyed by start"
// purpose instead.
package memmap

import (
	"fmt"
	"os"

	"github.com/google/btree"
)

// PageSize is the rounding granularity every public Map operation applies
// to its inputs.
const PageSize = 4096

// Sentinels returned by the query operations when the queried range
// doesn't have a single, uniform answer.
const (
	// ProtIndeterminate is returned by RegionGetProt when the regions
	// overlapping the queried range don't share one protection, or no
	// region overlaps it.
	ProtIndeterminate uint32 = 0xFFFFFFFF
	// PkeyMultiple is returned by RegionGetOwnerPkey when more than one
	// owning key covers the queried range.
	PkeyMultiple uint8 = 255
	// PkeyNone is returned by RegionGetOwnerPkey when no region overlaps
	// the queried range. Overlapping regions that are all unclaimed
	// yield owner 0, not PkeyNone.
	PkeyNone uint8 = 254
)

// Range is a half-open byte range [Start, Start+Len).
type Range struct {
	Start uintptr
	Len   uintptr
}

// End returns the exclusive end of r.
func (r Range) End() uintptr {
	return r.Start + r.Len
}

func roundDown(v, page uintptr) uintptr {
	return v &^ (page - 1)
}

func roundUp(v, page uintptr) uintptr {
	return roundDown(v+page-1, page)
}

// roundTo4K rounds r's start down and its end up to page boundaries;
// every stored range's length is kept a multiple of the page size.
func (r Range) roundTo4K() Range {
	end := r.End()
	end = roundUp(end, PageSize)
	start := roundDown(r.Start, PageSize)
	return Range{Start: start, Len: end - start}
}

func (r Range) overlaps(other Range) bool {
	return r.Start < other.End() && r.End() > other.Start
}

// State is the tracked state of a contiguous region of memory.
type State struct {
	OwnerPkey      uint8
	PkeyMprotected bool
	Mprotected     bool
	Prot           uint32
}

// MemRegion is a contiguous region of the map together with its state.
type MemRegion struct {
	Range Range
	State State
}

type regionItem struct {
	start, end uintptr
	state      State
}

func lessRegionItem(a, b *regionItem) bool {
	return a.start < b.start
}

// Map is a non-overlapping interval tree keyed by start address.
type Map struct {
	tree         *btree.BTreeG[*regionItem]
	initFinished bool
}

// New returns an empty map with init_finished initially false.
func New() *Map {
	return &Map{tree: btree.NewG[*regionItem](32, lessRegionItem)}
}

func (m *Map) region(it *regionItem) MemRegion {
	return MemRegion{
		Range: Range{Start: it.start, Len: it.end - it.start},
		State: it.state,
	}
}

// AddRegion inserts range with state, rejecting zero-length or
// overlapping ranges. Failure leaves the map unchanged.
func (m *Map) AddRegion(rng Range, state State) bool {
	if rng.Len == 0 {
		return false
	}
	rng = rng.roundTo4K()
	if existing, ok := m.FindOverlappingRegion(rng); ok {
		fmt.Fprintf(os.Stderr, "memmap: %+v interferes with %+v\n", rng, existing.Range)
		return false
	}
	m.tree.ReplaceOrInsert(&regionItem{start: rng.Start, end: rng.End(), state: state})
	return true
}

// FindOverlappingRegion returns the first region (lowest start) that
// overlaps needle, if any.
func (m *Map) FindOverlappingRegion(needle Range) (MemRegion, bool) {
	var found *regionItem
	m.tree.Ascend(func(it *regionItem) bool {
		if it.start >= needle.End() {
			return false
		}
		if it.end > needle.Start {
			found = it
			return false
		}
		return true
	})
	if found == nil {
		return MemRegion{}, false
	}
	return m.region(found), true
}

// FindRegionExact returns the region whose range is exactly needle.
func (m *Map) FindRegionExact(needle Range) (MemRegion, bool) {
	r, ok := m.FindOverlappingRegion(needle)
	if !ok || r.Range != needle {
		return MemRegion{}, false
	}
	return r, true
}

// FindRegionContainingAddr looks up the region containing addr. It
// queries with a length-1 needle; zero-length range queries are not
// supported anywhere in this package.
func (m *Map) FindRegionContainingAddr(addr uintptr) (MemRegion, bool) {
	return m.FindOverlappingRegion(Range{Start: addr, Len: 1})
}

func (m *Map) removeExact(rng Range) bool {
	it, ok := m.tree.Delete(&regionItem{start: rng.Start, end: rng.End()})
	return ok && it != nil
}

// AllOverlappingRegions is the universal quantifier over every region
// overlapping needle: it short-circuits to false as soon as predicate
// returns false for one of them, and returns true (vacuously) if no
// region overlaps needle at all.
func (m *Map) AllOverlappingRegions(needle Range, predicate func(MemRegion) bool) bool {
	ok := true
	m.tree.Ascend(func(it *regionItem) bool {
		if it.start >= needle.End() {
			return false
		}
		if it.end <= needle.Start {
			return true
		}
		if !predicate(m.region(it)) {
			ok = false
			return false
		}
		return true
	})
	return ok
}

// AllOverlappingRegionsHavePkey reports whether every region overlapping
// needle is owned by pkey. Vacuously true when nothing overlaps needle.
func (m *Map) AllOverlappingRegionsHavePkey(needle Range, pkey uint8) bool {
	return m.AllOverlappingRegions(needle, func(r MemRegion) bool {
		return r.State.OwnerPkey == pkey
	})
}

// AllOverlappingRegionsPkeyMprotected reports whether every region
// overlapping needle has been pkey_mprotect'd.
func (m *Map) AllOverlappingRegionsPkeyMprotected(needle Range) bool {
	return m.AllOverlappingRegions(needle, func(r MemRegion) bool {
		return r.State.PkeyMprotected
	})
}

// AllOverlappingRegionsMprotected reports whether every region
// overlapping needle has had its protection explicitly set.
func (m *Map) AllOverlappingRegionsMprotected(needle Range) bool {
	return m.AllOverlappingRegions(needle, func(r MemRegion) bool {
		return r.State.Mprotected
	})
}

// ContainsHoles reports whether needle is not fully covered by
// contiguous regions.
func (m *Map) ContainsHoles(needle Range) bool {
	needle = needle.roundTo4K()
	cursor := needle.Start
	hasHole := false
	m.tree.Ascend(func(it *regionItem) bool {
		if it.start >= needle.End() {
			return true
		}
		if it.end <= needle.Start {
			return true
		}
		start := it.start
		if start < cursor {
			start = cursor
		}
		if start > cursor {
			hasHole = true
			return false
		}
		end := it.end
		if end > cursor {
			cursor = end
		}
		return true
	})
	if cursor < needle.End() {
		hasHole = true
	}
	return hasHole
}

// SplitOutRegion removes exactly subrange from every region overlapping
// it, re-inserting any non-empty prefix/suffix remnants with unchanged
// state, and returns the removed slices (state unchanged, range clipped
// to subrange). This is the workhorse primitive behind Unmap, Mprotect,
// and PkeyMprotect.
func (m *Map) SplitOutRegion(subrange Range) []MemRegion {
	subrange = subrange.roundTo4K()
	var removed []MemRegion
	for {
		r, ok := m.FindOverlappingRegion(subrange)
		if !ok {
			break
		}
		if !m.removeExact(r.Range) {
			panic("memmap: located region vanished before removal")
		}

		if r.Range.Start < subrange.Start {
			before := Range{Start: r.Range.Start, Len: subrange.Start - r.Range.Start}
			m.AddRegion(before, r.State)
		}
		if r.Range.End() > subrange.End() {
			after := Range{Start: subrange.End(), Len: r.Range.End() - subrange.End()}
			m.AddRegion(after, r.State)
		}

		clipStart := r.Range.Start
		if clipStart < subrange.Start {
			clipStart = subrange.Start
		}
		clipEnd := r.Range.End()
		if clipEnd > subrange.End() {
			clipEnd = subrange.End()
		}
		removed = append(removed, MemRegion{
			Range: Range{Start: clipStart, Len: clipEnd - clipStart},
			State: r.State,
		})
	}
	return removed
}

// Unmap removes range from the map entirely; any trimmed remnants
// outside range are kept mapped by SplitOutRegion's reinsertion.
func (m *Map) Unmap(rng Range) bool {
	return len(m.SplitOutRegion(rng)) > 0
}

// PkeyMprotect validates and applies a pkey_mprotect over range,
// following the monotonicity policy: once init has finished, a region
// that is already pkey_mprotected, or whose owner is neither unclaimed
// nor the requesting pkey, refuses the call. During init, re-keying is
// always permitted.
func (m *Map) PkeyMprotect(rng Range, pkey uint8) bool {
	rng = rng.roundTo4K()
	if m.ContainsHoles(rng) {
		return false
	}
	if m.initFinished {
		allowed := m.AllOverlappingRegions(rng, func(r MemRegion) bool {
			if r.State.PkeyMprotected {
				return false
			}
			if r.State.OwnerPkey != 0 && r.State.OwnerPkey != pkey {
				return false
			}
			return true
		})
		if !allowed {
			return false
		}
	}
	pieces := m.SplitOutRegion(rng)
	for _, piece := range pieces {
		st := piece.State
		st.PkeyMprotected = true
		if st.OwnerPkey == 0 || !m.initFinished {
			st.OwnerPkey = pkey
		}
		m.AddRegion(piece.Range, st)
	}
	return true
}

// Mprotect validates and applies an mprotect over range. Re-protecting an
// already-mprotected region after init has finished is permitted but
// logged as a diagnostic, not treated as a policy violation.
func (m *Map) Mprotect(rng Range, prot uint32) bool {
	rng = rng.roundTo4K()
	if m.ContainsHoles(rng) {
		return false
	}
	pieces := m.SplitOutRegion(rng)
	for _, piece := range pieces {
		st := piece.State
		if st.Mprotected && m.initFinished {
			fmt.Fprintf(os.Stderr, "memmap: warning: reprotecting already-mprotected region %+v (prot %#x => %#x)\n",
				piece.Range, st.Prot, prot)
		}
		st.Mprotected = true
		st.Prot = prot
		m.AddRegion(piece.Range, st)
	}
	return true
}

// RegionGetProt returns the protection bits common to every region
// overlapping needle, or ProtIndeterminate if those regions differ or
// none overlaps needle. Unmapped gaps inside needle are not considered.
func (m *Map) RegionGetProt(needle Range) uint32 {
	var prot uint32
	seen := false
	uniform := m.AllOverlappingRegions(needle, func(r MemRegion) bool {
		if !seen {
			prot = r.State.Prot
			seen = true
			return true
		}
		return prot == r.State.Prot
	})
	if uniform && seen {
		return prot
	}
	return ProtIndeterminate
}

// RegionGetOwnerPkey returns the pkey that covers needle, or PkeyMultiple
// / PkeyNone if the range isn't owned by exactly one key.
func (m *Map) RegionGetOwnerPkey(needle Range) uint8 {
	var pkey uint8
	seen := false
	uniform := m.AllOverlappingRegions(needle, func(r MemRegion) bool {
		if !seen {
			pkey = r.State.OwnerPkey
			seen = true
			return true
		}
		return pkey == r.State.OwnerPkey
	})
	if !uniform {
		return PkeyMultiple
	}
	if !seen {
		return PkeyNone
	}
	return pkey
}

// Clear empties the map and resets init_finished.
func (m *Map) Clear() {
	m.tree.Clear(false)
	m.initFinished = false
}

// Clone returns a deep copy of m, used by the tracer to snapshot before a
// syscall that might need to be rolled back.
func (m *Map) Clone() *Map {
	clone := &Map{tree: m.tree.Clone(), initFinished: m.initFinished}
	return clone
}

// MarkInitFinished flips init_finished to true, returning false if it was
// already set.
func (m *Map) MarkInitFinished() bool {
	if m.initFinished {
		return false
	}
	m.initFinished = true
	return true
}

// IsInitFinished reports the current value of init_finished.
func (m *Map) IsInitFinished() bool {
	return m.initFinished
}

// Dump writes a human-readable listing of every region to w, in start
// order.
func (m *Map) Dump(w *os.File) {
	m.tree.Ascend(func(it *regionItem) bool {
		fmt.Fprintf(w, "[%#x, %#x) owner=%d pkey_mprotected=%v mprotected=%v prot=%#x\n",
			it.start, it.end, it.state.OwnerPkey, it.state.PkeyMprotected, it.state.Mprotected, it.state.Prot)
		return true
	})
}
