package segwalk

// AddrRange is a half-open byte range [Start, End) of virtual memory.
// Unlike memmap.Range (which tracks page-rounded, tree-indexed regions),
// this type only needs to support the containment, intersection, and
// subtraction tests the walker performs against a handful of ignore
// ranges per segment.
type AddrRange struct {
	Start, End uintptr
}

// Len returns the number of bytes spanned by r.
func (r AddrRange) Len() uintptr {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Intersects reports whether r and other share at least one byte.
func (r AddrRange) Intersects(other AddrRange) bool {
	return r.Start < other.End && r.End > other.Start
}

// Contains reports whether r fully subsumes other.
func (r AddrRange) Contains(other AddrRange) bool {
	return r.Start <= other.Start && r.End >= other.End
}

// ContainsAddr reports whether addr falls inside r.
func (r AddrRange) ContainsAddr(addr uintptr) bool {
	return addr >= r.Start && addr < r.End
}

// Intersect returns the intersection of r and other, or the zero
// (empty) range when they don't overlap.
func (r AddrRange) Intersect(other AddrRange) AddrRange {
	start := r.Start
	if other.Start > start {
		start = other.Start
	}
	end := r.End
	if other.End < end {
		end = other.End
	}
	if end <= start {
		return AddrRange{}
	}
	return AddrRange{Start: start, End: end}
}

// Subtract removes other from r, returning the surviving remnants in
// address order: a strictly interior other splits r into a prefix and a
// suffix; an other overlapping only one edge shortens r; an other that
// subsumes r leaves nothing. If the two don't intersect, r survives
// unchanged.
func (r AddrRange) Subtract(other AddrRange) []AddrRange {
	if !r.Intersects(other) {
		return []AddrRange{r}
	}
	var out []AddrRange
	if r.Start < other.Start {
		out = append(out, AddrRange{Start: r.Start, End: other.Start})
	}
	if r.End > other.End {
		out = append(out, AddrRange{Start: other.End, End: r.End})
	}
	return out
}

// RangeSet is a collection of address ranges. The walker uses one for
// the ignore ranges it subtracts from every segment; an allocator uses
// the same set as its shared-vs-private predicate for pointers crossing
// a compartment boundary (a pointer inside a shared range may be handed
// across without re-tagging).
type RangeSet []AddrRange

// ContainsAddr reports whether addr falls inside any range in the set.
func (s RangeSet) ContainsAddr(addr uintptr) bool {
	for _, r := range s {
		if r.ContainsAddr(addr) {
			return true
		}
	}
	return false
}

// subtractIgnore removes ignore from every range in ranges.
func subtractIgnore(ranges []AddrRange, ignore AddrRange) []AddrRange {
	result := make([]AddrRange, 0, len(ranges))
	for _, r := range ranges {
		result = append(result, r.Subtract(ignore)...)
	}
	return result
}

// SubtractAll runs subtractIgnore once per ignore range, in order,
// against the running result set: each ignore range is applied to the
// output of the previous one.
func SubtractAll(ranges []AddrRange, ignores []AddrRange) []AddrRange {
	for _, ig := range ignores {
		ranges = subtractIgnore(ranges, ig)
	}
	return ranges
}

func roundDown(v uintptr, page uintptr) uintptr {
	return v &^ (page - 1)
}

func roundUp(v uintptr, page uintptr) uintptr {
	return roundDown(v+page-1, page)
}

// RoundTo4K rounds r's start down and end up to 4 KiB page boundaries.
func (r AddrRange) RoundTo4K() AddrRange {
	const page = 4096
	return AddrRange{Start: roundDown(r.Start, page), End: roundUp(r.End, page)}
}
