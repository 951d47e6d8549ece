// Package tracer implements the syscall-tracer policy: the predicate
// surface a syscall interceptor consults before letting an mmap, munmap,
// mprotect, or pkey_mprotect complete. Every decision clones the memory
// map first, evaluates the would-be effect against the clone, and either
// commits the clone back or discards it — giving the caller an atomic
// allow/deny without ever leaving the shadow map in a half-applied state.
package tracer

import "mpkcompart/memmap"

// Policy wraps a memory-map shadow and answers whether a given syscall
// should be allowed to complete.
type Policy struct {
	shadow *memmap.Map
}

// New wraps shadow in a Policy. Policy takes no lock of its own: shadow
// must not be mutated by any other caller concurrently with Policy's
// methods, and Policy's methods must not be called concurrently.
func New(shadow *memmap.Map) *Policy {
	return &Policy{shadow: shadow}
}

// Shadow returns the underlying memory-map shadow.
func (p *Policy) Shadow() *memmap.Map {
	return p.shadow
}

// OnMmap validates and, if allowed, applies a new mapping of range with
// the given protection and owner pkey (0 if unowned). It refuses to
// commit a range that already overlaps a tracked region.
func (p *Policy) OnMmap(rng memmap.Range, prot uint32, ownerPkey uint8) bool {
	clone := p.shadow.Clone()
	if !clone.AddRegion(rng, memmap.State{Prot: prot, OwnerPkey: ownerPkey}) {
		return false
	}
	*p.shadow = *clone
	return true
}

// OnMunmap validates and, if allowed, removes range from the shadow.
func (p *Policy) OnMunmap(rng memmap.Range) bool {
	clone := p.shadow.Clone()
	if !clone.Unmap(rng) {
		return false
	}
	*p.shadow = *clone
	return true
}

// OnMprotect validates and, if allowed, applies a protection change over
// range.
func (p *Policy) OnMprotect(rng memmap.Range, prot uint32) bool {
	clone := p.shadow.Clone()
	if !clone.Mprotect(rng, prot) {
		return false
	}
	*p.shadow = *clone
	return true
}

// OnPkeyMprotect validates and, if allowed, applies a pkey_mprotect over
// range, enforcing the monotonicity policy in memmap.Map.PkeyMprotect.
func (p *Policy) OnPkeyMprotect(rng memmap.Range, pkey uint8) bool {
	clone := p.shadow.Clone()
	if !clone.PkeyMprotect(rng, pkey) {
		return false
	}
	*p.shadow = *clone
	return true
}
