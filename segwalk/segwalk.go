// Package segwalk discovers which ELF loadable segments belong to a
// compartment and tags their pages with that compartment's protection
// key. It plays the role a C toolchain gives a dl_iterate_phdr callback:
// find the LOAD segment containing a caller-supplied probe address, then
// pkey_mprotect every LOAD/GNU_RELRO segment of that object except the
// ranges callers ask to be left alone.
//
// Go binaries don't expose dl_iterate_phdr without cgo, so this package
// parses the running executable's program headers with the standard
// library's debug/elf instead.
package segwalk

import (
	"debug/elf"
	"fmt"
)

// Prot bits, matching the host PROT_* constants this package translates
// ELF p_flags into.
const (
	ProtNone  = 0
	ProtRead  = 1 << 0
	ProtWrite = 1 << 1
	ProtExec  = 1 << 2
)

// Segment is one LOAD or GNU_RELRO program header, translated into a
// virtual address range and host protection bits.
type Segment struct {
	Range AddrRange
	Prot  uint32
}

// elfFlagsToProt translates ELF p_flags (bit 0 = exec, bit 1 = write, bit
// 2 = read) into the host PROT_* bit layout.
func elfFlagsToProt(flags elf.ProgFlag) uint32 {
	var prot uint32
	if flags&elf.PF_X != 0 {
		prot |= ProtExec
	}
	if flags&elf.PF_W != 0 {
		prot |= ProtWrite
	}
	if flags&elf.PF_R != 0 {
		prot |= ProtRead
	}
	return prot
}

// ProgramHeaders is the subset of a parsed ELF file the walker needs: the
// list of program headers and the load bias (0 for non-PIE executables,
// the mmap base for PIE/shared objects).
type ProgramHeaders struct {
	Bias  uintptr
	Progs []elf.ProgHeader
}

// segments collects every LOAD/GNU_RELRO program header into an owned
// slice of Segment before any protection call is issued. The walker must
// not dereference the phdr table after it has pkey_mprotect'd the
// phdr's own page, so all segments are captured up front.
func (ph ProgramHeaders) segments() []Segment {
	var segs []Segment
	for _, p := range ph.Progs {
		if p.Type != elf.PT_LOAD && p.Type != elf.PT_GNU_RELRO {
			continue
		}
		start := ph.Bias + uintptr(p.Vaddr)
		end := start + uintptr(p.Memsz)
		segs = append(segs, Segment{
			Range: AddrRange{Start: start, End: end},
			Prot:  elfFlagsToProt(p.Flags),
		})
	}
	return segs
}

// containsProbe reports whether any LOAD segment in ph contains probe.
// Only PT_LOAD segments participate in this test; GNU_RELRO headers
// alias pages a LOAD already covers.
func (ph ProgramHeaders) containsProbe(probe uintptr) bool {
	for _, p := range ph.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		start := ph.Bias + uintptr(p.Vaddr)
		end := start + uintptr(p.Memsz)
		if probe >= start && probe < end {
			return true
		}
	}
	return false
}

// ProtectFunc issues pkey_mprotect(addr, len, prot, pkey) against the
// live process. Production callers pass a function backed by a raw
// syscall (see pkeyMprotectSyscall, used by WalkSelf); tests pass a
// recording stub.
type ProtectFunc func(addr, length uintptr, prot uint32, pkey int) error

// Walk walks ph looking for the object containing probe. If found, it
// pkey_mprotects every LOAD/GNU_RELRO segment of that object with pkey,
// after subtracting ignore from each segment's range. If probe is not
// contained in any LOAD segment, Walk returns nil without calling
// protect — the loader convention this mirrors continues iterating
// other objects in that case.
func Walk(ph ProgramHeaders, probe uintptr, pkey int, ignore []AddrRange, protect ProtectFunc) error {
	if !ph.containsProbe(probe) {
		return nil
	}
	assertIgnoreRangesPageAligned(ignore)

	for _, seg := range ph.segments() {
		pieces := SubtractAll([]AddrRange{seg.Range}, ignore)
		for _, piece := range pieces {
			rounded := piece.RoundTo4K()
			if rounded.Len() == 0 {
				continue
			}
			if err := protect(rounded.Start, rounded.Len(), seg.Prot, pkey); err != nil {
				return fmt.Errorf("segwalk: pkey_mprotect %#x+%#x: %w", rounded.Start, rounded.Len(), err)
			}
		}
	}
	return nil
}

// assertIgnoreRangesPageAligned panics if any ignore range isn't
// page-aligned and page-padded. A misaligned ignore range would leave
// part of a shared page tagged with a compartment's exclusive key, so
// the walker refuses to proceed rather than silently misbehave.
func assertIgnoreRangesPageAligned(ignore []AddrRange) {
	const page = 4096
	for _, r := range ignore {
		if r.Start%page != 0 || r.End%page != 0 {
			panic(fmt.Sprintf("segwalk: ignore range %#x-%#x is not page-aligned", r.Start, r.End))
		}
	}
}
