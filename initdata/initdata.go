// Package initdata implements the page-aligned, exactly-page-sized
// section that carries the process-wide key-slot table. C toolchains
// place such a table between linker-emitted
// __start_ia2_init_data/__stop_ia2_init_data symbols and mprotect that
// single page read-only once initialization of a slot finishes. Go's
// linker exposes no equivalent section symbols, so this package
// allocates its own anonymous page with mmap and tracks its bounds
// explicitly, preserving the invariants (exactly one page, page-aligned,
// writable only mid-init) without the linker mechanism.
package initdata

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PageSize is the size of a single page on the platforms this module
// targets.
const PageSize = 4096

// NumSlots is the number of compartment key slots. Slot 0 is reserved for
// "default / untrusted / unassigned".
const NumSlots = 16

// Sentinel values for a key slot that has not yet been initialized, or
// whose compartment key could not be allocated.
const (
	Uninitialized int32 = -2
	Unsupported   int32 = -1
)

// Section is the page-aligned, page-sized table of per-compartment keys.
// It is writable only while a compartment's Init is in flight and
// read-only the rest of the time.
type Section struct {
	mem []byte
}

// New allocates the init-data page and marks all slots Uninitialized. The
// returned Section is read-only until MakeWritable is called.
func New() (*Section, error) {
	mem, err := unix.Mmap(-1, 0, PageSize, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("initdata: mmap init-data page: %w", err)
	}
	if uintptr(unsafe.Pointer(&mem[0]))%PageSize != 0 {
		panic("initdata: mmap returned a non-page-aligned address")
	}
	if len(mem) != PageSize {
		panic("initdata: init-data span is not exactly one page")
	}
	s := &Section{mem: mem}
	for i := 0; i < NumSlots; i++ {
		s.slot(i).store(Uninitialized)
	}
	if err := s.MakeReadOnly(); err != nil {
		return nil, err
	}
	return s, nil
}

// atomicSlot32 is a thin handle onto one 4-byte, naturally-aligned slot
// inside the mmap'd page, manipulated with the sync/atomic int32 ops.
type atomicSlot32 struct {
	p *int32
}

func (s *Section) slot(i int) atomicSlot32 {
	if i < 0 || i >= NumSlots {
		panic("initdata: slot index out of range")
	}
	base := unsafe.Pointer(&s.mem[0])
	return atomicSlot32{p: (*int32)(unsafe.Add(base, i*4))}
}

func (a atomicSlot32) load() int32 {
	return atomic.LoadInt32(a.p)
}

func (a atomicSlot32) store(v int32) {
	atomic.StoreInt32(a.p, v)
}

func (a atomicSlot32) compareAndSwap(old, new int32) bool {
	return atomic.CompareAndSwapInt32(a.p, old, new)
}

// Load returns the current key stored in slot i (acquire semantics via
// the platform's atomic load).
func (s *Section) Load(i int) int32 {
	return s.slot(i).load()
}

// Store records key as the owner of slot i (release semantics).
func (s *Section) Store(i int, key int32) {
	s.slot(i).store(key)
}

// CompareAndSwap attempts to move slot i from old to new, returning
// whether it succeeded. Used by Init to arbitrate concurrent first-time
// initializers of the same slot.
func (s *Section) CompareAndSwap(i int, old, new int32) bool {
	return s.slot(i).compareAndSwap(old, new)
}

// MakeWritable mprotects the init-data page PROT_READ|PROT_WRITE for the
// duration of an active Init call.
func (s *Section) MakeWritable() error {
	if err := unix.Mprotect(s.mem, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("initdata: mprotect rw: %w", err)
	}
	return nil
}

// MakeReadOnly mprotects the init-data page back to PROT_READ once a slot
// finishes initializing. Invariant: whenever no compartment is currently
// initializing, the section is mapped read-only.
func (s *Section) MakeReadOnly() error {
	if err := unix.Mprotect(s.mem, unix.PROT_READ); err != nil {
		return fmt.Errorf("initdata: mprotect ro: %w", err)
	}
	return nil
}

// Bounds returns the start and end address of the init-data page, the Go
// analogue of __start_ia2_init_data/__stop_ia2_init_data.
func (s *Section) Bounds() (start, end uintptr) {
	start = uintptr(unsafe.Pointer(&s.mem[0]))
	return start, start + PageSize
}
