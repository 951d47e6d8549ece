// Package compartment implements the compartment initializer: the
// operation that allocates a protection key for a slot, tags that
// compartment's ELF segments with it, and publishes the key in the
// process-wide key-slot table.
package compartment

import (
	"fmt"
	"os"

	"mpkcompart/initdata"
	"mpkcompart/segwalk"
)

var errOut = os.Stderr

// Table is the process-wide key-slot table, backed by the page-aligned
// init-data section.
type Table struct {
	section *initdata.Section
}

// New allocates a fresh, all-Uninitialized key-slot table.
func New() (*Table, error) {
	section, err := initdata.New()
	if err != nil {
		return nil, err
	}
	return &Table{section: section}, nil
}

// Key returns the protection key currently published in slot idx, or one
// of initdata.Uninitialized/initdata.Unsupported.
func (t *Table) Key(idx int) int32 {
	return t.section.Load(idx)
}

// Init brings up the compartment registered in slot idx: idempotent
// on an already-initialized slot, allocates a new protection key,
// publishes it into the slot, walks the compartment's own ELF segments
// tagging them with the key, and restores the init-data page to
// read-only. ignore lists page-aligned ranges (typically the init-data
// page itself, and any other process-wide shared state) that must not be
// pkey_mprotected along with the rest of the compartment's segments.
//
// If the host cannot allocate a protection key, the slot is published as
// Unsupported and every later Init of it fails rather than silently
// running without isolation.
func (t *Table) Init(idx int, probe uintptr, ignore segwalk.RangeSet) error {
	switch cur := t.section.Load(idx); {
	case cur >= 0:
		return nil
	case cur == initdata.Unsupported:
		return fmt.Errorf("compartment: slot %d: protection keys unsupported on this host", idx)
	}

	if err := t.section.MakeWritable(); err != nil {
		return err
	}
	defer func() {
		if err := t.section.MakeReadOnly(); err != nil {
			fmt.Fprintf(errOut, "compartment: failed to restore init-data to read-only: %v\n", err)
		}
	}()

	key, err := pkeyAlloc()
	if err != nil {
		t.section.CompareAndSwap(idx, initdata.Uninitialized, initdata.Unsupported)
		return fmt.Errorf("compartment: slot %d: %w", idx, err)
	}
	newKey := int32(key)

	if !t.section.CompareAndSwap(idx, initdata.Uninitialized, newKey) {
		if err := pkeyFree(key); err != nil {
			fmt.Fprintf(errOut, "compartment: slot %d: releasing losing key %d: %v\n", idx, key, err)
		}
		return nil
	}

	if err := segwalk.WalkSelf(probe, key, ignore); err != nil {
		return fmt.Errorf("compartment: slot %d: walking segments for key %d: %w", idx, key, err)
	}
	return nil
}
