//go:build linux && amd64

package compartment

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// linux/amd64 syscall numbers for pkey_alloc/pkey_free. Neither has a
// typed wrapper in golang.org/x/sys/unix, so they're issued directly,
// following the same raw Syscall convention segwalk uses for
// pkey_mprotect.
const (
	sysPkeyAlloc = 330
	sysPkeyFree  = 331
)

// pkeyAlloc allocates a new protection key with no access-rights
// restriction (flags=0, access_rights=0), returning the allocated key.
func pkeyAlloc() (int, error) {
	key, _, errno := unix.Syscall(sysPkeyAlloc, 0, 0, 0)
	if errno != 0 {
		return 0, fmt.Errorf("pkey_alloc: %w", errno)
	}
	return int(key), nil
}

// pkeyFree releases a protection key previously returned by pkeyAlloc.
func pkeyFree(key int) error {
	_, _, errno := unix.Syscall(sysPkeyFree, uintptr(key), 0, 0)
	if errno != 0 {
		return fmt.Errorf("pkey_free(%d): %w", key, errno)
	}
	return nil
}
