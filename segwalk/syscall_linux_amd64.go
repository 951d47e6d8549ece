//go:build linux && amd64

package segwalk

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// sysPkeyMprotect is the linux/amd64 syscall number for pkey_mprotect.
// golang.org/x/sys/unix does not expose a typed wrapper for it, so the
// walker issues the syscall directly, following the same
// unix.RawSyscall6/unix.Syscall6 convention the ptrace stub-forking code
// in the pack's gVisor sources uses for syscalls lacking a Go wrapper.
const sysPkeyMprotect = 329

// pkeyMprotectSyscall protects [addr, addr+length) with prot and tags it
// with pkey.
func pkeyMprotectSyscall(addr, length uintptr, prot uint32, pkey int) error {
	_, _, errno := unix.Syscall6(sysPkeyMprotect, addr, length, uintptr(prot), uintptr(pkey), 0, 0)
	if errno != 0 {
		return fmt.Errorf("pkey_mprotect(%#x, %#x, %#x, %d): %w", addr, length, prot, pkey, errno)
	}
	return nil
}
