//go:build linux && amd64

package gate

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const sysPkeyMprotect = 329

// pkeyMprotect tags mem (already PROT_READ|PROT_WRITE) with pkey. pkey 0
// is always valid, regardless of whether the host CPU implements MPK.
func pkeyMprotect(mem []byte, pkey int) error {
	addr := uintptr(unsafe.Pointer(&mem[0]))
	_, _, errno := unix.Syscall6(sysPkeyMprotect, addr, uintptr(len(mem)),
		unix.PROT_READ|unix.PROT_WRITE, uintptr(pkey), 0, 0)
	if errno != 0 {
		return fmt.Errorf("gate: pkey_mprotect(%#x, %d, pkey=%d): %w", addr, len(mem), pkey, errno)
	}
	return nil
}

// wordAt returns a pointer to the i'th 4-byte word of mem.
func wordAt(mem []byte, i int) *uint32 {
	return (*uint32)(unsafe.Add(unsafe.Pointer(&mem[0]), i*4))
}
