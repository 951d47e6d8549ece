//go:build linux && amd64

// Package integration exercises the six end-to-end scenarios from the
// tracked testable-properties list against the real pkru/gate/memmap/
// typeregistry stack, rather than any single package in isolation.
package integration

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func pointerOf(mem []byte) unsafe.Pointer {
	return unsafe.Pointer(&mem[0])
}

const (
	sysPkeyAlloc    = 330
	sysPkeyFree     = 331
	sysPkeyMprotect = 329
)

func pkeyAlloc() (int, error) {
	key, _, errno := unix.Syscall(sysPkeyAlloc, 0, 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return int(key), nil
}

func pkeyFree(key int) error {
	_, _, errno := unix.Syscall(sysPkeyFree, uintptr(key), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func pkuSupported() bool {
	key, err := pkeyAlloc()
	if err != nil {
		return false
	}
	pkeyFree(key)
	return true
}

// mmapPage allocates one anonymous read/write page tagged with pkey.
func mmapPage(pkey int) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, 4096, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, err
	}
	addr := uintptr(pointerOf(mem))
	_, _, errno := unix.Syscall6(sysPkeyMprotect, addr, uintptr(len(mem)),
		unix.PROT_READ|unix.PROT_WRITE, uintptr(pkey), 0, 0)
	if errno != 0 {
		unix.Munmap(mem)
		return nil, errno
	}
	return mem, nil
}
