// Package pkru abstracts the per-thread PKRU register that gates read and
// write access to pages tagged with a protection key. It exposes the
// register as a plain value type so callers can save, mutate, and restore
// it without touching assembly directly.
package pkru

import "errors"

// ErrUnsupported is returned by Load and Store when the running process is
// not on amd64/linux. On amd64/linux, Load and Store do not check whether
// the CPU has the PKU feature: they issue rdpkru/wrpkru directly, which
// fault on a CPU without it.
var ErrUnsupported = errors.New("pkru: protection keys not supported on this platform")

// MaxKey is the highest protection key index a PKRU word can describe.
const MaxKey = 15

// PKRU is the 32-bit value of the x86 PKRU register. Bits [2k, 2k+1]
// encode {access-disable, write-disable} for key k.
type PKRU uint32

func readMask(key int) uint32 {
	return 1 << (2 * uint(key))
}

func writeMask(key int) uint32 {
	return 2 << (2 * uint(key))
}

// CanRead reports whether key is permitted to be read under this PKRU
// value. A clear bit means the access is allowed.
func (p PKRU) CanRead(key int) bool {
	return uint32(p)&readMask(key) == 0
}

// CanWrite reports whether key is permitted to be written under this PKRU
// value.
func (p PKRU) CanWrite(key int) bool {
	return uint32(p)&writeMask(key) == 0
}

// AllowWrite clears the write-disable bit for key, permitting writes to
// pages tagged with it.
func (p PKRU) AllowWrite(key int) PKRU {
	return p &^ PKRU(writeMask(key))
}

// ForbidWrite sets the write-disable bit for key, forbidding writes to
// pages tagged with it.
func (p PKRU) ForbidWrite(key int) PKRU {
	return p | PKRU(writeMask(key))
}

// ForbidAccess sets both the access-disable and write-disable bits for
// key, forbidding all access, reads included, to pages tagged with it.
// Gate crossings use this rather than ForbidWrite alone: full isolation
// between mutually distrusting compartments requires that an untrusted
// read of trusted memory fault, which only the access-disable bit
// delivers.
func (p PKRU) ForbidAccess(key int) PKRU {
	return p | PKRU(readMask(key)) | PKRU(writeMask(key))
}

// AllowAccess clears both the access-disable and write-disable bits for
// key, permitting full read/write access to pages tagged with it.
func (p PKRU) AllowAccess(key int) PKRU {
	return p &^ PKRU(readMask(key)) &^ PKRU(writeMask(key))
}
