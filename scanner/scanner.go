// Package scanner disassembles a range of executable code looking for
// WRPKRU, the instruction that changes the calling thread's PKRU and so
// is the one instruction untrusted compartment code must never be able
// to issue directly. It is a best-effort, demonstration-grade stand-in
// for build-time enforcement (verifying the toolchain never placed a
// wrpkru opcode outside the trusted runtime): a runtime scan a loader
// can run once over a compartment's code pages before first entry.
package scanner

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// wrpkruBytes is the raw three-byte encoding of WRPKRU: 0F 01 EF.
var wrpkruBytes = [3]byte{0x0f, 0x01, 0xef}

// Violation records one WRPKRU (or undecodable-but-byte-matching)
// instruction found in a scanned range. Inst is the zero value when
// x86asm could not decode the bytes.
type Violation struct {
	Offset int
	Inst   x86asm.Inst
}

// Scan decodes code as a sequence of amd64 instructions starting at
// offset 0, appending a Violation for every WRPKRU found. Bytes that
// don't decode as a valid instruction are still matched against the raw
// WRPKRU encoding; otherwise they are skipped one byte at a time, so a
// scan never aborts partway through a code page merely because it
// contains data or an instruction x86asm doesn't recognize.
func Scan(code []byte) []Violation {
	var violations []Violation
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil || inst.Len == 0 {
			if isWrpkru(code[off:]) {
				violations = append(violations, Violation{Offset: off})
				off += len(wrpkruBytes)
				continue
			}
			off++
			continue
		}
		if isWrpkru(code[off : off+inst.Len]) {
			violations = append(violations, Violation{Offset: off, Inst: inst})
		}
		off += inst.Len
	}
	return violations
}

func isWrpkru(raw []byte) bool {
	if len(raw) < len(wrpkruBytes) {
		return false
	}
	for i, b := range wrpkruBytes {
		if raw[i] != b {
			return false
		}
	}
	return true
}

// Forbid returns an error describing every WRPKRU found in code, or nil
// if none were found.
func Forbid(code []byte) error {
	violations := Scan(code)
	if len(violations) == 0 {
		return nil
	}
	return fmt.Errorf("scanner: found %d wrpkru instruction(s) in untrusted code, first at offset %#x",
		len(violations), violations[0].Offset)
}
