//go:build linux

package segwalk

import (
	"bufio"
	"debug/elf"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// selfProgramHeaders opens /proc/self/exe, parses its program headers
// with debug/elf, and computes the load bias from the first mapping of
// that file in /proc/self/maps (0 for ET_EXEC, the mmap base for
// ET_DYN/PIE binaries).
func selfProgramHeaders() (ProgramHeaders, error) {
	f, err := elf.Open("/proc/self/exe")
	if err != nil {
		return ProgramHeaders{}, fmt.Errorf("segwalk: open /proc/self/exe: %w", err)
	}
	defer f.Close()

	var bias uintptr
	if f.Type == elf.ET_DYN {
		bias, err = firstSelfMapBase()
		if err != nil {
			return ProgramHeaders{}, err
		}
	}

	progs := make([]elf.ProgHeader, len(f.Progs))
	for i, p := range f.Progs {
		progs[i] = p.ProgHeader
	}
	return ProgramHeaders{Bias: bias, Progs: progs}, nil
}

// firstSelfMapBase returns the lowest mapped address belonging to this
// process's own executable, read from /proc/self/maps.
func firstSelfMapBase() (uintptr, error) {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return 0, fmt.Errorf("segwalk: open /proc/self/maps: %w", err)
	}
	defer f.Close()

	exe, err := os.Readlink("/proc/self/exe")
	if err != nil {
		return 0, fmt.Errorf("segwalk: readlink /proc/self/exe: %w", err)
	}

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasSuffix(line, exe) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		addrs := strings.SplitN(fields[0], "-", 2)
		start, err := strconv.ParseUint(addrs[0], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("segwalk: parse maps entry %q: %w", line, err)
		}
		return uintptr(start), nil
	}
	return 0, fmt.Errorf("segwalk: executable %q not found in /proc/self/maps", exe)
}

// WalkSelf discovers the running process's own segments and
// pkey_mprotects the ones belonging to the object containing probe,
// using the real pkey_mprotect syscall.
func WalkSelf(probe uintptr, pkey int, ignore []AddrRange) error {
	ph, err := selfProgramHeaders()
	if err != nil {
		return err
	}
	return Walk(ph, probe, pkey, ignore, pkeyMprotectSyscall)
}
