//go:build linux && amd64

package tracer

import (
	"fmt"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"mpkcompart/memmap"
)

func rangeOf(addr, length uintptr) memmap.Range {
	return memmap.Range{Start: addr, Len: length}
}

// linux/amd64 syscall numbers this demonstration harness recognizes.
const (
	sysMmap         = 9
	sysMunmap       = 11
	sysMprotect     = 10
	sysPkeyMprotect = 329
)

// StubProcess is a traced child process used to demonstrate wiring
// Policy's decisions to a real PTRACE_SYSCALL loop. It is modeled on the
// attach/PTRACE_SYSCALL-loop/inspect-registers shape of gVisor's
// pkg/sentry/platform/ptrace attachedThread, but forks the child with the
// standard library's os/exec SysProcAttr{Ptrace: true} rather than
// reproducing gVisor's own clone-based forkStub and seccomp-filter
// install, which are out of scope for a demonstration harness (see
// DESIGN.md).
type StubProcess struct {
	cmd    *exec.Cmd
	policy *Policy
}

// StartStub forks and PTRACE_TRACEME's argv, stopping it at its initial
// exec-stop, with decisions about mmap/munmap/mprotect/pkey_mprotect
// syscalls routed through policy.
func StartStub(policy *Policy, argv ...string) (*StubProcess, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("tracer: StartStub requires at least a program path")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("tracer: starting stub: %w", err)
	}

	var ws unix.WaitStatus
	if _, err := unix.Wait4(cmd.Process.Pid, &ws, 0, nil); err != nil {
		return nil, fmt.Errorf("tracer: waiting for initial exec-stop: %w", err)
	}
	if err := unix.PtraceSetOptions(cmd.Process.Pid, unix.PTRACE_O_TRACESYSGOOD); err != nil {
		return nil, fmt.Errorf("tracer: PtraceSetOptions: %w", err)
	}
	return &StubProcess{cmd: cmd, policy: policy}, nil
}

// Pid returns the traced child's process id.
func (s *StubProcess) Pid() int {
	return s.cmd.Process.Pid
}

// Run drives the PTRACE_SYSCALL loop to completion, consulting policy on
// syscall-entry for the subset of syscalls this harness recognizes. A
// denied syscall has its number rewritten to an invalid one (-1) before
// it enters the kernel, and its return value set to -EPERM at the
// matching syscall-exit, exactly as a real tracer would reject a
// disallowed memory operation.
func (s *StubProcess) Run() error {
	pid := s.Pid()
	entering := true
	denied := false
	sig := 0
	for {
		if err := unix.PtraceSyscall(pid, sig); err != nil {
			return fmt.Errorf("tracer: PtraceSyscall: %w", err)
		}
		sig = 0
		var ws unix.WaitStatus
		if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
			return fmt.Errorf("tracer: Wait4: %w", err)
		}
		if ws.Exited() {
			return nil
		}
		if !ws.Stopped() || int(ws.StopSignal())&0x80 == 0 {
			// Not a syscall-stop (e.g. a genuine signal); forward it.
			if ws.Stopped() {
				sig = int(ws.StopSignal())
			}
			continue
		}

		if entering {
			var regs unix.PtraceRegs
			if err := unix.PtraceGetRegs(pid, &regs); err != nil {
				return fmt.Errorf("tracer: PtraceGetRegs: %w", err)
			}
			if !s.evaluate(&regs) {
				regs.Orig_rax = ^uint64(0)
				if err := unix.PtraceSetRegs(pid, &regs); err != nil {
					return fmt.Errorf("tracer: PtraceSetRegs: %w", err)
				}
				denied = true
			}
		} else if denied {
			var regs unix.PtraceRegs
			if err := unix.PtraceGetRegs(pid, &regs); err != nil {
				return fmt.Errorf("tracer: PtraceGetRegs: %w", err)
			}
			regs.Rax = ^uint64(unix.EPERM) + 1
			if err := unix.PtraceSetRegs(pid, &regs); err != nil {
				return fmt.Errorf("tracer: PtraceSetRegs: %w", err)
			}
			denied = false
		}
		entering = !entering
	}
}

// evaluate inspects a syscall-entry's registers and asks Policy whether
// it should be allowed. Non-recognized syscalls are always allowed; this
// harness only demonstrates the wiring for the memory operations Policy
// covers.
func (s *StubProcess) evaluate(regs *unix.PtraceRegs) bool {
	switch regs.Orig_rax {
	case sysMmap:
		length := uintptr(regs.Rsi)
		prot := uint32(regs.Rdx)
		return s.policy.OnMmap(rangeOf(uintptr(regs.Rdi), length), prot, 0)
	case sysMunmap:
		return s.policy.OnMunmap(rangeOf(uintptr(regs.Rdi), uintptr(regs.Rsi)))
	case sysMprotect:
		return s.policy.OnMprotect(rangeOf(uintptr(regs.Rdi), uintptr(regs.Rsi)), uint32(regs.Rdx))
	case sysPkeyMprotect:
		return s.policy.OnPkeyMprotect(rangeOf(uintptr(regs.Rdi), uintptr(regs.Rsi)), uint8(regs.R10))
	default:
		return true
	}
}
