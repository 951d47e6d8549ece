// Package gate implements the call-gate primitives that cross a
// compartment boundary: gate_push saves the calling thread's PKRU,
// forbids all access (reads and writes) through the caller's key, allows
// full access through the callee's key, and installs the new PKRU;
// gate_pop reverses it by
// restoring the saved value. Each OS thread owns its own fixed-capacity
// stack of saved PKRU words, kept behind a small locked map from thread
// id to the owning stack.
package gate

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"mpkcompart/internal/scrub"
	"mpkcompart/pkru"
)

// StackCapacity is the number of saved PKRU words a thread's gate stack
// can hold: one page's worth of 4-byte words.
const StackCapacity = PageSize / 4

// PageSize is the size of the mmap'd page backing each thread's stack.
const PageSize = 4096

type threadStack struct {
	mem []byte
	top int
}

func newThreadStack() (*threadStack, error) {
	mem, err := unix.Mmap(-1, 0, PageSize, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("gate: mmap thread stack: %w", err)
	}
	// Protection key 0 is the default, always-valid key; pkey_mprotect'ing
	// the stack with it (rather than leaving it an ordinary anonymous
	// mapping) keeps the saved PKRU words out of reach of any compartment
	// currently holding write-forbid on key 0.
	if err := pkeyMprotect(mem, 0); err != nil {
		unix.Munmap(mem)
		return nil, err
	}
	return &threadStack{mem: mem}, nil
}

func (s *threadStack) slot(i int) *uint32 {
	return wordAt(s.mem, i)
}

func (s *threadStack) push(v pkru.PKRU) {
	if s.top >= StackCapacity {
		panic("gate: PKRU stack overflow")
	}
	*s.slot(s.top) = uint32(v)
	s.top++
}

func (s *threadStack) pop() pkru.PKRU {
	if s.top == 0 {
		panic("gate: PKRU stack underflow")
	}
	s.top--
	return pkru.PKRU(*s.slot(s.top))
}

var (
	stacksMu sync.Mutex
	stacks   = map[int]*threadStack{}
)

func currentThreadStack() (*threadStack, error) {
	tid := unix.Gettid()
	stacksMu.Lock()
	defer stacksMu.Unlock()
	st, ok := stacks[tid]
	if ok {
		return st, nil
	}
	st, err := newThreadStack()
	if err != nil {
		return nil, err
	}
	stacks[tid] = st
	return st, nil
}

// Token identifies an in-flight gate crossing. It must be popped on the
// same OS thread that produced it.
type Token struct {
	tid int
}

// Push performs a gate crossing from a compartment holding callerKey into
// one holding calleeKey (either may be the trusted key 0). It loads the
// current PKRU, saves it on the calling thread's stack (fail-stopping on
// overflow), forbids all access through callerKey, allows full access
// through calleeKey, installs the result, and then scrubs caller-save
// registers.
//
// Callers must have called runtime.LockOSThread before Push and keep the
// thread locked until the matching Pop: the saved PKRU lives on a
// per-OS-thread stack, and the Go scheduler migrating the goroutine to a
// different thread between Push and Pop would corrupt that invariant.
func Push(callerKey, calleeKey int) (Token, error) {
	cur, err := pkru.Load()
	if err != nil {
		return Token{}, err
	}
	st, err := currentThreadStack()
	if err != nil {
		return Token{}, err
	}
	st.push(cur)

	next := cur.ForbidAccess(callerKey).AllowAccess(calleeKey)
	if err := next.Store(); err != nil {
		st.pop()
		return Token{}, err
	}
	scrub.CallerSaved()
	return Token{tid: unix.Gettid()}, nil
}

// Pop restores the PKRU saved by the matching Push. It fail-stops
// (panics) on an empty stack, and on a token produced on a different OS
// thread.
func (t Token) Pop() error {
	if got := unix.Gettid(); got != t.tid {
		panic(fmt.Sprintf("gate: Pop on thread %d for a token pushed on thread %d", got, t.tid))
	}
	st, err := currentThreadStack()
	if err != nil {
		return err
	}
	prev := st.pop()
	return prev.Store()
}
