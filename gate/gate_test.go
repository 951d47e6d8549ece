//go:build linux && amd64

package gate

import (
	"runtime"
	"testing"

	"golang.org/x/sys/unix"

	"mpkcompart/pkru"
)

func TestPushPopRestoresPKRU(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	before, err := pkru.Load()
	if err != nil {
		t.Skipf("PKRU unavailable: %v", err)
	}

	tok, err := Push(1, 2)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	mid, err := pkru.Load()
	if err != nil {
		t.Fatalf("Load after Push: %v", err)
	}
	if mid.CanWrite(1) || mid.CanRead(1) {
		t.Fatal("caller key should be fully access-forbidden after Push")
	}
	if !mid.CanWrite(2) || !mid.CanRead(2) {
		t.Fatal("callee key should be fully access-allowed after Push")
	}

	if err := tok.Pop(); err != nil {
		t.Fatalf("Pop: %v", err)
	}
	after, err := pkru.Load()
	if err != nil {
		t.Fatalf("Load after Pop: %v", err)
	}
	if after != before {
		t.Fatalf("Pop should restore the pre-Push PKRU: before=%#x after=%#x", before, after)
	}
}

func TestPopOnEmptyStackPanics(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if _, err := pkru.Load(); err != nil {
		t.Skipf("PKRU unavailable: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic popping an empty stack")
		}
	}()
	Token{tid: unix.Gettid()}.Pop()
}

func TestPopOnWrongThreadPanics(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if _, err := pkru.Load(); err != nil {
		t.Skipf("PKRU unavailable: %v", err)
	}

	tok, err := Push(0, 0)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	defer tok.Pop()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic popping a token on the wrong thread")
		}
	}()
	Token{tid: tok.tid + 1}.Pop()
}
