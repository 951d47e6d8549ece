//go:build linux && amd64

package integration

import (
	"encoding/binary"
	"os"
	"runtime"
	"testing"

	"mpkcompart/gate"
)

// TestCrasherHelper is not a real test: it's a re-exec target used by
// TestBasicIsolationSIGSEGV and TestCallbackRegateSIGSEGV to run a single
// gate crossing and a final, deliberately forbidden dereference in a
// disposable child process. It only does anything when
// GO_WANT_HELPER_PROCESS is set, following the standard library's own
// os/exec helper-process test pattern.
func TestCrasherHelper(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0) // only reached for an unrecognized HELPER_SCENARIO; each scenario exits non-zero itself if its crash doesn't happen

	switch os.Getenv("HELPER_SCENARIO") {
	case "basic_isolation":
		runBasicIsolationCrasher()
	case "callback_regate":
		runCallbackRegateCrasher()
	}
}

func runBasicIsolationCrasher() {
	runtime.LockOSThread()

	keyTrusted, err := pkeyAlloc()
	must(err)
	keyUntrusted, err := pkeyAlloc()
	must(err)

	pageA, err := mmapPage(keyTrusted)
	must(err)
	pageB, err := mmapPage(keyUntrusted)
	must(err)
	binary.LittleEndian.PutUint32(pageA, 0xA)
	binary.LittleEndian.PutUint32(pageB, 0xB)

	// Both pages are readable before any gate crossing: nothing has been
	// forbidden yet.
	if binary.LittleEndian.Uint32(pageA) != 0xA || binary.LittleEndian.Uint32(pageB) != 0xB {
		os.Exit(2)
	}

	if _, err := gate.Push(keyTrusted, keyUntrusted); err != nil {
		os.Exit(3)
	}

	// Now inside the untrusted compartment: B is still readable...
	if binary.LittleEndian.Uint32(pageB) != 0xB {
		os.Exit(4)
	}
	// ...but A must fault. If it doesn't, the isolation is broken; exit
	// with a distinguishing code instead of silently succeeding.
	_ = binary.LittleEndian.Uint32(pageA)
	os.Exit(5)
}

func runCallbackRegateCrasher() {
	runtime.LockOSThread()

	keyTrusted, err := pkeyAlloc()
	must(err)
	keyUntrusted, err := pkeyAlloc()
	must(err)

	pageT, err := mmapPage(keyTrusted)
	must(err)
	binary.LittleEndian.PutUint32(pageT, 0xC0FFEE)

	outer, err := gate.Push(keyTrusted, keyUntrusted)
	must(err)

	// Simulate an indirect call through a function pointer whose target
	// re-gates back into the trusted compartment.
	func() {
		inner, err := gate.Push(keyUntrusted, keyTrusted)
		must(err)
		defer inner.Pop()
		if binary.LittleEndian.Uint32(pageT) != 0xC0FFEE {
			os.Exit(2)
		}
	}()

	// Back in untrusted after the callback returns: the same dereference
	// must now fault again.
	_ = binary.LittleEndian.Uint32(pageT)
	_ = outer
	os.Exit(5)
}

func must(err error) {
	if err != nil {
		os.Exit(1)
	}
}
