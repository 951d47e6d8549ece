//go:build linux && amd64

package tracer

import (
	"testing"

	"mpkcompart/memmap"
)

func TestStubProcessRunsToCompletion(t *testing.T) {
	policy := New(memmap.New())
	stub, err := StartStub(policy, "/bin/true")
	if err != nil {
		t.Skipf("ptrace unavailable in this environment: %v", err)
	}
	if err := stub.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
