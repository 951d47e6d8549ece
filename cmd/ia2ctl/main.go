// Command ia2ctl is a small end-to-end smoke-test harness: it brings up a
// Runtime, initializes one compartment against the running process's own
// segments, flips the memory map to init_finished, and dumps the shadow
// map. Init tags pages with pkey_mprotect directly and does not record
// them in the shadow map, so the dump lists only regions added through
// the tracer policy, of which this binary adds none.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"unsafe"

	"mpkcompart/ia2rt"
)

var sentinel int

func main() {
	slot := flag.Int("slot", 1, "key-slot index to initialize")
	flag.Parse()

	rt, err := ia2rt.New()
	if err != nil {
		log.Fatalf("ia2ctl: %v", err)
	}

	probe := uintptr(unsafe.Pointer(&sentinel))

	if err := rt.Slots.Init(*slot, probe, nil); err != nil {
		log.Fatalf("ia2ctl: initializing slot %d: %v", *slot, err)
	}
	fmt.Printf("slot %d initialized with key %d\n", *slot, rt.Slots.Key(*slot))

	if !rt.MarkInitFinished() {
		log.Fatal("ia2ctl: init_finished was already set")
	}

	rt.Shadow.Dump(os.Stdout)
	rt.Shutdown()
}
