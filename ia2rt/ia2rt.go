// Package ia2rt wires the process-wide singletons — the key-slot table,
// the memory-map shadow, and the type registry — into a single aggregate
// a demonstration binary can construct once and pass around. It's named
// ia2rt rather than runtime to avoid colliding with the Go standard
// library package of that name; each subsystem it wraps remains
// independently constructible and testable on its own.
package ia2rt

import (
	"mpkcompart/compartment"
	"mpkcompart/memmap"
	"mpkcompart/tracer"
	"mpkcompart/typeregistry"
)

// Runtime is the aggregate of every process-wide structure a compartment
// boundary touches.
type Runtime struct {
	Slots  *compartment.Table
	Shadow *memmap.Map
	Tracer *tracer.Policy
	Types  *typeregistry.Registry
}

// New constructs a fresh Runtime: an empty key-slot table, an empty
// memory-map shadow wrapped in a tracer policy, and an empty type
// registry.
func New() (*Runtime, error) {
	slots, err := compartment.New()
	if err != nil {
		return nil, err
	}
	shadow := memmap.New()
	return &Runtime{
		Slots:  slots,
		Shadow: shadow,
		Tracer: tracer.New(shadow),
		Types:  typeregistry.New(),
	}, nil
}

// MarkInitFinished flips the memory-map shadow's init_finished flag,
// switching the pkey_mprotect monotonicity policy from "initialization in
// progress" to "steady state", and should be called once every
// compartment the process will ever create has called Init.
func (r *Runtime) MarkInitFinished() bool {
	return r.Shadow.MarkInitFinished()
}

// Shutdown drains the type registry, logging any pointer a compartment
// constructed but never destructed.
func (r *Runtime) Shutdown() {
	r.Types.Drain()
}
