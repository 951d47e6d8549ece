// Package scrub wraps the register-scrub routine invoked between a call
// gate's PKRU flip and the actual call into the callee compartment. The
// routine itself is treated as an opaque external collaborator per the
// out-of-scope list: on amd64 it zeros AX, BX, CX, DX, SI, DI, R8-R11
// and X0-X3 (the other vector registers are left untouched), and must be
// called with no live values the caller still needs.
package scrub
