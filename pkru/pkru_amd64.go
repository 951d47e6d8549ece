//go:build amd64 && linux && !ia2insecure

package pkru

// rdpkru and wrpkru are implemented in pkru_amd64.s. Both instructions
// use the fixed register convention the architecture defines: ecx=0 on
// both, edx=0 on write, and the PKRU word itself passed through eax.
func rdpkru() uint32
func wrpkru(val uint32)

// Load reads the calling thread's current PKRU value.
func Load() (PKRU, error) {
	return PKRU(rdpkru()), nil
}

// Store writes p into the calling thread's PKRU register. wrpkru is a
// serializing instruction, so no additional memory barrier is required
// between Store and a subsequent Load.
func (p PKRU) Store() error {
	wrpkru(uint32(p))
	return nil
}
