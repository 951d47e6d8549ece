//go:build amd64 && linux && ia2insecure

package pkru

// Under the ia2insecure build tag, PKRU modification is stubbed out: Load
// still reads the real register so callers observe correct state, but
// Store is a no-op so debug builds never actually restrict a thread's
// access. The register-scrub routine is unaffected by this tag; only PKRU
// writes are bypassed.
func rdpkru() uint32

// Load reads the calling thread's current PKRU value.
func Load() (PKRU, error) {
	return PKRU(rdpkru()), nil
}

// Store is a no-op under ia2insecure.
func (p PKRU) Store() error {
	return nil
}
