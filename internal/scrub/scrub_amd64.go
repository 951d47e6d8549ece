//go:build amd64

package scrub

// CallerSaved zeros every caller-save register available to the scrubber.
// Gate implementations must call it after flipping PKRU and before
// transferring control to untrusted code, and must not rely on any
// register state surviving the call. Implemented in scrub_amd64.s.
func CallerSaved()
