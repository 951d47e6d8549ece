//go:build !amd64

package scrub

// CallerSaved is a no-op on architectures without an assembly
// implementation. Compartmentalization itself is unsupported there (see
// pkru.ErrUnsupported), so this stub only exists to keep the package
// buildable for tooling that cross-compiles the module.
func CallerSaved() {}
