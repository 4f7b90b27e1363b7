//go:build darwin

// macOS has no in-tree hardware backend: the Secure Enclave belongs to
// the platform secure-storage provider, an external collaborator this
// package only consumes through the PUFProvider interface. Detection
// reports unavailable and callers fall back to the software PUF.

package keyhierarchy

import "errors"

var ErrSecureEnclaveNotAvailable = errors.New("keyhierarchy: Secure Enclave not available")

// DetectHardwarePUF reports that no in-process hardware backend exists
// on macOS; GetOrCreatePUF then uses the software PUF.
func DetectHardwarePUF() (PUFProvider, error) {
	return nil, ErrSecureEnclaveNotAvailable
}
