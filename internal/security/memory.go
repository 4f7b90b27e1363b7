// Package security holds the shared hardening helpers the rest of the
// tree leans on: secret zeroization, constant-time comparison, atomic
// secret-file writes, path validation, log redaction, and process
// environment lockdown.
package security

import (
	"crypto/subtle"
	"runtime"
)

// Wipe overwrites the slice with zeros. The explicit loop plus
// KeepAlive barrier keeps the compiler from eliding the writes.
func Wipe(data []byte) {
	if len(data) == 0 {
		return
	}
	for i := range data {
		data[i] = 0
	}
	runtime.KeepAlive(data)
}

// ConstantTimeCompare reports equality without a data-dependent early
// exit, for MACs and other secret-derived values.
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
