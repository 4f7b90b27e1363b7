//go:build unix

package security

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setUmask applies the process umask and returns the previous value.
func setUmask(mask int) int {
	return syscall.Umask(mask)
}

// disableCoreDumps zeroes RLIMIT_CORE.
func disableCoreDumps() error {
	return unix.Setrlimit(unix.RLIMIT_CORE, &unix.Rlimit{Cur: 0, Max: 0})
}
