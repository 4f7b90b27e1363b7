//go:build !darwin && !linux && !windows

// Platforms without a hardware backend use the software PUF only.

package keyhierarchy

import "errors"

var ErrNoHardwarePUF = errors.New("keyhierarchy: no hardware PUF available on this platform")

// DetectHardwarePUF reports that no hardware backend exists here.
func DetectHardwarePUF() (PUFProvider, error) {
	return nil, ErrNoHardwarePUF
}
