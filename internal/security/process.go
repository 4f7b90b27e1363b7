package security

import "os"

// SecureEnvironment hardens the process environment before any key
// material is loaded: clears loader-injection variables, tightens the
// umask, and pins a known locale.
func SecureEnvironment() error {
	sensitiveVars := []string{
		"LD_PRELOAD",
		"LD_LIBRARY_PATH",
		"DYLD_INSERT_LIBRARIES",
		"DYLD_LIBRARY_PATH",
		"IFS",
		"CDPATH",
		"ENV",
		"BASH_ENV",
	}
	for _, v := range sensitiveVars {
		os.Unsetenv(v)
	}

	setUmask(0077)

	os.Setenv("LC_ALL", "C.UTF-8")
	os.Setenv("LANG", "C.UTF-8")
	return nil
}

// DisableCoreDumps keeps a crash from writing process memory, which
// holds live signing keys, to disk.
func DisableCoreDumps() error {
	return disableCoreDumps()
}
