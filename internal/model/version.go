package model

import "runtime/debug"

// Version returns the version of the main module, "(devel)" for local
// builds and "unknown" without build info.
func Version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	return info.Main.Version
}
