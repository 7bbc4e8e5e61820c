// Package version holds the devkernel build version string.
package version

// Version is the devkernel release version, overridable at build time via
// -ldflags "-X github.com/vsavkov/devkernel/internal/version.Version=...".
var Version = "dev"
