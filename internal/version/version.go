// Package version provides the application version, set at build time via ldflags.
package version

// Version is the application version, set via ldflags at build time.
// Default is "dev" for development builds.
var Version = "dev"

// Commit is the VCS revision the binary was built from, set via ldflags.
var Commit = ""
