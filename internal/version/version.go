// Package version carries build identity, overridable at link time.
package version

import "fmt"

var (
	// Version is the semantic version of this build.
	Version = "0.4.0"

	// Commit is the VCS revision, set via -ldflags.
	Commit = "dev"

	// Date is the build date, set via -ldflags.
	Date = "unknown"
)

// Short returns just the version number.
func Short() string {
	return Version
}

// Full returns the version with build metadata.
func Full() string {
	return fmt.Sprintf("%s (%s, built %s)", Version, Commit, Date)
}
