// Package version holds the build-time identity stamped into the binary
// via -ldflags, logged once at startup in place of original_source's
// PackageInfo.pip_package_name debug line.
package version

var (
	// Version is the tagged release, overwritten by -ldflags at build time.
	Version = "dev"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)

// String renders the three fields the way startup logging wants them.
func String() string {
	return Version + " (" + Commit + ", " + Date + ")"
}
