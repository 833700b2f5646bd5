// Package version holds build version information, overridable at link
// time with -ldflags "-X ...".
package version

var (
	// Version is the semantic version of this build.
	Version = "0.1.0"

	// Commit is the git commit the binary was built from.
	Commit = "unknown"

	// Date is the build date.
	Date = "unknown"
)
