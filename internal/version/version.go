// Package version holds the build's own version number, reported by
// "stu --version" and embedded in diagnostic output (SPEC_FULL.md §E).
package version

import "github.com/coreos/go-semver/semver"

// Version is this build's semantic version. A real release process would
// stamp this via -ldflags; absent that, it's the interim version the
// source tree itself declares.
var Version = *semver.New("0.1.0")

// String renders the version the way "stu --version" prints it.
func String() string {
	return "stu " + Version.String()
}
