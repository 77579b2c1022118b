package core

import (
	"github.com/stubuild/stu/internal/stuerr"
)

// NewBuildError reports a Build-kind error (spec.md §7): a command failed,
// a non-optional file is missing, or I/O on a project file failed.
func NewBuildError(place Place, target, format string, args ...interface{}) *stuerr.Error {
	return stuerr.New(stuerr.Build, place, target, format, args...)
}

// NewLogicalError reports a Logical-kind error: rule conflicts, cycles, or
// a post-parse constraint violation (e.g. a recursion limit).
func NewLogicalError(place Place, format string, args ...interface{}) *stuerr.Error {
	return stuerr.New(stuerr.Logical, place, "", format, args...)
}

// NewSystemError reports a System-kind error: resource exhaustion or an
// exec failure in the child path.
func NewSystemError(place Place, target, format string, args ...interface{}) *stuerr.Error {
	return stuerr.New(stuerr.System, place, target, format, args...)
}

// NewFatalError reports a Fatal-kind error, which bypasses even cleanup
// statistics (spec.md §7).
func NewFatalError(format string, args ...interface{}) *stuerr.Error {
	return stuerr.New(stuerr.Fatal, NoPlace, "", format, args...)
}
