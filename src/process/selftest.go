package process

import "github.com/google/shlex"

// SplitCommand tokenizes command the way a POSIX shell would, without
// actually invoking one. It isn't used on Job's hot path -- Start always
// hands the whole command string to the configured shell intact -- but
// exists as a self-test helper so callers (and tests) can assert that a
// command built by string concatenation still splits into the argv they
// expect before ever forking a real shell over it.
func SplitCommand(command string) ([]string, error) {
	return shlex.Split(command)
}
