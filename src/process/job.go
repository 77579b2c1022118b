// Package process implements the subprocess lifecycle of spec.md §4.7: a
// Job forks/execs exactly one command into its own process group so it
// (and anything it spawns) can be killed as a unit, assembles the child's
// environment by overlaying parameter/variable bindings onto the parent's,
// and reports success/failure the way Job::waited does in the original.
//
// This mirrors the teacher's own src/process package in spirit (an
// Executor that owns a registry of running *exec.Cmd and can kill them all
// at exit) but is scoped down to spec.md's single-command-per-Job model
// rather than the teacher's generic timeout/sandboxing executor.
package process

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"

	"github.com/alessio/shellescape"

	"github.com/stubuild/stu/internal/logging"
)

var log = logging.Log

// pidState mirrors Job::pid's three-state encoding from job.hh: notStarted,
// then a real pid once started, then waited.
type pidState int

const (
	notStarted pidState = -2
	waited     pidState = -1
)

// Job represents the subprocess used to build one target (spec.md §3,
// §4.7). Use NewJob to construct one; the zero Job is not usable since Go
// zero-initializes pid to 0, a valid-looking pid, rather than "not started".
type Job struct {
	pid pidState
	cmd *exec.Cmd
}

// NewJob returns a Job in the "not yet started" state.
func NewJob() *Job { return &Job{pid: notStarted} }

// Started reports whether Start has been called (whether or not the
// process has since been waited for).
func (j *Job) Started() bool { return j.pid >= 0 || j.pid == waited }

// StartedOrWaited is the §4.4 step 11 "already started" check: true once
// Start has ever been called on this Job.
func (j *Job) StartedOrWaited() bool { return j.Started() }

// Waiting reports whether the process has been started but not yet waited for.
func (j *Job) Waiting() bool { return j.pid >= 0 }

// PID returns the process's pid. Panics if the job was never started, the
// same contract as Job::get_pid's assertion.
func (j *Job) PID() int {
	if j.pid < 0 {
		panic("process: PID called on a Job that was never started")
	}
	return int(j.pid)
}

// Place is the source location of the command, used only to build argv[0]
// ("<file>:<line>") the way the shell's own diagnostics expect (spec.md §6).
type Place interface {
	String() string
}

// Start forks and execs command through the configured shell into its own
// process group (spec.md §4.7 steps 1-6). outputRedirect/inputRedirect are
// paths to open on fd 1/fd 0, or "" for no redirection. Returns the PID on
// success.
func (j *Job) Start(command string, env map[string]string, outputRedirect, inputRedirect string, place Place) (int, error) {
	if j.pid != notStarted {
		panic("process: Start called twice on the same Job")
	}
	shell := Shell()

	var stdin *os.File
	if inputRedirect != "" {
		f, err := os.Open(inputRedirect)
		if err != nil {
			return -1, fmt.Errorf("opening input redirection %s: %w", inputRedirect, err)
		}
		stdin = f
	}

	argv0 := place.String()
	args := []string{"-e", "-c", command}
	if strings.HasPrefix(command, "-") || strings.HasPrefix(command, "+") {
		args = []string{"-e", "-c", "--", command}
	}
	cmd := exec.Command(shell, args...)
	cmd.Args[0] = argv0

	cmd.Env = mergeEnv(os.Environ(), env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if stdin != nil {
		cmd.Stdin = stdin
		defer stdin.Close()
	} else {
		cmd.Stdin = os.Stdin
	}
	cmd.Stderr = os.Stderr

	if outputRedirect != "" {
		f, err := os.OpenFile(outputRedirect, os.O_WRONLY|os.O_CREAT|os.O_TRUNC, 0600)
		if err != nil {
			return -1, fmt.Errorf("opening output redirection %s: %w", outputRedirect, err)
		}
		defer f.Close()
		cmd.Stdout = f
	} else {
		cmd.Stdout = os.Stdout
	}

	log.Debug("executing %s: %s", shellescape.Quote(argv0), command)

	if err := cmd.Start(); err != nil {
		return -1, err
	}
	j.cmd = cmd
	j.pid = pidState(cmd.Process.Pid)
	return cmd.Process.Pid, nil
}

// Wait blocks until this job's process exits. success mirrors Job::waited's
// test (WIFEXITED && WEXITSTATUS == 0); detail renders the failure the way
// spec.md §7 asks user-visible output to ("failed with exit code N" /
// "received signal NAME"), empty when success is true.
func (j *Job) Wait() (success bool, detail string, err error) {
	if j.pid < 0 {
		panic("process: Wait called on a Job that was never started")
	}
	err = j.cmd.Wait()
	j.pid = waited
	if err == nil {
		return true, "", nil
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return false, fmt.Sprintf("received signal %s", ws.Signal()), nil
		}
		return false, fmt.Sprintf("failed with exit code %d", exitErr.ExitCode()), nil
	}
	return false, "", err
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// mergeEnv clones base and overlays additions, the way job.hh walks
// envp_global and replaces or appends each mapping entry, finally adding
// STU_STATUS=1.
func mergeEnv(base []string, additions map[string]string) []string {
	index := make(map[string]int, len(base))
	out := append([]string(nil), base...)
	for i, kv := range out {
		if eq := strings.IndexByte(kv, '='); eq >= 0 {
			index[kv[:eq]] = i
		}
	}
	keys := make([]string, 0, len(additions))
	for k := range additions {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic argv/env for reproducible debug output
	for _, k := range keys {
		kv := k + "=" + additions[k]
		if i, ok := index[k]; ok {
			out[i] = kv
		} else {
			out = append(out, kv)
			index[k] = len(out) - 1
		}
	}
	out = append(out, "STU_STATUS=1")
	return out
}

// Shell returns the shell binary: $STU_SHELL if set and non-empty, else
// /bin/sh (spec.md §4.7 step 1, §6 "Environment inputs read by core").
// The environment is read again on every call; nothing is cached.
func Shell() string {
	if s := os.Getenv("STU_SHELL"); s != "" {
		return s
	}
	return "/bin/sh"
}

// CheckNotRecursive refuses to run if $STU_STATUS is already set, the
// "recursive invocation" fatal condition of spec.md §6.
func CheckNotRecursive() error {
	if os.Getenv("STU_STATUS") != "" {
		return fmt.Errorf("process: refusing recursive invocation ($STU_STATUS is already set)")
	}
	return nil
}
