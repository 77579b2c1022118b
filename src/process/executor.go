package process

import (
	"os"
	"sync"
	"syscall"
)

// cleanupEntry is what the signal handler needs to know about one running
// job in order to terminate it and remove its partial output: the process
// group to kill, and (if any) the file to remove if it exists.
type cleanupEntry struct {
	pgid int
	path string
}

// Executor owns the registry of currently running jobs and is the single
// place that knows how to terminate all of them on a caught signal
// (spec.md §5, §5.1). The registry itself is a plain mutex-guarded map:
// spec.md's "async-signal-safe ring buffer" design note exists because C
// signal handlers run without a scheduler and may not allocate; Go's
// signal.Notify instead delivers to an ordinary goroutine, so a mutex is
// sufficient here and we don't need the lock-free ring.
type Executor struct {
	mu      sync.Mutex
	jobs    map[int]cleanupEntry
	signals chan os.Signal
}

// NewExecutor creates an Executor with signal handling installed.
func NewExecutor() *Executor {
	e := &Executor{jobs: map[int]cleanupEntry{}}
	e.installSignalHandler()
	return e
}

// Register records that pid (whose process group is pgid, by construction
// of Start equal to pid itself) is running and building path; path is
// removed on forced termination if non-empty. Must be called with
// terminating signals logically "blocked" around fork+register -- in Go
// terms, called synchronously right after Start returns, before any
// signal-handling goroutine can observe a half-registered job.
func (e *Executor) Register(pid int, path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobs[pid] = cleanupEntry{pgid: pid, path: path}
}

// Unregister drops the bookkeeping for pid once it has been waited for.
func (e *Executor) Unregister(pid int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.jobs, pid)
}

// TerminateAll sends SIGTERM to every registered process group and removes
// their partial output files. It is the non-signal-handler entry point
// (e.g. called directly by tests); the installed handler calls the same
// async-signal-safe-flavored path.
func (e *Executor) TerminateAll() {
	e.mu.Lock()
	entries := make([]cleanupEntry, 0, len(e.jobs))
	for _, entry := range e.jobs {
		entries = append(entries, entry)
	}
	e.mu.Unlock()
	for _, entry := range entries {
		terminateEntry(entry)
	}
}

// terminateEntry kills a process group and removes its partial file. Kept
// to the primitives spec.md §5.1 calls async-signal-safe (stat/unlink/kill,
// no allocation, no stdio formatting) since this is also the function the
// signal handler goroutine calls directly.
func terminateEntry(entry cleanupEntry) {
	syscall.Kill(-entry.pgid, syscall.SIGTERM)
	if entry.path != "" {
		if _, err := os.Lstat(entry.path); err == nil {
			os.Remove(entry.path)
		}
	}
}

// installSignalHandler arranges for SIGHUP/SIGINT/SIGQUIT/SIGTERM to
// restore default disposition, kill every known process group, run
// cleanup, then re-raise the signal (spec.md §5 "Cancellation and
// timeouts").
func (e *Executor) installSignalHandler() {
	e.signals = make(chan os.Signal, 1)
	notifySignals(e.signals)
	go func() {
		sig := <-e.signals
		stopNotify(e.signals)
		e.TerminateAll()
		reraise(sig)
	}()
}
