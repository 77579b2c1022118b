// Package watch implements SPEC_FULL.md §E's supplemented "-w" mode: after
// a build completes, watch the leaf source files it read and re-run the
// build whenever one changes. stu.cc has no such mode; this is a
// generalization of the teacher's own src/watch package (grounded there),
// retargeted from please's core.BuildState/BuildGraph to this engine's
// build.Scheduler/core.Dep model.
package watch

import (
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stubuild/stu/internal/logging"
	"github.com/stubuild/stu/src/build"
	"github.com/stubuild/stu/src/core"
)

var log = logging.Log

const debounceInterval = 50 * time.Millisecond

// BuildFunc runs one build attempt against a freshly constructed Scheduler
// (a Scheduler's caches are only valid for a single run, spec.md §3
// "Executions are never freed", so Watch needs a fresh one per rebuild)
// and returns the Scheduler actually used, so Watch can read back the
// source-file set its rule evaluation touched.
type BuildFunc func(deps []core.Dep) (*build.Scheduler, error)

// Watch runs build once to establish the initial source-file set, then
// blocks rebuilding deps via build whenever fsnotify reports a change to
// any of them. It returns only on an unrecoverable watcher setup error.
func Watch(deps []core.Dep, buildFn BuildFunc) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	watched := map[string]bool{}
	rebuild := func() {
		sched, err := buildFn(deps)
		if err != nil {
			log.Warning("build failed: %s", err)
		}
		if sched == nil {
			return
		}
		for _, f := range sched.SourceFiles() {
			if !watched[f] {
				watched[f] = true
				if err := watcher.Add(f); err != nil {
					log.Warning("failed to watch %s: %s", f, err)
				}
			}
		}
	}

	rebuild()
	log.Notice("watching %d source file(s) for changes", len(watched))

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			log.Info("%s changed, rebuilding", event.Name)
			drain(watcher.Events)
			rebuild()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warning("watch error: %s", err)
		}
	}
}

// drain discards any events queued up during the debounce window, so a
// burst of writes (e.g. an editor's save-via-rename) triggers one rebuild
// instead of several.
func drain(events chan fsnotify.Event) {
	timer := time.NewTimer(debounceInterval)
	defer timer.Stop()
	for {
		select {
		case <-events:
		case <-timer.C:
			return
		}
	}
}
