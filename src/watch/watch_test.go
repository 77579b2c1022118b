package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stubuild/stu/src/build"
	"github.com/stubuild/stu/src/core"
)

func TestDrainDiscardsBurstedEvents(t *testing.T) {
	events := make(chan fsnotify.Event, 8)
	for i := 0; i < 5; i++ {
		events <- fsnotify.Event{Name: "x", Op: fsnotify.Write}
	}
	done := make(chan struct{})
	go func() {
		drain(events)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drain did not return within the debounce window")
	}
	assert.Empty(t, events, "drain must consume every event queued during the debounce window")
}

func TestWatchRebuildsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in")
	require.NoError(t, os.WriteFile(src, []byte("v1"), 0644))

	rs := core.NewStaticRuleSet()
	rs.AddRule(&core.Rule{
		Targets:       []core.Target{core.NewFileTarget("out")},
		Deps:          []core.Dep{core.NewPlainDep(0, [3]core.Place{}, core.NewFileTarget(src))},
		Command:       "true",
		CommandKind:   core.Shell,
		RedirectIndex: -1,
	})

	builds := make(chan *build.Scheduler, 8)
	buildFn := func(deps []core.Dep) (*build.Scheduler, error) {
		sched := build.NewScheduler(build.Options{Rules: rs, JobSlots: 1})
		err := sched.Build(deps)
		builds <- sched
		return sched, err
	}

	go func() {
		_ = Watch([]core.Dep{core.NewPlainDep(0, [3]core.Place{}, core.NewFileTarget("out"))}, buildFn)
	}()

	select {
	case <-builds:
	case <-time.After(2 * time.Second):
		t.Fatal("initial build never ran")
	}

	require.NoError(t, os.WriteFile(src, []byte("v2"), 0644))

	select {
	case <-builds:
	case <-time.After(2 * time.Second):
		t.Fatal("file change did not trigger a rebuild")
	}
}
