package build

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stubuild/stu/src/core"
)

// chdir switches the process into dir for the duration of the test and
// restores the previous working directory on cleanup; Job.Start resolves
// command paths (and this test's targets) relative to cwd.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func fileDep(name string, flags core.Flags) core.Dep {
	return core.NewPlainDep(flags, [3]core.Place{}, core.NewFileTarget(name))
}

func TestBuildBasicRebuild(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile("in", []byte("hello"), 0644))

	rs := core.NewStaticRuleSet()
	rs.AddRule(&core.Rule{
		Targets:       []core.Target{core.NewFileTarget("out")},
		Deps:          []core.Dep{fileDep("in", 0)},
		Command:       "cp in out",
		CommandKind:   core.Shell,
		RedirectIndex: -1,
	})

	sched := NewScheduler(Options{Rules: rs, JobSlots: 1})
	err := sched.Build([]core.Dep{fileDep("out", 0)})
	require.NoError(t, err)

	data, err := os.ReadFile("out")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.EqualValues(t, 1, sched.Stats().Executed)
	assert.EqualValues(t, 1, sched.Stats().Success)
}

func TestBuildSkipsUpToDateTarget(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile("in", []byte("hello"), 0644))

	newRules := func() core.RuleSet {
		rs := core.NewStaticRuleSet()
		rs.AddRule(&core.Rule{
			Targets:       []core.Target{core.NewFileTarget("out")},
			Deps:          []core.Dep{fileDep("in", 0)},
			Command:       "cp in out",
			CommandKind:   core.Shell,
			RedirectIndex: -1,
		})
		return rs
	}

	first := NewScheduler(Options{Rules: newRules(), JobSlots: 1})
	require.NoError(t, first.Build([]core.Dep{fileDep("out", 0)}))
	require.EqualValues(t, 1, first.Stats().Executed)

	second := NewScheduler(Options{Rules: newRules(), JobSlots: 1})
	require.NoError(t, second.Build([]core.Dep{fileDep("out", 0)}))
	assert.EqualValues(t, 0, second.Stats().Executed, "up-to-date target must not be rebuilt")
}

func TestBuildRebuildsWhenDependencyIsNewer(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile("in", []byte("v1"), 0644))

	newRules := func() core.RuleSet {
		rs := core.NewStaticRuleSet()
		rs.AddRule(&core.Rule{
			Targets:       []core.Target{core.NewFileTarget("out")},
			Deps:          []core.Dep{fileDep("in", 0)},
			Command:       "cp in out",
			CommandKind:   core.Shell,
			RedirectIndex: -1,
		})
		return rs
	}

	first := NewScheduler(Options{Rules: newRules(), JobSlots: 1})
	require.NoError(t, first.Build([]core.Dep{fileDep("out", 0)}))

	// Make "in" look newer than "out" without relying on filesystem mtime
	// precision or wall-clock sleeps.
	outInfo, err := os.Stat("out")
	require.NoError(t, err)
	newer := outInfo.ModTime().Add(time.Hour)
	require.NoError(t, os.Chtimes("in", newer, newer))
	require.NoError(t, os.WriteFile("in", []byte("v2"), 0644))
	require.NoError(t, os.Chtimes("in", newer, newer))

	second := NewScheduler(Options{Rules: newRules(), JobSlots: 1})
	require.NoError(t, second.Build([]core.Dep{fileDep("out", 0)}))
	assert.EqualValues(t, 1, second.Stats().Executed, "stale target must be rebuilt")

	data, err := os.ReadFile("out")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestBuildOptionalDependencyMissingIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	rs := core.NewStaticRuleSet()
	rs.AddRule(&core.Rule{
		Targets:       []core.Target{core.NewFileTarget("out")},
		Deps:          []core.Dep{fileDep("missing.txt", core.Optional)},
		Command:       "touch out",
		CommandKind:   core.Shell,
		RedirectIndex: -1,
	})

	sched := NewScheduler(Options{Rules: rs, JobSlots: 1})
	err := sched.Build([]core.Dep{fileDep("out", 0)})
	require.NoError(t, err)
	_, statErr := os.Stat("out")
	assert.NoError(t, statErr)
}

func TestBuildMissingNonOptionalDependencyIsBuildError(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	rs := core.NewStaticRuleSet()
	rs.AddRule(&core.Rule{
		Targets:       []core.Target{core.NewFileTarget("out")},
		Deps:          []core.Dep{fileDep("missing.txt", 0)},
		Command:       "touch out",
		CommandKind:   core.Shell,
		RedirectIndex: -1,
	})

	sched := NewScheduler(Options{Rules: rs, JobSlots: 1, KeepGoing: true})
	err := sched.Build([]core.Dep{fileDep("out", 0)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
	assert.NotEqual(t, 0, sched.ExitCode())
}

func TestBuildAbortsSiblingsOnFirstFailureWithoutKeepGoing(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	rs := core.NewStaticRuleSet()
	rs.AddRule(&core.Rule{
		Targets:       []core.Target{core.NewFileTarget("bad")},
		Command:       "exit 7",
		CommandKind:   core.Shell,
		RedirectIndex: -1,
	})
	for _, name := range []string{"slow1", "slow2", "slow3"} {
		rs.AddRule(&core.Rule{
			Targets:       []core.Target{core.NewFileTarget(name)},
			Command:       "sleep 2 && touch " + name,
			CommandKind:   core.Shell,
			RedirectIndex: -1,
		})
	}

	sched := NewScheduler(Options{Rules: rs, JobSlots: 4})
	start := time.Now()
	err := sched.Build([]core.Dep{
		fileDep("bad", 0), fileDep("slow1", 0), fileDep("slow2", 0), fileDep("slow3", 0),
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit code 7")
	assert.Less(t, elapsed, 1500*time.Millisecond,
		"a failure without -k must terminate sibling jobs immediately rather than waiting out their full 2s sleep")

	for _, name := range []string{"slow1", "slow2", "slow3"} {
		_, statErr := os.Stat(name)
		assert.Truef(t, os.IsNotExist(statErr), "%s should have been killed before its command finished", name)
	}
}

func TestBuildDetectsSelfDependencyCycle(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	rs := core.NewStaticRuleSet()
	rs.AddRule(&core.Rule{
		Targets:       []core.Target{core.NewFileTarget("a")},
		Deps:          []core.Dep{fileDep("a", 0)},
		Command:       "true",
		CommandKind:   core.Shell,
		RedirectIndex: -1,
	})

	sched := NewScheduler(Options{Rules: rs, JobSlots: 1})
	err := sched.Build([]core.Dep{fileDep("a", 0)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not depend on itself")
}

func TestBuildHardcodedRuleWritesContentDirectly(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	rs := core.NewStaticRuleSet()
	rs.AddRule(&core.Rule{
		Targets:       []core.Target{core.NewFileTarget("gen.txt")},
		Command:       "generated content\n",
		CommandKind:   core.Hardcoded,
		RedirectIndex: -1,
	})

	sched := NewScheduler(Options{Rules: rs, JobSlots: 1})
	require.NoError(t, sched.Build([]core.Dep{fileDep("gen.txt", 0)}))

	data, err := os.ReadFile(filepath.Join(dir, "gen.txt"))
	require.NoError(t, err)
	assert.Equal(t, "generated content\n", string(data))
}

func TestSchedulerSourceFiles(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile("in", []byte("hello"), 0644))

	rs := core.NewStaticRuleSet()
	rs.AddRule(&core.Rule{
		Targets:       []core.Target{core.NewFileTarget("out")},
		Deps:          []core.Dep{fileDep("in", 0)},
		Command:       "cp in out",
		CommandKind:   core.Shell,
		RedirectIndex: -1,
	})

	sched := NewScheduler(Options{Rules: rs, JobSlots: 1})
	require.NoError(t, sched.Build([]core.Dep{fileDep("out", 0)}))

	assert.Contains(t, sched.SourceFiles(), "in")
	assert.NotContains(t, sched.SourceFiles(), "out")
}
