package build

import (
	"github.com/stubuild/stu/src/core"
	"github.com/stubuild/stu/src/process"
)

// existence is the tri-state stat() result cached on a file Execution,
// spec.md §3 "exists ∈ {-1,0,+1}".
type existence int8

const (
	existUnknown existence = 0
	existNo      existence = -1
	existYes     existence = 1
)

// Execution is one node of the live dependency graph (spec.md §3): exactly
// one per canonical Target, created on first reference and never freed for
// the lifetime of the run, since its cached decisions are what make
// revisiting a shared dependency cheap.
type Execution struct {
	target core.Target

	// rule is the instantiated rule for this target. Source files and
	// dynamic targets get a command-less placeholder (CommandKind None);
	// rule stays nil only when initialization failed.
	rule *core.Rule
	// paramRule is the pre-instantiation rule this execution was derived
	// from; used only for strong-cycle identity (spec.md §4.9). Nil when no
	// rule was found in the rule set (source files, dynamic targets, failed
	// initialization), even where rule holds a placeholder.
	paramRule *core.Rule

	parents  map[*Execution]*EdgeLabel
	children map[*Execution]bool

	bufDefault []EdgeLabel
	bufTrivial []EdgeLabel

	timestampOld Timestamp
	timestamp    Timestamp

	needBuild bool
	checked   bool
	exists    existence
	errVal    error

	mappingParameter map[string]string
	mappingVariable  map[string]string

	done core.FlagStack

	// pendingAvoid remembers the avoid stack in force when a job was
	// launched, since markDone is only called once the job's completion is
	// observed asynchronously, well after execute() itself returned.
	pendingAvoid core.FlagStack

	job *process.Job

	// optionalAbsent remembers that this target was Optional and found
	// missing, so unlink can skip dynamic-reading / variable-binding it.
	optionalAbsent bool
}

func newExecution(target core.Target) *Execution {
	return &Execution{
		target:   target,
		parents:  map[*Execution]*EdgeLabel{},
		children: map[*Execution]bool{},
		done:     flagStackAtDepth(target.Depth),
	}
}

// flagStackAtDepth returns a FlagStack already pushed to depth d, matching
// invariant 1 of spec.md §8: "done.k == target.dynamic_depth at entry and
// exit of each public call".
func flagStackAtDepth(d int) core.FlagStack {
	s := core.NewFlagStack()
	for i := 0; i < d; i++ {
		_ = s.Push()
	}
	return s
}

// finished reports whether this execution is done under the given avoid
// stack: every bit avoid doesn't already neutralize has been completed, at
// every level. This is execute()'s "early-done check" (§4.4 step 2).
func (e *Execution) finished(avoid core.FlagStack) bool {
	for j := 0; j <= e.done.K(); j++ {
		todo := core.Placed &^ avoid.Get(j)
		if e.done.Get(j)&todo != todo {
			return false
		}
	}
	return true
}

// markDone marks this execution complete at every placed bit not already
// neutralized by avoid, at every level -- the common tail of several
// execute() branches ("mark done under avoid, return").
func (e *Execution) markDone(avoid core.FlagStack) {
	for j := 0; j <= e.done.K(); j++ {
		bits := e.done.Get(j) | (core.Placed &^ avoid.Get(j))
		if j == e.done.K() {
			e.done.SetHighest(bits)
		} else {
			levelSetHelper(&e.done, j, bits)
		}
	}
}

// Graph is the arena of interned Execution nodes, keyed by Target (spec.md
// §9 "shared, cached Execution nodes with many parents"). Executions are
// never removed once created; the map itself is what gives the engine its
// per-run memoization.
type Graph struct {
	executions map[core.Target]*Execution
}

// NewGraph returns an empty execution arena.
func NewGraph() *Graph {
	return &Graph{executions: map[core.Target]*Execution{}}
}

// lookup returns the already-interned Execution for target, or nil.
func (g *Graph) lookup(target core.Target) *Execution {
	return g.executions[target]
}

// intern returns the Execution for target, allocating one if this is the
// first reference (spec.md §4.3 step 2).
func (g *Graph) intern(target core.Target) (exec *Execution, isNew bool) {
	if e, ok := g.executions[target]; ok {
		return e, false
	}
	e := newExecution(target)
	g.executions[target] = e
	return e, true
}

// levelSetHelper sets level j of s to f. core.FlagStack only lets callers
// mutate the outermost/innermost level directly, and Execution needs to set
// an arbitrary level when propagating "done" bits, so this works through
// Pop, SetHighest and Push.
func levelSetHelper(s *core.FlagStack, j int, f core.Flags) {
	// FlagStack intentionally only exposes AddLowest/AddHighest/SetHighest;
	// for arbitrary-level writes we pop down to the level, mutate via
	// SetHighest, then rebuild the levels above it.
	k := s.K()
	saved := make([]core.Flags, 0, k-j)
	for s.K() > j {
		saved = append(saved, s.GetHighest())
		s.Pop()
	}
	s.SetHighest(f)
	for i := len(saved) - 1; i >= 0; i-- {
		_ = s.Push()
		s.SetHighest(saved[i])
	}
}
