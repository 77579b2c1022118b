package build

import (
	"strings"

	"github.com/stubuild/stu/src/core"
)

// detectStrongCycle implements spec.md §4.9: a strong cycle is a cycle in
// the *parametric rule* graph, not the instantiated target graph (an
// instance cycle like a.gz <- a.gz.gz is benign and handled by ordinary
// staleness logic instead). On inserting a new parent->child edge:
//
//   - if parent.paramRule == child.paramRule and their target kinds match,
//     that's a cycle;
//   - otherwise recurse into each of parent's own parents with the same
//     child;
//   - the Read edge from "[A]" down to "A" is exempt: the base file
//     underlying a dynamic is never a cycle with its dynamic.
func detectStrongCycle(parent, child *Execution, edgeFlags core.Flags) error {
	if edgeFlags.Has(core.Read) {
		return nil
	}
	if child.paramRule == nil || parent.paramRule == nil {
		return nil
	}
	if trace := findStrongCycle(parent, child, map[*Execution]bool{}); trace != nil {
		return buildCycleError(trace)
	}
	return nil
}

// findStrongCycle walks backwards from candidate through every chain of
// parents, looking for a node sharing child's paramRule and target kind.
// visited guards against revisiting a node already on the current search
// path (the instantiated graph may have diamonds).
func findStrongCycle(candidate, child *Execution, visited map[*Execution]bool) []*Execution {
	if visited[candidate] {
		return nil
	}
	visited[candidate] = true
	if candidate.paramRule == child.paramRule && candidate.target.Kind == child.target.Kind {
		return []*Execution{candidate}
	}
	for p := range candidate.parents {
		if trace := findStrongCycle(p, child, visited); trace != nil {
			return append(trace, candidate)
		}
	}
	return nil
}

// buildCycleError renders the "target must not depend on itself" (length-1)
// or "cyclic dependency" (longer) diagnostic, per spec.md §4.9.
func buildCycleError(trace []*Execution) error {
	names := make([]string, len(trace))
	for i, e := range trace {
		names[i] = e.target.String()
	}
	if len(trace) <= 1 {
		return core.NewLogicalError(core.NoPlace, "%s must not depend on itself", names[0])
	}
	return core.NewLogicalError(core.NoPlace, "cyclic dependency: %s", strings.Join(names, " -> "))
}
